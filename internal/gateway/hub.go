package gateway

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/Seednode/cardparty/internal/game"
	"github.com/Seednode/cardparty/internal/storage"
)

const sendBuffer = 32

// Client is one authenticated websocket connection.
type Client struct {
	conn *websocket.Conn
	send chan any
	user storage.User

	// guarded by Hub.mu
	rooms  map[string]bool
	closed bool
}

func newClient(conn *websocket.Conn, user storage.User) *Client {
	return &Client{
		conn:  conn,
		send:  make(chan any, sendBuffer),
		user:  user,
		rooms: make(map[string]bool),
	}
}

// Hub fans room events out to the clients subscribed to each room.
type Hub struct {
	mu      sync.Mutex
	clients map[*Client]bool
	rooms   map[string]map[*Client]bool
	logf    func(format string, args ...any)
}

// NewHub returns an empty Hub.
func NewHub(logf func(format string, args ...any)) *Hub {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Hub{
		clients: make(map[*Client]bool),
		rooms:   make(map[string]map[*Client]bool),
		logf:    logf,
	}
}

// Publish implements game.Publisher. It never blocks: a client whose send
// buffer is full is disconnected.
func (h *Hub) Publish(roomID string, event game.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.rooms[roomID] {
		h.deliverLocked(c, event)
	}
}

// Subscribers returns the number of clients subscribed to a room.
func (h *Hub) Subscribers(roomID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.rooms[roomID])
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		h.dropLocked(c)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c] = true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.dropLocked(c)
}

func (h *Hub) subscribe(c *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.closed {
		return
	}
	subs, ok := h.rooms[roomID]
	if !ok {
		subs = make(map[*Client]bool)
		h.rooms[roomID] = subs
	}
	subs[c] = true
	c.rooms[roomID] = true
}

func (h *Hub) unsubscribe(c *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.unsubscribeLocked(c, roomID)
}

func (h *Hub) unsubscribeLocked(c *Client, roomID string) {
	delete(c.rooms, roomID)
	if subs, ok := h.rooms[roomID]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// deliver queues a message for one client.
func (h *Hub) deliver(c *Client, msg any) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.deliverLocked(c, msg)
}

func (h *Hub) deliverLocked(c *Client, msg any) bool {
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		h.logf("GAMES: Dropping slow client %s", c.user.ID)
		h.dropLocked(c)
		return false
	}
}

// dropLocked detaches a client and closes its send channel, which ends its
// write pump and with it the connection.
func (h *Hub) dropLocked(c *Client) {
	if c.closed {
		return
	}
	for roomID := range c.rooms {
		h.unsubscribeLocked(c, roomID)
	}
	delete(h.clients, c)
	close(c.send)
	c.closed = true
}
