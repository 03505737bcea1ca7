// Package gateway exposes the game service over websockets: it
// authenticates and rate limits connections, turns client frames into
// service calls, acknowledges every intent and fans room events out to
// subscribed connections.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/Seednode/cardparty/internal/apperrors"
	"github.com/Seednode/cardparty/internal/game"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 8 << 10
)

// Intent types accepted from clients.
const (
	IntentCreateRoom    = "create-room"
	IntentJoinRoom      = "join-room"
	IntentLeaveRoom     = "leave-room"
	IntentStartGame     = "start-game"
	IntentSubmitAnswer  = "submit-answer"
	IntentCastVote      = "cast-vote"
	IntentUsePower      = "use-power"
	IntentAdminOverride = "admin-override"
	IntentDrawCard      = "draw-card"
)

// Intent is a frame sent by a client.
type Intent struct {
	ID       string `json:"id,omitempty"`
	Type     string `json:"type"`
	RoomID   string `json:"roomId,omitempty"`
	Category string `json:"category,omitempty"`
	Text     string `json:"text,omitempty"`
	Accept   *bool  `json:"accept,omitempty"`
	Kind     string `json:"kind,omitempty"`
}

// Ack answers exactly one Intent.
type Ack struct {
	Type    string         `json:"type"`
	ID      string         `json:"id,omitempty"`
	Intent  string         `json:"intent"`
	Success bool           `json:"success"`
	Code    apperrors.Code `json:"code,omitempty"`
	Error   string         `json:"error,omitempty"`
	Data    any            `json:"data,omitempty"`
}

// LeaveResult is the data of a leave-room acknowledgment.
type LeaveResult struct {
	RoomID    string `json:"roomId"`
	Remaining int    `json:"remaining"`
}

// Options configures a Server.
type Options struct {
	Auth        *Authenticator
	Limiter     *Limiter
	CheckOrigin func(r *http.Request) bool
	Logf        func(format string, args ...any)
}

// Server serves the websocket endpoint.
type Server struct {
	service  *game.Service
	hub      *Hub
	auth     *Authenticator
	limiter  *Limiter
	upgrader websocket.Upgrader
	logf     func(format string, args ...any)
}

// NewServer returns a Server dispatching to service and broadcasting
// through hub, which should also be the service's Publisher.
func NewServer(service *game.Service, hub *Hub, opts Options) *Server {
	logf := opts.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	return &Server{
		service: service,
		hub:     hub,
		auth:    opts.Auth,
		limiter: opts.Limiter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		logf: logf,
	}
}

// ServeWS upgrades an authenticated request and runs the connection until
// the client goes away.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ip := ClientIP(r)
	if !s.limiter.Allow(ip) {
		WriteError(w, apperrors.New(apperrors.CodeRateLimit, "too many connections, slow down"))
		return
	}

	user, err := s.auth.Authenticate(r.Context(), r)
	if err != nil {
		s.logf("GAMES: Rejected connection from %s: %v", ip, err)
		WriteError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logf("ERROR: Upgrading connection from %s: %v", ip, err)
		return
	}

	client := newClient(conn, user)
	s.hub.register(client)
	s.logf("GAMES: %s (%s) connected from %s", user.Username, user.ID, ip)

	go client.writePump()
	s.readPump(r.Context(), client)

	s.logf("GAMES: %s (%s) disconnected", user.Username, user.ID)
}

// ServeRoom reports the current state of a room as JSON.
func (s *Server) ServeRoom(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if _, err := s.auth.Authenticate(r.Context(), r); err != nil {
		WriteError(w, err)
		return
	}

	state, err := s.service.RoomSnapshot(r.Context(), ps.ByName("roomid"))
	if err != nil {
		WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(state)
}

func (s *Server) readPump(ctx context.Context, c *Client) {
	defer func() {
		s.hub.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var intent Intent
		if err := json.Unmarshal(data, &intent); err != nil {
			s.acknowledge(c, intent, nil, apperrors.Wrap(apperrors.CodeInvalidArgument, "malformed frame", err))
			continue
		}

		result, err := s.dispatch(ctx, c, intent)
		s.acknowledge(c, intent, result, err)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

func (s *Server) dispatch(ctx context.Context, c *Client, in Intent) (any, error) {
	userID := c.user.ID

	switch in.Type {
	case IntentCreateRoom:
		view, err := s.service.CreateRoom(ctx, userID, in.Category)
		if err != nil {
			return nil, err
		}
		s.hub.subscribe(c, view.ID)
		return view, nil

	case IntentJoinRoom:
		view, err := s.service.JoinRoom(ctx, userID, in.RoomID)
		if err != nil {
			return nil, err
		}
		s.hub.subscribe(c, view.ID)
		return view, nil

	case IntentLeaveRoom:
		remaining, err := s.service.LeaveRoom(ctx, userID, in.RoomID)
		if err != nil {
			return nil, err
		}
		s.hub.unsubscribe(c, in.RoomID)
		return LeaveResult{RoomID: in.RoomID, Remaining: remaining}, nil

	case IntentStartGame:
		return s.service.StartGame(ctx, userID, in.RoomID)

	case IntentSubmitAnswer:
		return nil, s.service.SubmitAnswer(ctx, userID, in.RoomID, in.Text)

	case IntentCastVote:
		if in.Accept == nil {
			return nil, apperrors.New(apperrors.CodeInvalidArgument, "accept is required")
		}
		return s.service.CastVote(ctx, userID, in.RoomID, *in.Accept)

	case IntentUsePower:
		return s.service.UsePower(ctx, userID, in.RoomID, in.Kind)

	case IntentAdminOverride:
		if in.Accept == nil {
			return nil, apperrors.New(apperrors.CodeInvalidArgument, "accept is required")
		}
		return s.service.AdminOverride(ctx, userID, in.RoomID, *in.Accept)

	case IntentDrawCard:
		return s.service.DrawCard(ctx, userID, in.RoomID)

	default:
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "unknown intent "+in.Type)
	}
}

func (s *Server) acknowledge(c *Client, in Intent, result any, err error) {
	ack := Ack{Type: "ack", ID: in.ID, Intent: in.Type, Success: err == nil, Data: result}
	if err != nil {
		ack.Data = nil
		ack.Code, ack.Error = s.describe(err)
		if ack.Code == apperrors.CodeInternal {
			s.logf("ERROR: %s by %s in room %s: %v", in.Type, c.user.ID, in.RoomID, err)
		}
	}
	s.hub.deliver(c, ack)
}

// describe returns the code and client-facing message of an error. Internal
// failures are not described to clients.
func (s *Server) describe(err error) (apperrors.Code, string) {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) && appErr.Code != apperrors.CodeInternal {
		return appErr.Code, appErr.Message
	}
	return apperrors.CodeInternal, "internal error"
}

type errorBody struct {
	Success bool           `json:"success"`
	Code    apperrors.Code `json:"code"`
	Error   string         `json:"error"`
}

// WriteError replies with the JSON error body and the HTTP status of err's
// code. Internal failures are reported without detail.
func WriteError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	message := "internal error"
	var appErr *apperrors.Error
	if errors.As(err, &appErr) && code != apperrors.CodeInternal {
		message = appErr.Message
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code.HTTPStatus())
	_ = json.NewEncoder(w).Encode(errorBody{Code: code, Error: message})
}
