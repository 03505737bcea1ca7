package session

import (
	"math/rand/v2"
	"sync"
)

// Registry maps room ids to their Session. It has no eviction timer:
// sessions leave only through Remove or Close.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	newRand  func() *rand.Rand
}

// NewRegistry returns an empty registry. newRand supplies each new Session's
// generator; nil uses NewRand.
func NewRegistry(newRand func() *rand.Rand) *Registry {
	if newRand == nil {
		newRand = NewRand
	}
	return &Registry{
		sessions: make(map[string]*Session),
		newRand:  newRand,
	}
}

// Get returns the room's Session, creating and storing an uninitialized one
// if none exists. Concurrent first calls for a room see the same Session.
func (r *Registry) Get(roomID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[roomID]; ok {
		return s
	}

	s := New(roomID, r.newRand())
	r.sessions[roomID] = s
	return s
}

// Lookup returns the room's Session without creating one.
func (r *Registry) Lookup(roomID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[roomID]
	return s, ok
}

// Remove evicts the room's Session. It reports whether a Session was
// present, so exactly one caller observes the eviction.
func (r *Registry) Remove(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[roomID]; !ok {
		return false
	}
	delete(r.sessions, roomID)
	return true
}

// Discard evicts the room's entry only if it is still sess. It reports
// whether sess was removed.
func (r *Registry) Discard(roomID string, sess *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.sessions[roomID]; !ok || cur != sess {
		return false
	}
	delete(r.sessions, roomID)
	return true
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.sessions)
}

// Close evicts every session.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	clear(r.sessions)
}
