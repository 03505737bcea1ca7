// Package game glues the session engine to the persistent store. It
// validates client intents, runs every room-scoped intent inside that room's
// critical section and publishes the resulting room events.
package game

import (
	"context"
	"errors"

	"golang.org/x/text/language"

	"github.com/Seednode/cardparty/internal/apperrors"
	"github.com/Seednode/cardparty/internal/session"
	"github.com/Seednode/cardparty/internal/storage"
)

// Store is the persistence the service needs.
type Store interface {
	session.Store

	RegularCardIDs(ctx context.Context, categoryID string) ([]string, error)
	ListQuestions(ctx context.Context, categoryID string) ([]storage.Question, error)
	CardsByIDs(ctx context.Context, ids []string) ([]storage.Card, error)
	GetUser(ctx context.Context, id string) (storage.User, error)
	GetCategory(ctx context.Context, id string) (storage.Category, error)

	CreateRoom(ctx context.Context, room storage.Room) (storage.Room, error)
	GetRoom(ctx context.Context, id string) (storage.Room, error)
	GetRoomByCode(ctx context.Context, code string) (storage.Room, error)
	ListRoomPlayers(ctx context.Context, roomID string) ([]storage.PlayerRoom, error)
	AddPlayer(ctx context.Context, roomID, userID string, maxPlayers int) (storage.PlayerRoom, error)
	RemovePlayer(ctx context.Context, roomID, userID string) (int, error)
	SetRoomState(ctx context.Context, roomID string, state storage.RoomState) error
	HasPowerUsage(ctx context.Context, roomID, userID string) (bool, error)
}

// Publisher delivers room events to the room's subscribers. Publish is
// called while the room's critical section is held and must not block.
type Publisher interface {
	Publish(roomID string, event Event)
}

// Config holds the game rules the service enforces.
type Config struct {
	MinPlayers int
	MaxPlayers int
	RoundGoal  int
	HandSize   int
	Locale     language.Tag
	Logf       func(format string, args ...any)
}

const (
	defaultMinPlayers = 3
	defaultMaxPlayers = 8
	defaultRoundGoal  = 5
	defaultHandSize   = 5

	maxAnswerLength = 500
	roomCodeRetries = 16
)

// Service runs client intents against the store and the session registry.
type Service struct {
	store    Store
	sessions *session.Registry
	events   Publisher
	cfg      Config
}

// New returns a Service. A nil Publisher discards events.
func New(store Store, sessions *session.Registry, events Publisher, cfg Config) *Service {
	if cfg.MinPlayers <= 0 {
		cfg.MinPlayers = defaultMinPlayers
	}
	if cfg.MaxPlayers <= 0 {
		cfg.MaxPlayers = defaultMaxPlayers
	}
	if cfg.RoundGoal <= 0 {
		cfg.RoundGoal = defaultRoundGoal
	}
	if cfg.HandSize <= 0 {
		cfg.HandSize = defaultHandSize
	}
	if cfg.Locale == language.Und {
		cfg.Locale = language.Arabic
	}
	if cfg.Logf == nil {
		cfg.Logf = func(string, ...any) {}
	}
	if sessions == nil {
		sessions = session.NewRegistry(nil)
	}

	return &Service{
		store:    store,
		sessions: sessions,
		events:   events,
		cfg:      cfg,
	}
}

// Sessions returns the registry of live games.
func (s *Service) Sessions() *session.Registry {
	return s.sessions
}

func (s *Service) publish(roomID, eventType string, data any) {
	if s.events == nil {
		return
	}
	s.events.Publish(roomID, Event{Type: eventType, RoomID: roomID, Data: data})
}

// withSession runs fn inside the critical section of a room's live game.
func (s *Service) withSession(roomID string, fn func(*session.Session) error) error {
	sess, ok := s.sessions.Lookup(roomID)
	if !ok {
		return apperrors.New(apperrors.CodeGameNotFound, "game not found")
	}

	sess.Lock()
	defer sess.Unlock()

	return fn(sess)
}

// storeError converts a storage failure into a domain error. notFound is the
// code reported for storage.ErrNotFound.
func storeError(err error, notFound apperrors.Code, action string) error {
	var appErr *apperrors.Error
	switch {
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, storage.ErrNotFound):
		return apperrors.Wrap(notFound, action+": not found", err)
	case errors.Is(err, storage.ErrRoomFull):
		return apperrors.Wrap(apperrors.CodeRoomFull, "room is full", err)
	case errors.Is(err, storage.ErrRoomClosed):
		return apperrors.Wrap(apperrors.CodeRoomBadState, "room is not accepting players", err)
	default:
		return internal(action, err)
	}
}

func internal(action string, err error) error {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperrors.Wrap(apperrors.CodeInternal, action+": "+err.Error(), err)
}

func requireID(name, value string) error {
	if value == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, name+" is required")
	}
	return nil
}
