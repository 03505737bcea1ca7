package game

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Seednode/cardparty/internal/apperrors"
	"github.com/Seednode/cardparty/internal/session"
	"github.com/Seednode/cardparty/internal/storage"
)

const (
	roomCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	roomCodeLength   = 4
)

// newRoomCode returns a uniformly random room code. Bytes at or above the
// largest multiple of the alphabet size are rejected to avoid modulo bias.
func newRoomCode() (string, error) {
	const limit = 256 - 256%len(roomCodeAlphabet)

	out := make([]byte, 0, roomCodeLength)
	buf := make([]byte, 2*roomCodeLength)
	for len(out) < roomCodeLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, roomCodeAlphabet[int(b)%len(roomCodeAlphabet)])
			if len(out) == roomCodeLength {
				break
			}
		}
	}

	return string(out), nil
}

func isRoomCode(ref string) bool {
	if len(ref) != roomCodeLength {
		return false
	}
	for _, c := range strings.ToUpper(ref) {
		if !strings.ContainsRune(roomCodeAlphabet, c) {
			return false
		}
	}
	return true
}

// FindRoom resolves a room id or share code.
func (s *Service) FindRoom(ctx context.Context, ref string) (storage.Room, error) {
	room, err := s.store.GetRoom(ctx, ref)
	if errors.Is(err, storage.ErrNotFound) && isRoomCode(ref) {
		room, err = s.store.GetRoomByCode(ctx, ref)
	}
	if err != nil {
		return storage.Room{}, storeError(err, apperrors.CodeRoomNotFound, "get room")
	}
	return room, nil
}

func (s *Service) roomView(ctx context.Context, room storage.Room) (RoomView, error) {
	players, err := s.store.ListRoomPlayers(ctx, room.ID)
	if err != nil {
		return RoomView{}, internal("list room players", err)
	}
	if players == nil {
		players = []storage.PlayerRoom{}
	}

	view := RoomView{
		ID:        room.ID,
		Code:      room.Code,
		HostID:    room.HostID,
		State:     room.State,
		RoundGoal: room.RoundGoal,
		Players:   players,
	}

	if room.CategoryID != "" {
		category, err := s.store.GetCategory(ctx, room.CategoryID)
		switch {
		case err == nil:
			text := category.Localized(s.cfg.Locale)
			view.Category = &CategoryView{ID: category.ID, Name: text.Name, Description: text.Description}
		case errors.Is(err, storage.ErrNotFound):
			view.Category = &CategoryView{ID: room.CategoryID, Name: room.CategoryID}
		default:
			return RoomView{}, internal("get category", err)
		}
	}

	return view, nil
}

// CreateRoom opens a lobby hosted by userID. categoryID may be empty, in which
// case the room cannot start until it has one.
func (s *Service) CreateRoom(ctx context.Context, userID, categoryID string) (RoomView, error) {
	if err := requireID("user id", userID); err != nil {
		return RoomView{}, err
	}
	if categoryID != "" {
		if _, err := s.store.GetCategory(ctx, categoryID); err != nil {
			return RoomView{}, storeError(err, apperrors.CodeInvalidArgument, "get category "+categoryID)
		}
	}

	var room storage.Room
	for attempt := 0; ; attempt++ {
		if attempt == roomCodeRetries {
			return RoomView{}, apperrors.New(apperrors.CodeInternal, "unable to allocate a room code")
		}

		code, err := newRoomCode()
		if err != nil {
			return RoomView{}, internal("generate room code", err)
		}

		room, err = s.store.CreateRoom(ctx, storage.Room{
			ID:         uuid.NewString(),
			Code:       code,
			HostID:     userID,
			CategoryID: categoryID,
			RoundGoal:  s.cfg.RoundGoal,
		})
		if errors.Is(err, storage.ErrAlreadyExists) {
			continue
		}
		if err != nil {
			return RoomView{}, internal("create room", err)
		}
		break
	}

	view, err := s.roomView(ctx, room)
	if err != nil {
		return RoomView{}, err
	}

	s.cfg.Logf("GAMES: Created room %s (%s) for %s", room.Code, room.ID, userID)
	s.publish(room.ID, EventRoomUpdated, RoomUpdated{Room: view})

	return view, nil
}

// JoinRoom seats userID in a lobby. ref is a room id or share code. Joining a
// room the user already belongs to returns the current room unchanged.
func (s *Service) JoinRoom(ctx context.Context, userID, ref string) (RoomView, error) {
	if err := requireID("user id", userID); err != nil {
		return RoomView{}, err
	}
	if err := requireID("room id", ref); err != nil {
		return RoomView{}, err
	}

	room, err := s.FindRoom(ctx, ref)
	if err != nil {
		return RoomView{}, err
	}
	if room.State == storage.RoomEnded {
		return RoomView{}, apperrors.New(apperrors.CodeRoomBadState, "game has ended")
	}

	_, err = s.store.AddPlayer(ctx, room.ID, userID, s.cfg.MaxPlayers)
	switch {
	case errors.Is(err, storage.ErrAlreadyExists):
		return s.roomView(ctx, room)
	case err != nil:
		return RoomView{}, storeError(err, apperrors.CodeRoomNotFound, "join room")
	}

	view, err := s.roomView(ctx, room)
	if err != nil {
		return RoomView{}, err
	}

	s.cfg.Logf("GAMES: %s joined room %s (%d/%d)", userID, room.Code, len(view.Players), s.cfg.MaxPlayers)
	s.publish(room.ID, EventRoomUpdated, RoomUpdated{Room: view})

	return view, nil
}

// LeaveRoom removes userID from a room and returns the number of players
// left. The last player out deletes the room and evicts its game.
func (s *Service) LeaveRoom(ctx context.Context, userID, roomID string) (int, error) {
	if err := requireID("user id", userID); err != nil {
		return 0, err
	}
	if err := requireID("room id", roomID); err != nil {
		return 0, err
	}

	remaining, err := s.store.RemovePlayer(ctx, roomID, userID)
	if err != nil {
		return 0, storeError(err, apperrors.CodeRoomNotFound, "leave room")
	}

	if remaining == 0 {
		if s.sessions.Remove(roomID) {
			s.cfg.Logf("GAMES: Evicted game for empty room %s", roomID)
		}
		s.cfg.Logf("GAMES: Deleted empty room %s", roomID)
		return 0, nil
	}

	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return remaining, storeError(err, apperrors.CodeRoomNotFound, "get room")
	}
	view, err := s.roomView(ctx, room)
	if err != nil {
		return remaining, err
	}
	s.publish(roomID, EventRoomUpdated, RoomUpdated{Room: view})

	return remaining, nil
}

// StartGame deals the room's category deck and opens the first turn. Only
// the host may start; calling it again once playing returns the live state.
func (s *Service) StartGame(ctx context.Context, userID, roomID string) (GameStarted, error) {
	if err := requireID("user id", userID); err != nil {
		return GameStarted{}, err
	}
	if err := requireID("room id", roomID); err != nil {
		return GameStarted{}, err
	}

	room, err := s.FindRoom(ctx, roomID)
	if err != nil {
		return GameStarted{}, err
	}
	switch {
	case room.State == storage.RoomEnded:
		return GameStarted{}, apperrors.New(apperrors.CodeRoomBadState, "game has ended")
	case room.State == storage.RoomLobby && room.HostID != userID:
		return GameStarted{}, apperrors.New(apperrors.CodeRoomNotHost, "only the host can start the game")
	}

	sess := s.lockStartSession(room.ID)
	defer sess.Unlock()
	defer func() {
		if sess.State() == session.StateInitializing {
			s.sessions.Discard(room.ID, sess)
		}
	}()

	// Re-read under the lock; a concurrent start may have finished.
	room, err = s.FindRoom(ctx, room.ID)
	if err != nil {
		return GameStarted{}, err
	}

	switch room.State {
	case storage.RoomPlaying:
		if sess.State() != session.StateActive {
			return GameStarted{}, apperrors.New(apperrors.CodeRoomBadState, "game state is unavailable")
		}
		view, err := s.roomView(ctx, room)
		if err != nil {
			return GameStarted{}, err
		}
		return GameStarted{Room: view, State: sess.Snapshot()}, nil
	case storage.RoomEnded:
		return GameStarted{}, apperrors.New(apperrors.CodeRoomBadState, "game has ended")
	}

	if room.HostID != userID {
		return GameStarted{}, apperrors.New(apperrors.CodeRoomNotHost, "only the host can start the game")
	}

	if err := s.store.SetRoomState(ctx, room.ID, storage.RoomDealing); err != nil {
		return GameStarted{}, storeError(err, apperrors.CodeRoomNotFound, "set room state")
	}

	players, err := s.store.ListRoomPlayers(ctx, room.ID)
	if err != nil {
		return GameStarted{}, s.abortStart(ctx, room.ID, internal("list room players", err))
	}
	if len(players) < s.cfg.MinPlayers {
		return GameStarted{}, s.abortStart(ctx, room.ID, apperrors.New(apperrors.CodeRoomMinPlayers,
			fmt.Sprintf("not enough players (minimum %d)", s.cfg.MinPlayers)))
	}
	if room.CategoryID == "" {
		return GameStarted{}, s.abortStart(ctx, room.ID, apperrors.New(apperrors.CodeRoomNoCategory,
			"a category must be chosen before starting"))
	}

	order := make([]string, 0, len(players))
	for _, p := range players {
		order = append(order, p.UserID)
	}

	if err := s.store.SetTurn(ctx, room.ID, order[0]); err != nil {
		return GameStarted{}, s.abortStart(ctx, room.ID, internal("set first turn", err))
	}
	if err := s.store.SetRoomState(ctx, room.ID, storage.RoomPlaying); err != nil {
		return GameStarted{}, s.abortStart(ctx, room.ID, internal("set room state", err))
	}

	if err := sess.Initialize(ctx, s.store, session.Options{
		RoomID:     room.ID,
		CategoryID: room.CategoryID,
		Players:    order,
		RoundGoal:  room.RoundGoal,
		HandSize:   s.cfg.HandSize,
	}); err != nil {
		return GameStarted{}, s.abortStart(ctx, room.ID, internal("initialize game", err))
	}
	s.nextQuestion(ctx, sess)

	hands, err := s.handCards(ctx, sess)
	if err != nil {
		return GameStarted{}, err
	}

	room.State = storage.RoomPlaying
	view, err := s.roomView(ctx, room)
	if err != nil {
		return GameStarted{}, err
	}

	started := GameStarted{Room: view, State: sess.Snapshot(), Hands: hands}

	s.cfg.Logf("GAMES: Started room %s with %d players, %d cards left in deck", room.Code, len(order), sess.DeckSize())
	s.publish(room.ID, EventGameStarted, started)

	return started, nil
}

// lockStartSession returns the room's registered Session, locked. A Session
// discarded while the caller waited for its lock is skipped.
func (s *Service) lockStartSession(roomID string) *session.Session {
	for {
		sess := s.sessions.Get(roomID)
		sess.Lock()
		if cur, ok := s.sessions.Lookup(roomID); ok && cur == sess {
			return sess
		}
		sess.Unlock()
	}
}

// abortStart returns a room stuck mid-start to the lobby.
func (s *Service) abortStart(ctx context.Context, roomID string, cause error) error {
	if err := s.store.SetRoomState(ctx, roomID, storage.RoomLobby); err != nil {
		s.cfg.Logf("ERROR: Reverting room %s to lobby: %v", roomID, err)
	}
	return cause
}

func (s *Service) handCards(ctx context.Context, sess *session.Session) (map[string][]storage.Card, error) {
	hands := sess.Hands()
	out := make(map[string][]storage.Card, len(hands))
	for playerID, ids := range hands {
		cards, err := s.store.CardsByIDs(ctx, ids)
		if err != nil {
			return nil, internal("load hand", err)
		}
		if cards == nil {
			cards = []storage.Card{}
		}
		out[playerID] = cards
	}
	return out, nil
}

// RoomState is a room together with its live game, if any.
type RoomState struct {
	Room RoomView          `json:"room"`
	Game *session.Snapshot `json:"game,omitempty"`
}

// RoomSnapshot returns the current state of a room.
func (s *Service) RoomSnapshot(ctx context.Context, ref string) (RoomState, error) {
	if err := requireID("room id", ref); err != nil {
		return RoomState{}, err
	}

	room, err := s.FindRoom(ctx, ref)
	if err != nil {
		return RoomState{}, err
	}
	view, err := s.roomView(ctx, room)
	if err != nil {
		return RoomState{}, err
	}

	state := RoomState{Room: view}
	if sess, ok := s.sessions.Lookup(room.ID); ok {
		sess.Lock()
		if sess.State() != session.StateInitializing {
			snap := sess.Snapshot()
			state.Game = &snap
		}
		sess.Unlock()
	}

	return state, nil
}
