package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Seednode/cardparty/internal/storage"
)

// CreateRoom inserts a room in the lobby state and seats its host at seat 0.
// A clash on room id or code returns storage.ErrAlreadyExists.
func (s *Store) CreateRoom(ctx context.Context, room storage.Room) (storage.Room, error) {
	if strings.TrimSpace(room.ID) == "" || strings.TrimSpace(room.Code) == "" {
		return storage.Room{}, fmt.Errorf("room id and code are required")
	}
	if strings.TrimSpace(room.HostID) == "" {
		return storage.Room{}, fmt.Errorf("host id is required")
	}
	if room.RoundGoal <= 0 {
		return storage.Room{}, fmt.Errorf("round goal must be greater than zero")
	}
	if room.State == "" {
		room.State = storage.RoomLobby
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now().UTC()
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return storage.Room{}, fmt.Errorf("begin create room: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var categoryID any
	if room.CategoryID != "" {
		categoryID = room.CategoryID
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO rooms (id, code, host_id, category_id, state, round_goal, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		room.ID, room.Code, room.HostID, categoryID, string(room.State), room.RoundGoal, toMillis(room.CreatedAt),
	); err != nil {
		if isUniqueViolation(err) {
			return storage.Room{}, storage.ErrAlreadyExists
		}
		return storage.Room{}, fmt.Errorf("create room: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO player_rooms (room_id, user_id, seat) VALUES (?, ?, 0)`,
		room.ID, room.HostID,
	); err != nil {
		return storage.Room{}, fmt.Errorf("seat host: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return storage.Room{}, fmt.Errorf("commit create room: %w", err)
	}
	return room, nil
}

// GetRoom returns one room by id.
func (s *Store) GetRoom(ctx context.Context, id string) (storage.Room, error) {
	var room storage.Room
	var categoryID sql.NullString
	var state string
	var createdAt int64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, code, host_id, category_id, state, round_goal, created_at FROM rooms WHERE id = ?`, id,
	).Scan(&room.ID, &room.Code, &room.HostID, &categoryID, &state, &room.RoundGoal, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Room{}, storage.ErrNotFound
		}
		return storage.Room{}, fmt.Errorf("get room: %w", err)
	}
	room.CategoryID = categoryID.String
	room.State = storage.RoomState(state)
	room.CreatedAt = fromMillis(createdAt)
	return room, nil
}

// GetRoomByCode returns one room by its share code.
func (s *Store) GetRoomByCode(ctx context.Context, code string) (storage.Room, error) {
	var id string
	err := s.sqlDB.QueryRowContext(ctx, `SELECT id FROM rooms WHERE code = ?`, strings.ToUpper(code)).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Room{}, storage.ErrNotFound
		}
		return storage.Room{}, fmt.Errorf("get room by code: %w", err)
	}
	return s.GetRoom(ctx, id)
}

// ListRoomPlayers returns a room's members in join order.
func (s *Store) ListRoomPlayers(ctx context.Context, roomID string) ([]storage.PlayerRoom, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT pr.room_id, pr.user_id, u.username, pr.seat, pr.progress, pr.is_turn
		   FROM player_rooms pr
		   JOIN users u ON u.id = pr.user_id
		  WHERE pr.room_id = ?
		  ORDER BY pr.id`,
		roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("list room players: %w", err)
	}
	defer rows.Close()

	var players []storage.PlayerRoom
	for rows.Next() {
		var p storage.PlayerRoom
		var isTurn int
		if err := rows.Scan(&p.RoomID, &p.UserID, &p.Username, &p.Seat, &p.Progress, &isTurn); err != nil {
			return nil, fmt.Errorf("scan room player: %w", err)
		}
		p.IsTurn = isTurn != 0
		players = append(players, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list room players: %w", err)
	}
	return players, nil
}

// AddPlayer seats a user in the lowest free seat. It returns
// storage.ErrNotFound for an unknown room, storage.ErrAlreadyExists when the
// user is already a member, storage.ErrRoomClosed once the room has left the
// lobby and storage.ErrRoomFull at capacity.
func (s *Store) AddPlayer(ctx context.Context, roomID, userID string, maxPlayers int) (storage.PlayerRoom, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return storage.PlayerRoom{}, fmt.Errorf("begin add player: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var state string
	if err := tx.QueryRowContext(ctx, `SELECT state FROM rooms WHERE id = ?`, roomID).Scan(&state); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.PlayerRoom{}, storage.ErrNotFound
		}
		return storage.PlayerRoom{}, fmt.Errorf("get room: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `SELECT user_id, seat FROM player_rooms WHERE room_id = ?`, roomID)
	if err != nil {
		return storage.PlayerRoom{}, fmt.Errorf("list seats: %w", err)
	}
	taken := make(map[int]bool)
	member := false
	for rows.Next() {
		var uid string
		var seat int
		if err := rows.Scan(&uid, &seat); err != nil {
			rows.Close()
			return storage.PlayerRoom{}, fmt.Errorf("scan seat: %w", err)
		}
		if uid == userID {
			member = true
		}
		taken[seat] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return storage.PlayerRoom{}, fmt.Errorf("list seats: %w", err)
	}

	if member {
		return storage.PlayerRoom{}, storage.ErrAlreadyExists
	}
	if storage.RoomState(state) != storage.RoomLobby {
		return storage.PlayerRoom{}, storage.ErrRoomClosed
	}
	if maxPlayers > 0 && len(taken) >= maxPlayers {
		return storage.PlayerRoom{}, storage.ErrRoomFull
	}

	seat := 0
	for taken[seat] {
		seat++
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO player_rooms (room_id, user_id, seat) VALUES (?, ?, ?)`, roomID, userID, seat,
	); err != nil {
		if isUniqueViolation(err) {
			return storage.PlayerRoom{}, storage.ErrAlreadyExists
		}
		return storage.PlayerRoom{}, fmt.Errorf("add player: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return storage.PlayerRoom{}, fmt.Errorf("commit add player: %w", err)
	}
	return storage.PlayerRoom{RoomID: roomID, UserID: userID, Seat: seat}, nil
}

// RemovePlayer deletes a membership and returns the number of players left.
// The room itself is deleted in the same transaction once it is empty.
func (s *Store) RemovePlayer(ctx context.Context, roomID, userID string) (int, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin remove player: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM player_rooms WHERE room_id = ? AND user_id = ?`, roomID, userID)
	if err != nil {
		return 0, fmt.Errorf("remove player: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, storage.ErrNotFound
	}

	var remaining int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM player_rooms WHERE room_id = ?`, roomID).Scan(&remaining); err != nil {
		return 0, fmt.Errorf("count players: %w", err)
	}
	if remaining == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, roomID); err != nil {
			return 0, fmt.Errorf("delete empty room: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit remove player: %w", err)
	}
	return remaining, nil
}

// SetRoomState moves a room to a new lifecycle state.
func (s *Store) SetRoomState(ctx context.Context, roomID string, state storage.RoomState) error {
	res, err := s.sqlDB.ExecContext(ctx, `UPDATE rooms SET state = ? WHERE id = ?`, string(state), roomID)
	if err != nil {
		return fmt.Errorf("set room state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// execer is the part of *sql.DB and *sql.Tx the room writes need.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SetTurn flags userID as the room's active player and clears every other
// member's turn flag.
func (s *Store) SetTurn(ctx context.Context, roomID, userID string) error {
	return setTurn(ctx, s.sqlDB, roomID, userID)
}

func setTurn(ctx context.Context, db execer, roomID, userID string) error {
	res, err := db.ExecContext(ctx,
		`UPDATE player_rooms SET is_turn = CASE WHEN user_id = ? THEN 1 ELSE 0 END WHERE room_id = ?`,
		userID, roomID,
	)
	if err != nil {
		return fmt.Errorf("set turn: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// IncrementProgress adds one to a player's progress and returns the new value.
func (s *Store) IncrementProgress(ctx context.Context, roomID, userID string) (int, error) {
	return incrementProgress(ctx, s.sqlDB, roomID, userID)
}

func incrementProgress(ctx context.Context, db execer, roomID, userID string) (int, error) {
	var progress int
	err := db.QueryRowContext(ctx,
		`UPDATE player_rooms SET progress = progress + 1 WHERE room_id = ? AND user_id = ? RETURNING progress`,
		roomID, userID,
	).Scan(&progress)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, storage.ErrNotFound
		}
		return 0, fmt.Errorf("increment progress: %w", err)
	}
	return progress, nil
}

// AwardPoint adds one to a player's progress. When the new value reaches
// goal the game is finished as by FinishGame, in the same transaction.
func (s *Store) AwardPoint(ctx context.Context, roomID, userID string, goal int) (int, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin award point: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	progress, err := incrementProgress(ctx, tx, roomID, userID)
	if err != nil {
		return 0, err
	}
	if progress >= goal {
		if err := finishGame(ctx, tx, roomID, userID); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit award point: %w", err)
	}
	return progress, nil
}

// FinishGame ends a room, credits the winner with a win and every other
// member with a loss, all in one transaction.
func (s *Store) FinishGame(ctx context.Context, roomID, winnerID string) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin finish game: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := finishGame(ctx, tx, roomID, winnerID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit finish game: %w", err)
	}
	return nil
}

func finishGame(ctx context.Context, db execer, roomID, winnerID string) error {
	res, err := db.ExecContext(ctx,
		`UPDATE rooms SET state = ? WHERE id = ? AND state != ?`,
		string(storage.RoomEnded), roomID, string(storage.RoomEnded),
	)
	if err != nil {
		return fmt.Errorf("end room: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	if _, err := db.ExecContext(ctx, `UPDATE users SET wins = wins + 1 WHERE id = ?`, winnerID); err != nil {
		return fmt.Errorf("record win: %w", err)
	}
	if _, err := db.ExecContext(ctx,
		`UPDATE users SET losses = losses + 1
		  WHERE id IN (SELECT user_id FROM player_rooms WHERE room_id = ? AND user_id != ?)`,
		roomID, winnerID,
	); err != nil {
		return fmt.Errorf("record losses: %w", err)
	}
	return nil
}

// RecordPowerUsage inserts the durable one-per-game usage row. A second use
// by the same player in the same room returns storage.ErrAlreadyExists.
func (s *Store) RecordPowerUsage(ctx context.Context, usage storage.PowerCardUsage) error {
	return recordPowerUsage(ctx, s.sqlDB, usage)
}

// PlayPowerCard records a power card use and, when nextTurnID is set, moves
// the room's turn flag to that player. Both writes commit or neither does.
func (s *Store) PlayPowerCard(ctx context.Context, usage storage.PowerCardUsage, nextTurnID string) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin play power card: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if nextTurnID != "" {
		if err := setTurn(ctx, tx, usage.RoomID, nextTurnID); err != nil {
			return err
		}
	}
	if err := recordPowerUsage(ctx, tx, usage); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit play power card: %w", err)
	}
	return nil
}

func recordPowerUsage(ctx context.Context, db execer, usage storage.PowerCardUsage) error {
	if usage.UsedAt.IsZero() {
		usage.UsedAt = time.Now().UTC()
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO power_card_usages (room_id, user_id, kind, turn_player_id, used_at) VALUES (?, ?, ?, ?, ?)`,
		usage.RoomID, usage.UserID, usage.Kind, usage.TurnPlayerID, toMillis(usage.UsedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("record power usage: %w", err)
	}
	return nil
}

// HasPowerUsage reports whether a player has already used a power card in a room.
func (s *Store) HasPowerUsage(ctx context.Context, roomID, userID string) (bool, error) {
	var found int
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT 1 FROM power_card_usages WHERE room_id = ? AND user_id = ?`, roomID, userID,
	).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check power usage: %w", err)
	}
	return true, nil
}
