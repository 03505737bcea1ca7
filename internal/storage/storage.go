// Package storage defines the persistent records shared by the game engine
// and its SQLite implementation.
package storage

import (
	"errors"
	"maps"
	"slices"
	"time"

	"golang.org/x/text/language"
)

var (
	// ErrNotFound indicates a requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists indicates a uniqueness constraint was violated.
	ErrAlreadyExists = errors.New("record already exists")
	// ErrRoomFull indicates a room has reached its player capacity.
	ErrRoomFull = errors.New("room is full")
	// ErrRoomClosed indicates a room no longer accepts new players.
	ErrRoomClosed = errors.New("room is not accepting players")
)

// RoomState is the persisted lifecycle state of a room.
type RoomState string

const (
	RoomLobby   RoomState = "lobby"
	RoomDealing RoomState = "dealing"
	RoomPlaying RoomState = "playing"
	RoomEnded   RoomState = "ended"
)

// CardType distinguishes playable cards from power cards.
type CardType string

const (
	CardRegular CardType = "regular"
	CardPower   CardType = "power"
)

// Role is a user's authorization role.
type Role string

const (
	RolePlayer Role = "player"
	RoleAdmin  Role = "admin"
)

// User is an account known to the store. Issuance happens elsewhere.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
	Wins     int    `json:"wins"`
	Losses   int    `json:"losses"`
}

// CategoryText is the localized metadata of a category.
type CategoryText struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Category groups cards and questions. Locales is keyed by BCP 47 tag.
type Category struct {
	ID      string                  `json:"id"`
	Locales map[string]CategoryText `json:"locales"`
}

// Localized returns the metadata best matching the preferred tags, falling
// back to the first available locale in tag order.
func (c Category) Localized(preferred ...language.Tag) CategoryText {
	if len(c.Locales) == 0 {
		return CategoryText{Name: c.ID}
	}

	tags := make([]language.Tag, 0, len(c.Locales))
	keys := make([]string, 0, len(c.Locales))
	for _, key := range slices.Sorted(maps.Keys(c.Locales)) {
		tag, err := language.Parse(key)
		if err != nil {
			continue
		}
		tags = append(tags, tag)
		keys = append(keys, key)
	}
	if len(tags) == 0 {
		return CategoryText{Name: c.ID}
	}

	_, index, _ := language.NewMatcher(tags).Match(preferred...)
	return c.Locales[keys[index]]
}

// Card is a single card in a category.
type Card struct {
	ID         string   `json:"id"`
	CategoryID string   `json:"categoryId"`
	Text       string   `json:"text"`
	Type       CardType `json:"type"`
}

// Question is a prompt drawn each turn.
type Question struct {
	ID         string `json:"id"`
	CategoryID string `json:"categoryId,omitempty"`
	Text       string `json:"text"`
}

// Room is a persistent game room.
type Room struct {
	ID         string    `json:"id"`
	Code       string    `json:"code"`
	HostID     string    `json:"hostId"`
	CategoryID string    `json:"categoryId,omitempty"`
	State      RoomState `json:"state"`
	RoundGoal  int       `json:"roundGoal"`
	CreatedAt  time.Time `json:"createdAt"`
}

// PlayerRoom is a player's membership row in a room.
type PlayerRoom struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Seat     int    `json:"seat"`
	Progress int    `json:"progress"`
	IsTurn   bool   `json:"isTurn"`
}

// PowerCardUsage is the durable audit row of a power card use.
type PowerCardUsage struct {
	RoomID       string    `json:"roomId"`
	UserID       string    `json:"userId"`
	Kind         string    `json:"kind"`
	TurnPlayerID string    `json:"turnPlayerId,omitempty"`
	UsedAt       time.Time `json:"usedAt"`
}
