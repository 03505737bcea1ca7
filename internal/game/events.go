package game

import (
	"github.com/Seednode/cardparty/internal/session"
	"github.com/Seednode/cardparty/internal/storage"
)

// Room event types.
const (
	EventRoomUpdated     = "room-updated"
	EventGameStarted     = "game-started"
	EventAnswerSubmitted = "answer-submitted"
	EventVotingStarted   = "voting-started"
	EventVoteUpdated     = "vote-updated"
	EventTurnResolved    = "turn-resolved"
	EventPowerUsed       = "power-used"
	EventGameEnded       = "game-ended"
)

// Event is one broadcast to every subscriber of a room.
type Event struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
	Data   any    `json:"data,omitempty"`
}

// CategoryView is a category resolved to the configured locale.
type CategoryView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// RoomView is the client-facing view of a persisted room.
type RoomView struct {
	ID        string               `json:"id"`
	Code      string               `json:"code"`
	HostID    string               `json:"hostId"`
	State     storage.RoomState    `json:"state"`
	RoundGoal int                  `json:"roundGoal"`
	Category  *CategoryView        `json:"category,omitempty"`
	Players   []storage.PlayerRoom `json:"players"`
}

// RoomUpdated is the payload of room-updated.
type RoomUpdated struct {
	Room RoomView `json:"room"`
}

// GameStarted is the payload of game-started and the start-game ack.
type GameStarted struct {
	Room  RoomView                  `json:"room"`
	State session.Snapshot          `json:"initialState"`
	Hands map[string][]storage.Card `json:"hands"`
}

// AnswerSubmitted is the payload of answer-submitted.
type AnswerSubmitted struct {
	PlayerID string `json:"playerId"`
	Text     string `json:"text"`
}

// VotingStarted is the payload of voting-started.
type VotingStarted struct {
	Text     string `json:"text"`
	AuthorID string `json:"authorId"`
}

// TurnResolved is the payload of turn-resolved. DiceRoll is set on accepted
// resolutions that do not end the game.
type TurnResolved struct {
	Accepted      bool             `json:"accepted"`
	AdminOverride bool             `json:"adminOverride,omitempty"`
	DiceRoll      int              `json:"diceRoll,omitempty"`
	State         session.Snapshot `json:"state"`
}

// PowerUsed is the payload of power-used.
type PowerUsed struct {
	UserID string            `json:"userId"`
	Kind   session.PowerKind `json:"kind"`
	State  session.Snapshot  `json:"state"`
}

// Winner identifies the player who reached the round goal.
type Winner struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Progress int    `json:"progress"`
}

// GameEnded is the payload of game-ended.
type GameEnded struct {
	Winner Winner `json:"winner"`
}
