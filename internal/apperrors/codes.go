// Package apperrors provides the stable, machine-readable error codes
// returned to clients in acknowledgments and API responses.
package apperrors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeInternal represents an unexpected failure.
	CodeInternal Code = "INTERNAL"
	// CodeInvalidArgument represents malformed input.
	CodeInvalidArgument Code = "INVALID_ARGUMENT"

	// Room errors
	CodeRoomNotFound   Code = "ROOM_NOT_FOUND"
	CodeRoomBadState   Code = "ROOM_BAD_STATE"
	CodeRoomFull       Code = "ROOM_FULL"
	CodeRoomMinPlayers Code = "ROOM_MIN_PLAYERS"
	CodeRoomNotHost    Code = "ROOM_NOT_HOST"
	CodeRoomNoCategory Code = "ROOM_NO_CATEGORY"

	// Game and turn errors
	CodeGameNotFound    Code = "GAME_NOT_FOUND"
	CodeTurnNotYourTurn Code = "TURN_NOT_YOUR_TURN"
	CodeTurnBadPhase    Code = "TURN_BAD_PHASE"
	CodeTurnLocked      Code = "TURN_LOCKED"
	CodeDeckExhausted   Code = "DECK_EXHAUSTED"

	// Vote errors
	CodeVoteBadPhase Code = "VOTE_BAD_PHASE"
	CodeVoteAnswerer Code = "VOTE_ANSWERER"

	// Power card errors
	CodePowerUsed     Code = "POWER_USED"
	CodePowerBadState Code = "POWER_BAD_STATE"
	CodePowerNotOwner Code = "POWER_NOT_OWNER"

	// Auth and transport errors
	CodeAuthRequired Code = "AUTH_REQUIRED"
	CodeAuthExpired  Code = "AUTH_EXPIRED"
	CodeRateLimit    Code = "RATE_LIMIT"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidArgument:
		return http.StatusBadRequest

	case CodeRoomNotFound,
		CodeGameNotFound:
		return http.StatusNotFound

	case CodeRoomBadState,
		CodeRoomFull,
		CodeRoomMinPlayers,
		CodeRoomNoCategory,
		CodeTurnNotYourTurn,
		CodeTurnBadPhase,
		CodeTurnLocked,
		CodeDeckExhausted,
		CodeVoteBadPhase,
		CodeVoteAnswerer,
		CodePowerUsed,
		CodePowerBadState,
		CodePowerNotOwner:
		return http.StatusConflict

	case CodeRoomNotHost:
		return http.StatusForbidden

	case CodeAuthRequired:
		return http.StatusUnauthorized

	case CodeAuthExpired:
		return http.StatusForbidden

	case CodeRateLimit:
		return http.StatusTooManyRequests

	default:
		return http.StatusInternalServerError
	}
}
