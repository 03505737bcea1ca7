package session

import (
	"maps"
	"slices"

	"github.com/Seednode/cardparty/internal/storage"
)

// Snapshot is the client-facing view of a Session. Hands are reported as
// sizes only; each player learns their own cards separately.
type Snapshot struct {
	RoomID       string            `json:"roomId"`
	State        State             `json:"state"`
	Turn         Turn              `json:"turn"`
	TurnOrder    []string          `json:"turnOrder"`
	Question     *storage.Question `json:"question,omitempty"`
	Answer       *Answer           `json:"answer,omitempty"`
	Votes        map[string]bool   `json:"votes"`
	PowerEffects map[string]string `json:"powerEffects"`
	DeckSize     int               `json:"deckSize"`
	HandSizes    map[string]int    `json:"handSizes"`
	Winner       string            `json:"winner,omitempty"`
}

// Snapshot returns a copy of the session state safe to hand to other
// goroutines.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		RoomID:       s.roomID,
		State:        s.state,
		Turn:         s.turn,
		TurnOrder:    slices.Clone(s.order),
		Votes:        maps.Clone(s.votes),
		PowerEffects: make(map[string]string, len(s.effects)),
		DeckSize:     len(s.deck),
		HandSizes:    make(map[string]int, len(s.hands)),
		Winner:       s.winner,
	}
	if s.question != nil {
		q := *s.question
		snap.Question = &q
	}
	if s.answer != nil {
		a := *s.answer
		snap.Answer = &a
	}
	for p := range s.effects {
		if e := s.effects[p]; e.turn == s.turn.Number {
			snap.PowerEffects[p] = e.kind.String()
		}
	}
	for p, h := range s.hands {
		snap.HandSizes[p] = len(h)
	}
	return snap
}
