package session

import (
	"fmt"
	"strings"
)

// PowerKind is a one-per-game power card. The set is closed: every switch
// over it must handle each kind.
type PowerKind int

const (
	// PowerSkip ends the active player's turn without a vote.
	PowerSkip PowerKind = iota + 1
	// PowerDoubleVote applies the holder's next vote in the current turn twice.
	PowerDoubleVote
)

func (k PowerKind) String() string {
	switch k {
	case PowerSkip:
		return "Skip"
	case PowerDoubleVote:
		return "DoubleVote"
	default:
		return fmt.Sprintf("PowerKind(%d)", int(k))
	}
}

// Valid reports whether k is a known power kind.
func (k PowerKind) Valid() bool {
	switch k {
	case PowerSkip, PowerDoubleVote:
		return true
	default:
		return false
	}
}

// ParsePowerKind parses the wire name of a power kind, case-insensitively.
func ParsePowerKind(s string) (PowerKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "skip":
		return PowerSkip, nil
	case "doublevote", "double-vote", "double_vote":
		return PowerDoubleVote, nil
	default:
		return 0, fmt.Errorf("unknown power kind %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k PowerKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid power kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *PowerKind) UnmarshalText(text []byte) error {
	parsed, err := ParsePowerKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// effect is a pending one-shot power effect, tagged with the turn number it
// was granted in.
type effect struct {
	kind PowerKind
	turn int
}
