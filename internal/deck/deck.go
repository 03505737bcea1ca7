// Package deck builds, shuffles, deals and draws card ids. It holds no
// state of its own; every function returns new slices.
package deck

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
)

// HandSize is the number of cards dealt to each player.
const HandSize = 5

// ErrDeckExhausted indicates more cards were requested than remain.
var ErrDeckExhausted = errors.New("not enough cards in deck")

// Source lists the regular (non-power) card ids of a category.
type Source interface {
	RegularCardIDs(ctx context.Context, categoryID string) ([]string, error)
}

// Build returns the ordered ids of every regular card in a category.
func Build(ctx context.Context, src Source, categoryID string) ([]string, error) {
	ids, err := src.RegularCardIDs(ctx, categoryID)
	if err != nil {
		return nil, fmt.Errorf("build deck for %s: %w", categoryID, err)
	}
	return ids, nil
}

// Shuffle returns a uniformly random permutation of ids using the
// Durstenfeld variant of Fisher-Yates.
func Shuffle(ids []string, rng *rand.Rand) []string {
	shuffled := make([]string, len(ids))
	copy(shuffled, ids)

	for i := len(shuffled) - 1; i > 0; i-- {
		j := rng.IntN(i + 1)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}

	return shuffled
}

// Deal shuffles ids once, then hands handSize consecutive cards to each
// player in order. When the deck runs short, dealing continues in order
// until it is empty: earlier players get full hands and later players get
// short or empty ones. The undealt remainder keeps its shuffled order.
func Deal(ids []string, players []string, handSize int, rng *rand.Rand) (map[string][]string, []string) {
	shuffled := Shuffle(ids, rng)
	hands := make(map[string][]string, len(players))

	next := 0
	for _, player := range players {
		end := min(next+handSize, len(shuffled))
		hand := make([]string, end-next)
		copy(hand, shuffled[next:end])
		hands[player] = hand
		next = end
	}

	remaining := make([]string, len(shuffled)-next)
	copy(remaining, shuffled[next:])

	return hands, remaining
}

// Draw takes the first n ids off the deck.
func Draw(ids []string, n int) ([]string, []string, error) {
	if n < 0 {
		return nil, nil, fmt.Errorf("draw count must not be negative: %d", n)
	}
	if n > len(ids) {
		return nil, nil, fmt.Errorf("draw %d of %d: %w", n, len(ids), ErrDeckExhausted)
	}

	drawn := make([]string, n)
	copy(drawn, ids[:n])
	remaining := make([]string, len(ids)-n)
	copy(remaining, ids[n:])

	return drawn, remaining, nil
}
