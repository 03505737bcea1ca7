// Package session implements the per-room game engine: dealing, the
// turn and phase state machine, vote arbitration, power cards and win
// detection.
//
// A Session is not safe for concurrent use on its own. Callers hold the
// embedded mutex for the whole of an intent, including the store writes a
// transition performs, so that every mutation of one room applies in the
// order its intent was accepted.
package session

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/Seednode/cardparty/internal/apperrors"
	"github.com/Seednode/cardparty/internal/deck"
	"github.com/Seednode/cardparty/internal/storage"
)

// ErrNoQuestions indicates a category has an empty question pool.
var ErrNoQuestions = errors.New("category has no questions")

// State is the lifecycle state of a Session.
type State string

const (
	StateInitializing State = "initializing"
	StateActive       State = "active"
	StateEnded        State = "ended"
)

// Phase is the sub-state of the current turn.
type Phase string

const (
	PhaseAnswering Phase = "answering"
	PhaseVoting    Phase = "voting"
)

// Outcome is the result of tallying the votes cast so far.
type Outcome string

const (
	OutcomePending  Outcome = "pending"
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
)

// Turn identifies the active player and phase. Number increases by one each
// time the active player changes.
type Turn struct {
	PlayerID string `json:"playerId"`
	Phase    Phase  `json:"phase"`
	Number   int    `json:"number"`
}

// Answer is the active player's submitted answer.
type Answer struct {
	AuthorID string `json:"authorId"`
	Text     string `json:"text"`
}

// Store is the persisted side of a turn resolution. Each method is a single
// atomic write.
type Store interface {
	// AwardPoint adds one to a player's progress and returns the new value.
	// Reaching goal ends the room and records the result in the same write.
	AwardPoint(ctx context.Context, roomID, userID string, goal int) (int, error)
	SetTurn(ctx context.Context, roomID, userID string) error
	// PlayPowerCard records a power card use and, when nextTurnID is set,
	// moves the turn flag to that player in the same write.
	PlayPowerCard(ctx context.Context, usage storage.PowerCardUsage, nextTurnID string) error
}

// QuestionSource lists the questions of a category.
type QuestionSource interface {
	ListQuestions(ctx context.Context, categoryID string) ([]storage.Question, error)
}

// Options configures Initialize.
type Options struct {
	RoomID     string
	CategoryID string
	Players    []string // turn order, in join order
	RoundGoal  int
	HandSize   int
}

// Session is the authoritative state of one game in one room.
type Session struct {
	sync.Mutex

	roomID     string
	categoryID string
	roundGoal  int
	state      State
	rng        *rand.Rand

	deck     []string
	hands    map[string][]string
	order    []string
	index    int
	turn     Turn
	question *storage.Question
	answer   *Answer
	votes    map[string]bool
	effects  map[string]effect
	winner   string
}

// New returns an uninitialized Session for a room.
func New(roomID string, rng *rand.Rand) *Session {
	if rng == nil {
		rng = NewRand()
	}
	return &Session{
		roomID:  roomID,
		state:   StateInitializing,
		rng:     rng,
		hands:   make(map[string][]string),
		votes:   make(map[string]bool),
		effects: make(map[string]effect),
	}
}

// Initialize builds and deals the category deck, fixes the turn order and
// gives the first turn to opts.Players[0].
func (s *Session) Initialize(ctx context.Context, cards deck.Source, opts Options) error {
	if s.state != StateInitializing {
		return apperrors.New(apperrors.CodeRoomBadState, "game already initialized")
	}
	if len(opts.Players) == 0 {
		return apperrors.New(apperrors.CodeInvalidArgument, "at least one player is required")
	}
	seen := make(map[string]bool, len(opts.Players))
	for _, p := range opts.Players {
		if p == "" || seen[p] {
			return apperrors.New(apperrors.CodeInvalidArgument, fmt.Sprintf("invalid or duplicate player %q", p))
		}
		seen[p] = true
	}
	if opts.RoundGoal <= 0 {
		return apperrors.New(apperrors.CodeInvalidArgument, "round goal must be greater than zero")
	}
	handSize := opts.HandSize
	if handSize <= 0 {
		handSize = deck.HandSize
	}

	ids, err := deck.Build(ctx, cards, opts.CategoryID)
	if err != nil {
		return err
	}
	hands, remaining := deck.Deal(ids, opts.Players, handSize, s.rng)

	if opts.RoomID != "" {
		s.roomID = opts.RoomID
	}
	s.categoryID = opts.CategoryID
	s.roundGoal = opts.RoundGoal
	s.deck = remaining
	s.hands = hands
	s.order = slices.Clone(opts.Players)
	s.index = 0
	s.turn = Turn{PlayerID: s.order[0], Phase: PhaseAnswering, Number: 1}
	s.question = nil
	s.answer = nil
	clear(s.votes)
	clear(s.effects)
	s.state = StateActive

	return nil
}

// SelectQuestion draws a question uniformly at random from the category's
// pool. Repeats across turns are allowed.
func (s *Session) SelectQuestion(ctx context.Context, questions QuestionSource) (storage.Question, error) {
	if err := s.requireActive(); err != nil {
		return storage.Question{}, err
	}

	pool, err := questions.ListQuestions(ctx, s.categoryID)
	if err != nil {
		return storage.Question{}, fmt.Errorf("list questions: %w", err)
	}
	if len(pool) == 0 {
		return storage.Question{}, fmt.Errorf("category %s: %w", s.categoryID, ErrNoQuestions)
	}

	q := pool[s.rng.IntN(len(pool))]
	s.question = &q
	return q, nil
}

// SubmitAnswer records the active player's answer and opens voting.
func (s *Session) SubmitAnswer(playerID, text string) error {
	if err := s.requireActive(); err != nil {
		return err
	}
	if playerID != s.turn.PlayerID {
		return apperrors.New(apperrors.CodeTurnNotYourTurn, "not your turn")
	}
	if s.turn.Phase != PhaseAnswering {
		return apperrors.New(apperrors.CodeTurnBadPhase, "not in answering phase")
	}
	if s.answer != nil {
		return apperrors.New(apperrors.CodeTurnLocked, "answer already submitted")
	}

	s.answer = &Answer{AuthorID: playerID, Text: text}
	s.turn.Phase = PhaseVoting
	clear(s.votes)
	return nil
}

// Tally counts the votes of the current voting round.
type Tally struct {
	Accepts     int `json:"accepts"`
	Rejects     int `json:"rejects"`
	Outstanding int `json:"outstanding"`
}

// VoteResult reports the effect of one cast.
type VoteResult struct {
	VoterID           string  `json:"voterId"`
	Accept            bool    `json:"accept"`
	DoubleVoteApplied bool    `json:"doubleVoteApplied"`
	Outcome           Outcome `json:"outcome"`
	Tally             Tally   `json:"tally"`
}

// CastVote records a vote from a non-answering player and re-evaluates the
// round. A repeat cast overwrites the voter's earlier vote. A single
// rejection decides the round; acceptance needs every non-answerer.
func (s *Session) CastVote(voterID string, accept bool) (VoteResult, error) {
	if err := s.requireActive(); err != nil {
		return VoteResult{}, err
	}
	if s.turn.Phase != PhaseVoting || s.answer == nil {
		return VoteResult{}, apperrors.New(apperrors.CodeVoteBadPhase, "not in voting phase")
	}
	if voterID == s.answer.AuthorID {
		return VoteResult{}, apperrors.New(apperrors.CodeVoteAnswerer, "cannot vote on your own answer")
	}
	if !slices.Contains(s.order, voterID) {
		return VoteResult{}, apperrors.New(apperrors.CodeInvalidArgument, "voter is not in this game")
	}

	doubled := s.consumeEffect(voterID, PowerDoubleVote)
	casts := 1
	if doubled {
		casts = 2
	}
	for range casts {
		s.votes[voterID] = accept
	}

	outcome, tally := s.tally()
	return VoteResult{
		VoterID:           voterID,
		Accept:            accept,
		DoubleVoteApplied: doubled,
		Outcome:           outcome,
		Tally:             tally,
	}, nil
}

// Outcome re-evaluates the votes recorded so far.
func (s *Session) Outcome() Outcome {
	outcome, _ := s.tally()
	return outcome
}

func (s *Session) tally() (Outcome, Tally) {
	var t Tally
	for _, accept := range s.votes {
		if accept {
			t.Accepts++
		} else {
			t.Rejects++
		}
	}
	t.Outstanding = max(len(s.order)-1-len(s.votes), 0)

	switch {
	case t.Rejects > 0:
		return OutcomeRejected, t
	case t.Outstanding == 0 && t.Accepts > 0:
		return OutcomeAccepted, t
	default:
		return OutcomePending, t
	}
}

// Resolution describes how a turn ended.
type Resolution struct {
	Accepted bool   `json:"accepted"`
	PlayerID string `json:"playerId"`
	Progress int    `json:"progress,omitempty"`
	NextID   string `json:"nextPlayerId"`
	Ended    bool   `json:"ended"`
	Winner   string `json:"winner,omitempty"`
}

// ResolveAcceptance credits the active player with one point of persisted
// progress. Reaching the round goal ends the game with that player as winner;
// otherwise the same player answers again and the caller draws a new
// question. The store is written before any in-memory change.
func (s *Session) ResolveAcceptance(ctx context.Context, store Store) (Resolution, error) {
	if err := s.requireActive(); err != nil {
		return Resolution{}, err
	}

	playerID := s.turn.PlayerID
	progress, err := store.AwardPoint(ctx, s.roomID, playerID, s.roundGoal)
	if err != nil {
		return Resolution{}, fmt.Errorf("award point to %s: %w", playerID, err)
	}

	s.answer = nil
	clear(s.votes)
	s.question = nil

	res := Resolution{Accepted: true, PlayerID: playerID, Progress: progress, NextID: playerID}
	if progress >= s.roundGoal {
		s.state = StateEnded
		s.winner = playerID
		res.Ended = true
		res.Winner = playerID
		return res, nil
	}

	s.turn.Phase = PhaseAnswering
	return res, nil
}

// ResolveRejection passes the turn to the next player in turn order.
func (s *Session) ResolveRejection(ctx context.Context, store Store) (Resolution, error) {
	if err := s.requireActive(); err != nil {
		return Resolution{}, err
	}

	playerID := s.turn.PlayerID
	if err := s.advance(ctx, store); err != nil {
		return Resolution{}, err
	}
	return Resolution{PlayerID: playerID, NextID: s.turn.PlayerID}, nil
}

// advance moves the turn index forward by one. Answer, votes and every
// power effect are turn-scoped and cleared.
func (s *Session) advance(ctx context.Context, store Store) error {
	nextIndex := s.nextIndex()
	next := s.order[nextIndex]
	if err := store.SetTurn(ctx, s.roomID, next); err != nil {
		return fmt.Errorf("set turn to %s: %w", next, err)
	}

	s.moveTo(nextIndex)
	return nil
}

func (s *Session) nextIndex() int {
	return (s.index + 1) % len(s.order)
}

func (s *Session) moveTo(index int) {
	s.index = index
	s.turn = Turn{PlayerID: s.order[index], Phase: PhaseAnswering, Number: s.turn.Number + 1}
	s.answer = nil
	s.question = nil
	clear(s.votes)
	clear(s.effects)
}

// CheckPower reports whether playerID may play a power card of kind now.
// It does not consult the durable usage record.
func (s *Session) CheckPower(playerID string, kind PowerKind) error {
	if err := s.requireActive(); err != nil {
		return err
	}
	if !kind.Valid() {
		return apperrors.New(apperrors.CodePowerBadState, "unknown power card")
	}
	if playerID != s.turn.PlayerID {
		return apperrors.New(apperrors.CodePowerNotOwner, "not your turn")
	}
	if s.turn.Phase != PhaseAnswering {
		return apperrors.New(apperrors.CodePowerBadState, "power cards are only playable while answering")
	}
	return nil
}

// UsePowerCard applies a power card for the active player. Skip advances the
// turn exactly like a rejection without recording any vote; DoubleVote
// registers an effect for the current turn. The durable usage record and,
// for Skip, the turn move are written together before any in-memory change.
// A repeated use surfaces the store's storage.ErrAlreadyExists.
func (s *Session) UsePowerCard(ctx context.Context, store Store, playerID string, kind PowerKind) error {
	if err := s.CheckPower(playerID, kind); err != nil {
		return err
	}

	usage := storage.PowerCardUsage{
		RoomID:       s.roomID,
		UserID:       playerID,
		Kind:         kind.String(),
		TurnPlayerID: s.turn.PlayerID,
	}

	switch kind {
	case PowerSkip:
		nextIndex := s.nextIndex()
		if err := store.PlayPowerCard(ctx, usage, s.order[nextIndex]); err != nil {
			return fmt.Errorf("play %s: %w", kind, err)
		}
		s.moveTo(nextIndex)
		return nil
	case PowerDoubleVote:
		if err := store.PlayPowerCard(ctx, usage, ""); err != nil {
			return fmt.Errorf("play %s: %w", kind, err)
		}
		s.effects[playerID] = effect{kind: PowerDoubleVote, turn: s.turn.Number}
		return nil
	default:
		panic(fmt.Sprintf("unhandled power kind %v", kind))
	}
}

// HasEffect reports whether playerID holds a live effect of kind.
func (s *Session) HasEffect(playerID string, kind PowerKind) bool {
	e, ok := s.effects[playerID]
	return ok && e.kind == kind && e.turn == s.turn.Number
}

func (s *Session) consumeEffect(playerID string, kind PowerKind) bool {
	if !s.HasEffect(playerID, kind) {
		return false
	}
	delete(s.effects, playerID)
	return true
}

// DrawCard moves the top card of the deck into a player's hand.
func (s *Session) DrawCard(playerID string) (string, error) {
	if err := s.requireActive(); err != nil {
		return "", err
	}
	if !slices.Contains(s.order, playerID) {
		return "", apperrors.New(apperrors.CodeInvalidArgument, "player is not in this game")
	}

	drawn, remaining, err := deck.Draw(s.deck, 1)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeDeckExhausted, "deck is empty", err)
	}
	s.deck = remaining
	s.hands[playerID] = append(s.hands[playerID], drawn[0])
	return drawn[0], nil
}

// RollDice returns a uniform value in [1, 6]. The value is broadcast for
// flavor only and never affects a transition.
func (s *Session) RollDice() int {
	return s.rng.IntN(6) + 1
}

func (s *Session) requireActive() error {
	switch s.state {
	case StateActive:
		return nil
	case StateEnded:
		return apperrors.New(apperrors.CodeRoomBadState, "game has ended")
	default:
		return apperrors.New(apperrors.CodeGameNotFound, "game has not started")
	}
}

// RoomID returns the room this session belongs to.
func (s *Session) RoomID() string { return s.roomID }

// CategoryID returns the category the deck was built from.
func (s *Session) CategoryID() string { return s.categoryID }

// State returns the lifecycle state.
func (s *Session) State() State { return s.state }

// Turn returns the current turn.
func (s *Session) Turn() Turn { return s.turn }

// TurnOrder returns a copy of the fixed turn order.
func (s *Session) TurnOrder() []string { return slices.Clone(s.order) }

// Winner returns the winning player once the game has ended.
func (s *Session) Winner() string { return s.winner }

// DeckSize returns the number of undealt cards.
func (s *Session) DeckSize() int { return len(s.deck) }

// Deck returns a copy of the remaining deck.
func (s *Session) Deck() []string { return slices.Clone(s.deck) }

// Hand returns a copy of a player's hand.
func (s *Session) Hand(playerID string) []string { return slices.Clone(s.hands[playerID]) }

// Hands returns a deep copy of every hand.
func (s *Session) Hands() map[string][]string {
	out := make(map[string][]string, len(s.hands))
	for p, h := range s.hands {
		out[p] = slices.Clone(h)
	}
	return out
}

// Votes returns a copy of the current vote set.
func (s *Session) Votes() map[string]bool { return maps.Clone(s.votes) }

// Answer returns the pending answer, if any.
func (s *Session) Answer() (Answer, bool) {
	if s.answer == nil {
		return Answer{}, false
	}
	return *s.answer, true
}

// Question returns the current question, if one has been drawn.
func (s *Session) Question() (storage.Question, bool) {
	if s.question == nil {
		return storage.Question{}, false
	}
	return *s.question, true
}
