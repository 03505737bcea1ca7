package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/Seednode/cardparty/internal/apperrors"
	"github.com/Seednode/cardparty/internal/storage"
)

type fakeContent struct {
	cards     []string
	questions []storage.Question
}

func (f fakeContent) RegularCardIDs(context.Context, string) ([]string, error) {
	return f.cards, nil
}

func (f fakeContent) ListQuestions(context.Context, string) ([]storage.Question, error) {
	return f.questions, nil
}

type fakeStore struct {
	progress map[string]int
	usages   map[string]storage.PowerCardUsage
	turn     string
	winner   string
	calls    int
	fail     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{progress: make(map[string]int), usages: make(map[string]storage.PowerCardUsage)}
}

func (f *fakeStore) AwardPoint(_ context.Context, _, userID string, goal int) (int, error) {
	f.calls++
	if f.fail != nil {
		return 0, f.fail
	}
	f.progress[userID]++
	if f.progress[userID] >= goal {
		f.winner = userID
	}
	return f.progress[userID], nil
}

func (f *fakeStore) SetTurn(_ context.Context, _, userID string) error {
	f.calls++
	if f.fail != nil {
		return f.fail
	}
	f.turn = userID
	return nil
}

func (f *fakeStore) PlayPowerCard(_ context.Context, usage storage.PowerCardUsage, nextTurnID string) error {
	f.calls++
	if f.fail != nil {
		return f.fail
	}
	if _, ok := f.usages[usage.UserID]; ok {
		return storage.ErrAlreadyExists
	}
	f.usages[usage.UserID] = usage
	if nextTurnID != "" {
		f.turn = nextTurnID
	}
	return nil
}

func testContent(cards int) fakeContent {
	c := fakeContent{questions: []storage.Question{{ID: "q-1", Text: "Name a play"}, {ID: "q-2", Text: "Name an actor"}}}
	for i := range cards {
		c.cards = append(c.cards, fmt.Sprintf("card-%02d", i))
	}
	return c
}

func newActiveSession(t *testing.T, goal int, players ...string) (*Session, *fakeStore) {
	t.Helper()
	s := New("room-1", rand.New(rand.NewPCG(1, 2)))
	if err := s.Initialize(context.Background(), testContent(20), Options{
		CategoryID: "cat-1",
		Players:    players,
		RoundGoal:  goal,
	}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return s, newFakeStore()
}

func wantCode(t *testing.T, err error, code apperrors.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("err = nil, want %s", code)
	}
	if got := apperrors.CodeOf(err); got != code {
		t.Fatalf("code = %s (%v), want %s", got, err, code)
	}
}

func TestInitializeDealsAndSetsFirstTurn(t *testing.T) {
	s, _ := newActiveSession(t, 5, "a", "b", "c")

	if s.State() != StateActive {
		t.Fatalf("state = %s, want active", s.State())
	}
	if s.DeckSize() != 5 {
		t.Fatalf("deck size = %d, want 5", s.DeckSize())
	}
	if got := s.Turn(); got.PlayerID != "a" || got.Phase != PhaseAnswering {
		t.Fatalf("turn = %+v, want a answering", got)
	}
	if !slices.Equal(s.TurnOrder(), []string{"a", "b", "c"}) {
		t.Fatalf("turn order = %v", s.TurnOrder())
	}

	all := s.Deck()
	for _, p := range []string{"a", "b", "c"} {
		if len(s.Hand(p)) != 5 {
			t.Fatalf("%s hand size = %d, want 5", p, len(s.Hand(p)))
		}
		all = append(all, s.Hand(p)...)
	}
	slices.Sort(all)
	if !slices.Equal(all, testContent(20).cards) {
		t.Fatal("deck and hands do not partition the card pool")
	}
}

func TestInitializeRejectsBadInput(t *testing.T) {
	s := New("room-1", nil)
	ctx := context.Background()

	wantCode(t, s.Initialize(ctx, testContent(20), Options{RoundGoal: 5}), apperrors.CodeInvalidArgument)
	wantCode(t, s.Initialize(ctx, testContent(20), Options{Players: []string{"a", "a"}, RoundGoal: 5}), apperrors.CodeInvalidArgument)
	wantCode(t, s.Initialize(ctx, testContent(20), Options{Players: []string{"a"}, RoundGoal: 0}), apperrors.CodeInvalidArgument)

	if err := s.Initialize(ctx, testContent(20), Options{Players: []string{"a", "b", "c"}, RoundGoal: 5}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	wantCode(t, s.Initialize(ctx, testContent(20), Options{Players: []string{"a", "b", "c"}, RoundGoal: 5}), apperrors.CodeRoomBadState)
}

func TestUninitializedSessionRejectsIntents(t *testing.T) {
	s := New("room-1", nil)
	wantCode(t, s.SubmitAnswer("a", "x"), apperrors.CodeGameNotFound)
	_, err := s.CastVote("b", true)
	wantCode(t, err, apperrors.CodeGameNotFound)
	wantCode(t, s.CheckPower("a", PowerSkip), apperrors.CodeGameNotFound)
}

func TestSelectQuestion(t *testing.T) {
	s, _ := newActiveSession(t, 5, "a", "b", "c")

	q, err := s.SelectQuestion(context.Background(), testContent(0))
	if err != nil {
		t.Fatalf("select question: %v", err)
	}
	if current, ok := s.Question(); !ok || current != q {
		t.Fatalf("current question = %+v, %v; want %+v", current, ok, q)
	}

	_, err = s.SelectQuestion(context.Background(), fakeContent{})
	if !errors.Is(err, ErrNoQuestions) {
		t.Fatalf("empty pool err = %v, want ErrNoQuestions", err)
	}
}

func TestSubmitAnswerGuards(t *testing.T) {
	s, _ := newActiveSession(t, 5, "a", "b", "c")

	wantCode(t, s.SubmitAnswer("b", "x"), apperrors.CodeTurnNotYourTurn)

	if err := s.SubmitAnswer("a", "Bu Tariq"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if s.Turn().Phase != PhaseVoting {
		t.Fatalf("phase = %s, want voting", s.Turn().Phase)
	}
	answer, ok := s.Answer()
	if !ok || answer.AuthorID != "a" || answer.Text != "Bu Tariq" {
		t.Fatalf("answer = %+v, %v", answer, ok)
	}

	wantCode(t, s.SubmitAnswer("a", "again"), apperrors.CodeTurnBadPhase)
}

func TestCastVoteGuards(t *testing.T) {
	s, _ := newActiveSession(t, 5, "a", "b", "c")

	_, err := s.CastVote("b", true)
	wantCode(t, err, apperrors.CodeVoteBadPhase)

	if err := s.SubmitAnswer("a", "x"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	_, err = s.CastVote("a", true)
	wantCode(t, err, apperrors.CodeVoteAnswerer)
	_, err = s.CastVote("stranger", true)
	wantCode(t, err, apperrors.CodeInvalidArgument)

	if _, ok := s.Votes()["a"]; ok {
		t.Fatal("answerer appears in vote set")
	}
}

func TestSingleAcceptIsPendingUntilUnanimous(t *testing.T) {
	s, _ := newActiveSession(t, 5, "a", "b", "c")
	if err := s.SubmitAnswer("a", "x"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	res, err := s.CastVote("b", true)
	if err != nil {
		t.Fatalf("vote b: %v", err)
	}
	if res.Outcome != OutcomePending {
		t.Fatalf("outcome = %s, want pending", res.Outcome)
	}
	if res.Tally != (Tally{Accepts: 1, Outstanding: 1}) {
		t.Fatalf("tally = %+v", res.Tally)
	}

	res, err = s.CastVote("c", true)
	if err != nil {
		t.Fatalf("vote c: %v", err)
	}
	if res.Outcome != OutcomeAccepted {
		t.Fatalf("outcome = %s, want accepted", res.Outcome)
	}
}

func TestAnyRejectionIsDecisive(t *testing.T) {
	players := []string{"a", "b", "c", "d"}
	voters := []string{"b", "c", "d"}

	for position := range voters {
		t.Run(fmt.Sprintf("veto at %d", position), func(t *testing.T) {
			s, _ := newActiveSession(t, 5, players...)
			if err := s.SubmitAnswer("a", "x"); err != nil {
				t.Fatalf("submit: %v", err)
			}

			for i := 0; i <= position; i++ {
				res, err := s.CastVote(voters[i], i != position)
				if err != nil {
					t.Fatalf("vote %s: %v", voters[i], err)
				}
				want := OutcomePending
				if i == position {
					want = OutcomeRejected
				}
				if res.Outcome != want {
					t.Fatalf("vote %d outcome = %s, want %s", i, res.Outcome, want)
				}
			}
		})
	}
}

func TestRecastOverwritesVote(t *testing.T) {
	s, _ := newActiveSession(t, 5, "a", "b", "c")
	if err := s.SubmitAnswer("a", "x"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if _, err := s.CastVote("b", true); err != nil {
		t.Fatalf("vote: %v", err)
	}
	res, err := s.CastVote("b", false)
	if err != nil {
		t.Fatalf("recast: %v", err)
	}
	if res.Outcome != OutcomeRejected {
		t.Fatalf("outcome = %s, want rejected", res.Outcome)
	}
	if len(s.Votes()) != 1 {
		t.Fatalf("votes = %v, want a single entry", s.Votes())
	}
}

func TestResolveAcceptanceKeepsActivePlayer(t *testing.T) {
	s, store := newActiveSession(t, 5, "a", "b", "c")
	if err := s.SubmitAnswer("a", "x"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	res, err := s.ResolveAcceptance(context.Background(), store)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !res.Accepted || res.Progress != 1 || res.Ended || res.NextID != "a" {
		t.Fatalf("resolution = %+v", res)
	}
	if got := s.Turn(); got.PlayerID != "a" || got.Phase != PhaseAnswering || got.Number != 1 {
		t.Fatalf("turn = %+v, want a answering in turn 1", got)
	}
	if _, ok := s.Answer(); ok {
		t.Fatal("answer not cleared")
	}
	if len(s.Votes()) != 0 {
		t.Fatal("votes not cleared")
	}
}

func TestResolveAcceptanceAtGoalEndsGame(t *testing.T) {
	s, store := newActiveSession(t, 1, "a", "b", "c")
	if err := s.SubmitAnswer("a", "x"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	res, err := s.ResolveAcceptance(context.Background(), store)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !res.Ended || res.Winner != "a" {
		t.Fatalf("resolution = %+v, want ended with winner a", res)
	}
	if s.State() != StateEnded || s.Winner() != "a" {
		t.Fatalf("state = %s winner = %q", s.State(), s.Winner())
	}
	if s.Turn().PlayerID != "a" {
		t.Fatal("turn advanced on a winning acceptance")
	}
	wantCode(t, s.SubmitAnswer("a", "y"), apperrors.CodeRoomBadState)
}

func TestStoreFailureLeavesSessionUnchanged(t *testing.T) {
	s, store := newActiveSession(t, 5, "a", "b", "c")
	if err := s.SubmitAnswer("a", "x"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := s.CastVote("b", false); err != nil {
		t.Fatalf("vote: %v", err)
	}
	before := s.Snapshot()

	store.fail = errors.New("database is locked")
	if _, err := s.ResolveAcceptance(context.Background(), store); err == nil {
		t.Fatal("expected acceptance error")
	}
	if _, err := s.ResolveRejection(context.Background(), store); err == nil {
		t.Fatal("expected rejection error")
	}

	after := s.Snapshot()
	if after.Turn != before.Turn || len(after.Votes) != len(before.Votes) || after.Answer == nil {
		t.Fatalf("session changed after failed store write: before %+v after %+v", before, after)
	}
	if s.Outcome() != OutcomeRejected {
		t.Fatalf("outcome = %s, want rejected still pending resolution", s.Outcome())
	}
}

func TestFailedWinningWriteKeepsGameActive(t *testing.T) {
	s, store := newActiveSession(t, 1, "a", "b", "c")
	ctx := context.Background()
	if err := s.SubmitAnswer("a", "x"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	for _, voter := range []string{"b", "c"} {
		if _, err := s.CastVote(voter, true); err != nil {
			t.Fatalf("vote %s: %v", voter, err)
		}
	}

	store.fail = errors.New("disk full")
	if _, err := s.ResolveAcceptance(ctx, store); err == nil {
		t.Fatal("expected acceptance error")
	}
	if s.State() != StateActive || s.Winner() != "" {
		t.Fatalf("state = %s winner = %q after failed write, want active without winner", s.State(), s.Winner())
	}
	if _, ok := s.Answer(); !ok || s.Outcome() != OutcomeAccepted {
		t.Fatal("answer or votes lost after failed write")
	}

	store.fail = nil
	res, err := s.ResolveAcceptance(ctx, store)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !res.Ended || s.State() != StateEnded || store.winner != "a" {
		t.Fatalf("retry resolution = %+v, state = %s, stored winner = %q", res, s.State(), store.winner)
	}
}

func TestResolveRejectionAdvancesModulo(t *testing.T) {
	s, store := newActiveSession(t, 5, "a", "b", "c")
	ctx := context.Background()

	want := []string{"b", "c", "a", "b"}
	for i, next := range want {
		res, err := s.ResolveRejection(ctx, store)
		if err != nil {
			t.Fatalf("reject %d: %v", i, err)
		}
		if res.NextID != next || s.Turn().PlayerID != next || store.turn != next {
			t.Fatalf("reject %d: next = %s, turn = %s, stored = %s; want %s", i, res.NextID, s.Turn().PlayerID, store.turn, next)
		}
		if s.Turn().Phase != PhaseAnswering {
			t.Fatalf("phase = %s, want answering", s.Turn().Phase)
		}
	}
}

func TestSkipAdvancesWithoutVotes(t *testing.T) {
	s, store := newActiveSession(t, 5, "a", "b", "c")

	if err := s.UsePowerCard(context.Background(), store, "a", PowerSkip); err != nil {
		t.Fatalf("skip: %v", err)
	}
	if got := s.Turn(); got.PlayerID != "b" || got.Phase != PhaseAnswering || got.Number != 2 {
		t.Fatalf("turn = %+v, want b answering in turn 2", got)
	}
	if len(s.Votes()) != 0 {
		t.Fatalf("votes = %v, want none", s.Votes())
	}
	if store.turn != "b" {
		t.Fatalf("stored turn = %q, want b", store.turn)
	}

	// Skipping from the last seat wraps to the first.
	if err := s.UsePowerCard(context.Background(), store, "b", PowerSkip); err != nil {
		t.Fatalf("skip b: %v", err)
	}
	if err := s.UsePowerCard(context.Background(), store, "c", PowerSkip); err != nil {
		t.Fatalf("skip c: %v", err)
	}
	if s.Turn().PlayerID != "a" {
		t.Fatalf("turn = %s, want a", s.Turn().PlayerID)
	}
}

func TestFailedPowerWriteLeavesTurn(t *testing.T) {
	s, store := newActiveSession(t, 5, "a", "b", "c")
	ctx := context.Background()

	store.fail = errors.New("disk full")
	if err := s.UsePowerCard(ctx, store, "a", PowerSkip); err == nil {
		t.Fatal("expected skip error")
	}
	if got := s.Turn(); got.PlayerID != "a" || got.Number != 1 {
		t.Fatalf("turn = %+v after failed skip, want a in turn 1", got)
	}
	if len(store.usages) != 0 {
		t.Fatalf("usages = %v after failed skip", store.usages)
	}

	store.fail = nil
	if err := s.UsePowerCard(ctx, store, "a", PowerSkip); err != nil {
		t.Fatalf("retry skip: %v", err)
	}
	if s.Turn().PlayerID != "b" || store.turn != "b" {
		t.Fatalf("turn = %s stored = %s, want b", s.Turn().PlayerID, store.turn)
	}
	if got := store.usages["a"]; got.Kind != "Skip" || got.TurnPlayerID != "a" || got.RoomID != "room-1" {
		t.Fatalf("usage = %+v", got)
	}
}

func TestSecondPowerCardIsRefusedByStore(t *testing.T) {
	s, store := newActiveSession(t, 5, "a", "b", "c")
	ctx := context.Background()

	if err := s.UsePowerCard(ctx, store, "a", PowerDoubleVote); err != nil {
		t.Fatalf("double vote: %v", err)
	}
	err := s.UsePowerCard(ctx, store, "a", PowerSkip)
	if !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("second card err = %v, want storage.ErrAlreadyExists", err)
	}
	if s.Turn().PlayerID != "a" {
		t.Fatalf("turn = %s, want a", s.Turn().PlayerID)
	}
}

func TestPowerGuards(t *testing.T) {
	s, store := newActiveSession(t, 5, "a", "b", "c")
	ctx := context.Background()

	wantCode(t, s.UsePowerCard(ctx, store, "b", PowerSkip), apperrors.CodePowerNotOwner)
	wantCode(t, s.UsePowerCard(ctx, store, "a", PowerKind(99)), apperrors.CodePowerBadState)

	if err := s.SubmitAnswer("a", "x"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	wantCode(t, s.UsePowerCard(ctx, store, "a", PowerDoubleVote), apperrors.CodePowerBadState)
	if store.calls != 0 {
		t.Fatalf("store called %d times by rejected power use", store.calls)
	}
}

func TestDoubleVoteLifecycle(t *testing.T) {
	s, store := newActiveSession(t, 5, "a", "b", "c")
	ctx := context.Background()

	if err := s.UsePowerCard(ctx, store, "a", PowerDoubleVote); err != nil {
		t.Fatalf("double vote: %v", err)
	}
	if !s.HasEffect("a", PowerDoubleVote) {
		t.Fatal("effect absent right after grant")
	}
	if got := s.Snapshot().PowerEffects["a"]; got != "DoubleVote" {
		t.Fatalf("snapshot effect = %q", got)
	}

	// Any turn change invalidates the effect, applied or not.
	if _, err := s.ResolveRejection(ctx, store); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if s.HasEffect("a", PowerDoubleVote) {
		t.Fatal("effect survived a turn change")
	}
}

func TestDoubleVoteConsumedOnFirstVote(t *testing.T) {
	s, _ := newActiveSession(t, 5, "a", "b", "c")

	// Grant directly for a non-answering voter in the current turn.
	s.effects["b"] = effect{kind: PowerDoubleVote, turn: s.Turn().Number}

	if err := s.SubmitAnswer("a", "x"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	res, err := s.CastVote("b", true)
	if err != nil {
		t.Fatalf("vote: %v", err)
	}
	if !res.DoubleVoteApplied {
		t.Fatal("double vote not applied")
	}
	if s.HasEffect("b", PowerDoubleVote) {
		t.Fatal("effect still present after being applied")
	}
	if res.Outcome != OutcomePending {
		t.Fatalf("outcome = %s; a doubled vote is still one voter", res.Outcome)
	}

	res, err = s.CastVote("b", true)
	if err != nil {
		t.Fatalf("second vote: %v", err)
	}
	if res.DoubleVoteApplied {
		t.Fatal("double vote applied twice")
	}
}

func TestDrawCard(t *testing.T) {
	s, _ := newActiveSession(t, 5, "a", "b", "c")

	top := s.Deck()[0]
	card, err := s.DrawCard("b")
	if err != nil {
		t.Fatalf("draw: %v", err)
	}
	if card != top {
		t.Fatalf("drew %s, want top card %s", card, top)
	}
	if len(s.Hand("b")) != 6 || s.DeckSize() != 4 {
		t.Fatalf("hand = %d, deck = %d", len(s.Hand("b")), s.DeckSize())
	}

	for range 4 {
		if _, err := s.DrawCard("c"); err != nil {
			t.Fatalf("draw: %v", err)
		}
	}
	_, err = s.DrawCard("a")
	wantCode(t, err, apperrors.CodeDeckExhausted)
}

func TestRollDiceRange(t *testing.T) {
	s, _ := newActiveSession(t, 5, "a", "b", "c")
	seen := make(map[int]bool)
	for range 600 {
		v := s.RollDice()
		if v < 1 || v > 6 {
			t.Fatalf("roll = %d, want 1..6", v)
		}
		seen[v] = true
	}
	if len(seen) != 6 {
		t.Fatalf("saw faces %v, want all six", seen)
	}
}

func TestEndToEndScenario(t *testing.T) {
	s, store := newActiveSession(t, 5, "a", "b", "c")
	ctx := context.Background()

	if _, err := s.SelectQuestion(ctx, testContent(0)); err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := s.SubmitAnswer("a", "first"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := s.CastVote("b", true); err != nil {
		t.Fatalf("vote b: %v", err)
	}
	res, err := s.CastVote("c", true)
	if err != nil || res.Outcome != OutcomeAccepted {
		t.Fatalf("vote c = %+v, %v", res, err)
	}
	if _, err := s.ResolveAcceptance(ctx, store); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if store.progress["a"] != 1 || s.Turn().PlayerID != "a" {
		t.Fatalf("progress = %d, turn = %s", store.progress["a"], s.Turn().PlayerID)
	}
	if _, ok := s.Question(); ok {
		t.Fatal("question should be cleared until a new one is drawn")
	}
	if _, err := s.SelectQuestion(ctx, testContent(0)); err != nil {
		t.Fatalf("select: %v", err)
	}

	if err := s.SubmitAnswer("a", "second"); err != nil {
		t.Fatalf("submit again: %v", err)
	}
	res, err = s.CastVote("b", false)
	if err != nil || res.Outcome != OutcomeRejected {
		t.Fatalf("vote b = %+v, %v", res, err)
	}
	if _, err := s.ResolveRejection(ctx, store); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if s.Turn().PlayerID != "b" || store.progress["a"] != 1 {
		t.Fatalf("turn = %s, progress = %d", s.Turn().PlayerID, store.progress["a"])
	}

	// A late vote after the veto resolved the turn is refused.
	_, err = s.CastVote("c", true)
	wantCode(t, err, apperrors.CodeVoteBadPhase)
}

func TestPowerKindParsing(t *testing.T) {
	tests := map[string]PowerKind{"Skip": PowerSkip, "skip": PowerSkip, "DoubleVote": PowerDoubleVote, "double-vote": PowerDoubleVote}
	for in, want := range tests {
		got, err := ParsePowerKind(in)
		if err != nil || got != want {
			t.Fatalf("ParsePowerKind(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParsePowerKind("Steal"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
	if _, err := PowerKind(0).MarshalText(); err == nil {
		t.Fatal("expected error marshaling zero kind")
	}
}
