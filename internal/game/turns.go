package game

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/Seednode/cardparty/internal/apperrors"
	"github.com/Seednode/cardparty/internal/session"
	"github.com/Seednode/cardparty/internal/storage"
)

// VoteOutcome is the acknowledgment of a cast vote.
type VoteOutcome struct {
	Result    session.Outcome `json:"result"`
	Tally     session.Tally   `json:"tally"`
	DiceRoll  int             `json:"diceRoll,omitempty"`
	GameEnded bool            `json:"gameEnded,omitempty"`
}

// PowerOutcome is the acknowledgment of a played power card.
type PowerOutcome struct {
	Kind   session.PowerKind `json:"kind"`
	Result string            `json:"result"`
}

// SubmitAnswer records the active player's answer and opens voting.
func (s *Service) SubmitAnswer(ctx context.Context, userID, roomID, text string) error {
	if err := requireID("user id", userID); err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "answer text is required")
	}
	if utf8.RuneCountInString(text) > maxAnswerLength {
		return apperrors.New(apperrors.CodeInvalidArgument, "answer text is too long")
	}

	return s.withSession(roomID, func(sess *session.Session) error {
		if err := sess.SubmitAnswer(userID, text); err != nil {
			return err
		}

		s.publish(roomID, EventAnswerSubmitted, AnswerSubmitted{PlayerID: userID, Text: text})
		s.publish(roomID, EventVotingStarted, VotingStarted{Text: text, AuthorID: userID})

		return nil
	})
}

// CastVote records a vote and resolves the turn as soon as the outcome is
// decided.
func (s *Service) CastVote(ctx context.Context, userID, roomID string, accept bool) (VoteOutcome, error) {
	if err := requireID("user id", userID); err != nil {
		return VoteOutcome{}, err
	}

	var out VoteOutcome
	err := s.withSession(roomID, func(sess *session.Session) error {
		res, err := sess.CastVote(userID, accept)
		if err != nil {
			return err
		}
		s.publish(roomID, EventVoteUpdated, res)

		out = VoteOutcome{Result: res.Outcome, Tally: res.Tally}

		var resolved TurnResolved
		switch res.Outcome {
		case session.OutcomeAccepted:
			resolved, out.GameEnded, err = s.resolveAcceptance(ctx, sess, false)
		case session.OutcomeRejected:
			resolved, err = s.resolveRejection(ctx, sess, false)
		default:
			return nil
		}
		out.DiceRoll = resolved.DiceRoll
		return err
	})

	return out, err
}

// UsePower plays the caller's one power card for this game.
func (s *Service) UsePower(ctx context.Context, userID, roomID, kindName string) (PowerOutcome, error) {
	if err := requireID("user id", userID); err != nil {
		return PowerOutcome{}, err
	}
	kind, err := session.ParsePowerKind(kindName)
	if err != nil {
		return PowerOutcome{}, apperrors.Wrap(apperrors.CodePowerBadState, "unknown power card", err)
	}

	var out PowerOutcome
	err = s.withSession(roomID, func(sess *session.Session) error {
		used, err := s.store.HasPowerUsage(ctx, roomID, userID)
		if err != nil {
			return internal("check power usage", err)
		}
		if used {
			return apperrors.New(apperrors.CodePowerUsed, "power card already used")
		}
		if err := sess.CheckPower(userID, kind); err != nil {
			return err
		}

		err = sess.UsePowerCard(ctx, s.store, userID, kind)
		if errors.Is(err, storage.ErrAlreadyExists) {
			return apperrors.Wrap(apperrors.CodePowerUsed, "power card already used", err)
		}
		if err != nil {
			return internal("use power card", err)
		}

		out = PowerOutcome{Kind: kind}
		switch kind {
		case session.PowerSkip:
			s.nextQuestion(ctx, sess)
			out.Result = "turn_skipped"
		case session.PowerDoubleVote:
			out.Result = "double_vote_activated"
		}

		s.cfg.Logf("GAMES: %s played %s in room %s", userID, kind, roomID)
		s.publish(roomID, EventPowerUsed, PowerUsed{UserID: userID, Kind: kind, State: sess.Snapshot()})

		return nil
	})

	return out, err
}

// AdminOverride resolves the current turn as if the vote had been decided.
// It requires the admin role and is legal in either phase.
func (s *Service) AdminOverride(ctx context.Context, userID, roomID string, accept bool) (TurnResolved, error) {
	if err := requireID("user id", userID); err != nil {
		return TurnResolved{}, err
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return TurnResolved{}, storeError(err, apperrors.CodeAuthRequired, "get user")
	}
	if user.Role != storage.RoleAdmin {
		return TurnResolved{}, apperrors.New(apperrors.CodeAuthRequired, "admin role required")
	}

	var out TurnResolved
	err = s.withSession(roomID, func(sess *session.Session) error {
		var err error
		if accept {
			out, _, err = s.resolveAcceptance(ctx, sess, true)
		} else {
			out, err = s.resolveRejection(ctx, sess, true)
		}
		if err == nil {
			s.cfg.Logf("GAMES: %s overrode turn in room %s (accept=%t)", userID, roomID, accept)
		}
		return err
	})

	return out, err
}

// DrawCard moves the top deck card into the caller's hand.
func (s *Service) DrawCard(ctx context.Context, userID, roomID string) (storage.Card, error) {
	if err := requireID("user id", userID); err != nil {
		return storage.Card{}, err
	}

	var card storage.Card
	err := s.withSession(roomID, func(sess *session.Session) error {
		id, err := sess.DrawCard(userID)
		if err != nil {
			return err
		}

		card = storage.Card{ID: id, CategoryID: sess.CategoryID(), Type: storage.CardRegular}
		cards, err := s.store.CardsByIDs(ctx, []string{id})
		if err != nil {
			return internal("load card", err)
		}
		if len(cards) == 1 {
			card = cards[0]
		}
		return nil
	})

	return card, err
}

// resolveAcceptance credits the active player. The caller holds the room's
// critical section.
func (s *Service) resolveAcceptance(ctx context.Context, sess *session.Session, override bool) (TurnResolved, bool, error) {
	res, err := sess.ResolveAcceptance(ctx, s.store)
	if err != nil {
		return TurnResolved{}, false, internal("resolve acceptance", err)
	}

	resolved := TurnResolved{Accepted: true, AdminOverride: override}
	if res.Ended {
		resolved.State = sess.Snapshot()
		s.publish(sess.RoomID(), EventTurnResolved, resolved)
		s.finishGame(ctx, sess, res)
		return resolved, true, nil
	}

	resolved.DiceRoll = sess.RollDice()
	s.nextQuestion(ctx, sess)
	resolved.State = sess.Snapshot()
	s.publish(sess.RoomID(), EventTurnResolved, resolved)

	return resolved, false, nil
}

// resolveRejection passes the turn on. The caller holds the room's critical
// section.
func (s *Service) resolveRejection(ctx context.Context, sess *session.Session, override bool) (TurnResolved, error) {
	if _, err := sess.ResolveRejection(ctx, s.store); err != nil {
		return TurnResolved{}, internal("resolve rejection", err)
	}

	s.nextQuestion(ctx, sess)
	resolved := TurnResolved{AdminOverride: override, State: sess.Snapshot()}
	s.publish(sess.RoomID(), EventTurnResolved, resolved)

	return resolved, nil
}

// finishGame announces the winner and evicts the game from the registry. The
// result is already stored by the winning point's write.
func (s *Service) finishGame(ctx context.Context, sess *session.Session, res session.Resolution) {
	roomID := sess.RoomID()

	winner := Winner{UserID: res.Winner, Username: res.Winner, Progress: res.Progress}
	players, err := s.store.ListRoomPlayers(ctx, roomID)
	if err != nil {
		s.cfg.Logf("GAMES: Could not load players of room %s: %v", roomID, err)
	}
	for _, p := range players {
		if p.UserID == res.Winner {
			winner.Username = p.Username
		}
	}

	s.sessions.Remove(roomID)

	s.cfg.Logf("GAMES: %s won room %s with %d points", winner.Username, roomID, winner.Progress)
	s.publish(roomID, EventGameEnded, GameEnded{Winner: winner})
}

// nextQuestion draws the question for the coming answer. An empty pool
// leaves the turn without a question.
func (s *Service) nextQuestion(ctx context.Context, sess *session.Session) {
	if _, err := sess.SelectQuestion(ctx, s.store); err != nil {
		s.cfg.Logf("GAMES: No question for room %s: %v", sess.RoomID(), err)
	}
}
