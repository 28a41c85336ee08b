package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/domain"
	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/eventlog"
	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/judge"
)

// runSession drives one session through drafting and judging rounds until
// consensus, budget exhaustion, cancellation or the round cap.
func (s *Service) runSession(ctx context.Context, session *domain.DiscussionSession) {
	sessionID := session.SessionID

	for round := 1; round <= s.config.MaxRounds; round++ {
		if err := s.appendTransition(ctx, sessionID, domain.EventDraftingStarted,
			map[string]interface{}{"round": round}); err != nil {
			s.abort(sessionID, fmt.Sprintf("failed to open round %d: %v", round, err))
			return
		}

		for _, agentID := range s.config.Agents {
			if ctx.Err() != nil {
				s.abort(sessionID, cancelReason(ctx))
				return
			}
			if err := s.runTurnWithRetry(ctx, session, agentID, round); err != nil {
				s.abort(sessionID, abortReason(ctx, err))
				return
			}
		}

		if err := s.appendTransition(ctx, sessionID, domain.EventJudgingStarted,
			map[string]interface{}{"round": round}); err != nil {
			s.abort(sessionID, fmt.Sprintf("failed to open judging for round %d: %v", round, err))
			return
		}

		outcome, err := s.judgeWithRetry(ctx, session, round)
		if err != nil {
			s.abort(sessionID, abortReason(ctx, err))
			return
		}

		if outcome.Consensus {
			if err := s.appendTransition(ctx, sessionID, domain.EventSessionResolved,
				map[string]interface{}{"summary": outcome.Summary, "rounds": round}); err != nil {
				log.Printf("ERROR: failed to record resolution for session %s: %v", sessionID, err)
			}
			log.Printf("session %s resolved after round %d", sessionID, round)
			return
		}
		log.Printf("session %s round %d left %d open issues", sessionID, round, len(outcome.OpenIssues))
	}

	s.abort(sessionID, fmt.Sprintf("no consensus after %d rounds", s.config.MaxRounds))
}

// runTurnWithRetry runs one agent turn, retrying agent unavailability and
// persistence failures a configured number of times. Each retry is a fresh
// turn with its own id.
func (s *Service) runTurnWithRetry(ctx context.Context, session *domain.DiscussionSession, agentID string, round int) error {
	attempts := 1 + s.config.TurnRetries

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		history, err := s.completedTurns(ctx, session.SessionID)
		if err != nil {
			return err
		}

		_, err = s.runner.RunTurn(ctx, session, agentID, round, history)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return err
		}
		var unavailable *domain.AgentUnavailableError
		var persistence *domain.PersistenceError
		if !errors.As(err, &unavailable) && !errors.As(err, &persistence) {
			return err
		}
		if attempt < attempts {
			log.Printf("WARN: turn for %s in session %s failed (attempt %d/%d): %v",
				agentID, session.SessionID, attempt, attempts, err)
		}
	}
	return lastErr
}

func (s *Service) judgeWithRetry(ctx context.Context, session *domain.DiscussionSession, round int) (*judge.Outcome, error) {
	turns, err := s.completedTurns(ctx, session.SessionID)
	if err != nil {
		return nil, err
	}

	outcome, err := s.panel.Evaluate(ctx, session, round, turns)
	if err != nil {
		var persistence *domain.PersistenceError
		if errors.As(err, &persistence) && ctx.Err() == nil {
			log.Printf("WARN: judging for session %s hit a persistence failure, retrying once: %v", session.SessionID, err)
			outcome, err = s.panel.Evaluate(ctx, session, round, turns)
		}
	}
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

func (s *Service) completedTurns(ctx context.Context, sessionID string) ([]domain.AgentTurn, error) {
	turns, err := s.store.ListTurns(ctx, sessionID)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "turn list", Err: err}
	}
	completed := turns[:0]
	for _, t := range turns {
		if t.Status == domain.TurnStatusCompleted {
			completed = append(completed, t)
		}
	}
	return completed, nil
}

// appendTransition records a phase transition event with a single retry on
// persistence failure.
func (s *Service) appendTransition(ctx context.Context, sessionID string, tag domain.EventPhase, payload map[string]interface{}) error {
	_, err := s.events.Append(ctx, sessionID, tag, "", payload, eventlog.Causal{})
	if err != nil && ctx.Err() == nil {
		var persistence *domain.PersistenceError
		if errors.As(err, &persistence) {
			log.Printf("WARN: retrying %s event for session %s: %v", tag, sessionID, err)
			_, err = s.events.Append(ctx, sessionID, tag, "", payload, eventlog.Causal{})
		}
	}
	return err
}

// abort records the terminal aborted transition. The session context may
// already be done, so the append runs on its own short deadline.
func (s *Service) abort(sessionID, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := s.events.Append(ctx, sessionID, domain.EventSessionAborted, "",
		map[string]interface{}{"reason": reason}, eventlog.Causal{}); err != nil {
		log.Printf("ERROR: failed to record abort for session %s: %v", sessionID, err)
		return
	}
	log.Printf("session %s aborted: %s", sessionID, reason)
}

func cancelReason(ctx context.Context) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "wall clock budget exhausted"
	}
	return "Cancelled"
}

func abortReason(ctx context.Context, err error) string {
	if ctx.Err() != nil {
		return cancelReason(ctx)
	}
	var budgetErr *domain.BudgetExceededError
	if errors.As(err, &budgetErr) {
		return fmt.Sprintf("budget exhausted: %s", budgetErr.Reason)
	}
	return err.Error()
}
