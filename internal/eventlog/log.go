// Package eventlog maintains the append-only causal audit log for sessions.
package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/domain"
	store "github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/repository"
)

// Causal is an optional backlink to the entity that produced an event. At
// most one field may be set.
type Causal struct {
	TurnID    string
	ToolID    string
	VerdictID string
}

func (c Causal) count() int {
	n := 0
	if c.TurnID != "" {
		n++
	}
	if c.ToolID != "" {
		n++
	}
	if c.VerdictID != "" {
		n++
	}
	return n
}

// Log appends to and reads from the discussion event store.
type Log struct {
	store store.Store
}

// New creates an event log over the given store.
func New(s store.Store) *Log {
	return &Log{store: s}
}

// Append durably records one event and returns it with its assigned
// sequence number. A store failure surfaces as PersistenceError.
func (l *Log) Append(ctx context.Context, sessionID string, phase domain.EventPhase, actor string, payload interface{}, causal Causal) (*domain.DiscussionEvent, error) {
	if causal.count() > 1 {
		return nil, &domain.ValidationError{Message: "event may carry at most one causal backlink"}
	}

	var raw json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, &domain.ValidationError{Message: fmt.Sprintf("unencodable event payload: %v", err)}
		}
		raw = encoded
	}

	event := &domain.DiscussionEvent{
		EventID:         "evt_" + uuid.New().String()[:8],
		SessionID:       sessionID,
		Phase:           phase,
		Actor:           actor,
		Payload:         raw,
		OccurredAt:      time.Now().UTC(),
		CausalTurnID:    causal.TurnID,
		CausalToolID:    causal.ToolID,
		CausalVerdictID: causal.VerdictID,
	}
	if err := l.store.AppendEvent(ctx, event); err != nil {
		return nil, &domain.PersistenceError{Op: "event append", Err: err}
	}
	return event, nil
}

// ListSince returns events after the sequence cursor, oldest first.
func (l *Log) ListSince(ctx context.Context, sessionID string, cursor int64, limit int) ([]domain.DiscussionEvent, error) {
	events, err := l.store.ListEvents(ctx, sessionID, cursor, limit)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "event list", Err: err}
	}
	return events, nil
}

// ReplayState is the session state reconstructed from the event log alone.
type ReplayState struct {
	Phase         domain.Phase
	CommittedCost float64
	Rounds        int
	LastSeq       int64
}

// costPayload extracts the committed cost carried on work events.
type costPayload struct {
	Cost float64 `json:"cost"`
}

// Replay folds the full event log into session state, verifying along the
// way that the recorded phase sequence is a legal state machine path. It is
// the recovery path after a crash and a consistency check in tests.
func (l *Log) Replay(ctx context.Context, sessionID string) (*ReplayState, error) {
	const pageSize = 200

	state := &ReplayState{Phase: domain.PhaseCreated}
	started := false
	cursor := int64(0)
	for {
		events, err := l.ListSince(ctx, sessionID, cursor, pageSize)
		if err != nil {
			return nil, err
		}
		if len(events) == 0 {
			break
		}
		for _, event := range events {
			if err := state.apply(event, &started); err != nil {
				return nil, err
			}
			cursor = event.Seq
		}
	}
	state.LastSeq = cursor
	return state, nil
}

func (s *ReplayState) apply(event domain.DiscussionEvent, started *bool) error {
	if next, ok := domain.PhaseForEvent(event.Phase); ok {
		if next == domain.PhaseCreated {
			if *started {
				return fmt.Errorf("replay %s: duplicate session_created at seq %d", event.SessionID, event.Seq)
			}
			*started = true
			return nil
		}
		if !domain.CanTransition(s.Phase, next) {
			return fmt.Errorf("replay %s: illegal transition %s -> %s at seq %d",
				event.SessionID, s.Phase, next, event.Seq)
		}
		s.Phase = next
		if next == domain.PhaseDrafting {
			s.Rounds++
		}
		return nil
	}

	switch event.Phase {
	case domain.EventTurnStarted, domain.EventTurnFailed, domain.EventTurnCompleted,
		domain.EventToolCompleted, domain.EventToolFailed:
		if s.Phase != domain.PhaseDrafting {
			return fmt.Errorf("replay %s: %s outside Drafting at seq %d", event.SessionID, event.Phase, event.Seq)
		}
	case domain.EventVerdictRecorded:
		if s.Phase != domain.PhaseJudging {
			return fmt.Errorf("replay %s: verdict outside Judging at seq %d", event.SessionID, event.Seq)
		}
	default:
		return fmt.Errorf("replay %s: unknown event tag %q at seq %d", event.SessionID, event.Phase, event.Seq)
	}

	switch event.Phase {
	case domain.EventTurnCompleted, domain.EventToolCompleted, domain.EventVerdictRecorded:
		var p costPayload
		if len(event.Payload) > 0 {
			if err := json.Unmarshal(event.Payload, &p); err == nil {
				s.CommittedCost += p.Cost
			}
		}
	}
	return nil
}
