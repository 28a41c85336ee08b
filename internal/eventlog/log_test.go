package eventlog

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/domain"
	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/tests/helpers"
)

func newTestLog(t *testing.T) (*Log, string) {
	t.Helper()
	s := helpers.NewTestSQLiteStore(t)
	helpers.SeedSession(t, s, "s1", "Inflation outlook")
	return New(s), "s1"
}

func TestAppendAssignsSequence(t *testing.T) {
	ctx := context.Background()
	log, sessionID := newTestLog(t)

	first, err := log.Append(ctx, sessionID, domain.EventSessionCreated, "", nil, Causal{})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	second, err := log.Append(ctx, sessionID, domain.EventDraftingStarted, "", map[string]interface{}{"round": 1}, Causal{})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if first.Seq != 1 || second.Seq != 2 {
		t.Fatalf("unexpected sequence numbers: %d, %d", first.Seq, second.Seq)
	}
}

func TestAppendRejectsMultipleCausalRefs(t *testing.T) {
	ctx := context.Background()
	log, sessionID := newTestLog(t)

	_, err := log.Append(ctx, sessionID, domain.EventTurnCompleted, "agent-1", nil,
		Causal{TurnID: "turn_1", ToolID: "tool_1"})
	var validationErr *domain.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestListSinceIsRepeatable(t *testing.T) {
	ctx := context.Background()
	log, sessionID := newTestLog(t)

	tags := []domain.EventPhase{
		domain.EventSessionCreated,
		domain.EventDraftingStarted,
		domain.EventJudgingStarted,
	}
	for _, tag := range tags {
		if _, err := log.Append(ctx, sessionID, tag, "", nil, Causal{}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	first, err := log.ListSince(ctx, sessionID, 0, 0)
	if err != nil {
		t.Fatalf("ListSince failed: %v", err)
	}
	second, err := log.ListSince(ctx, sessionID, 0, 0)
	if err != nil {
		t.Fatalf("ListSince failed: %v", err)
	}
	if len(first) != 3 || len(second) != 3 {
		t.Fatalf("expected 3 events, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i].EventID != second[i].EventID {
			t.Fatalf("replay not deterministic at index %d", i)
		}
	}
}

func TestReplayReconstructsPhaseAndCost(t *testing.T) {
	ctx := context.Background()
	log, sessionID := newTestLog(t)

	steps := []struct {
		tag     domain.EventPhase
		payload interface{}
	}{
		{domain.EventSessionCreated, nil},
		{domain.EventDraftingStarted, map[string]interface{}{"round": 1}},
		{domain.EventTurnStarted, nil},
		{domain.EventToolCompleted, map[string]interface{}{"cost": 0.05}},
		{domain.EventTurnCompleted, map[string]interface{}{"cost": 0.02}},
		{domain.EventJudgingStarted, nil},
		{domain.EventVerdictRecorded, map[string]interface{}{"cost": 0.03}},
		{domain.EventSessionResolved, nil},
	}
	for _, step := range steps {
		if _, err := log.Append(ctx, sessionID, step.tag, "", step.payload, Causal{}); err != nil {
			t.Fatalf("Append %s failed: %v", step.tag, err)
		}
	}

	state, err := log.Replay(ctx, sessionID)
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if state.Phase != domain.PhaseResolved {
		t.Fatalf("expected RESOLVED, got %s", state.Phase)
	}
	if state.Rounds != 1 {
		t.Fatalf("expected 1 round, got %d", state.Rounds)
	}
	want := 0.05 + 0.02 + 0.03
	if state.CommittedCost < want-1e-9 || state.CommittedCost > want+1e-9 {
		t.Fatalf("expected committed cost %.4f, got %.4f", want, state.CommittedCost)
	}
	if state.LastSeq != int64(len(steps)) {
		t.Fatalf("expected last seq %d, got %d", len(steps), state.LastSeq)
	}
}

func TestReplayRejectsIllegalTransition(t *testing.T) {
	ctx := context.Background()
	log, sessionID := newTestLog(t)

	// Resolved without ever Judging is not a valid path.
	tags := []domain.EventPhase{
		domain.EventSessionCreated,
		domain.EventDraftingStarted,
		domain.EventSessionResolved,
	}
	for _, tag := range tags {
		if _, err := log.Append(ctx, sessionID, tag, "", nil, Causal{}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	_, err := log.Replay(ctx, sessionID)
	if err == nil || !strings.Contains(err.Error(), "illegal transition") {
		t.Fatalf("expected illegal transition error, got %v", err)
	}
}
