package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/adapter/agentcap"
	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/adapter/judgecap"
	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/budget"
	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/config"
	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/domain"
	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/eventlog"
	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/judge"
	store "github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/repository"
	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/runner"
	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/tools"
	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/tests/helpers"
)

type agentFunc func(ctx context.Context, req *agentcap.Request) (*agentcap.Response, error)

func (f agentFunc) Respond(ctx context.Context, req *agentcap.Request) (*agentcap.Response, error) {
	return f(ctx, req)
}

type judgeFunc func(ctx context.Context, req *judgecap.Request) (*judgecap.Verdict, error)

func (f judgeFunc) Review(ctx context.Context, req *judgecap.Request) (*judgecap.Verdict, error) {
	return f(ctx, req)
}

func testConfig() *config.Config {
	return &config.Config{
		Agents:           []string{"agent-1", "agent-2"},
		Judges:           []string{"judge-1"},
		TurnOrder:        config.TurnOrderRoundRobin,
		MaxRounds:        3,
		TurnRetries:      1,
		MaxToolCallsTurn: 8,
		ToolFanout:       2,
		SessionSpendCap:  10,
		AgentCallCap:     100,
		SessionWallClock: time.Minute,
		AgentCallCost:    0.02,
		JudgeCallCost:    0.03,
		AgentTimeout:     time.Second,
		JudgeTimeout:     time.Second,
		ToolMaxRetries:   1,
		ToolBackoffBase:  time.Millisecond,
	}
}

func newTestService(t *testing.T, cfg *config.Config, agent agentcap.Capability, judgeCap judgecap.Capability) (*Service, *store.SQLiteStore) {
	t.Helper()
	s := helpers.NewTestSQLiteStore(t)
	events := eventlog.New(s)
	tracker := budget.NewTracker()
	invoker := tools.NewInvoker(tools.BuiltinRegistry(), tools.NewBuiltinProvider(), nil, tracker, cfg.ToolMaxRetries, cfg.ToolBackoffBase)
	turnRunner := runner.New(s, events, tracker, invoker, agent, cfg.AgentCallCost, cfg.AgentTimeout, cfg.MaxToolCallsTurn, cfg.ToolFanout)
	panel := judge.New(s, events, tracker, judgeCap, cfg.Judges, cfg.JudgeCallCost, cfg.JudgeTimeout)
	return New(s, events, tracker, turnRunner, panel, cfg), s
}

func runToCompletion(t *testing.T, svc *Service, topic string) string {
	t.Helper()
	session, err := svc.StartSession(context.Background(), topic)
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	svc.Wait(session.SessionID)
	return session.SessionID
}

func sessionEvents(t *testing.T, svc *Service, sessionID string) []domain.DiscussionEvent {
	t.Helper()
	events, err := svc.ListEvents(context.Background(), sessionID, 0, 0)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	return events
}

func abortReasonOf(t *testing.T, events []domain.DiscussionEvent) string {
	t.Helper()
	last := events[len(events)-1]
	if last.Phase != domain.EventSessionAborted {
		t.Fatalf("expected session_aborted last, got %s", last.Phase)
	}
	var payload struct {
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(last.Payload, &payload); err != nil {
		t.Fatalf("failed to decode abort payload: %v", err)
	}
	return payload.Reason
}

func TestSessionResolvesOnFirstRoundConsensus(t *testing.T) {
	agent := agentFunc(func(ctx context.Context, req *agentcap.Request) (*agentcap.Response, error) {
		return &agentcap.Response{Text: fmt.Sprintf("%s states its position.", req.AgentID)}, nil
	})
	judgeCap := judgeFunc(func(ctx context.Context, req *judgecap.Request) (*judgecap.Verdict, error) {
		return &judgecap.Verdict{Summary: "Settled."}, nil
	})
	svc, s := newTestService(t, testConfig(), agent, judgeCap)

	sessionID := runToCompletion(t, svc, "Does QE distort price discovery?")

	session, err := s.GetSession(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if session.Phase != domain.PhaseResolved {
		t.Fatalf("expected RESOLVED, got %s", session.Phase)
	}

	want := []domain.EventPhase{
		domain.EventSessionCreated,
		domain.EventDraftingStarted,
		domain.EventTurnStarted,
		domain.EventTurnCompleted,
		domain.EventTurnStarted,
		domain.EventTurnCompleted,
		domain.EventJudgingStarted,
		domain.EventVerdictRecorded,
		domain.EventSessionResolved,
	}
	events := sessionEvents(t, svc, sessionID)
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d: %v", len(want), len(events), events)
	}
	for i, e := range events {
		if e.Phase != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], e.Phase)
		}
		if e.Seq != int64(i+1) {
			t.Fatalf("event %d: expected seq %d, got %d", i, i+1, e.Seq)
		}
	}

	// The recorded history must replay as a legal state machine path.
	state, err := eventlog.New(s).Replay(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if state.Phase != domain.PhaseResolved || state.Rounds != 1 {
		t.Fatalf("unexpected replay state %+v", state)
	}
}

func TestSessionAbortsWhenAgentStaysUnavailable(t *testing.T) {
	calls := 0
	agent := agentFunc(func(ctx context.Context, req *agentcap.Request) (*agentcap.Response, error) {
		calls++
		return nil, fmt.Errorf("connection refused")
	})
	judgeCap := judgeFunc(func(ctx context.Context, req *judgecap.Request) (*judgecap.Verdict, error) {
		t.Error("judge must not run when drafting aborts")
		return nil, fmt.Errorf("unreachable")
	})
	svc, s := newTestService(t, testConfig(), agent, judgeCap)

	sessionID := runToCompletion(t, svc, "Is gold a hedge?")

	if calls != 2 {
		t.Fatalf("expected 2 attempts (1 + 1 retry), got %d", calls)
	}

	session, err := s.GetSession(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if session.Phase != domain.PhaseAborted {
		t.Fatalf("expected ABORTED, got %s", session.Phase)
	}

	events := sessionEvents(t, svc, sessionID)
	if reason := abortReasonOf(t, events); reason != "AgentUnavailable: agent-1" {
		t.Fatalf("unexpected abort reason %q", reason)
	}

	turns, err := s.ListTurns(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("ListTurns failed: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected 2 failed turn rows, got %d", len(turns))
	}
	for _, turn := range turns {
		if turn.Status != domain.TurnStatusFailed {
			t.Fatalf("expected FAILED turn, got %s", turn.Status)
		}
	}
}

func TestSessionAbortsWithoutConsensusAfterMaxRounds(t *testing.T) {
	agent := agentFunc(func(ctx context.Context, req *agentcap.Request) (*agentcap.Response, error) {
		return &agentcap.Response{Text: fmt.Sprintf("%s round %d position.", req.AgentID, req.Round)}, nil
	})
	judgeCap := judgeFunc(func(ctx context.Context, req *judgecap.Request) (*judgecap.Verdict, error) {
		return &judgecap.Verdict{Summary: "Not settled.", OpenIssues: []string{"evidence is thin"}}, nil
	})
	cfg := testConfig()
	cfg.MaxRounds = 2
	svc, s := newTestService(t, cfg, agent, judgeCap)

	sessionID := runToCompletion(t, svc, "Will inflation undershoot?")

	session, err := s.GetSession(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if session.Phase != domain.PhaseAborted {
		t.Fatalf("expected ABORTED, got %s", session.Phase)
	}

	events := sessionEvents(t, svc, sessionID)
	if reason := abortReasonOf(t, events); reason != "no consensus after 2 rounds" {
		t.Fatalf("unexpected abort reason %q", reason)
	}

	// Replay must confirm both rounds ran.
	state, err := eventlog.New(s).Replay(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if state.Rounds != 2 {
		t.Fatalf("expected 2 rounds, got %d", state.Rounds)
	}
}

func TestCancelSessionAbortsCooperatively(t *testing.T) {
	started := make(chan struct{})
	agent := agentFunc(func(ctx context.Context, req *agentcap.Request) (*agentcap.Response, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return nil, ctx.Err()
	})
	judgeCap := judgeFunc(func(ctx context.Context, req *judgecap.Request) (*judgecap.Verdict, error) {
		return &judgecap.Verdict{Summary: "Settled."}, nil
	})
	cfg := testConfig()
	cfg.AgentTimeout = 30 * time.Second
	svc, s := newTestService(t, cfg, agent, judgeCap)

	session, err := svc.StartSession(context.Background(), "A long argument")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	<-started

	if err := svc.CancelSession(context.Background(), session.SessionID); err != nil {
		t.Fatalf("CancelSession failed: %v", err)
	}
	svc.Wait(session.SessionID)

	loaded, err := s.GetSession(context.Background(), session.SessionID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if loaded.Phase != domain.PhaseAborted {
		t.Fatalf("expected ABORTED, got %s", loaded.Phase)
	}

	events := sessionEvents(t, svc, session.SessionID)
	if reason := abortReasonOf(t, events); reason != "Cancelled" {
		t.Fatalf("unexpected abort reason %q", reason)
	}

	// The in-flight turn must be settled, never left running.
	turns, err := s.ListTurns(context.Background(), session.SessionID)
	if err != nil {
		t.Fatalf("ListTurns failed: %v", err)
	}
	for _, turn := range turns {
		if turn.Status == domain.TurnStatusRunning {
			t.Fatalf("turn %s left RUNNING in an aborted session", turn.TurnID)
		}
	}
	if len(turns) != 1 || turns[0].Status != domain.TurnStatusFailed {
		t.Fatalf("expected one FAILED turn, got %+v", turns)
	}
}

func TestDeleteSessionRefusedWhileRunning(t *testing.T) {
	blocked := make(chan struct{})
	agent := agentFunc(func(ctx context.Context, req *agentcap.Request) (*agentcap.Response, error) {
		select {
		case blocked <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return nil, ctx.Err()
	})
	judgeCap := judgeFunc(func(ctx context.Context, req *judgecap.Request) (*judgecap.Verdict, error) {
		return &judgecap.Verdict{Summary: "Settled."}, nil
	})
	cfg := testConfig()
	cfg.AgentTimeout = 30 * time.Second
	svc, _ := newTestService(t, cfg, agent, judgeCap)

	session, err := svc.StartSession(context.Background(), "Deletable?")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	<-blocked

	if err := svc.DeleteSession(context.Background(), session.SessionID); err == nil {
		t.Fatalf("expected delete to be refused while running")
	}

	if err := svc.CancelSession(context.Background(), session.SessionID); err != nil {
		t.Fatalf("CancelSession failed: %v", err)
	}
	svc.Wait(session.SessionID)

	if err := svc.DeleteSession(context.Background(), session.SessionID); err != nil {
		t.Fatalf("DeleteSession failed after finish: %v", err)
	}
	if _, err := svc.GetSessionDetail(context.Background(), session.SessionID); err == nil {
		t.Fatalf("expected session to be gone")
	}
}
