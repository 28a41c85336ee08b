package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/budget"
	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/domain"
)

// scriptedProvider fails with the queued errors in order, then succeeds.
type scriptedProvider struct {
	failures []error
	calls    int
}

func (p *scriptedProvider) Execute(ctx context.Context, tool string, args map[string]interface{}) (*Outcome, error) {
	p.calls++
	if len(p.failures) > 0 {
		err := p.failures[0]
		p.failures = p.failures[1:]
		return nil, err
	}
	return &Outcome{Output: "ok"}, nil
}

func newTestInvoker(t *testing.T, provider Provider, maxRetries int, caps budget.Caps) (*Invoker, *budget.Tracker) {
	t.Helper()
	tracker := budget.NewTracker()
	tracker.Open("s1", caps, time.Now())
	inv := NewInvoker(BuiltinRegistry(), provider, nil, tracker, maxRetries, time.Millisecond)
	inv.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return inv, tracker
}

func defaultCaps() budget.Caps {
	return budget.Caps{Spend: 10, AgentCalls: 100, WallClock: time.Minute}
}

func TestInvokeSucceedsAndCommitsCost(t *testing.T) {
	provider := &scriptedProvider{}
	inv, tracker := newTestInvoker(t, provider, 2, defaultCaps())

	res, err := inv.Invoke(context.Background(), "s1", "agent-1", Call{
		Tool: "search",
		Args: map[string]interface{}{"query": "bond yields"},
	})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if res.Attempts != 1 || res.Cost != 0.01 {
		t.Fatalf("unexpected result: attempts=%d cost=%v", res.Attempts, res.Cost)
	}

	snap, _ := tracker.Snapshot("s1")
	if snap.Committed != 0.01 || snap.Reserved != 0 {
		t.Fatalf("unexpected budget state: %+v", snap)
	}
}

func TestInvokeRetriesRateLimitedExactlyMaxRetriesTimes(t *testing.T) {
	rateLimited := &domain.ToolError{Kind: domain.ToolErrRateLimited, Tool: "search", Message: "429"}
	provider := &scriptedProvider{failures: []error{rateLimited, rateLimited, rateLimited, rateLimited, rateLimited}}
	inv, tracker := newTestInvoker(t, provider, 2, defaultCaps())

	_, err := inv.Invoke(context.Background(), "s1", "agent-1", Call{
		Tool: "search",
		Args: map[string]interface{}{"query": "x"},
	})
	var toolErr *domain.ToolError
	if !errors.As(err, &toolErr) || toolErr.Kind != domain.ToolErrRateLimited {
		t.Fatalf("expected rate limited error, got %v", err)
	}
	if provider.calls != 3 {
		t.Fatalf("expected 3 attempts (1 + 2 retries), got %d", provider.calls)
	}

	// Every failed attempt must be refunded.
	snap, _ := tracker.Snapshot("s1")
	if snap.Committed != 0 || snap.Reserved != 0 {
		t.Fatalf("failed attempts leaked budget: %+v", snap)
	}
	if snap.AgentCalls["agent-1"] != 0 {
		t.Fatalf("failed attempts leaked call count: %d", snap.AgentCalls["agent-1"])
	}
}

func TestInvokeDoesNotRetryInvalidArgs(t *testing.T) {
	invalid := &domain.ToolError{Kind: domain.ToolErrInvalidArgs, Tool: "search", Message: "bad query"}
	provider := &scriptedProvider{failures: []error{invalid}}
	inv, _ := newTestInvoker(t, provider, 2, defaultCaps())

	_, err := inv.Invoke(context.Background(), "s1", "agent-1", Call{
		Tool: "search",
		Args: map[string]interface{}{"query": "x"},
	})
	var toolErr *domain.ToolError
	if !errors.As(err, &toolErr) || toolErr.Kind != domain.ToolErrInvalidArgs {
		t.Fatalf("expected invalid args error, got %v", err)
	}
	if provider.calls != 1 {
		t.Fatalf("invalid args must not retry, got %d attempts", provider.calls)
	}
}

func TestInvokeRetriesTimeoutOnce(t *testing.T) {
	timeout := &domain.ToolError{Kind: domain.ToolErrTimeout, Tool: "search", Message: "deadline"}

	// Timeout then success: second attempt wins.
	provider := &scriptedProvider{failures: []error{timeout}}
	inv, _ := newTestInvoker(t, provider, 2, defaultCaps())
	res, err := inv.Invoke(context.Background(), "s1", "agent-1", Call{
		Tool: "search",
		Args: map[string]interface{}{"query": "x"},
	})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if res.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", res.Attempts)
	}

	// Two consecutive timeouts exhaust the single retry.
	provider = &scriptedProvider{failures: []error{timeout, timeout}}
	inv, _ = newTestInvoker(t, provider, 2, defaultCaps())
	_, err = inv.Invoke(context.Background(), "s1", "agent-1", Call{
		Tool: "search",
		Args: map[string]interface{}{"query": "x"},
	})
	var toolErr *domain.ToolError
	if !errors.As(err, &toolErr) || toolErr.Kind != domain.ToolErrTimeout {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if provider.calls != 2 {
		t.Fatalf("timeout retries at most once, got %d attempts", provider.calls)
	}
}

func TestInvokeRejectsUnknownToolWithoutProviderCall(t *testing.T) {
	provider := &scriptedProvider{}
	inv, _ := newTestInvoker(t, provider, 2, defaultCaps())

	_, err := inv.Invoke(context.Background(), "s1", "agent-1", Call{Tool: "telepathy"})
	var toolErr *domain.ToolError
	if !errors.As(err, &toolErr) || toolErr.Kind != domain.ToolErrInvalidArgs {
		t.Fatalf("expected invalid args error, got %v", err)
	}
	if provider.calls != 0 {
		t.Fatalf("provider must not be called for unknown tools")
	}
}

func TestInvokeRejectsMissingRequiredArgument(t *testing.T) {
	provider := &scriptedProvider{}
	inv, _ := newTestInvoker(t, provider, 2, defaultCaps())

	_, err := inv.Invoke(context.Background(), "s1", "agent-1", Call{
		Tool: "alphavantage",
		Args: map[string]interface{}{},
	})
	var toolErr *domain.ToolError
	if !errors.As(err, &toolErr) || toolErr.Kind != domain.ToolErrInvalidArgs {
		t.Fatalf("expected invalid args error, got %v", err)
	}
	if provider.calls != 0 {
		t.Fatalf("provider must not be called without required args")
	}
}

func TestInvokePropagatesBudgetExhaustion(t *testing.T) {
	provider := &scriptedProvider{}
	// quant_sandbox costs 0.5 per call; a 0.4 cap cannot admit any attempt.
	inv, _ := newTestInvoker(t, provider, 2, budget.Caps{Spend: 0.4, AgentCalls: 100, WallClock: time.Minute})

	_, err := inv.Invoke(context.Background(), "s1", "agent-1", Call{
		Tool: "quant_sandbox",
		Args: map[string]interface{}{"script": "print(1)"},
	})
	var budgetErr *domain.BudgetExceededError
	if !errors.As(err, &budgetErr) {
		t.Fatalf("expected budget exceeded error, got %v", err)
	}
	if provider.calls != 0 {
		t.Fatalf("provider must not be called without a reservation")
	}
}
