package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/budget"
	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/domain"
	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/policy"
)

// Call is one requested tool invocation.
type Call struct {
	Tool string                 `json:"tool"`
	Args map[string]interface{} `json:"args"`
}

// Result is a successful invocation with its billed cost.
type Result struct {
	Outcome  *Outcome
	Cost     float64
	Attempts int
}

// Invoker runs tool calls through the policy gate and the budget tracker,
// retrying transient provider failures with exponential backoff. Rate limit
// and availability errors are retried up to maxRetries extra attempts,
// timeouts at most once, invalid arguments never. Every attempt reserves
// budget individually; only a successful attempt commits spend.
type Invoker struct {
	registry *Registry
	provider Provider
	policy   *policy.Engine
	budget   *budget.Tracker

	maxRetries  int
	backoffBase time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

// NewInvoker wires the invoker. policyEngine may be nil to disable the gate.
func NewInvoker(registry *Registry, provider Provider, policyEngine *policy.Engine, tracker *budget.Tracker, maxRetries int, backoffBase time.Duration) *Invoker {
	return &Invoker{
		registry:    registry,
		provider:    provider,
		policy:      policyEngine,
		budget:      tracker,
		maxRetries:  maxRetries,
		backoffBase: backoffBase,
		sleep:       sleepCtx,
	}
}

// Invoke executes one tool call for an agent within a session's budget.
func (i *Invoker) Invoke(ctx context.Context, sessionID, agentID string, call Call) (*Result, error) {
	def, ok := i.registry.Lookup(call.Tool)
	if !ok {
		return nil, &domain.ToolError{Kind: domain.ToolErrInvalidArgs, Tool: call.Tool, Message: "unknown tool"}
	}
	for _, key := range def.Required {
		if _, present := call.Args[key]; !present {
			return nil, &domain.ToolError{
				Kind:    domain.ToolErrInvalidArgs,
				Tool:    call.Tool,
				Message: fmt.Sprintf("missing required argument %q", key),
			}
		}
	}

	if i.policy != nil {
		decision, reason, err := i.policy.Evaluate(ctx, map[string]interface{}{
			"tool_name": call.Tool,
			"agent_id":  agentID,
			"args":      call.Args,
		})
		if err != nil {
			return nil, fmt.Errorf("tool policy evaluation failed: %w", err)
		}
		if decision != policy.DecisionAllow {
			return nil, &domain.ToolError{
				Kind:    domain.ToolErrInvalidArgs,
				Tool:    call.Tool,
				Message: fmt.Sprintf("blocked by policy: %s", reason),
			}
		}
	}

	transientRetries := 0
	timeoutRetried := false
	attempts := 0
	for {
		attempts++

		allowance, err := i.budget.Reserve(sessionID, agentID, def.CostPerCall)
		if err != nil {
			return nil, err
		}

		outcome, err := i.executeOnce(ctx, def, call)
		if err == nil {
			i.budget.Commit(allowance, def.CostPerCall)
			return &Result{Outcome: outcome, Cost: def.CostPerCall, Attempts: attempts}, nil
		}
		i.budget.Release(allowance)

		var toolErr *domain.ToolError
		if !errors.As(err, &toolErr) {
			return nil, err
		}

		retry := false
		switch {
		case toolErr.Kind == domain.ToolErrTimeout && !timeoutRetried:
			timeoutRetried = true
			retry = true
		case toolErr.Transient() && transientRetries < i.maxRetries:
			transientRetries++
			retry = true
		}
		if !retry {
			return nil, toolErr
		}

		if err := i.sleep(ctx, i.backoffBase<<(attempts-1)); err != nil {
			return nil, err
		}
	}
}

func (i *Invoker) executeOnce(ctx context.Context, def Definition, call Call) (*Outcome, error) {
	attemptCtx := ctx
	if def.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, def.Timeout)
		defer cancel()
	}

	outcome, err := i.provider.Execute(attemptCtx, def.Name, call.Args)
	if err != nil {
		// A deadline hit on the attempt context alone is this tool timing
		// out, not the session ending.
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &domain.ToolError{Kind: domain.ToolErrTimeout, Tool: def.Name, Message: err.Error()}
		}
		return nil, err
	}
	return outcome, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
