// Package runner executes single agent turns: capability calls, the bounded
// tool loop, and the persistence and event trail for each step.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/adapter/agentcap"
	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/budget"
	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/domain"
	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/eventlog"
	store "github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/repository"
	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/tools"
)

// Runner runs agent turns.
type Runner struct {
	store   store.Store
	events  *eventlog.Log
	budget  *budget.Tracker
	invoker *tools.Invoker
	agent   agentcap.Capability

	agentCallCost float64
	agentTimeout  time.Duration
	maxToolCalls  int
	toolFanout    int
}

// New wires a turn runner.
func New(s store.Store, events *eventlog.Log, tracker *budget.Tracker, invoker *tools.Invoker, agent agentcap.Capability,
	agentCallCost float64, agentTimeout time.Duration, maxToolCalls, toolFanout int) *Runner {
	if toolFanout < 1 {
		toolFanout = 1
	}
	return &Runner{
		store:         s,
		events:        events,
		budget:        tracker,
		invoker:       invoker,
		agent:         agent,
		agentCallCost: agentCallCost,
		agentTimeout:  agentTimeout,
		maxToolCalls:  maxToolCalls,
		toolFanout:    toolFanout,
	}
}

type toolAttempt struct {
	call   agentcap.ToolRequest
	result *tools.Result
	err    error
}

// RunTurn drives one agent through a full turn. On success the completed
// turn is returned; an agent that cannot produce a response surfaces as
// AgentUnavailableError, and budget exhaustion without partial text as
// BudgetExceededError. Either way the turn row and events record what
// happened.
func (r *Runner) RunTurn(ctx context.Context, session *domain.DiscussionSession, agentID string, round int, history []domain.AgentTurn) (*domain.AgentTurn, error) {
	turn := &domain.AgentTurn{
		TurnID:    "turn_" + uuid.New().String()[:8],
		SessionID: session.SessionID,
		AgentID:   agentID,
		Prompt:    buildPrompt(session.Topic, round),
		Status:    domain.TurnStatusRunning,
	}
	if err := r.store.CreateTurn(ctx, turn); err != nil {
		return nil, &domain.PersistenceError{Op: "turn create", Err: err}
	}
	if _, err := r.events.Append(ctx, session.SessionID, domain.EventTurnStarted, agentID,
		map[string]interface{}{"round": round}, eventlog.Causal{TurnID: turn.TurnID}); err != nil {
		return nil, err
	}

	var (
		partialText  string
		reflections  []string
		toolOutcomes []agentcap.ToolOutcome
		turnCost     float64
		toolsUsed    int
	)

	req := &agentcap.Request{
		SessionID: session.SessionID,
		TurnID:    turn.TurnID,
		AgentID:   agentID,
		Topic:     session.Topic,
		Round:     round,
		Prompt:    turn.Prompt,
		History:   historyEntries(history),
	}

	// The loop is bounded: each pass either finalizes the turn or consumes
	// tool call budget.
	for pass := 0; pass <= r.maxToolCalls+1; pass++ {
		req.ToolOutcomes = toolOutcomes

		resp, callCost, err := r.callAgent(ctx, session.SessionID, agentID, req)
		if err != nil {
			return r.handleTurnError(ctx, turn, agentID, partialText, reflections, turnCost, err)
		}
		turnCost += callCost

		if resp.Text != "" {
			partialText = resp.Text
		}
		reflections = append(reflections, resp.Reflections...)

		if len(resp.ToolCalls) == 0 {
			return r.completeTurn(ctx, turn, agentID, partialText, reflections, turnCost)
		}

		calls := resp.ToolCalls
		if toolsUsed+len(calls) > r.maxToolCalls {
			calls = calls[:r.maxToolCalls-toolsUsed]
		}
		if len(calls) == 0 {
			reflections = append(reflections, "truncated: tool call budget for this turn exhausted")
			return r.completeTurn(ctx, turn, agentID, partialText, reflections, turnCost)
		}
		toolsUsed += len(calls)

		attempts := r.runToolCalls(ctx, session.SessionID, agentID, calls)

		// Outcomes are recorded sequentially in request order, so the
		// event log stays deterministic regardless of execution order.
		for _, attempt := range attempts {
			if attempt.err != nil {
				if recErr := r.recordToolFailure(ctx, turn, agentID, attempt); recErr != nil {
					return nil, recErr
				}
				return r.handleTurnError(ctx, turn, agentID, partialText, reflections, turnCost, attempt.err)
			}
			outcome, recErr := r.recordToolSuccess(ctx, turn, agentID, attempt)
			if recErr != nil {
				return nil, recErr
			}
			toolOutcomes = append(toolOutcomes, outcome)
		}
	}

	reflections = append(reflections, "truncated: capability loop bound reached")
	return r.completeTurn(ctx, turn, agentID, partialText, reflections, turnCost)
}

// callAgent makes one budgeted capability call.
func (r *Runner) callAgent(ctx context.Context, sessionID, agentID string, req *agentcap.Request) (*agentcap.Response, float64, error) {
	allowance, err := r.budget.Reserve(sessionID, agentID, r.agentCallCost)
	if err != nil {
		return nil, 0, err
	}

	callCtx := ctx
	if r.agentTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.agentTimeout)
		defer cancel()
	}

	resp, err := r.agent.Respond(callCtx, req)
	if err != nil {
		r.budget.Release(allowance)
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		return nil, 0, &domain.AgentUnavailableError{AgentID: agentID, Err: err}
	}

	r.budget.Commit(allowance, r.agentCallCost)
	return resp, r.agentCallCost, nil
}

// runToolCalls executes the requested calls with bounded concurrency and
// returns their outcomes in request order.
func (r *Runner) runToolCalls(ctx context.Context, sessionID, agentID string, calls []agentcap.ToolRequest) []toolAttempt {
	attempts := make([]toolAttempt, len(calls))
	sem := make(chan struct{}, r.toolFanout)
	done := make(chan int)

	for i, call := range calls {
		go func(i int, call agentcap.ToolRequest) {
			sem <- struct{}{}
			defer func() { <-sem }()

			result, err := r.invoker.Invoke(ctx, sessionID, agentID, tools.Call{Tool: call.Tool, Args: call.Args})
			attempts[i] = toolAttempt{call: call, result: result, err: err}
			done <- i
		}(i, call)
	}
	for range calls {
		<-done
	}
	return attempts
}

func (r *Runner) recordToolSuccess(ctx context.Context, turn *domain.AgentTurn, agentID string, attempt toolAttempt) (agentcap.ToolOutcome, error) {
	result := &domain.ToolResult{
		ToolID:   "tool_" + uuid.New().String()[:8],
		TurnID:   turn.TurnID,
		ToolName: attempt.call.Tool,
		Output:   attempt.result.Outcome.Output,
		Metadata: attempt.result.Outcome.Metadata,
	}
	if err := r.store.CreateToolResult(ctx, result); err != nil {
		return agentcap.ToolOutcome{}, &domain.PersistenceError{Op: "tool result create", Err: err}
	}
	if _, err := r.events.Append(ctx, turn.SessionID, domain.EventToolCompleted, agentID,
		map[string]interface{}{"tool": attempt.call.Tool, "cost": attempt.result.Cost, "attempts": attempt.result.Attempts},
		eventlog.Causal{ToolID: result.ToolID}); err != nil {
		return agentcap.ToolOutcome{}, err
	}
	return agentcap.ToolOutcome{Tool: attempt.call.Tool, Output: result.Output}, nil
}

func (r *Runner) recordToolFailure(ctx context.Context, turn *domain.AgentTurn, agentID string, attempt toolAttempt) error {
	ctx, cancel := settleContext(ctx)
	defer cancel()
	_, err := r.events.Append(ctx, turn.SessionID, domain.EventToolFailed, agentID,
		map[string]interface{}{"tool": attempt.call.Tool, "error": attempt.err.Error()},
		eventlog.Causal{TurnID: turn.TurnID})
	return err
}

func (r *Runner) completeTurn(ctx context.Context, turn *domain.AgentTurn, agentID, text string, reflections []string, turnCost float64) (*domain.AgentTurn, error) {
	updated, err := r.store.CompleteTurn(ctx, turn.TurnID, text, reflections)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "turn complete", Err: err}
	}
	if !updated {
		log.Printf("WARN: turn %s was already completed; skipping", turn.TurnID)
	}
	if _, err := r.events.Append(ctx, turn.SessionID, domain.EventTurnCompleted, agentID,
		map[string]interface{}{"cost": turnCost}, eventlog.Causal{TurnID: turn.TurnID}); err != nil {
		return nil, err
	}
	return r.store.GetTurn(ctx, turn.TurnID)
}

// handleTurnError settles a turn that hit a budget wall or lost its agent.
// Budget exhaustion with partial text truncates the turn instead of failing
// it; the truncation is flagged in the reflections.
func (r *Runner) handleTurnError(ctx context.Context, turn *domain.AgentTurn, agentID, partialText string, reflections []string, turnCost float64, cause error) (*domain.AgentTurn, error) {
	var budgetErr *domain.BudgetExceededError
	if errors.As(cause, &budgetErr) && partialText != "" {
		reflections = append(reflections, fmt.Sprintf("truncated: %s", budgetErr.Reason))
		return r.completeTurn(ctx, turn, agentID, partialText, reflections, turnCost)
	}

	settleCtx, cancel := settleContext(ctx)
	defer cancel()
	if _, markErr := r.store.MarkTurnFailed(settleCtx, turn.TurnID); markErr != nil {
		log.Printf("ERROR: failed to mark turn %s failed: %v", turn.TurnID, markErr)
	}
	if _, evtErr := r.events.Append(settleCtx, turn.SessionID, domain.EventTurnFailed, agentID,
		map[string]interface{}{"error": cause.Error()}, eventlog.Causal{TurnID: turn.TurnID}); evtErr != nil {
		return nil, evtErr
	}
	return nil, cause
}

// settleContext returns ctx unchanged while it is alive. Once the run context
// is dead the failed attempt still has to be marked and its event recorded,
// so bookkeeping switches to a short-lived background context.
func settleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx.Err() == nil {
		return ctx, func() {}
	}
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func buildPrompt(topic string, round int) string {
	return fmt.Sprintf("Round %d of a structured discussion on: %s. State your position and engage the points already made.", round, topic)
}

func historyEntries(turns []domain.AgentTurn) []agentcap.HistoryEntry {
	entries := make([]agentcap.HistoryEntry, 0, len(turns))
	for _, t := range turns {
		if t.Status != domain.TurnStatusCompleted || t.Response == nil {
			continue
		}
		entries = append(entries, agentcap.HistoryEntry{AgentID: t.AgentID, Response: *t.Response})
	}
	return entries
}
