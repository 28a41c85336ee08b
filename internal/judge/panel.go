// Package judge runs the verdict panel at each round boundary.
package judge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/adapter/judgecap"
	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/budget"
	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/domain"
	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/eventlog"
	store "github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/repository"
)

// Outcome is the panel's combined view after one judging pass. Consensus
// is reached when no judge left an issue open.
type Outcome struct {
	Consensus  bool
	Summary    string
	OpenIssues []string
	Verdicts   []domain.JudgeVerdict
}

// Panel evaluates session history with a committee of judges.
type Panel struct {
	store  store.Store
	events *eventlog.Log
	budget *budget.Tracker
	judge  judgecap.Capability

	judges        []string
	judgeCallCost float64
	judgeTimeout  time.Duration
}

// New wires a judge panel.
func New(s store.Store, events *eventlog.Log, tracker *budget.Tracker, capability judgecap.Capability,
	judges []string, judgeCallCost float64, judgeTimeout time.Duration) *Panel {
	return &Panel{
		store:         s,
		events:        events,
		budget:        tracker,
		judge:         capability,
		judges:        judges,
		judgeCallCost: judgeCallCost,
		judgeTimeout:  judgeTimeout,
	}
}

// Evaluate runs every judge sequentially over the completed turns, persists
// their verdicts and reports the combined outcome. A judge that cannot be
// reached is skipped with a warning; the pass fails only if no judge
// produced a verdict or the session ran out of budget.
func (p *Panel) Evaluate(ctx context.Context, session *domain.DiscussionSession, round int, turns []domain.AgentTurn) (*Outcome, error) {
	req := &judgecap.Request{
		SessionID: session.SessionID,
		Topic:     session.Topic,
		Round:     round,
		Turns:     turnSummaries(turns),
	}

	var verdicts []domain.JudgeVerdict
	for _, judgeID := range p.judges {
		verdict, err := p.reviewOnce(ctx, session.SessionID, judgeID, req)
		if err != nil {
			var budgetErr *domain.BudgetExceededError
			if errors.As(err, &budgetErr) || ctx.Err() != nil {
				return nil, err
			}
			log.Printf("WARN: judge %s skipped for session %s: %v", judgeID, session.SessionID, err)
			continue
		}
		verdicts = append(verdicts, *verdict)
	}
	if len(verdicts) == 0 {
		return nil, fmt.Errorf("no judge produced a verdict for session %s", session.SessionID)
	}

	issues := mergedOpenIssues(verdicts)
	return &Outcome{
		Consensus:  len(issues) == 0,
		Summary:    pluralitySummary(verdicts),
		OpenIssues: issues,
		Verdicts:   verdicts,
	}, nil
}

func (p *Panel) reviewOnce(ctx context.Context, sessionID, judgeID string, req *judgecap.Request) (*domain.JudgeVerdict, error) {
	allowance, err := p.budget.Reserve(sessionID, judgeID, p.judgeCallCost)
	if err != nil {
		return nil, err
	}

	callCtx := ctx
	if p.judgeTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.judgeTimeout)
		defer cancel()
	}

	judgeReq := *req
	judgeReq.JudgeID = judgeID
	result, err := p.judge.Review(callCtx, &judgeReq)
	if err != nil {
		p.budget.Release(allowance)
		return nil, err
	}
	p.budget.Commit(allowance, p.judgeCallCost)

	verdict := &domain.JudgeVerdict{
		VerdictID:  "vd_" + uuid.New().String()[:8],
		SessionID:  sessionID,
		JudgeID:    judgeID,
		Summary:    result.Summary,
		OpenIssues: result.OpenIssues,
		Metadata:   result.Metadata,
	}
	if err := p.store.CreateVerdict(ctx, verdict); err != nil {
		return nil, &domain.PersistenceError{Op: "verdict create", Err: err}
	}
	if _, err := p.events.Append(ctx, sessionID, domain.EventVerdictRecorded, judgeID,
		map[string]interface{}{"cost": p.judgeCallCost, "open_issues": len(result.OpenIssues)},
		eventlog.Causal{VerdictID: verdict.VerdictID}); err != nil {
		return nil, err
	}
	return verdict, nil
}

// pluralitySummary picks the most common verdict summary. Ties go to the
// judge whose verdict was recorded first.
func pluralitySummary(verdicts []domain.JudgeVerdict) string {
	counts := make(map[string]int)
	for _, v := range verdicts {
		counts[v.Summary]++
	}
	best := verdicts[0].Summary
	for _, v := range verdicts {
		if counts[v.Summary] > counts[best] {
			best = v.Summary
		}
	}
	return best
}

func mergedOpenIssues(verdicts []domain.JudgeVerdict) []string {
	seen := make(map[string]bool)
	var issues []string
	for _, v := range verdicts {
		for _, issue := range v.OpenIssues {
			if !seen[issue] {
				seen[issue] = true
				issues = append(issues, issue)
			}
		}
	}
	sort.Strings(issues)
	return issues
}

func turnSummaries(turns []domain.AgentTurn) []judgecap.TurnSummary {
	summaries := make([]judgecap.TurnSummary, 0, len(turns))
	for _, t := range turns {
		if t.Status != domain.TurnStatusCompleted || t.Response == nil {
			continue
		}
		summaries = append(summaries, judgecap.TurnSummary{AgentID: t.AgentID, Response: *t.Response})
	}
	return summaries
}
