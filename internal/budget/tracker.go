// Package budget enforces per-session cost and time budgets with a
// two-phase reserve/commit protocol.
package budget

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/domain"
)

// Caps holds the configured ceilings for one session.
type Caps struct {
	// Spend is the session-wide cost cap.
	Spend float64
	// AgentCalls caps capability calls per agent within the session.
	AgentCalls int
	// WallClock bounds the session's total runtime.
	WallClock time.Duration
}

// Snapshot is a read-only view of a session's budget state.
type Snapshot struct {
	SpendCap   float64        `json:"spend_cap"`
	Reserved   float64        `json:"reserved"`
	Committed  float64        `json:"committed"`
	AgentCalls map[string]int `json:"agent_calls"`
	Deadline   time.Time      `json:"deadline"`
}

// Allowance is an authorized reservation. Exactly one of Commit or Release
// settles it; further settlements are no-ops.
type Allowance struct {
	SessionID string
	AgentID   string
	Amount    float64

	ledger  *ledger
	settled bool
}

type ledger struct {
	// mu is the session's serialization point: all reservation state is
	// mutated under it, so concurrent tool calls cannot jointly overrun
	// the cap.
	mu         sync.Mutex
	caps       Caps
	deadline   time.Time
	reserved   float64
	committed  float64
	agentCalls map[string]int
}

// Tracker tracks cost and time consumption per session and per agent.
type Tracker struct {
	mu      sync.Mutex
	ledgers map[string]*ledger
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{ledgers: make(map[string]*ledger)}
}

// Open registers a session's caps and starts its wall clock.
func (t *Tracker) Open(sessionID string, caps Caps, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.ledgers[sessionID]; exists {
		return
	}
	t.ledgers[sessionID] = &ledger{
		caps:       caps,
		deadline:   now.Add(caps.WallClock),
		agentCalls: make(map[string]int),
	}
}

// Forget drops a session's ledger after the session is deleted.
func (t *Tracker) Forget(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.ledgers, sessionID)
}

func (t *Tracker) ledger(sessionID string) (*ledger, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.ledgers[sessionID]
	return l, ok
}

// Reserve authorizes a unit of work costing estimated. Work must not start
// without a successful reservation.
func (t *Tracker) Reserve(sessionID, agentID string, estimated float64) (*Allowance, error) {
	l, ok := t.ledger(sessionID)
	if !ok {
		return nil, fmt.Errorf("no budget ledger for session %s", sessionID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.deadline.IsZero() && time.Now().After(l.deadline) {
		return nil, &domain.BudgetExceededError{SessionID: sessionID, AgentID: agentID, Reason: "wall clock budget exhausted"}
	}
	if l.committed+l.reserved+estimated > l.caps.Spend {
		return nil, &domain.BudgetExceededError{
			SessionID: sessionID,
			AgentID:   agentID,
			Reason:    fmt.Sprintf("spend cap %.2f would be exceeded", l.caps.Spend),
		}
	}
	if l.caps.AgentCalls > 0 && agentID != "" && l.agentCalls[agentID]+1 > l.caps.AgentCalls {
		return nil, &domain.BudgetExceededError{
			SessionID: sessionID,
			AgentID:   agentID,
			Reason:    fmt.Sprintf("call cap %d for %s would be exceeded", l.caps.AgentCalls, agentID),
		}
	}

	l.reserved += estimated
	if agentID != "" {
		l.agentCalls[agentID]++
	}
	return &Allowance{SessionID: sessionID, AgentID: agentID, Amount: estimated, ledger: l}, nil
}

// Commit reconciles a reservation with the actual cost of completed work.
// Actual cost above the reservation is clamped so committed totals can never
// exceed the cap authorized at reserve time.
func (t *Tracker) Commit(a *Allowance, actual float64) {
	if a == nil || a.ledger == nil {
		return
	}
	a.ledger.mu.Lock()
	defer a.ledger.mu.Unlock()
	if a.settled {
		return
	}
	a.settled = true
	if actual > a.Amount {
		log.Printf("WARN: actual cost %.4f above reservation %.4f for session %s; clamping", actual, a.Amount, a.SessionID)
		actual = a.Amount
	}
	a.ledger.reserved -= a.Amount
	a.ledger.committed += actual
}

// Release refunds a reservation for work that failed before producing a
// billable result.
func (t *Tracker) Release(a *Allowance) {
	if a == nil || a.ledger == nil {
		return
	}
	a.ledger.mu.Lock()
	defer a.ledger.mu.Unlock()
	if a.settled {
		return
	}
	a.settled = true
	a.ledger.reserved -= a.Amount
	if a.AgentID != "" {
		a.ledger.agentCalls[a.AgentID]--
	}
}

// Snapshot returns the session's current budget state.
func (t *Tracker) Snapshot(sessionID string) (Snapshot, bool) {
	l, ok := t.ledger(sessionID)
	if !ok {
		return Snapshot{}, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	calls := make(map[string]int, len(l.agentCalls))
	for agent, n := range l.agentCalls {
		calls[agent] = n
	}
	return Snapshot{
		SpendCap:   l.caps.Spend,
		Reserved:   l.reserved,
		Committed:  l.committed,
		AgentCalls: calls,
		Deadline:   l.deadline,
	}, true
}

// Deadline returns the session's wall-clock deadline.
func (t *Tracker) Deadline(sessionID string) (time.Time, bool) {
	l, ok := t.ledger(sessionID)
	if !ok {
		return time.Time{}, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.deadline, true
}
