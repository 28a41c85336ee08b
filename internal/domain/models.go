package domain

import (
	"encoding/json"
	"time"
)

// DiscussionSession is the aggregate root for one debate on a topic.
// The phase is derived from the latest transition event, never stored.
type DiscussionSession struct {
	SessionID string    `json:"session_id"`
	Topic     string    `json:"topic"`
	Phase     Phase     `json:"phase"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AgentTurn is one agent's contribution within a round.
type AgentTurn struct {
	TurnID      string       `json:"turn_id"`
	SessionID   string       `json:"session_id"`
	AgentID     string       `json:"agent_id"`
	Prompt      string       `json:"prompt"`
	Response    *string      `json:"response,omitempty"`
	Reflections []string     `json:"reflections,omitempty"`
	Status      TurnStatus   `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// ToolResult is the outcome of one tool invocation performed during a turn.
type ToolResult struct {
	ToolID    string                 `json:"tool_id"`
	TurnID    string                 `json:"turn_id"`
	ToolName  string                 `json:"tool_name"`
	Output    string                 `json:"output"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// JudgeVerdict is one judge's assessment of the session history.
type JudgeVerdict struct {
	VerdictID  string                 `json:"verdict_id"`
	SessionID  string                 `json:"session_id"`
	JudgeID    string                 `json:"judge_id"`
	Summary    string                 `json:"summary"`
	OpenIssues []string               `json:"open_issues"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// DiscussionEvent is the immutable causal audit record. Seq is a monotonic
// per-session sequence number assigned at insert time; it breaks ordering
// ties between events with identical timestamps and doubles as the read
// cursor. At most one causal backlink may be set; backlinks are weak and are
// nulled when their target is deleted.
type DiscussionEvent struct {
	EventID         string          `json:"event_id"`
	SessionID       string          `json:"session_id"`
	Seq             int64           `json:"seq"`
	Phase           EventPhase      `json:"phase"`
	Actor           string          `json:"actor,omitempty"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	OccurredAt      time.Time       `json:"occurred_at"`
	CausalTurnID    string          `json:"causal_turn_id,omitempty"`
	CausalToolID    string          `json:"causal_tool_id,omitempty"`
	CausalVerdictID string          `json:"causal_verdict_id,omitempty"`
}
