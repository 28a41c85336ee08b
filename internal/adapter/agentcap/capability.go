// Package agentcap abstracts the agent capability that drafts responses
// during a session's Drafting phase.
package agentcap

import "context"

// HistoryEntry is one prior completed turn visible to the agent.
type HistoryEntry struct {
	AgentID  string `json:"agent_id"`
	Response string `json:"response"`
}

// ToolRequest is a tool call the agent wants executed before it finalizes.
type ToolRequest struct {
	Tool string                 `json:"tool"`
	Args map[string]interface{} `json:"args"`
}

// ToolOutcome feeds a completed tool call's output back to the agent.
type ToolOutcome struct {
	Tool   string `json:"tool"`
	Output string `json:"output"`
}

// Request carries everything the agent needs to draft or continue a turn.
type Request struct {
	SessionID    string         `json:"session_id"`
	TurnID       string         `json:"turn_id"`
	AgentID      string         `json:"agent_id"`
	Topic        string         `json:"topic"`
	Round        int            `json:"round"`
	Prompt       string         `json:"prompt"`
	History      []HistoryEntry `json:"history,omitempty"`
	ToolOutcomes []ToolOutcome  `json:"tool_outcomes,omitempty"`
}

// Response is the agent's answer for one capability call. A non-empty
// ToolCalls list means the agent is not done yet; the runner executes the
// calls and asks again with their outcomes attached.
type Response struct {
	Text        string        `json:"text"`
	Reflections []string      `json:"reflections,omitempty"`
	ToolCalls   []ToolRequest `json:"tool_calls,omitempty"`
}

// Capability produces agent responses.
type Capability interface {
	Respond(ctx context.Context, req *Request) (*Response, error)
}
