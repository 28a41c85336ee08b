// Package judgecap abstracts the judge capability that reviews session
// history during the Judging phase.
package judgecap

import "context"

// TurnSummary is one completed turn presented to a judge.
type TurnSummary struct {
	AgentID  string `json:"agent_id"`
	Response string `json:"response"`
}

// Request carries the material a judge reviews.
type Request struct {
	SessionID string        `json:"session_id"`
	JudgeID   string        `json:"judge_id"`
	Topic     string        `json:"topic"`
	Round     int           `json:"round"`
	Turns     []TurnSummary `json:"turns"`
}

// Verdict is one judge's assessment. An empty OpenIssues list is a vote
// that the discussion is settled.
type Verdict struct {
	Summary    string                 `json:"summary"`
	OpenIssues []string               `json:"open_issues"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Capability produces judge verdicts.
type Capability interface {
	Review(ctx context.Context, req *Request) (*Verdict, error)
}
