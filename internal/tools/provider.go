package tools

import "context"

// Outcome is the result of one successful tool execution.
type Outcome struct {
	Output   string                 `json:"output"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Provider executes tools. Failures should be returned as *domain.ToolError
// so the invoker can apply its retry policy; any other error is treated as
// non-retryable.
type Provider interface {
	Execute(ctx context.Context, tool string, args map[string]interface{}) (*Outcome, error)
}
