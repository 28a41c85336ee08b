package tools

import (
	"context"
	"fmt"

	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/domain"
)

// BuiltinProvider serves the shipped tools with deterministic canned output.
// It stands in for real providers in local runs and tests.
type BuiltinProvider struct{}

// NewBuiltinProvider creates the canned tool provider.
func NewBuiltinProvider() *BuiltinProvider {
	return &BuiltinProvider{}
}

func (p *BuiltinProvider) Execute(ctx context.Context, tool string, args map[string]interface{}) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.ToolError{Kind: domain.ToolErrTimeout, Tool: tool, Message: err.Error()}
	}

	switch tool {
	case "search":
		query, _ := args["query"].(string)
		return &Outcome{
			Output:   fmt.Sprintf("Top results for %q: consensus forecasts diverge on timing but agree on direction.", query),
			Metadata: map[string]interface{}{"results": 3, "source": "builtin"},
		}, nil
	case "alphavantage":
		symbol, _ := args["symbol"].(string)
		return &Outcome{
			Output:   fmt.Sprintf(`{"symbol":%q,"price":187.42,"change_pct":-0.8}`, symbol),
			Metadata: map[string]interface{}{"provider": "builtin", "delayed": true},
		}, nil
	case "quant_sandbox":
		script, _ := args["script"].(string)
		return &Outcome{
			Output:   fmt.Sprintf("sandbox evaluated %d bytes; result: 0.0421", len(script)),
			Metadata: map[string]interface{}{"runtime_ms": 12},
		}, nil
	default:
		return nil, &domain.ToolError{Kind: domain.ToolErrInvalidArgs, Tool: tool, Message: "unknown tool"}
	}
}
