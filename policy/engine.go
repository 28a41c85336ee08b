// Package policy gates tool invocations through an OPA rego policy.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Decision values returned by the tool policy.
const (
	DecisionAllow = "allow"
	DecisionBlock = "block"
)

// Engine evaluates the tool invocation policy.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine compiles the given rego module and prepares the decision query.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.socratic.tools.decision"),
		rego.Module("socratic_tools.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate checks whether a tool invocation is permitted. Input carries
// tool_name, args and agent_id. The policy returns either a bare decision
// string or an object {"decision": ..., "reason": ...}.
func (e *Engine) Evaluate(ctx context.Context, input interface{}) (string, string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		// The shipped policies always define a default; an undefined result
		// means a custom policy forgot one, so fail closed.
		return DecisionBlock, "policy produced no decision", nil
	}

	switch val := results[0].Expressions[0].Value.(type) {
	case string:
		return val, "", nil
	case map[string]interface{}:
		decision, _ := val["decision"].(string)
		reason, _ := val["reason"].(string)
		if decision == "" {
			return DecisionBlock, "policy object missing decision", nil
		}
		return decision, reason, nil
	default:
		return DecisionBlock, fmt.Sprintf("unexpected policy return type %T", val), nil
	}
}

// DefaultPolicy is the tool policy applied when no policy file is configured.
// It admits the builtin tools and caps the size of sandboxed scripts.
const DefaultPolicy = `
package socratic.tools

default decision = {"decision": "allow", "reason": ""}

decision = {"decision": "block", "reason": "script too large"} {
	input.tool_name == "quant_sandbox"
	count(input.args.script) > 4096
}

decision = {"decision": "block", "reason": "empty search query"} {
	input.tool_name == "search"
	input.args.query == ""
}
`
