package agentcap

import (
	"context"
	"fmt"
)

// Stub is a deterministic in-process agent used when no agent endpoint is
// configured. It requests one search in the first round and otherwise
// produces a short position statement, so full sessions can run locally.
type Stub struct{}

// NewStub creates the builtin agent capability.
func NewStub() *Stub {
	return &Stub{}
}

var _ Capability = (*Stub)(nil)

func (s *Stub) Respond(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if req.Round == 1 && len(req.ToolOutcomes) == 0 {
		return &Response{
			ToolCalls: []ToolRequest{{
				Tool: "search",
				Args: map[string]interface{}{"query": req.Topic},
			}},
		}, nil
	}

	text := fmt.Sprintf("%s, round %d: on %q I hold that the evidence supports a cautious position.",
		req.AgentID, req.Round, req.Topic)
	if len(req.History) > 0 {
		last := req.History[len(req.History)-1]
		text += fmt.Sprintf(" Responding to %s, I dispute the weight given to their key claim.", last.AgentID)
	}

	return &Response{
		Text:        text,
		Reflections: []string{fmt.Sprintf("round %d position staked out", req.Round)},
	}, nil
}
