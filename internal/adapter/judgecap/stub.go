package judgecap

import (
	"context"
	"fmt"
)

// Stub is a deterministic in-process judge used when no judge endpoint is
// configured. It keeps one issue open after the first round and declares
// the discussion settled from the second, so local sessions converge.
type Stub struct{}

// NewStub creates the builtin judge capability.
func NewStub() *Stub {
	return &Stub{}
}

var _ Capability = (*Stub)(nil)

func (s *Stub) Review(ctx context.Context, req *Request) (*Verdict, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	summary := fmt.Sprintf("%s reviewed %d turns on %q after round %d.",
		req.JudgeID, len(req.Turns), req.Topic, req.Round)

	if req.Round < 2 {
		return &Verdict{
			Summary:    summary + " The positions are stated but unquantified.",
			OpenIssues: []string{"quantify the downside scenario"},
		}, nil
	}

	return &Verdict{
		Summary:  summary + " The remaining disagreement is a matter of weighting, not fact.",
		Metadata: map[string]interface{}{"confidence": 0.8},
	}, nil
}
