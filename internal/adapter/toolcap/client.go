// Package toolcap is the HTTP tool provider. It maps transport failures to
// classified tool errors so the invoker can apply its retry policy.
package toolcap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/domain"
	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/tools"
)

// Client executes tools against a remote tool service.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient creates a tool provider for the given base endpoint.
func NewClient(endpoint string, timeout time.Duration) *Client {
	return &Client{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

var _ tools.Provider = (*Client)(nil)

type executeRequest struct {
	Tool string                 `json:"tool"`
	Args map[string]interface{} `json:"args"`
}

type executeResponse struct {
	Output   string                 `json:"output"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

// Execute calls the tool service's /execute endpoint.
func (c *Client) Execute(ctx context.Context, tool string, args map[string]interface{}) (*tools.Outcome, error) {
	body, err := json.Marshal(executeRequest{Tool: tool, Args: args})
	if err != nil {
		return nil, &domain.ToolError{Kind: domain.ToolErrInvalidArgs, Tool: tool, Message: fmt.Sprintf("unencodable args: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create tool request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &domain.ToolError{Kind: domain.ToolErrTimeout, Tool: tool, Message: err.Error()}
		}
		return nil, &domain.ToolError{Kind: domain.ToolErrProviderUnavailable, Tool: tool, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, classifyStatus(tool, resp.StatusCode, string(bodyBytes))
	}

	var out executeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &domain.ToolError{Kind: domain.ToolErrProviderUnavailable, Tool: tool, Message: fmt.Sprintf("undecodable response: %v", err)}
	}
	if out.Error != "" {
		return nil, &domain.ToolError{Kind: domain.ToolErrProviderUnavailable, Tool: tool, Message: out.Error}
	}
	return &tools.Outcome{Output: out.Output, Metadata: out.Metadata}, nil
}

func classifyStatus(tool string, status int, body string) *domain.ToolError {
	msg := fmt.Sprintf("status %d: %s", status, body)
	switch {
	case status == http.StatusTooManyRequests:
		return &domain.ToolError{Kind: domain.ToolErrRateLimited, Tool: tool, Message: msg}
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return &domain.ToolError{Kind: domain.ToolErrTimeout, Tool: tool, Message: msg}
	case status >= 500:
		return &domain.ToolError{Kind: domain.ToolErrProviderUnavailable, Tool: tool, Message: msg}
	default:
		return &domain.ToolError{Kind: domain.ToolErrInvalidArgs, Tool: tool, Message: msg}
	}
}
