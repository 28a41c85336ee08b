package domain

import (
	"errors"
	"fmt"
)

// ErrCancelled marks cooperative session shutdown. It is not a failure of any
// component; the orchestrator maps it to an Aborted session with reason
// "Cancelled".
var ErrCancelled = errors.New("cancelled")

// ErrSessionNotFound is returned by lookups for unknown sessions.
var ErrSessionNotFound = errors.New("session not found")

// ToolErrorKind classifies tool invocation failures for retry policy.
type ToolErrorKind string

const (
	ToolErrTimeout             ToolErrorKind = "Timeout"
	ToolErrProviderUnavailable ToolErrorKind = "ProviderUnavailable"
	ToolErrInvalidArgs         ToolErrorKind = "InvalidArgs"
	ToolErrRateLimited         ToolErrorKind = "RateLimited"
)

// ToolError is a classified tool invocation failure.
type ToolError struct {
	Kind    ToolErrorKind
	Tool    string
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s failed (%s): %s", e.Tool, e.Kind, e.Message)
}

// Transient reports whether the error kind is retried per policy.
func (e *ToolError) Transient() bool {
	return e.Kind == ToolErrProviderUnavailable || e.Kind == ToolErrRateLimited
}

// BudgetExceededError is a hard stop for the triggering unit of work.
type BudgetExceededError struct {
	SessionID string
	AgentID   string
	Reason    string
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget exceeded for session %s: %s", e.SessionID, e.Reason)
}

// AgentUnavailableError indicates the agent capability could not produce a
// response for the current turn.
type AgentUnavailableError struct {
	AgentID string
	Err     error
}

func (e *AgentUnavailableError) Error() string {
	return fmt.Sprintf("AgentUnavailable: %s", e.AgentID)
}

func (e *AgentUnavailableError) Unwrap() error { return e.Err }

// PersistenceError wraps a failed store write. Fatal to the in-flight step;
// the step is retried with a fresh attempt id.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ValidationError indicates malformed input. Never retried.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }
