package store

import (
	"context"

	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/domain"
)

// Store is the persistence contract for the discussion engine.
type Store interface {
	// Session operations
	CreateSession(ctx context.Context, session *domain.DiscussionSession) error
	GetSession(ctx context.Context, sessionID string) (*domain.DiscussionSession, error)
	ListSessions(ctx context.Context) ([]domain.DiscussionSession, error)
	// DeleteSession removes the session and every dependent row in one
	// transaction.
	DeleteSession(ctx context.Context, sessionID string) error

	// Turn operations
	CreateTurn(ctx context.Context, turn *domain.AgentTurn) error
	GetTurn(ctx context.Context, turnID string) (*domain.AgentTurn, error)
	ListTurns(ctx context.Context, sessionID string) ([]domain.AgentTurn, error)
	// CompleteTurn sets the response, reflections and completion time. It is
	// a no-op (returns false) if the turn was already completed.
	CompleteTurn(ctx context.Context, turnID string, response string, reflections []string) (bool, error)
	// MarkTurnFailed flags a partial attempt as failed without mutating it
	// further; a retry creates a fresh turn.
	MarkTurnFailed(ctx context.Context, turnID string) (bool, error)
	// DeleteTurn removes a single turn and its tool results; events keep
	// their rows with nulled causal backlinks.
	DeleteTurn(ctx context.Context, turnID string) error

	// Tool result operations
	CreateToolResult(ctx context.Context, result *domain.ToolResult) error
	ListToolResults(ctx context.Context, turnID string) ([]domain.ToolResult, error)

	// Verdict operations
	CreateVerdict(ctx context.Context, verdict *domain.JudgeVerdict) error
	ListVerdicts(ctx context.Context, sessionID string) ([]domain.JudgeVerdict, error)

	// Event operations. AppendEvent assigns event.Seq and is durable before
	// returning.
	AppendEvent(ctx context.Context, event *domain.DiscussionEvent) error
	ListEvents(ctx context.Context, sessionID string, afterSeq int64, limit int) ([]domain.DiscussionEvent, error)

	// Lifecycle
	Close() error
}
