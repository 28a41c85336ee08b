package service

import (
	"context"

	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/budget"
	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/domain"
)

// SessionDetail is the full read model for one session.
type SessionDetail struct {
	Session  domain.DiscussionSession `json:"session"`
	Turns    []domain.AgentTurn       `json:"turns"`
	Verdicts []domain.JudgeVerdict    `json:"verdicts"`
	Budget   *budget.Snapshot         `json:"budget,omitempty"`
	Running  bool                     `json:"running"`
}

// getSession loads a session, mapping a missing row to ErrSessionNotFound.
func (s *Service) getSession(ctx context.Context, sessionID string) (*domain.DiscussionSession, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "session get", Err: err}
	}
	if session == nil {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

// GetSessionDetail loads a session with its turns, verdicts and budget state.
func (s *Service) GetSessionDetail(ctx context.Context, sessionID string) (*SessionDetail, error) {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	turns, err := s.store.ListTurns(ctx, sessionID)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "turn list", Err: err}
	}
	verdicts, err := s.store.ListVerdicts(ctx, sessionID)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "verdict list", Err: err}
	}

	detail := &SessionDetail{
		Session:  *session,
		Turns:    turns,
		Verdicts: verdicts,
	}
	if snap, ok := s.budget.Snapshot(sessionID); ok {
		detail.Budget = &snap
	}
	s.mu.Lock()
	_, detail.Running = s.live[sessionID]
	s.mu.Unlock()
	return detail, nil
}

// ListSessions returns all sessions, newest first.
func (s *Service) ListSessions(ctx context.Context) ([]domain.DiscussionSession, error) {
	return s.store.ListSessions(ctx)
}

// ListEvents returns a session's events after the given sequence cursor.
func (s *Service) ListEvents(ctx context.Context, sessionID string, afterSeq int64, limit int) ([]domain.DiscussionEvent, error) {
	if _, err := s.getSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.events.ListSince(ctx, sessionID, afterSeq, limit)
}

// GetTurn loads one turn with its tool results.
func (s *Service) GetTurn(ctx context.Context, turnID string) (*domain.AgentTurn, error) {
	return s.store.GetTurn(ctx, turnID)
}

// ListVerdicts returns a session's verdicts in recorded order.
func (s *Service) ListVerdicts(ctx context.Context, sessionID string) ([]domain.JudgeVerdict, error) {
	if _, err := s.getSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.ListVerdicts(ctx, sessionID)
}
