// Package service owns session lifecycle: starting discussions, driving
// them through rounds, and answering queries about their state.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/budget"
	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/config"
	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/domain"
	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/eventlog"
	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/judge"
	store "github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/repository"
	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/runner"
)

// Service orchestrates discussion sessions.
type Service struct {
	store  store.Store
	events *eventlog.Log
	budget *budget.Tracker
	runner *runner.Runner
	panel  *judge.Panel
	config *config.Config

	mu   sync.Mutex
	live map[string]*liveSession
	wg   sync.WaitGroup
}

type liveSession struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New wires the orchestration service.
func New(s store.Store, events *eventlog.Log, tracker *budget.Tracker, turnRunner *runner.Runner, panel *judge.Panel, cfg *config.Config) *Service {
	return &Service{
		store:  s,
		events: events,
		budget: tracker,
		runner: turnRunner,
		panel:  panel,
		config: cfg,
		live:   make(map[string]*liveSession),
	}
}

// StartSession creates a session and launches its discussion loop.
func (s *Service) StartSession(ctx context.Context, topic string) (*domain.DiscussionSession, error) {
	if topic == "" {
		return nil, &domain.ValidationError{Message: "topic is required"}
	}

	session := &domain.DiscussionSession{
		SessionID: "sess_" + uuid.New().String()[:8],
		Topic:     topic,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, &domain.PersistenceError{Op: "session create", Err: err}
	}

	s.budget.Open(session.SessionID, budget.Caps{
		Spend:      s.config.SessionSpendCap,
		AgentCalls: s.config.AgentCallCap,
		WallClock:  s.config.SessionWallClock,
	}, time.Now())

	if _, err := s.events.Append(ctx, session.SessionID, domain.EventSessionCreated, "",
		map[string]interface{}{"topic": topic, "agents": s.config.Agents, "judges": s.config.Judges},
		eventlog.Causal{}); err != nil {
		return nil, err
	}

	var runCtx context.Context
	var cancel context.CancelFunc
	if deadline, ok := s.budget.Deadline(session.SessionID); ok {
		runCtx, cancel = context.WithDeadline(context.Background(), deadline)
	} else {
		runCtx, cancel = context.WithCancel(context.Background())
	}

	ls := &liveSession{cancel: cancel, done: make(chan struct{})}
	s.mu.Lock()
	s.live[session.SessionID] = ls
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(ls.done)
		defer cancel()
		s.runSession(runCtx, session)
		s.mu.Lock()
		delete(s.live, session.SessionID)
		s.mu.Unlock()
	}()

	session.Phase = domain.PhaseCreated
	return session, nil
}

// CancelSession requests cooperative shutdown of a running session. The
// session finishes its in-flight step and aborts.
func (s *Service) CancelSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	ls, running := s.live[sessionID]
	s.mu.Unlock()

	if running {
		ls.cancel()
		return nil
	}

	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Phase.IsTerminal() {
		return fmt.Errorf("session %s already finished in phase %s", sessionID, session.Phase)
	}
	return fmt.Errorf("session %s is not running", sessionID)
}

// CancelAll cancels every running session and waits for them to settle.
// Used during server shutdown.
func (s *Service) CancelAll() {
	s.mu.Lock()
	for _, ls := range s.live {
		ls.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// DeleteSession removes a finished session and all dependent records.
func (s *Service) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	_, running := s.live[sessionID]
	s.mu.Unlock()
	if running {
		return fmt.Errorf("session %s is still running; cancel it first", sessionID)
	}

	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	s.budget.Forget(sessionID)
	return nil
}

// Wait blocks until a session's loop has finished. Present for tests and
// shutdown paths; returns false if the session is not running.
func (s *Service) Wait(sessionID string) bool {
	s.mu.Lock()
	ls, running := s.live[sessionID]
	s.mu.Unlock()
	if !running {
		return false
	}
	<-ls.done
	return true
}
