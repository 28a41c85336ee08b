package helpers

import (
	"context"
	"testing"

	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/domain"
	store "github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/repository"
)

func NewTestSQLiteStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

// SeedSession inserts a bare session row so dependent rows can be created.
func SeedSession(t *testing.T, s *store.SQLiteStore, sessionID, topic string) {
	t.Helper()

	err := s.CreateSession(context.Background(), &domain.DiscussionSession{
		SessionID: sessionID,
		Topic:     topic,
	})
	if err != nil {
		t.Fatalf("failed to seed session %s: %v", sessionID, err)
	}
}
