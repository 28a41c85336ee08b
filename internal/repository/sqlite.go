// Package store persists discussion sessions in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database, enables foreign keys and migrates the
// schema.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	// Cascade deletes and SET NULL backlinks need foreign keys on.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS discussion_sessions (
			id TEXT PRIMARY KEY,
			topic TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS agent_turns (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES discussion_sessions(id) ON DELETE CASCADE,
			agent_id TEXT NOT NULL,
			prompt TEXT NOT NULL,
			response TEXT,
			reflections TEXT,
			status TEXT NOT NULL DEFAULT 'RUNNING',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			completed_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agent_turns_session ON agent_turns(session_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS tool_results (
			id TEXT PRIMARY KEY,
			turn_id TEXT NOT NULL REFERENCES agent_turns(id) ON DELETE CASCADE,
			tool_name TEXT NOT NULL,
			output TEXT NOT NULL,
			metadata TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_results_turn ON tool_results(turn_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS judge_verdicts (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES discussion_sessions(id) ON DELETE CASCADE,
			judge_id TEXT NOT NULL,
			summary TEXT NOT NULL,
			open_issues TEXT,
			metadata TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_judge_verdicts_session ON judge_verdicts(session_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS discussion_events (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES discussion_sessions(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			phase TEXT NOT NULL,
			actor TEXT,
			payload TEXT,
			occurred_at DATETIME NOT NULL,
			causal_turn_id TEXT REFERENCES agent_turns(id) ON DELETE SET NULL,
			causal_tool_id TEXT REFERENCES tool_results(id) ON DELETE SET NULL,
			causal_verdict_id TEXT REFERENCES judge_verdicts(id) ON DELETE SET NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_events_session_seq ON discussion_events(session_id, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_events_causal_turn ON discussion_events(causal_turn_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_causal_tool ON discussion_events(causal_tool_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_causal_verdict ON discussion_events(causal_verdict_id)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateSession creates a new session row.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.DiscussionSession) error {
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = session.CreatedAt
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO discussion_sessions (id, topic, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		session.SessionID, session.Topic, session.CreatedAt, session.UpdatedAt)
	return err
}

// GetSession retrieves a session by ID. The current phase is derived from the
// latest transition event, so a reader can never observe a phase whose event
// is not already durable.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.DiscussionSession, error) {
	var session domain.DiscussionSession
	err := s.db.QueryRowContext(ctx,
		`SELECT id, topic, created_at, updated_at FROM discussion_sessions WHERE id = ?`,
		sessionID).Scan(&session.SessionID, &session.Topic, &session.CreatedAt, &session.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	phase, err := s.sessionPhase(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	session.Phase = phase
	return &session, nil
}

func (s *SQLiteStore) sessionPhase(ctx context.Context, sessionID string) (domain.Phase, error) {
	var tag string
	err := s.db.QueryRowContext(ctx,
		`SELECT phase FROM discussion_events
		 WHERE session_id = ? AND phase IN (?, ?, ?, ?, ?)
		 ORDER BY seq DESC LIMIT 1`,
		sessionID,
		string(domain.EventSessionCreated), string(domain.EventDraftingStarted),
		string(domain.EventJudgingStarted), string(domain.EventSessionResolved),
		string(domain.EventSessionAborted)).Scan(&tag)
	if err == sql.ErrNoRows {
		return domain.PhaseCreated, nil
	}
	if err != nil {
		return "", err
	}
	phase, ok := domain.PhaseForEvent(domain.EventPhase(tag))
	if !ok {
		return "", fmt.Errorf("unexpected transition tag %q", tag)
	}
	return phase, nil
}

// ListSessions lists all sessions, most recent first.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]domain.DiscussionSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, topic, created_at, updated_at FROM discussion_sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.DiscussionSession
	for rows.Next() {
		var session domain.DiscussionSession
		if err := rows.Scan(&session.SessionID, &session.Topic, &session.CreatedAt, &session.UpdatedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range sessions {
		phase, err := s.sessionPhase(ctx, sessions[i].SessionID)
		if err != nil {
			return nil, err
		}
		sessions[i].Phase = phase
	}
	return sessions, nil
}

// DeleteSession removes the session and, via cascades, all its turns, tool
// results, verdicts and events in one transaction.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM discussion_sessions WHERE id = ?`, sessionID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrSessionNotFound
	}
	return tx.Commit()
}

// CreateTurn creates a new agent turn.
func (s *SQLiteStore) CreateTurn(ctx context.Context, turn *domain.AgentTurn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	reflections, _ := json.Marshal(turn.Reflections)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_turns (id, session_id, agent_id, prompt, response, reflections, status, created_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		turn.TurnID, turn.SessionID, turn.AgentID, turn.Prompt,
		nullStringPtr(turn.Response), string(reflections), turn.Status, turn.CreatedAt, turn.CompletedAt)
	if err != nil {
		return err
	}
	return s.touchSession(ctx, turn.SessionID)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// GetTurn retrieves a turn with its tool results.
func (s *SQLiteStore) GetTurn(ctx context.Context, turnID string) (*domain.AgentTurn, error) {
	turn, err := scanTurn(s.db.QueryRowContext(ctx,
		`SELECT id, session_id, agent_id, prompt, response, reflections, status, created_at, completed_at
		 FROM agent_turns WHERE id = ?`, turnID))
	if err != nil || turn == nil {
		return nil, err
	}
	results, err := s.ListToolResults(ctx, turnID)
	if err != nil {
		return nil, err
	}
	turn.ToolResults = results
	return turn, nil
}

func scanTurn(row rowScanner) (*domain.AgentTurn, error) {
	var turn domain.AgentTurn
	var response, reflections sql.NullString
	var completedAt sql.NullTime
	err := row.Scan(&turn.TurnID, &turn.SessionID, &turn.AgentID, &turn.Prompt,
		&response, &reflections, &turn.Status, &turn.CreatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if response.Valid {
		turn.Response = &response.String
	}
	if reflections.Valid && reflections.String != "" && reflections.String != "null" {
		if err := json.Unmarshal([]byte(reflections.String), &turn.Reflections); err != nil {
			return nil, fmt.Errorf("failed to decode reflections: %w", err)
		}
	}
	if completedAt.Valid {
		turn.CompletedAt = &completedAt.Time
	}
	return &turn, nil
}

// ListTurns lists a session's turns in creation order.
func (s *SQLiteStore) ListTurns(ctx context.Context, sessionID string) ([]domain.AgentTurn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, agent_id, prompt, response, reflections, status, created_at, completed_at
		 FROM agent_turns WHERE session_id = ? ORDER BY created_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []domain.AgentTurn
	for rows.Next() {
		turn, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		turns = append(turns, *turn)
	}
	return turns, rows.Err()
}

// CompleteTurn finalizes a turn. completed_at is set at most once.
func (s *SQLiteStore) CompleteTurn(ctx context.Context, turnID string, response string, reflections []string) (bool, error) {
	encoded, _ := json.Marshal(reflections)
	res, err := s.db.ExecContext(ctx,
		`UPDATE agent_turns SET response = ?, reflections = ?, status = ?, completed_at = ?
		 WHERE id = ? AND completed_at IS NULL`,
		response, string(encoded), domain.TurnStatusCompleted, time.Now().UTC(), turnID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// MarkTurnFailed flags an incomplete turn as failed.
func (s *SQLiteStore) MarkTurnFailed(ctx context.Context, turnID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agent_turns SET status = ? WHERE id = ? AND completed_at IS NULL`,
		domain.TurnStatusFailed, turnID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// DeleteTurn removes one turn. Its tool results cascade away and dependent
// event backlinks are nulled, not deleted.
func (s *SQLiteStore) DeleteTurn(ctx context.Context, turnID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM agent_turns WHERE id = ?`, turnID)
	return err
}

// CreateToolResult creates a tool result owned by a turn.
func (s *SQLiteStore) CreateToolResult(ctx context.Context, result *domain.ToolResult) error {
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}
	metadata, _ := json.Marshal(result.Metadata)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_results (id, turn_id, tool_name, output, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		result.ToolID, result.TurnID, result.ToolName, result.Output, string(metadata), result.CreatedAt)
	return err
}

// ListToolResults lists a turn's tool results in creation order.
func (s *SQLiteStore) ListToolResults(ctx context.Context, turnID string) ([]domain.ToolResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, turn_id, tool_name, output, metadata, created_at
		 FROM tool_results WHERE turn_id = ? ORDER BY created_at ASC, id ASC`, turnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.ToolResult
	for rows.Next() {
		var result domain.ToolResult
		var metadata sql.NullString
		if err := rows.Scan(&result.ToolID, &result.TurnID, &result.ToolName, &result.Output, &metadata, &result.CreatedAt); err != nil {
			return nil, err
		}
		if metadata.Valid && metadata.String != "" && metadata.String != "null" {
			if err := json.Unmarshal([]byte(metadata.String), &result.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode tool metadata: %w", err)
			}
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

// CreateVerdict creates a judge verdict.
func (s *SQLiteStore) CreateVerdict(ctx context.Context, verdict *domain.JudgeVerdict) error {
	if verdict.CreatedAt.IsZero() {
		verdict.CreatedAt = time.Now().UTC()
	}
	openIssues, _ := json.Marshal(verdict.OpenIssues)
	metadata, _ := json.Marshal(verdict.Metadata)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO judge_verdicts (id, session_id, judge_id, summary, open_issues, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		verdict.VerdictID, verdict.SessionID, verdict.JudgeID, verdict.Summary,
		string(openIssues), string(metadata), verdict.CreatedAt)
	if err != nil {
		return err
	}
	return s.touchSession(ctx, verdict.SessionID)
}

// ListVerdicts lists a session's verdicts ordered by creation time, insertion
// id as tie-break.
func (s *SQLiteStore) ListVerdicts(ctx context.Context, sessionID string) ([]domain.JudgeVerdict, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, judge_id, summary, open_issues, metadata, created_at
		 FROM judge_verdicts WHERE session_id = ? ORDER BY created_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var verdicts []domain.JudgeVerdict
	for rows.Next() {
		var verdict domain.JudgeVerdict
		var openIssues, metadata sql.NullString
		if err := rows.Scan(&verdict.VerdictID, &verdict.SessionID, &verdict.JudgeID, &verdict.Summary,
			&openIssues, &metadata, &verdict.CreatedAt); err != nil {
			return nil, err
		}
		if openIssues.Valid && openIssues.String != "" && openIssues.String != "null" {
			if err := json.Unmarshal([]byte(openIssues.String), &verdict.OpenIssues); err != nil {
				return nil, fmt.Errorf("failed to decode open issues: %w", err)
			}
		}
		if metadata.Valid && metadata.String != "" && metadata.String != "null" {
			if err := json.Unmarshal([]byte(metadata.String), &verdict.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode verdict metadata: %w", err)
			}
		}
		verdicts = append(verdicts, verdict)
	}
	return verdicts, rows.Err()
}

// AppendEvent durably inserts an event with the next per-session sequence
// number. The unique (session_id, seq) index catches two writers racing for
// the same slot; the losing insert retries with a fresh number.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *domain.DiscussionEvent) error {
	const maxAttempts = 5
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := s.appendEventOnce(ctx, event)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isUniqueConstraint(err) {
			return err
		}
	}
	return fmt.Errorf("failed to allocate event sequence: %w", lastErr)
}

func (s *SQLiteStore) appendEventOnce(ctx context.Context, event *domain.DiscussionEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM discussion_events WHERE session_id = ?`,
		event.SessionID).Scan(&seq); err != nil {
		return err
	}

	payload := ""
	if event.Payload != nil {
		payload = string(event.Payload)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO discussion_events (id, session_id, seq, phase, actor, payload, occurred_at, causal_turn_id, causal_tool_id, causal_verdict_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.EventID, event.SessionID, seq, event.Phase, nullString(event.Actor), payload,
		event.OccurredAt, nullString(event.CausalTurnID), nullString(event.CausalToolID),
		nullString(event.CausalVerdictID)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE discussion_sessions SET updated_at = ? WHERE id = ?`,
		time.Now().UTC(), event.SessionID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	event.Seq = seq
	return nil
}

func isUniqueConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// ListEvents returns a session's events after the given sequence cursor, in
// sequence order.
func (s *SQLiteStore) ListEvents(ctx context.Context, sessionID string, afterSeq int64, limit int) ([]domain.DiscussionEvent, error) {
	query := `SELECT id, session_id, seq, phase, actor, payload, occurred_at, causal_turn_id, causal_tool_id, causal_verdict_id
		 FROM discussion_events WHERE session_id = ? AND seq > ? ORDER BY seq ASC`
	args := []interface{}{sessionID, afterSeq}
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.DiscussionEvent
	for rows.Next() {
		var event domain.DiscussionEvent
		var actor, payload, turnID, toolID, verdictID sql.NullString
		if err := rows.Scan(&event.EventID, &event.SessionID, &event.Seq, &event.Phase,
			&actor, &payload, &event.OccurredAt, &turnID, &toolID, &verdictID); err != nil {
			return nil, err
		}
		if actor.Valid {
			event.Actor = actor.String
		}
		if payload.Valid && payload.String != "" {
			event.Payload = json.RawMessage(payload.String)
		}
		if turnID.Valid {
			event.CausalTurnID = turnID.String
		}
		if toolID.Valid {
			event.CausalToolID = toolID.String
		}
		if verdictID.Valid {
			event.CausalVerdictID = verdictID.String
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (s *SQLiteStore) touchSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE discussion_sessions SET updated_at = ? WHERE id = ?`, time.Now().UTC(), sessionID)
	return err
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
