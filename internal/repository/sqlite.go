package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"finance-coach/internal/domain"
)

const historyColumns = `id, session_id, owner_id, goal_id, goal_label, user_input, assistant_reply,
	timestamp_ns, starred, model_name, prompt_tokens, completion_tokens, total_tokens, fallback`

// SQLiteStore keeps coaching history in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (and creates if needed) the database at path.
func NewSQLite(path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("repository: sqlite path must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("repository: create database directory: %w", err)
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("repository: open database: %w", err)
	}
	// One connection: sqlite serializes writers anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("repository: ping database: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("repository: initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS goal_chat_history (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		goal_id TEXT NOT NULL,
		goal_label TEXT NOT NULL,
		user_input TEXT NOT NULL DEFAULT '',
		assistant_reply TEXT NOT NULL DEFAULT '',
		timestamp_ns INTEGER NOT NULL,
		starred INTEGER NOT NULL DEFAULT 0,
		model_name TEXT NOT NULL DEFAULT '',
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		total_tokens INTEGER NOT NULL DEFAULT 0,
		fallback INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_history_session ON goal_chat_history(session_id, owner_id, timestamp_ns);
	CREATE INDEX IF NOT EXISTS idx_history_owner ON goal_chat_history(owner_id, timestamp_ns);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Append(ctx context.Context, e domain.HistoryEntry) error {
	if e.ID == "" || e.SessionID == "" || e.OwnerID == "" {
		return errors.New("repository: Append: entry id, session id and owner id are required")
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO goal_chat_history (`+historyColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, e.OwnerID, e.GoalID, e.GoalLabel, e.UserInput, e.AssistantReply,
		e.Timestamp.UnixNano(), e.Starred, e.ModelName,
		e.Usage.PromptTokens, e.Usage.CompletionTokens, e.Usage.TotalTokens, e.Fallback,
	)
	if err != nil {
		return fmt.Errorf("repository: Append: %w", err)
	}
	return nil
}

func (s *SQLiteStore) EntriesForSession(ctx context.Context, sessionID, ownerID string) ([]domain.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT `+historyColumns+`
	FROM goal_chat_history
	WHERE session_id = ? AND owner_id = ?
	ORDER BY timestamp_ns ASC, id ASC`, sessionID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("repository: EntriesForSession query: %w", err)
	}
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, fmt.Errorf("repository: EntriesForSession scan: %w", err)
	}
	return entries, nil
}

// ListRecentSessions picks each session's newest row with a window function.
func (s *SQLiteStore) ListRecentSessions(ctx context.Context, ownerID string, limit int) ([]domain.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT `+historyColumns+` FROM (
		SELECT `+historyColumns+`,
			ROW_NUMBER() OVER (PARTITION BY session_id ORDER BY timestamp_ns DESC, id DESC) AS rn
		FROM goal_chat_history
		WHERE owner_id = ?
	)
	WHERE rn = 1
	ORDER BY timestamp_ns DESC, id DESC
	LIMIT ?`, ownerID, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("repository: ListRecentSessions query: %w", err)
	}
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, fmt.Errorf("repository: ListRecentSessions scan: %w", err)
	}
	return entries, nil
}

func (s *SQLiteStore) SetStarred(ctx context.Context, sessionID, ownerID string, starred bool) error {
	if err := s.exec(ctx, `UPDATE goal_chat_history SET starred = ? WHERE session_id = ? AND owner_id = ?`,
		starred, sessionID, ownerID); err != nil {
		return fmt.Errorf("repository: SetStarred: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Rename(ctx context.Context, sessionID, ownerID, newLabel string) error {
	if err := s.exec(ctx, `UPDATE goal_chat_history SET goal_label = ? WHERE session_id = ? AND owner_id = ?`,
		newLabel, sessionID, ownerID); err != nil {
		return fmt.Errorf("repository: Rename: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, sessionID, ownerID string) error {
	if err := s.exec(ctx, `DELETE FROM goal_chat_history WHERE session_id = ? AND owner_id = ?`,
		sessionID, ownerID); err != nil {
		return fmt.Errorf("repository: Delete: %w", err)
	}
	return nil
}

// exec runs a session-scoped statement and reports domain.ErrSessionNotFound
// when it touched no row.
func (s *SQLiteStore) exec(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func scanEntries(rows *sql.Rows) ([]domain.HistoryEntry, error) {
	defer rows.Close()

	var entries []domain.HistoryEntry
	for rows.Next() {
		var (
			e  domain.HistoryEntry
			ts int64
		)
		if err := rows.Scan(
			&e.ID, &e.SessionID, &e.OwnerID, &e.GoalID, &e.GoalLabel, &e.UserInput, &e.AssistantReply,
			&ts, &e.Starred, &e.ModelName,
			&e.Usage.PromptTokens, &e.Usage.CompletionTokens, &e.Usage.TotalTokens, &e.Fallback,
		); err != nil {
			return nil, err
		}
		e.Timestamp = time.Unix(0, ts).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
