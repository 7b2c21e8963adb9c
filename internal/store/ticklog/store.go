// Package ticklog keeps an append-only journal of tick results, one row per
// executeTick call, in its own SQLite file.
package ticklog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// Entry is one journal row.
type Entry struct {
	ID         int64    `json:"id"`
	TraceID    string   `json:"traceId"`
	StartedAt  int64    `json:"startedAt"`
	DurationMs int64    `json:"durationMs"`
	RoundID    int64    `json:"roundId"`
	Success    bool     `json:"success"`
	Message    string   `json:"message"`
	Actions    []string `json:"actions"`
}

type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// New opens the journal at path, creating the file and schema if needed.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("tick log path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tick_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			trace_id TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			round_id INTEGER NOT NULL DEFAULT 0,
			success INTEGER NOT NULL DEFAULT 0,
			message TEXT,
			actions TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tick_log_started ON tick_log(started_at);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("tick log schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Append writes e and returns its row id.
func (s *Store) Append(ctx context.Context, e Entry) (int64, error) {
	if s == nil {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return 0, fmt.Errorf("tick log closed")
	}
	actions := e.Actions
	if actions == nil {
		actions = []string{}
	}
	raw, err := json.Marshal(actions)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tick_log (trace_id, started_at, duration_ms, round_id, success, message, actions)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.TraceID, e.StartedAt, e.DurationMs, e.RoundID, boolToInt(e.Success), e.Message, string(raw))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("tick log closed")
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, trace_id, started_at, duration_ms, round_id, success, message, actions
		 FROM tick_log ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			success int
			message sql.NullString
			actions sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.TraceID, &e.StartedAt, &e.DurationMs, &e.RoundID, &success, &message, &actions); err != nil {
			return nil, err
		}
		e.Success = success == 1
		e.Message = message.String
		if actions.Valid && actions.String != "" {
			if err := json.Unmarshal([]byte(actions.String), &e.Actions); err != nil {
				return nil, fmt.Errorf("decode actions of tick %d: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
