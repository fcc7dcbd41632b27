// Package store provides the SQLite-backed history of osdrrag: every query
// answered and every rebuild completed is appended as one row, so operators
// can see what was asked and which snapshot answered it across restarts.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Kind identifies the type of a history entry.
type Kind string

const (
	// KindQuery is a semantic query.
	KindQuery Kind = "query"
	// KindRebuild is a completed snapshot rebuild.
	KindRebuild Kind = "rebuild"
)

// Entry is one row of history.
type Entry struct {
	// ID is the autoincrement row id.
	ID int64 `json:"id"`
	// Kind is the entry type.
	Kind Kind `json:"kind"`
	// Subject is the query text for queries and the build id for rebuilds.
	Subject string `json:"subject"`
	// BuildID is the snapshot that served the query or that the rebuild produced.
	BuildID string `json:"build_id,omitempty"`
	// Count is the number of results returned, or items indexed.
	Count int `json:"count"`
	// Fallback marks a query whose filters matched nothing.
	Fallback bool `json:"fallback,omitempty"`
	// Degraded marks a query answered in degraded mode.
	Degraded bool `json:"degraded,omitempty"`
	// Elapsed is the wall time of the operation.
	Elapsed time.Duration `json:"-"`
	// ElapsedMS mirrors Elapsed in milliseconds for JSON consumers.
	ElapsedMS int64 `json:"elapsed_ms"`
	// CreatedAt is when the entry was persisted.
	CreatedAt time.Time `json:"created_at"`
}

// Query describes an answered query.
type Query struct {
	Text     string
	BuildID  string
	Results  int
	Fallback bool
	Degraded bool
	Elapsed  time.Duration
}

// Rebuild describes a completed rebuild.
type Rebuild struct {
	BuildID string
	Indexed int
	Elapsed time.Duration
}

// History persists and retrieves history entries. Implementations must be
// safe for concurrent use.
type History interface {
	// RecordQuery appends a query entry.
	RecordQuery(ctx context.Context, q Query) error
	// RecordRebuild appends a rebuild entry.
	RecordRebuild(ctx context.Context, r Rebuild) error
	// Recent returns up to n entries, newest first.
	Recent(ctx context.Context, n int) ([]Entry, error)
	// Close releases any resources held by the store.
	Close() error
}

// SQLiteStore is a History backed by a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// DefaultDBPath returns the default path for the history database.
// It resolves to ~/.osdrrag/history.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".osdrrag")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "history.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// One connection: a single writer, and one shared :memory: database.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS history (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    kind        TEXT    NOT NULL CHECK(kind IN ('query','rebuild')),
    subject     TEXT    NOT NULL,
    build_id    TEXT    NOT NULL DEFAULT '',
    count       INTEGER NOT NULL DEFAULT 0,
    fallback    INTEGER NOT NULL DEFAULT 0,
    degraded    INTEGER NOT NULL DEFAULT 0,
    elapsed_ms  INTEGER NOT NULL DEFAULT 0,
    created_at  INTEGER NOT NULL  -- Unix timestamp (milliseconds)
);
CREATE INDEX IF NOT EXISTS idx_history_created ON history (created_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

const insertEntry = `INSERT INTO history (kind, subject, build_id, count, fallback, degraded, elapsed_ms, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

// RecordQuery appends a query entry.
func (s *SQLiteStore) RecordQuery(ctx context.Context, q Query) error {
	if _, err := s.db.ExecContext(ctx, insertEntry,
		string(KindQuery), q.Text, q.BuildID, q.Results,
		q.Fallback, q.Degraded, q.Elapsed.Milliseconds(), time.Now().UnixMilli(),
	); err != nil {
		return fmt.Errorf("store: record query: %w", err)
	}
	return nil
}

// RecordRebuild appends a rebuild entry.
func (s *SQLiteStore) RecordRebuild(ctx context.Context, r Rebuild) error {
	if _, err := s.db.ExecContext(ctx, insertEntry,
		string(KindRebuild), r.BuildID, r.BuildID, r.Indexed,
		false, false, r.Elapsed.Milliseconds(), time.Now().UnixMilli(),
	); err != nil {
		return fmt.Errorf("store: record rebuild: %w", err)
	}
	return nil
}

// Recent returns up to n entries, newest first. n <= 0 returns nothing.
func (s *SQLiteStore) Recent(ctx context.Context, n int) ([]Entry, error) {
	const q = `
SELECT id, kind, subject, build_id, count, fallback, degraded, elapsed_ms, created_at
FROM   history
ORDER  BY created_at DESC, id DESC
LIMIT  ?`

	entries := []Entry{}
	if n <= 0 {
		return entries, nil
	}
	rows, err := s.db.QueryContext(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e         Entry
			kind      string
			elapsedMS int64
			ts        int64
		)
		if err := rows.Scan(&e.ID, &kind, &e.Subject, &e.BuildID, &e.Count,
			&e.Fallback, &e.Degraded, &elapsedMS, &ts); err != nil {
			return nil, fmt.Errorf("store: recent scan: %w", err)
		}
		e.Kind = Kind(kind)
		e.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		e.ElapsedMS = elapsedMS
		e.CreatedAt = time.UnixMilli(ts)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent rows: %w", err)
	}
	return entries, nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}
