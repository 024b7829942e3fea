// Package store owns every persisted row in Obby: file versions,
// unified diffs, current file states, audit events, semantic entries
// with their FTS5 mirror, runtime configuration, and agent action logs.
// All other components request mutations through this package.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width UTC so stored timestamps sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// Store is the SQLite-backed persistence layer. One Store (and its
// connection pool) is shared by the whole process.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the database at dbPath and applies pending
// migrations. Pass ":memory:" for an ephemeral store in tests.
func Open(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}
	// modernc sqlite serializes writes; a small pool covers readers.
	// ":memory:" must stay on one connection or each pooled connection
	// gets its own empty database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(4)
	}

	s := &Store{db: db, path: dbPath}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Path returns the database file path ("" for in-memory stores).
func (s *Store) Path() string {
	if s.path == ":memory:" {
		return ""
	}
	return s.path
}

// migration is one forward-only schema step.
type migration struct {
	version int
	name    string
	apply   func(tx *sql.Tx) error
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return err
	}

	var current int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		if err := m.apply(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
			m.version, m.name, formatTime(time.Now())); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

var migrations = []migration{
	{version: 1, name: "base schema", apply: func(tx *sql.Tx) error {
		_, err := tx.Exec(baseSchema)
		return err
	}},
	{version: 2, name: "agent action logs", apply: func(tx *sql.Tx) error {
		_, err := tx.Exec(`CREATE TABLE IF NOT EXISTS agent_action_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			message TEXT NOT NULL DEFAULT '',
			timestamp TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_agent_logs_session ON agent_action_logs(session_id, id)`)
		return err
	}},
	{version: 3, name: "insights layout config", apply: func(tx *sql.Tx) error {
		_, err := tx.Exec(`CREATE TABLE IF NOT EXISTS insights_layout_config (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			layout TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`)
		return err
	}},
}

const baseSchema = `
CREATE TABLE IF NOT EXISTS file_versions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	file_path TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	content TEXT NOT NULL,
	line_count INTEGER NOT NULL DEFAULT 0,
	timestamp TEXT NOT NULL,
	change_description TEXT NOT NULL DEFAULT '',
	UNIQUE(file_path, content_hash)
);

CREATE TABLE IF NOT EXISTS content_diffs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	file_path TEXT NOT NULL,
	old_version_id INTEGER REFERENCES file_versions(id),
	new_version_id INTEGER NOT NULL REFERENCES file_versions(id),
	change_type TEXT NOT NULL,
	diff_content TEXT NOT NULL,
	lines_added INTEGER NOT NULL,
	lines_removed INTEGER NOT NULL,
	timestamp TEXT NOT NULL,
	CHECK (lines_added > 0 OR lines_removed > 0)
);

CREATE TABLE IF NOT EXISTS file_states (
	file_path TEXT PRIMARY KEY,
	content_hash TEXT NOT NULL,
	line_count INTEGER NOT NULL DEFAULT 0,
	file_size INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS file_changes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	file_path TEXT NOT NULL,
	change_type TEXT NOT NULL,
	old_content_hash TEXT,
	new_content_hash TEXT,
	timestamp TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	type TEXT NOT NULL,
	path TEXT NOT NULL,
	size INTEGER NOT NULL DEFAULT 0,
	timestamp TEXT NOT NULL,
	processed INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS semantic_entries (
	id TEXT PRIMARY KEY,
	timestamp TEXT NOT NULL,
	date TEXT NOT NULL,
	time TEXT NOT NULL,
	type TEXT NOT NULL,
	summary TEXT NOT NULL,
	impact TEXT NOT NULL,
	file_path TEXT NOT NULL DEFAULT '',
	searchable_text TEXT NOT NULL,
	markdown_file_path TEXT,
	source_type TEXT NOT NULL DEFAULT '',
	version_id INTEGER
);

CREATE TABLE IF NOT EXISTS semantic_topics (
	entry_id TEXT NOT NULL REFERENCES semantic_entries(id) ON DELETE CASCADE,
	topic TEXT NOT NULL,
	PRIMARY KEY (entry_id, topic)
);

CREATE TABLE IF NOT EXISTS semantic_keywords (
	entry_id TEXT NOT NULL REFERENCES semantic_entries(id) ON DELETE CASCADE,
	keyword TEXT NOT NULL,
	PRIMARY KEY (entry_id, keyword)
);

CREATE VIRTUAL TABLE IF NOT EXISTS semantic_search USING fts5(
	entry_id UNINDEXED,
	searchable_text
);

CREATE TABLE IF NOT EXISTS config_kv (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_content_diffs_ts ON content_diffs(timestamp);
CREATE INDEX IF NOT EXISTS idx_content_diffs_path_ts ON content_diffs(file_path, timestamp);
CREATE INDEX IF NOT EXISTS idx_file_versions_path_ts ON file_versions(file_path, timestamp);
CREATE INDEX IF NOT EXISTS idx_file_changes_path_ts ON file_changes(file_path, timestamp);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(timestamp);
CREATE INDEX IF NOT EXISTS idx_semantic_entries_ts ON semantic_entries(timestamp);
`

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
