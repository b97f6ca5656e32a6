// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Opens the database, creates the schema and applies column migrations

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed. ":memory:" opens a private
// in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	inMemory := path == ":memory:"
	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Every pooled connection to ":memory:" would see its own empty database
	if inMemory {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS memory_nodes (
			user_id      TEXT NOT NULL,
			id           TEXT NOT NULL,
			title        TEXT NOT NULL,
			description  TEXT NOT NULL DEFAULT '',
			content      TEXT NOT NULL DEFAULT '',
			refs         TEXT NOT NULL DEFAULT '[]',
			version      INTEGER NOT NULL DEFAULT 1,
			content_hash TEXT NOT NULL DEFAULT '',
			created_at   TEXT NOT NULL,
			updated_at   TEXT NOT NULL,

			PRIMARY KEY (user_id, id)
		);

		CREATE INDEX IF NOT EXISTS idx_memory_nodes_user_created
			ON memory_nodes(user_id, created_at);

		CREATE TABLE IF NOT EXISTS memory_node_versions (
			user_id            TEXT NOT NULL,
			node_id            TEXT NOT NULL,
			version            INTEGER NOT NULL,
			title              TEXT NOT NULL,
			description        TEXT NOT NULL DEFAULT '',
			content            TEXT NOT NULL DEFAULT '',
			refs               TEXT NOT NULL DEFAULT '[]',
			content_hash       TEXT NOT NULL DEFAULT '',
			change_description TEXT NOT NULL DEFAULT '',
			created_at         TEXT NOT NULL,

			PRIMARY KEY (user_id, node_id, version),
			FOREIGN KEY (user_id, node_id) REFERENCES memory_nodes(user_id, id) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS heartbeat_tasks (
			id           TEXT PRIMARY KEY,
			user_id      TEXT NOT NULL,
			title        TEXT NOT NULL,
			block        TEXT NOT NULL,
			capabilities TEXT NOT NULL DEFAULT '[]',
			last_run_at  TEXT,
			created_at   TEXT NOT NULL,
			updated_at   TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_heartbeat_tasks_user ON heartbeat_tasks(user_id);

		CREATE TABLE IF NOT EXISTS cron_tasks (
			id               TEXT PRIMARY KEY,
			user_id          TEXT NOT NULL,
			name             TEXT NOT NULL,
			description      TEXT NOT NULL DEFAULT '',
			schedule         TEXT NOT NULL,
			timezone         TEXT NOT NULL DEFAULT '',
			block            TEXT NOT NULL,
			enabled          INTEGER NOT NULL DEFAULT 1,
			delete_after_run INTEGER NOT NULL DEFAULT 0,
			capabilities     TEXT NOT NULL DEFAULT '[]',
			last_run_at      TEXT,
			created_at       TEXT NOT NULL,
			updated_at       TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_cron_tasks_user ON cron_tasks(user_id);

		CREATE TABLE IF NOT EXISTS turn_runs (
			id              TEXT PRIMARY KEY,
			user_id         TEXT NOT NULL,
			kind            TEXT NOT NULL,
			task_id         TEXT NOT NULL DEFAULT '',
			status          TEXT NOT NULL,
			output          TEXT NOT NULL DEFAULT '',
			error           TEXT NOT NULL DEFAULT '',
			tool_call_count INTEGER NOT NULL DEFAULT 0,
			started_at      TEXT NOT NULL,
			finished_at     TEXT NOT NULL,

			CHECK (kind IN ('heartbeat', 'cron', 'block')),
			CHECK (status IN ('completed', 'skipped', 'failed'))
		);

		CREATE INDEX IF NOT EXISTS idx_turn_runs_user ON turn_runs(user_id, started_at);
		CREATE INDEX IF NOT EXISTS idx_turn_runs_task ON turn_runs(kind, task_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "memory_nodes",
			column: "description",
			apply:  `ALTER TABLE memory_nodes ADD COLUMN description TEXT NOT NULL DEFAULT ''`,
		},
		{
			table:  "memory_nodes",
			column: "content_hash",
			apply:  `ALTER TABLE memory_nodes ADD COLUMN content_hash TEXT NOT NULL DEFAULT ''`,
		},
		{
			table:  "cron_tasks",
			column: "delete_after_run",
			apply:  `ALTER TABLE cron_tasks ADD COLUMN delete_after_run INTEGER NOT NULL DEFAULT 0`,
		},
		{
			table:  "heartbeat_tasks",
			column: "capabilities",
			apply:  `ALTER TABLE heartbeat_tasks ADD COLUMN capabilities TEXT NOT NULL DEFAULT '[]'`,
		},
		{
			table:  "cron_tasks",
			column: "capabilities",
			apply:  `ALTER TABLE cron_tasks ADD COLUMN capabilities TEXT NOT NULL DEFAULT '[]'`,
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(`SELECT 1 FROM pragma_table_info(?) WHERE name = ?`, m.table, m.column).Scan(&exists)
		if err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isUniqueViolation checks if the error is a SQLite UNIQUE or PRIMARY KEY constraint violation
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "PRIMARY KEY constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatNullableTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func parseNullableTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
