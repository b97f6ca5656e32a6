// ABOUTME: SQLite persistence for turn run records
// ABOUTME: Runs are append-only and listed newest first

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 1000
)

// CreateTurnRun inserts a run record, assigning an id if empty.
func (s *SQLiteStore) CreateTurnRun(ctx context.Context, run *TurnRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = run.StartedAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO turn_runs (id, user_id, kind, task_id, status, output, error, tool_call_count, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.UserID, run.Kind, run.TaskID, run.Status, run.Output, run.Error, run.ToolCallCount,
		formatTime(run.StartedAt), formatTime(run.FinishedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("turn run %s: %w", run.ID, ErrDuplicate)
		}
		return fmt.Errorf("inserting turn run: %w", err)
	}
	return nil
}

// ListTurnRuns returns runs matching filter, newest first.
// If limit is 0 or negative, a default limit of 50 is used.
func (s *SQLiteStore) ListTurnRuns(ctx context.Context, filter RunFilter) ([]*TurnRun, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultRunLimit
	}
	if limit > maxRunLimit {
		limit = maxRunLimit
	}

	query := `SELECT id, user_id, kind, task_id, status, output, error, tool_call_count, started_at, finished_at FROM turn_runs WHERE 1=1`
	var args []any
	if filter.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, filter.Kind)
	}
	if filter.TaskID != "" {
		query += ` AND task_id = ?`
		args = append(args, filter.TaskID)
	}
	query += ` ORDER BY started_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying turn runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*TurnRun
	for rows.Next() {
		var r TurnRun
		var startedAt, finishedAt string
		if err := rows.Scan(&r.ID, &r.UserID, &r.Kind, &r.TaskID, &r.Status, &r.Output, &r.Error,
			&r.ToolCallCount, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scanning turn run: %w", err)
		}
		r.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		r.FinishedAt, _ = time.Parse(time.RFC3339, finishedAt)
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}
