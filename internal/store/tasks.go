// ABOUTME: SQLite persistence for heartbeat and cron tasks
// ABOUTME: Tasks hold the block source they run and their last run time

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// CreateHeartbeatTask inserts a heartbeat task.
// Returns ErrDuplicate if the id is taken.
func (s *SQLiteStore) CreateHeartbeatTask(ctx context.Context, task *HeartbeatTask) error {
	now := time.Now()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	caps, err := marshalCapabilities(task.Capabilities)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO heartbeat_tasks (id, user_id, title, block, capabilities, last_run_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, task.ID, task.UserID, task.Title, task.Block, caps, formatNullableTime(task.LastRunAt),
		formatTime(task.CreatedAt), formatTime(task.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting heartbeat task: %w", err)
	}

	s.logger.Debug("created heartbeat task", "id", task.ID, "user_id", task.UserID)
	return nil
}

// GetHeartbeatTask retrieves a heartbeat task by id.
func (s *SQLiteStore) GetHeartbeatTask(ctx context.Context, id string) (*HeartbeatTask, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, block, capabilities, last_run_at, created_at, updated_at
		FROM heartbeat_tasks WHERE id = ?
	`, id)

	task, err := scanHeartbeatTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying heartbeat task: %w", err)
	}
	return task, nil
}

// ListHeartbeatTasks returns heartbeat tasks ordered by creation time.
func (s *SQLiteStore) ListHeartbeatTasks(ctx context.Context, userID string) ([]*HeartbeatTask, error) {
	query := `SELECT id, user_id, title, block, capabilities, last_run_at, created_at, updated_at FROM heartbeat_tasks`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying heartbeat tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*HeartbeatTask
	for rows.Next() {
		task, err := scanHeartbeatTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning heartbeat task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// DeleteHeartbeatTask removes a heartbeat task.
// Returns ErrNotFound if the task doesn't exist.
func (s *SQLiteStore) DeleteHeartbeatTask(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "heartbeat_tasks", id)
}

// MarkHeartbeatRun records the time a heartbeat task last ran.
func (s *SQLiteStore) MarkHeartbeatRun(ctx context.Context, id string, at time.Time) error {
	return s.markRun(ctx, "heartbeat_tasks", id, at)
}

// CreateCronTask inserts a cron task.
// Returns ErrDuplicate if the id is taken.
func (s *SQLiteStore) CreateCronTask(ctx context.Context, task *CronTask) error {
	now := time.Now()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	caps, err := marshalCapabilities(task.Capabilities)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cron_tasks (id, user_id, name, description, schedule, timezone, block, enabled, delete_after_run, capabilities, last_run_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, task.ID, task.UserID, task.Name, task.Description, task.Schedule, task.Timezone, task.Block,
		task.Enabled, task.DeleteAfterRun, caps, formatNullableTime(task.LastRunAt),
		formatTime(task.CreatedAt), formatTime(task.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting cron task: %w", err)
	}

	s.logger.Debug("created cron task", "id", task.ID, "user_id", task.UserID, "schedule", task.Schedule)
	return nil
}

// GetCronTask retrieves a cron task by id.
func (s *SQLiteStore) GetCronTask(ctx context.Context, id string) (*CronTask, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, description, schedule, timezone, block, enabled, delete_after_run, capabilities, last_run_at, created_at, updated_at
		FROM cron_tasks WHERE id = ?
	`, id)

	task, err := scanCronTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying cron task: %w", err)
	}
	return task, nil
}

// ListCronTasks returns cron tasks ordered by creation time.
func (s *SQLiteStore) ListCronTasks(ctx context.Context, userID string) ([]*CronTask, error) {
	query := `SELECT id, user_id, name, description, schedule, timezone, block, enabled, delete_after_run, capabilities, last_run_at, created_at, updated_at FROM cron_tasks`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying cron tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*CronTask
	for rows.Next() {
		task, err := scanCronTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning cron task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// DeleteCronTask removes a cron task.
// Returns ErrNotFound if the task doesn't exist.
func (s *SQLiteStore) DeleteCronTask(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "cron_tasks", id)
}

// MarkCronRun records the time a cron task last ran.
func (s *SQLiteStore) MarkCronRun(ctx context.Context, id string, at time.Time) error {
	return s.markRun(ctx, "cron_tasks", id, at)
}

// deleteByID and markRun take table names from the constants above only.
func (s *SQLiteStore) deleteByID(ctx context.Context, table, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting from %s: %w", table, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) markRun(ctx context.Context, table, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE `+table+` SET last_run_at = ?, updated_at = ? WHERE id = ?`,
		formatTime(at), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("updating %s: %w", table, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanHeartbeatTask(row rowScanner) (*HeartbeatTask, error) {
	var task HeartbeatTask
	var lastRun sql.NullString
	var caps, createdAt, updatedAt string
	if err := row.Scan(&task.ID, &task.UserID, &task.Title, &task.Block, &caps, &lastRun, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(caps), &task.Capabilities); err != nil {
		return nil, fmt.Errorf("parsing capabilities: %w", err)
	}
	var err error
	if task.LastRunAt, err = parseNullableTime(lastRun); err != nil {
		return nil, fmt.Errorf("parsing last_run_at: %w", err)
	}
	task.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	task.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &task, nil
}

func scanCronTask(row rowScanner) (*CronTask, error) {
	var task CronTask
	var lastRun sql.NullString
	var caps, createdAt, updatedAt string
	if err := row.Scan(&task.ID, &task.UserID, &task.Name, &task.Description, &task.Schedule, &task.Timezone,
		&task.Block, &task.Enabled, &task.DeleteAfterRun, &caps, &lastRun, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(caps), &task.Capabilities); err != nil {
		return nil, fmt.Errorf("parsing capabilities: %w", err)
	}
	var err error
	if task.LastRunAt, err = parseNullableTime(lastRun); err != nil {
		return nil, fmt.Errorf("parsing last_run_at: %w", err)
	}
	task.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	task.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &task, nil
}

func marshalCapabilities(caps []string) (string, error) {
	if caps == nil {
		caps = []string{}
	}
	b, err := json.Marshal(caps)
	if err != nil {
		return "", fmt.Errorf("marshaling capabilities: %w", err)
	}
	return string(b), nil
}
