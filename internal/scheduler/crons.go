// ABOUTME: Cron tasks: blocks run when their schedule comes due
// ABOUTME: A minute tick finds due tasks and runs them concurrently

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-toolhost/internal/block"
	"github.com/2389/coven-toolhost/internal/store"
)

// CronInput describes a cron task to add.
type CronInput struct {
	// ID is generated when empty.
	ID          string
	UserID      string
	Name        string
	Description string
	Schedule    string
	Timezone    string
	Block       string
	// Enabled defaults to true.
	Enabled        *bool
	DeleteAfterRun bool
	// Capabilities bound what the task's turns may call.
	Capabilities []string
}

// Crons manages cron tasks.
type Crons struct {
	tasks store.TaskStore
	turns *turnRunner

	mu      sync.Mutex
	running map[string]bool
}

// Add validates and stores a cron task.
func (c *Crons) Add(ctx context.Context, in CronInput) (*store.CronTask, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidTask)
	}
	if strings.TrimSpace(in.UserID) == "" {
		return nil, fmt.Errorf("%w: user is required", ErrInvalidTask)
	}
	if _, err := ParseSchedule(in.Schedule, in.Timezone); err != nil {
		return nil, err
	}
	if _, err := block.Parse([]byte(in.Block)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTask, err)
	}

	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = uuid.New().String()
	} else if !safeID.MatchString(id) {
		return nil, fmt.Errorf("%w: id %q contains invalid characters", ErrInvalidTask, id)
	}

	enabled := true
	if in.Enabled != nil {
		enabled = *in.Enabled
	}

	task := &store.CronTask{
		ID:             id,
		UserID:         in.UserID,
		Name:           name,
		Description:    strings.TrimSpace(in.Description),
		Schedule:       strings.TrimSpace(in.Schedule),
		Timezone:       strings.TrimSpace(in.Timezone),
		Block:          in.Block,
		Enabled:        enabled,
		DeleteAfterRun: in.DeleteAfterRun,
		Capabilities:   slices.Clone(in.Capabilities),
		CreatedAt:      c.turns.now(),
	}
	if err := c.tasks.CreateCronTask(ctx, task); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, fmt.Errorf("%w: %s", ErrTaskExists, id)
		}
		return nil, fmt.Errorf("creating cron task: %w", err)
	}
	c.turns.logger.Info("cron task added", "task_id", id, "user_id", in.UserID, "schedule", task.Schedule)
	return task, nil
}

// Remove deletes a cron task owned by userID.
func (c *Crons) Remove(ctx context.Context, userID, id string) error {
	task, err := c.tasks.GetCronTask(ctx, id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && task.UserID != userID) {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("reading cron task: %w", err)
	}
	if err := c.tasks.DeleteCronTask(ctx, id); err != nil {
		return fmt.Errorf("deleting cron task: %w", err)
	}
	return nil
}

// List returns userID's tasks, or every task when userID is empty.
func (c *Crons) List(ctx context.Context, userID string) ([]*store.CronTask, error) {
	return c.tasks.ListCronTasks(ctx, userID)
}

// NextRun returns when task fires next after its last run (or creation).
func NextRun(task *store.CronTask) (time.Time, error) {
	sched, err := ParseSchedule(task.Schedule, task.Timezone)
	if err != nil {
		return time.Time{}, err
	}
	base := task.CreatedAt
	if task.LastRunAt != nil {
		base = *task.LastRunAt
	}
	return sched.Next(base), nil
}

// Tick runs every enabled task that is due at now and waits for them.
// A task whose previous run is still going is left for a later tick.
func (c *Crons) Tick(ctx context.Context, now time.Time) ([]string, error) {
	tasks, err := c.tasks.ListCronTasks(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("listing cron tasks: %w", err)
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		fired []string
	)
	for _, task := range tasks {
		if !task.Enabled {
			continue
		}
		next, err := NextRun(task)
		if err != nil {
			c.turns.logger.Warn("skipping cron task with invalid schedule", "task_id", task.ID, "error", err)
			continue
		}
		if next.IsZero() || next.After(now) {
			continue
		}
		if !c.acquire(task.ID) {
			c.turns.logger.Debug("cron task still running", "task_id", task.ID)
			continue
		}

		wg.Add(1)
		go func(task *store.CronTask) {
			defer wg.Done()
			defer c.release(task.ID)
			if c.fire(ctx, task, now) {
				mu.Lock()
				fired = append(fired, task.ID)
				mu.Unlock()
			}
		}(task)
	}
	wg.Wait()
	return fired, ctx.Err()
}

// fire runs task once and advances it. The task is marked (or deleted) even
// when the turn could not be recorded, so a broken task does not refire on
// every tick; only cancellation leaves it due.
func (c *Crons) fire(ctx context.Context, task *store.CronTask, now time.Time) bool {
	_, err := c.turns.run(ctx, turn{
		kind:         store.RunKindCron,
		taskID:       task.ID,
		userID:       task.UserID,
		title:        task.Name,
		source:       task.Block,
		capabilities: task.Capabilities,
	})
	if ctx.Err() != nil {
		return false
	}
	if err != nil {
		c.turns.logger.Error("cron turn failed", "task_id", task.ID, "error", err)
	}

	if task.DeleteAfterRun {
		if err := c.tasks.DeleteCronTask(ctx, task.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			c.turns.logger.Error("deleting one-shot cron task", "task_id", task.ID, "error", err)
		}
		return true
	}
	if err := c.tasks.MarkCronRun(ctx, task.ID, now); err != nil {
		c.turns.logger.Error("marking cron run", "task_id", task.ID, "error", err)
	}
	return true
}

func (c *Crons) acquire(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running[id] {
		return false
	}
	c.running[id] = true
	return true
}

func (c *Crons) release(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.running, id)
}
