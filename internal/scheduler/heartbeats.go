// ABOUTME: Heartbeat tasks: blocks run together on a fixed interval
// ABOUTME: Task ids are slugs of their titles, made unique with numeric suffixes

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/2389/coven-toolhost/internal/block"
	"github.com/2389/coven-toolhost/internal/store"
)

// Scheduler errors
var (
	ErrTaskNotFound = errors.New("task not found")
	ErrTaskExists   = errors.New("task already exists")
	ErrInvalidTask  = errors.New("invalid task")
)

var (
	slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)
	safeID      = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
)

// HeartbeatInput describes a heartbeat task to add.
type HeartbeatInput struct {
	// ID is derived from Title when empty.
	ID     string
	UserID string
	Title  string
	Block  string
	// Capabilities bound what the task's turns may call.
	Capabilities []string
	// Overwrite replaces an existing task with the same id owned by the same user.
	Overwrite bool
}

// RunSummary reports which tasks a batch ran.
type RunSummary struct {
	Ran     int      `json:"ran"`
	TaskIDs []string `json:"task_ids"`
	// Busy lists tasks skipped because a previous run was still in progress.
	Busy []string `json:"busy,omitempty"`
}

// Heartbeats manages heartbeat tasks.
type Heartbeats struct {
	tasks store.TaskStore
	turns *turnRunner

	mu      sync.Mutex
	running map[string]bool
}

// Add validates and stores a heartbeat task.
func (h *Heartbeats) Add(ctx context.Context, in HeartbeatInput) (*store.HeartbeatTask, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidTask)
	}
	if strings.TrimSpace(in.UserID) == "" {
		return nil, fmt.Errorf("%w: user is required", ErrInvalidTask)
	}
	if _, err := block.Parse([]byte(in.Block)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTask, err)
	}

	id := strings.TrimSpace(in.ID)
	if id != "" {
		if !safeID.MatchString(id) {
			return nil, fmt.Errorf("%w: id %q contains invalid characters", ErrInvalidTask, id)
		}
		existing, err := h.tasks.GetHeartbeatTask(ctx, id)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return nil, fmt.Errorf("reading heartbeat task: %w", err)
		case existing.UserID != in.UserID || !in.Overwrite:
			return nil, fmt.Errorf("%w: %s", ErrTaskExists, id)
		default:
			if err := h.tasks.DeleteHeartbeatTask(ctx, id); err != nil {
				return nil, fmt.Errorf("replacing heartbeat task: %w", err)
			}
		}
	} else {
		var err error
		if id, err = h.uniqueID(ctx, title); err != nil {
			return nil, err
		}
	}

	task := &store.HeartbeatTask{
		ID:           id,
		UserID:       in.UserID,
		Title:        title,
		Block:        in.Block,
		Capabilities: slices.Clone(in.Capabilities),
	}
	if err := h.tasks.CreateHeartbeatTask(ctx, task); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, fmt.Errorf("%w: %s", ErrTaskExists, id)
		}
		return nil, fmt.Errorf("creating heartbeat task: %w", err)
	}
	h.turns.logger.Info("heartbeat task added", "task_id", id, "user_id", in.UserID)
	return task, nil
}

// Remove deletes a heartbeat task owned by userID.
func (h *Heartbeats) Remove(ctx context.Context, userID, id string) error {
	task, err := h.tasks.GetHeartbeatTask(ctx, id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && task.UserID != userID) {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("reading heartbeat task: %w", err)
	}
	if err := h.tasks.DeleteHeartbeatTask(ctx, id); err != nil {
		return fmt.Errorf("deleting heartbeat task: %w", err)
	}
	return nil
}

// List returns userID's tasks, or every task when userID is empty.
func (h *Heartbeats) List(ctx context.Context, userID string) ([]*store.HeartbeatTask, error) {
	return h.tasks.ListHeartbeatTasks(ctx, userID)
}

// RunNow runs tasks immediately as one batch. An empty userID covers all
// users; empty ids covers all of the user's tasks. Tasks still running
// from an earlier batch are skipped.
func (h *Heartbeats) RunNow(ctx context.Context, userID string, ids []string) (*RunSummary, error) {
	tasks, err := h.tasks.ListHeartbeatTasks(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing heartbeat tasks: %w", err)
	}
	if len(ids) > 0 {
		tasks = slices.DeleteFunc(tasks, func(t *store.HeartbeatTask) bool {
			return !slices.Contains(ids, t.ID)
		})
	}

	summary := &RunSummary{TaskIDs: []string{}}
	for _, task := range tasks {
		if !h.acquire(task.ID) {
			summary.Busy = append(summary.Busy, task.ID)
			continue
		}
		_, err := h.turns.run(ctx, turn{
			kind:         store.RunKindHeartbeat,
			taskID:       task.ID,
			userID:       task.UserID,
			title:        task.Title,
			source:       task.Block,
			capabilities: task.Capabilities,
		})
		if ctx.Err() == nil {
			if markErr := h.tasks.MarkHeartbeatRun(ctx, task.ID, h.turns.now()); markErr != nil && err == nil {
				err = markErr
			}
		}
		h.release(task.ID)
		if err != nil {
			return summary, fmt.Errorf("running heartbeat %s: %w", task.ID, err)
		}
		summary.Ran++
		summary.TaskIDs = append(summary.TaskIDs, task.ID)
	}
	return summary, nil
}

func (h *Heartbeats) acquire(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running[id] {
		return false
	}
	h.running[id] = true
	return true
}

func (h *Heartbeats) release(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.running, id)
}

// uniqueID slugs title and appends -2, -3, ... until the id is free.
func (h *Heartbeats) uniqueID(ctx context.Context, title string) (string, error) {
	base := Slugify(title)
	candidate := base
	for n := 2; ; n++ {
		_, err := h.tasks.GetHeartbeatTask(ctx, candidate)
		if errors.Is(err, store.ErrNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("checking heartbeat id: %w", err)
		}
		candidate = fmt.Sprintf("%s-%d", base, n)
	}
}

// Slugify lowercases s and joins its alphanumeric runs with dashes.
func Slugify(s string) string {
	slug := strings.Trim(slugInvalid.ReplaceAllString(strings.ToLower(s), "-"), "-")
	if slug == "" {
		return "heartbeat"
	}
	return slug
}
