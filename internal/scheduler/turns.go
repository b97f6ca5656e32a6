// ABOUTME: Runs one scheduled turn and records it as a turn run
// ABOUTME: Skipped turns are recorded but never delivered to the sink

package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-toolhost/internal/block"
	"github.com/2389/coven-toolhost/internal/packs"
	"github.com/2389/coven-toolhost/internal/store"
)

// BlockRunner runs a parsed block. *block.Runner implements it.
type BlockRunner interface {
	Run(ctx context.Context, b *block.Block, caller packs.Caller) (*block.Result, error)
}

// Delivery is the output of a turn that was not skipped.
type Delivery struct {
	Run    *store.TurnRun
	Title  string
	Result *block.Result
}

// Sink receives turn output.
type Sink interface {
	Deliver(ctx context.Context, d Delivery) error
}

// LogSink writes deliveries to a logger.
type LogSink struct {
	Logger *slog.Logger
}

// Deliver logs the delivery.
func (s LogSink) Deliver(_ context.Context, d Delivery) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{
		"kind", d.Run.Kind,
		"task_id", d.Run.TaskID,
		"user_id", d.Run.UserID,
		"status", d.Run.Status,
		"title", d.Title,
		"output", d.Run.Output,
	}
	if d.Result != nil && d.Result.PrintOutput != "" {
		attrs = append(attrs, "print", d.Result.PrintOutput)
	}
	logger.Info("turn output", attrs...)
	return nil
}

// turn describes one run of a task's block. capabilities are the task
// creator's; the turn runs with those the scheduler also grants.
type turn struct {
	kind         string
	taskID       string
	userID       string
	title        string
	source       string
	capabilities []string
}

type turnRunner struct {
	runner       BlockRunner
	runs         store.RunStore
	sink         Sink
	capabilities []string
	logger       *slog.Logger
	now          func() time.Time
}

// run executes the turn, records it and delivers non-skipped output. The
// returned error is set only when the run could not be recorded or the
// context was cancelled.
func (tr *turnRunner) run(ctx context.Context, t turn) (*store.TurnRun, error) {
	rec := &store.TurnRun{
		ID:        uuid.New().String(),
		UserID:    t.userID,
		Kind:      t.kind,
		TaskID:    t.taskID,
		StartedAt: tr.now(),
	}

	var res *block.Result
	b, err := block.Parse([]byte(t.source))
	if err == nil {
		caller := packs.Caller{
			UserID:       t.userID,
			Capabilities: packs.IntersectCapabilities(t.capabilities, tr.capabilities),
		}
		res, err = tr.runner.Run(ctx, b, caller)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	switch {
	case err != nil:
		rec.Status = store.RunStatusFailed
		rec.Error = err.Error()
		rec.Output = err.Error()
	case res.SkipTurn:
		rec.Status = store.RunStatusSkipped
		rec.Output = res.Output
	case res.Failed():
		rec.Status = store.RunStatusFailed
		rec.Error = res.Error
		rec.Output = res.Output
	default:
		rec.Status = store.RunStatusCompleted
		rec.Output = res.Output
	}
	if res != nil {
		rec.ToolCallCount = res.ToolCallCount
	}
	rec.FinishedAt = tr.now()

	if err := tr.runs.CreateTurnRun(ctx, rec); err != nil {
		return nil, fmt.Errorf("recording turn run: %w", err)
	}

	tr.logger.Info("turn finished",
		"kind", rec.Kind,
		"task_id", rec.TaskID,
		"user_id", rec.UserID,
		"status", rec.Status,
		"tool_calls", rec.ToolCallCount,
	)

	if rec.Status == store.RunStatusSkipped {
		return rec, nil
	}
	if err := tr.sink.Deliver(ctx, Delivery{Run: rec, Title: t.title, Result: res}); err != nil {
		tr.logger.Warn("turn delivery failed", "task_id", rec.TaskID, "error", err)
	}
	return rec, nil
}
