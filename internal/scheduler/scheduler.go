// ABOUTME: Scheduler owns heartbeat and cron tasks and their background loops
// ABOUTME: Turns run blocks with the configured scheduler capabilities

package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/coven-toolhost/internal/config"
	"github.com/2389/coven-toolhost/internal/store"
)

// Store is the persistence the scheduler needs.
type Store interface {
	store.TaskStore
	store.RunStore
}

// Config configures a Scheduler.
type Config struct {
	Store  Store
	Runner BlockRunner
	// Sink receives non-skipped turn output. Defaults to LogSink.
	Sink   Sink
	Logger *slog.Logger
	// Capabilities are granted to every scheduled turn.
	Capabilities      []string
	HeartbeatInterval time.Duration
	CronTick          time.Duration
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Scheduler runs heartbeat and cron turns.
type Scheduler struct {
	heartbeats *Heartbeats
	crons      *Crons
	runs       store.RunStore
	logger     *slog.Logger

	heartbeatInterval time.Duration
	cronTick          time.Duration
	now               func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New creates a Scheduler. Call Start to run the background loops.
func New(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "scheduler")

	sink := cfg.Sink
	if sink == nil {
		sink = LogSink{Logger: logger}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	interval := cfg.HeartbeatInterval
	if interval <= 0 {
		interval = config.DefaultHeartbeatInterval
	}
	tick := cfg.CronTick
	if tick <= 0 {
		tick = config.DefaultCronTick
	}

	turns := &turnRunner{
		runner:       cfg.Runner,
		runs:         cfg.Store,
		sink:         sink,
		capabilities: cfg.Capabilities,
		logger:       logger,
		now:          now,
	}

	return &Scheduler{
		heartbeats:        &Heartbeats{tasks: cfg.Store, turns: turns, running: make(map[string]bool)},
		crons:             &Crons{tasks: cfg.Store, turns: turns, running: make(map[string]bool)},
		runs:              cfg.Store,
		logger:            logger,
		heartbeatInterval: interval,
		cronTick:          tick,
		now:               now,
	}
}

// Heartbeats returns the heartbeat task manager.
func (s *Scheduler) Heartbeats() *Heartbeats {
	return s.heartbeats
}

// Crons returns the cron task manager.
func (s *Scheduler) Crons() *Crons {
	return s.crons
}

// Runs lists recorded turn runs.
func (s *Scheduler) Runs(ctx context.Context, filter store.RunFilter) ([]*store.TurnRun, error) {
	return s.runs.ListTurnRuns(ctx, filter)
}

// Start launches the heartbeat and cron loops. They stop when ctx is
// cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	s.logger.Info("=== SCHEDULER STARTED ===",
		"heartbeat_interval", s.heartbeatInterval,
		"cron_tick", s.cronTick,
	)

	s.wg.Add(2)
	go s.loop(ctx, s.heartbeatInterval, s.runHeartbeats)
	go s.loop(ctx, s.cronTick, s.runCrons)
}

// Stop cancels the loops and waits for in-flight turns to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, every time.Duration, fn func(context.Context)) {
	defer s.wg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fn(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) runHeartbeats(ctx context.Context) {
	summary, err := s.heartbeats.RunNow(ctx, "", nil)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("heartbeat batch failed", "error", err)
		}
		return
	}
	if summary.Ran > 0 || len(summary.Busy) > 0 {
		s.logger.Info("heartbeat batch finished", "ran", summary.Ran, "busy", summary.Busy)
	}
}

func (s *Scheduler) runCrons(ctx context.Context) {
	fired, err := s.crons.Tick(ctx, s.now())
	if err != nil && ctx.Err() == nil {
		s.logger.Error("cron tick failed", "error", err)
		return
	}
	if len(fired) > 0 {
		s.logger.Debug("cron tick fired tasks", "task_ids", fired)
	}
}
