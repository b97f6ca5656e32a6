// ABOUTME: Tests for heartbeat and cron scheduling
// ABOUTME: Runs real blocks through a router with fake tools and a mock store

package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-toolhost/internal/block"
	"github.com/2389/coven-toolhost/internal/packs"
	"github.com/2389/coven-toolhost/internal/store"
)

type recordingSink struct {
	mu         sync.Mutex
	deliveries []Delivery
}

func (s *recordingSink) Deliver(_ context.Context, d Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries = append(s.deliveries, d)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.deliveries)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fixture struct {
	sched  *Scheduler
	runner *block.Runner
	store  *store.MockStore
	sink   *recordingSink
	clock  *testClock
	gate   chan struct{}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store: store.NewMockStore(),
		sink:  &recordingSink{},
		clock: &testClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
		gate:  make(chan struct{}),
	}

	registry := packs.NewRegistry(nil)
	require.NoError(t, registry.RegisterBuiltinPack(&packs.BuiltinPack{
		ID: "builtin:test",
		Tools: []*packs.BuiltinTool{
			{
				Definition: &packs.ToolDefinition{Name: "say"},
				Handler: func(_ context.Context, _ packs.Caller, input json.RawMessage) (json.RawMessage, error) {
					return json.RawMessage(`{"summary":"said"}`), nil
				},
			},
			{
				Definition: &packs.ToolDefinition{Name: "skip"},
				Handler: func(context.Context, packs.Caller, json.RawMessage) (json.RawMessage, error) {
					return nil, packs.ErrSkipTurn
				},
			},
			{
				Definition: &packs.ToolDefinition{Name: "fail"},
				Handler: func(context.Context, packs.Caller, json.RawMessage) (json.RawMessage, error) {
					return nil, errors.New("nope")
				},
			},
			{
				Definition: &packs.ToolDefinition{Name: "wait"},
				Handler: func(ctx context.Context, _ packs.Caller, _ json.RawMessage) (json.RawMessage, error) {
					select {
					case <-f.gate:
					case <-ctx.Done():
						return nil, ctx.Err()
					}
					return json.RawMessage(`{"summary":"waited"}`), nil
				},
			},
			{
				Definition: &packs.ToolDefinition{Name: "shell", RequiredCapabilities: []string{"exec"}},
				Handler: func(context.Context, packs.Caller, json.RawMessage) (json.RawMessage, error) {
					return json.RawMessage(`{"summary":"ran"}`), nil
				},
			},
			{
				Definition: &packs.ToolDefinition{Name: "whoami", RequiredCapabilities: []string{"memory"}},
				Handler: func(_ context.Context, c packs.Caller, _ json.RawMessage) (json.RawMessage, error) {
					return json.Marshal(map[string]string{"summary": c.UserID})
				},
			},
		},
	}))

	f.runner = block.NewRunner(block.RunnerConfig{
		Router: packs.NewRouter(packs.RouterConfig{Registry: registry}),
	})
	f.sched = New(Config{
		Store:        f.store,
		Runner:       f.runner,
		Sink:         f.sink,
		Capabilities: []string{"memory"},
		Now:          f.clock.Now,
	})
	return f
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "check-inbox", Slugify("  Check Inbox! "))
	assert.Equal(t, "a-b-c", Slugify("a__b--c"))
	assert.Equal(t, "heartbeat", Slugify("!!!"))
}

func TestHeartbeatIDsAreUniqueSlugs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	hb := f.sched.Heartbeats()

	ids := make([]string, 0, 3)
	for range 3 {
		task, err := hb.Add(ctx, HeartbeatInput{UserID: "u1", Title: "Check Inbox", Block: "calls: [{tool: say}]"})
		require.NoError(t, err)
		ids = append(ids, task.ID)
	}
	assert.Equal(t, []string{"check-inbox", "check-inbox-2", "check-inbox-3"}, ids)
}

func TestHeartbeatAddValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	hb := f.sched.Heartbeats()

	_, err := hb.Add(ctx, HeartbeatInput{UserID: "u1", Title: "", Block: "calls: [{tool: say}]"})
	assert.ErrorIs(t, err, ErrInvalidTask)

	_, err = hb.Add(ctx, HeartbeatInput{UserID: "u1", Title: "x", Block: "calls: []"})
	assert.ErrorIs(t, err, ErrInvalidTask)

	_, err = hb.Add(ctx, HeartbeatInput{ID: "a b", UserID: "u1", Title: "x", Block: "calls: [{tool: say}]"})
	assert.ErrorIs(t, err, ErrInvalidTask)
}

func TestHeartbeatOverwrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	hb := f.sched.Heartbeats()

	_, err := hb.Add(ctx, HeartbeatInput{ID: "daily", UserID: "u1", Title: "Daily", Block: "calls: [{tool: say}]"})
	require.NoError(t, err)

	_, err = hb.Add(ctx, HeartbeatInput{ID: "daily", UserID: "u1", Title: "Daily", Block: "calls: [{tool: skip}]"})
	assert.ErrorIs(t, err, ErrTaskExists)

	_, err = hb.Add(ctx, HeartbeatInput{ID: "daily", UserID: "u2", Title: "Daily", Block: "calls: [{tool: skip}]", Overwrite: true})
	assert.ErrorIs(t, err, ErrTaskExists, "other users cannot overwrite")

	task, err := hb.Add(ctx, HeartbeatInput{ID: "daily", UserID: "u1", Title: "Daily v2", Block: "calls: [{tool: skip}]", Overwrite: true})
	require.NoError(t, err)
	assert.Equal(t, "Daily v2", task.Title)
}

func TestHeartbeatRunNowRecordsRuns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	hb := f.sched.Heartbeats()

	_, err := hb.Add(ctx, HeartbeatInput{ID: "ok", UserID: "u1", Title: "ok", Block: "calls: [{tool: whoami}]", Capabilities: []string{"memory"}})
	require.NoError(t, err)
	_, err = hb.Add(ctx, HeartbeatInput{ID: "quiet", UserID: "u1", Title: "quiet", Block: "calls: [{tool: skip}]"})
	require.NoError(t, err)
	_, err = hb.Add(ctx, HeartbeatInput{ID: "broken", UserID: "u1", Title: "broken", Block: "calls: [{tool: fail}]"})
	require.NoError(t, err)

	summary, err := hb.RunNow(ctx, "u1", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Ran)

	runs, err := f.sched.Runs(ctx, store.RunFilter{UserID: "u1"})
	require.NoError(t, err)
	status := make(map[string]string, len(runs))
	for _, r := range runs {
		assert.Equal(t, store.RunKindHeartbeat, r.Kind)
		status[r.TaskID] = r.Status
	}
	assert.Equal(t, map[string]string{
		"ok":     store.RunStatusCompleted,
		"quiet":  store.RunStatusSkipped,
		"broken": store.RunStatusFailed,
	}, status)

	// Skipped turns are not delivered
	require.Equal(t, 2, f.sink.count())
	for _, d := range f.sink.deliveries {
		if d.Run.TaskID == "ok" {
			assert.Equal(t, "u1", d.Run.Output)
		}
	}

	task, err := f.store.GetHeartbeatTask(ctx, "ok")
	require.NoError(t, err)
	require.NotNil(t, task.LastRunAt)
}

func TestHeartbeatRunNowFiltersIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	hb := f.sched.Heartbeats()

	for _, id := range []string{"a", "b"} {
		_, err := hb.Add(ctx, HeartbeatInput{ID: id, UserID: "u1", Title: id, Block: "calls: [{tool: say}]"})
		require.NoError(t, err)
	}

	summary, err := hb.RunNow(ctx, "u1", []string{"b", "missing"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, summary.TaskIDs)
}

func TestHeartbeatOverlapIsSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	hb := f.sched.Heartbeats()

	_, err := hb.Add(ctx, HeartbeatInput{ID: "slow", UserID: "u1", Title: "slow", Block: "calls: [{tool: wait}]"})
	require.NoError(t, err)

	done := make(chan *RunSummary)
	go func() {
		s, _ := hb.RunNow(ctx, "u1", nil)
		done <- s
	}()

	require.Eventually(t, func() bool {
		hb.mu.Lock()
		defer hb.mu.Unlock()
		return hb.running["slow"]
	}, time.Second, 5*time.Millisecond)

	second, err := hb.RunNow(ctx, "u1", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Ran)
	assert.Equal(t, []string{"slow"}, second.Busy)

	close(f.gate)
	first := <-done
	assert.Equal(t, 1, first.Ran)
}

func TestHeartbeatRemoveChecksOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	hb := f.sched.Heartbeats()

	_, err := hb.Add(ctx, HeartbeatInput{ID: "mine", UserID: "u1", Title: "mine", Block: "calls: [{tool: say}]"})
	require.NoError(t, err)

	assert.ErrorIs(t, hb.Remove(ctx, "u2", "mine"), ErrTaskNotFound)
	require.NoError(t, hb.Remove(ctx, "u1", "mine"))
	assert.ErrorIs(t, hb.Remove(ctx, "u1", "mine"), ErrTaskNotFound)
}

func TestParseSchedule(t *testing.T) {
	s, err := ParseSchedule("30 9 * * 1-5", "America/New_York")
	require.NoError(t, err)

	// Friday 2026-03-06 15:00 UTC is 10:00 in New York, so the next run is Monday 09:30 EDT
	from := time.Date(2026, 3, 6, 15, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 9, 13, 30, 0, 0, time.UTC), s.Next(from))

	every, err := ParseSchedule("*/15 * * * *", "")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 6, 15, 15, 0, 0, time.UTC), every.Next(from))

	for _, bad := range []string{"", "* * *", "61 * * * *", "CRON_TZ=UTC * * * * *"} {
		_, err := ParseSchedule(bad, "")
		assert.ErrorIs(t, err, ErrInvalidSchedule, bad)
	}
	_, err = ParseSchedule("* * * * *", "Mars/Olympus")
	assert.ErrorIs(t, err, ErrInvalidSchedule)
}

func TestCronTickRunsDueTasks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	crons := f.sched.Crons()

	disabled := false
	_, err := crons.Add(ctx, CronInput{ID: "hourly", UserID: "u1", Name: "hourly", Schedule: "0 * * * *", Block: "calls: [{tool: say}]"})
	require.NoError(t, err)
	_, err = crons.Add(ctx, CronInput{ID: "off", UserID: "u1", Name: "off", Schedule: "* * * * *", Block: "calls: [{tool: say}]", Enabled: &disabled})
	require.NoError(t, err)
	_, err = crons.Add(ctx, CronInput{ID: "once", UserID: "u1", Name: "once", Schedule: "* * * * *", Block: "calls: [{tool: say}]", DeleteAfterRun: true})
	require.NoError(t, err)

	// 09:01: only the every-minute one-shot is due
	fired, err := crons.Tick(ctx, f.clock.now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"once"}, fired)

	_, err = f.store.GetCronTask(ctx, "once")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// 10:00: the hourly task fires once, then not again in the same hour
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	fired, err = crons.Tick(ctx, at)
	require.NoError(t, err)
	assert.Equal(t, []string{"hourly"}, fired)

	fired, err = crons.Tick(ctx, at.Add(30*time.Second))
	require.NoError(t, err)
	assert.Empty(t, fired)

	runs, err := f.sched.Runs(ctx, store.RunFilter{Kind: store.RunKindCron})
	require.NoError(t, err)
	assert.Len(t, runs, 2)
	assert.Equal(t, 2, f.sink.count())
}

func TestCronAddValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	crons := f.sched.Crons()

	_, err := crons.Add(ctx, CronInput{UserID: "u1", Name: "x", Schedule: "bogus", Block: "calls: [{tool: say}]"})
	assert.ErrorIs(t, err, ErrInvalidSchedule)

	_, err = crons.Add(ctx, CronInput{UserID: "u1", Name: "", Schedule: "* * * * *", Block: "calls: [{tool: say}]"})
	assert.ErrorIs(t, err, ErrInvalidTask)

	task, err := crons.Add(ctx, CronInput{UserID: "u1", Name: "x", Schedule: "* * * * *", Block: "calls: [{tool: say}]"})
	require.NoError(t, err)
	assert.NotEmpty(t, task.ID)
	assert.True(t, task.Enabled)

	_, err = crons.Add(ctx, CronInput{ID: task.ID, UserID: "u1", Name: "x", Schedule: "* * * * *", Block: "calls: [{tool: say}]"})
	assert.ErrorIs(t, err, ErrTaskExists)
}

func TestSchedulerStartStop(t *testing.T) {
	f := newFixture(t)
	sched := New(Config{
		Store:             f.store,
		Runner:            block.NewRunner(block.RunnerConfig{Router: packs.NewRouter(packs.RouterConfig{Registry: packs.NewRegistry(nil)})}),
		Sink:              f.sink,
		HeartbeatInterval: 10 * time.Millisecond,
		CronTick:          10 * time.Millisecond,
	})

	_, err := sched.Heartbeats().Add(context.Background(), HeartbeatInput{ID: "tick", UserID: "u1", Title: "tick", Block: "calls: [{tool: missing}]"})
	require.NoError(t, err)

	sched.Start(context.Background())
	require.Eventually(t, func() bool {
		runs, _ := sched.Runs(context.Background(), store.RunFilter{TaskID: "tick"})
		return len(runs) > 0
	}, time.Second, 10*time.Millisecond)
	sched.Stop()

	runs, err := sched.Runs(context.Background(), store.RunFilter{TaskID: "tick"})
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusFailed, runs[0].Status)
}

func TestTurnsRunWithCreatorCapabilities(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	hb := f.sched.Heartbeats()

	tasks := []HeartbeatInput{
		// the scheduler grants memory but the creator never held it
		{ID: "no-memory", Title: "no-memory", Block: "calls: [{tool: whoami}]", Capabilities: []string{"schedule"}},
		// the creator held exec but the scheduler does not grant it
		{ID: "no-exec", Title: "no-exec", Block: "calls: [{tool: shell}]", Capabilities: []string{"exec", "memory"}},
		{ID: "wildcard", Title: "wildcard", Block: "calls: [{tool: whoami}]", Capabilities: []string{"*"}},
		{ID: "none", Title: "none", Block: "calls: [{tool: whoami}]"},
	}
	for _, in := range tasks {
		in.UserID = "u1"
		_, err := hb.Add(ctx, in)
		require.NoError(t, err)
	}

	summary, err := hb.RunNow(ctx, "u1", nil)
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Ran)

	runs, err := f.sched.Runs(ctx, store.RunFilter{UserID: "u1"})
	require.NoError(t, err)
	byTask := make(map[string]*store.TurnRun, len(runs))
	for _, r := range runs {
		byTask[r.TaskID] = r
	}

	for _, id := range []string{"no-memory", "no-exec", "none"} {
		require.Contains(t, byTask, id)
		assert.Equal(t, store.RunStatusFailed, byTask[id].Status, id)
		assert.Contains(t, byTask[id].Error, packs.ErrInsufficientCapabilities.Error(), id)
	}
	require.Contains(t, byTask, "wildcard")
	assert.Equal(t, store.RunStatusCompleted, byTask["wildcard"].Status)
}

func TestCronCapabilitiesPersist(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task, err := f.sched.Crons().Add(ctx, CronInput{
		ID: "c", UserID: "u1", Name: "c", Schedule: "* * * * *",
		Block:        "calls: [{tool: whoami}]",
		Capabilities: []string{"workspace"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"workspace"}, task.Capabilities)

	fired, err := f.sched.Crons().Tick(ctx, f.clock.now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, fired)

	runs, err := f.sched.Runs(ctx, store.RunFilter{TaskID: "c"})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.RunStatusFailed, runs[0].Status)
}

// failingRunStore refuses to record turn runs.
type failingRunStore struct {
	*store.MockStore
}

func (failingRunStore) CreateTurnRun(context.Context, *store.TurnRun) error {
	return errors.New("disk full")
}

func TestCronFailuresStillAdvance(t *testing.T) {
	t.Run("failing block", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		crons := f.sched.Crons()

		_, err := crons.Add(ctx, CronInput{ID: "broken", UserID: "u1", Name: "broken", Schedule: "* * * * *", Block: "calls: [{tool: fail}]"})
		require.NoError(t, err)

		at := f.clock.now.Add(time.Minute)
		fired, err := crons.Tick(ctx, at)
		require.NoError(t, err)
		assert.Equal(t, []string{"broken"}, fired)

		task, err := f.store.GetCronTask(ctx, "broken")
		require.NoError(t, err)
		require.NotNil(t, task.LastRunAt)
		assert.True(t, task.LastRunAt.Equal(at))

		fired, err = crons.Tick(ctx, at.Add(30*time.Second))
		require.NoError(t, err)
		assert.Empty(t, fired, "a failed turn must not refire within the same minute")
	})

	t.Run("failing run store", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		sched := New(Config{
			Store:  failingRunStore{f.store},
			Runner: f.runner,
			Sink:   f.sink,
			Now:    f.clock.Now,
		})
		crons := sched.Crons()

		_, err := crons.Add(ctx, CronInput{ID: "every", UserID: "u1", Name: "every", Schedule: "* * * * *", Block: "calls: [{tool: skip}]"})
		require.NoError(t, err)
		_, err = crons.Add(ctx, CronInput{ID: "once", UserID: "u1", Name: "once", Schedule: "* * * * *", Block: "calls: [{tool: skip}]", DeleteAfterRun: true})
		require.NoError(t, err)

		at := f.clock.now.Add(time.Minute)
		_, err = crons.Tick(ctx, at)
		require.NoError(t, err)

		task, err := f.store.GetCronTask(ctx, "every")
		require.NoError(t, err)
		require.NotNil(t, task.LastRunAt, "LastRunAt advances even when the run cannot be recorded")
		assert.True(t, task.LastRunAt.Equal(at))

		_, err = f.store.GetCronTask(ctx, "once")
		assert.ErrorIs(t, err, store.ErrNotFound)

		fired, err := crons.Tick(ctx, at.Add(30*time.Second))
		require.NoError(t, err)
		assert.Empty(t, fired)
	})
}

func TestHeartbeatMarkedWhenRunCannotBeRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sched := New(Config{
		Store:  failingRunStore{f.store},
		Runner: f.runner,
		Sink:   f.sink,
		Now:    f.clock.Now,
	})

	_, err := sched.Heartbeats().Add(ctx, HeartbeatInput{ID: "hb", UserID: "u1", Title: "hb", Block: "calls: [{tool: skip}]"})
	require.NoError(t, err)

	_, err = sched.Heartbeats().RunNow(ctx, "u1", nil)
	require.ErrorContains(t, err, "disk full")

	task, err := f.store.GetHeartbeatTask(ctx, "hb")
	require.NoError(t, err)
	assert.NotNil(t, task.LastRunAt)
}
