// ABOUTME: Tests for the schedule pack tools.
// ABOUTME: Uses a scheduler backed by the mock store and the real block runner.

package builtins

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/2389/coven-toolhost/internal/block"
	"github.com/2389/coven-toolhost/internal/packs"
	"github.com/2389/coven-toolhost/internal/scheduler"
	"github.com/2389/coven-toolhost/internal/store"
)

func newTestScheduler(t *testing.T) (*scheduler.Scheduler, *store.MockStore) {
	t.Helper()
	registry := packs.NewRegistry(slog.Default())
	if err := registry.RegisterBuiltinPack(ControlPack()); err != nil {
		t.Fatalf("register control pack: %v", err)
	}
	st := store.NewMockStore()
	sched := scheduler.New(scheduler.Config{
		Store:  st,
		Runner: block.NewRunner(block.RunnerConfig{Router: packs.NewRouter(packs.RouterConfig{Registry: registry})}),
	})
	return sched, st
}

func TestHeartbeatTools(t *testing.T) {
	sched, st := newTestScheduler(t)
	pack := SchedulePack(sched)

	out := call(t, findHandler(pack, "heartbeat_add"), `{"title":"Morning Check","block":"calls: [{tool: skip}]"}`)
	if out["taskId"] != "morning-check" {
		t.Errorf("taskId = %v", out["taskId"])
	}

	// Inline object blocks are accepted too
	out = call(t, findHandler(pack, "heartbeat_add"), `{"title":"Morning Check","block":{"calls":[{"tool":"skip"}]}}`)
	if out["taskId"] != "morning-check-2" {
		t.Errorf("taskId = %v", out["taskId"])
	}

	out = call(t, findHandler(pack, "heartbeat_run"), `{"ids":["morning-check"]}`)
	if out["ran"] != float64(1) {
		t.Errorf("ran = %v", out["ran"])
	}
	if out["summary"] != "Heartbeat ran 1 task(s): morning-check." {
		t.Errorf("summary = %v", out["summary"])
	}

	runs, err := st.ListTurnRuns(context.Background(), store.RunFilter{TaskID: "morning-check"})
	if err != nil {
		t.Fatalf("ListTurnRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != store.RunStatusSkipped {
		t.Errorf("unexpected runs: %+v", runs)
	}

	out = call(t, findHandler(pack, "heartbeat_remove"), `{"id":"morning-check"}`)
	if out["removed"] != true {
		t.Errorf("removed = %v", out["removed"])
	}
	out = call(t, findHandler(pack, "heartbeat_remove"), `{"id":"morning-check"}`)
	if out["removed"] != false {
		t.Errorf("second remove = %v", out["removed"])
	}

	err = callErr(t, findHandler(pack, "heartbeat_add"), `{"title":"x","block":"calls: []"}`)
	if !errors.Is(err, scheduler.ErrInvalidTask) {
		t.Errorf("expected ErrInvalidTask, got %v", err)
	}
	callErr(t, findHandler(pack, "heartbeat_add"), `{"title":"x"}`)
}

func TestCronTools(t *testing.T) {
	sched, st := newTestScheduler(t)
	pack := SchedulePack(sched)

	out := call(t, findHandler(pack, "cron_add"), `{"id":"weekly","name":"Weekly","schedule":"0 9 * * 1","timezone":"Europe/Berlin","block":"calls: [{tool: skip}]","deleteAfterRun":true}`)
	if out["taskId"] != "weekly" {
		t.Errorf("taskId = %v", out["taskId"])
	}
	if _, ok := out["nextRunAt"].(string); !ok {
		t.Errorf("missing nextRunAt: %v", out)
	}

	task, err := st.GetCronTask(context.Background(), "weekly")
	if err != nil {
		t.Fatalf("GetCronTask: %v", err)
	}
	if task.UserID != testCaller.UserID || !task.DeleteAfterRun || task.Timezone != "Europe/Berlin" {
		t.Errorf("unexpected task: %+v", task)
	}

	err = callErr(t, findHandler(pack, "cron_add"), `{"name":"bad","schedule":"every day","block":"calls: [{tool: skip}]"}`)
	if !errors.Is(err, scheduler.ErrInvalidSchedule) {
		t.Errorf("expected ErrInvalidSchedule, got %v", err)
	}

	// Other users cannot remove the task
	raw, err := findHandler(pack, "cron_remove")(context.Background(), packs.Caller{UserID: "someone-else"}, json.RawMessage(`{"id":"weekly"}`))
	if err != nil {
		t.Fatalf("cron_remove: %v", err)
	}
	var res map[string]any
	if err := json.Unmarshal(raw, &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if res["removed"] != false {
		t.Errorf("foreign remove = %v", res["removed"])
	}

	out = call(t, findHandler(pack, "cron_remove"), `{"id":"weekly"}`)
	if out["removed"] != true {
		t.Errorf("removed = %v", out["removed"])
	}
}

// A heartbeat never runs with capabilities its creator did not hold, even
// when the scheduler itself grants them.
func TestHeartbeatTurnsKeepCreatorCapabilities(t *testing.T) {
	sb := newTestSandbox(t)
	registry := packs.NewRegistry(slog.Default())
	sched := scheduler.New(scheduler.Config{
		Store:        store.NewMockStore(),
		Runner:       block.NewRunner(block.RunnerConfig{Router: packs.NewRouter(packs.RouterConfig{Registry: registry})}),
		Capabilities: []string{CapWorkspace, CapExec, CapMemory},
	})
	if err := RegisterAll(registry, Deps{Sandbox: sb, Memory: newTestMemory(t), Scheduler: sched}); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
	pack := SchedulePack(sched)

	run := func(caller packs.Caller, id string) map[string]any {
		t.Helper()
		add := `{"id":"` + id + `","title":"` + id + `","block":"calls: [{tool: exec, args: {command: touch ` + id + `}}]"}`
		if _, err := findHandler(pack, "heartbeat_add")(context.Background(), caller, json.RawMessage(add)); err != nil {
			t.Fatalf("heartbeat_add: %v", err)
		}
		raw, err := findHandler(pack, "heartbeat_run")(context.Background(), caller, json.RawMessage(`{"ids":["`+id+`"]}`))
		if err != nil {
			t.Fatalf("heartbeat_run: %v", err)
		}
		var out map[string]any
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return out
	}

	scheduleOnly := packs.Caller{UserID: "u-schedule", Capabilities: []string{CapSchedule}}
	out := run(scheduleOnly, "denied")
	if out["ran"] != float64(1) {
		t.Errorf("ran = %v", out["ran"])
	}
	if _, err := os.Stat(filepath.Join(sb.HomeDir(), "denied")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("schedule-only caller executed a command through a heartbeat (stat err %v)", err)
	}
	runs, err := sched.Runs(context.Background(), store.RunFilter{TaskID: "denied"})
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != store.RunStatusFailed || !strings.Contains(runs[0].Error, packs.ErrInsufficientCapabilities.Error()) {
		t.Errorf("unexpected runs: %+v", runs)
	}

	trusted := packs.Caller{UserID: "u-exec", Capabilities: []string{CapSchedule, CapExec}}
	run(trusted, "allowed")
	if _, err := os.Stat(filepath.Join(sb.HomeDir(), "allowed")); err != nil {
		t.Errorf("exec-capable caller's heartbeat did not run: %v", err)
	}
}
