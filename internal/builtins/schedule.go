// ABOUTME: Schedule pack: manage the caller's heartbeat and cron tasks from a block.
// ABOUTME: Requires the "schedule" capability.

package builtins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/2389/coven-toolhost/internal/block"
	"github.com/2389/coven-toolhost/internal/packs"
	"github.com/2389/coven-toolhost/internal/scheduler"
)

// SchedulePack creates heartbeat_run, heartbeat_add, heartbeat_remove,
// cron_add and cron_remove.
func SchedulePack(sched *scheduler.Scheduler) *packs.BuiltinPack {
	caps := []string{CapSchedule}
	return &packs.BuiltinPack{
		ID: "builtin:schedule",
		Tools: []*packs.BuiltinTool{
			{
				Definition: &packs.ToolDefinition{
					Name:                 "heartbeat_run",
					Description:          "Run heartbeat tasks immediately as a single batch instead of waiting for the next interval.",
					InputSchemaJSON:      `{"type":"object","properties":{"ids":{"type":"array","items":{"type":"string","minLength":1}}},"additionalProperties":false}`,
					RequiredCapabilities: caps,
					TimeoutSeconds:       300,
				},
				Handler: heartbeatRunHandler(sched.Heartbeats()),
			},
			{
				Definition: &packs.ToolDefinition{
					Name:                 "heartbeat_add",
					Description:          "Add a heartbeat task that runs a block on every heartbeat interval. The id defaults to a slug of the title.",
					InputSchemaJSON:      `{"type":"object","properties":{"id":{"type":"string","minLength":1},"title":{"type":"string","minLength":1},"block":{"description":"Block source as YAML/JSON text or an object"},"overwrite":{"type":"boolean"}},"required":["title","block"],"additionalProperties":false}`,
					RequiredCapabilities: caps,
				},
				Handler: heartbeatAddHandler(sched.Heartbeats()),
			},
			{
				Definition: &packs.ToolDefinition{
					Name:                 "heartbeat_remove",
					Description:          "Remove one of your heartbeat tasks.",
					InputSchemaJSON:      `{"type":"object","properties":{"id":{"type":"string","minLength":1}},"required":["id"],"additionalProperties":false}`,
					RequiredCapabilities: caps,
				},
				Handler: heartbeatRemoveHandler(sched.Heartbeats()),
			},
			{
				Definition: &packs.ToolDefinition{
					Name:                 "cron_add",
					Description:          "Add a cron task that runs a block on a five-field cron schedule, evaluated in the given IANA time zone (UTC by default).",
					InputSchemaJSON:      `{"type":"object","properties":{"id":{"type":"string","minLength":1},"name":{"type":"string","minLength":1},"description":{"type":"string"},"schedule":{"type":"string","minLength":1},"timezone":{"type":"string"},"block":{"description":"Block source as YAML/JSON text or an object"},"enabled":{"type":"boolean"},"deleteAfterRun":{"type":"boolean"}},"required":["name","schedule","block"],"additionalProperties":false}`,
					RequiredCapabilities: caps,
				},
				Handler: cronAddHandler(sched.Crons()),
			},
			{
				Definition: &packs.ToolDefinition{
					Name:                 "cron_remove",
					Description:          "Remove one of your cron tasks.",
					InputSchemaJSON:      `{"type":"object","properties":{"id":{"type":"string","minLength":1}},"required":["id"],"additionalProperties":false}`,
					RequiredCapabilities: caps,
				},
				Handler: cronRemoveHandler(sched.Crons()),
			},
		},
	}
}

type heartbeatRunInput struct {
	IDs []string `json:"ids"`
}

func heartbeatRunHandler(hb *scheduler.Heartbeats) packs.ToolHandler {
	return func(ctx context.Context, caller packs.Caller, input json.RawMessage) (json.RawMessage, error) {
		in, err := decodeInput[heartbeatRunInput](input)
		if err != nil {
			return nil, err
		}

		res, err := hb.RunNow(ctx, caller.UserID, in.IDs)
		if err != nil {
			return nil, err
		}

		summary := "No heartbeat tasks ran."
		if res.Ran > 0 {
			summary = fmt.Sprintf("Heartbeat ran %d task(s): %s.", res.Ran, strings.Join(res.TaskIDs, ", "))
		}
		return json.Marshal(map[string]any{
			"summary": summary,
			"ran":     res.Ran,
			"taskIds": res.TaskIDs,
			"busy":    res.Busy,
		})
	}
}

type heartbeatAddInput struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Block     json.RawMessage `json:"block"`
	Overwrite bool            `json:"overwrite"`
}

func heartbeatAddHandler(hb *scheduler.Heartbeats) packs.ToolHandler {
	return func(ctx context.Context, caller packs.Caller, input json.RawMessage) (json.RawMessage, error) {
		in, err := decodeInput[heartbeatAddInput](input)
		if err != nil {
			return nil, err
		}
		source, err := blockSource(in.Block)
		if err != nil {
			return nil, err
		}

		task, err := hb.Add(ctx, scheduler.HeartbeatInput{
			ID:           in.ID,
			UserID:       caller.UserID,
			Title:        in.Title,
			Block:        source,
			Capabilities: caller.Capabilities,
			Overwrite:    in.Overwrite,
		})
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]any{
			"summary": fmt.Sprintf("Added heartbeat task %s (%q).", task.ID, task.Title),
			"taskId":  task.ID,
			"title":   task.Title,
		})
	}
}

type taskIDInput struct {
	ID string `json:"id"`
}

func heartbeatRemoveHandler(hb *scheduler.Heartbeats) packs.ToolHandler {
	return func(ctx context.Context, caller packs.Caller, input json.RawMessage) (json.RawMessage, error) {
		in, err := decodeInput[taskIDInput](input)
		if err != nil {
			return nil, err
		}
		if err := requireString("id", in.ID); err != nil {
			return nil, err
		}
		return removeResult("heartbeat", in.ID, hb.Remove(ctx, caller.UserID, in.ID))
	}
}

type cronAddInput struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	Schedule       string          `json:"schedule"`
	Timezone       string          `json:"timezone"`
	Block          json.RawMessage `json:"block"`
	Enabled        *bool           `json:"enabled"`
	DeleteAfterRun bool            `json:"deleteAfterRun"`
}

func cronAddHandler(crons *scheduler.Crons) packs.ToolHandler {
	return func(ctx context.Context, caller packs.Caller, input json.RawMessage) (json.RawMessage, error) {
		in, err := decodeInput[cronAddInput](input)
		if err != nil {
			return nil, err
		}
		source, err := blockSource(in.Block)
		if err != nil {
			return nil, err
		}

		task, err := crons.Add(ctx, scheduler.CronInput{
			ID:             in.ID,
			UserID:         caller.UserID,
			Name:           in.Name,
			Description:    in.Description,
			Schedule:       in.Schedule,
			Timezone:       in.Timezone,
			Block:          source,
			Enabled:        in.Enabled,
			DeleteAfterRun: in.DeleteAfterRun,
			Capabilities:   caller.Capabilities,
		})
		if err != nil {
			return nil, err
		}

		out := map[string]any{
			"summary":  fmt.Sprintf("Added cron task %s (%q) on %q.", task.ID, task.Name, task.Schedule),
			"taskId":   task.ID,
			"name":     task.Name,
			"schedule": task.Schedule,
			"enabled":  task.Enabled,
		}
		if next, err := scheduler.NextRun(task); err == nil && task.Enabled {
			out["nextRunAt"] = next.UTC()
		}
		return json.Marshal(out)
	}
}

func cronRemoveHandler(crons *scheduler.Crons) packs.ToolHandler {
	return func(ctx context.Context, caller packs.Caller, input json.RawMessage) (json.RawMessage, error) {
		in, err := decodeInput[taskIDInput](input)
		if err != nil {
			return nil, err
		}
		if err := requireString("id", in.ID); err != nil {
			return nil, err
		}
		return removeResult("cron", in.ID, crons.Remove(ctx, caller.UserID, in.ID))
	}
}

func removeResult(kind, id string, err error) (json.RawMessage, error) {
	removed := true
	if errors.Is(err, scheduler.ErrTaskNotFound) {
		removed = false
	} else if err != nil {
		return nil, err
	}

	summary := fmt.Sprintf("Removed %s task %s.", kind, id)
	if !removed {
		summary = fmt.Sprintf("No %s task %s.", kind, id)
	}
	return json.Marshal(map[string]any{
		"summary": summary,
		"taskId":  id,
		"removed": removed,
	})
}

// blockSource accepts a block as a YAML/JSON string or an inline object.
func blockSource(raw json.RawMessage) (string, error) {
	source, err := block.SourceFromJSON(raw)
	if err != nil {
		return "", fmt.Errorf("invalid input: %w", err)
	}
	return source, nil
}
