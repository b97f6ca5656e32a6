// ABOUTME: Exec pack: runs shell commands in the sandbox working directory.
// ABOUTME: Requires the "exec" capability.

package builtins

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/2389/coven-toolhost/internal/packs"
	"github.com/2389/coven-toolhost/internal/sandbox"
)

// ExecPack creates the exec tool.
func ExecPack(sb *sandbox.Sandbox) *packs.BuiltinPack {
	return &packs.BuiltinPack{
		ID: "builtin:exec",
		Tools: []*packs.BuiltinTool{
			{
				Definition: &packs.ToolDefinition{
					Name:                 "exec",
					Description:          "Execute a shell command inside the workspace (or a subdirectory). The cwd, if provided, must resolve inside the workspace or home. Returns stdout/stderr and failure details.",
					InputSchemaJSON:      `{"type":"object","properties":{"command":{"type":"string","minLength":1},"cwd":{"type":"string","minLength":1},"timeoutMs":{"type":"integer","minimum":100,"maximum":300000},"env":{"type":"object","additionalProperties":{"type":["string","number","boolean"]}}},"required":["command"],"additionalProperties":false}`,
					RequiredCapabilities: []string{CapExec},
					// The sandbox enforces the command timeout; leave headroom for cleanup.
					TimeoutSeconds: int((sandbox.ExecMaxTimeout + 10*time.Second) / time.Second),
				},
				Handler: execHandler(sb),
			},
		},
	}
}

type execInput struct {
	Command   string         `json:"command"`
	Cwd       string         `json:"cwd"`
	TimeoutMs int            `json:"timeoutMs"`
	Env       map[string]any `json:"env"`
}

type execOutput struct {
	Summary         string `json:"summary"`
	Action          string `json:"action"`
	Cwd             string `json:"cwd"`
	ExitCode        int    `json:"exitCode"`
	Signal          string `json:"signal,omitempty"`
	Stdout          string `json:"stdout"`
	Stderr          string `json:"stderr"`
	TimedOut        bool   `json:"timedOut"`
	OutputTruncated bool   `json:"outputTruncated"`
	DurationMs      int64  `json:"durationMs"`
}

func execHandler(sb *sandbox.Sandbox) packs.ToolHandler {
	return func(ctx context.Context, caller packs.Caller, input json.RawMessage) (json.RawMessage, error) {
		in, err := decodeInput[execInput](input)
		if err != nil {
			return nil, err
		}
		if err := requireString("command", in.Command); err != nil {
			return nil, err
		}
		if in.TimeoutMs != 0 && (in.TimeoutMs < int(sandbox.ExecMinTimeout/time.Millisecond) || in.TimeoutMs > int(sandbox.ExecMaxTimeout/time.Millisecond)) {
			return nil, fmt.Errorf("invalid input: timeoutMs must be between %d and %d",
				sandbox.ExecMinTimeout.Milliseconds(), sandbox.ExecMaxTimeout.Milliseconds())
		}
		env, err := stringifyEnv(in.Env)
		if err != nil {
			return nil, err
		}

		res, err := sb.Exec(ctx, sandbox.ExecArgs{
			Command: in.Command,
			Cwd:     in.Cwd,
			Timeout: time.Duration(in.TimeoutMs) * time.Millisecond,
			Env:     env,
		})
		if err != nil {
			return nil, err
		}

		text := res.Text()
		if res.Failed {
			return nil, fmt.Errorf("command failed with exit code %d: %s", res.ExitCode, text)
		}

		return json.Marshal(execOutput{
			Summary:         text,
			Action:          "exec",
			Cwd:             res.Cwd,
			ExitCode:        res.ExitCode,
			Signal:          res.Signal,
			Stdout:          res.Stdout,
			Stderr:          res.Stderr,
			TimedOut:        res.TimedOut,
			OutputTruncated: res.OutputTruncated,
			DurationMs:      res.Duration.Milliseconds(),
		})
	}
}

// stringifyEnv accepts string, number and boolean values.
func stringifyEnv(env map[string]any) (map[string]string, error) {
	if len(env) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(env))
	for k, v := range env {
		if k == "" {
			return nil, fmt.Errorf("invalid input: env names must not be empty")
		}
		switch val := v.(type) {
		case string:
			out[k] = val
		case float64:
			out[k] = fmt.Sprint(val)
		case bool:
			out[k] = fmt.Sprint(val)
		default:
			return nil, fmt.Errorf("invalid input: env %s must be a string, number or boolean", k)
		}
	}
	return out, nil
}
