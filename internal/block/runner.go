// ABOUTME: Runs execution blocks call by call through the tool router
// ABOUTME: Enforces duration and call-count limits and handles skip and tool errors

package block

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/coven-toolhost/internal/packs"
)

// Default limits for one block.
const (
	DefaultMaxDuration  = 30 * time.Second
	DefaultMaxToolCalls = 100
)

// SkippedOutput is the output of a block that called skip.
const SkippedOutput = "Turn skipped"

// Limit errors fail the whole block regardless of ContinueOnError.
var (
	ErrTooManyToolCalls = errors.New("tool call limit exceeded")
	ErrDeadlineExceeded = errors.New("block duration limit exceeded")
)

// ToolRouter routes a single tool call. *packs.Router implements it.
type ToolRouter interface {
	RouteToolCall(ctx context.Context, call packs.ToolCall) (*packs.ToolResult, error)
}

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	Router       ToolRouter
	Logger       *slog.Logger
	MaxDuration  time.Duration
	MaxToolCalls int
}

// Runner executes blocks.
type Runner struct {
	router       ToolRouter
	logger       *slog.Logger
	maxDuration  time.Duration
	maxToolCalls int
}

// NewRunner creates a Runner, filling default limits.
func NewRunner(cfg RunnerConfig) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxDuration := cfg.MaxDuration
	if maxDuration <= 0 {
		maxDuration = DefaultMaxDuration
	}
	maxCalls := cfg.MaxToolCalls
	if maxCalls <= 0 {
		maxCalls = DefaultMaxToolCalls
	}
	return &Runner{
		router:       cfg.Router,
		logger:       logger.With("component", "block"),
		maxDuration:  maxDuration,
		maxToolCalls: maxCalls,
	}
}

// CallResult records what happened to one call.
type CallResult struct {
	ID      string          `json:"id"`
	Tool    string          `json:"tool"`
	Skipped bool            `json:"skipped,omitempty"`
	Output  json.RawMessage `json:"output,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Result is the outcome of a block.
type Result struct {
	// Output is the last call's summary, or its raw output when it has none.
	Output        string       `json:"output"`
	PrintOutput   string       `json:"print_output,omitempty"`
	ToolCallCount int          `json:"tool_call_count"`
	SkipTurn      bool         `json:"skip_turn"`
	Error         string       `json:"error,omitempty"`
	Calls         []CallResult `json:"calls"`
}

// Failed reports whether the block stopped on an error.
func (r *Result) Failed() bool {
	return r.Error != ""
}

// Run executes the block's calls in order as caller. Block failures are
// reported in Result.Error; the returned error is only set when the
// parent context is cancelled.
func (r *Runner) Run(ctx context.Context, b *Block, caller packs.Caller) (*Result, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, r.maxDuration)
	defer cancel()

	start := time.Now()
	r.logger.Info("=== BLOCK START ===", "block_id", b.ID, "user_id", caller.UserID, "calls", len(b.Calls))

	res := &Result{Calls: make([]CallResult, 0, len(b.Calls))}
	data := make(map[string]any, len(b.Calls))
	var prints []string

	finish := func() *Result {
		res.PrintOutput = strings.Join(prints, "\n")
		r.logger.Info("=== BLOCK END ===",
			"block_id", b.ID,
			"tool_calls", res.ToolCallCount,
			"skip_turn", res.SkipTurn,
			"failed", res.Failed(),
			"duration", time.Since(start),
		)
		return res
	}
	fail := func(msg string) *Result {
		res.Error = msg
		res.Output = msg
		return finish()
	}

	for _, call := range b.Calls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if runCtx.Err() != nil {
			return fail(fmt.Sprintf("%v: %s", ErrDeadlineExceeded, r.maxDuration)), nil
		}

		if call.If != "" {
			cond, err := render(call.If, data)
			if err != nil {
				return fail(fmt.Sprintf("TemplateError: %s if: %v", call.ID, err)), nil
			}
			if strings.TrimSpace(cond) != "true" {
				res.Calls = append(res.Calls, CallResult{ID: call.ID, Tool: call.Tool, Skipped: true})
				continue
			}
		}

		if res.ToolCallCount >= r.maxToolCalls {
			return fail(fmt.Sprintf("%v: %d", ErrTooManyToolCalls, r.maxToolCalls)), nil
		}

		args, err := renderArgs(argsOrEmpty(call.Args), data)
		if err != nil {
			return fail(fmt.Sprintf("TemplateError: %s args: %v", call.ID, err)), nil
		}
		input, err := json.Marshal(args)
		if err != nil {
			return fail(fmt.Sprintf("TemplateError: %s args: %v", call.ID, err)), nil
		}

		res.ToolCallCount++
		tr, err := r.router.RouteToolCall(runCtx, packs.ToolCall{
			Name:         call.Tool,
			Input:        input,
			UserID:       caller.UserID,
			Capabilities: caller.Capabilities,
		})

		cr := CallResult{ID: call.ID, Tool: call.Tool}
		var msg string
		switch {
		case errors.Is(err, packs.ErrSkipTurn):
			res.Calls = append(res.Calls, cr)
			res.SkipTurn = true
			res.Output = SkippedOutput
			return finish(), nil
		case err != nil && ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil && runCtx.Err() != nil:
			return fail(fmt.Sprintf("%v: %s", ErrDeadlineExceeded, r.maxDuration)), nil
		case err != nil:
			msg = err.Error()
		case tr.IsError:
			msg = tr.Error
		}

		if msg != "" {
			cr.Error = msg
			res.Calls = append(res.Calls, cr)
			data[call.ID] = map[string]any{"error": msg}
			if !call.ContinueOnError {
				return fail("ToolError: " + msg), nil
			}
			r.logger.Debug("continuing after tool error", "call_id", call.ID, "error", msg)
			res.Output = "ToolError: " + msg
			continue
		}

		cr.Output = tr.OutputJSON
		res.Calls = append(res.Calls, cr)

		decoded := decodeOutput(tr.OutputJSON)
		data[call.ID] = decoded
		res.Output = outputText(decoded, tr.OutputJSON)

		if call.Print != "" {
			scope := make(map[string]any, len(data)+1)
			for k, v := range data {
				scope[k] = v
			}
			scope["result"] = decoded
			text, err := render(call.Print, scope)
			if err != nil {
				return fail(fmt.Sprintf("TemplateError: %s print: %v", call.ID, err)), nil
			}
			prints = append(prints, text)
		}
	}

	return finish(), nil
}

func argsOrEmpty(args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	return args
}

func decodeOutput(raw json.RawMessage) any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

func outputText(decoded any, raw json.RawMessage) string {
	if m, ok := decoded.(map[string]any); ok {
		if s, ok := m["summary"].(string); ok {
			return s
		}
	}
	return string(raw)
}
