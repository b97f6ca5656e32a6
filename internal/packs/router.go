// ABOUTME: Routes tool calls to builtin handlers with capability checks.
// ABOUTME: Handles request correlation, per-call timeouts, and handler panics.

package packs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrToolNotFound indicates the requested tool is not registered.
var ErrToolNotFound = errors.New("tool not found")

// ErrInsufficientCapabilities indicates the caller lacks a capability the tool requires.
var ErrInsufficientCapabilities = errors.New("insufficient capabilities")

// ErrDuplicateRequestID indicates the request ID is already in use.
var ErrDuplicateRequestID = errors.New("duplicate request ID")

// ErrSkipTurn is returned by the skip tool. The router passes it through as
// a Go error so the block runner can stop the turn.
var ErrSkipTurn = errors.New("turn skipped")

// ErrRouterClosed indicates the router no longer accepts calls.
var ErrRouterClosed = errors.New("router closed")

// DefaultTimeout is the default timeout for tool execution.
const DefaultTimeout = 30 * time.Second

// ToolCall is one invocation of a tool by a caller.
type ToolCall struct {
	Name  string
	Input json.RawMessage
	// RequestID is generated when empty.
	RequestID    string
	UserID       string
	Capabilities []string
}

// ToolResult is the outcome of a routed call. Handler failures are
// reported here with IsError rather than as Go errors.
type ToolResult struct {
	RequestID  string          `json:"request_id"`
	Tool       string          `json:"tool"`
	OutputJSON json.RawMessage `json:"output,omitempty"`
	IsError    bool            `json:"is_error"`
	Error      string          `json:"error,omitempty"`
	Duration   time.Duration   `json:"-"`
}

// Router routes tool calls to builtin handlers.
type Router struct {
	registry *Registry
	logger   *slog.Logger
	timeout  time.Duration

	// pending tracks in-flight request IDs
	mu      sync.Mutex
	pending map[string]context.CancelFunc
	closed  bool
}

// RouterConfig contains configuration options for the Router.
type RouterConfig struct {
	Registry *Registry
	Logger   *slog.Logger
	Timeout  time.Duration
}

// NewRouter creates a new Router with the given configuration.
func NewRouter(cfg RouterConfig) *Router {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Router{
		registry: cfg.Registry,
		logger:   logger.With("component", "router"),
		timeout:  timeout,
		pending:  make(map[string]context.CancelFunc),
	}
}

// RouteToolCall runs a tool call. It returns ErrToolNotFound,
// ErrInsufficientCapabilities, ErrDuplicateRequestID and ErrSkipTurn as Go
// errors, and the parent context's error when it is cancelled. Every other
// failure, including a per-call timeout, is a ToolResult with IsError set.
func (r *Router) RouteToolCall(ctx context.Context, call ToolCall) (*ToolResult, error) {
	builtin := r.registry.GetBuiltinTool(call.Name)
	if builtin == nil {
		r.logger.Debug("tool not found in registry", "tool_name", call.Name)
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, call.Name)
	}

	if missing := missingCapabilities(builtin.Definition.RequiredCapabilities, call.Capabilities); len(missing) > 0 {
		r.logger.Warn("caller lacks capabilities",
			"tool_name", call.Name,
			"user_id", call.UserID,
			"missing", missing,
		)
		return nil, fmt.Errorf("%w: %s requires %s", ErrInsufficientCapabilities, call.Name, strings.Join(missing, ", "))
	}

	requestID := call.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}

	// Determine timeout from tool definition or use default
	timeout := r.timeout
	if builtin.Definition.TimeoutSeconds > 0 {
		timeout = time.Duration(builtin.Definition.TimeoutSeconds) * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := r.createPendingRequest(requestID, cancel); err != nil {
		return nil, err
	}
	defer r.closePendingRequest(requestID)

	r.logger.Info("→ dispatching to builtin",
		"tool_name", call.Name,
		"request_id", requestID,
		"user_id", call.UserID,
	)

	input := call.Input
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	caller := Caller{UserID: call.UserID, Capabilities: call.Capabilities}

	start := time.Now()
	output, err := r.invoke(callCtx, builtin, caller, input)
	result := &ToolResult{
		RequestID: requestID,
		Tool:      call.Name,
		Duration:  time.Since(start),
	}

	switch {
	case errors.Is(err, ErrSkipTurn):
		r.logger.Info("← builtin requested skip", "tool_name", call.Name, "request_id", requestID)
		return nil, ErrSkipTurn
	case err != nil && ctx.Err() != nil:
		r.logger.Warn("tool call cancelled", "tool_name", call.Name, "request_id", requestID, "error", ctx.Err())
		return nil, ctx.Err()
	case err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded):
		r.logger.Warn("tool call timed out", "tool_name", call.Name, "request_id", requestID, "timeout", timeout)
		result.IsError = true
		result.Error = fmt.Sprintf("tool %s timed out after %s", call.Name, timeout)
		return result, nil
	case err != nil:
		r.logger.Warn("builtin tool error",
			"tool_name", call.Name,
			"request_id", requestID,
			"error", err,
		)
		result.IsError = true
		result.Error = err.Error()
		return result, nil
	}

	r.logger.Info("← builtin responded",
		"tool_name", call.Name,
		"request_id", requestID,
		"duration", result.Duration,
	)
	result.OutputJSON = output
	return result, nil
}

// invoke runs the handler in its own goroutine so a handler that ignores
// its context still returns at the deadline. Panics become errors.
func (r *Router) invoke(ctx context.Context, tool *BuiltinTool, caller Caller, input json.RawMessage) (json.RawMessage, error) {
	type outcome struct {
		output json.RawMessage
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("builtin tool panicked", "tool_name", tool.Definition.Name, "panic", p)
				done <- outcome{err: fmt.Errorf("tool %s panicked: %v", tool.Definition.Name, p)}
			}
		}()
		out, err := tool.Handler(ctx, caller, input)
		done <- outcome{output: out, err: err}
	}()

	select {
	case o := <-done:
		if o.err == nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return o.output, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// HasTool checks if a tool with the given name exists in the registry.
func (r *Router) HasTool(toolName string) bool {
	return r.registry.IsBuiltin(toolName)
}

// GetToolDefinition returns the tool definition for a given tool name.
// Returns nil if the tool is not found.
func (r *Router) GetToolDefinition(toolName string) *ToolDefinition {
	if builtin := r.registry.GetBuiltinTool(toolName); builtin != nil {
		return builtin.Definition
	}
	return nil
}

// createPendingRequest registers an in-flight request.
// Returns ErrDuplicateRequestID if a request with the same ID is already pending.
func (r *Router) createPendingRequest(requestID string, cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRouterClosed
	}
	if _, exists := r.pending[requestID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateRequestID, requestID)
	}
	r.pending[requestID] = cancel
	return nil
}

func (r *Router) closePendingRequest(requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, requestID)
}

// PendingCount returns the number of in-flight tool requests (for testing/monitoring).
func (r *Router) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Close cancels all in-flight calls and rejects new ones.
// This should be called during graceful shutdown to unblock any waiting callers.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cancelled := len(r.pending)
	for requestID, cancel := range r.pending {
		cancel()
		delete(r.pending, requestID)
	}
	r.closed = true

	r.logger.Info("router closed", "pending_cancelled", cancelled)
}
