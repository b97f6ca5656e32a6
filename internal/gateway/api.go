// ABOUTME: HTTP API handlers for tools, blocks, memory, scheduled tasks and run history
// ABOUTME: Every handler runs as the caller the auth middleware attached to the request

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-toolhost/internal/auth"
	"github.com/2389/coven-toolhost/internal/block"
	"github.com/2389/coven-toolhost/internal/dedupe"
	"github.com/2389/coven-toolhost/internal/memory"
	"github.com/2389/coven-toolhost/internal/packs"
	"github.com/2389/coven-toolhost/internal/scheduler"
	"github.com/2389/coven-toolhost/internal/store"
)

// IdempotencyKeyHeader makes POST /api/blocks safe to retry.
const IdempotencyKeyHeader = "Idempotency-Key"

// maxBodyBytes bounds every request body.
const maxBodyBytes = 1 << 20

// Run listing limits.
const (
	defaultRunsLimit = 50
	maxRunsLimit     = 500
)

// ToolInfoResponse is one entry of GET /api/tools.
type ToolInfoResponse struct {
	Name                 string          `json:"name"`
	Description          string          `json:"description"`
	InputSchema          json.RawMessage `json:"input_schema"`
	RequiredCapabilities []string        `json:"required_capabilities,omitempty"`
	TimeoutSeconds       int             `json:"timeout_seconds,omitempty"`
}

// ListToolsResponse is the JSON response for GET /api/tools.
type ListToolsResponse struct {
	Tools []ToolInfoResponse `json:"tools"`
}

// ToolCallResponse is the JSON response for POST /api/tools/{name}.
type ToolCallResponse struct {
	RequestID  string          `json:"request_id"`
	Tool       string          `json:"tool"`
	Output     json.RawMessage `json:"output,omitempty"`
	IsError    bool            `json:"is_error"`
	Error      string          `json:"error,omitempty"`
	SkipTurn   bool            `json:"skip_turn,omitempty"`
	DurationMS int64           `json:"duration_ms"`
}

// BlockRunResponse is the JSON response for POST /api/blocks.
type BlockRunResponse struct {
	RunID  string `json:"run_id,omitempty"`
	Status string `json:"status"`
	*block.Result
}

// MemoryNodeResponse is the JSON form of a memory node.
type MemoryNodeResponse struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Content     string   `json:"content"`
	Refs        []string `json:"refs"`
	Version     int      `json:"version"`
	ContentHash string   `json:"content_hash,omitempty"`
	CreatedAt   string   `json:"created_at,omitempty"`
	UpdatedAt   string   `json:"updated_at,omitempty"`
}

// MemorySearchHit is one entry of GET /api/memory?q=.
type MemorySearchHit struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Score       float64 `json:"score"`
}

// HeartbeatRequest is the JSON request body for POST /api/heartbeats.
type HeartbeatRequest struct {
	ID        string          `json:"id,omitempty"`
	Title     string          `json:"title"`
	Block     json.RawMessage `json:"block"`
	Overwrite bool            `json:"overwrite,omitempty"`
}

// HeartbeatResponse is the JSON form of a heartbeat task.
type HeartbeatResponse struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Block     string  `json:"block"`
	LastRunAt *string `json:"last_run_at"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

// RunHeartbeatsRequest is the optional JSON body for POST /api/heartbeats/run.
type RunHeartbeatsRequest struct {
	IDs []string `json:"ids,omitempty"`
}

// CronRequest is the JSON request body for POST /api/crons.
type CronRequest struct {
	ID             string          `json:"id,omitempty"`
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	Schedule       string          `json:"schedule"`
	Timezone       string          `json:"timezone,omitempty"`
	Block          json.RawMessage `json:"block"`
	Enabled        *bool           `json:"enabled,omitempty"`
	DeleteAfterRun bool            `json:"delete_after_run,omitempty"`
}

// CronResponse is the JSON form of a cron task.
type CronResponse struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Description    string  `json:"description,omitempty"`
	Schedule       string  `json:"schedule"`
	Timezone       string  `json:"timezone"`
	Block          string  `json:"block"`
	Enabled        bool    `json:"enabled"`
	DeleteAfterRun bool    `json:"delete_after_run"`
	LastRunAt      *string `json:"last_run_at"`
	NextRunAt      *string `json:"next_run_at"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
}

// TurnRunResponse is the JSON form of a recorded run.
type TurnRunResponse struct {
	ID            string `json:"id"`
	Kind          string `json:"kind"`
	TaskID        string `json:"task_id,omitempty"`
	Status        string `json:"status"`
	Output        string `json:"output"`
	Error         string `json:"error,omitempty"`
	ToolCallCount int    `json:"tool_call_count"`
	StartedAt     string `json:"started_at"`
	FinishedAt    string `json:"finished_at"`
	DurationMS    int64  `json:"duration_ms"`
}

// callerFromRequest returns the caller attached by the auth middleware.
func callerFromRequest(r *http.Request) packs.Caller {
	a := auth.MustFromContext(r.Context())
	caps := make([]string, len(a.Capabilities))
	copy(caps, a.Capabilities)
	return packs.Caller{UserID: a.UserID, Capabilities: caps}
}

// sendJSON writes v as a JSON response with the given status.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}

// readBody reads the request body up to maxBodyBytes.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("request body exceeds %d bytes", maxBodyBytes)
		}
		return nil, errors.New("failed to read request body")
	}
	return data, nil
}

// decodeJSONBody strictly decodes the request body into dst. An empty body
// leaves dst untouched when allowEmpty is set.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) error {
	data, err := readBody(w, r)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		if allowEmpty {
			return nil
		}
		return errors.New("request body is required")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %v", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatOptionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

// handleListTools handles GET /api/tools: the tools the caller may run.
func (g *Gateway) handleListTools(w http.ResponseWriter, r *http.Request) {
	caller := callerFromRequest(r)
	defs := g.packRegistry.GetToolsForCapabilities(caller.Capabilities)

	resp := ListToolsResponse{Tools: make([]ToolInfoResponse, 0, len(defs))}
	for _, d := range defs {
		resp.Tools = append(resp.Tools, ToolInfoResponse{
			Name:                 d.Name,
			Description:          d.Description,
			InputSchema:          d.InputSchema(),
			RequiredCapabilities: d.RequiredCapabilities,
			TimeoutSeconds:       d.TimeoutSeconds,
		})
	}
	g.sendJSON(w, http.StatusOK, resp)
}

// handleCallTool handles POST /api/tools/{name}. The body is the tool input.
// Tool failures are reported with is_error and status 200; only routing
// failures map to error statuses.
func (g *Gateway) handleCallTool(w http.ResponseWriter, r *http.Request) {
	caller := callerFromRequest(r)
	name := r.PathValue("name")

	input, err := readBody(w, r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(bytes.TrimSpace(input)) == 0 {
		input = []byte("{}")
	}
	if !json.Valid(input) {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.New().String()
	}

	g.logger.Debug("→ tool call", "tool", name, "user_id", caller.UserID, "request_id", requestID)
	start := g.now()
	res, err := g.packRouter.RouteToolCall(r.Context(), packs.ToolCall{
		Name:         name,
		Input:        input,
		RequestID:    requestID,
		UserID:       caller.UserID,
		Capabilities: caller.Capabilities,
	})
	switch {
	case errors.Is(err, packs.ErrSkipTurn):
		g.sendJSON(w, http.StatusOK, ToolCallResponse{
			RequestID:  requestID,
			Tool:       name,
			SkipTurn:   true,
			DurationMS: g.now().Sub(start).Milliseconds(),
		})
		return
	case err != nil:
		g.sendJSONError(w, toolErrorStatus(err), err.Error())
		return
	}

	g.logger.Debug("← tool result", "tool", name, "request_id", requestID, "is_error", res.IsError, "duration", res.Duration)
	g.sendJSON(w, http.StatusOK, ToolCallResponse{
		RequestID:  res.RequestID,
		Tool:       res.Tool,
		Output:     res.OutputJSON,
		IsError:    res.IsError,
		Error:      res.Error,
		DurationMS: res.Duration.Milliseconds(),
	})
}

// toolErrorStatus maps router errors to HTTP statuses.
func toolErrorStatus(err error) int {
	switch {
	case errors.Is(err, packs.ErrToolNotFound):
		return http.StatusNotFound
	case errors.Is(err, packs.ErrInsufficientCapabilities):
		return http.StatusForbidden
	case errors.Is(err, packs.ErrDuplicateRequestID):
		return http.StatusConflict
	case errors.Is(err, packs.ErrRouterClosed), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleRunBlock handles POST /api/blocks. The body is block source in YAML
// or JSON. With an Idempotency-Key header, a repeated request from the same
// user replays the first response instead of running the block again.
func (g *Gateway) handleRunBlock(w http.ResponseWriter, r *http.Request) {
	caller := callerFromRequest(r)
	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	if key == "" {
		status, body := g.runBlock(w, r, caller)
		g.sendJSON(w, status, body)
		return
	}

	scoped := caller.UserID + "\x00" + key
	state, cached := g.dedupe.Reserve(scoped)
	switch state {
	case dedupe.InProgress:
		g.sendJSONError(w, http.StatusConflict, "a request with this Idempotency-Key is still in progress")
		return
	case dedupe.Done:
		g.logger.Debug("replaying idempotent block response", "user_id", caller.UserID)
		w.Header().Set("Idempotent-Replayed", "true")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(cached.Status)
		_, _ = w.Write(cached.Body)
		return
	}

	status, body := g.runBlock(w, r, caller)
	data, err := json.Marshal(body)
	if err != nil {
		g.dedupe.Release(scoped)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	data = append(data, '\n')
	if status >= http.StatusInternalServerError {
		g.dedupe.Release(scoped)
	} else {
		g.dedupe.Complete(scoped, dedupe.Response{Status: status, Body: data})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// runBlock reads, runs and records the request's block, and returns the
// status and body to send.
func (g *Gateway) runBlock(w http.ResponseWriter, r *http.Request, caller packs.Caller) (int, any) {
	data, err := readBody(w, r)
	if err != nil {
		return http.StatusBadRequest, map[string]string{"error": err.Error()}
	}
	resp, err := g.RunBlock(r.Context(), data, caller)
	switch {
	case errors.Is(err, block.ErrInvalidBlock):
		return http.StatusBadRequest, map[string]string{"error": err.Error()}
	case err != nil:
		g.logger.Warn("block run aborted", "user_id", caller.UserID, "error", err)
		return http.StatusServiceUnavailable, map[string]string{"error": "request canceled"}
	}
	return http.StatusOK, resp
}

// RunBlock parses source, runs it as caller and records the run. Block
// failures are reported in the response; the error is set for invalid
// source (ErrInvalidBlock) or a canceled context.
func (g *Gateway) RunBlock(ctx context.Context, source []byte, caller packs.Caller) (*BlockRunResponse, error) {
	b, err := block.Parse(source)
	if err != nil {
		return nil, err
	}

	started := g.now()
	res, err := g.blocks.Run(ctx, b, caller)
	if err != nil {
		return nil, err
	}

	rec := &store.TurnRun{
		ID:            uuid.New().String(),
		UserID:        caller.UserID,
		Kind:          store.RunKindBlock,
		TaskID:        b.ID,
		Status:        runStatus(res),
		Output:        res.Output,
		Error:         res.Error,
		ToolCallCount: res.ToolCallCount,
		StartedAt:     started,
		FinishedAt:    g.now(),
	}
	resp := &BlockRunResponse{Status: rec.Status, Result: res}
	if err := g.store.CreateTurnRun(ctx, rec); err != nil {
		g.logger.Error("failed to record block run", "user_id", caller.UserID, "error", err)
	} else {
		resp.RunID = rec.ID
	}

	g.logger.Info("block finished",
		"user_id", caller.UserID,
		"block_id", b.ID,
		"status", rec.Status,
		"tool_calls", res.ToolCallCount,
	)
	return resp, nil
}

func runStatus(res *block.Result) string {
	switch {
	case res.SkipTurn:
		return store.RunStatusSkipped
	case res.Failed():
		return store.RunStatusFailed
	default:
		return store.RunStatusCompleted
	}
}

// handleListRuns handles GET /api/runs?kind=X&task_id=Y&limit=N for the caller.
func (g *Gateway) handleListRuns(w http.ResponseWriter, r *http.Request) {
	caller := callerFromRequest(r)
	q := r.URL.Query()

	limit := defaultRunsLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRunsLimit)
	}

	runs, err := g.scheduler.Runs(r.Context(), store.RunFilter{
		UserID: caller.UserID,
		Kind:   q.Get("kind"),
		TaskID: q.Get("task_id"),
		Limit:  limit,
	})
	if err != nil {
		g.logger.Error("failed to list runs", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	out := make([]TurnRunResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, TurnRunResponse{
			ID:            run.ID,
			Kind:          run.Kind,
			TaskID:        run.TaskID,
			Status:        run.Status,
			Output:        run.Output,
			Error:         run.Error,
			ToolCallCount: run.ToolCallCount,
			StartedAt:     formatTime(run.StartedAt),
			FinishedAt:    formatTime(run.FinishedAt),
			DurationMS:    run.FinishedAt.Sub(run.StartedAt).Milliseconds(),
		})
	}
	g.sendJSON(w, http.StatusOK, map[string]any{"runs": out})
}

func memoryNodeResponse(n *store.MemoryNode) MemoryNodeResponse {
	resp := MemoryNodeResponse{
		ID:          n.ID,
		Title:       n.Title,
		Description: n.Description,
		Content:     n.Content,
		Refs:        n.Refs,
		Version:     n.Version,
		ContentHash: n.ContentHash,
	}
	if resp.Refs == nil {
		resp.Refs = []string{}
	}
	if !n.CreatedAt.IsZero() {
		resp.CreatedAt = formatTime(n.CreatedAt)
	}
	if !n.UpdatedAt.IsZero() {
		resp.UpdatedAt = formatTime(n.UpdatedAt)
	}
	return resp
}

// handleMemoryRoot handles GET /api/memory. With ?q= it searches the
// caller's nodes, otherwise it returns the root node.
func (g *Gateway) handleMemoryRoot(w http.ResponseWriter, r *http.Request) {
	caller := callerFromRequest(r)
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		g.writeMemoryNode(w, r, caller.UserID, memory.RootID, false)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	hits, err := g.memory.Search(r.Context(), caller.UserID, query, limit)
	if err != nil {
		g.logger.Error("memory search failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	out := make([]MemorySearchHit, 0, len(hits))
	for _, h := range hits {
		out = append(out, MemorySearchHit{
			ID:          h.Node.ID,
			Title:       h.Node.Title,
			Description: h.Node.Description,
			Score:       h.Score,
		})
	}
	g.sendJSON(w, http.StatusOK, map[string]any{"query": query, "results": out})
}

// handleMemoryNode handles GET /api/memory/{id} and GET /api/memory/{id}.html.
func (g *Gateway) handleMemoryNode(w http.ResponseWriter, r *http.Request) {
	caller := callerFromRequest(r)
	id, asHTML := strings.CutSuffix(r.PathValue("id"), ".html")
	g.writeMemoryNode(w, r, caller.UserID, id, asHTML)
}

func (g *Gateway) writeMemoryNode(w http.ResponseWriter, r *http.Request, userID, id string, asHTML bool) {
	node, err := g.memory.ReadNode(r.Context(), userID, id)
	if errors.Is(err, memory.ErrNodeNotFound) {
		g.sendJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		g.logger.Error("failed to read memory node", "id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if !asHTML {
		g.sendJSON(w, http.StatusOK, memoryNodeResponse(node))
		return
	}
	page, err := memory.RenderHTML(node)
	if err != nil {
		g.logger.Error("failed to render memory node", "id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, page)
}

// taskErrorStatus maps scheduler errors to HTTP statuses.
func taskErrorStatus(err error) int {
	switch {
	case errors.Is(err, scheduler.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, scheduler.ErrTaskExists):
		return http.StatusConflict
	case errors.Is(err, scheduler.ErrInvalidTask),
		errors.Is(err, scheduler.ErrInvalidSchedule),
		errors.Is(err, block.ErrInvalidBlock):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (g *Gateway) sendTaskError(w http.ResponseWriter, action string, err error) {
	status := taskErrorStatus(err)
	if status == http.StatusInternalServerError {
		g.logger.Error("task "+action+" failed", "error", err)
		g.sendJSONError(w, status, "internal server error")
		return
	}
	g.sendJSONError(w, status, err.Error())
}

func heartbeatResponse(t *store.HeartbeatTask) HeartbeatResponse {
	return HeartbeatResponse{
		ID:        t.ID,
		Title:     t.Title,
		Block:     t.Block,
		LastRunAt: formatOptionalTime(t.LastRunAt),
		CreatedAt: formatTime(t.CreatedAt),
		UpdatedAt: formatTime(t.UpdatedAt),
	}
}

// handleListHeartbeats handles GET /api/heartbeats.
func (g *Gateway) handleListHeartbeats(w http.ResponseWriter, r *http.Request) {
	caller := callerFromRequest(r)
	tasks, err := g.scheduler.Heartbeats().List(r.Context(), caller.UserID)
	if err != nil {
		g.sendTaskError(w, "list", err)
		return
	}
	out := make([]HeartbeatResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, heartbeatResponse(t))
	}
	g.sendJSON(w, http.StatusOK, map[string]any{"heartbeats": out})
}

// handleAddHeartbeat handles POST /api/heartbeats.
func (g *Gateway) handleAddHeartbeat(w http.ResponseWriter, r *http.Request) {
	caller := callerFromRequest(r)
	var req HeartbeatRequest
	if err := decodeJSONBody(w, r, &req, false); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	source, err := block.SourceFromJSON(req.Block)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	task, err := g.scheduler.Heartbeats().Add(r.Context(), scheduler.HeartbeatInput{
		ID:           req.ID,
		UserID:       caller.UserID,
		Title:        req.Title,
		Block:        source,
		Capabilities: caller.Capabilities,
		Overwrite:    req.Overwrite,
	})
	if err != nil {
		g.sendTaskError(w, "add", err)
		return
	}
	g.sendJSON(w, http.StatusCreated, heartbeatResponse(task))
}

// handleRunHeartbeats handles POST /api/heartbeats/run. An empty body runs
// every heartbeat task the caller owns.
func (g *Gateway) handleRunHeartbeats(w http.ResponseWriter, r *http.Request) {
	caller := callerFromRequest(r)
	var req RunHeartbeatsRequest
	if err := decodeJSONBody(w, r, &req, true); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	summary, err := g.scheduler.Heartbeats().RunNow(r.Context(), caller.UserID, req.IDs)
	if err != nil {
		g.sendTaskError(w, "run", err)
		return
	}
	g.sendJSON(w, http.StatusOK, summary)
}

// handleRemoveHeartbeat handles DELETE /api/heartbeats/{id}.
func (g *Gateway) handleRemoveHeartbeat(w http.ResponseWriter, r *http.Request) {
	caller := callerFromRequest(r)
	if err := g.scheduler.Heartbeats().Remove(r.Context(), caller.UserID, r.PathValue("id")); err != nil {
		g.sendTaskError(w, "remove", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func cronResponse(t *store.CronTask) CronResponse {
	resp := CronResponse{
		ID:             t.ID,
		Name:           t.Name,
		Description:    t.Description,
		Schedule:       t.Schedule,
		Timezone:       t.Timezone,
		Block:          t.Block,
		Enabled:        t.Enabled,
		DeleteAfterRun: t.DeleteAfterRun,
		LastRunAt:      formatOptionalTime(t.LastRunAt),
		CreatedAt:      formatTime(t.CreatedAt),
		UpdatedAt:      formatTime(t.UpdatedAt),
	}
	if t.Enabled {
		if next, err := scheduler.NextRun(t); err == nil {
			resp.NextRunAt = formatOptionalTime(&next)
		}
	}
	return resp
}

// handleListCrons handles GET /api/crons.
func (g *Gateway) handleListCrons(w http.ResponseWriter, r *http.Request) {
	caller := callerFromRequest(r)
	tasks, err := g.scheduler.Crons().List(r.Context(), caller.UserID)
	if err != nil {
		g.sendTaskError(w, "list", err)
		return
	}
	out := make([]CronResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, cronResponse(t))
	}
	g.sendJSON(w, http.StatusOK, map[string]any{"crons": out})
}

// handleAddCron handles POST /api/crons.
func (g *Gateway) handleAddCron(w http.ResponseWriter, r *http.Request) {
	caller := callerFromRequest(r)
	var req CronRequest
	if err := decodeJSONBody(w, r, &req, false); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	source, err := block.SourceFromJSON(req.Block)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	task, err := g.scheduler.Crons().Add(r.Context(), scheduler.CronInput{
		ID:             req.ID,
		UserID:         caller.UserID,
		Name:           req.Name,
		Description:    req.Description,
		Schedule:       req.Schedule,
		Timezone:       req.Timezone,
		Block:          source,
		Enabled:        req.Enabled,
		DeleteAfterRun: req.DeleteAfterRun,
		Capabilities:   caller.Capabilities,
	})
	if err != nil {
		g.sendTaskError(w, "add", err)
		return
	}
	g.sendJSON(w, http.StatusCreated, cronResponse(task))
}

// handleRemoveCron handles DELETE /api/crons/{id}.
func (g *Gateway) handleRemoveCron(w http.ResponseWriter, r *http.Request) {
	caller := callerFromRequest(r)
	if err := g.scheduler.Crons().Remove(r.Context(), caller.UserID, r.PathValue("id")); err != nil {
		g.sendTaskError(w, "remove", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
