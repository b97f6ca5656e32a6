// ABOUTME: Tests for the HTTP API: tools, blocks, idempotency, memory, scheduled tasks and runs
// ABOUTME: Requests go through the real mux so auth middleware and capability checks apply

package gateway

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-toolhost/internal/auth"
	"github.com/2389/coven-toolhost/internal/config"
	"github.com/2389/coven-toolhost/internal/dedupe"
	"github.com/2389/coven-toolhost/internal/store"
)

const testJWTSecret = "0123456789abcdef0123456789abcdef"

func decodeJSON[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(body, &v), string(body))
	return v
}

func withCapabilities(caps ...string) func(*config.Config) {
	return func(cfg *config.Config) {
		cfg.Auth.DefaultCapabilities = caps
	}
}

func TestListTools_FiltersByCapability(t *testing.T) {
	gw := newTestGateway(t, withCapabilities("workspace"))

	rec := do(gw, http.MethodGet, "/api/tools", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeJSON[ListToolsResponse](t, rec.Body.Bytes())
	names := make([]string, 0, len(resp.Tools))
	for _, tool := range resp.Tools {
		names = append(names, tool.Name)
		assert.True(t, json.Valid(tool.InputSchema), "%s schema", tool.Name)
	}
	assert.Contains(t, names, "read")
	assert.Contains(t, names, "write_output")
	assert.Contains(t, names, "skip")
	assert.NotContains(t, names, "exec")
	assert.NotContains(t, names, "memory_node_read")
	assert.NotContains(t, names, "cron_add")
}

func TestCallTool(t *testing.T) {
	gw := newTestGateway(t, nil)

	rec := do(gw, http.MethodPost, "/api/tools/write", `{"path":"~/notes.txt","content":"hello"}`, "X-Request-ID", "req-1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeJSON[ToolCallResponse](t, rec.Body.Bytes())
	assert.Equal(t, "req-1", resp.RequestID)
	assert.Equal(t, "write", resp.Tool)
	assert.False(t, resp.IsError)

	rec = do(gw, http.MethodPost, "/api/tools/read", `{"path":"~/notes.txt"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decodeJSON[ToolCallResponse](t, rec.Body.Bytes())
	out := decodeJSON[map[string]any](t, resp.Output)
	assert.Equal(t, "hello", out["content"])
}

func TestCallTool_Errors(t *testing.T) {
	gw := newTestGateway(t, withCapabilities("workspace"))

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"unknown tool", "/api/tools/nope", `{}`, http.StatusNotFound},
		{"missing capability", "/api/tools/exec", `{"command":"true"}`, http.StatusForbidden},
		{"invalid json", "/api/tools/read", `{"path":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(gw, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			errResp := decodeJSON[map[string]string](t, rec.Body.Bytes())
			assert.NotEmpty(t, errResp["error"])
		})
	}
}

func TestCallTool_HandlerFailureIsResult(t *testing.T) {
	gw := newTestGateway(t, nil)

	rec := do(gw, http.MethodPost, "/api/tools/read", `{"path":"~/missing.txt"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeJSON[ToolCallResponse](t, rec.Body.Bytes())
	assert.True(t, resp.IsError)
	assert.NotEmpty(t, resp.Error)
}

func TestCallTool_Skip(t *testing.T) {
	gw := newTestGateway(t, withCapabilities())

	rec := do(gw, http.MethodPost, "/api/tools/skip", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeJSON[ToolCallResponse](t, rec.Body.Bytes())
	assert.True(t, resp.SkipTurn)
	assert.False(t, resp.IsError)
}

const writeThenReadBlock = `
id: notes
calls:
  - id: w
    tool: write
    args: {path: "~/a.txt", content: "from block"}
  - id: r
    tool: read
    args: {path: "~/a.txt"}
    print: "got {{.r.content}}"
`

func TestRunBlock(t *testing.T) {
	gw := newTestGateway(t, nil)

	rec := do(gw, http.MethodPost, "/api/blocks", writeThenReadBlock)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeJSON[map[string]any](t, rec.Body.Bytes())
	assert.Equal(t, "completed", resp["status"])
	assert.Equal(t, "from block", resp["output"])
	assert.Equal(t, "got from block", resp["print_output"])
	assert.EqualValues(t, 2, resp["tool_call_count"])
	assert.NotEmpty(t, resp["run_id"])

	rec = do(gw, http.MethodGet, "/api/runs?kind=block", "")
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decodeJSON[struct {
		Runs []TurnRunResponse `json:"runs"`
	}](t, rec.Body.Bytes())
	require.Len(t, runs.Runs, 1)
	assert.Equal(t, resp["run_id"], runs.Runs[0].ID)
	assert.Equal(t, "notes", runs.Runs[0].TaskID)
	assert.Equal(t, "completed", runs.Runs[0].Status)
}

func TestRunBlock_FailedAndSkipped(t *testing.T) {
	gw := newTestGateway(t, nil)

	rec := do(gw, http.MethodPost, "/api/blocks", `calls: [{tool: read, args: {path: "~/missing"}}]`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeJSON[map[string]any](t, rec.Body.Bytes())
	assert.Equal(t, "failed", resp["status"])
	assert.True(t, strings.HasPrefix(resp["error"].(string), "ToolError:"), resp["error"])

	rec = do(gw, http.MethodPost, "/api/blocks", `calls: [{tool: skip}]`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decodeJSON[map[string]any](t, rec.Body.Bytes())
	assert.Equal(t, "skipped", resp["status"])
	assert.Equal(t, true, resp["skip_turn"])
}

func TestRunBlock_InvalidSource(t *testing.T) {
	gw := newTestGateway(t, nil)

	for _, body := range []string{"", "calls: [{tool: read, bogus: 1}]", "calls: [{id: a, tool: skip}, {id: a, tool: skip}]"} {
		rec := do(gw, http.MethodPost, "/api/blocks", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
	}
}

func TestRunBlock_IdempotencyKeyReplays(t *testing.T) {
	gw := newTestGateway(t, nil)

	first := do(gw, http.MethodPost, "/api/blocks", writeThenReadBlock, IdempotencyKeyHeader, "key-1")
	require.Equal(t, http.StatusOK, first.Code)
	assert.Empty(t, first.Header().Get("Idempotent-Replayed"))

	second := do(gw, http.MethodPost, "/api/blocks", writeThenReadBlock, IdempotencyKeyHeader, "key-1")
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	runs, err := gw.store.ListTurnRuns(t.Context(), store.RunFilter{UserID: "alice"})
	require.NoError(t, err)
	assert.Len(t, runs, 1, "replayed request must not run the block again")

	// A different key runs again
	third := do(gw, http.MethodPost, "/api/blocks", writeThenReadBlock, IdempotencyKeyHeader, "key-2")
	require.Equal(t, http.StatusOK, third.Code)
	assert.Empty(t, third.Header().Get("Idempotent-Replayed"))
}

func TestRunBlock_IdempotencyKeyInProgress(t *testing.T) {
	gw := newTestGateway(t, nil)

	state, _ := gw.dedupe.Reserve("alice\x00busy")
	require.Equal(t, dedupe.Reserved, state)

	rec := do(gw, http.MethodPost, "/api/blocks", writeThenReadBlock, IdempotencyKeyHeader, "busy")
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Once released the key runs normally
	gw.dedupe.Release("alice\x00busy")
	rec = do(gw, http.MethodPost, "/api/blocks", writeThenReadBlock, IdempotencyKeyHeader, "busy")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRunBlock_BadRequestsAreCached(t *testing.T) {
	gw := newTestGateway(t, nil)

	rec := do(gw, http.MethodPost, "/api/blocks", "calls: nope", IdempotencyKeyHeader, "bad")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(gw, http.MethodPost, "/api/blocks", writeThenReadBlock, IdempotencyKeyHeader, "bad")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "true", rec.Header().Get("Idempotent-Replayed"))
}

func TestListRuns_Validation(t *testing.T) {
	gw := newTestGateway(t, nil)

	rec := do(gw, http.MethodGet, "/api/runs?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(gw, http.MethodGet, "/api/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"runs":[]}`, rec.Body.String())
}

func TestMemoryEndpoints(t *testing.T) {
	gw := newTestGateway(t, nil)

	rec := do(gw, http.MethodPost, "/api/tools/memory_node_write",
		`{"nodeId":"garden","title":"Garden plans","description":"What to plant","content":"Plant **tomatoes** in May."}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, decodeJSON[ToolCallResponse](t, rec.Body.Bytes()).IsError, rec.Body.String())

	t.Run("node json", func(t *testing.T) {
		rec := do(gw, http.MethodGet, "/api/memory/garden", "")
		require.Equal(t, http.StatusOK, rec.Code)
		node := decodeJSON[MemoryNodeResponse](t, rec.Body.Bytes())
		assert.Equal(t, "Garden plans", node.Title)
		assert.Equal(t, 1, node.Version)
		assert.NotEmpty(t, node.ContentHash)
	})

	t.Run("node html", func(t *testing.T) {
		rec := do(gw, http.MethodGet, "/api/memory/garden.html", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
		assert.Contains(t, rec.Body.String(), "<h1>Garden plans</h1>")
		assert.Contains(t, rec.Body.String(), "<strong>tomatoes</strong>")
	})

	t.Run("root", func(t *testing.T) {
		rec := do(gw, http.MethodGet, "/api/memory", "")
		require.Equal(t, http.StatusOK, rec.Code)
		node := decodeJSON[MemoryNodeResponse](t, rec.Body.Bytes())
		assert.Equal(t, []string{"garden"}, node.Refs)
	})

	t.Run("search", func(t *testing.T) {
		rec := do(gw, http.MethodGet, "/api/memory?q=tomatoes", "")
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decodeJSON[struct {
			Results []MemorySearchHit `json:"results"`
		}](t, rec.Body.Bytes())
		require.Len(t, resp.Results, 1)
		assert.Equal(t, "garden", resp.Results[0].ID)
	})

	t.Run("missing", func(t *testing.T) {
		rec := do(gw, http.MethodGet, "/api/memory/nope", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestMemoryEndpoints_RequireCapability(t *testing.T) {
	gw := newTestGateway(t, withCapabilities("workspace"))

	rec := do(gw, http.MethodGet, "/api/memory", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHeartbeatEndpoints(t *testing.T) {
	gw := newTestGateway(t, nil)

	rec := do(gw, http.MethodPost, "/api/heartbeats", `{"title":"Check inbox","block":{"calls":[{"tool":"write","args":{"path":"~/hb.txt","content":"beat"}}]}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	task := decodeJSON[HeartbeatResponse](t, rec.Body.Bytes())
	assert.Equal(t, "check-inbox", task.ID)
	assert.Nil(t, task.LastRunAt)

	rec = do(gw, http.MethodPost, "/api/heartbeats", `{"id":"check-inbox","title":"Again","block":"calls: [{tool: skip}]"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(gw, http.MethodPost, "/api/heartbeats", `{"title":"Broken","block":"calls: []"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(gw, http.MethodGet, "/api/heartbeats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeJSON[struct {
		Heartbeats []HeartbeatResponse `json:"heartbeats"`
	}](t, rec.Body.Bytes())
	require.Len(t, list.Heartbeats, 1)

	rec = do(gw, http.MethodPost, "/api/heartbeats/run", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	summary := decodeJSON[map[string]any](t, rec.Body.Bytes())
	assert.EqualValues(t, 1, summary["ran"])

	rec = do(gw, http.MethodGet, "/api/runs?kind=heartbeat&task_id=check-inbox", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"completed"`)

	rec = do(gw, http.MethodDelete, "/api/heartbeats/check-inbox", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(gw, http.MethodDelete, "/api/heartbeats/check-inbox", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCronEndpoints(t *testing.T) {
	gw := newTestGateway(t, nil)

	rec := do(gw, http.MethodPost, "/api/crons", `{"name":"bad","schedule":"not a schedule","block":"calls: [{tool: skip}]"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	rec = do(gw, http.MethodPost, "/api/crons", `{"name":"nightly","schedule":"0 3 * * *","timezone":"America/New_York","block":"calls: [{tool: skip}]"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	task := decodeJSON[CronResponse](t, rec.Body.Bytes())
	assert.True(t, task.Enabled)
	require.NotNil(t, task.NextRunAt)
	next, err := time.Parse(time.RFC3339, *task.NextRunAt)
	require.NoError(t, err)
	assert.True(t, next.After(time.Now().Add(-time.Minute)))

	disabled := false
	body, err := json.Marshal(CronRequest{Name: "off", Schedule: "@hourly", Block: json.RawMessage(`"calls: [{tool: skip}]"`), Enabled: &disabled})
	require.NoError(t, err)
	rec = do(gw, http.MethodPost, "/api/crons", string(body))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Nil(t, decodeJSON[CronResponse](t, rec.Body.Bytes()).NextRunAt)

	rec = do(gw, http.MethodGet, "/api/crons", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeJSON[struct {
		Crons []CronResponse `json:"crons"`
	}](t, rec.Body.Bytes())
	assert.Len(t, list.Crons, 2)

	rec = do(gw, http.MethodDelete, "/api/crons/"+task.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestScheduleEndpoints_RequireCapability(t *testing.T) {
	gw := newTestGateway(t, withCapabilities("workspace", "memory"))

	assert.Equal(t, http.StatusForbidden, do(gw, http.MethodGet, "/api/heartbeats", "").Code)
	assert.Equal(t, http.StatusForbidden, do(gw, http.MethodGet, "/api/crons", "").Code)
}

func TestJWTAuth(t *testing.T) {
	gw := newTestGateway(t, func(cfg *config.Config) {
		cfg.Auth.JWTSecret = testJWTSecret
	})

	rec := do(gw, http.MethodGet, "/api/tools", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(gw, http.MethodGet, "/api/tools", "", "Authorization", "Bearer not-a-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	verifier, err := auth.NewJWTVerifier([]byte(testJWTSecret))
	require.NoError(t, err)
	token, err := verifier.Generate("bob", []string{"exec"}, time.Hour)
	require.NoError(t, err)

	rec = do(gw, http.MethodGet, "/api/tools", "", "Authorization", "Bearer "+token)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeJSON[ListToolsResponse](t, rec.Body.Bytes())
	var names []string
	for _, tool := range resp.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"exec", "skip"}, names)

	// Health stays open
	assert.Equal(t, http.StatusOK, do(gw, http.MethodGet, "/health", "").Code)
}

func TestRunsAreScopedToCaller(t *testing.T) {
	gw := newTestGateway(t, func(cfg *config.Config) {
		cfg.Auth.JWTSecret = testJWTSecret
	})
	verifier, err := auth.NewJWTVerifier([]byte(testJWTSecret))
	require.NoError(t, err)
	alice, err := verifier.Generate("alice", []string{"*"}, time.Hour)
	require.NoError(t, err)
	bob, err := verifier.Generate("bob", []string{"*"}, time.Hour)
	require.NoError(t, err)

	rec := do(gw, http.MethodPost, "/api/blocks", `calls: [{tool: skip}]`, "Authorization", "Bearer "+alice)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(gw, http.MethodGet, "/api/runs", "", "Authorization", "Bearer "+bob)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"runs":[]}`, rec.Body.String())

	rec = do(gw, http.MethodGet, "/api/runs", "", "Authorization", "Bearer "+alice)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"skipped"`)
}
