// ABOUTME: MCP endpoint serving the tool registry to external agents over Streamable HTTP.
// ABOUTME: initialize fixes a caller per session; tools/call goes through the pack router.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-toolhost/internal/auth"
	"github.com/2389/coven-toolhost/internal/packs"
)

// ProtocolVersions are the MCP revisions the server accepts, oldest first.
// The last one is offered when a client asks for something else.
var ProtocolVersions = []string{"2025-03-26", "2025-06-18", "2025-11-25"}

// MaxRequestBodySize caps a POST body at 1MB.
const MaxRequestBodySize = 1 << 20

// ServerName is reported in initialize results.
const ServerName = "coven-toolhost"

// Config configures a Server.
type Config struct {
	Registry      *packs.Registry
	Router        *packs.Router
	Logger        *slog.Logger
	TokenVerifier auth.TokenVerifier
	// TokenStore resolves /mcp/<token> and ?token= credentials.
	TokenStore  *TokenStore
	RequireAuth bool
	// DefaultCaller is used for anonymous sessions when auth is optional.
	DefaultCaller packs.Caller
	Version       string
	// SessionIdle defaults to DefaultSessionIdle.
	SessionIdle time.Duration
	Now         func() time.Time
}

// Server is the MCP endpoint.
type Server struct {
	registry    *packs.Registry
	router      *packs.Router
	logger      *slog.Logger
	verifier    auth.TokenVerifier
	tokens      *TokenStore
	requireAuth bool
	anonymous   packs.Caller
	version     string
	sessions    *sessionTable
	methods     map[string]method
}

// exchange is one request being answered.
type exchange struct {
	w      http.ResponseWriter
	r      *http.Request
	req    *Request
	caller packs.Caller
}

type method func(s *Server, x *exchange)

// NewServer validates cfg and builds a Server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if cfg.Router == nil {
		return nil, errors.New("router is required")
	}
	if cfg.RequireAuth && cfg.TokenVerifier == nil && cfg.TokenStore == nil {
		return nil, errors.New("token verifier or token store required when auth is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	return &Server{
		registry:    cfg.Registry,
		router:      cfg.Router,
		logger:      logger.With("component", "mcp"),
		verifier:    cfg.TokenVerifier,
		tokens:      cfg.TokenStore,
		requireAuth: cfg.RequireAuth,
		anonymous:   newCaller(cfg.DefaultCaller.UserID, cfg.DefaultCaller.Capabilities),
		version:     version,
		sessions:    newSessionTable(cfg.SessionIdle, cfg.Now),
		methods: map[string]method{
			"ping":       (*Server).ping,
			"tools/list": (*Server).listTools,
			"tools/call": (*Server).callTool,
		},
	}, nil
}

// SessionCount returns the number of open sessions.
func (s *Server) SessionCount() int {
	return s.sessions.len()
}

// RegisterRoutes mounts /mcp and /mcp/<token>.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/mcp", s.serve)
	mux.HandleFunc("/mcp/", s.serve)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r)
	case http.MethodDelete:
		s.handleDelete(w, r)
	default:
		// GET would open a server-to-client stream; no tool here pushes events.
		w.Header().Set("Allow", "POST, DELETE")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get("Mcp-Session-Id")
	if id == "" {
		http.Error(w, "Bad Request: missing Mcp-Session-Id", http.StatusBadRequest)
		return
	}
	sess, ok := s.sessions.touch(id)
	if !ok {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if sess.owner != "" && credentialOf(r).value != sess.owner {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	s.sessions.close(id)
	s.logger.Info("mcp session closed", "session_id", id, "user_id", sess.caller.UserID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		replyError(w, s.logger, nil, CodeParseError, "failed to read request body")
		return
	}
	if len(body) > MaxRequestBodySize {
		replyError(w, s.logger, nil, CodeInvalidRequest, "request body too large")
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		replyError(w, s.logger, nil, CodeParseError, "invalid JSON")
		return
	}
	if req.JSONRPC != "2.0" {
		replyError(w, s.logger, req.ID, CodeInvalidRequest, "invalid JSON-RPC version")
		return
	}

	if req.Method == "initialize" {
		s.initialize(w, r, &req)
		return
	}

	if v := r.Header.Get("Mcp-Protocol-Version"); v != "" && !slices.Contains(ProtocolVersions, v) {
		http.Error(w, "Bad Request: unsupported MCP-Protocol-Version", http.StatusBadRequest)
		return
	}
	id := r.Header.Get("Mcp-Session-Id")
	if id == "" {
		http.Error(w, "Bad Request: missing Mcp-Session-Id", http.StatusBadRequest)
		return
	}
	sess, ok := s.sessions.touch(id)
	if !ok {
		// unknown or expired; the client has to initialize again
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	if req.isNotification() {
		s.logger.Debug("mcp notification", "method", req.Method, "session_id", id)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	m, ok := s.methods[req.Method]
	if !ok {
		replyError(w, s.logger, req.ID, CodeMethodNotFound, "method not found")
		return
	}
	s.logger.Debug("mcp request", "method", req.Method, "session_id", id)
	m(s, &exchange{w: w, r: r, req: &req, caller: sess.caller})
}

// initialize authenticates the request and opens a session. A credential
// that fails to verify is refused even when anonymous access is allowed.
func (s *Server) initialize(w http.ResponseWriter, r *http.Request, req *Request) {
	cred := credentialOf(r)
	caller, err := s.resolve(cred)
	switch {
	case errors.Is(err, errBadCredential):
		replyError(w, s.logger, req.ID, CodeInvalidRequest, "invalid or expired token")
		return
	case err != nil && s.requireAuth:
		replyError(w, s.logger, req.ID, CodeInvalidRequest, "authentication required")
		return
	case err != nil:
		caller = s.anonymous
	}

	var params initializeParams
	if len(req.Params) > 0 {
		_ = json.Unmarshal(req.Params, &params)
	}
	protocol := ProtocolVersions[len(ProtocolVersions)-1]
	if slices.Contains(ProtocolVersions, params.ProtocolVersion) {
		protocol = params.ProtocolVersion
	}

	sess := s.sessions.open(protocol, caller, cred.value)
	s.logger.Info("mcp session opened", "session_id", sess.id, "protocol", protocol, "user_id", caller.UserID)

	w.Header().Set("Mcp-Session-Id", sess.id)
	replyResult(w, s.logger, req.ID, map[string]any{
		"protocolVersion": protocol,
		"capabilities":    map[string]any{"tools": map[string]any{}},
		"serverInfo":      map[string]any{"name": ServerName, "version": s.version},
	})
}

func (s *Server) ping(x *exchange) {
	replyResult(x.w, s.logger, x.req.ID, map[string]any{})
}

func (s *Server) listTools(x *exchange) {
	defs := s.registry.GetToolsForCapabilities(x.caller.Capabilities)
	result := ListToolsResult{Tools: make([]ToolInfo, 0, len(defs))}
	for _, d := range defs {
		result.Tools = append(result.Tools, ToolInfo{Name: d.Name, Description: d.Description, InputSchema: d.InputSchema()})
	}
	replyResult(x.w, s.logger, x.req.ID, result)
}

func (s *Server) callTool(x *exchange) {
	var params CallToolParams
	if len(x.req.Params) > 0 {
		if err := json.Unmarshal(x.req.Params, &params); err != nil {
			replyError(x.w, s.logger, x.req.ID, CodeInvalidParams, "invalid params")
			return
		}
	}
	if params.Name == "" {
		replyError(x.w, s.logger, x.req.ID, CodeInvalidParams, "tool name is required")
		return
	}
	input := params.Arguments
	if len(input) == 0 || string(input) == "null" {
		input = json.RawMessage(`{}`)
	}

	requestID := uuid.New().String()
	resp, err := s.router.RouteToolCall(x.r.Context(), packs.ToolCall{
		Name:         params.Name,
		Input:        input,
		RequestID:    requestID,
		UserID:       x.caller.UserID,
		Capabilities: x.caller.Capabilities,
	})
	switch {
	case errors.Is(err, packs.ErrSkipTurn):
		replyResult(x.w, s.logger, x.req.ID, textResult("Turn skipped.", false))
	case err != nil:
		s.logger.Warn("mcp tool call refused", "tool", params.Name, "request_id", requestID, "error", err)
		code, message := callErrorCode(err)
		replyError(x.w, s.logger, x.req.ID, code, message)
	default:
		replyResult(x.w, s.logger, x.req.ID, toolResult(resp))
	}
}

// toolResult puts the output's summary in the text content and the whole
// output object in structuredContent.
func toolResult(resp *packs.ToolResult) CallToolResult {
	if resp.IsError {
		return textResult(resp.Error, true)
	}

	text := string(resp.OutputJSON)
	var out struct {
		Summary string `json:"summary"`
	}
	if json.Unmarshal(resp.OutputJSON, &out) == nil && out.Summary != "" {
		text = out.Summary
	}

	result := textResult(text, false)
	if len(resp.OutputJSON) > 0 && resp.OutputJSON[0] == '{' {
		result.StructuredContent = resp.OutputJSON
	}
	return result
}

func callErrorCode(err error) (int, string) {
	switch {
	case errors.Is(err, packs.ErrToolNotFound):
		return CodeInvalidParams, "tool not found"
	case errors.Is(err, packs.ErrInsufficientCapabilities):
		return CodeInvalidRequest, "insufficient capabilities for this tool"
	case errors.Is(err, packs.ErrDuplicateRequestID):
		return CodeInternalError, "duplicate request ID"
	case errors.Is(err, packs.ErrRouterClosed):
		return CodeInternalError, "server shutting down"
	case errors.Is(err, context.DeadlineExceeded):
		return CodeInternalError, "tool execution timed out"
	case errors.Is(err, context.Canceled):
		return CodeInternalError, "request cancelled"
	default:
		return CodeInternalError, "tool execution failed"
	}
}
