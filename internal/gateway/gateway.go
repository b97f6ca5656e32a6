// ABOUTME: Gateway orchestrator that wires the store, sandbox, tools, scheduler and HTTP server
// ABOUTME: Owns the lifecycle: construction, serving, and graceful shutdown of every component

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/2389/coven-toolhost/internal/auth"
	"github.com/2389/coven-toolhost/internal/block"
	"github.com/2389/coven-toolhost/internal/builtins"
	"github.com/2389/coven-toolhost/internal/config"
	"github.com/2389/coven-toolhost/internal/dedupe"
	"github.com/2389/coven-toolhost/internal/mcp"
	"github.com/2389/coven-toolhost/internal/memory"
	"github.com/2389/coven-toolhost/internal/packs"
	"github.com/2389/coven-toolhost/internal/sandbox"
	"github.com/2389/coven-toolhost/internal/scheduler"
	"github.com/2389/coven-toolhost/internal/store"
)

// Gateway orchestrates the toolhost components.
// It serves the HTTP API and MCP endpoint and runs the scheduler loops.
type Gateway struct {
	config     *config.Config
	store      store.Store
	sandbox    *sandbox.Sandbox
	memory     *memory.Service
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
	version    string
	startedAt  time.Time

	// packRegistry holds every builtin tool
	packRegistry *packs.Registry

	// packRouter dispatches tool calls with capability checks and timeouts
	packRouter *packs.Router

	blocks    *block.Runner
	scheduler *scheduler.Scheduler

	// mcpServer is nil when mcp.enabled is false
	mcpServer *mcp.Server
	mcpTokens *mcp.TokenStore

	// dedupe replays responses for repeated Idempotency-Key headers
	dedupe *dedupe.Cache

	// now overrides the clock in tests
	now func() time.Time
}

// initStore opens the SQLite store. TOOLHOST_DB_PATH overrides the configured path.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("TOOLHOST_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a Gateway from configuration. The store is opened and every
// builtin pack is registered; nothing listens until Run is called.
func New(cfg *config.Config, logger *slog.Logger, version string) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}
	gw, err := newWithStore(cfg, s, logger, version)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return gw, nil
}

// newWithStore builds the gateway around an already opened store.
func newWithStore(cfg *config.Config, s store.Store, logger *slog.Logger, version string) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if version == "" {
		version = "dev"
	}

	sb, err := sandbox.New(sandbox.Config{
		HomeDir:     cfg.Sandbox.HomeDir,
		WorkingDir:  cfg.Sandbox.WorkingDir,
		WriteDirs:   cfg.Sandbox.WriteDirs,
		ReadDirs:    cfg.Sandbox.ReadDirs,
		ExecTimeout: cfg.Sandbox.ExecTimeout,
		Env:         cfg.Sandbox.Env,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating sandbox: %w", err)
	}

	memService := memory.New(memory.Config{Store: s, Logger: logger})

	packRegistry := packs.NewRegistry(logger.With("component", "pack-registry"))
	packRouter := packs.NewRouter(packs.RouterConfig{
		Registry: packRegistry,
		Logger:   logger,
	})

	blockRunner := block.NewRunner(block.RunnerConfig{
		Router:       packRouter,
		Logger:       logger,
		MaxDuration:  cfg.Blocks.MaxDuration,
		MaxToolCalls: cfg.Blocks.MaxToolCalls,
	})

	sched := scheduler.New(scheduler.Config{
		Store:             s,
		Runner:            blockRunner,
		Logger:            logger,
		Capabilities:      cfg.Scheduler.Capabilities,
		HeartbeatInterval: cfg.Scheduler.HeartbeatInterval,
		CronTick:          cfg.Scheduler.CronTick,
	})

	if err := builtins.RegisterAll(packRegistry, builtins.Deps{
		Sandbox:   sb,
		Memory:    memService,
		Scheduler: sched,
		Logger:    logger,
	}); err != nil {
		packRouter.Close()
		packRegistry.Close()
		return nil, err
	}

	gw := &Gateway{
		config:       cfg,
		store:        s,
		sandbox:      sb,
		memory:       memService,
		logger:       logger.With("component", "gateway"),
		version:      version,
		packRegistry: packRegistry,
		packRouter:   packRouter,
		blocks:       blockRunner,
		scheduler:    sched,
		dedupe:       dedupe.New(dedupe.DefaultTTL, dedupe.DefaultMaxSize),
		now:          time.Now,
	}
	gw.startedAt = gw.now()

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", gw.handleHealth)
	mux.HandleFunc("GET /health/ready", gw.handleReady)

	if err := gw.registerHTTPAPIRoutes(mux, cfg); err != nil {
		gw.closeOptionalComponents()
		return nil, err
	}

	if cfg.MCP.Enabled {
		if err := gw.registerMCPRoutes(mux, cfg, logger); err != nil {
			gw.closeOptionalComponents()
			return nil, err
		}
	}

	gw.handler = mux
	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// apiMiddleware returns the auth middleware for /api routes: JWT when a
// secret is configured, otherwise the static default identity.
func apiMiddleware(cfg *config.Config, logger *slog.Logger) (func(http.Handler) http.Handler, error) {
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("HTTP auth disabled - no jwt_secret configured",
			"default_user", cfg.Auth.DefaultUser,
			"capabilities", cfg.Auth.DefaultCapabilities,
		)
		return auth.StaticAuthMiddleware(cfg.Auth.DefaultUser, cfg.Auth.DefaultCapabilities), nil
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating HTTP JWT verifier: %w", err)
	}
	logger.Info("HTTP auth middleware enabled")
	return auth.HTTPAuthMiddleware(verifier), nil
}

// registerHTTPAPIRoutes registers API routes on the mux behind the auth middleware.
func (g *Gateway) registerHTTPAPIRoutes(mux *http.ServeMux, cfg *config.Config) error {
	authMiddleware, err := apiMiddleware(cfg, g.logger)
	if err != nil {
		return err
	}
	requireMemory := auth.RequireCapabilityHTTP(builtins.CapMemory)
	requireSchedule := auth.RequireCapabilityHTTP(builtins.CapSchedule)

	handle := func(pattern string, h http.HandlerFunc, extra ...func(http.Handler) http.Handler) {
		var handler http.Handler = h
		for i := len(extra) - 1; i >= 0; i-- {
			handler = extra[i](handler)
		}
		mux.Handle(pattern, authMiddleware(handler))
	}

	handle("GET /api/tools", g.handleListTools)
	handle("POST /api/tools/{name}", g.handleCallTool)
	handle("POST /api/blocks", g.handleRunBlock)
	handle("GET /api/runs", g.handleListRuns)

	handle("GET /api/memory", g.handleMemoryRoot, requireMemory)
	handle("GET /api/memory/{id}", g.handleMemoryNode, requireMemory)

	handle("GET /api/heartbeats", g.handleListHeartbeats, requireSchedule)
	handle("POST /api/heartbeats", g.handleAddHeartbeat, requireSchedule)
	handle("POST /api/heartbeats/run", g.handleRunHeartbeats, requireSchedule)
	handle("DELETE /api/heartbeats/{id}", g.handleRemoveHeartbeat, requireSchedule)

	handle("GET /api/crons", g.handleListCrons, requireSchedule)
	handle("POST /api/crons", g.handleAddCron, requireSchedule)
	handle("DELETE /api/crons/{id}", g.handleRemoveCron, requireSchedule)

	return nil
}

// registerMCPRoutes creates the MCP server and its token store.
func (g *Gateway) registerMCPRoutes(mux *http.ServeMux, cfg *config.Config, logger *slog.Logger) error {
	var verifier auth.TokenVerifier
	if cfg.Auth.JWTSecret != "" {
		v, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			return fmt.Errorf("creating MCP JWT verifier: %w", err)
		}
		verifier = v
	}

	g.mcpTokens = mcp.NewTokenStore(cfg.MCP.Tokens)
	mcpServer, err := mcp.NewServer(mcp.Config{
		Registry:      g.packRegistry,
		Router:        g.packRouter,
		Logger:        logger,
		TokenVerifier: verifier,
		TokenStore:    g.mcpTokens,
		RequireAuth:   cfg.MCP.RequireAuth,
		DefaultCaller: packs.Caller{UserID: cfg.Auth.DefaultUser, Capabilities: cfg.Auth.DefaultCapabilities},
		Version:       g.version,
	})
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}
	g.mcpServer = mcpServer
	g.mcpServer.RegisterRoutes(mux)
	g.logger.Info("MCP endpoint enabled at /mcp",
		"require_auth", cfg.MCP.RequireAuth,
		"static_tokens", g.mcpTokens.Len(),
	)
	return nil
}

// Tools returns every registered tool definition sorted by name.
func (g *Gateway) Tools() []*packs.ToolDefinition {
	return g.packRegistry.AllTools()
}

// Handler returns the HTTP handler serving every route.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// Run starts the HTTP server and the scheduler, then blocks until the
// context is canceled or the server fails. Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	return g.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	g.logger.Info("=== TOOLHOST STARTED ===",
		"http_addr", ln.Addr().String(),
		"version", g.version,
		"tools", len(g.packRegistry.AllTools()),
	)

	if g.config.Scheduler.Enabled {
		g.scheduler.Start(ctx)
	} else {
		g.logger.Info("scheduler disabled - heartbeat and cron tasks only run on demand")
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// closeOptionalComponents closes components that hold goroutines or pending calls.
func (g *Gateway) closeOptionalComponents() {
	if g.dedupe != nil {
		g.dedupe.Close()
	}
	if g.packRouter != nil {
		g.packRouter.Close()
	}
	if g.packRegistry != nil {
		g.packRegistry.Close()
	}
}

// Shutdown stops the HTTP server, waits for in-flight scheduled turns,
// then closes the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down toolhost")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.scheduler.Stop()
	g.closeOptionalComponents()

	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK when the store answers queries.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := g.store.ListTurnRuns(r.Context(), store.RunFilter{Limit: 1}); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d tools, up %s)", len(g.packRegistry.AllTools()), g.now().Sub(g.startedAt).Round(time.Second))
}
