// ABOUTME: Entry point for the toolhost server and its local commands
// ABOUTME: Subcommands serve, run, tools, runs, token and health share one config file

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/2389/coven-toolhost/internal/auth"
	"github.com/2389/coven-toolhost/internal/config"
	"github.com/2389/coven-toolhost/internal/gateway"
	"github.com/2389/coven-toolhost/internal/packs"
	"github.com/2389/coven-toolhost/internal/store"
)

// version is set with -ldflags at build time.
var version = "dev"

const banner = `
  _              _ _               _
 | |_ ___   ___ | | |__   ___  ___| |_
 | __/ _ \ / _ \| | '_ \ / _ \/ __| __|
 | || (_) | (_) | | | | | (_) \__ \ |_
  \__\___/ \___/|_|_| |_|\___/|___/\__|
`

// getConfigPath returns the default config file path.
// Priority: TOOLHOST_CONFIG env var > XDG_CONFIG_HOME/coven/toolhost.yaml > ~/.config/coven/toolhost.yaml
func getConfigPath() string {
	if envPath := os.Getenv("TOOLHOST_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "toolhost.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven", "toolhost.yaml")
}

func usage() {
	fmt.Println("Usage: toolhost <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                  Start the HTTP/MCP server and scheduler")
	fmt.Println("  run FILE               Run a block file locally (- reads stdin)")
	fmt.Println("  tools                  List registered tools")
	fmt.Println("  runs                   Show recent block, heartbeat and cron runs")
	fmt.Println("  token --user ID        Mint a JWT for the HTTP API")
	fmt.Println("  health                 Check server readiness")
	fmt.Println()
	fmt.Println("Every command accepts --config PATH (default: $TOOLHOST_CONFIG or ~/.config/coven/toolhost.yaml).")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, args)
	case "run":
		err = runBlock(ctx, args)
	case "tools":
		err = runTools(args)
	case "runs":
		err = runRuns(ctx, args)
	case "token":
		err = runToken(args)
	case "health":
		err = runHealth(ctx, args)
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newFlagSet returns a flag set with the shared --config flag.
func newFlagSet(name string) (*pflag.FlagSet, *string) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", getConfigPath(), "path to the config file")
	return fs, configPath
}

func runServe(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("serve")
	addr := fs.String("addr", "", "override server.http_addr")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if *addr != "" {
		cfg.Server.HTTPAddr = *addr
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", *configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s", cfg.Database.Path)
	if info, err := os.Stat(cfg.Database.Path); err == nil {
		gray.Printf(" (%s)", humanize.Bytes(uint64(info.Size())))
	}
	fmt.Println()
	green.Print("    ▶ ")
	fmt.Printf("Home:      %s\n", cfg.Sandbox.HomeDir)
	green.Print("    ▶ ")
	fmt.Printf("Scheduler: ")
	if cfg.Scheduler.Enabled {
		fmt.Printf("heartbeat every %s, cron tick %s\n", cfg.Scheduler.HeartbeatInterval, cfg.Scheduler.CronTick)
	} else {
		yellow.Println("disabled")
	}
	if cfg.MCP.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("MCP:       http://%s/mcp", cfg.Server.HTTPAddr)
		if cfg.MCP.RequireAuth {
			gray.Print(" (auth required)")
		}
		fmt.Println()
	}
	if cfg.Auth.JWTSecret == "" {
		yellow.Printf("    ! No jwt_secret: every request runs as %q\n", cfg.Auth.DefaultUser)
	}
	fmt.Println()

	logger.Info("starting toolhost",
		"config", *configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	gw, err := gateway.New(cfg, logger, version)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// runBlock runs a block file against a local gateway without serving HTTP.
func runBlock(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("run")
	user := fs.StringP("user", "u", "", "user to run as (default: auth.default_user)")
	caps := fs.StringSlice("caps", nil, "capabilities to grant (default: auth.default_capabilities)")
	asJSON := fs.Bool("json", false, "print the full result as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("run needs exactly one block file (or - for stdin)")
	}

	source, err := readSource(fs.Arg(0))
	if err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := setupLogger(config.LoggingConfig{Level: "warn", Format: cfg.Logging.Format})

	gw, err := gateway.New(cfg, logger, version)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	defer gw.Shutdown(context.Background())

	caller := packs.Caller{UserID: cfg.Auth.DefaultUser, Capabilities: cfg.Auth.DefaultCapabilities}
	if *user != "" {
		caller.UserID = *user
	}
	if fs.Changed("caps") {
		caller.Capabilities = *caps
	}

	start := time.Now()
	resp, err := gw.RunBlock(ctx, source, caller)
	if err != nil {
		return err
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	statusColor := color.New(color.FgGreen)
	switch resp.Status {
	case store.RunStatusFailed:
		statusColor = color.New(color.FgRed, color.Bold)
	case store.RunStatusSkipped:
		statusColor = color.New(color.FgYellow)
	}
	statusColor.Printf("%s", resp.Status)
	color.New(color.FgHiBlack).Printf(" (%d tool calls, %s)\n", resp.ToolCallCount, time.Since(start).Round(time.Millisecond))
	if resp.PrintOutput != "" {
		fmt.Println(resp.PrintOutput)
	} else {
		fmt.Println(resp.Output)
	}
	if resp.Failed() {
		return errors.New(resp.Error)
	}
	return nil
}

func readSource(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading block file: %w", err)
	}
	return data, nil
}

func runTools(args []string) error {
	fs, configPath := newFlagSet("tools")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	gw, err := gateway.New(cfg, setupLogger(config.LoggingConfig{Level: "error"}), version)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	defer gw.Shutdown(context.Background())

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	for _, d := range gw.Tools() {
		cyan.Printf("%-20s", d.Name)
		if len(d.RequiredCapabilities) > 0 {
			gray.Printf(" [%s]", strings.Join(d.RequiredCapabilities, ","))
		}
		fmt.Println()
		fmt.Printf("    %s\n", d.Description)
	}
	return nil
}

// runRuns prints recent runs straight from the database.
func runRuns(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("runs")
	user := fs.StringP("user", "u", "", "only runs for this user")
	kind := fs.String("kind", "", "only runs of this kind (block, heartbeat, cron)")
	limit := fs.IntP("limit", "n", 20, "maximum runs to show")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	runs, err := s.ListTurnRuns(ctx, store.RunFilter{UserID: *user, Kind: *kind, Limit: *limit})
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}

	gray := color.New(color.FgHiBlack)
	for _, run := range runs {
		status := color.GreenString(run.Status)
		switch run.Status {
		case store.RunStatusFailed:
			status = color.RedString(run.Status)
		case store.RunStatusSkipped:
			status = color.YellowString(run.Status)
		}
		name := run.Kind
		if run.TaskID != "" {
			name += ":" + run.TaskID
		}
		fmt.Printf("%-10s %-32s %s", status, name, run.UserID)
		gray.Printf("  %s, %d calls, took %s\n",
			humanize.Time(run.StartedAt),
			run.ToolCallCount,
			run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond),
		)
		if run.Error != "" {
			fmt.Printf("    %s\n", run.Error)
		}
	}
	return nil
}

// runToken mints a JWT signed with auth.jwt_secret.
func runToken(args []string) error {
	fs, configPath := newFlagSet("token")
	user := fs.StringP("user", "u", "", "user id the token authenticates as (required)")
	caps := fs.StringSlice("caps", nil, "capabilities to grant, e.g. workspace,memory")
	ttl := fs.Duration("ttl", 30*24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" {
		return errors.New("--user is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret not configured in %s", *configPath)
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate(*user, *caps, *ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	expiresAt := time.Now().Add(*ttl)
	fmt.Fprintf(os.Stderr, "%s token for %s (capabilities: %s), expires %s\n",
		color.GreenString("✓"),
		*user,
		strings.Join(*caps, ","),
		humanize.Time(expiresAt),
	)
	fmt.Println(token)
	return nil
}

func runHealth(ctx context.Context, args []string) error {
	fs, configPath := newFlagSet("health")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Println(string(body))
	return nil
}
