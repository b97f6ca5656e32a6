// ABOUTME: Configuration loading and parsing for the toolhost runtime
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Defaults applied when a field is left empty.
const (
	DefaultHTTPAddr          = "127.0.0.1:8080"
	DefaultExecTimeout       = 30 * time.Second
	DefaultHeartbeatInterval = 30 * time.Minute
	DefaultCronTick          = time.Minute
	DefaultBlockMaxDuration  = 30 * time.Second
	DefaultBlockMaxToolCalls = 100
)

// Config represents the complete toolhost configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Sandbox   SandboxConfig   `yaml:"sandbox" toml:"sandbox"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Scheduler SchedulerConfig `yaml:"scheduler" toml:"scheduler"`
	Blocks    BlocksConfig    `yaml:"blocks" toml:"blocks"`
	MCP       MCPConfig       `yaml:"mcp" toml:"mcp"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// SandboxConfig describes the filesystem area tools may touch.
type SandboxConfig struct {
	HomeDir    string            `yaml:"home_dir" toml:"home_dir"`
	WorkingDir string            `yaml:"working_dir" toml:"working_dir"`
	WriteDirs  []string          `yaml:"write_dirs" toml:"write_dirs"`
	ReadDirs   []string          `yaml:"read_dirs" toml:"read_dirs"`
	Env        map[string]string `yaml:"env" toml:"env"`

	ExecTimeout    time.Duration `yaml:"-" toml:"-"`
	ExecTimeoutRaw string        `yaml:"exec_timeout" toml:"exec_timeout"`
}

// AuthConfig holds authentication configuration.
// With no jwt_secret every request runs as DefaultUser with DefaultCapabilities.
type AuthConfig struct {
	JWTSecret           string   `yaml:"jwt_secret" toml:"jwt_secret"`
	DefaultUser         string   `yaml:"default_user" toml:"default_user"`
	DefaultCapabilities []string `yaml:"default_capabilities" toml:"default_capabilities"`
}

// SchedulerConfig holds heartbeat and cron timing
type SchedulerConfig struct {
	Enabled      bool     `yaml:"enabled" toml:"enabled"`
	Capabilities []string `yaml:"capabilities" toml:"capabilities"`

	HeartbeatInterval time.Duration `yaml:"-" toml:"-"`
	CronTick          time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	HeartbeatIntervalRaw string `yaml:"heartbeat_interval" toml:"heartbeat_interval"`
	CronTickRaw          string `yaml:"cron_tick" toml:"cron_tick"`
}

// BlocksConfig bounds a single execution block
type BlocksConfig struct {
	MaxToolCalls int `yaml:"max_tool_calls" toml:"max_tool_calls"`

	MaxDuration    time.Duration `yaml:"-" toml:"-"`
	MaxDurationRaw string        `yaml:"max_duration" toml:"max_duration"`
}

// MCPConfig holds the static MCP access tokens
type MCPConfig struct {
	Enabled     bool       `yaml:"enabled" toml:"enabled"`
	RequireAuth bool       `yaml:"require_auth" toml:"require_auth"`
	Tokens      []MCPToken `yaml:"tokens" toml:"tokens"`
}

// MCPToken binds a URL token to a user and capability set
type MCPToken struct {
	Token        string   `yaml:"token" toml:"token"`
	UserID       string   `yaml:"user_id" toml:"user_id"`
	Capabilities []string `yaml:"capabilities" toml:"capabilities"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(data, strings.EqualFold(filepath.Ext(path), ".toml"))
	if err != nil {
		return nil, err
	}

	// Relative sandbox paths are anchored at the config file's directory
	cfg.resolvePaths(filepath.Dir(path))

	return cfg, nil
}

// Parse decodes raw configuration bytes, applies defaults and validates the result.
func Parse(data []byte, isTOML bool) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if isTOML {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Sandbox.ExecTimeout == 0 {
		c.Sandbox.ExecTimeout = DefaultExecTimeout
	}
	if c.Sandbox.WorkingDir == "" {
		c.Sandbox.WorkingDir = c.Sandbox.HomeDir
	}
	if c.Auth.DefaultUser == "" {
		c.Auth.DefaultUser = "local"
	}
	if c.Auth.DefaultCapabilities == nil {
		c.Auth.DefaultCapabilities = []string{"workspace", "exec", "memory"}
	}
	if c.Scheduler.HeartbeatInterval == 0 {
		c.Scheduler.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Scheduler.CronTick == 0 {
		c.Scheduler.CronTick = DefaultCronTick
	}
	if c.Scheduler.Capabilities == nil {
		c.Scheduler.Capabilities = c.Auth.DefaultCapabilities
	}
	if c.Blocks.MaxDuration == 0 {
		c.Blocks.MaxDuration = DefaultBlockMaxDuration
	}
	if c.Blocks.MaxToolCalls == 0 {
		c.Blocks.MaxToolCalls = DefaultBlockMaxToolCalls
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// resolvePaths makes relative sandbox and database paths absolute against base.
func (c *Config) resolvePaths(base string) {
	abs := func(p string) string {
		if p == "" || p == ":memory:" || filepath.IsAbs(p) || strings.HasPrefix(p, "~") {
			return p
		}
		return filepath.Join(base, p)
	}
	c.Database.Path = abs(c.Database.Path)
	c.Sandbox.HomeDir = abs(c.Sandbox.HomeDir)
	c.Sandbox.WorkingDir = abs(c.Sandbox.WorkingDir)
	for i, d := range c.Sandbox.WriteDirs {
		c.Sandbox.WriteDirs[i] = abs(d)
	}
	for i, d := range c.Sandbox.ReadDirs {
		c.Sandbox.ReadDirs[i] = abs(d)
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Sandbox.HomeDir == "" {
		return fmt.Errorf("sandbox.home_dir is required")
	}

	if c.Sandbox.ExecTimeout < 100*time.Millisecond || c.Sandbox.ExecTimeout > 5*time.Minute {
		return fmt.Errorf("sandbox.exec_timeout must be between 100ms and 5m, got %s", c.Sandbox.ExecTimeout)
	}

	if c.Blocks.MaxToolCalls < 0 {
		return fmt.Errorf("blocks.max_tool_calls must be positive")
	}

	for i, tok := range c.MCP.Tokens {
		if tok.Token == "" {
			return fmt.Errorf("mcp.tokens[%d].token is required", i)
		}
		if tok.UserID == "" {
			return fmt.Errorf("mcp.tokens[%d].user_id is required", i)
		}
	}

	if c.MCP.RequireAuth && c.Auth.JWTSecret == "" && len(c.MCP.Tokens) == 0 {
		return fmt.Errorf("mcp.require_auth needs auth.jwt_secret or mcp.tokens")
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"sandbox.exec_timeout", cfg.Sandbox.ExecTimeoutRaw, &cfg.Sandbox.ExecTimeout},
		{"scheduler.heartbeat_interval", cfg.Scheduler.HeartbeatIntervalRaw, &cfg.Scheduler.HeartbeatInterval},
		{"scheduler.cron_tick", cfg.Scheduler.CronTickRaw, &cfg.Scheduler.CronTick},
		{"blocks.max_duration", cfg.Blocks.MaxDurationRaw, &cfg.Blocks.MaxDuration},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
