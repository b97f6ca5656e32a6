// Package config handles configuration loading for the toolhost.
//
// # Overview
//
// Configuration is loaded from YAML (default) or TOML (files ending in
// .toml) with environment variable expansion. Missing values receive
// defaults before validation.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from TOOLHOST_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/toolhost/config.yaml
//  3. ~/.config/toolhost/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${TOOLHOST_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "127.0.0.1:8080"
//
//	database:
//	  path: "~/.local/share/toolhost/toolhost.db"
//
//	sandbox:
//	  home_dir: "/srv/agent"          # "~" in tool paths
//	  working_dir: "/srv/agent/work"  # relative paths and exec cwd
//	  write_dirs: ["/srv/agent/work"] # home_dir is always writable
//	  read_dirs: []                   # empty means working, write and home dirs
//	  exec_timeout: "30s"
//
//	auth:
//	  jwt_secret: "${TOOLHOST_JWT_SECRET}"
//	  default_user: "local"
//	  default_capabilities: ["workspace", "exec", "memory"]
//
//	scheduler:
//	  enabled: true
//	  heartbeat_interval: "30m"
//	  cron_tick: "1m"
//
//	blocks:
//	  max_duration: "30s"
//	  max_tool_calls: 100
//
//	mcp:
//	  enabled: true
//	  tokens:
//	    - token: "..."
//	      user_id: "alice"
//	      capabilities: ["memory"]
//
//	logging:
//	  level: "info"    # debug, info, warn, error
//	  format: "text"   # text or json
//
// Relative paths are resolved against the directory holding the config file.
package config
