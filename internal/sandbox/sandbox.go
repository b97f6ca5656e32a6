// ABOUTME: Sandbox confines tool file access and process execution to configured roots
// ABOUTME: Owns the home, working, writable and readable directory sets

package sandbox

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Sandbox errors
var (
	ErrOutsideSandbox   = errors.New("path is outside the sandbox")
	ErrSymlink          = errors.New("cannot operate on a symbolic link directly")
	ErrNotFile          = errors.New("path is not a file")
	ErrNotDirectory     = errors.New("path is not a directory")
	ErrNotAbsolute      = errors.New("path must be absolute")
	ErrExists           = errors.New("file already exists")
	ErrEmptyPath        = errors.New("path is required")
	ErrOffsetBeyondEOF  = errors.New("offset is beyond end of file")
	ErrEmptyCommand     = errors.New("command is required")
	ErrEmptyPattern     = errors.New("pattern is required")
	ErrInvalidArguments = errors.New("invalid arguments")
)

// DefaultExecTimeout applies when neither the config nor the call sets one.
const DefaultExecTimeout = 30 * time.Second

// Config describes the directories a Sandbox exposes.
type Config struct {
	// HomeDir is "~" in tool paths. Always writable.
	HomeDir string
	// WorkingDir anchors relative paths and is the default exec cwd.
	// Defaults to HomeDir.
	WorkingDir string
	// WriteDirs are additional writable roots.
	WriteDirs []string
	// ReadDirs are additional read-only roots.
	ReadDirs []string

	ExecTimeout time.Duration
	Env         map[string]string
	Logger      *slog.Logger
}

// Sandbox resolves tool paths and runs commands inside its roots.
// All roots are stored with symlinks resolved so containment checks
// compare real paths.
type Sandbox struct {
	homeDir     string
	workingDir  string
	writeRoots  []string
	readRoots   []string
	execTimeout time.Duration
	env         map[string]string
	logger      *slog.Logger
}

// New creates a Sandbox, creating the home and working directories if needed.
func New(cfg Config) (*Sandbox, error) {
	if cfg.HomeDir == "" {
		return nil, errors.New("sandbox home dir is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	home, err := prepareRoot(cfg.HomeDir, true)
	if err != nil {
		return nil, fmt.Errorf("preparing home dir: %w", err)
	}

	workingDir := home
	if cfg.WorkingDir != "" {
		workingDir, err = prepareRoot(cfg.WorkingDir, true)
		if err != nil {
			return nil, fmt.Errorf("preparing working dir: %w", err)
		}
	}

	var writeRoots []string
	for _, d := range cfg.WriteDirs {
		root, err := prepareRoot(d, true)
		if err != nil {
			return nil, fmt.Errorf("preparing write dir %s: %w", d, err)
		}
		writeRoots = appendUnique(writeRoots, root)
	}
	writeRoots = appendUnique(writeRoots, home)

	readRoots := appendUnique(nil, workingDir)
	for _, root := range writeRoots {
		readRoots = appendUnique(readRoots, root)
	}
	for _, d := range cfg.ReadDirs {
		root, err := prepareRoot(d, false)
		if err != nil {
			logger.Warn("skipping unavailable read dir", "path", d, "error", err)
			continue
		}
		readRoots = appendUnique(readRoots, root)
	}

	timeout := cfg.ExecTimeout
	if timeout == 0 {
		timeout = DefaultExecTimeout
	}

	env := make(map[string]string, len(cfg.Env))
	for k, v := range cfg.Env {
		env[k] = v
	}

	return &Sandbox{
		homeDir:     home,
		workingDir:  workingDir,
		writeRoots:  writeRoots,
		readRoots:   readRoots,
		execTimeout: timeout,
		env:         env,
		logger:      logger,
	}, nil
}

// HomeDir returns the resolved home directory.
func (s *Sandbox) HomeDir() string { return s.homeDir }

// WorkingDir returns the resolved working directory.
func (s *Sandbox) WorkingDir() string { return s.workingDir }

// prepareRoot makes dir absolute, optionally creates it, and resolves symlinks.
func prepareRoot(dir string, create bool) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	if create {
		if err := os.MkdirAll(abs, 0755); err != nil {
			return "", err
		}
	}
	return filepath.EvalSymlinks(abs)
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
