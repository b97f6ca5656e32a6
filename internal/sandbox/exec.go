// ABOUTME: Shell command execution inside the sandbox working directory
// ABOUTME: Applies timeouts, a scrubbed environment and capped output buffers

package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"syscall"
	"time"
)

// Exec limits.
const (
	ExecMinTimeout     = 100 * time.Millisecond
	ExecMaxTimeout     = 5 * time.Minute
	ExecMaxOutputBytes = 1 << 20
	ExecMaxTextChars   = 8000

	execWaitDelay = 2 * time.Second
	defaultPath   = "/usr/local/bin:/usr/bin:/bin"
)

// ExecArgs are the inputs of Exec. Cwd must lie inside the working or home dir.
type ExecArgs struct {
	Command string
	Cwd     string
	Timeout time.Duration
	Env     map[string]string
}

// ExecResult is the outcome of Exec. A non-zero exit is reported through
// Failed and ExitCode, not as an error.
type ExecResult struct {
	Stdout          string
	Stderr          string
	ExitCode        int
	Signal          string
	Failed          bool
	TimedOut        bool
	OutputTruncated bool
	Cwd             string
	Duration        time.Duration
}

// Exec runs command with /bin/sh -c.
func (s *Sandbox) Exec(ctx context.Context, args ExecArgs) (*ExecResult, error) {
	if strings.TrimSpace(args.Command) == "" {
		return nil, ErrEmptyCommand
	}

	cwd := s.workingDir
	if args.Cwd != "" {
		resolved, err := s.resolveExisting(s.Resolve(args.Cwd), []string{s.workingDir, s.homeDir})
		if err != nil {
			return nil, fmt.Errorf("resolving cwd: %w", err)
		}
		info, err := os.Stat(resolved)
		if err != nil {
			return nil, fmt.Errorf("resolving cwd: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%w: %s", ErrNotDirectory, args.Cwd)
		}
		cwd = resolved
	}

	timeout := args.Timeout
	if timeout == 0 {
		timeout = s.execTimeout
	}
	timeout = min(max(timeout, ExecMinTimeout), ExecMaxTimeout)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout := &cappedBuffer{limit: ExecMaxOutputBytes}
	stderr := &cappedBuffer{limit: ExecMaxOutputBytes}

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", args.Command)
	cmd.Dir = cwd
	cmd.Env = s.buildEnv(cwd, args.Env)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = execWaitDelay

	s.logger.Debug("→ exec", "command", args.Command, "cwd", cwd, "timeout", timeout)

	start := time.Now()
	runErr := cmd.Run()

	result := &ExecResult{
		Stdout:          stdout.String(),
		Stderr:          stderr.String(),
		Cwd:             s.DisplayPath(cwd),
		Duration:        time.Since(start),
		OutputTruncated: stdout.truncated || stderr.truncated,
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) && !errors.Is(runErr, exec.ErrWaitDelay) {
			return nil, fmt.Errorf("starting command: %w", runErr)
		}
		result.Failed = true
		if exitErr != nil {
			result.ExitCode = exitErr.ExitCode()
			if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
				result.Signal = ws.Signal().String()
			}
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			result.TimedOut = true
		}
	}

	s.logger.Debug("← exec", "exit_code", result.ExitCode, "failed", result.Failed, "duration", result.Duration)
	return result, nil
}

// Text renders the result the way tools return it: labelled stdout and
// stderr sections, or a placeholder when both are empty. The output keeps
// the last ExecMaxTextChars bytes.
func (r *ExecResult) Text() string {
	var parts []string
	if strings.TrimSpace(r.Stdout) != "" {
		parts = append(parts, "stdout:\n"+strings.TrimRight(r.Stdout, "\n"))
	}
	if strings.TrimSpace(r.Stderr) != "" {
		parts = append(parts, "stderr:\n"+strings.TrimRight(r.Stderr, "\n"))
	}

	var text string
	switch {
	case len(parts) > 0:
		text = strings.Join(parts, "\n\n")
	case r.Failed:
		text = "Command failed with no output."
	default:
		text = "Command completed with no output."
	}

	if r.TimedOut {
		text += "\n\n[Command timed out.]"
	}

	if len(text) > ExecMaxTextChars {
		cut := len(text) - ExecMaxTextChars
		for cut < len(text) && (text[cut]&0xC0) == 0x80 {
			cut++
		}
		text = "[... output truncated ...]\n" + text[cut:]
	}
	return text
}

// buildEnv returns a minimal environment: PATH, HOME pointed at the
// sandbox home, then configured and per-call variables in key order.
func (s *Sandbox) buildEnv(cwd string, extra map[string]string) []string {
	vars := map[string]string{
		"PATH": defaultPath,
		"HOME": s.homeDir,
		"PWD":  cwd,
		"LANG": "C.UTF-8",
	}
	if p := os.Getenv("PATH"); p != "" {
		vars["PATH"] = p
	}
	for k, v := range s.env {
		vars[k] = v
	}
	for k, v := range extra {
		vars[k] = v
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+vars[k])
	}
	return env
}

// cappedBuffer keeps the first limit bytes written and drops the rest.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.limit - b.buf.Len()
	if room <= 0 {
		if len(p) > 0 {
			b.truncated = true
		}
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) String() string {
	return b.buf.String()
}
