// ABOUTME: Write tool implementation restricted to writable sandbox roots
// ABOUTME: Supports overwrite, append and exclusive-create modes

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// WriteArgs are the inputs of Write. Path must be absolute or start with "~".
type WriteArgs struct {
	Path      string
	Content   []byte
	Append    bool
	Exclusive bool
}

// WriteResult is the outcome of Write.
type WriteResult struct {
	Path        string
	SandboxPath string
	Bytes       int
	Appended    bool
}

// Write writes content to a file inside a writable root, creating parent
// directories as needed. Exclusive fails with ErrExists when the file is
// already present.
func (s *Sandbox) Write(ctx context.Context, args WriteArgs) (*WriteResult, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(args.Path), "@")
	if raw == "" {
		return nil, ErrEmptyPath
	}
	if raw != "~" && !strings.HasPrefix(raw, "~/") && !filepath.IsAbs(raw) {
		return nil, fmt.Errorf("%w: %s", ErrNotAbsolute, raw)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	target := s.Resolve(raw)
	if info, err := os.Lstat(target); err == nil {
		if info.Mode()&fs.ModeSymlink != 0 {
			return nil, fmt.Errorf("%w: %s", ErrSymlink, s.HomePath(target))
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%w: %s", ErrNotFile, s.HomePath(target))
		}
	}

	real, err := s.resolveForWrite(target)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(real), 0755); err != nil {
		return nil, fmt.Errorf("creating parent directory: %w", err)
	}

	flags := os.O_WRONLY | os.O_CREATE
	switch {
	case args.Exclusive:
		flags |= os.O_EXCL
	case args.Append:
		flags |= os.O_APPEND
	default:
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(real, flags, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrExists, s.HomePath(real))
		}
		return nil, fmt.Errorf("opening %s: %w", s.HomePath(real), err)
	}

	n, writeErr := f.Write(args.Content)
	closeErr := f.Close()
	if writeErr != nil {
		return nil, fmt.Errorf("writing %s: %w", s.HomePath(real), writeErr)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("closing %s: %w", s.HomePath(real), closeErr)
	}

	s.logger.Debug("wrote file", "path", real, "bytes", n, "append", args.Append && !args.Exclusive)

	return &WriteResult{
		Path:        real,
		SandboxPath: s.HomePath(real),
		Bytes:       n,
		Appended:    args.Append && !args.Exclusive,
	}, nil
}
