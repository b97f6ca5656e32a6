// ABOUTME: Directory listing for the ls tool
// ABOUTME: Returns sorted entries with type and size, capped by a limit

package sandbox

import (
	"context"
	"fmt"
	"io/fs"
	"os"
)

// List limits.
const (
	ListDefaultLimit = 500
	ListMaxLimit     = 5000
)

// Entry types.
const (
	EntryFile    = "file"
	EntryDir     = "dir"
	EntrySymlink = "symlink"
	EntryOther   = "other"
)

// ListArgs are the inputs of List. An empty Path lists the working dir.
type ListArgs struct {
	Path  string
	Limit int
}

// Entry is one directory entry.
type Entry struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size,omitempty"`
}

// ListResult is the outcome of List.
type ListResult struct {
	Path        string
	DisplayPath string
	Entries     []Entry
	Total       int
	Truncated   bool
}

// List returns the entries of a directory in name order.
func (s *Sandbox) List(ctx context.Context, args ListArgs) (*ListResult, error) {
	p := args.Path
	if p == "" {
		p = "."
	}

	real, err := s.resolveExisting(s.Resolve(p), s.readRoots)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(real)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", s.DisplayPath(real), err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, s.DisplayPath(real))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dirEntries, err := os.ReadDir(real)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", s.DisplayPath(real), err)
	}

	limit := clampLimit(args.Limit, ListDefaultLimit, ListMaxLimit)
	result := &ListResult{
		Path:        real,
		DisplayPath: s.DisplayPath(real),
		Total:       len(dirEntries),
		Entries:     make([]Entry, 0, min(limit, len(dirEntries))),
	}

	for _, d := range dirEntries {
		if len(result.Entries) >= limit {
			result.Truncated = true
			break
		}
		entry := Entry{Name: d.Name(), Type: entryType(d.Type())}
		if entry.Type == EntryFile {
			if fi, err := d.Info(); err == nil {
				entry.Size = fi.Size()
			}
		}
		result.Entries = append(result.Entries, entry)
	}

	return result, nil
}

func entryType(mode fs.FileMode) string {
	switch {
	case mode&fs.ModeSymlink != 0:
		return EntrySymlink
	case mode.IsDir():
		return EntryDir
	case mode.IsRegular():
		return EntryFile
	default:
		return EntryOther
	}
}

// clampLimit applies def to non-positive values and caps at ceiling.
func clampLimit(v, def, ceiling int) int {
	if v <= 0 {
		return def
	}
	if v > ceiling {
		return ceiling
	}
	return v
}
