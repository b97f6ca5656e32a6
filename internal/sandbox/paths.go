// ABOUTME: Path expansion and containment checks for sandboxed tool paths
// ABOUTME: Handles "@" and "~" prefixes, symlink resolution and display paths

package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Resolve expands a tool path into a cleaned absolute path without touching
// the filesystem. A leading "@" is dropped, "~" maps to the home dir and
// relative paths are anchored at the working dir.
func (s *Sandbox) Resolve(p string) string {
	p = strings.TrimPrefix(strings.TrimSpace(p), "@")
	switch {
	case p == "~":
		return s.homeDir
	case strings.HasPrefix(p, "~/"):
		return filepath.Join(s.homeDir, p[2:])
	case filepath.IsAbs(p):
		return filepath.Clean(p)
	default:
		return filepath.Join(s.workingDir, p)
	}
}

// DisplayPath renders an absolute path relative to the working dir when
// possible, then relative to home as "~/...", otherwise unchanged.
func (s *Sandbox) DisplayPath(abs string) string {
	if rel, ok := relWithin(abs, s.workingDir); ok {
		return rel
	}
	return s.HomePath(abs)
}

// HomePath renders an absolute path as "~/..." when it lies under home.
func (s *Sandbox) HomePath(abs string) string {
	rel, ok := relWithin(abs, s.homeDir)
	if !ok {
		return abs
	}
	if rel == "." {
		return "~"
	}
	return "~/" + filepath.ToSlash(rel)
}

// resolveExisting follows every symlink in p and verifies the real path is
// inside one of roots.
func (s *Sandbox) resolveExisting(p string, roots []string) (string, error) {
	real, err := filepath.EvalSymlinks(p)
	if err != nil {
		return "", err
	}
	if !withinAny(real, roots) {
		return "", fmt.Errorf("%w: %s", ErrOutsideSandbox, p)
	}
	return real, nil
}

// resolveForWrite resolves the deepest existing ancestor of p through
// symlinks, re-attaches the missing tail and verifies the result is inside
// a writable root. The target itself need not exist.
func (s *Sandbox) resolveForWrite(p string) (string, error) {
	existing := p
	var tail []string
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		tail = append([]string{filepath.Base(existing)}, tail...)
		existing = parent
	}

	real, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", err
	}

	full := filepath.Join(append([]string{real}, tail...)...)
	if !withinAny(full, s.writeRoots) {
		return "", fmt.Errorf("%w: %s", ErrOutsideSandbox, p)
	}
	return full, nil
}

// relWithin returns the path of target relative to root if target is root
// or lies below it.
func relWithin(target, root string) (string, bool) {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return "", false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}

func withinAny(target string, roots []string) bool {
	for _, root := range roots {
		if _, ok := relWithin(target, root); ok {
			return true
		}
	}
	return false
}
