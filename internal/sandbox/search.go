// ABOUTME: Grep and find tools walking readable sandbox directories
// ABOUTME: Produces file:line:text rows and file listings under an output byte cap

package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Search limits.
const (
	GrepDefaultLimit     = 100
	GrepMaxLimit         = 500
	GrepMaxContext       = 10
	FindDefaultLimit     = 1000
	FindMaxLimit         = 5000
	SearchMaxOutputBytes = 64 * 1024

	searchMaxFileBytes = 10 << 20
)

// Result texts when nothing matched.
const (
	NoMatchesText = "No matches found."
	NoFilesText   = "No files found."
)

var skippedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
}

// GrepArgs are the inputs of Grep.
type GrepArgs struct {
	Pattern    string
	Path       string
	Glob       string
	IgnoreCase bool
	Context    int
	Limit      int
}

// GrepResult is the outcome of Grep.
type GrepResult struct {
	Output       string
	Matches      int
	Files        int
	Truncated    bool
	LimitReached bool
}

// Grep searches text files under Path for a regular expression. Each match
// and context line is rendered as "path:line:text".
func (s *Sandbox) Grep(ctx context.Context, args GrepArgs) (*GrepResult, error) {
	if args.Pattern == "" {
		return nil, ErrEmptyPattern
	}
	expr := args.Pattern
	if args.IgnoreCase {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid pattern: %v", ErrInvalidArguments, err)
	}

	contextLines := min(max(args.Context, 0), GrepMaxContext)
	limit := clampLimit(args.Limit, GrepDefaultLimit, GrepMaxLimit)

	root, err := s.searchRoot(args.Path)
	if err != nil {
		return nil, err
	}

	result := &GrepResult{}
	var rows []string

	err = walkFiles(ctx, root, false, func(p, rel string, d fs.DirEntry) (bool, error) {
		if d.IsDir() {
			return false, nil
		}
		if args.Glob != "" && !matchGlob(args.Glob, rel) {
			return false, nil
		}
		info, err := d.Info()
		if err != nil || info.Size() > searchMaxFileBytes {
			return false, nil
		}
		data, err := os.ReadFile(p)
		if err != nil || isBinary(data) {
			return false, nil
		}

		lines := splitLines(data)
		var hits []int
		for i, line := range lines {
			if !re.MatchString(line) {
				continue
			}
			// the limit is only reported once a match beyond it exists
			if result.Matches+len(hits) == limit {
				result.LimitReached = true
				break
			}
			hits = append(hits, i)
		}
		if len(hits) == 0 {
			return result.LimitReached, nil
		}

		result.Files++
		result.Matches += len(hits)

		emit := make([]bool, len(lines))
		for _, h := range hits {
			for j := max(0, h-contextLines); j <= min(len(lines)-1, h+contextLines); j++ {
				emit[j] = true
			}
		}
		display := s.DisplayPath(p)
		for j, ok := range emit {
			if ok {
				rows = append(rows, fmt.Sprintf("%s:%d:%s", display, j+1, lines[j]))
			}
		}
		return result.LimitReached, nil
	})
	if err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		result.Output = NoMatchesText
		return result, nil
	}

	result.Output, result.Truncated = joinRowsCapped(rows, SearchMaxOutputBytes)
	if result.LimitReached {
		result.Output += fmt.Sprintf("\n\n[Match limit %d reached. Refine the pattern or raise limit.]", limit)
	}
	return result, nil
}

// FindArgs are the inputs of Find.
type FindArgs struct {
	Pattern string
	Path    string
	Limit   int
}

// FindResult is the outcome of Find.
type FindResult struct {
	Output       string
	Count        int
	Truncated    bool
	LimitReached bool
}

// Find lists files and directories whose name matches a glob. Patterns
// containing "/" match against the path relative to the search root.
// Hidden entries are included; .git and node_modules are skipped.
func (s *Sandbox) Find(ctx context.Context, args FindArgs) (*FindResult, error) {
	if args.Pattern == "" {
		return nil, ErrEmptyPattern
	}
	if _, err := path.Match(strings.TrimPrefix(args.Pattern, "**/"), ""); err != nil {
		return nil, fmt.Errorf("%w: invalid glob: %v", ErrInvalidArguments, err)
	}

	limit := clampLimit(args.Limit, FindDefaultLimit, FindMaxLimit)
	root, err := s.searchRoot(args.Path)
	if err != nil {
		return nil, err
	}

	result := &FindResult{}
	var rows []string

	err = walkFiles(ctx, root, true, func(p, rel string, d fs.DirEntry) (bool, error) {
		if !matchGlob(args.Pattern, rel) {
			return false, nil
		}
		if result.Count >= limit {
			result.LimitReached = true
			return true, nil
		}
		entry := s.DisplayPath(p)
		if d.IsDir() {
			entry += "/"
		}
		rows = append(rows, entry)
		result.Count++
		return false, nil
	})
	if err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		result.Output = NoFilesText
		return result, nil
	}

	result.Output, result.Truncated = joinRowsCapped(rows, SearchMaxOutputBytes)
	if result.LimitReached {
		result.Output += fmt.Sprintf("\n\n[Result limit %d reached. Refine the pattern or raise limit.]", limit)
	}
	return result, nil
}

func (s *Sandbox) searchRoot(p string) (string, error) {
	if p == "" {
		p = "."
	}
	root, err := s.resolveExisting(s.Resolve(p), s.readRoots)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("path not found: %s: %w", p, err)
		}
		return "", err
	}
	return root, nil
}

// walkFiles visits entries below root in lexical order. Symlinks are not
// followed. fn returns stop=true to end the walk early. When root is a
// file, fn is called once for it.
func walkFiles(ctx context.Context, root string, includeDirs bool, fn func(p, rel string, d fs.DirEntry) (bool, error)) error {
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() && p != root {
				return filepath.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if d.IsDir() {
			if p == root {
				return nil
			}
			if skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			if !includeDirs {
				return nil
			}
		} else if !d.Type().IsRegular() {
			return nil
		}

		rel := d.Name()
		if p != root {
			if r, relErr := filepath.Rel(root, p); relErr == nil {
				rel = filepath.ToSlash(r)
			}
		}

		stop, fnErr := fn(p, rel, d)
		if fnErr != nil {
			return fnErr
		}
		if stop {
			return fs.SkipAll
		}
		return nil
	})
	return err
}

// matchGlob matches a glob against a slash-separated relative path. Patterns
// without "/" match the base name; a leading "**/" matches at any depth.
// Single-level brace alternation ("*.{go,md}") is expanded first.
func matchGlob(pattern, rel string) bool {
	for _, alt := range expandBraces(pattern) {
		if matchOne(alt, rel) {
			return true
		}
	}
	return false
}

func matchOne(pattern, rel string) bool {
	if rest, ok := strings.CutPrefix(pattern, "**/"); ok {
		parts := strings.Split(rel, "/")
		for i := range parts {
			if matchOne(rest, strings.Join(parts[i:], "/")) {
				return true
			}
		}
		return false
	}
	if !strings.Contains(pattern, "/") {
		ok, _ := path.Match(pattern, path.Base(rel))
		return ok
	}
	ok, _ := path.Match(pattern, rel)
	return ok
}

func expandBraces(pattern string) []string {
	open := strings.IndexByte(pattern, '{')
	if open < 0 {
		return []string{pattern}
	}
	closeIdx := strings.IndexByte(pattern[open:], '}')
	if closeIdx < 0 {
		return []string{pattern}
	}
	closeIdx += open
	prefix, suffix := pattern[:open], pattern[closeIdx+1:]
	var out []string
	for _, alt := range strings.Split(pattern[open+1:closeIdx], ",") {
		out = append(out, expandBraces(prefix+alt+suffix)...)
	}
	return out
}

// joinRowsCapped joins rows with newlines, dropping whole rows once the
// output would exceed maxBytes.
func joinRowsCapped(rows []string, maxBytes int) (string, bool) {
	var b strings.Builder
	kept := 0
	for _, row := range rows {
		size := len(row)
		if kept > 0 {
			size++
		}
		if b.Len()+size > maxBytes {
			break
		}
		if kept > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(row)
		kept++
	}

	switch {
	case kept == len(rows):
		return b.String(), false
	case kept == 0:
		return truncateUTF8(rows[0], maxBytes) + fmt.Sprintf("\n\n[Output truncated to %d bytes.]", maxBytes), true
	default:
		return b.String() + fmt.Sprintf("\n\n[Output truncated to %d bytes; %d line(s) omitted.]", maxBytes, len(rows)-kept), true
	}
}

func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func splitLines(data []byte) []string {
	text := strings.TrimSuffix(string(data), "\n")
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}

func isBinary(data []byte) bool {
	head := data
	if len(head) > 8000 {
		head = head[:8000]
	}
	return bytes.IndexByte(head, 0) >= 0
}
