// ABOUTME: write_output implementation: date-prefixed files under ~/outputs
// ABOUTME: Resolves name collisions with numeric suffixes using exclusive creates

package outputs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/2389/coven-toolhost/internal/sandbox"
)

// Dir is the sandbox path outputs are written to.
const Dir = "~/outputs"

// MaxSuffix is the highest collision suffix tried before giving up.
const MaxSuffix = 99

// Formats accepted by Write.
const (
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
)

// Output errors
var (
	ErrInvalidName   = errors.New("invalid output name")
	ErrInvalidFormat = errors.New("format must be markdown or json")
	ErrInvalidJSON   = errors.New("content is not valid JSON")
	ErrNoSlot        = errors.New("could not resolve unique output name")
)

// Writer is the sandbox operation Write needs.
type Writer interface {
	Write(ctx context.Context, args sandbox.WriteArgs) (*sandbox.WriteResult, error)
}

// Request is a write_output call.
type Request struct {
	Name    string
	Format  string
	Content string
}

// Result describes the written file. Path is the "~/outputs/..." form.
type Result struct {
	Path   string
	Bytes  int
	Format string
}

// Write stores content as ~/outputs/YYYYMMDDHHMMSS-name.ext. When that file
// exists it tries name-1 through name-99.
func Write(ctx context.Context, w Writer, req Request, now time.Time) (*Result, error) {
	format := strings.TrimSpace(req.Format)
	if format == "" {
		format = FormatMarkdown
	}
	ext, err := extensionFor(format)
	if err != nil {
		return nil, err
	}

	name, err := NormalizeName(req.Name)
	if err != nil {
		return nil, err
	}

	if format == FormatJSON && !json.Valid([]byte(req.Content)) {
		return nil, ErrInvalidJSON
	}

	stamp := now.UTC().Format("20060102150405")
	for attempt := 0; attempt <= MaxSuffix; attempt++ {
		path := fmt.Sprintf("%s/%s", Dir, fileName(stamp, name, ext, attempt))
		res, err := w.Write(ctx, sandbox.WriteArgs{
			Path:      path,
			Content:   []byte(req.Content),
			Exclusive: true,
		})
		if errors.Is(err, sandbox.ErrExists) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return &Result{Path: path, Bytes: res.Bytes, Format: format}, nil
	}

	return nil, fmt.Errorf("%w for %q after %d attempts", ErrNoSlot, name, MaxSuffix)
}

// NormalizeName trims name and rejects paths, dot names and extensions.
func NormalizeName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", fmt.Errorf("%w: name must be a non-empty file name", ErrInvalidName)
	}
	if trimmed == "." || trimmed == ".." {
		return "", fmt.Errorf("%w: name must not be '.' or '..'", ErrInvalidName)
	}
	lower := strings.ToLower(trimmed)
	if strings.HasSuffix(lower, ".md") || strings.HasSuffix(lower, ".json") {
		return "", fmt.Errorf("%w: name must not include a file extension", ErrInvalidName)
	}
	if strings.ContainsAny(trimmed, `/\`) {
		return "", fmt.Errorf("%w: name must be a file name, not a path", ErrInvalidName)
	}
	return trimmed, nil
}

func extensionFor(format string) (string, error) {
	switch format {
	case FormatMarkdown:
		return "md", nil
	case FormatJSON:
		return "json", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidFormat, format)
	}
}

func fileName(stamp, name, ext string, suffix int) string {
	if suffix == 0 {
		return fmt.Sprintf("%s-%s.%s", stamp, name, ext)
	}
	return fmt.Sprintf("%s-%s-%d.%s", stamp, name, suffix, ext)
}
