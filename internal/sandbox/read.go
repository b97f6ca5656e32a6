// ABOUTME: Read tool implementation with line/byte truncation and continuation notices
// ABOUTME: Detects images and returns their bytes instead of text

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
)

// Read limits applied to text output unless Raw is set.
const (
	ReadMaxLines = 2000
	ReadMaxBytes = 50 * 1024
)

// Read result types.
const (
	ResultText  = "text"
	ResultImage = "image"
)

// ReadArgs are the inputs of Read. Offset is 1-based; zero means the start.
type ReadArgs struct {
	Path   string
	Offset int
	Limit  int
	// Raw skips image detection and truncation notices.
	Raw bool
}

// OffsetBeyondEOFError reports a read offset past the last line. It matches
// ErrOffsetBeyondEOF.
type OffsetBeyondEOFError struct {
	Offset int
	Total  int
}

func (e *OffsetBeyondEOFError) Error() string {
	return fmt.Sprintf("Offset %d is beyond end of file (%d lines total)", e.Offset, e.Total)
}

func (e *OffsetBeyondEOFError) Is(target error) bool { return target == ErrOffsetBeyondEOF }

// ReadResult is the outcome of Read.
type ReadResult struct {
	Type        string
	Path        string
	DisplayPath string
	Size        int64

	Content    string
	TotalLines int
	StartLine  int
	EndLine    int
	Truncated  bool

	MimeType string
	Data     []byte
}

var imageMimeTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

// Read returns a window of a text file or the bytes of an image.
func (s *Sandbox) Read(ctx context.Context, args ReadArgs) (*ReadResult, error) {
	if strings.TrimSpace(args.Path) == "" {
		return nil, ErrEmptyPath
	}
	if args.Offset < 0 || args.Limit < 0 {
		return nil, fmt.Errorf("%w: offset and limit must not be negative", ErrInvalidArguments)
	}

	target := s.Resolve(args.Path)
	display := s.DisplayPath(target)

	info, err := os.Lstat(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("file not found: %s: %w", display, err)
		}
		return nil, fmt.Errorf("reading %s: %w", display, err)
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		return nil, fmt.Errorf("%w: %s", ErrSymlink, display)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrNotFile, display)
	}

	real, err := s.resolveExisting(target, s.readRoots)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(real)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", display, err)
	}

	result := &ReadResult{
		Type:        ResultText,
		Path:        real,
		DisplayPath: s.DisplayPath(real),
		Size:        info.Size(),
	}

	if !args.Raw {
		if mime := detectImage(data); mime != "" {
			result.Type = ResultImage
			result.MimeType = mime
			result.Data = data
			result.Content = fmt.Sprintf("Read image file [%s]", mime)
			return result, nil
		}
	}

	lines := strings.Split(string(data), "\n")
	total := len(lines)
	start := 0
	if args.Offset > 0 {
		start = args.Offset - 1
	}
	if start >= total {
		return nil, &OffsetBeyondEOFError{Offset: args.Offset, Total: total}
	}

	end := total
	userLimited := false
	if args.Limit > 0 && start+args.Limit < total {
		end = start + args.Limit
		userLimited = true
	}
	selected := lines[start:end]

	result.TotalLines = total
	result.StartLine = start + 1

	if args.Raw {
		result.Content = strings.Join(selected, "\n")
		result.EndLine = end
		return result, nil
	}

	tr := truncateHead(selected, ReadMaxLines, ReadMaxBytes)
	switch {
	case tr.firstLineTooLarge:
		result.Truncated = true
		result.EndLine = start
		result.Content = fmt.Sprintf("[Line %d is %s, exceeds %s limit. Use exec: sed -n '%dp' %s | head -c %d]",
			start+1, formatSize(len(selected[0])), formatSize(ReadMaxBytes), start+1, display, ReadMaxBytes)
	case tr.truncated:
		last := start + tr.lines
		result.Truncated = true
		result.EndLine = last
		if tr.byLines {
			result.Content = fmt.Sprintf("%s\n\n[Showing lines %d-%d of %d. Use offset=%d to continue.]",
				tr.content, start+1, last, total, last+1)
		} else {
			result.Content = fmt.Sprintf("%s\n\n[Showing lines %d-%d of %d (%s limit). Use offset=%d to continue.]",
				tr.content, start+1, last, total, formatSize(ReadMaxBytes), last+1)
		}
	case userLimited:
		result.EndLine = end
		result.Content = fmt.Sprintf("%s\n\n[%d more lines in file. Use offset=%d to continue.]",
			tr.content, total-end, end+1)
	default:
		result.EndLine = end
		result.Content = tr.content
	}

	return result, nil
}

type headTruncation struct {
	content           string
	lines             int
	truncated         bool
	byLines           bool
	firstLineTooLarge bool
}

// truncateHead keeps whole lines from the start until either limit is hit.
func truncateHead(lines []string, maxLines, maxBytes int) headTruncation {
	if len(lines) > 0 && len(lines[0]) > maxBytes {
		return headTruncation{truncated: true, firstLineTooLarge: true}
	}

	var b strings.Builder
	var out headTruncation
	for i, line := range lines {
		if out.lines >= maxLines {
			out.truncated = true
			out.byLines = true
			break
		}
		size := len(line)
		if i > 0 {
			size++
		}
		if b.Len()+size > maxBytes {
			out.truncated = true
			break
		}
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
		out.lines++
	}
	out.content = b.String()
	return out
}

func detectImage(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	mime := http.DetectContentType(data)
	if imageMimeTypes[mime] {
		return mime
	}
	return ""
}

func formatSize(n int) string {
	return humanize.IBytes(uint64(n))
}
