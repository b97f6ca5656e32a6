// ABOUTME: Tests for the sandbox Read operation
// ABOUTME: Covers offsets, limits, truncation notices, images and rejections

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func numberedLines(n int) string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("line %d", i+1)
	}
	return strings.Join(lines, "\n")
}

func TestRead_WholeFile(t *testing.T) {
	sb := newTestSandbox(t)
	writeTestFile(t, filepath.Join(sb.HomeDir(), "a.txt"), "one\ntwo\nthree")

	res, err := sb.Read(context.Background(), ReadArgs{Path: "~/a.txt"})
	require.NoError(t, err)

	assert.Equal(t, ResultText, res.Type)
	assert.Equal(t, "one\ntwo\nthree", res.Content)
	assert.Equal(t, 3, res.TotalLines)
	assert.Equal(t, 1, res.StartLine)
	assert.Equal(t, 3, res.EndLine)
	assert.False(t, res.Truncated)
}

func TestRead_OffsetAndLimit(t *testing.T) {
	sb := newTestSandbox(t)
	writeTestFile(t, filepath.Join(sb.HomeDir(), "n.txt"), numberedLines(10))

	res, err := sb.Read(context.Background(), ReadArgs{Path: "n.txt", Offset: 3, Limit: 2})
	require.NoError(t, err)

	assert.Equal(t, "line 3\nline 4\n\n[6 more lines in file. Use offset=5 to continue.]", res.Content)
	assert.Equal(t, 3, res.StartLine)
	assert.Equal(t, 4, res.EndLine)
}

func TestRead_OffsetBeyondEnd(t *testing.T) {
	sb := newTestSandbox(t)
	writeTestFile(t, filepath.Join(sb.HomeDir(), "short.txt"), "a\nb")

	_, err := sb.Read(context.Background(), ReadArgs{Path: "short.txt", Offset: 5})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOffsetBeyondEOF))
	assert.Equal(t, "Offset 5 is beyond end of file (2 lines total)", err.Error())

	var offErr *OffsetBeyondEOFError
	require.True(t, errors.As(err, &offErr))
	assert.Equal(t, 5, offErr.Offset)
	assert.Equal(t, 2, offErr.Total)
}

func TestRead_LineLimitNotice(t *testing.T) {
	sb := newTestSandbox(t)
	writeTestFile(t, filepath.Join(sb.HomeDir(), "big.txt"), numberedLines(ReadMaxLines+500))

	res, err := sb.Read(context.Background(), ReadArgs{Path: "big.txt"})
	require.NoError(t, err)

	assert.True(t, res.Truncated)
	assert.Equal(t, ReadMaxLines, res.EndLine)
	assert.True(t, strings.HasSuffix(res.Content,
		fmt.Sprintf("[Showing lines 1-%d of %d. Use offset=%d to continue.]", ReadMaxLines, ReadMaxLines+500, ReadMaxLines+1)))
}

func TestRead_ByteLimitNotice(t *testing.T) {
	sb := newTestSandbox(t)
	line := strings.Repeat("x", 1023)
	lines := make([]string, 100)
	for i := range lines {
		lines[i] = line
	}
	writeTestFile(t, filepath.Join(sb.HomeDir(), "wide.txt"), strings.Join(lines, "\n"))

	res, err := sb.Read(context.Background(), ReadArgs{Path: "wide.txt"})
	require.NoError(t, err)

	// 50 lines of 1023 bytes plus 49 newlines fit exactly in 50 KiB.
	assert.True(t, res.Truncated)
	assert.Equal(t, 50, res.EndLine)
	assert.Contains(t, res.Content, "[Showing lines 1-50 of 100 (50 KiB limit). Use offset=51 to continue.]")
}

func TestRead_FirstLineTooLarge(t *testing.T) {
	sb := newTestSandbox(t)
	writeTestFile(t, filepath.Join(sb.HomeDir(), "huge.txt"), strings.Repeat("y", ReadMaxBytes+10)+"\nnext")

	res, err := sb.Read(context.Background(), ReadArgs{Path: "huge.txt"})
	require.NoError(t, err)

	assert.True(t, res.Truncated)
	assert.True(t, strings.HasPrefix(res.Content, "[Line 1 is "))
	assert.Contains(t, res.Content, "exceeds 50 KiB limit")
	assert.Contains(t, res.Content, "sed -n '1p' huge.txt")
}

func TestRead_Raw(t *testing.T) {
	sb := newTestSandbox(t)
	writeTestFile(t, filepath.Join(sb.HomeDir(), "n.txt"), numberedLines(5))

	res, err := sb.Read(context.Background(), ReadArgs{Path: "n.txt", Offset: 2, Limit: 2, Raw: true})
	require.NoError(t, err)
	assert.Equal(t, "line 2\nline 3", res.Content)
}

func TestRead_Image(t *testing.T) {
	sb := newTestSandbox(t)
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	require.NoError(t, os.WriteFile(filepath.Join(sb.HomeDir(), "pic.png"), png, 0644))

	res, err := sb.Read(context.Background(), ReadArgs{Path: "~/pic.png"})
	require.NoError(t, err)

	assert.Equal(t, ResultImage, res.Type)
	assert.Equal(t, "image/png", res.MimeType)
	assert.Equal(t, png, res.Data)
}

func TestRead_Rejections(t *testing.T) {
	sb := newTestSandbox(t)
	writeTestFile(t, filepath.Join(sb.HomeDir(), "target.txt"), "x")
	require.NoError(t, os.Mkdir(filepath.Join(sb.HomeDir(), "dir"), 0755))
	symlinkErr := os.Symlink(filepath.Join(sb.HomeDir(), "target.txt"), filepath.Join(sb.HomeDir(), "link.txt"))

	t.Run("empty path", func(t *testing.T) {
		_, err := sb.Read(context.Background(), ReadArgs{})
		assert.ErrorIs(t, err, ErrEmptyPath)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := sb.Read(context.Background(), ReadArgs{Path: "nope.txt"})
		require.Error(t, err)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("directory", func(t *testing.T) {
		_, err := sb.Read(context.Background(), ReadArgs{Path: "dir"})
		assert.ErrorIs(t, err, ErrNotFile)
	})

	t.Run("symlink", func(t *testing.T) {
		if symlinkErr != nil {
			t.Skipf("symlinks unsupported: %v", symlinkErr)
		}
		_, err := sb.Read(context.Background(), ReadArgs{Path: "link.txt"})
		assert.ErrorIs(t, err, ErrSymlink)
	})

	t.Run("outside sandbox", func(t *testing.T) {
		outside := filepath.Join(t.TempDir(), "o.txt")
		writeTestFile(t, outside, "o")
		_, err := sb.Read(context.Background(), ReadArgs{Path: outside})
		assert.ErrorIs(t, err, ErrOutsideSandbox)
	})

	t.Run("negative offset", func(t *testing.T) {
		_, err := sb.Read(context.Background(), ReadArgs{Path: "target.txt", Offset: -1})
		assert.ErrorIs(t, err, ErrInvalidArguments)
	})
}
