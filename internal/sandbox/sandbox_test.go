// ABOUTME: Tests for sandbox construction and path containment
// ABOUTME: Covers "~" and "@" expansion, display paths and symlink escapes

package sandbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestSandbox(t *testing.T) *Sandbox {
	t.Helper()
	sb, err := New(Config{HomeDir: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to create sandbox: %v", err)
	}
	return sb
}

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestNew_RequiresHome(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for empty home dir")
	}
}

func TestNew_CreatesDirectories(t *testing.T) {
	base := t.TempDir()
	home := filepath.Join(base, "home")
	work := filepath.Join(base, "work")

	sb, err := New(Config{HomeDir: home, WorkingDir: work})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for _, dir := range []string{home, work} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("expected %s to be created", dir)
		}
	}
	if sb.execTimeout != DefaultExecTimeout {
		t.Errorf("exec timeout = %v, want %v", sb.execTimeout, DefaultExecTimeout)
	}
}

func TestResolve(t *testing.T) {
	sb := newTestSandbox(t)
	home := sb.HomeDir()

	tests := []struct {
		in   string
		want string
	}{
		{"~", home},
		{"~/notes/a.md", filepath.Join(home, "notes", "a.md")},
		{"@~/a.txt", filepath.Join(home, "a.txt")},
		{"rel/b.txt", filepath.Join(sb.WorkingDir(), "rel", "b.txt")},
		{"/etc/../tmp/x", "/tmp/x"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := sb.Resolve(tt.in); got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDisplayAndHomePath(t *testing.T) {
	base := t.TempDir()
	sb, err := New(Config{HomeDir: filepath.Join(base, "home"), WorkingDir: filepath.Join(base, "work")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	inWork := filepath.Join(sb.WorkingDir(), "src", "main.go")
	if got := sb.DisplayPath(inWork); got != filepath.Join("src", "main.go") {
		t.Errorf("DisplayPath(work) = %q", got)
	}

	inHome := filepath.Join(sb.HomeDir(), "outputs", "x.md")
	if got := sb.DisplayPath(inHome); got != "~/outputs/x.md" {
		t.Errorf("DisplayPath(home) = %q", got)
	}
	if got := sb.HomePath(sb.HomeDir()); got != "~" {
		t.Errorf("HomePath(home) = %q", got)
	}
	if got := sb.HomePath("/elsewhere"); got != "/elsewhere" {
		t.Errorf("HomePath(outside) = %q", got)
	}
}

func TestRead_SymlinkEscapeRejected(t *testing.T) {
	sb := newTestSandbox(t)
	outside := t.TempDir()
	writeTestFile(t, filepath.Join(outside, "secret.txt"), "secret")

	linkDir := filepath.Join(sb.HomeDir(), "escape")
	if err := os.Symlink(outside, linkDir); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	_, err := sb.Read(context.Background(), ReadArgs{Path: "~/escape/secret.txt"})
	if !errors.Is(err, ErrOutsideSandbox) {
		t.Errorf("expected ErrOutsideSandbox, got %v", err)
	}

	_, err = sb.Write(context.Background(), WriteArgs{Path: "~/escape/new.txt", Content: []byte("x")})
	if !errors.Is(err, ErrOutsideSandbox) {
		t.Errorf("expected ErrOutsideSandbox on write, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(outside, "new.txt")); statErr == nil {
		t.Error("write escaped the sandbox")
	}
}

func TestReadDirs_AreReadOnly(t *testing.T) {
	base := t.TempDir()
	shared := filepath.Join(base, "shared")
	writeTestFile(t, filepath.Join(shared, "ref.txt"), "reference")

	sb, err := New(Config{HomeDir: filepath.Join(base, "home"), ReadDirs: []string{shared}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := sb.Read(context.Background(), ReadArgs{Path: filepath.Join(shared, "ref.txt")})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if res.Content != "reference" {
		t.Errorf("content = %q", res.Content)
	}

	_, err = sb.Write(context.Background(), WriteArgs{Path: filepath.Join(shared, "new.txt"), Content: []byte("x")})
	if !errors.Is(err, ErrOutsideSandbox) {
		t.Errorf("expected ErrOutsideSandbox writing to read dir, got %v", err)
	}
}

func TestWriteDirs_AreWritable(t *testing.T) {
	base := t.TempDir()
	extra := filepath.Join(base, "extra")

	sb, err := New(Config{HomeDir: filepath.Join(base, "home"), WriteDirs: []string{extra}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	target := filepath.Join(extra, "deep", "file.txt")
	if _, err := sb.Write(context.Background(), WriteArgs{Path: target, Content: []byte("ok")}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := os.ReadFile(target)
	if err != nil || string(data) != "ok" {
		t.Errorf("file content = %q, err = %v", data, err)
	}
}
