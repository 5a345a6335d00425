package vault

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/hexobridge/internal/apperr"
)

func tempVault(t *testing.T) *Vault {
	t.Helper()
	v, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return v
}

func TestResolve(t *testing.T) {
	v := tempVault(t)
	ref, err := v.Resolve("blog/post.md")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ref.Path != "blog/post.md" {
		t.Errorf("Path = %q", ref.Path)
	}
	if ref.Name != "post.md" || ref.BaseName != "post" || ref.Ext != "md" {
		t.Errorf("name parts = %q %q %q", ref.Name, ref.BaseName, ref.Ext)
	}
	if ref.AbsPath != filepath.Join(v.Root(), "blog", "post.md") {
		t.Errorf("AbsPath = %q", ref.AbsPath)
	}
	if ref.AssetsDir != filepath.Join(v.Root(), "assets", "post") {
		t.Errorf("AssetsDir = %q", ref.AssetsDir)
	}
	if !ref.IsMarkdown() {
		t.Error("expected markdown")
	}
}

func TestResolve_AbsoluteInsideVault(t *testing.T) {
	v := tempVault(t)
	ref, err := v.Resolve(filepath.Join(v.Root(), "a.md"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ref.Path != "a.md" {
		t.Errorf("Path = %q", ref.Path)
	}
}

func TestResolve_NonMarkdown(t *testing.T) {
	v := tempVault(t)
	ref, err := v.Resolve("image.png")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ref.IsMarkdown() {
		t.Error("png should not be markdown")
	}
}

func TestTraversalBlocked(t *testing.T) {
	v := tempVault(t)
	for _, p := range []string{"../../etc/passwd", "../outside.md", "/etc/shadow", "", "."} {
		if _, err := v.Resolve(p); !errors.Is(err, apperr.ErrInvalidPath) {
			t.Errorf("path %q: err = %v, want ErrInvalidPath", p, err)
		}
	}
}

func TestNew_NonExistentDir(t *testing.T) {
	if _, err := New("/tmp/hexobridge-does-not-exist-" + t.Name()); err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNew_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp("", "hexobridge-test-*")
	_ = f.Close()
	defer os.Remove(f.Name())
	if _, err := New(f.Name()); err == nil {
		t.Error("expected error when root is a file")
	}
}

func TestActiveTracker_SetActive(t *testing.T) {
	v := tempVault(t)
	tr := NewActiveTracker(v)
	if _, ok := tr.Active(); ok {
		t.Fatal("expected no active note")
	}
	if err := tr.SetActive("notes/a.md"); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	ref, ok := tr.Active()
	if !ok || ref.Path != "notes/a.md" {
		t.Errorf("active = %+v, %v", ref, ok)
	}
	if err := tr.SetActive("../x.md"); err == nil {
		t.Error("expected traversal error")
	}
	_ = tr.SetActive("")
	if _, ok := tr.Active(); ok {
		t.Error("expected focus cleared")
	}
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func TestActiveTracker_WatchFollowsWrites(t *testing.T) {
	v := tempVault(t)
	tr := NewActiveTracker(v)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Watch(ctx, logger)
	time.Sleep(100 * time.Millisecond)

	_ = os.WriteFile(filepath.Join(v.Root(), "first.md"), []byte("# one"), 0o644)
	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		ref, ok := tr.Active()
		return ok && ref.Path == "first.md"
	}, "first.md did not become active")

	// Asset writes never steal focus.
	_ = os.MkdirAll(filepath.Join(v.Root(), "assets", "first"), 0o755)
	time.Sleep(100 * time.Millisecond)
	_ = os.WriteFile(filepath.Join(v.Root(), "assets", "first", "img.png"), []byte("png"), 0o644)
	time.Sleep(200 * time.Millisecond)
	if ref, _ := tr.Active(); ref.Path != "first.md" {
		t.Errorf("asset write changed active note to %q", ref.Path)
	}

	_ = os.Remove(filepath.Join(v.Root(), "first.md"))
	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		_, ok := tr.Active()
		return !ok
	}, "removing the active note should clear focus")
}

func TestActiveTracker_WatchNewSubdir(t *testing.T) {
	v := tempVault(t)
	tr := NewActiveTracker(v)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Watch(ctx, logger)
	time.Sleep(100 * time.Millisecond)

	sub := filepath.Join(v.Root(), "sub")
	_ = os.MkdirAll(sub, 0o755)
	time.Sleep(200 * time.Millisecond)
	_ = os.WriteFile(filepath.Join(sub, "deep.md"), []byte("# deep"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		ref, ok := tr.Active()
		return ok && ref.Path == "sub/deep.md"
	}, "file in new subdir did not become active")
}

func TestActiveTracker_IgnoresExcludedDir(t *testing.T) {
	v := tempVault(t)
	tr := NewActiveTracker(v)
	blog := filepath.Join(v.Root(), "blog")
	_ = os.MkdirAll(filepath.Join(blog, "source"), 0o755)
	tr.Exclude(blog)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Watch(ctx, logger)
	time.Sleep(100 * time.Millisecond)

	_ = os.WriteFile(filepath.Join(v.Root(), "post.md"), []byte("# post"), 0o644)
	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		ref, ok := tr.Active()
		return ok && ref.Path == "post.md"
	}, "post.md did not become active")

	// A staged copy appearing under the generator root keeps the focus.
	staged := filepath.Join(blog, "source", "_drafts", "post")
	_ = os.MkdirAll(staged, 0o755)
	time.Sleep(100 * time.Millisecond)
	_ = os.WriteFile(filepath.Join(staged, "post.md"), []byte("# post"), 0o644)
	_ = os.WriteFile(filepath.Join(blog, "source", "top.md"), []byte("# top"), 0o644)
	time.Sleep(300 * time.Millisecond)
	if ref, _ := tr.Active(); ref.Path != "post.md" {
		t.Errorf("staged copy changed active note to %q", ref.Path)
	}

	// Clearing the exclusion lets notes outside the old root through again.
	tr.Exclude("")
	_ = os.WriteFile(filepath.Join(v.Root(), "next.md"), []byte("# next"), 0o644)
	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		ref, ok := tr.Active()
		return ok && ref.Path == "next.md"
	}, "next.md did not become active")
}
