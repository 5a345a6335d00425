package vault

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/hexobridge/internal/models"
)

// ActiveTracker remembers which vault file was touched most recently and
// treats it as the note currently focused in the editor.
type ActiveTracker struct {
	vault *Vault

	mu       sync.RWMutex
	active   string // vault-relative, "" when nothing is focused
	excluded string // absolute; events under it are ignored
}

// NewActiveTracker creates a tracker for v with no active note.
func NewActiveTracker(v *Vault) *ActiveTracker {
	return &ActiveTracker{vault: v}
}

// Active returns the focused note, if any.
func (t *ActiveTracker) Active() (models.NoteRef, bool) {
	t.mu.RLock()
	rel := t.active
	t.mu.RUnlock()
	if rel == "" {
		return models.NoteRef{}, false
	}
	ref, err := t.vault.Resolve(rel)
	if err != nil {
		return models.NoteRef{}, false
	}
	return ref, true
}

// SetActive focuses rel explicitly. An empty rel clears the focus.
func (t *ActiveTracker) SetActive(rel string) error {
	if rel != "" {
		ref, err := t.vault.Resolve(rel)
		if err != nil {
			return err
		}
		rel = ref.Path
	}
	t.mu.Lock()
	t.active = rel
	t.mu.Unlock()
	return nil
}

// Exclude ignores every event under dir, so that a generator project kept
// inside the vault never feeds its staged copies back as the active note.
// An empty dir clears the exclusion.
func (t *ActiveTracker) Exclude(dir string) {
	if dir != "" {
		if abs, err := filepath.Abs(dir); err == nil {
			dir = abs
		}
		dir = filepath.Clean(dir)
	}
	t.mu.Lock()
	t.excluded = dir
	t.mu.Unlock()
}

func (t *ActiveTracker) isExcluded(absPath string) bool {
	t.mu.RLock()
	dir := t.excluded
	t.mu.RUnlock()
	if dir == "" {
		return false
	}
	rel, err := filepath.Rel(dir, absPath)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Watch starts an fsnotify watcher on the vault root and updates the active
// note on every create or write until ctx is cancelled. Files under the
// assets folder and hidden files never become active; removing the active
// file clears the focus.
func (t *ActiveTracker) Watch(ctx context.Context, logger *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, t.vault.root, t.isExcluded); err != nil {
		return err
	}

	logger.Info("tracker: started", slog.String("root", t.vault.root))

	for {
		select {
		case <-ctx.Done():
			logger.Info("tracker: stopped")
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			t.handle(w, ev, logger)

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("tracker: error", slog.String("error", watchErr.Error()))
		}
	}
}

func (t *ActiveTracker) handle(w *fsnotify.Watcher, ev fsnotify.Event, logger *slog.Logger) {
	absPath := ev.Name
	if t.isExcluded(absPath) {
		return
	}

	if ev.Op&fsnotify.Create != 0 {
		if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
			if addErr := addDirsRecursive(w, absPath, t.isExcluded); addErr != nil {
				logger.Warn("tracker: add new dir failed",
					slog.String("path", absPath),
					slog.String("error", addErr.Error()))
			}
			return
		}
	}

	rel, relErr := filepath.Rel(t.vault.root, absPath)
	if relErr != nil || ignored(rel) {
		return
	}
	rel = filepath.ToSlash(rel)

	switch {
	case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
		t.mu.Lock()
		changed := t.active != rel
		t.active = rel
		t.mu.Unlock()
		if changed {
			logger.Debug("tracker: active note", slog.String("path", rel))
		}

	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		t.mu.Lock()
		if t.active == rel {
			t.active = ""
		}
		t.mu.Unlock()
	}
}

// ignored reports whether a vault-relative path can never be the active note.
func ignored(rel string) bool {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if parts[0] == AssetsDirName {
		return true
	}
	for _, p := range parts {
		if strings.HasPrefix(p, ".") {
			return true
		}
	}
	return false
}

// addDirsRecursive adds root and all its subdirectories to the watcher,
// except hidden ones and those skip reports.
func addDirsRecursive(w *fsnotify.Watcher, root string, skip func(string) bool) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			if skip(path) {
				return filepath.SkipDir
			}
			return w.Add(path)
		}
		return nil
	})
}
