// Package testutil provides shared test helpers for vaults and generator trees.
package testutil

import (
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/hexobridge/internal/notify"
	"github.com/starford/hexobridge/internal/vault"
)

// Logger returns a logger that only emits errors.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// TestVault creates a temporary vault directory.
func TestVault(t *testing.T) *vault.Vault {
	t.Helper()
	v, err := vault.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return v
}

// WriteFile writes content to root/rel, creating parent directories.
func WriteFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

// SeedNote writes a markdown note at the vault root and an assets folder
// named after it holding the given files.
func SeedNote(t *testing.T, v *vault.Vault, name string, assets map[string]string) {
	t.Helper()
	WriteFile(t, v.Root(), name, "# "+name+"\n")
	base := name[:len(name)-len(filepath.Ext(name))]
	if err := os.MkdirAll(filepath.Join(v.Root(), vault.AssetsDirName, base), 0o755); err != nil {
		t.Fatal(err)
	}
	for rel, content := range assets {
		WriteFile(t, filepath.Join(v.Root(), vault.AssetsDirName, base), rel, content)
	}
}

// Snapshot returns every regular file under root keyed by slash-separated
// relative path. A missing root yields an empty map.
func Snapshot(t *testing.T, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && p == root {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, p)
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return out
}

// NoticesAt returns the notices rec holds at level, oldest first.
func NoticesAt(rec *notify.Recorder, level notify.Level) []notify.Notice {
	var out []notify.Notice
	for _, n := range rec.Notices() {
		if n.Level == level {
			out = append(out, n)
		}
	}
	return out
}
