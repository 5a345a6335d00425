package settings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileStore keeps settings in a YAML document on disk.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by the YAML file at path. The file need
// not exist yet.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the file and merges it over Defaults. A missing file yields Defaults.
func (f *FileStore) Load(_ context.Context) (Settings, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Defaults(), nil
		}
		return Settings{}, fmt.Errorf("settings: read %s: %w", f.path, err)
	}
	var p partial
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Settings{}, fmt.Errorf("settings: parse %s: %w", f.path, err)
	}
	return p.merge(), nil
}

// Save atomically writes the full settings object: tmp file → fsync → rename.
func (f *FileStore) Save(_ context.Context, s Settings) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("settings: encode: %w", err)
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("settings: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".hexobridge-settings-*")
	if err != nil {
		return fmt.Errorf("settings: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("settings: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("settings: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("settings: close temp: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("settings: rename: %w", err)
	}
	success = true
	return nil
}
