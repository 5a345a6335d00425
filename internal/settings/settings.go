// Package settings persists the user-editable generator settings.
package settings

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/hexobridge/internal/apperr"
)

// DefaultPreviewPort is the port hexo serve listens on unless configured.
const DefaultPreviewPort = 4000

// Settings is the persisted plugin configuration.
type Settings struct {
	GeneratorRoot string `yaml:"generator_root" json:"generator_root"`
	LauncherPath  string `yaml:"launcher_path" json:"launcher_path"`
	PreviewPort   int    `yaml:"preview_port" json:"preview_port"`
}

// Defaults returns the settings used for every key that has not been saved.
func Defaults() Settings {
	return Settings{PreviewPort: DefaultPreviewPort}
}

// PreviewURL is the address the preview frame navigates to.
func (s Settings) PreviewURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", s.PreviewPort)
}

// RequireGeneratorRoot fails with apperr.ErrNoGeneratorRoot when the root is blank.
// Existence of the directory is not checked.
func (s Settings) RequireGeneratorRoot() error {
	root := strings.TrimSpace(s.GeneratorRoot)
	if err := validation.Validate(root, validation.Required); err != nil {
		return apperr.ErrNoGeneratorRoot
	}
	return nil
}

// Store loads and saves Settings.
type Store interface {
	Load(ctx context.Context) (Settings, error)
	Save(ctx context.Context, s Settings) error
}

// partial mirrors Settings with optional fields so that absent keys can be told
// apart from zero values.
type partial struct {
	GeneratorRoot *string `yaml:"generator_root"`
	LauncherPath  *string `yaml:"launcher_path"`
	PreviewPort   *int    `yaml:"preview_port"`
}

// merge overlays the keys present in p on top of Defaults.
func (p partial) merge() Settings {
	s := Defaults()
	if p.GeneratorRoot != nil {
		s.GeneratorRoot = *p.GeneratorRoot
	}
	if p.LauncherPath != nil {
		s.LauncherPath = *p.LauncherPath
	}
	if p.PreviewPort != nil {
		s.PreviewPort = *p.PreviewPort
	}
	return s
}

// lookPath is swapped in tests.
var lookPath = exec.LookPath

// ResolveLauncher fills a blank launcher path with npx from PATH and saves it.
func ResolveLauncher(ctx context.Context, store Store, s Settings) (Settings, error) {
	if strings.TrimSpace(s.LauncherPath) != "" {
		return s, nil
	}
	npx, err := lookPath("npx")
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return s, apperr.ErrNoLauncher
		}
		return s, fmt.Errorf("settings: look up npx: %w", err)
	}
	s.LauncherPath = npx
	if err := store.Save(ctx, s); err != nil {
		return s, err
	}
	return s, nil
}
