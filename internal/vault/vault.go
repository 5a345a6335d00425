// Package vault resolves notes and their asset folders inside the note vault.
package vault

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/hexobridge/internal/apperr"
	"github.com/starford/hexobridge/internal/models"
)

// AssetsDirName is the vault folder holding one asset subfolder per note.
const AssetsDirName = "assets"

// Vault is a note vault rooted at a local directory.
type Vault struct {
	root string // absolute path to vault directory
}

// New creates a Vault rooted at the given directory.
// The directory must already exist.
func New(root string) (*Vault, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("vault: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("vault: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("vault: root is not a directory: %s", abs)
	}
	return &Vault{root: abs}, nil
}

// Root returns the absolute vault directory.
func (v *Vault) Root() string {
	return v.root
}

// safePath resolves a relative path against the vault root and rejects
// any result that escapes it (directory traversal).
func (v *Vault) safePath(rel string) (string, error) {
	cleaned := filepath.Clean(rel)
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("vault: absolute paths not allowed: %s: %w", rel, apperr.ErrInvalidPath)
	}
	abs, err := filepath.Abs(filepath.Join(v.root, cleaned))
	if err != nil {
		return "", fmt.Errorf("vault: resolve path: %w", err)
	}
	if !strings.HasPrefix(abs, v.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("vault: path escapes vault root: %s: %w", rel, apperr.ErrInvalidPath)
	}
	return abs, nil
}

// Resolve builds a NoteRef for the file at rel (relative to the vault root).
// An absolute path is accepted when it lies inside the vault.
// The file itself is not required to exist.
func (v *Vault) Resolve(rel string) (models.NoteRef, error) {
	if filepath.IsAbs(rel) {
		r, err := filepath.Rel(v.root, rel)
		if err != nil {
			return models.NoteRef{}, fmt.Errorf("vault: relativize %s: %w", rel, err)
		}
		rel = r
	}
	abs, err := v.safePath(rel)
	if err != nil {
		return models.NoteRef{}, err
	}
	name := filepath.Base(abs)
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	relClean, _ := filepath.Rel(v.root, abs)
	return models.NoteRef{
		Path:      filepath.ToSlash(relClean),
		AbsPath:   abs,
		Name:      name,
		BaseName:  base,
		Ext:       strings.TrimPrefix(ext, "."),
		AssetsDir: filepath.Join(v.root, AssetsDirName, base),
	}, nil
}
