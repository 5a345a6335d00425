// Package stager copies a note and its asset folder into the generator's
// source tree.
package stager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/starford/hexobridge/internal/apperr"
	"github.com/starford/hexobridge/internal/checksum"
	"github.com/starford/hexobridge/internal/models"
)

// copyLimit bounds concurrent file copies within one Stage call.
const copyLimit = 8

// Stager writes into <root>/source/<_drafts|_posts>.
type Stager struct {
	root   string
	logger *slog.Logger
}

// New returns a Stager for the generator project at root. The root is not
// checked for existence.
func New(root string, logger *slog.Logger) *Stager {
	return &Stager{root: root, logger: logger}
}

// SourceDir returns <root>/source/<target>.
func (s *Stager) SourceDir(target models.StagingTarget) string {
	return filepath.Join(s.root, "source", target.Dir())
}

// Destination returns the folder a note is staged into.
func (s *Stager) Destination(target models.StagingTarget, note models.NoteRef) string {
	return filepath.Join(s.SourceDir(target), note.BaseName)
}

// Stage copies the note's assets folder and the note itself into
// <root>/source/<target>/<basename>/. A nil note fails with
// apperr.ErrNoActiveNote and a non-markdown note with apperr.ErrNotMarkdown;
// neither touches the filesystem. A missing assets folder fails the stage.
func (s *Stager) Stage(ctx context.Context, target models.StagingTarget, note *models.NoteRef) (models.NoteRef, error) {
	if note == nil {
		return models.NoteRef{}, apperr.ErrNoActiveNote
	}
	if !note.IsMarkdown() {
		return *note, apperr.ErrNotMarkdown
	}

	dest := s.Destination(target, *note)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(copyLimit)

	if err := s.copyTree(gCtx, g, note.AssetsDir, dest); err != nil {
		_ = g.Wait()
		return *note, err
	}
	g.Go(func() error {
		return s.copyFile(gCtx, note.AbsPath, filepath.Join(dest, note.Name))
	})
	if err := g.Wait(); err != nil {
		return *note, err
	}

	s.logger.Info("stager: staged note",
		slog.String("note", note.Path),
		slog.String("target", target.String()),
		slog.String("dest", dest))
	return *note, nil
}

// RemoveDrafts deletes <root>/source/_drafts recursively. A missing folder is
// not an error.
func (s *Stager) RemoveDrafts(_ context.Context) error {
	dir := s.SourceDir(models.TargetDraft)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("stager: remove drafts: %w", err)
	}
	s.logger.Info("stager: removed drafts", slog.String("dir", dir))
	return nil
}

// copyTree schedules a copy of every file under src onto g. Directories are
// created synchronously so that the walk itself reports a missing src.
// Symbolic links are followed.
func (s *Stager) copyTree(ctx context.Context, g *errgroup.Group, src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stager: assets %s: %w", src, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("stager: assets %s: not a directory", src)
	}
	real, err := filepath.EvalSymlinks(src)
	if err != nil {
		return fmt.Errorf("stager: assets %s: %w", src, err)
	}
	return s.walk(ctx, g, src, dst, map[string]bool{real: true})
}

// walk copies the tree at src into dst. seen holds the resolved paths of the
// directories on the current path and guards against link cycles.
func (s *Stager) walk(ctx context.Context, g *errgroup.Group, src, dst string, seen map[string]bool) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return fmt.Errorf("stager: walk %s: %w", p, walkErr)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch mode := d.Type(); {
		case d.IsDir():
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("stager: mkdir %s: %w", target, err)
			}
			return nil
		case mode&fs.ModeSymlink != 0:
			return s.link(ctx, g, p, target, seen)
		case !mode.IsRegular():
			return fmt.Errorf("stager: copy %s: unsupported file type %s", p, mode)
		}
		g.Go(func() error {
			return s.copyFile(ctx, p, target)
		})
		return nil
	})
}

// link copies whatever the symbolic link at p points to.
func (s *Stager) link(ctx context.Context, g *errgroup.Group, p, target string, seen map[string]bool) error {
	info, err := os.Stat(p)
	if err != nil {
		return fmt.Errorf("stager: follow %s: %w", p, err)
	}
	switch {
	case info.Mode().IsRegular():
		g.Go(func() error {
			return s.copyFile(ctx, p, target)
		})
		return nil
	case !info.IsDir():
		return fmt.Errorf("stager: copy %s: unsupported file type %s", p, info.Mode().Type())
	}

	real, err := filepath.EvalSymlinks(p)
	if err != nil {
		return fmt.Errorf("stager: follow %s: %w", p, err)
	}
	if seen[real] {
		return fmt.Errorf("stager: follow %s: symlink cycle", p)
	}
	seen[real] = true
	defer delete(seen, real)
	return s.walk(ctx, g, p, target, seen)
}

// copyFile copies src to dst unless dst already has identical content.
// The write goes through a temp file and a rename.
func (s *Stager) copyFile(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stager: copy %s: %w", src, err)
	}
	perm := srcInfo.Mode().Perm()
	srcSum, err := checksum.File(src)
	if err != nil {
		return fmt.Errorf("stager: copy %s: %w", src, err)
	}
	if dstSum, err := checksum.File(dst); err == nil && dstSum == srcSum {
		s.logger.Debug("stager: unchanged", slog.String("path", dst))
		if err := os.Chmod(dst, perm); err != nil {
			return fmt.Errorf("stager: chmod %s: %w", dst, err)
		}
		return nil
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stager: inspect %s: %w", dst, err)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("stager: open %s: %w", src, err)
	}
	defer in.Close()

	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("stager: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".hexobridge-tmp-*")
	if err != nil {
		return fmt.Errorf("stager: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, in); err != nil {
		return fmt.Errorf("stager: copy %s: %w", src, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return fmt.Errorf("stager: chmod temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("stager: close temp: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return fmt.Errorf("stager: rename: %w", err)
	}
	success = true
	return nil
}
