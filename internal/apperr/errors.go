// Package apperr holds the sentinel errors shared across packages.
package apperr

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// Configuration errors.
	ErrNoGeneratorRoot = errors.New("generator root path is not set")
	ErrNoLauncher      = errors.New("launcher path is not set")

	// Precondition errors.
	ErrNoActiveNote = errors.New("no file open")
	ErrNotMarkdown  = errors.New("not a markdown file")
	ErrInvalidPath  = errors.New("invalid path")
)
