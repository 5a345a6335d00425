// Package models defines the domain types shared by hexobridge packages.
package models

import (
	"strings"
	"time"
)

// StagingTarget selects the generator source subfolder a note is copied into.
type StagingTarget int

const (
	TargetDraft StagingTarget = iota
	TargetPost
)

// Dir returns the subfolder name under <generator root>/source.
func (t StagingTarget) Dir() string {
	if t == TargetPost {
		return "_posts"
	}
	return "_drafts"
}

func (t StagingTarget) String() string {
	if t == TargetPost {
		return "post"
	}
	return "draft"
}

// NoteRef identifies a note in the vault together with its asset folder.
type NoteRef struct {
	Path      string `json:"path"` // relative to vault root
	AbsPath   string `json:"-"`
	Name      string `json:"name"`      // file name with extension
	BaseName  string `json:"base_name"` // file name without extension
	Ext       string `json:"ext"`       // extension without the dot
	AssetsDir string `json:"-"`
}

// IsMarkdown reports whether the note has an "md" extension.
func (n NoteRef) IsMarkdown() bool {
	return strings.EqualFold(n.Ext, "md")
}

// Role names a supervised child process slot.
type Role string

const (
	RolePreview Role = "preview"
	RolePublish Role = "publish"
)

// State is the lifecycle state of a supervised role.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateReady    State = "ready" // running and readiness marker seen
	StateExited   State = "exited"
)

// ProcessStatus is a snapshot of one role's slot.
type ProcessStatus struct {
	Role      Role      `json:"role"`
	State     State     `json:"state"`
	PID       int       `json:"pid,omitempty"`
	ExitCode  *int      `json:"exit_code"`
	StartedAt time.Time `json:"started_at,omitempty"`
}
