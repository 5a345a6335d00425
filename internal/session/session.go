// Package session ties the settings, stager, supervisor and panel together
// for one running instance of hexobridge.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/starford/hexobridge/internal/apperr"
	"github.com/starford/hexobridge/internal/models"
	"github.com/starford/hexobridge/internal/notify"
	"github.com/starford/hexobridge/internal/panel"
	"github.com/starford/hexobridge/internal/settings"
	"github.com/starford/hexobridge/internal/stager"
	"github.com/starford/hexobridge/internal/supervisor"
	"github.com/starford/hexobridge/internal/vault"
)

// ReadyMarker is printed by hexo serve once the local server is listening.
const ReadyMarker = "Press Ctrl+C to stop."

// PreviewArgs is the argument list for the preview process.
func PreviewArgs(port int) []string {
	return []string{"hexo", "serve", "--draft", "-g", "-i", "127.0.0.1", "-p", strconv.Itoa(port)}
}

// PublishArgs is the argument list for the publish process.
func PublishArgs() []string {
	return []string{"hexo", "deploy", "-g"}
}

// Options configures a Session.
type Options struct {
	Store    settings.Store
	Vault    *vault.Vault
	Tracker  *vault.ActiveTracker // optional
	Spawner  supervisor.Spawner
	Notifier notify.Notifier
	Events   panel.Publisher // optional
	Opener   panel.Opener    // optional
	BaseURL  string          // control server URL for panel links
	Logger   *slog.Logger
}

// Status is a snapshot of the whole session.
type Status struct {
	Settings settings.Settings    `json:"settings"`
	Preview  models.ProcessStatus `json:"preview"`
	Publish  models.ProcessStatus `json:"publish"`
	Panel    *panel.Instance      `json:"panel"`
	Active   *models.NoteRef      `json:"active"`
}

type pendingPublish struct {
	note   models.NoteRef
	stager *stager.Stager
}

// Session is the explicit context for one run: current settings, the
// process slots and the panel. Close tears it down.
type Session struct {
	store    settings.Store
	vault    *vault.Vault
	tracker  *vault.ActiveTracker
	notifier notify.Notifier
	logger   *slog.Logger

	sup   *supervisor.Supervisor
	panel *panel.Manager

	// mu guards the fields below. It is never held while calling into sup,
	// because supervisor hooks take it from the supervisor's loop.
	mu       sync.Mutex
	settings settings.Settings
	publish  *pendingPublish
}

// New loads settings and starts the supervisor. A launcher that cannot be
// resolved is reported but does not fail construction.
func New(ctx context.Context, opts Options) (*Session, error) {
	st, err := opts.Store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: load settings: %w", err)
	}

	s := &Session{
		store:    opts.Store,
		vault:    opts.Vault,
		tracker:  opts.Tracker,
		notifier: opts.Notifier,
		logger:   opts.Logger,
	}

	st, err = settings.ResolveLauncher(ctx, opts.Store, st)
	switch {
	case errors.Is(err, apperr.ErrNoLauncher):
		notify.Error(s.notifier, "You need to set npx path in settings first.")
	case err != nil:
		s.logger.Warn("session: resolve launcher failed", slog.String("error", err.Error()))
	}
	s.settings = st
	s.excludeGeneratorRoot(st)

	s.sup = supervisor.New(opts.Spawner, opts.Notifier, opts.Logger, map[models.Role]supervisor.RoleConfig{
		models.RolePreview: {
			Label:       "Local Hexo Server",
			ReadyMarker: ReadyMarker,
			OnReady:     s.onPreviewReady,
			ExitNotice:  "Local Hexo Server Stopped",
		},
		models.RolePublish: {
			Label:  "Hexo Publish",
			OnExit: s.onPublishExit,
		},
	})
	s.panel = panel.NewManager(opts.Events, s.sup, opts.Opener, opts.BaseURL, opts.Logger)

	s.logger.Info("session: started",
		slog.String("generator_root", st.GeneratorRoot),
		slog.String("launcher", st.LauncherPath),
		slog.Int("preview_port", st.PreviewPort))
	return s, nil
}

// Close detaches the panel and interrupts any live child processes.
func (s *Session) Close() {
	s.panel.Detach()
	s.sup.Close()
	s.logger.Info("session: closed")
}

// Panel exposes the panel manager for the page handler.
func (s *Session) Panel() *panel.Manager {
	return s.panel
}

// Settings returns the current settings.
func (s *Session) Settings() settings.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// UpdateSettings persists st and makes it current. No validation happens
// here; a bad port fails later when the preview uses it.
func (s *Session) UpdateSettings(ctx context.Context, st settings.Settings) error {
	if err := s.store.Save(ctx, st); err != nil {
		return fmt.Errorf("session: save settings: %w", err)
	}
	s.mu.Lock()
	s.settings = st
	s.mu.Unlock()
	s.excludeGeneratorRoot(st)
	s.logger.Info("session: settings saved",
		slog.String("generator_root", st.GeneratorRoot),
		slog.String("launcher", st.LauncherPath),
		slog.Int("preview_port", st.PreviewPort))
	return nil
}

// SetActive focuses a vault note for later actions that name no note.
func (s *Session) SetActive(rel string) error {
	if s.tracker == nil {
		return fmt.Errorf("session: no active note tracking")
	}
	return s.tracker.SetActive(rel)
}

// Preview stages the note as a draft and (re)starts the preview server.
// An empty notePath uses the active note.
func (s *Session) Preview(ctx context.Context, notePath string) (models.NoteRef, error) {
	notify.Info(s.notifier, "Preview Current Note")
	st := s.Settings()
	if err := s.checkConfig(st); err != nil {
		return models.NoteRef{}, err
	}

	s.panel.Detach()

	note, err := s.stage(ctx, st, models.TargetDraft, notePath)
	if err != nil {
		return note, err
	}

	cmd := supervisor.Command{Launcher: st.LauncherPath, Args: PreviewArgs(st.PreviewPort), Dir: st.GeneratorRoot}
	if err := s.sup.Start(ctx, models.RolePreview, cmd); err != nil {
		return note, err
	}
	return note, nil
}

// Publish stages the note as a post and runs the deploy. Drafts are removed
// once the deploy exits with code 0.
func (s *Session) Publish(ctx context.Context, notePath string) (models.NoteRef, error) {
	notify.Info(s.notifier, "Publish Current Note")
	st := s.Settings()
	if err := s.checkConfig(st); err != nil {
		return models.NoteRef{}, err
	}

	note, err := s.stage(ctx, st, models.TargetPost, notePath)
	if err != nil {
		return note, err
	}

	s.mu.Lock()
	s.publish = &pendingPublish{note: note, stager: stager.New(st.GeneratorRoot, s.logger)}
	s.mu.Unlock()

	cmd := supervisor.Command{Launcher: st.LauncherPath, Args: PublishArgs(), Dir: st.GeneratorRoot}
	if err := s.sup.Start(ctx, models.RolePublish, cmd); err != nil {
		s.mu.Lock()
		s.publish = nil
		s.mu.Unlock()
		return note, err
	}
	return note, nil
}

// StopPreview interrupts the preview server. See supervisor.Supervisor.Stop
// for the returned errors.
func (s *Session) StopPreview() error {
	s.panel.Detach()
	return s.sup.Stop(models.RolePreview)
}

// ClosePanel closes the panel instance id, stopping the preview.
func (s *Session) ClosePanel(id string) error {
	return s.panel.Close(id)
}

// Wait blocks until the current process of role exits or ctx is done.
// It returns immediately when nothing was started.
func (s *Session) Wait(ctx context.Context, role models.Role) (models.ProcessStatus, error) {
	select {
	case <-s.sup.Done(role):
	case <-ctx.Done():
		return s.sup.Status(role), ctx.Err()
	}
	return s.sup.Status(role), nil
}

// Status returns a snapshot of settings, processes, panel and active note.
func (s *Session) Status() Status {
	out := Status{
		Settings: s.Settings(),
		Preview:  s.sup.Status(models.RolePreview),
		Publish:  s.sup.Status(models.RolePublish),
	}
	if inst, ok := s.panel.Current(); ok {
		out.Panel = &inst
	}
	if s.tracker != nil {
		if ref, ok := s.tracker.Active(); ok {
			out.Active = &ref
		}
	}
	return out
}

// excludeGeneratorRoot keeps staged copies from becoming the active note
// when the generator project lives inside the vault.
func (s *Session) excludeGeneratorRoot(st settings.Settings) {
	if s.tracker == nil {
		return
	}
	s.tracker.Exclude(strings.TrimSpace(st.GeneratorRoot))
}

func (s *Session) checkConfig(st settings.Settings) error {
	if err := st.RequireGeneratorRoot(); err != nil {
		notify.Error(s.notifier, "Please set hexo project path in settings.")
		return err
	}
	return nil
}

// stage resolves the note and copies it. Every failure is reported here.
func (s *Session) stage(ctx context.Context, st settings.Settings, target models.StagingTarget, notePath string) (models.NoteRef, error) {
	note, err := s.resolve(notePath)
	if err != nil {
		notify.Error(s.notifier, "Cannot open %s: %s", notePath, err.Error())
		return models.NoteRef{}, err
	}

	ref, err := stager.New(st.GeneratorRoot, s.logger).Stage(ctx, target, note)
	switch {
	case err == nil:
		return ref, nil
	case errors.Is(err, apperr.ErrNoActiveNote):
		notify.Error(s.notifier, "Please run when a file is opened.")
	case errors.Is(err, apperr.ErrNotMarkdown):
		notify.Error(s.notifier, "A markdown file is needed.")
	default:
		notify.Error(s.notifier, "Failed to copy %s: %s", ref.Name, err.Error())
	}
	s.logger.Warn("session: stage failed",
		slog.String("target", target.String()),
		slog.String("note", notePath),
		slog.String("error", err.Error()))
	return ref, err
}

// resolve returns nil, nil when no note is named and none is active.
func (s *Session) resolve(notePath string) (*models.NoteRef, error) {
	if notePath == "" {
		if s.tracker == nil {
			return nil, nil
		}
		if ref, ok := s.tracker.Active(); ok {
			return &ref, nil
		}
		return nil, nil
	}
	if s.vault == nil {
		return nil, fmt.Errorf("session: no vault configured")
	}
	ref, err := s.vault.Resolve(notePath)
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

func (s *Session) onPreviewReady() {
	notify.Info(s.notifier, "Local Hexo Server Running.")
	s.panel.Open()
}

func (s *Session) onPublishExit(code int) {
	s.mu.Lock()
	pending := s.publish
	s.publish = nil
	s.mu.Unlock()

	if code != 0 || pending == nil {
		return
	}
	notify.Info(s.notifier, "Blog Published")
	if err := pending.stager.RemoveDrafts(context.Background()); err != nil {
		notify.Error(s.notifier, "Failed to remove drafts: %s", err.Error())
		return
	}
	s.logger.Info("session: published", slog.String("note", pending.note.Path))
}
