// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/hexobridge/internal/api"
	"github.com/starford/hexobridge/internal/apperr"
	"github.com/starford/hexobridge/internal/notify"
	"github.com/starford/hexobridge/internal/panel"
	"github.com/starford/hexobridge/internal/session"
	"github.com/starford/hexobridge/internal/settings"
	"github.com/starford/hexobridge/internal/sse"
	"github.com/starford/hexobridge/internal/vault"
)

// NewLogger returns a JSON logger writing to w at the given level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

// OpenSettingsStore opens the configured settings backend. The returned
// close function is never nil.
func OpenSettingsStore(cfg SettingsConfig) (settings.Store, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Backend {
	case SettingsBackendSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, noop, fmt.Errorf("create settings dir: %w", err)
		}
		store, err := settings.OpenSQLite(cfg.Path)
		if err != nil {
			return nil, noop, err
		}
		return store, store.Close, nil
	case SettingsBackendFile, "":
		return settings.NewFileStore(cfg.Path), noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown settings backend %q", cfg.Backend)
	}
}

// Env is an opened session together with the resources it depends on.
type Env struct {
	Session *session.Session
	Tracker *vault.ActiveTracker

	closeStore func() error
	logger     *slog.Logger
}

// Close tears down the session and closes the settings store.
func (e *Env) Close() {
	e.Session.Close()
	if err := e.closeStore(); err != nil {
		e.logger.Warn("close settings store failed", slog.String("error", err.Error()))
	}
}

// Open builds a session from cfg. events may be nil when nothing listens for
// panel events.
func Open(ctx context.Context, cfg *Config, notifier notify.Notifier, events panel.Publisher, logger *slog.Logger, opts ...Option) (*Env, error) {
	app := newApplication(append([]Option{WithConfig(cfg)}, opts...))

	v, err := vault.New(cfg.Vault.Path)
	if err != nil {
		return nil, fmt.Errorf("open vault: %w", err)
	}

	store, closeStore, err := OpenSettingsStore(cfg.Settings)
	if err != nil {
		return nil, fmt.Errorf("open settings: %w", err)
	}

	tracker := vault.NewActiveTracker(v)
	sess, err := session.New(ctx, session.Options{
		Store:    store,
		Vault:    v,
		Tracker:  tracker,
		Spawner:  app.spawner,
		Notifier: notifier,
		Events:   events,
		Opener:   app.opener,
		BaseURL:  cfg.App.HTTP.BaseURL(),
		Logger:   logger,
	})
	if err != nil {
		_ = closeStore()
		return nil, err
	}

	return &Env{Session: sess, Tracker: tracker, closeStore: closeStore, logger: logger}, nil
}

func healthOK(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// NewHandler builds the control server's root router: health checks, the
// panel page and the authenticated API.
func NewHandler(cfg *Config, sess *session.Session, notices api.NoticeLister, broker *sse.Broker) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", healthOK)
	r.Get("/health/ready", healthOK)

	// Panel page. The instance id in the URL is the only credential the
	// page has, so these stay outside the auth group.
	r.Get("/panel", sess.Panel().PageHandler(func() string {
		return sess.Settings().PreviewURL()
	}))
	r.Post("/panel/{id}/close", func(w http.ResponseWriter, r *http.Request) {
		err := sess.ClosePanel(chi.URLParam(r, "id"))
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			http.NotFound(w, r)
		case err != nil:
			http.Error(w, "internal error", http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	})

	var sseHandler http.Handler
	if broker != nil {
		sseHandler = broker
	}
	r.Mount("/api", api.NewRouter(sess, notices, cfg.Auth.AuthEnabled(), cfg.Auth.Token, sseHandler))
	return r
}

// Run starts the control server with the given options and blocks until ctx
// is cancelled or a shutdown signal arrives.
func Run(ctx context.Context, opts ...Option) error {
	app := newApplication(opts)
	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := NewLogger(os.Stdout, cfg.App.LogLevel)
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("settings_backend", cfg.Settings.Backend),
		slog.String("settings_path", cfg.Settings.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	broker := sse.NewBroker()
	defer broker.Close()

	recorder := notify.NewRecorder(100)
	notifier := notify.Multi{notify.Log{Logger: logger}, broker, recorder}

	env, err := Open(ctx, cfg, notifier, broker, logger, WithSpawner(app.spawner), WithOpener(app.opener))
	if err != nil {
		return err
	}
	defer env.Close()

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           NewHandler(cfg, env.Session, recorder, broker),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Track the active note.
	g.Go(func() error {
		if err := env.Tracker.Watch(gCtx, logger); err != nil {
			logger.Warn("active note tracking disabled", slog.String("error", err.Error()))
		}
		return nil
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		// SSE clients hold their connections open until the broker closes.
		broker.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		// Returning an error cancels gCtx so the tracker stops too.
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

var errShutdown = errors.New("shutdown")
