package internal

import (
	"github.com/starford/hexobridge/internal/panel"
	"github.com/starford/hexobridge/internal/supervisor"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config  *Config
	spawner supervisor.Spawner
	opener  panel.Opener
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithSpawner replaces the process spawner (default: supervisor.ExecSpawner).
func WithSpawner(sp supervisor.Spawner) Option {
	return func(a *application) {
		a.spawner = sp
	}
}

// WithOpener replaces the function that shows the panel page. By default the
// system browser is used when panel.open_browser is set.
func WithOpener(open panel.Opener) Option {
	return func(a *application) {
		a.opener = open
	}
}

func newApplication(opts []Option) *application {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.spawner == nil {
		app.spawner = supervisor.ExecSpawner{}
	}
	if app.opener == nil && app.config != nil && app.config.Panel.OpenBrowser {
		app.opener = panel.OpenBrowser
	}
	return app
}
