package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/starford/hexobridge/internal"
	"github.com/starford/hexobridge/internal/mcpserver"
	"github.com/starford/hexobridge/internal/models"
	"github.com/starford/hexobridge/internal/notify"
	"github.com/starford/hexobridge/internal/panel"
	pkgconfig "github.com/starford/hexobridge/pkg/config"
)

var version = "dev"

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if _, err := pkgconfig.LoadOptional(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

// openOneShot opens a session for the terminal commands. Logs go to stderr
// and notices are printed there too.
func openOneShot(ctx context.Context, cmd *cli.Command, opts ...internal.Option) (*internal.Env, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := internal.NewLogger(os.Stderr, cfg.App.LogLevel)
	slog.SetDefault(logger)

	return internal.Open(ctx, cfg, notify.NewTerminal(os.Stderr), nil, logger, opts...)
}

func preview(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var env *internal.Env
	// Without the control server there is no panel page, so the browser is
	// pointed at the preview server itself.
	opener := func(string) error {
		return panel.OpenBrowser(env.Session.Settings().PreviewURL())
	}
	if cmd.Bool("no-browser") {
		opener = func(string) error { return nil }
	}

	env, err := openOneShot(ctx, cmd, internal.WithOpener(opener))
	if err != nil {
		return err
	}
	defer env.Close()

	if _, err := env.Session.Preview(ctx, cmd.Args().First()); err != nil {
		return err
	}

	st, err := env.Session.Wait(ctx, models.RolePreview)
	if errors.Is(err, context.Canceled) {
		// Interrupted by the user; Close stops the server.
		return nil
	}
	if err != nil {
		return err
	}
	if st.ExitCode != nil && *st.ExitCode != 0 {
		return cli.Exit("", *st.ExitCode)
	}
	return nil
}

func publish(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := openOneShot(ctx, cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	if _, err := env.Session.Publish(ctx, cmd.Args().First()); err != nil {
		return err
	}

	st, err := env.Session.Wait(ctx, models.RolePublish)
	if err != nil {
		return err
	}
	switch {
	case st.ExitCode == nil:
		return errors.New("deploy was interrupted")
	case *st.ExitCode != 0:
		return cli.Exit("", *st.ExitCode)
	}
	return nil
}

func showSettings(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, closeStore, err := internal.OpenSettingsStore(cfg.Settings)
	if err != nil {
		return err
	}
	defer closeStore()

	st, err := store.Load(ctx)
	if err != nil {
		return err
	}
	return yaml.NewEncoder(os.Stdout).Encode(st)
}

func setSettings(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, closeStore, err := internal.OpenSettingsStore(cfg.Settings)
	if err != nil {
		return err
	}
	defer closeStore()

	st, err := store.Load(ctx)
	if err != nil {
		return err
	}
	if cmd.IsSet("generator-root") {
		st.GeneratorRoot = cmd.String("generator-root")
	}
	if cmd.IsSet("launcher") {
		st.LauncherPath = cmd.String("launcher")
	}
	if cmd.IsSet("port") {
		st.PreviewPort = int(cmd.Int("port"))
	}
	if err := store.Save(ctx, st); err != nil {
		return err
	}
	return yaml.NewEncoder(os.Stdout).Encode(st)
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	// stdout carries the protocol.
	logger := internal.NewLogger(os.Stderr, cfg.App.LogLevel)
	slog.SetDefault(logger)

	env, err := internal.Open(ctx, cfg, notify.Log{Logger: logger}, nil, logger,
		internal.WithOpener(func(string) error { return nil }))
	if err != nil {
		return err
	}
	defer env.Close()

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := env.Tracker.Watch(watchCtx, logger); err != nil {
			logger.Warn("active note tracking disabled", slog.String("error", err.Error()))
		}
	}()

	return mcpserver.New(env.Session, version).ServeStdio()
}

func main() {
	cmd := &cli.Command{
		Name:    "hexobridge",
		Usage:   "Preview and publish Markdown notes with a Hexo blog",
		Version: version,
		Action:  serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the local control server with the preview panel and HTTP API",
				Action: serve,
			},
			{
				Name:      "preview",
				Usage:     "Stage a note as a draft and run hexo serve until interrupted",
				ArgsUsage: "<note>",
				Action:    preview,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "no-browser",
						Usage: "Do not open the preview in the system browser",
					},
				},
			},
			{
				Name:      "publish",
				Usage:     "Stage a note as a post and run hexo deploy",
				ArgsUsage: "<note>",
				Action:    publish,
			},
			{
				Name:  "settings",
				Usage: "Show or change the Hexo settings",
				Commands: []*cli.Command{
					{
						Name:   "show",
						Usage:  "Print the current settings",
						Action: showSettings,
					},
					{
						Name:   "set",
						Usage:  "Change one or more settings",
						Action: setSettings,
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "generator-root", Usage: "Hexo project directory"},
							&cli.StringFlag{Name: "launcher", Usage: "Path to npx"},
							&cli.IntFlag{Name: "port", Usage: "Preview server port"},
						},
					},
				},
			},
			{
				Name:   "mcp",
				Usage:  "Serve the MCP tools over stdio",
				Action: serveMCP,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
