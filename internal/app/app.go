package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/vk/sweepgridgo/internal/badgerstore"
	"github.com/vk/sweepgridgo/internal/ctxlog"
	"github.com/vk/sweepgridgo/internal/inmemorystore"
	"github.com/vk/sweepgridgo/internal/monitor"
	"github.com/vk/sweepgridgo/internal/pgstore"
	"github.com/vk/sweepgridgo/internal/runner"
	"github.com/vk/sweepgridgo/internal/store"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW       io.Writer
	logger     *slog.Logger
	ctx        context.Context
	config     *Config
	store      store.Store
	notifier   monitor.Notifier
	httpServer *http.Server
}

// NewApp is the constructor for the main application. It configures an
// isolated logger writing to logW and opens the configured store. The
// monitor connection and health check server are started lazily by Run.
func NewApp(ctx context.Context, outW, logW io.Writer, cfg *Config) (*App, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, logW)
	ctx = ctxlog.WithLogger(ctx, logger)
	logger.Debug("Logger configured successfully.")

	s, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	logger.Debug("Store opened.", "store", cfg.Store)

	return &App{
		outW:     outW,
		logger:   logger,
		ctx:      ctx,
		config:   cfg,
		store:    s,
		notifier: monitor.Nop{},
	}, nil
}

func openStore(ctx context.Context, cfg *Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.Store {
	case "memory":
		return inmemorystore.New(), nil
	case "postgres":
		s, err := pgstore.Open(ctx, pgstore.DefaultConfig(cfg.DSN))
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return s, nil
	default:
		s, err := badgerstore.Open(badgerstore.Config{
			Path:   cfg.StorePath,
			Logger: logger.With("component", "badger"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open store at %s: %w", cfg.StorePath, err)
		}
		return s, nil
	}
}

// Context returns the application context carrying its logger.
func (app *App) Context() context.Context { return app.ctx }

// Logger returns the application logger.
func (app *App) Logger() *slog.Logger { return app.logger }

// Out is where commands print their results.
func (app *App) Out() io.Writer { return app.outW }

// Config returns the validated configuration.
func (app *App) Config() *Config { return app.config }

// Store returns the opened store.
func (app *App) Store() store.Store { return app.store }

// Runner returns the process runner selected by the configuration.
func (app *App) Runner() runner.Runner {
	var r runner.Runner = runner.Shell{}
	if app.config.Slurm.Enabled {
		r = runner.Slurm{
			Runner:    r,
			Time:      app.config.Slurm.Time,
			CPUs:      app.config.Slurm.CPUs,
			Partition: app.config.Slurm.Partition,
			MemoryMB:  app.config.Slurm.MemoryMB,
		}
	}
	return r
}

// connectMonitor dials the monitor when a URL is configured. A failed dial
// is logged and the run goes on without live progress.
func (app *App) connectMonitor(ctx context.Context) {
	if app.config.MonitorURL == "" {
		return
	}
	logger := ctxlog.FromContext(ctx)
	n, err := monitor.Dial(ctx, app.config.MonitorURL, monitor.DialOptions{})
	if err != nil {
		logger.Warn("Monitor unavailable, continuing without it.", "url", app.config.MonitorURL, "error", err)
		return
	}
	app.notifier = n
}

// Close releases the monitor connection, the health check server and the
// store.
func (app *App) Close() error {
	app.logger.Debug("Closing application.")
	return errors.Join(
		app.closeHealthCheckServer(),
		app.notifier.Close(),
		app.store.Close(),
	)
}
