package app

import (
	"context"
	"fmt"

	"github.com/vk/sweepgridgo/internal/ctxlog"
	"github.com/vk/sweepgridgo/internal/model"
	"github.com/vk/sweepgridgo/internal/scheduler"
)

// runnable is what Run drives: a full batch or a race.
type runnable interface {
	Run(ctx context.Context) error
}

// Run creates or resumes the batch described by want and executes it until
// it finishes or ctx is cancelled. A cancelled run returns nil and leaves the
// batch resumable.
func (app *App) Run(ctx context.Context, want *model.Batch, greedy bool) error {
	ctx = ctxlog.WithLogger(ctx, app.logger)
	app.logger.Debug("App.Run method started.", "batch", want.Name, "type", want.Kind)

	app.healthCheckServer()
	app.connectMonitor(ctx)

	rec, resumed, err := scheduler.Prepare(ctx, app.store, want)
	if err != nil {
		return err
	}
	app.logger.Debug("Batch prepared.", "batch", rec.Name, "resumed", resumed)

	opts := app.options(greedy)
	var r runnable
	if rec.IsRace() {
		r, err = scheduler.NewRace(rec, app.store, opts)
	} else {
		r, err = scheduler.NewBatch(rec, app.store, opts)
	}
	if err != nil {
		return fmt.Errorf("failed to set up %s %q: %w", rec.Kind, rec.Name, err)
	}

	if err := r.Run(ctx); err != nil {
		return fmt.Errorf("%s %q failed: %w", rec.Kind, rec.Name, err)
	}
	app.logger.Debug("App.Run method finished.")
	return nil
}

func (app *App) options(greedy bool) scheduler.Options {
	return scheduler.Options{
		Threads:        app.config.Threads,
		Greedy:         greedy,
		LaunchInterval: app.config.LaunchInterval,
		PollInterval:   app.config.PollInterval,
		Runner:         app.Runner(),
		Notifier:       app.notifier,
	}
}
