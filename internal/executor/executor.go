// Package executor runs experiments on a pool of concurrent workers.
//
// A driver (a batch or a race) puts jobs into a Queue. Each worker takes a
// job, reports it to the driver's Observer, waits for the shared launch rate
// limiter, runs the command line, parses the JSON printed on stdout and
// saves the experiment record. Jobs killed before or during their run are
// reported to the Observer as interrupted and never saved.
package executor

import (
	"context"
	"time"

	"github.com/vk/sweepgridgo/internal/ctxlog"
	"github.com/vk/sweepgridgo/internal/runner"
	"github.com/vk/sweepgridgo/internal/store"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Observer is notified around every job a worker takes.
type Observer interface {
	// JobStarted is called as soon as a worker takes the job.
	JobStarted(ctx context.Context, j *Job)
	// JobFinished is called once the job has run, failed or been skipped.
	JobFinished(ctx context.Context, j *Job)
}

// Config tunes a Pool.
type Config struct {
	Workers int
	// LaunchInterval is the minimum delay between two process launches
	// across the pool. Zero disables the limit.
	LaunchInterval time.Duration
	Separator      string
	Prefix         string
}

// Pool drains a Queue with a fixed number of workers.
type Pool struct {
	cfg      Config
	queue    *Queue
	runner   runner.Runner
	store    store.Store
	observer Observer
	limiter  *rate.Limiter
}

// NewPool wires a pool. It does not start any worker.
func NewPool(cfg Config, q *Queue, r runner.Runner, s store.Store, o Observer) *Pool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	limit := rate.Inf
	if cfg.LaunchInterval > 0 {
		limit = rate.Every(cfg.LaunchInterval)
	}
	return &Pool{
		cfg:      cfg,
		queue:    q,
		runner:   r,
		store:    s,
		observer: o,
		limiter:  rate.NewLimiter(limit, 1),
	}
}

// Run starts the workers and blocks until the queue is closed and drained.
// Cancelling ctx kills running processes; remaining jobs are skipped.
func (p *Pool) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Starting worker pool.", "workers", p.cfg.Workers)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		workerID := i
		g.Go(func() error {
			p.worker(gctx, workerID)
			return nil
		})
	}
	err := g.Wait()
	logger.Debug("Worker pool stopped.")
	return err
}
