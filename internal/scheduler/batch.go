package scheduler

import (
	"context"
	"fmt"

	"github.com/vk/sweepgridgo/internal/ctxlog"
	"github.com/vk/sweepgridgo/internal/executor"
	"github.com/vk/sweepgridgo/internal/model"
	"github.com/vk/sweepgridgo/internal/monitor"
	"github.com/vk/sweepgridgo/internal/pex"
	"github.com/vk/sweepgridgo/internal/store"
)

// Batch runs every configuration of a generator, once per repetition.
type Batch struct {
	*driver
	generator pex.Node
}

var _ executor.Observer = (*Batch)(nil)

// NewBatch parses the generator of rec. The repetition index becomes the
// slowest varying parameter.
func NewBatch(rec *model.Batch, s store.Store, opts Options) (*Batch, error) {
	d, err := newDriver(rec, s, opts)
	if err != nil {
		return nil, err
	}
	gen, err := pex.Parse(rec.Generator)
	if err != nil {
		return nil, fmt.Errorf("invalid generator of %q: %w", rec.Name, err)
	}
	return &Batch{
		driver:    d,
		generator: pex.NewAnd(repetitions(rec.Repetitions), gen),
	}, nil
}

// Generator returns the generator including the repetition leaf.
func (b *Batch) Generator() pex.Node { return b.generator }

// Run executes the batch until every configuration is on record or ctx is
// cancelled. An interrupted batch is saved as unfinished.
func (b *Batch) Run(ctx context.Context) error {
	ctx = ctxlog.With(ctx, "batch", b.record.Name)
	logger := ctxlog.FromContext(ctx)

	b.record.Threads = b.opts.Threads
	if err := b.save(ctx); err != nil {
		return err
	}
	logger.Info("🚀 Starting batch.", "threads", b.opts.Threads, "greedy", b.opts.Greedy)
	b.publish(ctx, monitor.BatchStarted, map[string]any{"type": b.record.Kind, "total": b.generator.Count()})

	interrupted, err := b.execute(ctx, b, b.generate)
	if err != nil {
		return err
	}
	return b.finish(ctx, interrupted)
}

func (b *Batch) generate(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	logger.Info("Generating experiments.")

	b.generator.Reset()
	total := b.generator.Count()
	generated := 0
	for b.generator.HasMore() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		generated++
		params := b.generator.Next()
		rec := model.NewExperiment(b.record.ID, b.record.Executable, params)
		args := params.Without(model.RepetitionParameter)

		if !b.claim(params) {
			logger.Info(fmt.Sprintf("Skipping (%d/%d)", generated, total), "command", b.command(args), "reason", "duplicate")
			continue
		}
		exists, err := b.onBatch(ctx, rec)
		if err != nil {
			return fmt.Errorf("failed to look up experiment: %w", err)
		}
		if exists {
			logger.Info(fmt.Sprintf("Skipping (%d/%d)", generated, total), "command", b.command(args))
			continue
		}

		if b.opts.Greedy {
			copied, err := b.copySimilar(ctx, rec)
			if err != nil {
				return err
			}
			if copied {
				logger.Info(fmt.Sprintf("Copying (%d/%d)", generated, total), "command", b.command(args))
				continue
			}
		}

		job := executor.NewJob(rec, args)
		job.Index, job.Total = generated, total
		if err := b.enqueue(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

func (b *Batch) JobStarted(context.Context, *executor.Job) {}

func (b *Batch) JobFinished(ctx context.Context, j *executor.Job) {
	b.experimentFinished(ctx, j)
}
