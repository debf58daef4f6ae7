package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vk/sweepgridgo/internal/ctxlog"
	"github.com/vk/sweepgridgo/internal/metrics"
	"github.com/vk/sweepgridgo/internal/param"
)

// solutionsKey is the output member stored apart from the stats.
const solutionsKey = "solutions"

// worker is the core processing loop for a single concurrent worker.
func (p *Pool) worker(ctx context.Context, workerID int) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Worker started.", "workerID", workerID)

	for {
		job, ok := p.queue.Get()
		if !ok {
			break
		}
		workerLogger := logger.With("workerID", workerID)
		p.process(ctxlog.WithLogger(ctx, workerLogger), job)
		p.queue.TaskDone()
	}
	logger.Debug("Worker finished.", "workerID", workerID)
}

func (p *Pool) process(ctx context.Context, job *Job) {
	logger := ctxlog.FromContext(ctx)
	p.observer.JobStarted(ctx, job)
	defer p.observer.JobFinished(ctx, job)
	metrics.ExperimentsStarted.Inc()

	if err := p.limiter.Wait(ctx); err != nil {
		job.Kill()
	}
	if ctx.Err() != nil {
		job.Kill()
	}
	if job.Interrupted() {
		logger.Debug("Skipping interrupted experiment.", "params", job.Args.String())
		p.finish(job, metrics.OutcomeSkipped)
		return
	}

	cmdline := param.Format(job.Record.Executable, job.Args, p.cfg.Separator, p.cfg.Prefix)
	if job.Total > 0 {
		logger.Info(fmt.Sprintf("▶️ Running (%d/%d)", job.Index, job.Total), "command", cmdline)
	} else {
		logger.Info("▶️ Running", "command", cmdline)
	}

	job.Record.DateStarted = time.Now().UTC()
	proc, err := p.runner.Start(ctx, cmdline)
	if err != nil {
		logger.Error("Failed running experiment.", "command", cmdline, "error", err)
		job.fail()
		p.finish(job, metrics.OutcomeFailed)
		return
	}
	job.attach(proc)
	res, err := proc.Wait()
	job.detach()
	job.Record.DateStopped = time.Now().UTC()

	if job.Interrupted() {
		logger.Debug("Experiment killed.", "command", cmdline)
		p.finish(job, metrics.OutcomeKilled)
		return
	}
	if err != nil || res.ExitCode != 0 {
		logger.Error("Experiment failed.",
			"command", cmdline,
			"status", res.ExitCode,
			"output", string(res.Stdout),
			"errors", string(res.Stderr),
			"error", err,
		)
		job.fail()
		p.finish(job, metrics.OutcomeFailed)
		return
	}

	if err := collect(job, res.Stdout); err != nil {
		logger.Error("Failed reading experiment results.", "command", cmdline, "error", err)
		job.fail()
		p.finish(job, metrics.OutcomeFailed)
		return
	}

	if err := p.store.SaveExperiment(ctx, job.Record); err != nil {
		logger.Error("Failed saving experiment.", "command", cmdline, "error", err)
		job.fail()
		p.finish(job, metrics.OutcomeFailed)
		return
	}

	metrics.ExperimentDuration.Observe(job.Record.Duration().Seconds())
	logger.Debug("Experiment completed.", slog.Duration("duration", job.Record.Duration()))
	p.finish(job, metrics.OutcomeCompleted)
}

func (p *Pool) finish(job *Job, outcome string) {
	job.setOutcome(outcome)
	metrics.ExperimentsFinished.WithLabelValues(outcome).Inc()
}

// collect parses the JSON object printed by the experiment. A "solutions"
// member is stored apart; every other member becomes a stat.
func collect(job *Job, stdout []byte) error {
	var out map[string]any
	if err := json.Unmarshal(stdout, &out); err != nil {
		return fmt.Errorf("output is not a JSON object: %w", err)
	}
	if out == nil {
		return errors.New("output is null")
	}

	if raw, ok := out[solutionsKey]; ok {
		if list, ok := raw.([]any); ok {
			job.Record.Solutions = list
		} else {
			job.Record.Solutions = []any{raw}
		}
		delete(out, solutionsKey)
	}
	if job.Record.Stats == nil {
		job.Record.Stats = map[string]any{}
	}
	for k, v := range out {
		job.Record.Stats[k] = v
	}
	return nil
}
