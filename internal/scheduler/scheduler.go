package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"
	"runtime"
	"sync"
	"time"

	"github.com/vk/sweepgridgo/internal/ctxlog"
	"github.com/vk/sweepgridgo/internal/executor"
	"github.com/vk/sweepgridgo/internal/model"
	"github.com/vk/sweepgridgo/internal/monitor"
	"github.com/vk/sweepgridgo/internal/param"
	"github.com/vk/sweepgridgo/internal/pex"
	"github.com/vk/sweepgridgo/internal/runner"
	"github.com/vk/sweepgridgo/internal/store"
)

var (
	// ErrMissingField is returned for a record lacking a mandatory field.
	ErrMissingField = errors.New("missing mandatory field")
	// ErrFinished is returned when a finished batch is run again.
	ErrFinished = errors.New("batch already finished")
	// ErrKindMismatch is returned when a batch is resumed as a race or the
	// other way around.
	ErrKindMismatch = errors.New("batch type mismatch")
)

const defaultPollInterval = time.Second

// Options tunes a run.
type Options struct {
	Threads int
	// Greedy allows copying results from other batches.
	Greedy         bool
	LaunchInterval time.Duration
	// PollInterval bounds each wait on the queue.
	PollInterval time.Duration
	Runner       runner.Runner
	Notifier     monitor.Notifier
}

func (o Options) withDefaults() Options {
	if o.Threads < 1 {
		o.Threads = 1
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.Runner == nil {
		o.Runner = runner.Shell{}
	}
	if o.Notifier == nil {
		o.Notifier = monitor.Nop{}
	}
	return o
}

// Prepare returns the record to run for want. An unfinished batch with the
// same name is resumed; a finished one is an error; otherwise want is
// stamped and saved as a new batch. A resumed race takes the generator of
// want when one is given.
func Prepare(ctx context.Context, s store.Store, want *model.Batch) (*model.Batch, bool, error) {
	logger := ctxlog.FromContext(ctx)

	existing, err := store.GetBatch(ctx, s, want.Name)
	switch {
	case err == nil:
		if !existing.Unfinished() {
			return nil, false, fmt.Errorf("%q: %w", want.Name, ErrFinished)
		}
		if existing.Kind != want.Kind {
			return nil, false, fmt.Errorf("%q is a %s: %w", want.Name, existing.Kind, ErrKindMismatch)
		}
		if existing.IsRace() && len(want.Generator) > 0 {
			logger.Info("Replacing generator of resumed race.", "batch", want.Name)
			existing.Generator = want.Generator
		}
		logger.Info("Resuming batch.", "batch", want.Name, "started", existing.DateStarted)
		return existing, true, nil
	case errors.Is(err, store.ErrNotFound):
	default:
		return nil, false, err
	}

	if err := Validate(want); err != nil {
		return nil, false, err
	}
	now := time.Now().UTC()
	want.ID = ""
	want.DateStarted = now
	want.MarkUnfinished()
	Stamp(want)
	if err := s.SaveBatch(ctx, want); err != nil {
		return nil, false, fmt.Errorf("failed to save batch %q: %w", want.Name, err)
	}
	return want, false, nil
}

// Validate checks the mandatory fields of a record.
func Validate(b *model.Batch) error {
	var missing []string
	if b.Name == "" {
		missing = append(missing, "name")
	}
	if b.Executable == "" {
		missing = append(missing, "executable")
	}
	if len(b.Generator) == 0 {
		missing = append(missing, "generator")
	}
	if b.Repetitions < 1 {
		missing = append(missing, "repetitions")
	}
	if b.IsRace() {
		if b.InstanceParameter == "" {
			missing = append(missing, "instance_parameter")
		}
		if b.PerformanceParameter == "" {
			missing = append(missing, "performance_parameter")
		}
		if b.InitialBlock < 1 {
			missing = append(missing, "initial_block")
		}
		if b.Confidence <= 0 || b.Confidence >= 1 {
			missing = append(missing, "confidence")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrMissingField, missing)
	}
	return nil
}

// Stamp records where the batch runs, once.
func Stamp(b *model.Batch) {
	if b.Host == "" {
		b.Host, _ = os.Hostname()
	}
	if b.User == "" {
		if u, err := user.Current(); err == nil {
			b.User = u.Username
		}
	}
	if b.System == "" {
		b.System = runtime.GOOS + "/" + runtime.GOARCH
	}
}

// repetitions is the synthetic leaf indexing repetitions.
func repetitions(n int) *pex.Discrete {
	values := make([]any, n)
	for i := range values {
		values[i] = i
	}
	return pex.NewDiscrete(model.RepetitionParameter, values...)
}

// driver holds what batches and races share: the record, the queue and
// the set of jobs that may still need killing.
type driver struct {
	record *model.Batch
	store  store.Store
	opts   Options

	mu       sync.Mutex
	inflight map[*executor.Job]struct{}
	// claimed holds the parameter keys scheduled during the current run.
	claimed map[string]struct{}
	queue   *executor.Queue
	failure error
	abort   context.CancelFunc
}

func newDriver(rec *model.Batch, s store.Store, opts Options) (*driver, error) {
	if err := Validate(rec); err != nil {
		return nil, err
	}
	return &driver{
		record:   rec,
		store:    s,
		opts:     opts.withDefaults(),
		inflight: map[*executor.Job]struct{}{},
	}, nil
}

// Record returns the batch record being driven.
func (d *driver) Record() *model.Batch { return d.record }

// execute runs produce against a fresh pool and waits for every queued job.
// It reports whether ctx was cancelled along the way.
func (d *driver) execute(ctx context.Context, obs executor.Observer, produce func(context.Context) error) (bool, error) {
	logger := ctxlog.FromContext(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.mu.Lock()
	d.abort = cancel
	d.queue = executor.NewQueue(d.opts.Threads)
	d.claimed = map[string]struct{}{}
	d.mu.Unlock()

	pool := executor.NewPool(executor.Config{
		Workers:        d.opts.Threads,
		LaunchInterval: d.opts.LaunchInterval,
		Separator:      d.record.Separator,
		Prefix:         d.record.Prefix,
	}, d.queue, d.opts.Runner, d.store, obs)

	logger.Debug("Initializing workers.", "threads", d.opts.Threads)
	poolDone := make(chan error, 1)
	go func() { poolDone <- pool.Run(runCtx) }()

	err := produce(runCtx)
	if err == nil {
		d.wait(runCtx)
	}

	interrupted := ctx.Err() != nil
	if interrupted {
		logger.Info("Stopping experiments.")
	}
	if interrupted || err != nil || runCtx.Err() != nil {
		d.killAll()
		cancel()
	}
	d.queue.Close()
	if perr := <-poolDone; err == nil {
		err = perr
	}

	d.mu.Lock()
	if d.failure != nil {
		err = d.failure
	}
	d.mu.Unlock()
	if interrupted && errors.Is(err, context.Canceled) {
		err = nil
	}
	return interrupted, err
}

// wait blocks until every queued job is done or ctx is cancelled.
func (d *driver) wait(ctx context.Context) {
	for {
		if err := d.queue.JoinWithTimeout(d.opts.PollInterval); err == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// stop aborts the run with err. The caller holds d.mu.
func (d *driver) stop(err error) {
	if d.failure == nil {
		d.failure = err
	}
	if d.abort != nil {
		d.abort()
	}
}

// claim reports whether params were not yet scheduled during this run and
// marks them as scheduled.
func (d *driver) claim(params param.List) bool {
	key := params.Key()
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.claimed[key]; ok {
		return false
	}
	d.claimed[key] = struct{}{}
	return true
}

func (d *driver) enqueue(ctx context.Context, j *executor.Job) error {
	d.mu.Lock()
	d.inflight[j] = struct{}{}
	q := d.queue
	d.mu.Unlock()

	if err := q.Put(ctx, j); err != nil {
		d.mu.Lock()
		delete(d.inflight, j)
		d.mu.Unlock()
		return err
	}
	return nil
}

func (d *driver) release(j *executor.Job) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inflight, j)
}

func (d *driver) killAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for j := range d.inflight {
		j.Kill()
	}
}

// onBatch reports whether an experiment with exactly these parameters is
// already recorded on this batch.
func (d *driver) onBatch(ctx context.Context, e *model.Experiment) (bool, error) {
	return store.ExperimentExists(ctx, d.store, store.ExperimentFilter{
		BatchID:         d.record.ID,
		Parameters:      e.Parameters,
		ExactParameters: true,
	})
}

// copySimilar copies the matching repetition of an equivalent experiment
// recorded by another batch. It reports false when there are not enough
// equivalent experiments.
func (d *driver) copySimilar(ctx context.Context, e *model.Experiment) (bool, error) {
	rep := e.Repetition()
	params := make(map[string]any, len(e.Parameters))
	for k, v := range e.Parameters {
		if k != model.RepetitionParameter {
			params[k] = v
		}
	}

	similar, err := d.store.Experiments(ctx, store.ExperimentFilter{
		ExcludeBatchID: d.record.ID,
		Executable:     e.Executable,
		Parameters:     params,
		Copy:           store.Bool(false),
	})
	if err != nil {
		return false, err
	}
	if rep < 0 || rep >= len(similar) {
		return false, nil
	}

	cp := similar[rep].CopyTo(d.record.ID, rep)
	if err := d.store.SaveExperiment(ctx, cp); err != nil {
		return false, fmt.Errorf("failed to save copied experiment: %w", err)
	}
	return true, nil
}

func (d *driver) command(args param.List) string {
	return param.Format(d.record.Executable, args, d.record.Separator, d.record.Prefix)
}

func (d *driver) publish(ctx context.Context, t monitor.EventType, data map[string]any) {
	if err := d.opts.Notifier.Publish(ctx, monitor.NewEvent(t, d.record.Name, data)); err != nil {
		ctxlog.FromContext(ctx).Warn("Failed publishing event.", "event", t, "error", err)
	}
}

func (d *driver) save(ctx context.Context) error {
	if err := d.store.SaveBatch(ctx, d.record); err != nil {
		return fmt.Errorf("failed to save batch %q: %w", d.record.Name, err)
	}
	return nil
}

// finish saves the record, with a stop date unless the run was interrupted.
func (d *driver) finish(ctx context.Context, interrupted bool) error {
	logger := ctxlog.FromContext(ctx)
	if !interrupted {
		d.record.Stop(time.Now().UTC())
	}
	// Saved even when the run was cancelled.
	if err := d.save(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	d.publish(context.WithoutCancel(ctx), monitor.BatchFinished, map[string]any{"interrupted": interrupted})
	if interrupted {
		logger.Info("⏹️ Batch interrupted, it can be resumed.")
	} else {
		logger.Info("🏁 Batch finished.")
	}
	return nil
}

func (d *driver) experimentFinished(ctx context.Context, j *executor.Job) {
	d.release(j)
	d.publish(ctx, monitor.ExperimentFinished, map[string]any{
		"parameters": j.Record.Parameters,
		"outcome":    j.Outcome(),
	})
}
