package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sort"

	"github.com/vk/sweepgridgo/internal/ctxlog"
	"github.com/vk/sweepgridgo/internal/executor"
	"github.com/vk/sweepgridgo/internal/metrics"
	"github.com/vk/sweepgridgo/internal/model"
	"github.com/vk/sweepgridgo/internal/monitor"
	"github.com/vk/sweepgridgo/internal/param"
	"github.com/vk/sweepgridgo/internal/pex"
	"github.com/vk/sweepgridgo/internal/stats"
	"github.com/vk/sweepgridgo/internal/store"
)

// Race runs configurations against a shuffled sequence of instances and
// prunes the inferior ones.
type Race struct {
	*driver

	generator      pex.Node
	configurations []param.List
	instances      []any
	// iterations yields (repetition, instance) pairs, instance fastest.
	iterations pex.Node

	// Guarded by driver.mu.
	racing              []int
	blocks              []param.List
	executed            []map[int]bool
	started             map[int][]*executor.Job
	samples             map[int][]float64
	iterationsCompleted int
}

var _ executor.Observer = (*Race)(nil)

// NewRace enumerates the generator of rec once and splits every tuple into
// an instance and a configuration.
func NewRace(rec *model.Batch, s store.Store, opts Options) (*Race, error) {
	d, err := newDriver(rec, s, opts)
	if err != nil {
		return nil, err
	}
	gen, err := pex.Parse(rec.Generator)
	if err != nil {
		return nil, fmt.Errorf("invalid generator of %q: %w", rec.Name, err)
	}

	r := &Race{driver: d, generator: gen}
	if err := r.initialize(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Race) initialize() error {
	name := r.record.InstanceParameter

	seenConf := map[string]bool{}
	seenInst := map[string]bool{}
	var style param.Parameter
	for _, tuple := range pex.All(r.generator) {
		inst, ok := tuple.Get(name)
		if !ok {
			return fmt.Errorf("generator of %q does not produce instance parameter %q", r.record.Name, name)
		}
		if key := param.FormatValue(inst.Value); !seenInst[key] {
			seenInst[key] = true
			r.instances = append(r.instances, inst.Value)
			style = inst
		}

		conf := tuple.Without(name)
		if key := conf.Key(); !seenConf[key] {
			seenConf[key] = true
			r.configurations = append(r.configurations, conf)
		}
	}
	if len(r.configurations) == 0 {
		return fmt.Errorf("generator of %q: %w", r.record.Name, pex.ErrNoValues)
	}

	rng := rand.New(rand.NewSource(r.record.Seed))
	rng.Shuffle(len(r.instances), func(i, j int) {
		r.instances[i], r.instances[j] = r.instances[j], r.instances[i]
	})

	inst := pex.NewDiscrete(name, r.instances...)
	inst.SetStyle(style.Separator, style.Prefix)
	r.iterations = pex.NewAnd(repetitions(r.record.Repetitions), inst)
	return nil
}

// Configurations returns the distinct configurations in generation order.
func (r *Race) Configurations() []param.List { return r.configurations }

// Instances returns the instance values in race order.
func (r *Race) Instances() []any { return r.instances }

// Run races until one configuration is left, the instances are exhausted or
// ctx is cancelled.
func (r *Race) Run(ctx context.Context) error {
	ctx = ctxlog.With(ctx, "batch", r.record.Name)
	logger := ctxlog.FromContext(ctx)

	r.reset()
	r.record.Threads = r.opts.Threads
	if err := r.save(ctx); err != nil {
		return err
	}

	logger.Info("🚀 Starting race.",
		"threads", r.opts.Threads,
		"greedy", r.opts.Greedy,
		"alpha", r.record.Confidence,
		"configurations", len(r.configurations),
		"instances", len(r.instances),
		"seed", r.record.Seed,
	)
	r.publish(ctx, monitor.BatchStarted, map[string]any{
		"type":           r.record.Kind,
		"configurations": len(r.configurations),
		"instances":      len(r.instances),
	})
	metrics.RacingConfigurations.WithLabelValues(r.record.Name).Set(float64(len(r.configurations)))
	metrics.RaceIterations.WithLabelValues(r.record.Name).Set(0)

	interrupted, err := r.execute(ctx, r, r.generate)
	if err != nil {
		return err
	}
	return r.finish(ctx, interrupted)
}

func (r *Race) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.racing = make([]int, len(r.configurations))
	r.record.Configurations = make([]model.ConfigurationState, len(r.configurations))
	for c, conf := range r.configurations {
		r.racing[c] = c
		r.record.Configurations[c] = model.ConfigurationState{Parameters: model.Assignments(conf)}
	}
	r.record.IterationsCompleted = 0
	r.record.PValue = nil

	r.blocks = nil
	r.executed = nil
	r.started = map[int][]*executor.Job{}
	r.samples = map[int][]float64{}
	r.iterationsCompleted = 0
	r.iterations.Reset()
}

// byRank returns the racing configurations, lowest sum of ranks first.
func (r *Race) byRank() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]int(nil), r.racing...)
	sort.SliceStable(out, func(i, j int) bool {
		return r.record.Configurations[out[i]].Rank() < r.record.Configurations[out[j]].Rank()
	})
	return out
}

func (r *Race) generate(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	var block param.List
	iteration := -1
	scheduled := map[int]bool{}
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		racing := r.byRank()
		if len(racing) <= 1 {
			return nil
		}

		var missing []int
		for _, c := range racing {
			if !scheduled[c] {
				missing = append(missing, c)
			}
		}
		if iteration < 0 || len(missing) == 0 {
			if !r.iterations.HasMore() {
				return nil
			}
			block = r.iterations.Next()
			iteration++
			scheduled = map[int]bool{}

			r.mu.Lock()
			r.blocks = append(r.blocks, block)
			r.executed = append(r.executed, map[int]bool{})
			r.mu.Unlock()
			logger.Info("Iteration", "iteration", iteration, "instance", block.String())
			continue
		}

		c := missing[0]
		scheduled[c] = true
		params := append(r.configurations[c].Clone(), block...)
		rec := model.NewExperiment(r.record.ID, r.record.Executable, params)
		args := params.Without(model.RepetitionParameter)

		exists := !r.claim(params)
		if !exists {
			var err error
			exists, err = r.onBatch(ctx, rec)
			if err != nil {
				return fmt.Errorf("failed to look up experiment: %w", err)
			}
		}
		if exists {
			logger.Info("Skipping", "command", r.command(args))
			r.completed(ctx, iteration, c)
			continue
		}

		if r.opts.Greedy {
			copied, err := r.copySimilar(ctx, rec)
			if err != nil {
				return err
			}
			if copied {
				logger.Info("Copying", "command", r.command(args))
				r.completed(ctx, iteration, c)
				continue
			}
		}

		job := executor.NewJob(rec, args)
		job.Iteration, job.Configuration = iteration, c
		if !r.track(job) {
			continue
		}
		if err := r.enqueue(ctx, job); err != nil {
			return err
		}
	}
}

// track remembers job for cancellation. It reports false when the
// configuration was pruned in the meantime.
func (r *Race) track(j *executor.Job) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.isRacing(j.Configuration) {
		return false
	}
	r.started[j.Configuration] = append(r.started[j.Configuration], j)
	return true
}

func (r *Race) isRacing(c int) bool {
	for _, rc := range r.racing {
		if rc == c {
			return true
		}
	}
	return false
}

func (r *Race) JobStarted(context.Context, *executor.Job) {}

func (r *Race) JobFinished(ctx context.Context, j *executor.Job) {
	r.experimentFinished(ctx, j)

	r.mu.Lock()
	jobs := r.started[j.Configuration]
	for i, sj := range jobs {
		if sj == j {
			r.started[j.Configuration] = append(jobs[:i], jobs[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	switch j.Outcome() {
	case metrics.OutcomeCompleted:
		r.completed(ctx, j.Iteration, j.Configuration)
	case metrics.OutcomeFailed:
		ctxlog.FromContext(ctx).Error("Experiment failed, its iteration cannot complete.",
			"iteration", j.Iteration,
			"params", j.Args.String(),
		)
	}
}

// completed records that configuration c has a result for iteration it,
// then closes every iteration that is complete, in order.
func (r *Race) completed(ctx context.Context, it, c int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ctx.Err() != nil {
		return
	}

	r.executed[it][c] = true
	if it != r.iterationsCompleted {
		return
	}

	for r.iterationsCompleted < len(r.executed) && r.iterationComplete(r.iterationsCompleted) {
		if len(r.racing) <= 1 {
			r.kill(r.allStarted())
			return
		}
		pruned, err := r.prune(ctx)
		if err != nil {
			ctxlog.FromContext(ctx).Error("Failed pruning race.", "iteration", r.iterationsCompleted, "error", err)
			r.stop(err)
			return
		}
		if len(r.racing) == 1 {
			r.kill(r.allStarted())
			return
		}
		r.kill(pruned)
	}
}

func (r *Race) iterationComplete(it int) bool {
	for _, c := range r.racing {
		if !r.executed[it][c] {
			return false
		}
	}
	return true
}

// prune ranks the racing configurations on every closed iteration plus the
// current one, drops the inferior ones and persists the new state. It
// returns the configurations it eliminated.
func (r *Race) prune(ctx context.Context) ([]int, error) {
	logger := ctxlog.FromContext(ctx)
	it := r.iterationsCompleted

	values := make([]float64, len(r.racing))
	for i, c := range r.racing {
		v, err := r.performance(ctx, c, r.blocks[it])
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	samples := make([][]float64, len(r.racing))
	for i, c := range r.racing {
		r.samples[c] = append(r.samples[c], values[i])
		samples[i] = r.samples[c]
	}

	logger.Info("Checking null hypothesis.", "configurations", len(r.racing), "samples", it+1)
	decision, err := stats.Prune(samples, r.record.Confidence, r.record.InitialBlock)
	if err != nil {
		return nil, err
	}

	var survivors, pruned []int
	keep := map[int]bool{}
	for _, i := range decision.Keep {
		keep[i] = true
	}
	for i, c := range r.racing {
		if keep[i] {
			survivors = append(survivors, c)
		} else {
			pruned = append(pruned, c)
		}
	}

	r.iterationsCompleted++
	r.racing = survivors
	for c := range r.record.Configurations {
		state := &r.record.Configurations[c]
		state.SumOfRanks = nil
		if !r.isRacing(c) {
			state.Pruned = true
		}
	}
	for i, c := range r.racing {
		sum := decision.Sums[decision.Keep[i]]
		state := &r.record.Configurations[c]
		state.IterationsCompleted = r.iterationsCompleted
		state.SumOfRanks = &sum
	}
	r.record.IterationsCompleted = r.iterationsCompleted
	if decision.Tested {
		p := decision.PValue
		r.record.PValue = &p
		metrics.RacePValue.WithLabelValues(r.record.Name).Set(p)
		logger.Info("Test result.", "test", decision.Test, "statistic", decision.Statistic, "p_value", p)
	}

	if err := r.store.SaveBatch(ctx, r.record); err != nil {
		logger.Error("Failed saving race state.", "error", err)
	}

	metrics.RaceIterations.WithLabelValues(r.record.Name).Set(float64(r.iterationsCompleted))
	metrics.RacingConfigurations.WithLabelValues(r.record.Name).Set(float64(len(r.racing)))
	r.publish(ctx, monitor.IterationCompleted, map[string]any{
		"iteration": r.iterationsCompleted,
		"racing":    append([]int(nil), r.racing...),
	})
	if len(pruned) > 0 {
		logger.Info("✂️ Pruned configurations.", "pruned", pruned, "racing", r.racing, "threshold", decision.Threshold)
		r.publish(ctx, monitor.Pruned, map[string]any{
			"pruned": pruned,
			"racing": append([]int(nil), r.racing...),
		})
	}
	logger.Debug("Racing configurations.", "racing", r.racing, "sums", decision.Sums)
	return pruned, nil
}

// performance reads the performance stat of configuration c on block.
func (r *Race) performance(ctx context.Context, c int, block param.List) (float64, error) {
	params := append(r.configurations[c].Clone(), block...)
	found, err := r.store.Experiments(ctx, store.ExperimentFilter{
		BatchID:         r.record.ID,
		Parameters:      params.Map(),
		ExactParameters: true,
	})
	if err != nil {
		return 0, err
	}
	if len(found) == 0 {
		return 0, fmt.Errorf("experiment %s: %w", params.String(), store.ErrNotFound)
	}
	raw, ok := found[0].Stats[r.record.PerformanceParameter]
	v, isNum := param.Float(raw)
	if !ok || !isNum {
		return 0, fmt.Errorf("experiment %s has no numeric %q", params.String(), r.record.PerformanceParameter)
	}
	return v, nil
}

func (r *Race) allStarted() []int {
	out := make([]int, 0, len(r.started))
	for c := range r.started {
		out = append(out, c)
	}
	return out
}

// kill cancels every tracked job of the given configurations. The caller
// holds r.mu.
func (r *Race) kill(configurations []int) {
	for _, c := range configurations {
		for _, j := range r.started[c] {
			j.Kill()
		}
		delete(r.started, c)
	}
}
