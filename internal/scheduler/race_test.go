package scheduler

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/sweepgridgo/internal/executor"
	"github.com/vk/sweepgridgo/internal/inmemorystore"
	"github.com/vk/sweepgridgo/internal/model"
	"github.com/vk/sweepgridgo/internal/monitor"
	"github.com/vk/sweepgridgo/internal/param"
	"github.com/vk/sweepgridgo/internal/store"
	"github.com/vk/sweepgridgo/internal/testutil"
)

// costIsA reports the value of --a as the cost, so configuration a=1 always
// wins every block.
func costIsA(cmdline string) testutil.Response {
	return testutil.Response{Stdout: `{"cost": ` + argValue(cmdline, "a") + `}`}
}

func TestNewRace_SplitsInstances(t *testing.T) {
	s := inmemorystore.New()
	gen := `{"and": [{"a": [1, 2]}, {"b": ["x", "y"]}, {"i": [1, 2, 3, 4, 5]}]}`

	r, err := NewRace(newRecord(model.KindRace, "split", gen), s, Options{})
	require.NoError(t, err)

	require.Len(t, r.Configurations(), 4)
	for _, conf := range r.Configurations() {
		_, ok := conf.Get("i")
		assert.False(t, ok)
	}
	assert.ElementsMatch(t, []any{1.0, 2.0, 3.0, 4.0, 5.0}, r.Instances())

	again, err := NewRace(newRecord(model.KindRace, "split", gen), s, Options{})
	require.NoError(t, err)
	if diff := cmp.Diff(r.Instances(), again.Instances()); diff != "" {
		t.Errorf("same seed must shuffle the same way (-first +second):\n%s", diff)
	}
}

func TestNewRace_MissingInstanceParameter(t *testing.T) {
	_, err := NewRace(newRecord(model.KindRace, "bad", `{"a": [1, 2]}`), inmemorystore.New(), Options{})
	assert.ErrorContains(t, err, `instance parameter "i"`)
}

func TestRace_PrunesInferiorConfigurations(t *testing.T) {
	// --- Arrange ---
	ctx := testutil.Context(t)
	s := inmemorystore.New()
	rec, _, err := Prepare(ctx, s, newRecord(model.KindRace, "friedman", `{"and": [{"a": [1, 2, 3]}, {"i": [1, 2, 3]}]}`))
	require.NoError(t, err)

	fake := &testutil.FakeRunner{Respond: costIsA}
	events := &monitor.Recorder{}
	r, err := NewRace(rec, s, Options{Threads: 1, Runner: fake, Notifier: events})
	require.NoError(t, err)

	// --- Act ---
	require.NoError(t, r.Run(ctx))

	// --- Assert ---
	assert.Len(t, fake.Commands(), 9)

	stored, err := store.GetBatch(ctx, s, "friedman")
	require.NoError(t, err)
	assert.False(t, stored.Unfinished())
	assert.Equal(t, 3, stored.IterationsCompleted)
	assert.Equal(t, []int{0}, stored.Racing())
	assert.Equal(t, []int{0}, stored.Best())
	require.NotNil(t, stored.PValue)
	assert.InDelta(t, math.Exp(-3), *stored.PValue, 1e-9)

	winner := stored.Configurations[0]
	require.NotNil(t, winner.SumOfRanks)
	assert.Equal(t, 3.0, *winner.SumOfRanks)
	assert.Equal(t, 3, winner.IterationsCompleted)
	assert.True(t, stored.Configurations[1].Pruned)
	assert.True(t, stored.Configurations[2].Pruned)

	assert.Len(t, events.OfType(monitor.IterationCompleted), 3)
	assert.Len(t, events.OfType(monitor.Pruned), 1)
}

func TestRace_FirstIterationCarriesInstance(t *testing.T) {
	// --- Arrange ---
	ctx := testutil.Context(t)
	s := inmemorystore.New()
	rec, _, err := Prepare(ctx, s, newRecord(model.KindRace, "opening", `{"and": [{"a": [1, 2, 3]}, {"i": [1, 2]}]}`))
	require.NoError(t, err)

	fake := &testutil.FakeRunner{Respond: costIsA}
	r, err := NewRace(rec, s, Options{Threads: 1, Runner: fake})
	require.NoError(t, err)
	first := param.FormatValue(r.Instances()[0])

	// --- Act ---
	require.NoError(t, r.Run(ctx))

	// --- Assert ---
	commands := fake.Commands()
	require.Len(t, commands, 6)
	assert.Equal(t, "exe --a 1 --i "+first, commands[0], "the first job already belongs to an iteration")
	for _, cmdline := range commands {
		assert.NotEmpty(t, argValue(cmdline, "i"), "command %q has no instance", cmdline)
	}

	stored, err := store.GetBatch(ctx, s, "opening")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.IterationsCompleted)
	assert.Equal(t, []int{0, 1, 2}, stored.Racing())
}

func TestRace_PrunedConfigurationsStopRunning(t *testing.T) {
	// --- Arrange ---
	ctx, cancel := context.WithTimeout(testutil.Context(t), 10*time.Second)
	defer cancel()
	s := inmemorystore.New()
	gen := `{"and": [{"a": [1, 2, 3, 4]}, {"i": [1, 2, 3, 4, 5, 6]}]}`
	rec, _, err := Prepare(ctx, s, newRecord(model.KindRace, "cancel", gen))
	require.NoError(t, err)

	// a=1 and a=2 tie, a=3 and a=4 lose every opening block and never
	// finish a later one.
	opening := map[string]bool{}
	isLoser := func(cmdline string) bool {
		a := argValue(cmdline, "a")
		return a == "3" || a == "4"
	}
	fake := &testutil.FakeRunner{
		Respond: func(cmdline string) testutil.Response {
			if !isLoser(cmdline) {
				return testutil.Response{Stdout: `{"cost": 1}`}
			}
			if opening[argValue(cmdline, "i")] {
				return testutil.Response{Stdout: `{"cost": 10}`}
			}
			return testutil.Response{Block: true}
		},
	}
	r, err := NewRace(rec, s, Options{Threads: 8, Runner: fake, PollInterval: 10 * time.Millisecond})
	require.NoError(t, err)
	for _, inst := range r.Instances()[:rec.InitialBlock] {
		opening[param.FormatValue(inst)] = true
	}

	// --- Act ---
	err = r.Run(ctx)

	// --- Assert ---
	require.NoError(t, err)
	require.NoError(t, ctx.Err(), "the race must not wait on pruned experiments")

	stored, err := store.GetBatch(ctx, s, "cancel")
	require.NoError(t, err)
	assert.False(t, stored.Unfinished())
	assert.Equal(t, []int{0, 1}, stored.Racing())
	assert.True(t, stored.Configurations[2].Pruned)
	assert.True(t, stored.Configurations[3].Pruned)
	assert.Equal(t, 6, stored.IterationsCompleted)

	saved, err := s.Experiments(ctx, store.ExperimentFilter{BatchID: rec.ID})
	require.NoError(t, err)
	perConfiguration := map[string]int{}
	for _, e := range saved {
		perConfiguration[param.FormatValue(e.Parameters["a"])]++
	}
	want := map[string]int{"1": 6, "2": 6, "3": rec.InitialBlock, "4": rec.InitialBlock}
	if diff := cmp.Diff(want, perConfiguration); diff != "" {
		t.Errorf("records per configuration mismatch (-want +got):\n%s", diff)
	}

	late := 0
	for _, cmdline := range fake.Commands() {
		if isLoser(cmdline) && !opening[argValue(cmdline, "i")] {
			late++
		}
	}
	assert.Equal(t, late, fake.Killed(), "every late experiment of a pruned configuration is killed")
}

func TestRace_TwoConfigurationsNeedTenBlocks(t *testing.T) {
	ctx := testutil.Context(t)
	s := inmemorystore.New()
	rec := newRecord(model.KindRace, "wilcoxon", `{"and": [{"a": [1, 2]}, {"i": [1, 2, 3, 4, 5]}]}`)
	rec.InitialBlock = 1
	rec, _, err := Prepare(ctx, s, rec)
	require.NoError(t, err)

	fake := &testutil.FakeRunner{Respond: costIsA}
	r, err := NewRace(rec, s, Options{Threads: 2, Runner: fake})
	require.NoError(t, err)
	require.NoError(t, r.Run(ctx))

	stored, err := store.GetBatch(ctx, s, "wilcoxon")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, stored.Racing())
	assert.Equal(t, 5, stored.IterationsCompleted)
	assert.Nil(t, stored.PValue)
	assert.Len(t, fake.Commands(), 10)
}

func TestRace_CompletionsCloseIterationsInOrder(t *testing.T) {
	// --- Arrange ---
	ctx := testutil.Context(t)
	s := inmemorystore.New()
	rec, _, err := Prepare(ctx, s, newRecord(model.KindRace, "ordered", `{"and": [{"a": [1, 2, 3]}, {"i": [1, 2, 3, 4]}]}`))
	require.NoError(t, err)
	r, err := NewRace(rec, s, Options{Threads: 1})
	require.NoError(t, err)

	r.reset()
	for r.iterations.HasMore() {
		r.blocks = append(r.blocks, r.iterations.Next())
		r.executed = append(r.executed, map[int]bool{})
	}
	for _, block := range r.blocks {
		for _, conf := range r.Configurations() {
			e := model.NewExperiment(rec.ID, "exe", append(conf.Clone(), block...))
			a, ok := conf.Get("a")
			require.True(t, ok)
			e.Stats["cost"] = a.Value
			require.NoError(t, s.SaveExperiment(ctx, e))
		}
	}

	pending := []*executor.Job{
		executor.NewJob(model.NewExperiment(rec.ID, "exe", nil), param.List{}),
		executor.NewJob(model.NewExperiment(rec.ID, "exe", nil), param.List{}),
	}
	pending[0].Configuration, pending[1].Configuration = 0, 1
	for _, j := range pending {
		require.True(t, r.track(j))
	}

	// --- Act & Assert ---
	for it := 2; it >= 1; it-- {
		for c := 0; c < 3; c++ {
			r.completed(ctx, it, c)
		}
	}
	assert.Equal(t, 0, r.iterationsCompleted, "later iterations are buffered")
	assert.Len(t, r.racing, 3)

	r.completed(ctx, 0, 0)
	r.completed(ctx, 0, 1)
	assert.Equal(t, 0, r.iterationsCompleted)

	r.completed(ctx, 0, 2)
	assert.Equal(t, 3, r.iterationsCompleted, "buffered iterations cascade")
	assert.Equal(t, []int{0}, r.racing)
	for _, j := range pending {
		assert.True(t, j.Interrupted(), "a single survivor cancels all remaining work")
	}
}

func TestRace_MissingPerformanceFails(t *testing.T) {
	ctx := testutil.Context(t)
	s := inmemorystore.New()
	rec, _, err := Prepare(ctx, s, newRecord(model.KindRace, "nostat", `{"and": [{"a": [1, 2, 3]}, {"i": [1, 2, 3]}]}`))
	require.NoError(t, err)

	r, err := NewRace(rec, s, Options{Threads: 1, Runner: &testutil.FakeRunner{}})
	require.NoError(t, err)

	err = r.Run(ctx)
	assert.ErrorContains(t, err, `no numeric "cost"`)
}
