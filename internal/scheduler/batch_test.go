package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/sweepgridgo/internal/inmemorystore"
	"github.com/vk/sweepgridgo/internal/model"
	"github.com/vk/sweepgridgo/internal/monitor"
	"github.com/vk/sweepgridgo/internal/param"
	"github.com/vk/sweepgridgo/internal/store"
	"github.com/vk/sweepgridgo/internal/testutil"
)

func TestBatch_Run(t *testing.T) {
	// --- Arrange ---
	ctx := testutil.Context(t)
	s := inmemorystore.New()
	rec := newRecord(model.KindBatch, "full", `{"x": [1, 2]}`)
	rec.Repetitions = 2
	rec, _, err := Prepare(ctx, s, rec)
	require.NoError(t, err)

	fake := &testutil.FakeRunner{
		Respond: func(cmdline string) testutil.Response {
			return testutil.Response{Stdout: testutil.JSON(map[string]any{"cost": argValue(cmdline, "x")})}
		},
	}
	events := &monitor.Recorder{}
	b, err := NewBatch(rec, s, Options{Threads: 1, Runner: fake, Notifier: events})
	require.NoError(t, err)
	assert.Equal(t, 4, b.Generator().Count())

	// --- Act ---
	require.NoError(t, b.Run(ctx))

	// --- Assert ---
	assert.Equal(t, []string{"exe --x 1", "exe --x 2", "exe --x 1", "exe --x 2"}, fake.Commands())
	assert.Equal(t, 1, fake.MaxRunning(), "a single thread runs one process at a time")

	saved, err := s.Experiments(ctx, store.ExperimentFilter{BatchID: rec.ID})
	require.NoError(t, err)
	require.Len(t, saved, 4)
	for _, e := range saved {
		assert.Contains(t, e.Parameters, model.RepetitionParameter)
		assert.False(t, e.Copy)
	}

	stored, err := store.GetBatch(ctx, s, "full")
	require.NoError(t, err)
	assert.False(t, stored.Unfinished())
	assert.Equal(t, 1, stored.Threads)

	assert.Len(t, events.OfType(monitor.BatchStarted), 1)
	assert.Len(t, events.OfType(monitor.ExperimentFinished), 4)
	assert.Len(t, events.OfType(monitor.BatchFinished), 1)
}

func TestBatch_SkipsRecordedExperiments(t *testing.T) {
	ctx, logs := testutil.CaptureContext(t)
	s := inmemorystore.New()
	rec, _, err := Prepare(ctx, s, newRecord(model.KindBatch, "resume", `{"x": [1, 2]}`))
	require.NoError(t, err)

	done := model.NewExperiment(rec.ID, "exe", param.List{param.New(model.RepetitionParameter, 0), param.New("x", 1.0)})
	require.NoError(t, s.SaveExperiment(ctx, done))

	fake := &testutil.FakeRunner{}
	b, err := NewBatch(rec, s, Options{Threads: 2, Runner: fake})
	require.NoError(t, err)
	require.NoError(t, b.Run(ctx))

	assert.Equal(t, []string{"exe --x 2"}, fake.Commands())
	saved, err := s.Experiments(ctx, store.ExperimentFilter{BatchID: rec.ID})
	require.NoError(t, err)
	assert.Len(t, saved, 2, "a recorded configuration is never saved twice")
	assert.Contains(t, logs.String(), "Skipping (1/2)")
}

func TestBatch_DuplicateTuplesRunOnce(t *testing.T) {
	// --- Arrange ---
	ctx, logs := testutil.CaptureContext(t)
	s := inmemorystore.New()
	rec, _, err := Prepare(ctx, s, newRecord(model.KindBatch, "overlap", `{"or": [{"a": [1]}, {"a": [1]}]}`))
	require.NoError(t, err)

	fake := &testutil.FakeRunner{
		Respond: func(string) testutil.Response {
			return testutil.Response{Stdout: `{"cost": 1}`, Delay: 50 * time.Millisecond}
		},
	}
	b, err := NewBatch(rec, s, Options{Threads: 2, Runner: fake, PollInterval: 10 * time.Millisecond})
	require.NoError(t, err)
	require.Equal(t, 2, b.Generator().Count())

	// --- Act ---
	require.NoError(t, b.Run(ctx))

	// --- Assert ---
	assert.Equal(t, []string{"exe --a 1"}, fake.Commands())
	saved, err := s.Experiments(ctx, store.ExperimentFilter{BatchID: rec.ID})
	require.NoError(t, err)
	assert.Len(t, saved, 1, "the same parameters are recorded once per batch")
	assert.Contains(t, logs.String(), "Skipping (2/2)")
}

func TestBatch_GreedyCopiesFromOtherBatches(t *testing.T) {
	// --- Arrange ---
	ctx := testutil.Context(t)
	s := inmemorystore.New()

	old, _, err := Prepare(ctx, s, newRecord(model.KindBatch, "old", `{"x": [1]}`))
	require.NoError(t, err)
	prior := model.NewExperiment(old.ID, "exe", param.List{param.New(model.RepetitionParameter, 0), param.New("x", 1)})
	prior.Stats["cost"] = 5.0
	require.NoError(t, s.SaveExperiment(ctx, prior))

	rec, _, err := Prepare(ctx, s, newRecord(model.KindBatch, "new", `{"x": [1, 2]}`))
	require.NoError(t, err)
	fake := &testutil.FakeRunner{}
	b, err := NewBatch(rec, s, Options{Threads: 1, Runner: fake, Greedy: true})
	require.NoError(t, err)

	// --- Act ---
	require.NoError(t, b.Run(ctx))

	// --- Assert ---
	assert.Equal(t, []string{"exe --x 2"}, fake.Commands())

	copies, err := s.Experiments(ctx, store.ExperimentFilter{BatchID: rec.ID, Copy: store.Bool(true)})
	require.NoError(t, err)
	require.Len(t, copies, 1)
	assert.Equal(t, 5.0, copies[0].Stats["cost"])
	assert.Equal(t, 0, copies[0].Repetition())
}

func TestBatch_Interrupted(t *testing.T) {
	// --- Arrange ---
	ctx, cancel := context.WithCancel(testutil.Context(t))
	defer cancel()
	s := inmemorystore.New()
	rec, _, err := Prepare(ctx, s, newRecord(model.KindBatch, "stopped", `{"x": [1, 2, 3]}`))
	require.NoError(t, err)

	fake := &testutil.FakeRunner{
		Respond: func(string) testutil.Response { return testutil.Response{Block: true} },
		Started: make(chan string, 8),
	}
	b, err := NewBatch(rec, s, Options{Threads: 1, Runner: fake, PollInterval: 10 * time.Millisecond})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	// --- Act ---
	select {
	case <-fake.Started:
	case <-time.After(5 * time.Second):
		t.Fatal("no experiment started")
	}
	cancel()

	// --- Assert ---
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("batch did not stop")
	}

	assert.Len(t, fake.Commands(), 1)
	saved, err := s.Experiments(context.Background(), store.ExperimentFilter{BatchID: rec.ID})
	require.NoError(t, err)
	assert.Empty(t, saved)

	stored, err := store.GetBatch(context.Background(), s, "stopped")
	require.NoError(t, err)
	assert.True(t, stored.Unfinished())
}

func TestNewBatch_InvalidGenerator(t *testing.T) {
	_, err := NewBatch(newRecord(model.KindBatch, "bad", `{"x": []}`), inmemorystore.New(), Options{})
	assert.Error(t, err)
}
