// Package storetest is a conformance suite shared by every store.Store
// backend.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/sweepgridgo/internal/model"
	"github.com/vk/sweepgridgo/internal/param"
	"github.com/vk/sweepgridgo/internal/store"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Run exercises newStore against the store.Store contract.
func Run(t *testing.T, newStore Factory) {
	t.Run("batches", func(t *testing.T) { testBatches(t, newStore(t)) })
	t.Run("experiments", func(t *testing.T) { testExperiments(t, newStore(t)) })
	t.Run("delete batch", func(t *testing.T) { testDeleteBatch(t, newStore(t)) })
	t.Run("concurrent saves", func(t *testing.T) { testConcurrentSaves(t, newStore(t)) })
}

func newBatch(name string, started time.Time) *model.Batch {
	return &model.Batch{
		Kind:        model.KindBatch,
		Name:        name,
		Executable:  "./solver",
		Generator:   []byte(`{"type":"discrete","name":"a","values":[1,2]}`),
		Repetitions: 1,
		DateStarted: started,
		DateStopped: started,
	}
}

func testBatches(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	older := newBatch("tuning-a", epoch)
	newer := newBatch("tuning-b", epoch.Add(time.Hour))
	other := newBatch("other", epoch.Add(2*time.Hour))
	for _, b := range []*model.Batch{older, newer, other} {
		require.NoError(t, s.SaveBatch(ctx, b))
		require.NotEmpty(t, b.ID, "an ID is assigned on first save")
	}

	got, err := store.GetBatch(ctx, s, "tuning-a")
	require.NoError(t, err)
	assert.Equal(t, older.ID, got.ID)
	assert.True(t, got.Unfinished())
	assert.JSONEq(t, string(older.Generator), string(got.Generator))

	_, err = store.GetBatch(ctx, s, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	matching, err := s.Batches(ctx, store.BatchFilter{NamePattern: "^tuning"})
	require.NoError(t, err)
	require.Len(t, matching, 2)
	assert.Equal(t, "tuning-b", matching[0].Name, "newest first")

	limited, err := s.Batches(ctx, store.BatchFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "other", limited[0].Name)

	older.Stop(epoch.Add(time.Minute))
	older.Confidence = 0.05
	require.NoError(t, s.SaveBatch(ctx, older))
	got, err = store.GetBatch(ctx, s, "tuning-a")
	require.NoError(t, err)
	assert.False(t, got.Unfinished())
	assert.Equal(t, 0.05, got.Confidence)

	all, err := s.Batches(ctx, store.BatchFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3, "saving an existing batch replaces it")

	_, err = s.Batches(ctx, store.BatchFilter{NamePattern: "("})
	assert.Error(t, err)
}

func testExperiments(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	mk := func(batch string, rep int, copied bool, at time.Duration) *model.Experiment {
		e := model.NewExperiment(batch, "./solver", param.List{
			param.New("alpha", 1),
			param.New("mode", "fast"),
			param.New(model.RepetitionParameter, rep),
		})
		e.Copy = copied
		e.Stats["cost"] = 10.5
		e.DateStarted = epoch.Add(at)
		e.DateStopped = epoch.Add(at + time.Second)
		return e
	}

	first := mk("b1", 0, false, 0)
	second := mk("b1", 1, false, time.Minute)
	elsewhere := mk("b2", 0, false, 2*time.Minute)
	copied := mk("b3", 0, true, 3*time.Minute)
	for _, e := range []*model.Experiment{second, first, elsewhere, copied} {
		require.NoError(t, s.SaveExperiment(ctx, e))
		require.NotEmpty(t, e.ID)
	}

	inBatch, err := s.Experiments(ctx, store.ExperimentFilter{BatchID: "b1"})
	require.NoError(t, err)
	require.Len(t, inBatch, 2)
	assert.Equal(t, first.ID, inBatch[0].ID, "oldest first")
	assert.Equal(t, 10.5, inBatch[0].Stats["cost"])
	assert.Equal(t, time.Second, inBatch[0].Duration())

	similar, err := s.Experiments(ctx, store.ExperimentFilter{
		ExcludeBatchID: "b1",
		Executable:     "./solver",
		Parameters:     map[string]any{"alpha": 1.0, "mode": "fast"},
		Copy:           store.Bool(false),
	})
	require.NoError(t, err)
	require.Len(t, similar, 1)
	assert.Equal(t, elsewhere.ID, similar[0].ID)

	exact := map[string]any{"alpha": 1, "mode": "fast", model.RepetitionParameter: 1}
	found, err := store.ExperimentExists(ctx, s, store.ExperimentFilter{BatchID: "b1", Parameters: exact, ExactParameters: true})
	require.NoError(t, err)
	assert.True(t, found)

	delete(exact, "mode")
	found, err = store.ExperimentExists(ctx, s, store.ExperimentFilter{BatchID: "b1", Parameters: exact, ExactParameters: true})
	require.NoError(t, err)
	assert.False(t, found, "exact matching rejects extra stored parameters")

	n, err := s.RemoveExperiments(ctx, store.ExperimentFilter{BatchID: "b1"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rest, err := s.Experiments(ctx, store.ExperimentFilter{})
	require.NoError(t, err)
	assert.Len(t, rest, 2)
}

func testDeleteBatch(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	b := newBatch("doomed", epoch)
	require.NoError(t, s.SaveBatch(ctx, b))
	for i := 0; i < 3; i++ {
		e := model.NewExperiment(b.ID, "./solver", param.List{param.New("i", i)})
		require.NoError(t, s.SaveExperiment(ctx, e))
	}

	require.NoError(t, store.DeleteBatch(ctx, s, b))

	_, err := store.GetBatch(ctx, s, "doomed")
	assert.ErrorIs(t, err, store.ErrNotFound)
	left, err := s.Experiments(ctx, store.ExperimentFilter{BatchID: b.ID})
	require.NoError(t, err)
	assert.Empty(t, left)
}

func testConcurrentSaves(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	const numGoroutines = 50

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(i int) {
			defer wg.Done()
			e := model.NewExperiment("concurrent", "./solver", param.List{param.New("i", i)})
			if err := s.SaveExperiment(ctx, e); err != nil {
				t.Errorf("save %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	all, err := s.Experiments(ctx, store.ExperimentFilter{BatchID: "concurrent"})
	require.NoError(t, err)
	require.Len(t, all, numGoroutines)

	seen := map[string]bool{}
	for _, e := range all {
		seen[fmt.Sprint(e.Parameters["i"])] = true
	}
	assert.Len(t, seen, numGoroutines)
}
