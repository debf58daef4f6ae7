package inmemorystore

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/vk/sweepgridgo/internal/model"
	"github.com/vk/sweepgridgo/internal/store"
)

// Store is an in-memory implementation of store.Store using sync.Map for
// fine-grained concurrent access.
//
// The store maintains two independent sync.Maps:
//   - batches: batch ID to the JSON encoding of a model.Batch
//   - experiments: experiment ID to the JSON encoding of a model.Experiment
type Store struct {
	batches     sync.Map
	experiments sync.Map
}

var _ store.Store = (*Store)(nil)

// New creates a new, empty in-memory store.
func New() *Store {
	return &Store{}
}

func (s *Store) SaveBatch(ctx context.Context, b *model.Batch) error {
	if b.ID == "" {
		b.ID = store.NewID()
	}
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	s.batches.Store(b.ID, data)
	return nil
}

func (s *Store) Batches(ctx context.Context, f store.BatchFilter) ([]*model.Batch, error) {
	match, err := f.Compile()
	if err != nil {
		return nil, err
	}

	var out []*model.Batch
	var decodeErr error
	s.batches.Range(func(_, v any) bool {
		var b model.Batch
		if decodeErr = json.Unmarshal(v.([]byte), &b); decodeErr != nil {
			return false
		}
		if match(&b) {
			out = append(out, &b)
		}
		return true
	})
	if decodeErr != nil {
		return nil, decodeErr
	}
	return store.SortBatches(out, f.Limit), nil
}

func (s *Store) RemoveBatches(ctx context.Context, f store.BatchFilter) (int, error) {
	found, err := s.Batches(ctx, f)
	if err != nil {
		return 0, err
	}
	for _, b := range found {
		s.batches.Delete(b.ID)
	}
	return len(found), nil
}

func (s *Store) SaveExperiment(ctx context.Context, e *model.Experiment) error {
	if e.ID == "" {
		e.ID = store.NewID()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	s.experiments.Store(e.ID, data)
	return nil
}

func (s *Store) Experiments(ctx context.Context, f store.ExperimentFilter) ([]*model.Experiment, error) {
	var out []*model.Experiment
	var decodeErr error
	s.experiments.Range(func(_, v any) bool {
		var e model.Experiment
		if decodeErr = json.Unmarshal(v.([]byte), &e); decodeErr != nil {
			return false
		}
		if f.Match(&e) {
			out = append(out, &e)
		}
		return true
	})
	if decodeErr != nil {
		return nil, decodeErr
	}
	return store.SortExperiments(out), nil
}

func (s *Store) RemoveExperiments(ctx context.Context, f store.ExperimentFilter) (int, error) {
	found, err := s.Experiments(ctx, f)
	if err != nil {
		return 0, err
	}
	for _, e := range found {
		s.experiments.Delete(e.ID)
	}
	return len(found), nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
