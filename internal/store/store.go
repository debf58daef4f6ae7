// Package store defines the persistence interface for batches and
// experiments.
//
// # Backends
//
// Three implementations live in sibling packages:
//   - inmemorystore: ephemeral, for tests and dry runs
//   - badgerstore: an embedded key-value database, the default
//   - pgstore: PostgreSQL, for sharing results between machines
//
// Every backend stores records as JSON and applies the filters defined here
// in Go, so query semantics are identical across backends.
//
// # Thread-Safety Requirements
//
// Implementations MUST be safe for concurrent use. Workers save experiments
// while the driving batch queries and saves its own record.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"github.com/vk/sweepgridgo/internal/model"
	"github.com/vk/sweepgridgo/internal/param"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Store persists batches and experiments.
type Store interface {
	// SaveBatch inserts or replaces b. An empty ID is assigned first.
	SaveBatch(ctx context.Context, b *model.Batch) error
	// Batches returns the batches matching f, newest first.
	Batches(ctx context.Context, f BatchFilter) ([]*model.Batch, error)
	// RemoveBatches deletes the batches matching f and reports how many.
	RemoveBatches(ctx context.Context, f BatchFilter) (int, error)

	// SaveExperiment inserts or replaces e. An empty ID is assigned first.
	SaveExperiment(ctx context.Context, e *model.Experiment) error
	// Experiments returns the experiments matching f, oldest first.
	Experiments(ctx context.Context, f ExperimentFilter) ([]*model.Experiment, error)
	// RemoveExperiments deletes the experiments matching f and reports how many.
	RemoveExperiments(ctx context.Context, f ExperimentFilter) (int, error)

	Close() error
}

// NewID returns a time-ordered identifier for a new record.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// BatchFilter selects batches. Zero fields match everything.
type BatchFilter struct {
	ID   string
	Name string
	// NamePattern is an unanchored regular expression on the name.
	NamePattern string
	// Limit caps the number of results when positive.
	Limit int
}

// Compile validates the filter and returns its matcher.
func (f BatchFilter) Compile() (func(*model.Batch) bool, error) {
	var re *regexp.Regexp
	if f.NamePattern != "" {
		var err error
		if re, err = regexp.Compile(f.NamePattern); err != nil {
			return nil, fmt.Errorf("invalid name filter: %w", err)
		}
	}
	return func(b *model.Batch) bool {
		if f.ID != "" && b.ID != f.ID {
			return false
		}
		if f.Name != "" && b.Name != f.Name {
			return false
		}
		return re == nil || re.MatchString(b.Name)
	}, nil
}

// ExperimentFilter selects experiments. Zero fields match everything.
type ExperimentFilter struct {
	BatchID        string
	ExcludeBatchID string
	Executable     string
	// Parameters must all be present with matching values. Repetition is
	// not implied: leave it out to match any repetition.
	Parameters map[string]any
	// ExactParameters additionally requires no other parameters.
	ExactParameters bool
	Copy            *bool
}

// Match reports whether e satisfies f.
func (f ExperimentFilter) Match(e *model.Experiment) bool {
	if f.BatchID != "" && e.BatchID != f.BatchID {
		return false
	}
	if f.ExcludeBatchID != "" && e.BatchID == f.ExcludeBatchID {
		return false
	}
	if f.Executable != "" && e.Executable != f.Executable {
		return false
	}
	if f.Copy != nil && e.Copy != *f.Copy {
		return false
	}
	if f.ExactParameters && len(e.Parameters) != len(f.Parameters) {
		return false
	}
	for name, want := range f.Parameters {
		got, ok := e.Parameters[name]
		if !ok || !param.MatchValues(want, got) {
			return false
		}
	}
	return true
}

// Bool returns a pointer to v, for ExperimentFilter.Copy.
func Bool(v bool) *bool { return &v }

// GetBatch returns the single batch named name.
func GetBatch(ctx context.Context, s Store, name string) (*model.Batch, error) {
	batches, err := s.Batches(ctx, BatchFilter{Name: name})
	if err != nil {
		return nil, err
	}
	if len(batches) == 0 {
		return nil, fmt.Errorf("batch %q: %w", name, ErrNotFound)
	}
	return batches[0], nil
}

// ExperimentExists reports whether any experiment matches f.
func ExperimentExists(ctx context.Context, s Store, f ExperimentFilter) (bool, error) {
	found, err := s.Experiments(ctx, f)
	if err != nil {
		return false, err
	}
	return len(found) > 0, nil
}

// DeleteBatch removes a batch and all of its experiments.
func DeleteBatch(ctx context.Context, s Store, b *model.Batch) error {
	if _, err := s.RemoveExperiments(ctx, ExperimentFilter{BatchID: b.ID}); err != nil {
		return fmt.Errorf("failed to remove experiments of %q: %w", b.Name, err)
	}
	if _, err := s.RemoveBatches(ctx, BatchFilter{ID: b.ID}); err != nil {
		return fmt.Errorf("failed to remove batch %q: %w", b.Name, err)
	}
	return nil
}
