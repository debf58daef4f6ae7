package model

import (
	"sort"
	"time"

	"github.com/vk/sweepgridgo/internal/param"
)

// Experiment is one recorded execution.
type Experiment struct {
	ID          string         `json:"id"`
	BatchID     string         `json:"batch"`
	Executable  string         `json:"executable"`
	Parameters  map[string]any `json:"parameters"`
	Copy        bool           `json:"copy"`
	Stats       map[string]any `json:"stats"`
	Solutions   []any          `json:"solutions"`
	DateStarted time.Time      `json:"date_started"`
	DateStopped time.Time      `json:"date_stopped"`
}

// NewExperiment creates an unsaved experiment for params.
func NewExperiment(batchID, executable string, params param.List) *Experiment {
	return &Experiment{
		BatchID:    batchID,
		Executable: executable,
		Parameters: params.Map(),
		Stats:      map[string]any{},
		Solutions:  []any{},
	}
}

// Params returns the parameters sorted by name.
func (e *Experiment) Params() param.List {
	names := make([]string, 0, len(e.Parameters))
	for name := range e.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(param.List, 0, len(names))
	for _, name := range names {
		out = append(out, param.New(name, e.Parameters[name]))
	}
	return out
}

// Duration is the wall time of the run.
func (e *Experiment) Duration() time.Duration {
	return e.DateStopped.Sub(e.DateStarted)
}

// Repetition returns the repetition index, or -1 when it is absent.
func (e *Experiment) Repetition() int {
	f, ok := param.Float(e.Parameters[RepetitionParameter])
	if !ok {
		return -1
	}
	return int(f)
}

// CopyTo clones e into another batch, flagged as a copy.
func (e *Experiment) CopyTo(batchID string, repetition int) *Experiment {
	params := make(map[string]any, len(e.Parameters))
	for k, v := range e.Parameters {
		params[k] = v
	}
	params[RepetitionParameter] = repetition

	stats := make(map[string]any, len(e.Stats))
	for k, v := range e.Stats {
		stats[k] = v
	}

	return &Experiment{
		BatchID:     batchID,
		Executable:  e.Executable,
		Parameters:  params,
		Copy:        true,
		Stats:       stats,
		Solutions:   append([]any(nil), e.Solutions...),
		DateStarted: e.DateStarted,
		DateStopped: e.DateStopped,
	}
}
