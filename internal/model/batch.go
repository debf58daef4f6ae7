package model

import (
	"encoding/json"
	"math"
	"time"

	"github.com/vk/sweepgridgo/internal/param"
)

// Kind tells full batches and races apart.
type Kind string

const (
	KindBatch Kind = "batch"
	KindRace  Kind = "race"
)

// RepetitionParameter names the synthetic parameter that indexes repetitions.
const RepetitionParameter = "repetition"

// Assignment is one named value of a stored configuration.
type Assignment struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// ConfigurationState is the persisted ranking state of one raced configuration.
type ConfigurationState struct {
	Parameters          []Assignment `json:"parameters"`
	IterationsCompleted int          `json:"iterations_completed"`
	// SumOfRanks is nil until the configuration has been ranked once.
	SumOfRanks *float64 `json:"sum_of_ranks,omitempty"`
	Pruned     bool     `json:"pruned"`
}

// Rank returns the sum of ranks, or +Inf when the configuration is unranked.
func (c ConfigurationState) Rank() float64 {
	if c.SumOfRanks == nil {
		return math.Inf(1)
	}
	return *c.SumOfRanks
}

// Params rebuilds the configuration as a parameter list.
func (c ConfigurationState) Params() param.List {
	out := make(param.List, 0, len(c.Parameters))
	for _, a := range c.Parameters {
		out = append(out, param.New(a.Name, a.Value))
	}
	return out
}

// Assignments converts a parameter list into its stored form.
func Assignments(l param.List) []Assignment {
	out := make([]Assignment, 0, len(l))
	for _, p := range l {
		out = append(out, Assignment{Name: p.Name, Value: p.Value})
	}
	return out
}

// Batch is a persisted sweep. Race-only fields are zero for full batches.
type Batch struct {
	ID          string          `json:"id"`
	Kind        Kind            `json:"type"`
	Name        string          `json:"name"`
	Executable  string          `json:"executable"`
	Generator   json.RawMessage `json:"generator"`
	Repetitions int             `json:"repetitions"`
	Threads     int             `json:"threads"`
	Separator   string          `json:"separator"`
	Prefix      string          `json:"prefix"`
	DateStarted time.Time       `json:"date_started"`
	DateStopped time.Time       `json:"date_stopped"`
	Host        string          `json:"host"`
	User        string          `json:"user"`
	System      string          `json:"system"`

	InstanceParameter    string               `json:"instance_parameter,omitempty"`
	PerformanceParameter string               `json:"performance_parameter,omitempty"`
	Seed                 int64                `json:"seed,omitempty"`
	InitialBlock         int                  `json:"initial_block,omitempty"`
	Confidence           float64              `json:"confidence,omitempty"`
	IterationsCompleted  int                  `json:"iterations_completed,omitempty"`
	PValue               *float64             `json:"p_value,omitempty"`
	Configurations       []ConfigurationState `json:"configurations,omitempty"`
}

// Unfinished reports whether the batch can still be resumed. A batch that
// never stopped carries equal start and stop dates.
func (b *Batch) Unfinished() bool {
	return b.DateStopped.Equal(b.DateStarted)
}

// MarkUnfinished makes the batch resumable again.
func (b *Batch) MarkUnfinished() {
	b.DateStopped = b.DateStarted
}

// Stop records the end of the run.
func (b *Batch) Stop(at time.Time) {
	b.DateStopped = at
}

// IsRace reports whether b is a race.
func (b *Batch) IsRace() bool {
	return b.Kind == KindRace
}

// Racing returns the indices of configurations that have not been pruned.
func (b *Batch) Racing() []int {
	var out []int
	for i, c := range b.Configurations {
		if !c.Pruned {
			out = append(out, i)
		}
	}
	return out
}

// Best returns the indices of racing configurations with the minimal sum of
// ranks.
func (b *Batch) Best() []int {
	best := math.Inf(1)
	racing := b.Racing()
	for _, i := range racing {
		best = math.Min(best, b.Configurations[i].Rank())
	}
	var out []int
	for _, i := range racing {
		if b.Configurations[i].Rank() == best {
			out = append(out, i)
		}
	}
	return out
}
