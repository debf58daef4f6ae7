// Package report renders batches, configurations and experiments for the
// command line: progress summaries, tables and CSV dumps.
package report

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/vk/sweepgridgo/internal/model"
	"github.com/vk/sweepgridgo/internal/pex"
	"github.com/vk/sweepgridgo/internal/store"
)

// DateLayout is used for start and stop dates.
const DateLayout = "02/01/06 15:04"

// Summary is one row of the batch listing.
type Summary struct {
	Name       string
	Completion string
	Host       string
	User       string
	Type       model.Kind
	Started    string
	Finished   string
	ETA        string
	Active     bool
}

// Progress is what a batch has left to do.
type Progress struct {
	// Count is the number of tuples of the generator, repetitions excluded.
	Count       int
	Experiments int
	// MeanDuration and LastStopped come from the recorded experiments.
	MeanDuration time.Duration
	LastStopped  time.Time
}

// Completion renders how far a batch got. Full batches report a
// percentage; races report surviving configurations and the last p-value.
func Completion(b *model.Batch, p Progress) string {
	if b.IsRace() {
		racing, total := len(b.Racing()), len(b.Configurations)
		if racing > 1 && b.PValue != nil {
			return fmt.Sprintf("%d / %d (p-value: %.2f)", racing, total, *b.PValue)
		}
		return fmt.Sprintf("%d / %d", racing, total)
	}
	want := p.Count * b.Repetitions
	if want == 0 {
		return "0.00 %"
	}
	return fmt.Sprintf("%.2f %%", float64(p.Experiments)/float64(want)*100)
}

// Missing estimates the number of experiments still to run.
func Missing(b *model.Batch, p Progress) int {
	if b.IsRace() {
		total := len(b.Configurations)
		if total == 0 {
			return 0
		}
		iterations := p.Count * b.Repetitions / total
		return max(0, (iterations-b.IterationsCompleted)*len(b.Racing()))
	}
	return max(0, p.Count*b.Repetitions-p.Experiments)
}

// ETA estimates the remaining wall time given the batch's thread count.
func ETA(b *model.Batch, p Progress) time.Duration {
	threads := max(1, b.Threads)
	return time.Duration(float64(p.MeanDuration) * float64(Missing(b, p)) / float64(threads))
}

// Active reports whether an unfinished batch stopped an experiment within
// twice the mean experiment duration.
func Active(b *model.Batch, p Progress, now time.Time) bool {
	if !b.Unfinished() || p.LastStopped.IsZero() {
		return false
	}
	return now.Sub(p.LastStopped) < 2*p.MeanDuration
}

// FormatETA renders days, hours and minutes, or "--" below a minute.
func FormatETA(eta time.Duration, threads int) string {
	secs := eta.Seconds()
	var parts []string
	if d := math.Floor(secs / 86400); d > 0 {
		parts = append(parts, fmt.Sprintf("%dd", int(d)))
	}
	if h := math.Floor(math.Mod(secs, 86400) / 3600); h > 0 {
		parts = append(parts, fmt.Sprintf("%dh", int(h)))
	}
	if m := math.Floor(math.Mod(secs, 3600) / 60); m > 0 {
		parts = append(parts, fmt.Sprintf("%dm", int(m)))
	}
	if len(parts) == 0 {
		return "--"
	}
	return fmt.Sprintf("%s (%d cores)", strings.Join(parts, " "), max(1, threads))
}

// Measure collects the progress of b from the store.
func Measure(ctx context.Context, s store.Store, b *model.Batch) (Progress, error) {
	gen, err := pex.Parse(b.Generator)
	if err != nil {
		return Progress{}, fmt.Errorf("invalid generator of %q: %w", b.Name, err)
	}
	experiments, err := s.Experiments(ctx, store.ExperimentFilter{BatchID: b.ID})
	if err != nil {
		return Progress{}, err
	}

	p := Progress{Count: gen.Count(), Experiments: len(experiments)}
	var total time.Duration
	var timed int
	for _, e := range experiments {
		if e.DateStopped.IsZero() {
			continue
		}
		total += e.Duration()
		timed++
		if e.DateStopped.After(p.LastStopped) {
			p.LastStopped = e.DateStopped
		}
	}
	if timed > 0 {
		p.MeanDuration = total / time.Duration(timed)
	}
	return p, nil
}

// Summarize builds the listing row of b.
func Summarize(ctx context.Context, s store.Store, b *model.Batch, now time.Time) (Summary, error) {
	p, err := Measure(ctx, s, b)
	if err != nil {
		return Summary{}, err
	}

	finished := "never"
	if !b.Unfinished() {
		finished = b.DateStopped.Format(DateLayout)
	}
	eta := "--"
	if b.Unfinished() {
		eta = FormatETA(ETA(b, p), b.Threads)
	}
	return Summary{
		Name:       b.Name,
		Completion: Completion(b, p),
		Host:       b.Host,
		User:       b.User,
		Type:       b.Kind,
		Started:    b.DateStarted.Format(DateLayout),
		Finished:   finished,
		ETA:        eta,
		Active:     Active(b, p, now),
	}, nil
}
