// Package monitor publishes live progress events of batches and races.
package monitor

import (
	"context"
	"sync"
	"time"
)

// EventType names a progress event.
type EventType string

const (
	BatchStarted       EventType = "batch_started"
	ExperimentFinished EventType = "experiment_finished"
	IterationCompleted EventType = "iteration_completed"
	Pruned             EventType = "pruned"
	BatchFinished      EventType = "batch_finished"
)

// Event is one progress notification.
type Event struct {
	Type  EventType      `json:"type"`
	Batch string         `json:"batch"`
	Time  time.Time      `json:"time"`
	Data  map[string]any `json:"data,omitempty"`
}

// NewEvent stamps an event with the current time.
func NewEvent(t EventType, batch string, data map[string]any) Event {
	return Event{Type: t, Batch: batch, Time: time.Now().UTC(), Data: data}
}

// Notifier delivers events. Publishing must not block the caller for long:
// it runs inside the race's critical section.
type Notifier interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events of type t.
func (r *Recorder) OfType(t EventType) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
