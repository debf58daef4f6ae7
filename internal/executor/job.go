package executor

import (
	"sync"

	"github.com/vk/sweepgridgo/internal/model"
	"github.com/vk/sweepgridgo/internal/param"
	"github.com/vk/sweepgridgo/internal/runner"
)

// Job is one experiment waiting for, or held by, a worker.
type Job struct {
	// Record is saved to the store when the run succeeds.
	Record *model.Experiment
	// Args are rendered on the command line. They omit the repetition index.
	Args param.List
	// Iteration is the race block the job belongs to, or -1.
	Iteration int
	// Configuration is the raced configuration index, or -1.
	Configuration int
	// Index and Total are for progress logs only.
	Index, Total int

	mu          sync.Mutex
	interrupted bool
	proc        runner.Process
	outcome     string
}

// NewJob creates a job outside of any race.
func NewJob(record *model.Experiment, args param.List) *Job {
	return &Job{Record: record, Args: args, Iteration: -1, Configuration: -1}
}

// Kill marks the job interrupted and terminates its process if one is
// running. The worker holding the job still waits for the process.
func (j *Job) Kill() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.interrupted = true
	if j.proc != nil {
		_ = j.proc.Kill()
	}
}

// Interrupted reports whether the job was killed or failed.
func (j *Job) Interrupted() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.interrupted
}

// Outcome is one of the metrics.Outcome* values once the job is finished.
func (j *Job) Outcome() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.outcome
}

func (j *Job) setOutcome(outcome string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.outcome = outcome
}

func (j *Job) fail() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.interrupted = true
}

// attach records the running process. A job killed before its process
// started has the process killed right away.
func (j *Job) attach(p runner.Process) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.proc = p
	if j.interrupted {
		_ = p.Kill()
	}
}

func (j *Job) detach() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.proc = nil
}
