package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/vk/sweepgridgo/internal/runner"
)

// Response scripts the outcome of one fake process.
type Response struct {
	Stdout   string
	Stderr   string
	ExitCode int
	// Delay keeps the process running for a while before it exits.
	Delay time.Duration
	// Block keeps the process running until it is killed or its context
	// is cancelled.
	Block bool
	// StartErr fails the launch itself.
	StartErr error
}

// FakeRunner is a scripted runner.Runner. It records every command line it
// starts and never spawns a real process.
type FakeRunner struct {
	// Respond decides the outcome of each command line. Nil means every
	// command prints an empty JSON object and exits 0.
	Respond func(cmdline string) Response
	// Started, when set, receives every command line once its process runs.
	Started chan string

	mu         sync.Mutex
	commands   []string
	running    int
	maxRunning int
	killed     int
}

var _ runner.Runner = (*FakeRunner)(nil)

// ErrStart is a ready-made launch failure.
var ErrStart = errors.New("fake launch failure")

// JSON renders v as an experiment output line.
func JSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

func (f *FakeRunner) Start(ctx context.Context, cmdline string) (runner.Process, error) {
	resp := Response{Stdout: "{}"}
	if f.Respond != nil {
		resp = f.Respond(cmdline)
	}
	if resp.StartErr != nil {
		return nil, resp.StartErr
	}

	f.mu.Lock()
	f.commands = append(f.commands, cmdline)
	f.running++
	if f.running > f.maxRunning {
		f.maxRunning = f.running
	}
	f.mu.Unlock()

	p := &fakeProcess{owner: f, ctx: ctx, resp: resp, kill: make(chan struct{})}
	if f.Started != nil {
		f.Started <- cmdline
	}
	return p, nil
}

// Commands returns the command lines started so far, in launch order.
func (f *FakeRunner) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

// MaxRunning is the highest number of processes that ran at once.
func (f *FakeRunner) MaxRunning() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxRunning
}

// Killed is the number of processes terminated through Kill or cancellation.
func (f *FakeRunner) Killed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.killed
}

type fakeProcess struct {
	owner *FakeRunner
	ctx   context.Context
	resp  Response

	once sync.Once
	kill chan struct{}
}

func (p *fakeProcess) Wait() (runner.Result, error) {
	defer func() {
		p.owner.mu.Lock()
		p.owner.running--
		p.owner.mu.Unlock()
	}()

	if p.resp.Block {
		select {
		case <-p.kill:
		case <-p.ctx.Done():
			_ = p.Kill()
		}
		return runner.Result{ExitCode: -1}, nil
	}

	if p.resp.Delay > 0 {
		timer := time.NewTimer(p.resp.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-p.kill:
		case <-p.ctx.Done():
			_ = p.Kill()
		}
	}

	select {
	case <-p.kill:
		return runner.Result{ExitCode: -1}, nil
	default:
	}
	return runner.Result{
		ExitCode: p.resp.ExitCode,
		Stdout:   []byte(p.resp.Stdout),
		Stderr:   []byte(p.resp.Stderr),
	}, nil
}

func (p *fakeProcess) Kill() error {
	p.once.Do(func() {
		p.owner.mu.Lock()
		p.owner.killed++
		p.owner.mu.Unlock()
		close(p.kill)
	})
	return nil
}
