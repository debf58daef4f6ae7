package executor

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/sweepgridgo/internal/inmemorystore"
	"github.com/vk/sweepgridgo/internal/metrics"
	"github.com/vk/sweepgridgo/internal/store"
	"github.com/vk/sweepgridgo/internal/testutil"
)

type recordingObserver struct {
	mu       sync.Mutex
	started  int
	outcomes map[string]string
}

func (o *recordingObserver) JobStarted(_ context.Context, _ *Job) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *recordingObserver) JobFinished(_ context.Context, j *Job) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.outcomes == nil {
		o.outcomes = map[string]string{}
	}
	o.outcomes[j.Args.String()] = j.Outcome()
}

func (o *recordingObserver) outcome(args string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.outcomes[args]
}

func TestPool_Run(t *testing.T) {
	// --- Arrange ---
	ctx := testutil.Context(t)
	s := inmemorystore.New()
	fake := &testutil.FakeRunner{
		Respond: func(cmdline string) testutil.Response {
			switch {
			case strings.HasSuffix(cmdline, "--x ok"):
				return testutil.Response{Stdout: `{"cost": 3, "solutions": [1, 2]}`}
			case strings.HasSuffix(cmdline, "--x exit"):
				return testutil.Response{Stdout: `{"cost": 1}`, ExitCode: 1}
			case strings.HasSuffix(cmdline, "--x launch"):
				return testutil.Response{StartErr: testutil.ErrStart}
			default:
				return testutil.Response{Stdout: "not json"}
			}
		},
	}
	obs := &recordingObserver{}
	q := NewQueue(0)
	for _, name := range []string{"ok", "exit", "garbage", "launch"} {
		require.NoError(t, q.Put(ctx, newTestJob(name)))
	}
	q.Close()
	pool := NewPool(Config{Workers: 2}, q, fake, s, obs)

	// --- Act ---
	require.NoError(t, pool.Run(ctx))

	// --- Assert ---
	assert.Equal(t, 4, obs.started)
	assert.Equal(t, metrics.OutcomeCompleted, obs.outcome("[x=ok]"))
	assert.Equal(t, metrics.OutcomeFailed, obs.outcome("[x=exit]"))
	assert.Equal(t, metrics.OutcomeFailed, obs.outcome("[x=garbage]"))
	assert.Equal(t, metrics.OutcomeFailed, obs.outcome("[x=launch]"))

	saved, err := s.Experiments(ctx, store.ExperimentFilter{})
	require.NoError(t, err)
	require.Len(t, saved, 1)
	got := saved[0]
	assert.Equal(t, map[string]any{"x": "ok"}, got.Parameters)
	if diff := cmp.Diff(map[string]any{"cost": 3.0}, got.Stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []any{1.0, 2.0}, got.Solutions)
	assert.False(t, got.DateStarted.IsZero())
	assert.Equal(t, 0, q.Unfinished())
}

func TestPool_SkipsInterruptedJobs(t *testing.T) {
	ctx := testutil.Context(t)
	fake := &testutil.FakeRunner{}
	obs := &recordingObserver{}
	q := NewQueue(0)

	j := newTestJob("a")
	j.Kill()
	require.NoError(t, q.Put(ctx, j))
	q.Close()

	require.NoError(t, NewPool(Config{Workers: 1}, q, fake, inmemorystore.New(), obs).Run(ctx))

	assert.Empty(t, fake.Commands())
	assert.Equal(t, metrics.OutcomeSkipped, j.Outcome())
}

func TestPool_KillRunningJob(t *testing.T) {
	// --- Arrange ---
	ctx := testutil.Context(t)
	s := inmemorystore.New()
	fake := &testutil.FakeRunner{
		Respond: func(string) testutil.Response { return testutil.Response{Block: true} },
		Started: make(chan string, 1),
	}
	q := NewQueue(0)
	j := newTestJob("slow")
	require.NoError(t, q.Put(ctx, j))
	q.Close()

	done := make(chan error, 1)
	go func() {
		done <- NewPool(Config{Workers: 1}, q, fake, s, &recordingObserver{}).Run(ctx)
	}()

	// --- Act ---
	select {
	case <-fake.Started:
	case <-time.After(5 * time.Second):
		t.Fatal("process never started")
	}
	j.Kill()

	// --- Assert ---
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not return after kill")
	}
	assert.Equal(t, metrics.OutcomeKilled, j.Outcome())
	assert.Equal(t, 1, fake.Killed())

	saved, err := s.Experiments(ctx, store.ExperimentFilter{})
	require.NoError(t, err)
	assert.Empty(t, saved)
}

func TestPool_CancelSkipsRemainingJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(testutil.Context(t))
	cancel()

	fake := &testutil.FakeRunner{}
	q := NewQueue(0)
	jobs := []*Job{newTestJob("a"), newTestJob("b")}
	for _, j := range jobs {
		require.NoError(t, q.Put(context.Background(), j))
	}
	q.Close()

	require.NoError(t, NewPool(Config{Workers: 2}, q, fake, inmemorystore.New(), &recordingObserver{}).Run(ctx))

	assert.Empty(t, fake.Commands())
	for _, j := range jobs {
		assert.Equal(t, metrics.OutcomeSkipped, j.Outcome())
	}
}

func TestPool_LaunchInterval(t *testing.T) {
	ctx := testutil.Context(t)
	fake := &testutil.FakeRunner{}
	q := NewQueue(0)
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, q.Put(ctx, newTestJob(name)))
	}
	q.Close()

	start := time.Now()
	require.NoError(t, NewPool(Config{Workers: 3, LaunchInterval: 20 * time.Millisecond}, q, fake, inmemorystore.New(), &recordingObserver{}).Run(ctx))

	assert.Len(t, fake.Commands(), 3)
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
}
