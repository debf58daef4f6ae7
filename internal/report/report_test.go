package report

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/sweepgridgo/internal/inmemorystore"
	"github.com/vk/sweepgridgo/internal/model"
	"github.com/vk/sweepgridgo/internal/param"
	"github.com/vk/sweepgridgo/internal/pex"
)

func ptr(f float64) *float64 { return &f }

func TestCompletion(t *testing.T) {
	t.Run("full batch", func(t *testing.T) {
		b := &model.Batch{Kind: model.KindBatch, Repetitions: 2}
		assert.Equal(t, "25.00 %", Completion(b, Progress{Count: 4, Experiments: 2}))
		assert.Equal(t, 6, Missing(b, Progress{Count: 4, Experiments: 2}))
	})

	t.Run("race", func(t *testing.T) {
		b := &model.Batch{
			Kind:                model.KindRace,
			Repetitions:         1,
			IterationsCompleted: 2,
			PValue:              ptr(0.125),
			Configurations: []model.ConfigurationState{
				{SumOfRanks: ptr(2)}, {SumOfRanks: ptr(4)}, {Pruned: true},
			},
		}
		// 3 configurations x 5 instances.
		p := Progress{Count: 15}
		assert.Equal(t, "2 / 3 (p-value: 0.12)", Completion(b, p))
		assert.Equal(t, 6, Missing(b, p))
	})
}

func TestETA(t *testing.T) {
	b := &model.Batch{Kind: model.KindBatch, Repetitions: 1, Threads: 2}
	p := Progress{Count: 10, Experiments: 4, MeanDuration: 20 * time.Minute}

	eta := ETA(b, p)
	assert.Equal(t, time.Hour, eta)
	assert.Equal(t, "1h (2 cores)", FormatETA(eta, 2))
	assert.Equal(t, "1d 2h 3m (1 cores)", FormatETA(26*time.Hour+3*time.Minute, 1))
	assert.Equal(t, "--", FormatETA(30*time.Second, 1))
}

func TestActive(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	started := now.Add(-time.Hour)
	b := &model.Batch{DateStarted: started, DateStopped: started}
	p := Progress{MeanDuration: time.Minute, LastStopped: now.Add(-90 * time.Second)}

	assert.True(t, Active(b, p, now))

	p.LastStopped = now.Add(-3 * time.Minute)
	assert.False(t, Active(b, p, now))

	b.Stop(now)
	p.LastStopped = now
	assert.False(t, Active(b, p, now), "finished batches are never active")
}

func TestSummarize(t *testing.T) {
	ctx := context.Background()
	s := inmemorystore.New()
	started := time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC)
	b := &model.Batch{
		Kind:        model.KindBatch,
		Name:        "sweep",
		Generator:   json.RawMessage(`{"x": [1, 2]}`),
		Repetitions: 1,
		Threads:     1,
		DateStarted: started,
		DateStopped: started,
		Host:        "h",
		User:        "u",
	}
	require.NoError(t, s.SaveBatch(ctx, b))
	e := model.NewExperiment(b.ID, "exe", param.List{param.New("x", 1)})
	e.DateStarted, e.DateStopped = started, started.Add(time.Second)
	require.NoError(t, s.SaveExperiment(ctx, e))

	got, err := Summarize(ctx, s, b, started.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, Summary{
		Name:       "sweep",
		Completion: "50.00 %",
		Host:       "h",
		User:       "u",
		Type:       model.KindBatch,
		Started:    "05/03/24 09:30",
		Finished:   "never",
		ETA:        "--",
	}, got)
}

func TestWriteTable_Plain(t *testing.T) {
	var buf bytes.Buffer
	rows := []Summary{{Name: "a", Completion: "100.00 %", Type: model.KindBatch, Active: true}}

	require.NoError(t, WriteTable(&buf, rows, false))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Batches matching criteria: 1", lines[0])
	assert.Equal(t, strings.Join(Headers, "\t"), lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "a\t100.00 %\t"))
	assert.True(t, strings.HasSuffix(lines[2], "\t*"))
	assert.False(t, IsTerminal(&buf))
}

func TestWriteTable_Styled(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTable(&buf, []Summary{{Name: "styled-batch"}}, true))
	assert.Contains(t, buf.String(), "styled-batch")
	assert.Contains(t, buf.String(), "Completion")
}

func TestWriteCommandLinesAndConfigurations(t *testing.T) {
	gen, err := pex.Parse([]byte(`{"or": [{"and": [{"x": [1, 2]}, {"y": ["a"]}]}, {"z": [0.5]}]}`))
	require.NoError(t, err)

	var cll bytes.Buffer
	require.NoError(t, WriteCommandLines(&cll, gen, "./solver", "=", "--"))
	assert.Equal(t, "./solver --x=1 --y=a\n./solver --x=2 --y=a\n./solver --z=0.5\n", cll.String())

	var csvOut bytes.Buffer
	require.NoError(t, WriteConfigurations(&csvOut, gen))
	assert.Equal(t, "x,y,z\n1,a,\n2,a,\n,,0.5\n", csvOut.String())
}

func TestWriteExperiments(t *testing.T) {
	e := model.NewExperiment("b", "exe", param.List{param.New("x", 1), param.New("verbose", nil)})
	e.Stats["cost"] = 2.5
	e.Stats["time"] = 1.0

	assert.Equal(t, []string{"cost", "time"}, StatNames([]*model.Experiment{e}))

	var buf bytes.Buffer
	require.NoError(t, WriteExperiments(&buf, []string{"x", "verbose", "missing"}, []string{"cost"}, []*model.Experiment{e}))
	assert.Equal(t, "x,verbose,missing,cost\n1,true,,2.5\n", buf.String())
}
