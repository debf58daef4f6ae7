package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/sweepgridgo/internal/cli"
)

func writeGenerator(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "params.json")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600), "failed to set up test file")
	return path
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	var exitErr *cli.ExitError
	require.True(t, errors.As(err, &exitErr), "expected an ExitError, got %v", err)
	return exitErr.Code
}

func TestRun_Help(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	out := &bytes.Buffer{}

	// --- Act ---
	err := run(context.Background(), out, &bytes.Buffer{}, []string{"--help"})

	// --- Assert ---
	require.NoError(t, err, "run() should return a nil error when help is requested")
	require.Contains(t, out.String(), "Usage:", "Expected help text to be printed to the output buffer")
	require.Contains(t, out.String(), "run-race")
}

func TestRun_UsageErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown flag", []string{"--this-is-not-a-valid-flag"}, "unknown flag: --this-is-not-a-valid-flag"},
		{"unknown command", []string{"frobnicate"}, `unknown command "frobnicate"`},
		{"missing required flag", []string{"print-cll"}, `required flag(s) "input" not set`},
		{"invalid configuration", []string{"--log-level", "loud", "print-csv", "-i", "x.json"}, "invalid configuration"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// --- Act ---
			err := run(context.Background(), &bytes.Buffer{}, &bytes.Buffer{}, tc.args)

			// --- Assert ---
			require.Error(t, err)
			assert.Equal(t, 2, exitCode(t, err))
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestRun_PrintCommands(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	input := writeGenerator(t, `{"and": [{"x": [1, 2]}, {"y": ["a"]}]}`)
	cll := &bytes.Buffer{}
	csvOut := &bytes.Buffer{}

	// --- Act ---
	errCLL := run(context.Background(), cll, &bytes.Buffer{},
		[]string{"--separator", "=", "print-cll", "-i", input, "-e", "./solver"})
	errCSV := run(context.Background(), csvOut, &bytes.Buffer{}, []string{"print-csv", "-i", input})

	// --- Assert ---
	require.NoError(t, errCLL)
	require.NoError(t, errCSV)
	assert.Equal(t, "./solver --x=1 --y=a\n./solver --x=2 --y=a\n", cll.String())
	assert.Equal(t, "x,y\n1,a\n2,a\n", csvOut.String())
}

func TestRun_PrintCLL_InvalidGenerator(t *testing.T) {
	t.Parallel()

	input := writeGenerator(t, `{"x": []}`)
	err := run(context.Background(), &bytes.Buffer{}, &bytes.Buffer{}, []string{"print-cll", "-i", input})

	require.Error(t, err)
	assert.Equal(t, 1, exitCode(t, err))
}

func TestRun_BatchLifecycle(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	storeArgs := []string{"--store-path", filepath.Join(t.TempDir(), "db"), "--log-level", "debug"}
	input := writeGenerator(t, `{"x": [1, 2]}`)
	exec := func(args ...string) (string, error) {
		out := &bytes.Buffer{}
		logs := &bytes.Buffer{}
		err := run(context.Background(), out, logs, append(append([]string(nil), storeArgs...), args...))
		if err != nil {
			t.Logf("logs of %v:\n%s", args, logs.String())
		}
		return out.String(), err
	}

	// --- Act ---
	_, err := exec("-p", "2", "run-batch", "-n", "echo-batch", "-i", input, "-e", `echo '{"cost": 1}' #`)

	// --- Assert ---
	require.NoError(t, err)

	out, err := exec("dump-experiments", "-n", "echo-batch")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "repetition,x,cost", lines[0])
	assert.ElementsMatch(t, []string{"0,1,1", "0,2,1"}, lines[1:])

	out, err = exec("list-batches")
	require.NoError(t, err)
	assert.Contains(t, out, "Batches matching criteria: 1")
	assert.Contains(t, out, "echo-batch")
	assert.Contains(t, out, "100.00 %")

	out, err = exec("batch-info", "-n", "echo-batch")
	require.NoError(t, err)
	assert.Contains(t, out, `"name": "echo-batch"`)

	_, err = exec("show-winning", "-n", "echo-batch")
	require.Error(t, err)
	assert.Equal(t, 1, exitCode(t, err))
	assert.Contains(t, err.Error(), "not a race")

	// --- Act: a finished batch is resumable once marked unfinished ---
	_, err = exec("run-batch", "-n", "echo-batch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already finished")

	_, err = exec("set-repetitions", "-n", "echo-batch", "-r", "2")
	require.NoError(t, err)
	_, err = exec("run-batch", "-n", "echo-batch")
	require.NoError(t, err)

	out, err = exec("dump-experiments", "-n", "echo-batch", "--stats", "cost")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 5)

	// --- Act: rename then delete ---
	_, err = exec("rename-batch", "-n", "echo-batch", "--new-name", "renamed")
	require.NoError(t, err)
	_, err = exec("delete-batch", "-n", "renamed")
	require.NoError(t, err)

	// --- Assert ---
	_, err = exec("batch-info", "-n", "renamed")
	require.Error(t, err)
	assert.Equal(t, 1, exitCode(t, err))
	assert.Contains(t, err.Error(), "not found")
}
