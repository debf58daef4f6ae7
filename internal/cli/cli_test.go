package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute_ConfigPrecedence(t *testing.T) {
	// --- Arrange ---
	dir := t.TempDir()
	input := filepath.Join(dir, "params.json")
	require.NoError(t, os.WriteFile(input, []byte(`{"x": [1]}`), 0o600))
	configPath := filepath.Join(dir, "sweepgrid.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("prefix: \"++\"\n"), 0o600))

	printCLL := func(extra ...string) string {
		t.Helper()
		args := append([]string{"--config", configPath, "--env-file", filepath.Join(dir, "none.env")}, extra...)
		args = append(args, "print-cll", "-i", input)
		out := &bytes.Buffer{}
		require.NoError(t, Execute(context.Background(), out, &bytes.Buffer{}, args))
		return out.String()
	}

	// --- Act / Assert ---
	assert.Equal(t, "++x 1\n", printCLL(), "the config file overrides defaults")

	t.Setenv("SWEEPGRID_PREFIX", "-")
	assert.Equal(t, "-x 1\n", printCLL(), "the environment overrides the config file")

	assert.Equal(t, "/x 1\n", printCLL("--prefix", "/"), "flags override the environment")
}

func TestExecute_EnvFile(t *testing.T) {
	// --- Arrange ---
	dir := t.TempDir()
	input := filepath.Join(dir, "params.json")
	require.NoError(t, os.WriteFile(input, []byte(`{"x": [1]}`), 0o600))
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("SWEEPGRID_SEPARATOR=\"=\"\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("SWEEPGRID_SEPARATOR") })
	out := &bytes.Buffer{}

	// --- Act ---
	err := Execute(context.Background(), out, &bytes.Buffer{}, []string{"--env-file", envFile, "print-cll", "-i", input})

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, "--x=1\n", out.String())
}

func TestRuntimeError(t *testing.T) {
	t.Parallel()

	assert.NoError(t, runtimeError(nil))

	var exitErr *ExitError
	require.True(t, errors.As(runtimeError(errors.New("boom")), &exitErr))
	assert.Equal(t, 1, exitErr.Code)
	assert.Equal(t, "boom", exitErr.Error())

	usage := usageError(errors.New("bad flag"))
	assert.Same(t, usage, runtimeError(usage), "usage errors keep their code")
}
