// Package runner launches experiment processes.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Result is the outcome of a finished process.
type Result struct {
	// ExitCode is -1 when the process was killed by a signal.
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// Process is a running experiment.
type Process interface {
	// Wait blocks until the process exits. A non-zero exit is reported in
	// the Result, not as an error.
	Wait() (Result, error)
	// Kill terminates the process. It does not wait for it to exit.
	Kill() error
}

// Runner starts command lines.
type Runner interface {
	Start(ctx context.Context, cmdline string) (Process, error)
}

// Shell runs command lines through a POSIX shell.
type Shell struct {
	// Path is the shell binary. Empty means /bin/sh.
	Path string
	// Dir is the working directory. Empty means the current one.
	Dir string
}

var _ Runner = Shell{}

func (s Shell) Start(ctx context.Context, cmdline string) (Process, error) {
	path := s.Path
	if path == "" {
		path = "/bin/sh"
	}

	cmd := exec.CommandContext(ctx, path, "-c", cmdline)
	cmd.Dir = s.Dir
	p := &shellProcess{cmd: cmd}
	cmd.Stdout = &p.stdout
	cmd.Stderr = &p.stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %q: %w", cmdline, err)
	}
	return p, nil
}

type shellProcess struct {
	cmd    *exec.Cmd
	stdout bytes.Buffer
	stderr bytes.Buffer
}

func (p *shellProcess) Wait() (Result, error) {
	err := p.cmd.Wait()
	res := Result{Stdout: p.stdout.Bytes(), Stderr: p.stderr.Bytes()}
	if p.cmd.ProcessState != nil {
		res.ExitCode = p.cmd.ProcessState.ExitCode()
	}

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return res, err
	}
	return res, nil
}

func (p *shellProcess) Kill() error {
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// Slurm wraps every command line in an srun allocation.
type Slurm struct {
	Runner    Runner
	Time      string
	CPUs      int
	Partition string
	// MemoryMB is left to the cluster default when zero.
	MemoryMB int
}

var _ Runner = Slurm{}

// Command returns cmdline prefixed with the srun invocation.
func (s Slurm) Command(cmdline string) string {
	args := []string{"srun", "--quiet", "--ntasks=1"}
	if s.Time != "" {
		args = append(args, "--time="+s.Time)
	}
	if s.CPUs > 0 {
		args = append(args, fmt.Sprintf("--cpus-per-task=%d", s.CPUs))
	}
	if s.Partition != "" {
		args = append(args, "--partition="+s.Partition)
	}
	if s.MemoryMB > 0 {
		args = append(args, fmt.Sprintf("--mem=%d", s.MemoryMB))
	}
	return strings.Join(append(args, cmdline), " ")
}

func (s Slurm) Start(ctx context.Context, cmdline string) (Process, error) {
	return s.Runner.Start(ctx, s.Command(cmdline))
}
