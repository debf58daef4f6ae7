package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/vk/sweepgridgo/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Exit codes.
const (
	codeRuntime = 1
	codeUsage   = 2
)

func usageError(err error) error {
	return &ExitError{Code: codeUsage, Message: err.Error()}
}

// runtimeError marks a failure that happened after the command line was
// accepted.
func runtimeError(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return err
	}
	return &ExitError{Code: codeRuntime, Message: err.Error()}
}

// globalFlags mirror the app.Config fields that can be set on the command
// line. Only flags set explicitly override the file and the environment.
type globalFlags struct {
	configPath string
	dotenvPath string

	logLevel   string
	logFormat  string
	store      string
	storePath  string
	dsn        string
	prefix     string
	separator  string
	threads    int
	port       int
	monitorURL string

	slurm          bool
	slurmTime      string
	slurmCPUs      int
	slurmPartition string
	slurmMemoryMB  int
}

// session carries what every command shares: writers, the resolved
// configuration, and the application once a command needs the store.
type session struct {
	outW, errW io.Writer
	flags      globalFlags
	cfg        *app.Config
	app        *app.App
}

// Execute builds the command tree and runs it with args. Results are
// printed to outW, logs to errW. Every error returned is an *ExitError.
func Execute(ctx context.Context, outW, errW io.Writer, args []string) error {
	s := &session{outW: outW, errW: errW}
	root := s.rootCommand()
	root.SetArgs(args)
	root.SetOut(outW)
	root.SetErr(errW)

	err := root.ExecuteContext(ctx)
	if cerr := s.close(); cerr != nil && err == nil {
		err = runtimeError(cerr)
	}
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr
	}
	// Anything cobra rejects before a command runs is a usage error.
	return usageError(err)
}

func (s *session) rootCommand() *cobra.Command {
	defaults := app.DefaultConfig()
	root := &cobra.Command{
		Use:   "sweepgrid",
		Short: "Run parameter sweeps and races over an executable",
		Long: `SweepGrid - parameter sweeps with statistical racing.

Generates configurations from a JSON parameter expression, runs an
executable once per configuration and repetition on a pool of workers,
and records the JSON each run prints. Races evaluate configurations over a
shuffled sequence of instances and prune the ones that are statistically
worse.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: s.configure,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})

	pf := root.PersistentFlags()
	pf.StringVar(&s.flags.configPath, "config", "", "YAML configuration file.")
	pf.StringVar(&s.flags.dotenvPath, "env-file", ".env", "Environment file loaded before reading SWEEPGRID_* variables.")
	pf.StringVar(&s.flags.logLevel, "log-level", defaults.LogLevel, "Logging level: debug, info, warn, error.")
	pf.StringVar(&s.flags.logFormat, "log-format", defaults.LogFormat, "Log output format: text or json.")
	pf.StringVar(&s.flags.store, "store", defaults.Store, "Record store: memory, badger or postgres.")
	pf.StringVar(&s.flags.storePath, "store-path", defaults.StorePath, "Directory of the badger store.")
	pf.StringVar(&s.flags.dsn, "dsn", "", "PostgreSQL connection string.")
	pf.StringVar(&s.flags.prefix, "prefix", defaults.Prefix, "Prefix of every parameter on the command line.")
	pf.StringVar(&s.flags.separator, "separator", defaults.Separator, "Separator between a parameter name and its value.")
	pf.IntVarP(&s.flags.threads, "parallel-threads", "p", defaults.Threads, "Number of experiments run concurrently.")
	pf.IntVar(&s.flags.port, "healthcheck-port", 0, "Port for the health check and metrics server. 0 is disabled.")
	pf.StringVar(&s.flags.monitorURL, "monitor-url", "", "Socket.IO endpoint receiving live progress events.")
	pf.BoolVar(&s.flags.slurm, "slurm", false, "Run every experiment through srun.")
	pf.StringVar(&s.flags.slurmTime, "slurm-time", defaults.Slurm.Time, "Time limit of each srun allocation.")
	pf.IntVar(&s.flags.slurmCPUs, "slurm-cpus", defaults.Slurm.CPUs, "CPUs per srun task.")
	pf.StringVar(&s.flags.slurmPartition, "slurm-partition", "", "Slurm partition.")
	pf.IntVar(&s.flags.slurmMemoryMB, "slurm-mem", 0, "Memory per srun allocation in MB. 0 keeps the cluster default.")

	root.AddCommand(
		s.printCLLCommand(),
		s.printCSVCommand(),
		s.runBatchCommand(),
		s.runRaceCommand(),
		s.listBatchesCommand(),
		s.deleteBatchCommand(),
		s.markUnfinishedCommand(),
		s.renameBatchCommand(),
		s.setRepetitionsCommand(),
		s.setGeneratorCommand(),
		s.batchInfoCommand(),
		s.showWinningCommand(),
		s.showBestCommand(),
		s.dumpExperimentsCommand(),
	)
	return root
}

// configure resolves the configuration: flags over environment over the
// config file over defaults.
func (s *session) configure(cmd *cobra.Command, _ []string) error {
	slog.Debug("Resolving configuration.", "command", cmd.Name())
	if err := app.LoadDotEnv(s.flags.dotenvPath); err != nil {
		return usageError(err)
	}

	cfg := app.DefaultConfig()
	if s.flags.configPath != "" {
		if err := app.LoadFile(s.flags.configPath, &cfg); err != nil {
			return usageError(err)
		}
	}
	if err := app.ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return usageError(err)
	}
	s.applyFlags(cmd, &cfg)

	valid, err := app.NewConfig(cfg)
	if err != nil {
		return usageError(err)
	}
	s.cfg = valid
	slog.Debug("Configuration resolved.", "store", valid.Store, "threads", valid.Threads)
	return nil
}

func (s *session) applyFlags(cmd *cobra.Command, cfg *app.Config) {
	fs := cmd.Flags()
	set := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}
	f := s.flags
	set("log-level", func() { cfg.LogLevel = f.logLevel })
	set("log-format", func() { cfg.LogFormat = f.logFormat })
	set("store", func() { cfg.Store = f.store })
	set("store-path", func() { cfg.StorePath = f.storePath })
	set("dsn", func() { cfg.DSN = f.dsn })
	set("prefix", func() { cfg.Prefix = f.prefix })
	set("separator", func() { cfg.Separator = f.separator })
	set("parallel-threads", func() { cfg.Threads = f.threads })
	set("healthcheck-port", func() { cfg.HealthcheckPort = f.port })
	set("monitor-url", func() { cfg.MonitorURL = f.monitorURL })
	set("slurm", func() { cfg.Slurm.Enabled = f.slurm })
	set("slurm-time", func() { cfg.Slurm.Time = f.slurmTime })
	set("slurm-cpus", func() { cfg.Slurm.CPUs = f.slurmCPUs })
	set("slurm-partition", func() { cfg.Slurm.Partition = f.slurmPartition })
	set("slurm-mem", func() { cfg.Slurm.MemoryMB = f.slurmMemoryMB })
}

// open creates the application on first use.
func (s *session) open(ctx context.Context) (*app.App, error) {
	if s.app != nil {
		return s.app, nil
	}
	if s.cfg == nil {
		return nil, errors.New("configuration not resolved")
	}
	a, err := app.NewApp(ctx, s.outW, s.errW, s.cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to start: %w", err)
	}
	s.app = a
	return a, nil
}

func (s *session) close() error {
	if s.app == nil {
		return nil
	}
	err := s.app.Close()
	s.app = nil
	return err
}
