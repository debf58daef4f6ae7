package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/vk/sweepgridgo/internal/model"
	"github.com/vk/sweepgridgo/internal/pex"
	"github.com/vk/sweepgridgo/internal/report"
)

func (s *session) printCLLCommand() *cobra.Command {
	var input, executable string
	cmd := &cobra.Command{
		Use:   "print-cll",
		Short: "Print one command line per generated configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			gen, err := pex.ParseFile(input)
			if err != nil {
				return runtimeError(err)
			}
			return runtimeError(report.WriteCommandLines(s.outW, gen, executable, s.cfg.Separator, s.cfg.Prefix))
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "JSON parameter expression file.")
	cmd.Flags().StringVarP(&executable, "executable", "e", "", "Executable prepended to every line.")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func (s *session) printCSVCommand() *cobra.Command {
	var input string
	cmd := &cobra.Command{
		Use:   "print-csv",
		Short: "Print the generated configurations as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			gen, err := pex.ParseFile(input)
			if err != nil {
				return runtimeError(err)
			}
			return runtimeError(report.WriteConfigurations(s.outW, gen))
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "JSON parameter expression file.")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

// runFlags are shared by run-batch and run-race.
type runFlags struct {
	name        string
	input       string
	executable  string
	repetitions int
	greedy      bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.name, "name", "n", "", "Batch name. An unfinished batch with this name is resumed.")
	cmd.Flags().StringVarP(&f.input, "input", "i", "", "JSON parameter expression file. Optional when resuming.")
	cmd.Flags().StringVarP(&f.executable, "executable", "e", "", "Executable run for every configuration.")
	cmd.Flags().IntVarP(&f.repetitions, "repetitions", "r", 1, "Runs of every configuration.")
	cmd.Flags().BoolVar(&f.greedy, "greedy", false, "Reuse results of equivalent experiments from other batches.")
	_ = cmd.MarkFlagRequired("name")
}

// batch builds the record requested on the command line. The generator is
// normalized to its stored form.
func (s *session) batch(kind model.Kind, f *runFlags) (*model.Batch, error) {
	b := &model.Batch{
		Kind:        kind,
		Name:        f.name,
		Executable:  f.executable,
		Repetitions: f.repetitions,
		Separator:   s.cfg.Separator,
		Prefix:      s.cfg.Prefix,
	}
	if f.input != "" {
		gen, err := pex.ParseFile(f.input)
		if err != nil {
			return nil, err
		}
		data, err := pex.Marshal(gen)
		if err != nil {
			return nil, fmt.Errorf("failed to encode generator: %w", err)
		}
		b.Generator = data
	}
	return b, nil
}

func (s *session) runBatchCommand() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run-batch",
		Short: "Run every configuration of a generator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			want, err := s.batch(model.KindBatch, &f)
			if err != nil {
				return runtimeError(err)
			}
			a, err := s.open(cmd.Context())
			if err != nil {
				return runtimeError(err)
			}
			return runtimeError(a.Run(cmd.Context(), want, f.greedy))
		},
	}
	f.register(cmd)
	return cmd
}

func (s *session) runRaceCommand() *cobra.Command {
	var (
		f                     runFlags
		instance, performance string
		initialBlock          int
		confidence            float64
		seed                  int64
	)
	cmd := &cobra.Command{
		Use:   "run-race",
		Short: "Race configurations over instances and prune the inferior ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			want, err := s.batch(model.KindRace, &f)
			if err != nil {
				return runtimeError(err)
			}
			want.InstanceParameter = instance
			want.PerformanceParameter = performance
			want.InitialBlock = initialBlock
			want.Confidence = confidence
			want.Seed = seed

			a, err := s.open(cmd.Context())
			if err != nil {
				return runtimeError(err)
			}
			return runtimeError(a.Run(cmd.Context(), want, f.greedy))
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&instance, "instance-param", "", "Parameter naming the instance of each run.")
	cmd.Flags().StringVar(&performance, "performance-param", "", "Stat ranked to compare configurations, lower is better.")
	cmd.Flags().IntVar(&initialBlock, "initial-block", 10, "Iterations completed before the first pruning.")
	cmd.Flags().Float64Var(&confidence, "confidence", 0.05, "Significance level of the pruning tests.")
	cmd.Flags().Int64Var(&seed, "seed", 0, "Seed of the instance shuffle.")
	return cmd
}
