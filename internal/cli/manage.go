package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"
	"github.com/vk/sweepgridgo/internal/ctxlog"
	"github.com/vk/sweepgridgo/internal/model"
	"github.com/vk/sweepgridgo/internal/pex"
	"github.com/vk/sweepgridgo/internal/report"
	"github.com/vk/sweepgridgo/internal/store"
)

// errNotRace is returned by race-only commands on a full batch.
var errNotRace = errors.New("batch is not a race")

// withBatch opens the store, loads the batch named name and calls fn.
func (s *session) withBatch(ctx context.Context, name string, fn func(context.Context, store.Store, *model.Batch) error) error {
	a, err := s.open(ctx)
	if err != nil {
		return runtimeError(err)
	}
	ctx = ctxlog.WithLogger(ctx, a.Logger())
	b, err := store.GetBatch(ctx, a.Store(), name)
	if err != nil {
		return runtimeError(err)
	}
	return runtimeError(fn(ctx, a.Store(), b))
}

// nameCommand builds a command taking a mandatory --name.
func (s *session) nameCommand(use, short string, fn func(context.Context, store.Store, *model.Batch) error) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return s.withBatch(cmd.Context(), name, fn)
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "Batch name.")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func (s *session) printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(s.outW, string(data))
	return err
}

func (s *session) listBatchesCommand() *cobra.Command {
	var (
		filter string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list-batches",
		Short: "List batches with their progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := s.open(cmd.Context())
			if err != nil {
				return runtimeError(err)
			}
			ctx := ctxlog.WithLogger(cmd.Context(), a.Logger())
			batches, err := a.Store().Batches(ctx, store.BatchFilter{NamePattern: filter, Limit: limit})
			if err != nil {
				return runtimeError(err)
			}
			now := time.Now().UTC()
			rows := make([]report.Summary, 0, len(batches))
			for _, b := range batches {
				row, err := report.Summarize(ctx, a.Store(), b, now)
				if err != nil {
					return runtimeError(err)
				}
				rows = append(rows, row)
			}
			return runtimeError(report.WriteTable(s.outW, rows, report.IsTerminal(s.outW)))
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "", "Regular expression on batch names.")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of batches listed. 0 lists all.")
	return cmd
}

func (s *session) deleteBatchCommand() *cobra.Command {
	cmd := s.nameCommand("delete-batch", "Delete a batch and its experiments",
		func(ctx context.Context, st store.Store, b *model.Batch) error {
			if err := store.DeleteBatch(ctx, st, b); err != nil {
				return err
			}
			ctxlog.FromContext(ctx).Info("Batch deleted.", "batch", b.Name)
			return nil
		})
	return cmd
}

func (s *session) markUnfinishedCommand() *cobra.Command {
	cmd := s.nameCommand("mark-unfinished", "Make a batch resumable",
		func(ctx context.Context, st store.Store, b *model.Batch) error {
			b.MarkUnfinished()
			return st.SaveBatch(ctx, b)
		})
	return cmd
}

func (s *session) renameBatchCommand() *cobra.Command {
	var newName string
	cmd := s.nameCommand("rename-batch", "Rename a batch",
		func(ctx context.Context, st store.Store, b *model.Batch) error {
			_, err := store.GetBatch(ctx, st, newName)
			switch {
			case err == nil:
				return fmt.Errorf("batch %q already exists", newName)
			case !errors.Is(err, store.ErrNotFound):
				return err
			}
			b.Name = newName
			b.MarkUnfinished()
			return st.SaveBatch(ctx, b)
		})
	cmd.Flags().StringVar(&newName, "new-name", "", "New batch name.")
	_ = cmd.MarkFlagRequired("new-name")
	return cmd
}

func (s *session) setRepetitionsCommand() *cobra.Command {
	var repetitions int
	cmd := s.nameCommand("set-repetitions", "Change the repetitions of a batch",
		func(ctx context.Context, st store.Store, b *model.Batch) error {
			if repetitions < 1 {
				return usageError(fmt.Errorf("repetitions must be at least 1, got %d", repetitions))
			}
			b.Repetitions = repetitions
			b.MarkUnfinished()
			return st.SaveBatch(ctx, b)
		})
	cmd.Flags().IntVarP(&repetitions, "repetitions", "r", 1, "Runs of every configuration.")
	_ = cmd.MarkFlagRequired("repetitions")
	return cmd
}

func (s *session) setGeneratorCommand() *cobra.Command {
	var input string
	cmd := s.nameCommand("set-generator", "Replace the parameter expression of a batch",
		func(ctx context.Context, st store.Store, b *model.Batch) error {
			gen, err := pex.ParseFile(input)
			if err != nil {
				return err
			}
			data, err := pex.Marshal(gen)
			if err != nil {
				return fmt.Errorf("failed to encode generator: %w", err)
			}
			b.Generator = data
			b.MarkUnfinished()
			return st.SaveBatch(ctx, b)
		})
	cmd.Flags().StringVarP(&input, "input", "i", "", "JSON parameter expression file.")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func (s *session) batchInfoCommand() *cobra.Command {
	cmd := s.nameCommand("batch-info", "Print the batch record as JSON",
		func(_ context.Context, _ store.Store, b *model.Batch) error {
			return s.printJSON(b)
		})
	return cmd
}

// configurations selects race configurations by index.
func configurations(b *model.Batch, indices []int) []model.ConfigurationState {
	out := make([]model.ConfigurationState, 0, len(indices))
	for _, i := range indices {
		out = append(out, b.Configurations[i])
	}
	return out
}

func (s *session) showWinningCommand() *cobra.Command {
	cmd := s.nameCommand("show-winning", "Print the configurations still racing",
		func(_ context.Context, _ store.Store, b *model.Batch) error {
			if !b.IsRace() {
				return fmt.Errorf("%q: %w", b.Name, errNotRace)
			}
			return s.printJSON(configurations(b, b.Racing()))
		})
	return cmd
}

func (s *session) showBestCommand() *cobra.Command {
	cmd := s.nameCommand("show-best", "Print the racing configurations with the lowest sum of ranks",
		func(_ context.Context, _ store.Store, b *model.Batch) error {
			if !b.IsRace() {
				return fmt.Errorf("%q: %w", b.Name, errNotRace)
			}
			return s.printJSON(configurations(b, b.Best()))
		})
	return cmd
}

func (s *session) dumpExperimentsCommand() *cobra.Command {
	var stats []string
	cmd := s.nameCommand("dump-experiments", "Print the experiments of a batch as CSV",
		func(ctx context.Context, st store.Store, b *model.Batch) error {
			gen, err := pex.Parse(b.Generator)
			if err != nil {
				return fmt.Errorf("invalid generator of %q: %w", b.Name, err)
			}
			experiments, err := st.Experiments(ctx, store.ExperimentFilter{BatchID: b.ID})
			if err != nil {
				return err
			}
			headers := pex.Headers(gen)
			if !slices.Contains(headers, model.RepetitionParameter) {
				headers = append([]string{model.RepetitionParameter}, headers...)
			}
			columns := stats
			if len(columns) == 0 {
				columns = report.StatNames(experiments)
			}
			return report.WriteExperiments(s.outW, headers, columns, experiments)
		})
	cmd.Flags().StringSliceVar(&stats, "stats", nil, "Stat columns, comma separated. Defaults to every stat of the first experiment.")
	return cmd
}
