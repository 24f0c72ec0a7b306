package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jonathan/iety/internal/observability"
	"github.com/jonathan/iety/internal/pipeline"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [source...]",
	Short: "Run ingestion pipelines",
	Long: `Runs one or more ingestion pipelines, resuming each from its saved checkpoint.
Sources are usaspending, sec, legal, legal-dockets, gdelt, opensky and adsbx, or
full pipeline names. Use --all to run every pipeline in name order. A failing
pipeline does not stop the others when several are requested.`,
	RunE: runIngest,
}

var (
	ingestAll        bool
	ingestMaxBatches int
	ingestDryRun     bool
	ingestReset      bool
)

func init() {
	ingestCmd.Flags().BoolVar(&ingestAll, "all", false, "Run every pipeline")
	ingestCmd.Flags().IntVarP(&ingestMaxBatches, "max-batches", "n", 0, "Stop after N batches per pipeline (0 = until exhausted)")
	ingestCmd.Flags().BoolVar(&ingestDryRun, "dry-run", false, "Fetch and transform without writing rows or checkpoints")
	ingestCmd.Flags().BoolVar(&ingestReset, "reset", false, "Ignore the saved checkpoint and start from the beginning")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	runners := a.runners()
	names, err := selectPipelines(runners, args, ingestAll)
	if err != nil {
		return err
	}

	opts := pipeline.Options{
		MaxBatches: ingestMaxBatches,
		DryRun:     ingestDryRun,
		Reset:      ingestReset,
		OnProgress: func(ev pipeline.ProgressEvent) {
			a.logger.Info("batch complete",
				zap.String("pipeline", ev.Pipeline),
				zap.Int("batch", ev.Batch),
				zap.Int("fetched", ev.Fetched),
				zap.Int("rows", ev.Rows),
				zap.Int("upserted_total", ev.Stats.Upserted),
			)
		},
	}

	printer := observability.NewPrinter(os.Stdout)
	var errs []error
	for _, name := range names {
		stats, err := runners[name].Run(ctx, opts)
		printer.PrintRunStats(stats)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			if ctx.Err() != nil {
				break
			}
		}
	}
	return errors.Join(errs...)
}

// selectPipelines resolves the requested pipeline names against the
// registered runners.
func selectPipelines(runners map[string]pipeline.Runner, args []string, all bool) ([]string, error) {
	available := runnerNames(runners)
	if all {
		if len(args) > 0 {
			return nil, fmt.Errorf("--all cannot be combined with pipeline names")
		}
		return available, nil
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("specify pipelines or --all (available: %s)", strings.Join(available, ", "))
	}

	seen := make(map[string]bool, len(args))
	names := make([]string, 0, len(args))
	for _, name := range args {
		if full, ok := sourceAliases[name]; ok {
			name = full
		}
		if _, ok := runners[name]; !ok {
			return nil, fmt.Errorf("unknown pipeline %q (available: %s)", name, strings.Join(available, ", "))
		}
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names, nil
}
