package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/iety/internal/cost"
	"github.com/jonathan/iety/internal/observability"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline sync state and budget",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	states, err := a.db.ListSyncStates(ctx)
	if err != nil {
		return err
	}
	status, err := a.breaker.Status(ctx)
	if err != nil {
		return err
	}

	printer := observability.NewPrinter(os.Stdout)
	printer.PrintSyncStates(states)
	printer.PrintBudget(status)
	if status.State != cost.StateNormal {
		printer.PrintRecommendations(cost.Recommendations(status, nil))
	}
	return nil
}
