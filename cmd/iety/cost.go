package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/iety/internal/cost"
	"github.com/jonathan/iety/internal/observability"
)

var costCmd = &cobra.Command{
	Use:   "cost",
	Short: "Show API spend for the current month",
	Long:  `Summarizes the cost ledger for the current month by service and day, with budget recommendations.`,
	RunE:  runCost,
}

var (
	costDays    int
	costRefresh bool
)

func init() {
	costCmd.Flags().IntVar(&costDays, "days", 7, "Show per-day totals for the last N days (0 to hide)")
	costCmd.Flags().BoolVar(&costRefresh, "refresh", false, "Refresh the monthly cost summary view")
	rootCmd.AddCommand(costCmd)
}

func runCost(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if costRefresh {
		if err := a.tracker.RefreshSummaryView(ctx); err != nil {
			return err
		}
	}

	summary, err := a.tracker.MonthlySummary(ctx, time.Now())
	if err != nil {
		return err
	}
	status, err := a.breaker.Status(ctx)
	if err != nil {
		return err
	}

	printer := observability.NewPrinter(os.Stdout)
	printer.PrintMonthlySummary(summary)
	printer.PrintBudget(status)

	if costDays > 0 {
		days, err := a.tracker.DailyCosts(ctx, costDays)
		if err != nil {
			return err
		}
		printer.PrintDailyCosts(days)
	}
	printer.PrintRecommendations(cost.Recommendations(status, summary))
	return nil
}
