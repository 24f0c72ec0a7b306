package cost

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jonathan/iety/internal/metrics"
)

// DefaultMonthlyBudget is the monthly spend ceiling in USD.
var DefaultMonthlyBudget = decimal.NewFromInt(50)

var bytesPerGB = decimal.NewFromInt(1024 * 1024 * 1024)

// Tracker writes ledger entries and derives spend summaries from them.
type Tracker struct {
	store         Store
	monthlyBudget decimal.Decimal
	rates         map[string]map[string]decimal.Decimal
	logger        *zap.Logger
	now           func() time.Time
}

// NewTracker creates a Tracker. A zero budget falls back to DefaultMonthlyBudget.
func NewTracker(store Store, monthlyBudget decimal.Decimal, logger *zap.Logger) *Tracker {
	if monthlyBudget.IsZero() {
		monthlyBudget = DefaultMonthlyBudget
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		store:         store,
		monthlyBudget: monthlyBudget,
		rates:         DefaultRates(),
		logger:        logger,
		now:           time.Now,
	}
}

// MonthlyBudget returns the configured ceiling.
func (t *Tracker) MonthlyBudget() decimal.Decimal {
	return t.monthlyBudget
}

// RateFor returns the per-unit price of an operation.
func (t *Tracker) RateFor(service, operation string) (decimal.Decimal, error) {
	ops, ok := t.rates[service]
	if !ok {
		return decimal.Zero, fmt.Errorf("no cost rates for service %q", service)
	}
	rate, ok := ops[operation]
	if !ok {
		return decimal.Zero, fmt.Errorf("no cost rate for %s/%s", service, operation)
	}
	return rate, nil
}

// LogCost appends an entry to the ledger.
func (t *Tracker) LogCost(ctx context.Context, entry Entry) (uuid.UUID, error) {
	if entry.Metadata == nil {
		entry.Metadata = map[string]any{}
	}

	id, err := t.store.InsertCost(ctx, entry)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to log cost for %s/%s: %w", entry.Service, entry.Operation, err)
	}

	cost, _ := entry.CostUSD.Float64()
	metrics.CostUSDTotal.WithLabelValues(entry.Service, entry.Operation).Add(cost)
	t.logger.Debug("cost logged",
		zap.String("service", entry.Service),
		zap.String("operation", entry.Operation),
		zap.String("units", entry.Units.String()),
		zap.String("cost_usd", entry.CostUSD.String()),
	)
	return id, nil
}

// EstimateEmbeddingCost prices a token count for an embedding service.
func (t *Tracker) EstimateEmbeddingCost(service string, tokens int) (decimal.Decimal, error) {
	rate, err := t.RateFor(service, "embed")
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromInt(int64(tokens)).Mul(rate), nil
}

// LogEmbeddingCost records the tokens consumed by one embedding call.
func (t *Tracker) LogEmbeddingCost(ctx context.Context, service, model string, tokens int) (uuid.UUID, error) {
	cost, err := t.EstimateEmbeddingCost(service, tokens)
	if err != nil {
		return uuid.Nil, err
	}
	return t.LogCost(ctx, Entry{
		Service:   service,
		Operation: "embed",
		Units:     decimal.NewFromInt(int64(tokens)),
		UnitType:  "tokens",
		CostUSD:   cost,
		Metadata:  map[string]any{"model": model},
	})
}

// LogBigQueryCost records the bytes scanned by one warehouse query.
func (t *Tracker) LogBigQueryCost(ctx context.Context, bytesProcessed int64, queryID string) (uuid.UUID, error) {
	rate, err := t.RateFor("bigquery", "query")
	if err != nil {
		return uuid.Nil, err
	}

	gb := decimal.NewFromInt(bytesProcessed).Div(bytesPerGB)
	var metadata map[string]any
	if queryID != "" {
		metadata = map[string]any{"query_id": queryID}
	}
	return t.LogCost(ctx, Entry{
		Service:   "bigquery",
		Operation: "query",
		Units:     gb,
		UnitType:  "gb",
		CostUSD:   gb.Mul(rate).Mul(decimal.NewFromInt(1024)),
		Metadata:  metadata,
	})
}

// MonthStart truncates a time to the first instant of its UTC month.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// MonthlySummary aggregates the ledger for the month containing month.
// A zero month means the current month.
func (t *Tracker) MonthlySummary(ctx context.Context, month time.Time) (*MonthlySummary, error) {
	if month.IsZero() {
		month = t.now()
	}
	start := MonthStart(month)
	end := start.AddDate(0, 1, 0)

	rows, err := t.store.CostsByService(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load monthly costs: %w", err)
	}

	summary := &MonthlySummary{
		Month:       start,
		TotalCost:   decimal.Zero,
		BudgetLimit: t.monthlyBudget,
		Services:    make(map[string]decimal.Decimal, len(rows)),
	}
	for _, row := range rows {
		summary.Services[row.Service] = row.TotalCost
		summary.TotalCost = summary.TotalCost.Add(row.TotalCost)
		summary.RequestCount += row.RequestCount
	}
	if t.monthlyBudget.IsPositive() {
		summary.PercentUsed, _ = summary.TotalCost.Div(t.monthlyBudget).Float64()
	}
	return summary, nil
}

// CurrentSpend returns the total spend for the current month.
func (t *Tracker) CurrentSpend(ctx context.Context) (decimal.Decimal, error) {
	summary, err := t.MonthlySummary(ctx, time.Time{})
	if err != nil {
		return decimal.Zero, err
	}
	return summary.TotalCost, nil
}

// DailyCosts returns per-day totals for the last days days, newest first.
func (t *Tracker) DailyCosts(ctx context.Context, days int) ([]DailyCost, error) {
	if days <= 0 {
		days = 30
	}
	since := t.now().UTC().AddDate(0, 0, -days)

	costs, err := t.store.DailyCosts(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load daily costs: %w", err)
	}
	return costs, nil
}

// RefreshSummaryView recomputes the cached monthly summary view.
func (t *Tracker) RefreshSummaryView(ctx context.Context) error {
	if err := t.store.RefreshMonthlyCostSummary(ctx); err != nil {
		return fmt.Errorf("failed to refresh monthly cost summary: %w", err)
	}
	return nil
}
