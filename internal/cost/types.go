// Package cost tracks spend on paid external services and gates new spend
// behind a monthly budget circuit breaker.
package cost

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Entry is one append-only ledger row.
type Entry struct {
	ID        uuid.UUID
	Service   string
	Operation string
	Units     decimal.Decimal
	UnitType  string
	CostUSD   decimal.Decimal
	Metadata  map[string]any
	CreatedAt time.Time
}

// ServiceCost aggregates ledger rows for one service over a period.
type ServiceCost struct {
	Service      string
	TotalCost    decimal.Decimal
	TotalUnits   decimal.Decimal
	RequestCount int
}

// DailyCost is the total spend for one calendar day.
type DailyCost struct {
	Day  time.Time
	Cost decimal.Decimal
}

// MonthlySummary is derived from the ledger; it is never stored.
type MonthlySummary struct {
	Month        time.Time
	TotalCost    decimal.Decimal
	BudgetLimit  decimal.Decimal
	PercentUsed  float64
	Services     map[string]decimal.Decimal
	RequestCount int
}

// Store persists and aggregates ledger rows.
type Store interface {
	InsertCost(ctx context.Context, entry Entry) (uuid.UUID, error)
	CostsByService(ctx context.Context, from, to time.Time) ([]ServiceCost, error)
	DailyCosts(ctx context.Context, since time.Time) ([]DailyCost, error)
	RefreshMonthlyCostSummary(ctx context.Context) error
}

// DefaultRates returns the published per-unit prices.
func DefaultRates() map[string]map[string]decimal.Decimal {
	return map[string]map[string]decimal.Decimal{
		"voyage": {
			// $0.02 per 1M tokens
			"embed": decimal.RequireFromString("0.00000002"),
		},
		"gemini": {
			// $0.15 per 1M tokens
			"embed": decimal.RequireFromString("0.00000015"),
		},
		"bigquery": {
			"query": decimal.RequireFromString("0.000000005"),
		},
	}
}
