package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/shopspring/decimal"

	"github.com/jonathan/iety/internal/cost"
)

// InsertCost appends a ledger row.
func (db *DB) InsertCost(ctx context.Context, entry cost.Entry) (uuid.UUID, error) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	metadata, err := jsonb(entry.Metadata)
	if err != nil {
		return uuid.Nil, err
	}

	var id uuid.UUID
	err = db.pool.QueryRow(ctx,
		`INSERT INTO integration.cost_log (id, service, operation, units, unit_type, cost_usd, metadata, created_at)
		 VALUES ($1, $2, $3, $4::numeric, $5, $6::numeric, COALESCE($7::jsonb, '{}'::jsonb), $8)
		 RETURNING id`,
		entry.ID, entry.Service, entry.Operation, entry.Units.String(), entry.UnitType, entry.CostUSD.String(), metadata, entry.CreatedAt,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert cost: %w", err)
	}
	return id, nil
}

// CostsByService aggregates ledger rows in [from, to) per service, most
// expensive first.
func (db *DB) CostsByService(ctx context.Context, from, to time.Time) ([]cost.ServiceCost, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT service, COALESCE(SUM(cost_usd), 0), COALESCE(SUM(units), 0), COUNT(*)
		 FROM integration.cost_log
		 WHERE created_at >= $1 AND created_at < $2
		 GROUP BY service
		 ORDER BY 2 DESC`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query costs by service: %w", err)
	}
	defer rows.Close()

	var costs []cost.ServiceCost
	for rows.Next() {
		var c cost.ServiceCost
		if err := rows.Scan(&c.Service, &c.TotalCost, &c.TotalUnits, &c.RequestCount); err != nil {
			return nil, fmt.Errorf("failed to scan service cost: %w", err)
		}
		costs = append(costs, c)
	}
	return costs, rows.Err()
}

// DailyCosts returns per-day totals since the given time, newest first.
func (db *DB) DailyCosts(ctx context.Context, since time.Time) ([]cost.DailyCost, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("date_trunc('day', created_at) AS day", "COALESCE(SUM(cost_usd), 0)")
	sb.From("integration.cost_log")
	sb.Where(sb.GreaterEqualThan("created_at", since))
	sb.GroupBy("day")
	sb.OrderBy("day").Desc()

	query, args := sb.Build()
	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily costs: %w", err)
	}
	defer rows.Close()

	var costs []cost.DailyCost
	for rows.Next() {
		var day time.Time
		var total decimal.Decimal
		if err := rows.Scan(&day, &total); err != nil {
			return nil, fmt.Errorf("failed to scan daily cost: %w", err)
		}
		costs = append(costs, cost.DailyCost{Day: day, Cost: total})
	}
	return costs, rows.Err()
}

// RefreshMonthlyCostSummary refreshes the materialized view without
// blocking readers.
func (db *DB) RefreshMonthlyCostSummary(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, `REFRESH MATERIALIZED VIEW CONCURRENTLY integration.monthly_cost_summary`); err != nil {
		return fmt.Errorf("failed to refresh monthly cost summary: %w", err)
	}
	return nil
}
