package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/jonathan/iety/internal/sources/sec"
)

// UpsertCompanyFacts writes each company and its facts in its own
// transaction. Facts already present are left alone.
func (db *DB) UpsertCompanyFacts(ctx context.Context, companies []sec.Company) (int, error) {
	total := 0
	for _, c := range companies {
		inserted := 0
		err := db.withTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx,
				`INSERT INTO sec.companies (cik, name) VALUES ($1, $2)
				 ON CONFLICT (cik) DO UPDATE SET name = EXCLUDED.name, updated_at = NOW()`,
				c.CIK, c.Name,
			); err != nil {
				return fmt.Errorf("failed to upsert company %s: %w", c.CIK, err)
			}

			batch := &pgx.Batch{}
			for _, f := range c.Facts {
				batch.Queue(
					`INSERT INTO sec.companyfacts
					   (cik, taxonomy, tag, label, description, unit, value, start_date, end_date,
					    filed, form, accession_number, fiscal_year, fiscal_period, cik_hash)
					 VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10, $11, $12, $13, $14, $15)
					 ON CONFLICT (cik, taxonomy, tag, end_date, form, accession_number) DO NOTHING`,
					f.CIK, f.Taxonomy, f.Tag, nullString(f.Label), nullString(f.Description), nullString(f.Unit),
					nullNumeric(f.Value), f.StartDate, f.EndDate, f.Filed, nullString(f.Form), nullString(f.AccessionNumber),
					f.FiscalYear, nullString(f.FiscalPeriod), f.CIKHash,
				)
			}
			results := tx.SendBatch(ctx, batch)
			for i := 0; i < batch.Len(); i++ {
				tag, err := results.Exec()
				if err != nil {
					results.Close()
					return fmt.Errorf("failed to insert fact %d for %s: %w", i, c.CIK, err)
				}
				inserted += int(tag.RowsAffected())
			}
			return results.Close()
		})
		if err != nil {
			return total, err
		}
		db.logger.Debug("company facts stored",
			zap.String("cik", c.CIK),
			zap.Int("facts", len(c.Facts)),
			zap.Int("inserted", inserted))
		total += inserted
	}
	return total, nil
}
