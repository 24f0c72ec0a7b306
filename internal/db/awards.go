package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jonathan/iety/internal/sources/usaspending"
)

const upsertAwardSQL = `
INSERT INTO usaspending.awards (
  award_id, award_type, awarding_agency_name, awarding_agency_code,
  funding_agency_name, funding_agency_code, recipient_name, recipient_uei,
  recipient_duns, recipient_location, total_obligation, award_description,
  period_of_performance_start, period_of_performance_end, fiscal_year,
  treasury_account_symbol, naics_code, naics_description, psc_code,
  psc_description, place_of_performance, raw_data
) VALUES (
  $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::numeric, $12, $13, $14, $15,
  $16, $17, $18, $19, $20, $21, $22
)
ON CONFLICT (award_id, fiscal_year) DO UPDATE SET
  award_type = EXCLUDED.award_type,
  awarding_agency_name = EXCLUDED.awarding_agency_name,
  awarding_agency_code = EXCLUDED.awarding_agency_code,
  funding_agency_name = EXCLUDED.funding_agency_name,
  funding_agency_code = EXCLUDED.funding_agency_code,
  recipient_name = EXCLUDED.recipient_name,
  recipient_uei = EXCLUDED.recipient_uei,
  recipient_duns = EXCLUDED.recipient_duns,
  recipient_location = EXCLUDED.recipient_location,
  total_obligation = EXCLUDED.total_obligation,
  award_description = EXCLUDED.award_description,
  period_of_performance_start = EXCLUDED.period_of_performance_start,
  period_of_performance_end = EXCLUDED.period_of_performance_end,
  treasury_account_symbol = EXCLUDED.treasury_account_symbol,
  naics_code = EXCLUDED.naics_code,
  naics_description = EXCLUDED.naics_description,
  psc_code = EXCLUDED.psc_code,
  psc_description = EXCLUDED.psc_description,
  place_of_performance = EXCLUDED.place_of_performance,
  raw_data = EXCLUDED.raw_data,
  updated_at = NOW()`

// UpsertAwards writes awards keyed by (award_id, fiscal_year) in one batch.
func (db *DB) UpsertAwards(ctx context.Context, awards []usaspending.Award) (int, error) {
	if len(awards) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, a := range awards {
		recipientLoc, err := jsonb(a.RecipientLocation)
		if err != nil {
			return 0, err
		}
		placeLoc, err := jsonb(a.PlaceOfPerformance)
		if err != nil {
			return 0, err
		}
		raw, err := jsonb(a.Raw)
		if err != nil {
			return 0, err
		}
		batch.Queue(upsertAwardSQL,
			a.AwardID, nullString(a.AwardType), nullString(a.AwardingAgencyName), nullString(a.AwardingAgencyCode),
			nullString(a.FundingAgencyName), nullString(a.FundingAgencyCode), nullString(a.RecipientName), nullString(a.RecipientUEI),
			nullString(a.RecipientDUNS), recipientLoc, nullNumeric(a.TotalObligation), nullString(a.Description),
			a.PeriodStart, a.PeriodEnd, a.FiscalYear,
			nullString(a.TreasuryAccountSymbol), nullString(a.NAICSCode), nullString(a.NAICSDescription), nullString(a.PSCCode),
			nullString(a.PSCDescription), placeLoc, raw,
		)
	}

	return db.sendBatch(ctx, batch, "award")
}

// sendBatch executes a queued batch and sums affected rows.
func (db *DB) sendBatch(ctx context.Context, batch *pgx.Batch, what string) (int, error) {
	results := db.pool.SendBatch(ctx, batch)
	defer results.Close()

	count := 0
	for i := 0; i < batch.Len(); i++ {
		tag, err := results.Exec()
		if err != nil {
			return count, fmt.Errorf("failed to upsert %s %d: %w", what, i, err)
		}
		count += int(tag.RowsAffected())
	}
	return count, nil
}
