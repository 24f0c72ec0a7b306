package db

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/jonathan/iety/internal/sources/courtlistener"
)

// UpsertOpinions writes opinions keyed by opinion_id.
func (db *DB) UpsertOpinions(ctx context.Context, opinions []courtlistener.Opinion) (int, error) {
	if len(opinions) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, o := range opinions {
		citations := o.Citations
		if citations == nil {
			citations = []string{}
		}
		rawCitations, err := jsonb(citations)
		if err != nil {
			return 0, err
		}
		raw, err := jsonb(o.Raw)
		if err != nil {
			return 0, err
		}
		batch.Queue(
			`INSERT INTO legal.opinions
			   (opinion_id, docket_id, court_id, case_name, date_filed, snippet, download_url,
			    citations, precedential_status, raw_data)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 ON CONFLICT (opinion_id) DO UPDATE SET
			   docket_id = EXCLUDED.docket_id,
			   court_id = EXCLUDED.court_id,
			   case_name = EXCLUDED.case_name,
			   date_filed = EXCLUDED.date_filed,
			   snippet = EXCLUDED.snippet,
			   download_url = EXCLUDED.download_url,
			   citations = EXCLUDED.citations,
			   precedential_status = EXCLUDED.precedential_status,
			   raw_data = EXCLUDED.raw_data`,
			o.OpinionID, nullString(o.DocketID), nullString(o.CourtID), nullString(o.CaseName), o.DateFiled,
			nullString(o.Snippet), nullString(o.DownloadURL), rawCitations, nullString(o.PrecedentialStatus), raw,
		)
	}
	return db.sendBatch(ctx, batch, "opinion")
}

// UpsertDockets writes dockets keyed by docket_id.
func (db *DB) UpsertDockets(ctx context.Context, dockets []courtlistener.Docket) (int, error) {
	if len(dockets) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, d := range dockets {
		raw, err := jsonb(d.Raw)
		if err != nil {
			return 0, err
		}
		batch.Queue(
			`INSERT INTO legal.dockets
			   (docket_id, court_id, case_name, docket_number, date_filed, date_terminated, cause,
			    nature_of_suit, jurisdiction_type, pacer_case_id, assigned_to, referred_to, raw_data)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			 ON CONFLICT (docket_id) DO UPDATE SET
			   court_id = EXCLUDED.court_id,
			   case_name = EXCLUDED.case_name,
			   docket_number = EXCLUDED.docket_number,
			   date_filed = EXCLUDED.date_filed,
			   date_terminated = EXCLUDED.date_terminated,
			   cause = EXCLUDED.cause,
			   nature_of_suit = EXCLUDED.nature_of_suit,
			   jurisdiction_type = EXCLUDED.jurisdiction_type,
			   pacer_case_id = EXCLUDED.pacer_case_id,
			   assigned_to = EXCLUDED.assigned_to,
			   referred_to = EXCLUDED.referred_to,
			   raw_data = EXCLUDED.raw_data,
			   updated_at = NOW()`,
			d.DocketID, nullString(d.CourtID), nullString(d.CaseName), nullString(d.DocketNumber),
			d.DateFiled, d.DateTerminated, nullString(d.Cause), nullString(d.NatureOfSuit),
			nullString(d.JurisdictionType), nullString(d.PacerCaseID), nullString(d.AssignedTo),
			nullString(d.ReferredTo), raw,
		)
	}
	return db.sendBatch(ctx, batch, "docket")
}
