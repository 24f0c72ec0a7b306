package db

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jonathan/iety/internal/embedding"
	"github.com/jonathan/iety/internal/entity"
)

// documentQueries select (id, text) for rows that have no embeddings yet,
// keyed by "schema.table".
var documentQueries = map[string]string{
	"usaspending.awards": `
		SELECT a.id, concat_ws(E'\n', a.recipient_name, a.awarding_agency_name, a.award_description, a.naics_description)
		FROM usaspending.awards a
		WHERE NOT EXISTS (
		  SELECT 1 FROM integration.embeddings e
		  WHERE e.source_schema = 'usaspending' AND e.source_table = 'awards' AND e.source_id = a.id)
		ORDER BY a.created_at
		LIMIT $1`,
	"legal.opinions": `
		SELECT o.id, concat_ws(E'\n', o.case_name, o.snippet)
		FROM legal.opinions o
		WHERE NOT EXISTS (
		  SELECT 1 FROM integration.embeddings e
		  WHERE e.source_schema = 'legal' AND e.source_table = 'opinions' AND e.source_id = o.id)
		ORDER BY o.created_at
		LIMIT $1`,
	"legal.dockets": `
		SELECT d.id, concat_ws(E'\n', d.case_name, d.cause, d.nature_of_suit, d.assigned_to)
		FROM legal.dockets d
		WHERE NOT EXISTS (
		  SELECT 1 FROM integration.embeddings e
		  WHERE e.source_schema = 'legal' AND e.source_table = 'dockets' AND e.source_id = d.id)
		ORDER BY d.created_at
		LIMIT $1`,
	"sec.companies": `
		SELECT c.id, c.name
		FROM sec.companies c
		WHERE NOT EXISTS (
		  SELECT 1 FROM integration.embeddings e
		  WHERE e.source_schema = 'sec' AND e.source_table = 'companies' AND e.source_id = c.id)
		ORDER BY c.created_at
		LIMIT $1`,
}

// DocumentTargets lists the tables PendingDocuments accepts.
func DocumentTargets() []string {
	targets := make([]string, 0, len(documentQueries))
	for t := range documentQueries {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	return targets
}

// PendingDocuments returns up to limit rows of target ("schema.table")
// that have not been embedded.
func (db *DB) PendingDocuments(ctx context.Context, target string, limit int) ([]embedding.Item, error) {
	query, ok := documentQueries[target]
	if !ok {
		return nil, fmt.Errorf("unknown embedding target %q", target)
	}
	schema, table, _ := strings.Cut(target, ".")

	rows, err := db.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending %s: %w", target, err)
	}
	defer rows.Close()

	var items []embedding.Item
	for rows.Next() {
		item := embedding.Item{SourceSchema: schema, SourceTable: table}
		if err := rows.Scan(&item.SourceID, &item.Text); err != nil {
			return nil, fmt.Errorf("failed to scan pending %s: %w", target, err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// UnresolvedRecipients returns award recipients carrying a UEI or DUNS that
// is not yet in the identifier crosswalk, one row per recipient name.
func (db *DB) UnresolvedRecipients(ctx context.Context, limit int) ([]entity.Recipient, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT DISTINCT ON (a.recipient_name)
		        a.id, a.recipient_name, COALESCE(a.recipient_uei, ''), COALESCE(a.recipient_duns, '')
		 FROM usaspending.awards a
		 WHERE a.recipient_name IS NOT NULL
		   AND (a.recipient_uei IS NOT NULL OR a.recipient_duns IS NOT NULL)
		   AND NOT EXISTS (
		     SELECT 1 FROM integration.entity_identifiers ei
		     WHERE (ei.identifier_type = 'uei' AND ei.identifier_value = a.recipient_uei)
		        OR (ei.identifier_type = 'duns' AND ei.identifier_value = a.recipient_duns))
		 ORDER BY a.recipient_name, a.created_at
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list unresolved recipients: %w", err)
	}
	defer rows.Close()

	var recipients []entity.Recipient
	for rows.Next() {
		var r entity.Recipient
		if err := rows.Scan(&r.SourceID, &r.Name, &r.UEI, &r.DUNS); err != nil {
			return nil, fmt.Errorf("failed to scan recipient: %w", err)
		}
		recipients = append(recipients, r)
	}
	return recipients, rows.Err()
}
