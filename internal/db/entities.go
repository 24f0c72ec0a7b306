package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/iety/internal/entity"
)

// FindMatches returns canonical entities of entityType whose trigram name
// similarity is at least threshold, best first.
func (db *DB) FindMatches(ctx context.Context, name string, entityType entity.Type, threshold float64, limit int) ([]entity.Match, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, canonical_name, entity_type, similarity(canonical_name, $1) AS sim
		 FROM integration.canonical_entities
		 WHERE entity_type = $2 AND similarity(canonical_name, $1) >= $3
		 ORDER BY sim DESC
		 LIMIT $4`,
		name, string(entityType), threshold, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find entity matches: %w", err)
	}

	var matches []entity.Match
	for rows.Next() {
		var m entity.Match
		var typ string
		var sim float32
		if err := rows.Scan(&m.CanonicalID, &m.CanonicalName, &typ, &sim); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan entity match: %w", err)
		}
		m.EntityType = entity.Type(typ)
		m.Similarity = float64(sim)
		matches = append(matches, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read entity matches: %w", err)
	}

	for i := range matches {
		ids, err := db.identifiersFor(ctx, matches[i].CanonicalID)
		if err != nil {
			return nil, err
		}
		matches[i].Identifiers = ids
	}
	return matches, nil
}

func (db *DB) identifiersFor(ctx context.Context, canonicalID uuid.UUID) ([]entity.Identifier, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT identifier_type, identifier_value, source_schema, source_table, source_id, confidence::float8
		 FROM integration.entity_identifiers
		 WHERE canonical_id = $1
		 ORDER BY identifier_type, identifier_value`,
		canonicalID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load identifiers: %w", err)
	}
	defer rows.Close()

	var ids []entity.Identifier
	for rows.Next() {
		var id entity.Identifier
		var sourceID *uuid.UUID
		if err := rows.Scan(&id.Type, &id.Value, &id.Source.Schema, &id.Source.Table, &sourceID, &id.Confidence); err != nil {
			return nil, fmt.Errorf("failed to scan identifier: %w", err)
		}
		if sourceID != nil {
			id.Source.ID = *sourceID
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FindByIdentifier looks up the canonical entity owning an identifier.
func (db *DB) FindByIdentifier(ctx context.Context, identifierType, value string) (*entity.Entity, error) {
	var e entity.Entity
	var typ string
	var aliases []byte
	err := db.pool.QueryRow(ctx,
		`SELECT ce.id, ce.canonical_name, ce.entity_type, ce.aliases, ce.merged_from
		 FROM integration.entity_identifiers ei
		 JOIN integration.canonical_entities ce ON ce.id = ei.canonical_id
		 WHERE ei.identifier_type = $1 AND ei.identifier_value = $2`,
		identifierType, value,
	).Scan(&e.CanonicalID, &e.CanonicalName, &typ, &aliases, &e.MergedFrom)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find entity by identifier: %w", err)
	}
	e.EntityType = entity.Type(typ)
	if len(aliases) > 0 {
		if err := json.Unmarshal(aliases, &e.Aliases); err != nil {
			return nil, fmt.Errorf("failed to decode aliases: %w", err)
		}
	}

	ids, err := db.identifiersFor(ctx, e.CanonicalID)
	if err != nil {
		return nil, err
	}
	e.Identifiers = make(map[string]string, len(ids))
	for _, id := range ids {
		e.Identifiers[id.Type] = id.Value
	}
	return &e, nil
}

// CreateCanonicalEntity inserts a canonical entity and its identifiers.
func (db *DB) CreateCanonicalEntity(ctx context.Context, ne entity.NewEntity) (uuid.UUID, error) {
	aliases := ne.Aliases
	if aliases == nil {
		aliases = []string{}
	}
	rawAliases, err := json.Marshal(aliases)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to encode aliases: %w", err)
	}

	id := uuid.New()
	err = db.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO integration.canonical_entities (id, entity_type, canonical_name, aliases)
			 VALUES ($1, $2, $3, $4)`,
			id, string(ne.Type), ne.Name, rawAliases,
		); err != nil {
			return fmt.Errorf("failed to insert canonical entity: %w", err)
		}

		for idType, value := range ne.Identifiers {
			if value == "" {
				continue
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO integration.entity_identifiers
				   (canonical_id, entity_type, identifier_type, identifier_value, source_schema, source_table, source_id, confidence)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, 1.0)
				 ON CONFLICT (identifier_type, identifier_value) DO UPDATE SET
				   canonical_id = EXCLUDED.canonical_id,
				   updated_at = NOW()`,
				id, string(ne.Type), idType, value, ne.Source.Schema, ne.Source.Table, nullUUID(ne.Source.ID),
			); err != nil {
				return fmt.Errorf("failed to insert identifier %s: %w", idType, err)
			}
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// LinkEntity attaches an identifier to a canonical entity. On conflict the
// identifier moves to canonicalID and keeps the higher confidence.
func (db *DB) LinkEntity(ctx context.Context, canonicalID uuid.UUID, id entity.Identifier) error {
	confidence := math.Round(id.Confidence*100) / 100
	tag, err := db.pool.Exec(ctx,
		`INSERT INTO integration.entity_identifiers
		   (canonical_id, entity_type, identifier_type, identifier_value, source_schema, source_table, source_id, confidence)
		 SELECT $1, ce.entity_type, $2, $3, $4, $5, $6, $7
		 FROM integration.canonical_entities ce WHERE ce.id = $1
		 ON CONFLICT (identifier_type, identifier_value) DO UPDATE SET
		   canonical_id = EXCLUDED.canonical_id,
		   confidence = GREATEST(integration.entity_identifiers.confidence, EXCLUDED.confidence),
		   updated_at = NOW()`,
		canonicalID, id.Type, id.Value, id.Source.Schema, id.Source.Table, nullUUID(id.Source.ID), confidence,
	)
	if err != nil {
		return fmt.Errorf("failed to link identifier: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("canonical entity %s not found", canonicalID)
	}
	return nil
}

// MergeEntities folds secondary into primary: identifiers are repointed,
// the secondary's name and aliases become primary aliases, and secondary
// is deleted.
func (db *DB) MergeEntities(ctx context.Context, primaryID, secondaryID uuid.UUID) error {
	if primaryID == secondaryID {
		return fmt.Errorf("cannot merge entity %s into itself", primaryID)
	}
	return db.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE integration.entity_identifiers
			 SET canonical_id = $1, updated_at = NOW()
			 WHERE canonical_id = $2`,
			primaryID, secondaryID,
		); err != nil {
			return fmt.Errorf("failed to repoint identifiers: %w", err)
		}

		tag, err := tx.Exec(ctx,
			`UPDATE integration.canonical_entities p SET
			   aliases = (
			     SELECT COALESCE(jsonb_agg(DISTINCT a), '[]'::jsonb)
			     FROM (
			       SELECT jsonb_array_elements_text(p.aliases) AS a
			       UNION
			       SELECT jsonb_array_elements_text(s.aliases)
			       UNION
			       SELECT s.canonical_name
			     ) merged
			     WHERE a <> p.canonical_name
			   ),
			   merged_from = array_append(COALESCE(p.merged_from, '{}'), s.id),
			   updated_at = NOW()
			 FROM integration.canonical_entities s
			 WHERE p.id = $1 AND s.id = $2`,
			primaryID, secondaryID,
		)
		if err != nil {
			return fmt.Errorf("failed to merge aliases: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("entities %s and %s must both exist", primaryID, secondaryID)
		}

		if _, err := tx.Exec(ctx,
			`DELETE FROM integration.canonical_entities WHERE id = $1`,
			secondaryID,
		); err != nil {
			return fmt.Errorf("failed to delete merged entity: %w", err)
		}
		return nil
	})
}

func nullUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
