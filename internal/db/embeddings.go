package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/jonathan/iety/internal/embedding"
)

// FindEmbeddingByHash returns a stored vector with the given content hash
// produced by model, or nil if there is none.
func (db *DB) FindEmbeddingByHash(ctx context.Context, contentHash, model string) ([]float32, error) {
	var vec pgvector.Vector
	err := db.pool.QueryRow(ctx,
		`SELECT embedding FROM integration.embeddings
		 WHERE content_hash = $1 AND model = $2 AND embedding IS NOT NULL
		 LIMIT 1`,
		contentHash, model,
	).Scan(&vec)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find embedding by hash: %w", err)
	}
	return vec.Slice(), nil
}

// UpsertEmbedding writes a chunk embedding, replacing any previous one at
// the same (source_schema, source_table, source_id, chunk_index).
func (db *DB) UpsertEmbedding(ctx context.Context, rec embedding.Record) (uuid.UUID, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	var id uuid.UUID
	err := db.pool.QueryRow(ctx,
		`INSERT INTO integration.embeddings
		   (id, source_schema, source_table, source_id, chunk_index, content_hash, chunk_text, embedding, model, token_count)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (source_schema, source_table, source_id, chunk_index) DO UPDATE SET
		   content_hash = EXCLUDED.content_hash,
		   chunk_text = EXCLUDED.chunk_text,
		   embedding = EXCLUDED.embedding,
		   model = EXCLUDED.model,
		   token_count = EXCLUDED.token_count,
		   created_at = NOW()
		 RETURNING id`,
		rec.ID, rec.SourceSchema, rec.SourceTable, rec.SourceID, rec.ChunkIndex,
		rec.ContentHash, rec.ChunkText, pgvector.NewVector(rec.Embedding), rec.Model, rec.TokenCount,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to upsert embedding: %w", err)
	}
	return id, nil
}
