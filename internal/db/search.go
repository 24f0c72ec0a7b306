package db

import (
	"context"
	"fmt"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/jonathan/iety/internal/search"
)

// MinKeywordSimilarity drops trigram matches too weak to be useful.
const MinKeywordSimilarity = 0.1

var chunkColumns = []string{"id", "source_schema", "source_table", "source_id", "chunk_index", "chunk_text"}

// VectorSearch returns the chunks nearest to embedding by cosine distance.
// Score is 1 - distance.
func (db *DB) VectorSearch(ctx context.Context, embedding []float32, limit int, filter search.Filter) ([]search.Result, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	vec := pgvector.NewVector(embedding)
	sb.Select(append(chunkColumns, fmt.Sprintf("1 - (embedding <=> %s) AS score", sb.Var(vec)))...)
	sb.From("integration.embeddings")
	sb.Where("embedding IS NOT NULL")
	applyFilter(sb, filter)
	sb.OrderBy(fmt.Sprintf("embedding <=> %s", sb.Var(vec)))
	sb.Limit(limit)

	query, args := sb.Build()
	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	results, err := scanResults(rows)
	if err != nil {
		return nil, err
	}
	for i := range results {
		score := results[i].Score
		results[i].VectorScore = &score
	}
	return results, nil
}

// KeywordSearch returns chunks ordered by trigram similarity to query.
func (db *DB) KeywordSearch(ctx context.Context, query string, limit int, filter search.Filter) ([]search.Result, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(append(chunkColumns, fmt.Sprintf("similarity(chunk_text, %s) AS score", sb.Var(query)))...)
	sb.From("integration.embeddings")
	sb.Where(fmt.Sprintf("similarity(chunk_text, %s) > %s", sb.Var(query), sb.Var(MinKeywordSimilarity)))
	applyFilter(sb, filter)
	sb.OrderBy("score").Desc()
	sb.Limit(limit)

	sql, args := sb.Build()
	rows, err := db.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	results, err := scanResults(rows)
	if err != nil {
		return nil, err
	}
	for i := range results {
		score := results[i].Score
		results[i].KeywordScore = &score
	}
	return results, nil
}

// LogSearch records a search in integration.search_log.
func (db *DB) LogSearch(ctx context.Context, entry search.LogEntry) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO integration.search_log (query, search_type, result_count, top_result_ids, latency_ms)
		 VALUES ($1, $2, $3, $4, $5)`,
		entry.Query, string(entry.Type), entry.ResultCount, entry.TopResultIDs, entry.LatencyMS,
	)
	if err != nil {
		return fmt.Errorf("failed to log search: %w", err)
	}
	return nil
}

func applyFilter(sb *sqlbuilder.SelectBuilder, filter search.Filter) {
	if filter.Schema != "" {
		sb.Where(sb.Equal("source_schema", filter.Schema))
	}
	if filter.Table != "" {
		sb.Where(sb.Equal("source_table", filter.Table))
	}
}

func scanResults(rows pgx.Rows) ([]search.Result, error) {
	defer rows.Close()

	var results []search.Result
	for rows.Next() {
		var r search.Result
		if err := rows.Scan(&r.ID, &r.SourceSchema, &r.SourceTable, &r.SourceID, &r.ChunkIndex, &r.ChunkText, &r.Score); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read search results: %w", err)
	}
	return results, nil
}
