// Package search runs vector, trigram keyword and fused hybrid search over
// stored chunk embeddings.
package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Type selects the ranking strategy.
type Type string

// Search types
const (
	TypeVector  Type = "vector"
	TypeKeyword Type = "keyword"
	TypeHybrid  Type = "hybrid"
)

// ParseType accepts vector, keyword or hybrid (case-insensitive). Empty means hybrid.
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case "":
		return TypeHybrid, nil
	case TypeVector, TypeKeyword, TypeHybrid:
		return t, nil
	default:
		return "", fmt.Errorf("unknown search type %q (want vector, keyword or hybrid)", s)
	}
}

// Result is one ranked chunk. VectorScore and KeywordScore hold the raw
// per-leg similarity when the chunk appeared in that leg.
type Result struct {
	ID           uuid.UUID `json:"id"`
	SourceSchema string    `json:"source_schema"`
	SourceTable  string    `json:"source_table"`
	SourceID     uuid.UUID `json:"source_id"`
	ChunkIndex   int       `json:"chunk_index"`
	ChunkText    string    `json:"chunk_text"`
	Score        float64   `json:"score"`
	VectorScore  *float64  `json:"vector_score,omitempty"`
	KeywordScore *float64  `json:"keyword_score,omitempty"`
}

// Response is returned by Search.
type Response struct {
	Query      string   `json:"query"`
	Results    []Result `json:"results"`
	TotalCount int      `json:"total_count"`
	Type       Type     `json:"search_type"`
	LatencyMS  int64    `json:"latency_ms"`
}

// Filter narrows a search to one source schema and/or table.
type Filter struct {
	Schema string
	Table  string
}

// Request is a search invocation.
type Request struct {
	Query  string
	Limit  int
	Type   Type
	Schema string
	Table  string
}

// LogEntry is one row of the search analytics log.
type LogEntry struct {
	Query        string
	Type         Type
	ResultCount  int
	TopResultIDs []uuid.UUID
	LatencyMS    int64
}

// Store runs the per-leg queries and records the analytics log.
type Store interface {
	// VectorSearch orders by cosine distance to embedding.
	VectorSearch(ctx context.Context, embedding []float32, limit int, filter Filter) ([]Result, error)
	// KeywordSearch orders by trigram similarity to query.
	KeywordSearch(ctx context.Context, query string, limit int, filter Filter) ([]Result, error)
	LogSearch(ctx context.Context, entry LogEntry) error
}

// QueryEmbedder embeds search queries.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}
