package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/iety/internal/metrics"
)

// DefaultLimit is used when a request does not set one.
const DefaultLimit = 10

// logTopN is how many result ids are kept in the search log.
const logTopN = 5

// HybridSearch dispatches searches and logs each one.
type HybridSearch struct {
	store    Store
	embedder QueryEmbedder
	weights  Weights
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures a HybridSearch.
type Option func(*HybridSearch)

// WithWeights overrides the fusion weights.
func WithWeights(w Weights) Option {
	return func(h *HybridSearch) { h.weights = w }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(h *HybridSearch) { h.logger = logger }
}

// New creates a HybridSearch.
func New(store Store, embedder QueryEmbedder, opts ...Option) *HybridSearch {
	h := &HybridSearch{
		store:    store,
		embedder: embedder,
		weights:  DefaultWeights(),
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.Named("search")
	return h
}

// Search runs req and writes a search_log row. A failure to log is only a
// warning.
func (h *HybridSearch) Search(ctx context.Context, req Request) (*Response, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	searchType := req.Type
	if searchType == "" {
		searchType = TypeHybrid
	}
	filter := Filter{Schema: req.Schema, Table: req.Table}

	start := h.now()
	var (
		results []Result
		err     error
	)
	switch searchType {
	case TypeVector:
		results, err = h.Vector(ctx, query, limit, filter)
	case TypeKeyword:
		results, err = h.Keyword(ctx, query, limit, filter)
	case TypeHybrid:
		results, err = h.Hybrid(ctx, query, limit, filter)
	default:
		return nil, fmt.Errorf("unknown search type %q", searchType)
	}
	if err != nil {
		return nil, fmt.Errorf("%s search failed: %w", searchType, err)
	}
	elapsed := h.now().Sub(start)
	metrics.SearchLatencySeconds.WithLabelValues(string(searchType)).Observe(elapsed.Seconds())

	resp := &Response{
		Query:      query,
		Results:    results,
		TotalCount: len(results),
		Type:       searchType,
		LatencyMS:  elapsed.Milliseconds(),
	}
	h.log(ctx, resp)
	return resp, nil
}

// Vector ranks chunks by cosine similarity to the query embedding.
func (h *HybridSearch) Vector(ctx context.Context, query string, limit int, filter Filter) ([]Result, error) {
	embedding, err := h.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return h.store.VectorSearch(ctx, embedding, limit, filter)
}

// Keyword ranks chunks by trigram similarity.
func (h *HybridSearch) Keyword(ctx context.Context, query string, limit int, filter Filter) ([]Result, error) {
	return h.store.KeywordSearch(ctx, query, limit, filter)
}

// Hybrid runs both legs concurrently with 2*limit candidates each and fuses
// them.
func (h *HybridSearch) Hybrid(ctx context.Context, query string, limit int, filter Filter) ([]Result, error) {
	var vector, keyword []Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		vector, err = h.Vector(gctx, query, 2*limit, filter)
		return err
	})
	g.Go(func() error {
		var err error
		keyword, err = h.Keyword(gctx, query, 2*limit, filter)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return Fuse(vector, keyword, h.weights, limit), nil
}

func (h *HybridSearch) log(ctx context.Context, resp *Response) {
	top := make([]uuid.UUID, 0, logTopN)
	for i := 0; i < len(resp.Results) && i < logTopN; i++ {
		top = append(top, resp.Results[i].ID)
	}
	err := h.store.LogSearch(ctx, LogEntry{
		Query:        resp.Query,
		Type:         resp.Type,
		ResultCount:  resp.TotalCount,
		TopResultIDs: top,
		LatencyMS:    resp.LatencyMS,
	})
	if err != nil {
		h.logger.Warn("failed to log search", zap.String("query", resp.Query), zap.Error(err))
	}
}
