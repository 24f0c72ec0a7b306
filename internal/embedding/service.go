package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/iety/internal/chunking"
	"github.com/jonathan/iety/internal/cost"
	"github.com/jonathan/iety/internal/metrics"
)

// Record is one stored chunk embedding. (SourceSchema, SourceTable,
// SourceID, ChunkIndex) is unique.
type Record struct {
	ID           uuid.UUID
	SourceSchema string
	SourceTable  string
	SourceID     uuid.UUID
	ChunkIndex   int
	ContentHash  string
	ChunkText    string
	Embedding    []float32
	Model        string
	TokenCount   int
}

// Store persists embeddings.
type Store interface {
	// FindEmbeddingByHash returns nil when no embedding produced by model
	// has that content hash.
	FindEmbeddingByHash(ctx context.Context, contentHash, model string) ([]float32, error)
	// UpsertEmbedding overwrites on (schema, table, source_id, chunk_index).
	UpsertEmbedding(ctx context.Context, rec Record) (uuid.UUID, error)
}

// BudgetGate is checked before every paid call.
type BudgetGate interface {
	Guard(ctx context.Context) error
}

// CostLogger records provider usage in the cost ledger.
type CostLogger interface {
	LogEmbeddingCost(ctx context.Context, service, model string, tokens int) (uuid.UUID, error)
}

// Limiter throttles provider calls by service name.
type Limiter interface {
	Acquire(ctx context.Context, name string, n int) error
}

// Result is the embedding of one input text.
type Result struct {
	Embedding   []float32
	TokenCount  int
	ContentHash string
	Model       string
	Cached      bool
}

// Item is a document queued for BatchEmbedAndStore.
type Item struct {
	Text         string
	SourceID     uuid.UUID
	SourceSchema string
	SourceTable  string
}

// Service chunks, embeds and stores documents.
type Service struct {
	provider   Provider
	store      Store
	budget     BudgetGate
	costs      CostLogger
	limiter    Limiter
	chunker    chunking.Chunker
	dimensions int
	logger     *zap.Logger
}

// ServiceConfig bundles the Service dependencies.
type ServiceConfig struct {
	Provider   Provider
	Store      Store
	Budget     BudgetGate
	Costs      CostLogger
	Limiter    Limiter
	Chunker    chunking.Chunker
	Dimensions int
	Logger     *zap.Logger
}

// NewService validates dependencies and builds a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	switch {
	case cfg.Provider == nil:
		return nil, fmt.Errorf("embedding provider is required")
	case cfg.Store == nil:
		return nil, fmt.Errorf("embedding store is required")
	case cfg.Budget == nil:
		return nil, fmt.Errorf("budget gate is required")
	case cfg.Costs == nil:
		return nil, fmt.Errorf("cost logger is required")
	case cfg.Limiter == nil:
		return nil, fmt.Errorf("rate limiter is required")
	case cfg.Chunker == nil:
		return nil, fmt.Errorf("chunker is required")
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		provider:   cfg.Provider,
		store:      cfg.Store,
		budget:     cfg.Budget,
		costs:      cfg.Costs,
		limiter:    cfg.Limiter,
		chunker:    cfg.Chunker,
		dimensions: cfg.Dimensions,
		logger:     logger.Named("embedding").With(zap.String("service", cfg.Provider.Name())),
	}, nil
}

// Model returns the provider's model name.
func (s *Service) Model() string {
	return s.provider.Model()
}

// EmbedTexts returns one Result per text, in order. Texts whose content
// hash already has a stored embedding from the current model, or that repeat within texts, are
// served without a provider call. The rest are sent in provider-sized
// batches, each one budget-checked, rate-limited and logged as a single
// ledger entry.
func (s *Service) EmbedTexts(ctx context.Context, texts []string) ([]Result, error) {
	results := make([]Result, len(texts))
	pending := make(map[string][]int)
	var order []string
	var pendingTexts []string

	for i, text := range texts {
		hash := chunking.ContentHash(text)
		if idx, ok := pending[hash]; ok {
			pending[hash] = append(idx, i)
			continue
		}

		existing, err := s.store.FindEmbeddingByHash(ctx, hash, s.provider.Model())
		if err != nil {
			return nil, fmt.Errorf("failed to check existing embedding: %w", err)
		}
		if existing != nil {
			metrics.EmbeddingCacheHitsTotal.Inc()
			results[i] = Result{
				Embedding:   existing,
				TokenCount:  s.chunker.CountTokens(text),
				ContentHash: hash,
				Model:       s.provider.Model(),
				Cached:      true,
			}
			continue
		}

		pending[hash] = []int{i}
		order = append(order, hash)
		pendingTexts = append(pendingTexts, text)
	}

	if len(pendingTexts) == 0 {
		return results, nil
	}

	batchSize := max(s.provider.MaxBatchSize(), 1)
	for start := 0; start < len(pendingTexts); start += batchSize {
		end := min(start+batchSize, len(pendingTexts))
		resp, err := s.call(ctx, pendingTexts[start:end], InputDocument)
		if err != nil {
			return nil, err
		}

		perText := resp.TotalTokens / (end - start)
		for j, vec := range resp.Embeddings {
			hash := order[start+j]
			for _, idx := range pending[hash] {
				results[idx] = Result{
					Embedding:   vec,
					TokenCount:  perText,
					ContentHash: hash,
					Model:       s.provider.Model(),
				}
			}
		}
	}

	return results, nil
}

// EmbedQuery embeds a search query in query mode. Queries are never served
// from the dedup cache.
func (s *Service) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	resp, err := s.call(ctx, []string{query}, InputQuery)
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

// call performs one paid provider request.
func (s *Service) call(ctx context.Context, texts []string, inputType InputType) (*Response, error) {
	if err := s.budget.Guard(ctx); err != nil {
		return nil, err
	}
	if err := s.limiter.Acquire(ctx, s.provider.Name(), 1); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	resp, err := s.provider.Embed(ctx, texts, inputType)
	if err != nil {
		return nil, fmt.Errorf("failed to embed %d texts: %w", len(texts), err)
	}
	// The call is billed whether or not the response is usable.
	if _, err := s.costs.LogEmbeddingCost(ctx, s.provider.Name(), s.provider.Model(), resp.TotalTokens); err != nil {
		return nil, fmt.Errorf("failed to log embedding cost: %w", err)
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("provider returned %d embeddings for %d texts", len(resp.Embeddings), len(texts))
	}
	for _, vec := range resp.Embeddings {
		if len(vec) != s.dimensions {
			return nil, fmt.Errorf("provider returned %d dimensions, store expects %d", len(vec), s.dimensions)
		}
	}
	s.logger.Debug("embedded batch",
		zap.String("input_type", string(inputType)),
		zap.Int("texts", len(texts)),
		zap.Int("tokens", resp.TotalTokens),
	)
	return resp, nil
}

// EmbedAndStore chunks text, embeds the chunks and upserts them keyed by
// source and chunk index. It returns the stored embedding ids.
func (s *Service) EmbedAndStore(ctx context.Context, text string, sourceID uuid.UUID, schema, table string) ([]uuid.UUID, error) {
	chunks := s.chunker.Chunk(text)
	if len(chunks) == 0 {
		return nil, nil
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	results, err := s.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(chunks))
	for i, ch := range chunks {
		id, err := s.store.UpsertEmbedding(ctx, Record{
			SourceSchema: schema,
			SourceTable:  table,
			SourceID:     sourceID,
			ChunkIndex:   ch.Index,
			ContentHash:  results[i].ContentHash,
			ChunkText:    ch.Text,
			Embedding:    results[i].Embedding,
			Model:        results[i].Model,
			TokenCount:   results[i].TokenCount,
		})
		if err != nil {
			return ids, fmt.Errorf("failed to store chunk %d: %w", ch.Index, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// BatchEmbedAndStore embeds items one by one, logging and skipping items
// that fail. A budget halt or cancelled context stops the batch.
func (s *Service) BatchEmbedAndStore(ctx context.Context, items []Item) (int, error) {
	stored := 0
	for _, item := range items {
		ids, err := s.EmbedAndStore(ctx, item.Text, item.SourceID, item.SourceSchema, item.SourceTable)
		stored += len(ids)
		if err == nil {
			continue
		}

		var budgetErr *cost.BudgetExceededError
		if errors.As(err, &budgetErr) || ctx.Err() != nil {
			return stored, err
		}
		s.logger.Error("embedding failed",
			zap.String("source_id", item.SourceID.String()),
			zap.String("source_schema", item.SourceSchema),
			zap.String("source_table", item.SourceTable),
			zap.Error(err),
		)
	}
	return stored, nil
}
