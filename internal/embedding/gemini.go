package embedding

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// geminiModelDimensions lists the fixed output size of Gemini embedding
// models. The Go SDK cannot request a different output dimensionality.
var geminiModelDimensions = map[string]int{
	"text-embedding-004":   768,
	"embedding-001":        768,
	"gemini-embedding-001": 3072,
}

// TokenCounter estimates billable tokens for a text. The Gemini embedding
// API does not report usage, so it is computed locally.
type TokenCounter func(text string) int

// estimateTokens is the fallback counter: roughly four characters per token.
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// GeminiProvider embeds with a Gemini embedding model.
type GeminiProvider struct {
	client    *genai.Client
	model     string
	batchSize int
	count     TokenCounter
}

// NewGeminiProvider creates a Gemini provider. It fails with
// ErrDimensionMismatch when the model's output size is known and differs
// from cfg.Dimensions, before any request can be made.
func NewGeminiProvider(ctx context.Context, cfg Config, counter TokenCounter) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	if cfg.Provider != ProviderGemini {
		return nil, fmt.Errorf("config is for provider %q, not gemini", cfg.Provider)
	}
	if dims, ok := geminiModelDimensions[cfg.Model]; ok && dims != cfg.Dimensions {
		return nil, fmt.Errorf("%w: %s produces %d dimensions, store expects %d",
			ErrDimensionMismatch, cfg.Model, dims, cfg.Dimensions)
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	if counter == nil {
		counter = estimateTokens
	}
	return &GeminiProvider{
		client:    client,
		model:     cfg.Model,
		batchSize: cfg.BatchSize,
		count:     counter,
	}, nil
}

func (p *GeminiProvider) Name() string      { return string(ProviderGemini) }
func (p *GeminiProvider) Model() string     { return p.model }
func (p *GeminiProvider) MaxBatchSize() int { return p.batchSize }

// Close releases the underlying client.
func (p *GeminiProvider) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

// Embed calls BatchEmbedContents with the retrieval task type matching inputType.
func (p *GeminiProvider) Embed(ctx context.Context, texts []string, inputType InputType) (*Response, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("no texts provided")
	}
	if len(texts) > p.batchSize {
		return nil, fmt.Errorf("batch size %d exceeds Gemini limit of %d", len(texts), p.batchSize)
	}

	em := p.client.EmbeddingModel(p.model)
	em.TaskType = genai.TaskTypeRetrievalDocument
	if inputType == InputQuery {
		em.TaskType = genai.TaskTypeRetrievalQuery
	}

	batch := em.NewBatch()
	tokens := 0
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
		tokens += p.count(t)
	}

	res, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("failed to embed contents: %w", err)
	}
	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(res.Embeddings))
	}

	out := &Response{Embeddings: make([][]float32, len(texts)), TotalTokens: tokens}
	for i, e := range res.Embeddings {
		if e == nil {
			return nil, fmt.Errorf("missing embedding at index %d", i)
		}
		out.Embeddings[i] = e.Values
	}
	return out, nil
}
