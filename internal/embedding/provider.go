package embedding

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrProviderDisabled is returned by a provider constructed without credentials.
	ErrProviderDisabled = errors.New("embedding provider disabled")
	// ErrDimensionMismatch is returned when a model cannot produce vectors
	// of the configured size.
	ErrDimensionMismatch = errors.New("embedding dimensions mismatch")
)

// InputType selects document or query embeddings. Providers with
// asymmetric models embed the two differently.
type InputType string

// Input types
const (
	InputDocument InputType = "document"
	InputQuery    InputType = "query"
)

// Response is one provider call's output: a vector per input, in order,
// and the total tokens billed for the call.
type Response struct {
	Embeddings  [][]float32
	TotalTokens int
}

// Provider is an embedding backend.
type Provider interface {
	// Name is the rate limiter and cost ledger service key.
	Name() string
	Model() string
	// MaxBatchSize is the most inputs accepted by one Embed call.
	MaxBatchSize() int
	Embed(ctx context.Context, texts []string, inputType InputType) (*Response, error)
	Close() error
}

// NewProvider builds the configured provider. A missing API key yields a
// DisabledProvider so that construction succeeds and every call reports
// ErrProviderDisabled.
func NewProvider(ctx context.Context, cfg Config, counter TokenCounter) (Provider, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	if cfg.APIKey == "" {
		return &DisabledProvider{
			name:   string(cfg.Provider),
			model:  cfg.Model,
			reason: fmt.Sprintf("%s API key not configured", cfg.Provider),
		}, nil
	}

	switch cfg.Provider {
	case ProviderGemini:
		return NewGeminiProvider(ctx, cfg, counter)
	default:
		return NewVoyageProvider(cfg)
	}
}

// DisabledProvider stands in for a provider that has no credentials.
type DisabledProvider struct {
	name   string
	model  string
	reason string
}

// NewDisabledProvider returns a provider whose calls always fail.
func NewDisabledProvider(name, reason string) *DisabledProvider {
	return &DisabledProvider{name: name, reason: reason}
}

func (p *DisabledProvider) Name() string      { return p.name }
func (p *DisabledProvider) Model() string     { return p.model }
func (p *DisabledProvider) MaxBatchSize() int { return 1 }
func (p *DisabledProvider) Close() error      { return nil }

// Embed always fails with ErrProviderDisabled.
func (p *DisabledProvider) Embed(context.Context, []string, InputType) (*Response, error) {
	return nil, fmt.Errorf("%w: %s", ErrProviderDisabled, p.reason)
}
