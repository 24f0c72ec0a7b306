// Package embedding generates vector embeddings for document chunks and
// search queries, with dedup by content hash, budget gating, rate limiting
// and cost logging around every paid provider call.
package embedding

import "fmt"

// ProviderName identifies an embedding backend. It doubles as the rate
// limiter and cost ledger service key.
type ProviderName string

// Supported providers
const (
	ProviderVoyage ProviderName = "voyage"
	ProviderGemini ProviderName = "gemini"
)

// DefaultDimensions matches the embeddings.embedding vector column.
const DefaultDimensions = 1024

// Config selects and configures the provider.
type Config struct {
	Provider   ProviderName
	APIKey     string
	Model      string
	BaseURL    string
	BatchSize  int
	Dimensions int
}

// DefaultConfig returns the default configuration (Voyage).
func DefaultConfig() Config {
	return DefaultVoyageConfig()
}

// DefaultVoyageConfig returns the default Voyage configuration.
func DefaultVoyageConfig() Config {
	return Config{
		Provider:   ProviderVoyage,
		Model:      "voyage-3.5-lite",
		BaseURL:    voyageBaseURL,
		BatchSize:  voyageBatchSize,
		Dimensions: DefaultDimensions,
	}
}

// DefaultGeminiConfig returns the default Gemini configuration.
func DefaultGeminiConfig() Config {
	return Config{
		Provider:   ProviderGemini,
		Model:      "text-embedding-004",
		BatchSize:  100,
		Dimensions: DefaultDimensions,
	}
}

// withDefaults fills zero fields from the provider's defaults.
func (c Config) withDefaults() (Config, error) {
	var d Config
	switch c.Provider {
	case "", ProviderVoyage:
		d = DefaultVoyageConfig()
	case ProviderGemini:
		d = DefaultGeminiConfig()
	default:
		return c, fmt.Errorf("unknown embedding provider %q", c.Provider)
	}
	if c.Provider == "" {
		c.Provider = d.Provider
	}
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.BaseURL == "" {
		c.BaseURL = d.BaseURL
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.Dimensions <= 0 {
		c.Dimensions = d.Dimensions
	}
	return c, nil
}
