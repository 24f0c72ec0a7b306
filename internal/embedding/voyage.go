package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

const (
	voyageBaseURL      = "https://api.voyageai.com/v1/embeddings"
	voyageBatchSize    = 128 // Voyage API max batch size
	voyageMaxRetries   = 3
	voyageInitialDelay = 1 * time.Second
)

// VoyageProvider calls the Voyage AI embeddings endpoint.
type VoyageProvider struct {
	apiKey     string
	baseURL    string
	model      string
	batchSize  int
	dimensions int
	client     *http.Client
	sleep      func(ctx context.Context, d time.Duration) error
}

type voyageRequest struct {
	Input           []string `json:"input"`
	Model           string   `json:"model"`
	InputType       string   `json:"input_type"`
	OutputDimension int      `json:"output_dimension,omitempty"`
}

type voyageResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

type voyageError struct {
	Detail string `json:"detail"`
	Error  struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewVoyageProvider creates a Voyage provider from cfg.
func NewVoyageProvider(cfg Config) (*VoyageProvider, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	if cfg.Provider != ProviderVoyage {
		return nil, fmt.Errorf("config is for provider %q, not voyage", cfg.Provider)
	}
	return &VoyageProvider{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		model:      cfg.Model,
		batchSize:  min(cfg.BatchSize, voyageBatchSize),
		dimensions: cfg.Dimensions,
		client:     &http.Client{Timeout: 60 * time.Second},
		sleep:      sleepContext,
	}, nil
}

func (p *VoyageProvider) Name() string      { return string(ProviderVoyage) }
func (p *VoyageProvider) Model() string     { return p.model }
func (p *VoyageProvider) MaxBatchSize() int { return p.batchSize }
func (p *VoyageProvider) Close() error      { return nil }

// Embed sends one request. 429 and 5xx responses are retried with
// exponential backoff; other client errors fail immediately.
func (p *VoyageProvider) Embed(ctx context.Context, texts []string, inputType InputType) (*Response, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("no texts provided")
	}
	if len(texts) > p.batchSize {
		return nil, fmt.Errorf("batch size %d exceeds Voyage limit of %d", len(texts), p.batchSize)
	}

	body, err := json.Marshal(voyageRequest{
		Input:           texts,
		Model:           p.model,
		InputType:       string(inputType),
		OutputDimension: p.dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < voyageMaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt-1))) * voyageInitialDelay
			if err := p.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		resp, retry, err := p.do(ctx, body, len(texts))
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retry {
			return nil, err
		}
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", voyageMaxRetries, lastErr)
}

func (p *VoyageProvider) do(ctx context.Context, body []byte, n int) (*Response, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, fmt.Errorf("HTTP request failed: %w", err)
	}
	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, true, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := string(respBody)
		var vErr voyageError
		if json.Unmarshal(respBody, &vErr) == nil {
			if vErr.Error.Message != "" {
				msg = vErr.Error.Message
			} else if vErr.Detail != "" {
				msg = vErr.Detail
			}
		}
		retry := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, retry, fmt.Errorf("voyage API error (%d): %s", resp.StatusCode, msg)
	}

	var vResp voyageResponse
	if err := json.Unmarshal(respBody, &vResp); err != nil {
		return nil, false, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(vResp.Data) != n {
		return nil, false, fmt.Errorf("expected %d embeddings, got %d", n, len(vResp.Data))
	}

	out := &Response{Embeddings: make([][]float32, n), TotalTokens: vResp.Usage.TotalTokens}
	for i, d := range vResp.Data {
		idx := d.Index
		if idx < 0 || idx >= n || out.Embeddings[idx] != nil {
			idx = i
		}
		out.Embeddings[idx] = d.Embedding
	}
	return out, false, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
