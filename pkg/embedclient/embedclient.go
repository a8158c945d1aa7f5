// Package embedclient provides the embedding client contract the Embed
// stage calls: text in, a fixed-dimension vector out. The default
// implementation talks to an Ollama-compatible HTTP embeddings endpoint.
package embedclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/overdrivelabs/dtcpipe/pkg/resilience"
)

// Client is the contract the Embed stage depends on.
type Client interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// OllamaClient implements Client against Ollama's HTTP /api/embeddings.
type OllamaClient struct {
	baseURL string
	model   string
	dim     int
	client  *http.Client
	breaker *resilience.Breaker
}

// New creates an Ollama-backed embedding client. dim is the schema's
// expected embedding dimension (default 768); responses of any other
// length are rejected with an error rather than silently stored.
func New(baseURL, model string, dim int, timeout time.Duration) *OllamaClient {
	return &OllamaClient{
		baseURL: baseURL,
		model:   model,
		dim:     dim,
		client:  &http.Client{Timeout: timeout},
		breaker: resilience.NewBreaker(resilience.BreakerOpts{
			FailThreshold: 5,
			Timeout:       30 * time.Second,
		}),
	}
}

type ollamaEmbedReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResp struct {
	Embedding []float64 `json:"embedding"`
}

// Embed returns a vector of exactly c.dim dimensions for text.
func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := c.breaker.Call(ctx, func(ctx context.Context) error {
		body, err := json.Marshal(ollamaEmbedReq{Model: c.model, Prompt: text})
		if err != nil {
			return fmt.Errorf("embedclient: marshal request: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("embedclient: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("embedclient: request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("embedclient: status %d", resp.StatusCode)
		}

		var result ollamaEmbedResp
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return fmt.Errorf("embedclient: decode response: %w", err)
		}

		vec := make([]float32, len(result.Embedding))
		for i, v := range result.Embedding {
			vec[i] = float32(v)
		}
		if c.dim > 0 && len(vec) != c.dim {
			return fmt.Errorf("embedclient: dimension mismatch: got %d, want %d", len(vec), c.dim)
		}
		out = vec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
