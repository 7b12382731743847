// Package embed wraps an OpenAI-compatible embeddings endpoint (a local
// embedding server speaking the same API shape) behind a small interface,
// so the knowledge engine never depends on a specific provider.
package embed

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// Embedder turns text into a fixed-size float vector.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// Client is an Embedder backed by an OpenAI-compatible /embeddings
// endpoint, reusing sashabaranov/go-openai's client rather than a
// hand-rolled HTTP call since the wire format is genuinely OpenAI's.
type Client struct {
	inner *openai.Client
	model string
}

// New builds a Client pointed at baseURL (e.g. a local sentence-transformer
// server) using model as the embeddings model name.
func New(baseURL, model, apiKey string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return &Client{inner: openai.NewClientWithConfig(cfg), model: model}
}

func (c *Client) Model() string { return c.model }

// Embed requests embeddings for a batch of texts, preserving order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := c.inner.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(c.model),
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response length mismatch: got %d, want %d", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		out[d.Index] = d.Embedding
	}
	return out, nil
}
