// Package openai adapts sashabaranov/go-openai's Embeddings API to the
// embedder.Embedder trait the attribution kernel consumes.
package openai

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/cortexlabs/cortex-engine-go/pkg/embedder"
)

// Client is an OpenAI-backed embedder.Embedder.
type Client struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
}

// Config configures the OpenAI embedder client.
type Config struct {
	// APIKey is the OpenAI API key.
	APIKey string
	// Model is the embedding model name (defaults to AdaEmbeddingV2).
	Model string
	// BaseURL overrides the default OpenAI API base URL.
	BaseURL string
	// Dimensions is the fixed vector dimension for this model (defaults
	// to 1536, AdaEmbeddingV2's native dimension).
	Dimensions int
}

var _ embedder.Embedder = (*Client)(nil)

// NewClient creates a new OpenAI-backed embedder.
func NewClient(cfg *Config) (*Client, error) {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	model := openai.AdaEmbeddingV2
	if cfg.Model != "" {
		model = openai.EmbeddingModel(cfg.Model)
	}

	dimensions := cfg.Dimensions
	if dimensions == 0 {
		dimensions = 1536
	}

	return &Client{
		client:     openai.NewClientWithConfig(config),
		model:      model,
		dimensions: dimensions,
	}, nil
}

// Embed returns one unit-norm embedding per input text, in order.
// Nothing in the CreateEmbeddings response guarantees unit norm, so the
// batch is routed through embedder.NormalizeBatch before returning.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: c.model,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedder/openai: unexpected result count (got %d, want %d)", len(resp.Data), len(texts))
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("embedder/openai: no data returned from OpenAI API")
	}

	vecs := make([][]float32, len(texts))
	for i, d := range resp.Data {
		vecs[i] = d.Embedding
	}
	return embedder.NormalizeBatch(vecs), nil
}

// Dimensions returns the fixed embedding dimension.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Close is a no-op: the OpenAI SDK client owns no resources that
// require explicit release.
func (c *Client) Close() error {
	return nil
}
