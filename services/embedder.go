package services

import (
	"context"
	"fmt"

	genai "github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"document-context-platform/internal/config"
)

// Embedder generates fixed-length embedding vectors for descriptions.
type Embedder struct {
	client  *genai.Client
	model   string
	wantDim int
}

func NewEmbedder(cfg *config.Config) (*Embedder, error) {
	client, err := genai.NewClient(context.Background(), option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, err
	}
	return &Embedder{
		client:  client,
		model:   cfg.EmbeddingsModel,
		wantDim: cfg.VectorDim,
	}, nil
}

// Embed returns the embedding vector for text. The vector length is checked
// against the configured dimension; a mismatch is a typed embedding error.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	model := e.client.EmbeddingModel(e.model)
	resp, err := model.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if resp.Embedding == nil || len(resp.Embedding.Values) == 0 {
		return nil, fmt.Errorf("%w: empty vector", ErrDimensionMismatch)
	}
	if e.wantDim > 0 && len(resp.Embedding.Values) != e.wantDim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(resp.Embedding.Values), e.wantDim)
	}
	return resp.Embedding.Values, nil
}

func (e *Embedder) Close() error {
	return e.client.Close()
}
