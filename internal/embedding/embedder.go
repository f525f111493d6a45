// Package embedding turns chunk and query text into vectors.
package embedding

import (
	"context"
	"fmt"
)

// Embedder produces vector embeddings for text. Implementations return L2-normalized vectors so
// inner product equals cosine similarity.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// Provider names.
const (
	ProviderMock   = "mock"
	ProviderONNX   = "onnx"
	ProviderOpenAI = "openai"
)

// Options selects and configures an embedder.
type Options struct {
	Provider          string
	ModelPath         string // onnx
	Model             string // openai
	APIKey            string // openai
	BaseURL           string // openai-compatible endpoint
	Dimensions        int
	MaxTokens         int
	CacheSize         int
	RequestsPerSecond float64
	Burst             int
}

// New creates the embedder named by opts.Provider. An empty provider selects the mock embedder.
func New(opts Options) (Embedder, error) {
	switch opts.Provider {
	case ProviderMock, "":
		return NewMockEmbedder(opts.Dimensions), nil
	case ProviderONNX:
		e, err := NewONNXEmbedder(opts.ModelPath, opts.Dimensions, opts.MaxTokens, opts.CacheSize)
		if err != nil {
			return nil, err
		}
		return e, nil
	case ProviderOpenAI:
		e, err := NewOpenAIEmbedder(opts)
		if err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: mock, onnx, openai)", opts.Provider)
	}
}

// embedEach calls embed for every text in order.
func embedEach(ctx context.Context, texts []string, embed func(context.Context, string) ([]float32, error)) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = emb
	}
	return out, nil
}
