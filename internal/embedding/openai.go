package embedding

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/hyperjump/shiori/pkg/utils"
)

const (
	// DefaultOpenAIModel is used when no model is configured.
	DefaultOpenAIModel = string(openai.SmallEmbedding3)
	// DefaultOpenAIDimensions matches text-embedding-3-small.
	DefaultOpenAIDimensions = 1536
)

// ErrNoAPIKey is returned when the OpenAI provider is selected without a key.
var ErrNoAPIKey = errors.New("openai api key not set (SHIORI_OPENAI_API_KEY)")

// EmbeddingAPI is the slice of the OpenAI client used here.
type EmbeddingAPI interface {
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// OpenAIEmbedder calls the OpenAI embeddings endpoint (or a compatible one), rate limited and
// backed by an LRU cache.
type OpenAIEmbedder struct {
	api        EmbeddingAPI
	model      openai.EmbeddingModel
	dimensions int
	limiter    *rate.Limiter
	cache      *EmbeddingCache
}

// NewOpenAIEmbedder builds an embedder from opts. RequestsPerSecond <= 0 disables rate limiting.
func NewOpenAIEmbedder(opts Options) (*OpenAIEmbedder, error) {
	if opts.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	clientCfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		clientCfg.BaseURL = opts.BaseURL
	}
	return NewOpenAIEmbedderWithAPI(openai.NewClientWithConfig(clientCfg), opts), nil
}

// NewOpenAIEmbedderWithAPI wires an embedder around an existing API client.
func NewOpenAIEmbedderWithAPI(api EmbeddingAPI, opts Options) *OpenAIEmbedder {
	model := opts.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	dims := opts.Dimensions
	if dims <= 0 {
		dims = DefaultOpenAIDimensions
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return &OpenAIEmbedder{
		api:        api,
		model:      openai.EmbeddingModel(model),
		dimensions: dims,
		limiter:    limiter,
		cache:      NewEmbeddingCache(opts.CacheSize),
	}
}

// Embed returns the embedding of text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds every uncached text in a single request.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var slots []int
	for i, text := range texts {
		if cached, ok := e.cache.Get(text); ok {
			out[i] = cached
			continue
		}
		missing = append(missing, text)
		slots = append(slots, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embedding rate limiter: %w", err)
	}
	resp, err := e.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      missing,
		Model:      e.model,
		Dimensions: e.dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}
	if len(resp.Data) != len(missing) {
		return nil, fmt.Errorf("embedding response has %d vectors, expected %d", len(resp.Data), len(missing))
	}
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(missing) {
			return nil, fmt.Errorf("embedding response index %d out of range", d.Index)
		}
		if len(d.Embedding) != e.dimensions {
			return nil, fmt.Errorf("embedding has %d dimensions, expected %d", len(d.Embedding), e.dimensions)
		}
		vec := make([]float32, len(d.Embedding))
		copy(vec, d.Embedding)
		utils.NormalizeL2(vec)
		out[slots[d.Index]] = vec
		e.cache.Set(missing[d.Index], vec)
	}
	return out, nil
}

func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

func (e *OpenAIEmbedder) Close() error {
	return nil
}
