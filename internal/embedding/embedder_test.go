package embedding

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/shiori/internal/vector"
)

func TestMockEmbedder(t *testing.T) {
	e := NewMockEmbedder(16)
	ctx := context.Background()

	a1, err := e.Embed(ctx, "kingfisher")
	require.NoError(t, err)
	a2, _ := e.Embed(ctx, "kingfisher")
	b, _ := e.Embed(ctx, "heron")

	assert.Len(t, a1, 16)
	assert.Equal(t, a1, a2)
	assert.InDelta(t, 1.0, vector.L2Norm(a1), 1e-5)
	assert.InDelta(t, 1.0, vector.InnerProduct(a1, a2), 1e-5)
	assert.Less(t, vector.InnerProduct(a1, b), 0.9)

	batch, err := e.EmbedBatch(ctx, []string{"kingfisher", "heron"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{a1, b}, batch)
	assert.Equal(t, 384, NewMockEmbedder(0).Dimensions())
}

func TestNew(t *testing.T) {
	e, err := New(Options{Dimensions: 8})
	require.NoError(t, err)
	assert.Equal(t, 8, e.Dimensions())

	_, err = New(Options{Provider: ProviderOpenAI})
	assert.ErrorIs(t, err, ErrNoAPIKey)

	_, err = New(Options{Provider: "word2vec"})
	assert.Error(t, err)
}

type fakeEmbeddingAPI struct {
	calls  int
	inputs [][]string
	dims   int
	err    error
}

func (f *fakeEmbeddingAPI) CreateEmbeddings(_ context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error) {
	f.calls++
	if f.err != nil {
		return openai.EmbeddingResponse{}, f.err
	}
	req := conv.Convert()
	input := req.Input.([]string)
	f.inputs = append(f.inputs, input)
	resp := openai.EmbeddingResponse{}
	// Return in reverse order to exercise index mapping.
	for i := len(input) - 1; i >= 0; i-- {
		vec := make([]float32, f.dims)
		vec[len(input[i])%f.dims] = 2
		resp.Data = append(resp.Data, openai.Embedding{Index: i, Embedding: vec})
	}
	return resp, nil
}

func TestOpenAIEmbedder_BatchAndCache(t *testing.T) {
	api := &fakeEmbeddingAPI{dims: 4}
	e := NewOpenAIEmbedderWithAPI(api, Options{Dimensions: 4, CacheSize: 10})
	ctx := context.Background()

	out, err := e.EmbedBatch(ctx, []string{"a", "bb"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, []float32{0, 1, 0, 0}, out[0])
	assert.Equal(t, []float32{0, 0, 1, 0}, out[1])

	out, err = e.EmbedBatch(ctx, []string{"bb", "ccc"})
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 1, 0}, out[0])
	assert.Equal(t, []float32{0, 0, 0, 1}, out[1])
	assert.Equal(t, 2, api.calls)
	assert.Equal(t, []string{"ccc"}, api.inputs[1], "cached text must not be re-sent")

	_, err = e.Embed(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, api.calls)
}

func TestOpenAIEmbedder_Errors(t *testing.T) {
	ctx := context.Background()
	failing := NewOpenAIEmbedderWithAPI(&fakeEmbeddingAPI{dims: 4, err: errors.New("boom")}, Options{Dimensions: 4})
	_, err := failing.Embed(ctx, "x")
	assert.Error(t, err)

	wrongDims := NewOpenAIEmbedderWithAPI(&fakeEmbeddingAPI{dims: 3}, Options{Dimensions: 4})
	_, err = wrongDims.Embed(ctx, "x")
	assert.Error(t, err)

	limited := NewOpenAIEmbedderWithAPI(&fakeEmbeddingAPI{dims: 4}, Options{Dimensions: 4, RequestsPerSecond: 0.001, Burst: 1})
	_, err = limited.Embed(ctx, "first")
	require.NoError(t, err)
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = limited.Embed(cancelled, "second")
	assert.Error(t, err)
}

func BenchmarkMockEmbedder_Embed(b *testing.B) {
	e := NewMockEmbedder(384)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = e.Embed(ctx, "benchmark query text for embedding")
	}
}
