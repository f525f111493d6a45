package relevance

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/shiori/internal/models"
)

func TestTokenize_lowercasesAndDropsStopwords(t *testing.T) {
	terms, err := Tokenize("The Quick brown fox and the lazy DOG")
	require.NoError(t, err)
	assert.Equal(t, []string{"quick", "brown", "fox", "lazy", "dog"}, terms)
}

func TestScore_boilerplateWeighsLess(t *testing.T) {
	chunks := []string{
		"Copyright Example Corp. All rights reserved.",
		"Kubernetes schedules pods onto nodes using resource requests.",
		"Copyright Example Corp. All rights reserved.",
		"Etcd stores cluster state with raft consensus.",
	}
	w, err := Score(chunks)
	require.NoError(t, err)
	require.Len(t, w, 4)
	assert.Greater(t, w[1], w[0])
	assert.Greater(t, w[3], w[2])
	assert.InDelta(t, w[0], w[2], 1e-12)
}

func TestScore_termInEveryChunkIsBaseline(t *testing.T) {
	w, err := Score([]string{"banana", "banana", "banana"})
	require.NoError(t, err)
	for i, v := range w {
		assert.InDelta(t, 1.0, v, 1e-12, "chunk %d", i)
	}
}

func TestScore_sharedTermsStillCount(t *testing.T) {
	w, err := Score([]string{"Cats purr.", "Cats purr loudly."})
	require.NoError(t, err)
	require.Len(t, w, 2)
	assert.InDelta(t, 1.0, w[0], 1e-12)
	assert.InDelta(t, (2+math.Log(1.5)+1)/3, w[1], 1e-12)
	assert.Greater(t, w[1], w[0])
}

func TestScore_singleChunk(t *testing.T) {
	w, err := Score([]string{"solitary paragraph about gardening"})
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, w)
}

func TestScore_chunkWithoutVocabularyWeighsZero(t *testing.T) {
	w, err := Score([]string{"the and of", "tidal pools"})
	require.NoError(t, err)
	assert.Zero(t, w[0])
	assert.Greater(t, w[1], 0.3)
}

func TestScore_emptyVocabulary(t *testing.T) {
	_, err := Score([]string{"the and of", "a an the", "..."})
	assert.True(t, errors.Is(err, models.ErrEmptyContent))

	_, err = Score(nil)
	assert.True(t, errors.Is(err, models.ErrEmptyContent))
}
