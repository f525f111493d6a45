// Package vector provides the k-NN index over chunk embeddings.
package vector

import "context"

// VectorIndex stores embeddings by ID and answers nearest-neighbor queries by inner product.
// Vectors are expected to be L2-normalized, so scores are cosine similarities.
type VectorIndex interface {
	// Add inserts vectors, replacing any existing vector with the same ID.
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	// SearchFiltered returns the top-k among vectors whose ID satisfies keep. A nil keep
	// admits every vector.
	SearchFiltered(ctx context.Context, query []float32, k int, keep func(id string) bool) ([]*VectorResult, error)
	Remove(ctx context.Context, ids []string) error
	Save(path string) error
	Load(path string) error
	Size() int
	Type() string
	Close() error
}

// VectorResult is a single vector search hit; ID is the chunk ID.
type VectorResult struct {
	ID    string
	Score float64
}
