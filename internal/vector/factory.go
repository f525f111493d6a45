package vector

import "fmt"

// IndexType names a vector index implementation.
type IndexType string

const (
	// IndexTypeMemory uses in-memory brute-force search, persisted to a single file.
	IndexTypeMemory IndexType = "memory"
)

// NewVectorIndex creates a vector index of the given type. An empty type selects memory.
// Large deployments use the postgres storage backend, which keeps vectors in pgvector instead.
func NewVectorIndex(indexType string, dimensions int) (VectorIndex, error) {
	switch IndexType(indexType) {
	case IndexTypeMemory, "":
		idx, err := NewMemoryIndex(dimensions)
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: memory)", indexType)
	}
}
