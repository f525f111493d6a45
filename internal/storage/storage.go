// Package storage defines the persistence capability used by the engine and its implementations.
package storage

import (
	"context"

	"github.com/hyperjump/shiori/internal/models"
)

// RecordStore persists the fulltext, chunk, and cache collections. Every call is scoped by user.
// Lookups that find nothing return an error matching models.ErrNotFound.
type RecordStore interface {
	// Fulltext records
	PutFulltext(ctx context.Context, rec *models.FulltextRecord) error
	GetFulltext(ctx context.Context, user, hash string) (*models.FulltextRecord, error)
	FindFulltextByTitle(ctx context.Context, user, title string) (*models.FulltextRecord, error)
	DeleteFulltext(ctx context.Context, user, hash string) error

	// Chunk records
	PutChunk(ctx context.Context, rec *models.ChunkRecord) error
	FindChunkByText(ctx context.Context, user, text, excludeHash string) (*models.ChunkRecord, error)
	RelinkChunk(ctx context.Context, user, id string, link models.ChunkLink) error
	GetChunk(ctx context.Context, user, id string) (*models.ChunkRecord, error)
	ChunkRange(ctx context.Context, user, hash string, start, end int) ([]*models.ChunkRecord, error)
	TopWeighted(ctx context.Context, user, hash string, k int) ([]*models.ChunkRecord, error)
	DeleteChunks(ctx context.Context, user, hash string) error

	// Cache records
	PutCache(ctx context.Context, rec *models.CacheRecord) error
	GetCache(ctx context.Context, user, uri string) (*models.CacheRecord, error)
	DeleteCache(ctx context.Context, user, hash string) error
}

// MatchQuery is a lexical query against chunk or fulltext text.
type MatchQuery struct {
	User  string
	Text  string
	Hash  string // optional document scope
	MinTF *float64
	Limit int
}

// VectorQuery is a k-NN query over chunk embeddings.
type VectorQuery struct {
	User       string
	Vector     []float32
	Hash       string
	Candidates int // pool hint for approximate backends; scoping always applies before top-k
	Limit      int
}

// QueryStore runs the three query shapes the searcher dispatches to. Results are ordered by
// descending score and carry denormalized chunk metadata.
type QueryStore interface {
	MatchChunks(ctx context.Context, q MatchQuery) ([]*models.SearchHit, error)
	MatchFulltext(ctx context.Context, q MatchQuery) ([]*models.SearchHit, error)
	NearestChunks(ctx context.Context, q VectorQuery) ([]*models.SearchHit, error)
}

// Stats summarizes store contents.
type Stats struct {
	Documents int64  `json:"documents"`
	Chunks    int64  `json:"chunks"`
	Vectors   int    `json:"vectors"`
	DiskBytes int64  `json:"disk_bytes"`
	Backend   string `json:"backend"`
}

// Store is the full capability interface the engine depends on.
type Store interface {
	RecordStore
	QueryStore
	// Refresh makes writes since the previous refresh visible to queries.
	Refresh(ctx context.Context) error
	Stats(ctx context.Context) (*Stats, error)
	Close() error
}
