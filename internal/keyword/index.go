// Package keyword provides the lexical index used for KEYWORDS and FULLTEXT queries.
package keyword

import "context"

// Entry kinds stored in the lexical index.
const (
	KindChunk    = "chunk"
	KindFulltext = "fulltext"
)

// Entry is the indexed view of a chunk or fulltext record.
type Entry struct {
	Kind  string
	User  string
	Hash  string
	Title string
	Text  string
	TF    float64
}

// Query is a match query over entry text, filtered by kind and user, and optionally by document
// hash and a minimum tf. Filters do not contribute to the score.
type Query struct {
	Text  string
	Kind  string
	User  string
	Hash  string
	MinTF *float64
	Limit int
}

// KeywordIndex is a lexical index with batched, explicitly flushed writes.
type KeywordIndex interface {
	// Index queues an entry; it becomes searchable after Flush.
	Index(ctx context.Context, id string, e *Entry) error
	// Delete queues removal of id.
	Delete(ctx context.Context, id string) error
	Flush(ctx context.Context) error
	Search(ctx context.Context, q Query) ([]*KeywordResult, error)
	DocCount() (uint64, error)
	Close() error
}

// KeywordResult is a single keyword search hit.
type KeywordResult struct {
	ID    string
	Score float64
}
