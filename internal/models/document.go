// Package models defines core data structures for documents, chunks, queries, and search results.
package models

// Document is a chunked text whose identity is the hash of its normalized main text.
// Build one with indexer.NewDocument so Hash always matches MainText.
type Document struct {
	MainText string   `json:"main_text"`
	Chunks   []string `json:"chunks"`
	Hash     string   `json:"hash"`
	Title    string   `json:"title"`
	Source   string   `json:"source,omitempty"`
}

// ChunkRecord is one persisted passage of a document.
// For a given (User, Hash), Seq values are unique and contiguous 0..Total-1.
type ChunkRecord struct {
	ID        string    `json:"id" db:"id"`
	User      string    `json:"user" db:"user_id"`
	Hash      string    `json:"hash" db:"hash"`
	Text      string    `json:"text" db:"text"`
	Seq       int       `json:"seq" db:"seq"`
	Total     int       `json:"total" db:"total"`
	TF        float64   `json:"tf" db:"tf"`
	Embedding []float32 `json:"-" db:"embedding"`
	Title     string    `json:"title" db:"title"`
	Source    string    `json:"source,omitempty" db:"source"`
}

// ChunkLink is the set of fields rewritten when an existing chunk is re-linked to a new document version.
type ChunkLink struct {
	Hash   string
	TF     float64
	Seq    int
	Total  int
	Title  string
	Source string
}

// FulltextRecord is the whole text of one document, keyed by (User, Hash).
type FulltextRecord struct {
	User   string `json:"user" db:"user_id"`
	Hash   string `json:"hash" db:"hash"`
	Title  string `json:"title" db:"title"`
	Source string `json:"source,omitempty" db:"source"`
	Text   string `json:"text" db:"text"`
}

// CacheRecord maps an external origin (path, URL, object key) to the hash it last resolved to.
type CacheRecord struct {
	User string `json:"user" db:"user_id"`
	URI  string `json:"uri" db:"uri"`
	Hash string `json:"hash" db:"hash"`
}

// IndexStatus describes the outcome of an upsert.
type IndexStatus string

const (
	StatusIndexed   IndexStatus = "indexed"
	StatusUnchanged IndexStatus = "unchanged"
	StatusSkipped   IndexStatus = "skipped"
)

// IndexResult is returned by the index manager for each upserted document.
type IndexResult struct {
	Hash     string      `json:"hash"`
	Status   IndexStatus `json:"status"`
	Chunks   int         `json:"chunks"`
	Replaced string      `json:"replaced,omitempty"` // hash of the version displaced by title
	Reason   string      `json:"reason,omitempty"`
}
