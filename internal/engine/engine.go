// Package engine is the single entry point to indexing, search and passage retrieval.
package engine

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/hyperjump/shiori/internal/embedding"
	"github.com/hyperjump/shiori/internal/indexer"
	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/internal/search"
	"github.com/hyperjump/shiori/internal/storage"
)

// Engine exposes every public operation over one store and embedder. It keeps no state of its
// own and is safe for concurrent use.
type Engine struct {
	store    storage.Store
	embedder embedding.Embedder
	indexer  *indexer.Indexer
	searcher *search.Searcher
	config   search.Config
	padding  int
	logger   *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger passes logger to the engine and its components.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithSearchConfig overrides the search defaults.
func WithSearchConfig(cfg search.Config) Option {
	return func(e *Engine) { e.config = cfg }
}

// WithPadding sets the default consolidation padding.
func WithPadding(p int) Option {
	return func(e *Engine) {
		if p >= 0 {
			e.padding = p
		}
	}
}

// New wires an engine over store and embedder.
func New(store storage.Store, embedder embedding.Embedder, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		embedder: embedder,
		config:   search.DefaultConfig(),
		padding:  search.DefaultPadding,
	}
	for _, opt := range opts {
		opt(e)
	}
	var idxOpts []indexer.IndexerOption
	var searchOpts []search.SearcherOption
	if e.logger != nil {
		idxOpts = append(idxOpts, indexer.WithLogger(e.logger))
		searchOpts = append(searchOpts, search.WithLogger(e.logger))
	}
	e.indexer = indexer.NewIndexer(store, embedder, idxOpts...)
	e.searcher = search.NewSearcher(store, embedder, e.config, searchOpts...)
	return e
}

// Store returns the underlying store.
func (e *Engine) Store() storage.Store {
	return e.store
}

// IndexDocument upserts doc for user.
func (e *Engine) IndexDocument(ctx context.Context, doc *models.Document, user string) (*models.IndexResult, error) {
	return e.indexer.Upsert(ctx, doc, user)
}

// DeleteDocument removes every record of (user, hash). Unknown hashes are a no-op.
func (e *Engine) DeleteDocument(ctx context.Context, hash, user string) error {
	return e.indexer.Delete(ctx, hash, user)
}

// Search runs a CHUNK, KEYWORDS or FULLTEXT query.
func (e *Engine) Search(ctx context.Context, query, user string, opts models.SearchOptions) ([]*models.SearchHit, error) {
	return e.searcher.Search(ctx, query, user, opts)
}

// Similar returns chunks nearest to chunk id, never including id itself.
func (e *Engine) Similar(ctx context.Context, id, user string, opts models.SearchOptions) ([]*models.SearchHit, error) {
	return e.searcher.Similar(ctx, id, user, opts)
}

// Consolidate stitches hits into per-document passages. A nil padding uses the default.
func (e *Engine) Consolidate(ctx context.Context, hits []*models.SearchHit, user string, padding *int) ([]*models.Passage, error) {
	p := e.padding
	if padding != nil {
		p = *padding
	}
	return search.Consolidate(ctx, e.store, user, hits, p)
}

// Retrieve searches and consolidates the hits in one call.
func (e *Engine) Retrieve(ctx context.Context, query, user string, opts models.SearchOptions, padding *int) ([]*models.Passage, error) {
	hits, err := e.Search(ctx, query, user, opts)
	if err != nil {
		return nil, err
	}
	return e.Consolidate(ctx, hits, user, padding)
}

// GetFullText returns the stored text of (user, hash). A missing document is reported by
// found=false rather than an error.
func (e *Engine) GetFullText(ctx context.Context, hash, user string) (text string, found bool, err error) {
	rec, err := e.store.GetFulltext(ctx, user, hash)
	if errors.Is(err, models.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return rec.Text, true, nil
}

// GetDocument returns the fulltext record of (user, hash).
func (e *Engine) GetDocument(ctx context.Context, hash, user string) (*models.FulltextRecord, error) {
	return e.store.GetFulltext(ctx, user, hash)
}

// GetChunkRange returns the texts of chunks start..end (inclusive) of (user, hash), in order.
func (e *Engine) GetChunkRange(ctx context.Context, hash string, start, end int, user string) ([]string, error) {
	if start < 0 || end < start {
		return nil, models.NewDomainError(models.CodeInvalidInput, "invalid chunk range")
	}
	chunks, err := e.store.ChunkRange(ctx, user, hash, start, end)
	if err != nil {
		return nil, err
	}
	return texts(chunks), nil
}

// TopWeighted returns the texts of the k chunks of (user, hash) with the highest tf weight.
func (e *Engine) TopWeighted(ctx context.Context, hash, user string, k int) ([]string, error) {
	if k <= 0 {
		k = e.searcher.Config().K
	}
	chunks, err := e.store.TopWeighted(ctx, user, hash, k)
	if err != nil {
		return nil, err
	}
	return texts(chunks), nil
}

// Stats reports store statistics.
func (e *Engine) Stats(ctx context.Context) (*storage.Stats, error) {
	return e.store.Stats(ctx)
}

func texts(chunks []*models.ChunkRecord) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}
