// Package search runs class-dispatched queries against the store and stitches hits into passages.
package search

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/shiori/internal/embedding"
	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/internal/storage"
)

// Config holds search defaults. Per-request options override them.
type Config struct {
	K                 int
	ChunkThreshold    float64
	KeywordThreshold  float64
	FulltextThreshold float64
	TFThreshold       float64
	Candidates        int // k-NN pool hint for approximate vector backends
}

// DefaultConfig returns the stock defaults.
func DefaultConfig() Config {
	return Config{
		K:                 5,
		ChunkThreshold:    0.9,
		KeywordThreshold:  5,
		FulltextThreshold: 5,
		TFThreshold:       0.3,
		Candidates:        800,
	}
}

func (c Config) threshold(class models.QueryClass) float64 {
	switch class {
	case models.ClassKeywords:
		return c.KeywordThreshold
	case models.ClassFulltext:
		return c.FulltextThreshold
	default:
		return c.ChunkThreshold
	}
}

// Searcher runs CHUNK, KEYWORDS and FULLTEXT queries and similar-chunk lookups.
type Searcher struct {
	store    storage.Store
	embedder embedding.Embedder
	config   Config
	logger   *zap.Logger // optional
}

// SearcherOption configures a Searcher.
type SearcherOption func(*Searcher)

// WithLogger sets a logger for query debug output.
func WithLogger(l *zap.Logger) SearcherOption {
	return func(s *Searcher) { s.logger = l }
}

// NewSearcher creates a searcher. Zero-valued K and Candidates in cfg fall back to DefaultConfig.
func NewSearcher(store storage.Store, embedder embedding.Embedder, cfg Config, opts ...SearcherOption) *Searcher {
	def := DefaultConfig()
	if cfg.K <= 0 {
		cfg.K = def.K
	}
	if cfg.Candidates <= 0 {
		cfg.Candidates = def.Candidates
	}
	s := &Searcher{store: store, embedder: embedder, config: cfg}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the effective defaults.
func (s *Searcher) Config() Config {
	return s.config
}

// Search runs query for user with the class in opts and returns at most k hits whose score is
// strictly above the threshold, best first.
func (s *Searcher) Search(ctx context.Context, query, user string, opts models.SearchOptions) ([]*models.SearchHit, error) {
	r, err := processQuery(query, opts, s.config)
	if err != nil {
		return nil, err
	}

	var hits []*models.SearchHit
	switch r.class {
	case models.ClassChunk:
		vec, err := s.embedder.Embed(ctx, r.query)
		if err != nil {
			return nil, fmt.Errorf("failed to embed query: %w", err)
		}
		hits, err = s.store.NearestChunks(ctx, storage.VectorQuery{
			User:       user,
			Vector:     vec,
			Hash:       r.hash,
			Candidates: s.config.Candidates,
			Limit:      r.k,
		})
		if err != nil {
			return nil, fmt.Errorf("chunk search failed: %w", err)
		}
	case models.ClassKeywords:
		hits, err = s.store.MatchChunks(ctx, storage.MatchQuery{
			User:  user,
			Text:  r.query,
			Hash:  r.hash,
			MinTF: &r.tfThreshold,
			Limit: r.k,
		})
		if err != nil {
			return nil, fmt.Errorf("keyword search failed: %w", err)
		}
	case models.ClassFulltext:
		hits, err = s.store.MatchFulltext(ctx, storage.MatchQuery{
			User:  user,
			Text:  r.query,
			Hash:  r.hash,
			Limit: r.k,
		})
		if err != nil {
			return nil, fmt.Errorf("fulltext search failed: %w", err)
		}
	}

	out := aboveThreshold(hits, r.threshold, r.k)
	if s.logger != nil {
		s.logger.Debug("search",
			zap.String("user", user),
			zap.String("class", string(r.class)),
			zap.Int("candidates", len(hits)),
			zap.Int("hits", len(out)),
			zap.Float64("threshold", r.threshold))
	}
	return out, nil
}

// Similar returns chunks whose embeddings are nearest to that of chunk id, excluding the chunk
// itself. Only opts.Hash, opts.K and opts.Threshold apply.
func (s *Searcher) Similar(ctx context.Context, id, user string, opts models.SearchOptions) ([]*models.SearchHit, error) {
	if opts.K < 0 {
		return nil, models.NewDomainError(models.CodeInvalidInput, "k must not be negative")
	}
	chunk, err := s.store.GetChunk(ctx, user, id)
	if err != nil {
		return nil, err
	}
	if len(chunk.Embedding) == 0 {
		return []*models.SearchHit{}, nil
	}
	k := opts.K
	if k == 0 {
		k = s.config.K
	}
	threshold := s.config.ChunkThreshold
	if opts.Threshold != nil {
		threshold = *opts.Threshold
	}

	hits, err := s.store.NearestChunks(ctx, storage.VectorQuery{
		User:       user,
		Vector:     chunk.Embedding,
		Hash:       opts.Hash,
		Candidates: s.config.Candidates,
		Limit:      k + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("similar search failed: %w", err)
	}
	// the chunk is its own nearest neighbor, but ties may rank another chunk first
	rest := hits[:0]
	for _, h := range hits {
		if h.ID != id {
			rest = append(rest, h)
		}
	}
	return aboveThreshold(rest, threshold, k), nil
}

// aboveThreshold keeps hits with score strictly greater than threshold, up to k.
func aboveThreshold(hits []*models.SearchHit, threshold float64, k int) []*models.SearchHit {
	out := make([]*models.SearchHit, 0, len(hits))
	for _, h := range hits {
		if h.Score > threshold {
			out = append(out, h)
		}
		if len(out) == k {
			break
		}
	}
	return out
}
