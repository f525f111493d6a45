package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hyperjump/shiori/internal/keyword"
	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/internal/vector"
	"go.uber.org/zap"
)

// BackendLocal names the embedded SQLite + Bleve + vector index store.
const BackendLocal = "local"

const fulltextIDPrefix = "ft:"

// LocalConfig locates the three parts of a LocalStore. Empty index paths keep that part in memory.
type LocalConfig struct {
	DatabasePath    string
	BleveIndexPath  string
	VectorIndexPath string
	VectorIndexType string
	Dimensions      int
}

// LocalStore combines SQLite records with a Bleve lexical index and a vector index.
// Record writes are visible immediately; index writes are queued and applied on Refresh.
type LocalStore struct {
	db       *SQLiteStorage
	keywords keyword.KeywordIndex
	vectors  vector.VectorIndex
	cfg      LocalConfig
	logger   *zap.Logger

	mu         sync.Mutex
	vecAdds    map[string][]float32
	vecRemoves map[string]struct{}
}

// LocalOption configures a LocalStore.
type LocalOption func(*LocalStore)

// WithLogger sets a logger for index rebuild and persistence events.
func WithLogger(l *zap.Logger) LocalOption {
	return func(s *LocalStore) { s.logger = l }
}

// NewLocalStore opens (or creates) every part of the store. When the lexical or vector index is
// empty but records exist, it is rebuilt from SQLite.
func NewLocalStore(ctx context.Context, cfg LocalConfig, opts ...LocalOption) (*LocalStore, error) {
	db, err := NewSQLiteStorage(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	kw, err := keyword.NewBleveIndex(cfg.BleveIndexPath)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	vec, err := vector.NewVectorIndex(cfg.VectorIndexType, cfg.Dimensions)
	if err != nil {
		_ = kw.Close()
		_ = db.Close()
		return nil, fmt.Errorf("failed to create vector index: %w", err)
	}
	s := &LocalStore{
		db:         db,
		keywords:   kw,
		vectors:    vec,
		cfg:        cfg,
		vecAdds:    make(map[string][]float32),
		vecRemoves: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.open(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// NewMemoryStore returns a LocalStore that keeps everything in memory.
func NewMemoryStore(dimensions int, opts ...LocalOption) (*LocalStore, error) {
	return NewLocalStore(context.Background(), LocalConfig{
		DatabasePath: ":memory:",
		Dimensions:   dimensions,
	}, opts...)
}

func (s *LocalStore) open(ctx context.Context) error {
	if err := s.vectors.Load(s.cfg.VectorIndexPath); err != nil {
		return fmt.Errorf("failed to load vector index: %w", err)
	}
	chunks, err := s.db.CountChunks(ctx)
	if err != nil {
		return err
	}
	if chunks == 0 {
		return nil
	}
	rebuildVectors := int64(s.vectors.Size()) != chunks
	count, err := s.keywords.DocCount()
	if err != nil {
		return fmt.Errorf("failed to count keyword entries: %w", err)
	}
	rebuildKeywords := count == 0
	if !rebuildVectors && !rebuildKeywords {
		return nil
	}
	s.logf("rebuilding local indices", zap.Bool("vectors", rebuildVectors), zap.Bool("keywords", rebuildKeywords))
	if rebuildVectors {
		fresh, err := vector.NewVectorIndex(s.cfg.VectorIndexType, s.cfg.Dimensions)
		if err != nil {
			return fmt.Errorf("failed to create vector index: %w", err)
		}
		_ = s.vectors.Close()
		s.vectors = fresh
	}
	err = s.db.ForEachChunk(ctx, func(c *models.ChunkRecord) error {
		if rebuildKeywords {
			if err := s.keywords.Index(ctx, c.ID, chunkEntry(c)); err != nil {
				return err
			}
		}
		if rebuildVectors && len(c.Embedding) > 0 {
			return s.vectors.Add(ctx, []string{c.ID}, [][]float32{c.Embedding})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to rebuild chunk indices: %w", err)
	}
	if rebuildKeywords {
		err = s.db.ForEachFulltext(ctx, func(rec *models.FulltextRecord) error {
			return s.keywords.Index(ctx, fulltextID(rec.User, rec.Hash), fulltextEntry(rec))
		})
		if err != nil {
			return fmt.Errorf("failed to rebuild fulltext index: %w", err)
		}
	}
	return s.keywords.Flush(ctx)
}

func (s *LocalStore) logf(msg string, fields ...zap.Field) {
	if s.logger != nil {
		s.logger.Info(msg, fields...)
	}
}

func fulltextID(user, hash string) string {
	return fulltextIDPrefix + user + ":" + hash
}

func chunkEntry(c *models.ChunkRecord) *keyword.Entry {
	return &keyword.Entry{
		Kind:  keyword.KindChunk,
		User:  c.User,
		Hash:  c.Hash,
		Title: c.Title,
		Text:  c.Text,
		TF:    c.TF,
	}
}

func fulltextEntry(rec *models.FulltextRecord) *keyword.Entry {
	return &keyword.Entry{
		Kind:  keyword.KindFulltext,
		User:  rec.User,
		Hash:  rec.Hash,
		Title: rec.Title,
		Text:  rec.Text,
	}
}

// PutFulltext writes the record and queues it for lexical indexing.
func (s *LocalStore) PutFulltext(ctx context.Context, rec *models.FulltextRecord) error {
	if err := s.db.PutFulltext(ctx, rec); err != nil {
		return err
	}
	return models.StoreError("index fulltext", s.keywords.Index(ctx, fulltextID(rec.User, rec.Hash), fulltextEntry(rec)))
}

func (s *LocalStore) GetFulltext(ctx context.Context, user, hash string) (*models.FulltextRecord, error) {
	return s.db.GetFulltext(ctx, user, hash)
}

func (s *LocalStore) FindFulltextByTitle(ctx context.Context, user, title string) (*models.FulltextRecord, error) {
	return s.db.FindFulltextByTitle(ctx, user, title)
}

func (s *LocalStore) DeleteFulltext(ctx context.Context, user, hash string) error {
	if err := s.db.DeleteFulltext(ctx, user, hash); err != nil {
		return err
	}
	return models.StoreError("unindex fulltext", s.keywords.Delete(ctx, fulltextID(user, hash)))
}

// PutChunk writes the chunk and queues its lexical entry and embedding.
func (s *LocalStore) PutChunk(ctx context.Context, rec *models.ChunkRecord) error {
	if err := s.db.PutChunk(ctx, rec); err != nil {
		return err
	}
	if err := s.keywords.Index(ctx, rec.ID, chunkEntry(rec)); err != nil {
		return models.StoreError("index chunk", err)
	}
	if len(rec.Embedding) > 0 {
		s.mu.Lock()
		s.vecAdds[rec.ID] = rec.Embedding
		delete(s.vecRemoves, rec.ID)
		s.mu.Unlock()
	}
	return nil
}

func (s *LocalStore) FindChunkByText(ctx context.Context, user, text, excludeHash string) (*models.ChunkRecord, error) {
	return s.db.FindChunkByText(ctx, user, text, excludeHash)
}

// RelinkChunk updates the chunk record and re-queues its lexical entry. The embedding is unchanged.
func (s *LocalStore) RelinkChunk(ctx context.Context, user, id string, link models.ChunkLink) error {
	if err := s.db.RelinkChunk(ctx, user, id, link); err != nil {
		return err
	}
	c, err := s.db.GetChunk(ctx, user, id)
	if err != nil {
		return err
	}
	return models.StoreError("index chunk", s.keywords.Index(ctx, c.ID, chunkEntry(c)))
}

func (s *LocalStore) GetChunk(ctx context.Context, user, id string) (*models.ChunkRecord, error) {
	return s.db.GetChunk(ctx, user, id)
}

func (s *LocalStore) ChunkRange(ctx context.Context, user, hash string, start, end int) ([]*models.ChunkRecord, error) {
	return s.db.ChunkRange(ctx, user, hash, start, end)
}

func (s *LocalStore) TopWeighted(ctx context.Context, user, hash string, k int) ([]*models.ChunkRecord, error) {
	return s.db.TopWeighted(ctx, user, hash, k)
}

// DeleteChunks removes the chunk records of (user, hash) and queues removal from both indices.
func (s *LocalStore) DeleteChunks(ctx context.Context, user, hash string) error {
	chunks, err := s.db.ChunksByHash(ctx, user, hash)
	if err != nil {
		return err
	}
	if err := s.db.DeleteChunks(ctx, user, hash); err != nil {
		return err
	}
	s.mu.Lock()
	for _, c := range chunks {
		delete(s.vecAdds, c.ID)
		s.vecRemoves[c.ID] = struct{}{}
	}
	s.mu.Unlock()
	for _, c := range chunks {
		if err := s.keywords.Delete(ctx, c.ID); err != nil {
			return models.StoreError("unindex chunk", err)
		}
	}
	return nil
}

func (s *LocalStore) PutCache(ctx context.Context, rec *models.CacheRecord) error {
	return s.db.PutCache(ctx, rec)
}

func (s *LocalStore) GetCache(ctx context.Context, user, uri string) (*models.CacheRecord, error) {
	return s.db.GetCache(ctx, user, uri)
}

func (s *LocalStore) DeleteCache(ctx context.Context, user, hash string) error {
	return s.db.DeleteCache(ctx, user, hash)
}

// Refresh applies queued lexical and vector writes.
func (s *LocalStore) Refresh(ctx context.Context) error {
	if err := s.keywords.Flush(ctx); err != nil {
		return models.StoreError("refresh keyword index", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.vecRemoves) > 0 {
		ids := make([]string, 0, len(s.vecRemoves))
		for id := range s.vecRemoves {
			ids = append(ids, id)
		}
		if err := s.vectors.Remove(ctx, ids); err != nil {
			return models.StoreError("refresh vector index", err)
		}
		s.vecRemoves = make(map[string]struct{})
	}
	if len(s.vecAdds) > 0 {
		ids := make([]string, 0, len(s.vecAdds))
		vecs := make([][]float32, 0, len(s.vecAdds))
		for id, v := range s.vecAdds {
			ids = append(ids, id)
			vecs = append(vecs, v)
		}
		if err := s.vectors.Add(ctx, ids, vecs); err != nil {
			return models.StoreError("refresh vector index", err)
		}
		s.vecAdds = make(map[string][]float32)
	}
	return nil
}

// MatchChunks runs a lexical query over chunk text and resolves hits against current records.
func (s *LocalStore) MatchChunks(ctx context.Context, q MatchQuery) ([]*models.SearchHit, error) {
	results, err := s.keywords.Search(ctx, keyword.Query{
		Text:  q.Text,
		Kind:  keyword.KindChunk,
		User:  q.User,
		Hash:  q.Hash,
		MinTF: q.MinTF,
		Limit: q.Limit,
	})
	if err != nil {
		return nil, models.StoreError("match chunks", err)
	}
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	records, err := s.db.GetChunks(ctx, q.User, ids)
	if err != nil {
		return nil, err
	}
	hits := make([]*models.SearchHit, 0, len(results))
	for _, r := range results {
		if c, ok := records[r.ID]; ok {
			hits = append(hits, chunkHit(c, r.Score))
		}
	}
	return hits, nil
}

// MatchFulltext runs a lexical query over whole-document text. Hit IDs are document hashes.
func (s *LocalStore) MatchFulltext(ctx context.Context, q MatchQuery) ([]*models.SearchHit, error) {
	results, err := s.keywords.Search(ctx, keyword.Query{
		Text:  q.Text,
		Kind:  keyword.KindFulltext,
		User:  q.User,
		Hash:  q.Hash,
		Limit: q.Limit,
	})
	if err != nil {
		return nil, models.StoreError("match fulltext", err)
	}
	prefix := fulltextID(q.User, "")
	hits := make([]*models.SearchHit, 0, len(results))
	for _, r := range results {
		hash := strings.TrimPrefix(r.ID, prefix)
		rec, err := s.db.GetFulltext(ctx, q.User, hash)
		if errors.Is(err, models.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		hits = append(hits, fulltextHit(rec, r.Score))
	}
	return hits, nil
}

// NearestChunks returns the q.Limit nearest vectors among the chunks owned by q.User (and in
// q.Hash when set). The scope is applied before ranking, so other users' vectors never crowd
// out the caller's. q.Candidates is not needed by the exact scan.
func (s *LocalStore) NearestChunks(ctx context.Context, q VectorQuery) ([]*models.SearchHit, error) {
	if q.Limit <= 0 {
		return nil, nil
	}
	scope, err := s.db.ChunkIDs(ctx, q.User, q.Hash)
	if err != nil {
		return nil, err
	}
	if len(scope) == 0 {
		return []*models.SearchHit{}, nil
	}
	results, err := s.vectors.SearchFiltered(ctx, q.Vector, q.Limit, func(id string) bool {
		_, ok := scope[id]
		return ok
	})
	if err != nil {
		return nil, models.StoreError("nearest chunks", err)
	}
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	records, err := s.db.GetChunks(ctx, q.User, ids)
	if err != nil {
		return nil, err
	}
	hits := make([]*models.SearchHit, 0, len(results))
	for _, r := range results {
		if c, ok := records[r.ID]; ok {
			hits = append(hits, chunkHit(c, r.Score))
		}
	}
	return hits, nil
}

func chunkHit(c *models.ChunkRecord, score float64) *models.SearchHit {
	return &models.SearchHit{
		ID:     c.ID,
		Text:   c.Text,
		Hash:   c.Hash,
		Seq:    c.Seq,
		Total:  c.Total,
		Title:  c.Title,
		Source: c.Source,
		Score:  score,
	}
}

func fulltextHit(rec *models.FulltextRecord, score float64) *models.SearchHit {
	return &models.SearchHit{
		ID:     rec.Hash,
		Text:   rec.Text,
		Hash:   rec.Hash,
		Title:  rec.Title,
		Source: rec.Source,
		Score:  score,
	}
}

// Stats reports record counts, vector count and the on-disk footprint of the store paths.
func (s *LocalStore) Stats(ctx context.Context) (*Stats, error) {
	docs, err := s.db.CountDocuments(ctx)
	if err != nil {
		return nil, err
	}
	chunks, err := s.db.CountChunks(ctx)
	if err != nil {
		return nil, err
	}
	var paths []string
	if s.cfg.DatabasePath != ":memory:" {
		paths = append(paths, s.cfg.DatabasePath)
	}
	paths = append(paths, s.cfg.BleveIndexPath, s.cfg.VectorIndexPath)
	disk, err := DiskUsageBytes(paths...)
	if err != nil {
		return nil, fmt.Errorf("failed to compute disk usage: %w", err)
	}
	return &Stats{
		Documents: docs,
		Chunks:    chunks,
		Vectors:   s.vectors.Size(),
		DiskBytes: disk,
		Backend:   BackendLocal,
	}, nil
}

// Close applies pending writes, saves the vector index and closes every part.
func (s *LocalStore) Close() error {
	var errs []string
	if err := s.Refresh(context.Background()); err != nil {
		errs = append(errs, err.Error())
	}
	if err := s.vectors.Save(s.cfg.VectorIndexPath); err != nil {
		errs = append(errs, fmt.Sprintf("save vector index: %v", err))
	}
	if err := s.vectors.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := s.keywords.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to close local store: %s", strings.Join(errs, "; "))
	}
	return nil
}
