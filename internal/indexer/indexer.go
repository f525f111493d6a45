// Package indexer chunks documents and maintains their content-addressed records in the store.
package indexer

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/shiori/internal/embedding"
	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/internal/relevance"
	"github.com/hyperjump/shiori/internal/storage"
)

// EmbeddingText is the text embedded for a chunk: its document title, a colon, then the chunk.
func EmbeddingText(title, text string) string {
	return title + ": " + text
}

// Indexer performs idempotent upserts and deletes of documents for a user.
type Indexer struct {
	store    storage.Store
	embedder embedding.Embedder
	logger   *zap.Logger // optional
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for upsert, replacement and skip events.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// NewIndexer creates an indexer writing to store and embedding new chunks with embedder.
func NewIndexer(store storage.Store, embedder embedding.Embedder, opts ...IndexerOption) *Indexer {
	idx := &Indexer{store: store, embedder: embedder}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

func (idx *Indexer) debug(msg string, fields ...zap.Field) {
	if idx.logger != nil {
		idx.logger.Debug(msg, fields...)
	}
}

func (idx *Indexer) warn(msg string, fields ...zap.Field) {
	if idx.logger != nil {
		idx.logger.Warn(msg, fields...)
	}
}

// Upsert indexes doc for user. A document whose hash is already indexed is left untouched.
// A live document with the same title and a different hash is replaced: the new version is made
// searchable first and the old one is deleted afterwards. A document whose chunks have no
// analyzable vocabulary keeps its fulltext record but gets no chunks.
func (idx *Indexer) Upsert(ctx context.Context, doc *models.Document, user string) (*models.IndexResult, error) {
	if err := validateDocument(doc); err != nil {
		return nil, err
	}
	result := &models.IndexResult{Hash: doc.Hash, Chunks: len(doc.Chunks)}

	exists, err := idx.exists(ctx, user, doc.Hash)
	if err != nil {
		return nil, err
	}
	if exists {
		result.Status = models.StatusUnchanged
		result.Chunks = 0
		idx.debug("document unchanged", zap.String("user", user), zap.String("hash", doc.Hash))
		return result, nil
	}

	displaced, err := idx.displace(ctx, user, doc)
	if err != nil {
		return nil, err
	}
	result.Replaced = displaced

	// A concurrent upsert of the same content may have landed meanwhile; the later write wins.
	if exists, err = idx.exists(ctx, user, doc.Hash); err != nil {
		return nil, err
	} else if exists {
		idx.debug("document indexed concurrently, rewriting", zap.String("hash", doc.Hash))
	}
	err = idx.store.PutFulltext(ctx, &models.FulltextRecord{
		User:   user,
		Hash:   doc.Hash,
		Title:  doc.Title,
		Source: doc.Source,
		Text:   doc.MainText,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store fulltext: %w", err)
	}

	weights, err := relevance.Score(doc.Chunks)
	if errors.Is(err, models.ErrEmptyContent) {
		idx.warn("document has no analyzable vocabulary, chunks skipped",
			zap.String("user", user), zap.String("hash", doc.Hash), zap.String("title", doc.Title))
		result.Status = models.StatusSkipped
		result.Chunks = 0
		result.Reason = err.Error()
		if err := idx.finish(ctx, user, displaced); err != nil {
			return nil, err
		}
		return result, nil
	}
	if err != nil {
		idx.rollback(ctx, user, doc.Hash, displaced)
		return nil, err
	}

	if err := idx.writeChunks(ctx, user, doc, weights, displaced); err != nil {
		idx.rollback(ctx, user, doc.Hash, displaced)
		return nil, err
	}
	if err := idx.finish(ctx, user, displaced); err != nil {
		return nil, err
	}
	result.Status = models.StatusIndexed
	if idx.logger != nil {
		idx.logger.Info("document indexed",
			zap.String("user", user),
			zap.String("hash", doc.Hash),
			zap.String("title", doc.Title),
			zap.Int("chunks", len(doc.Chunks)),
			zap.String("replaced", displaced))
	}
	return result, nil
}

func validateDocument(doc *models.Document) error {
	if doc == nil {
		return models.NewDomainError(models.CodeInvalidInput, "document is required")
	}
	if doc.Title == "" {
		return models.NewDomainError(models.CodeInvalidInput, "document title is required")
	}
	if len(doc.Chunks) == 0 {
		return models.NewDomainError(models.CodeEmptyContent, "document has no chunks")
	}
	if doc.Hash != HashText(doc.MainText) {
		return models.NewDomainError(models.CodeInvalidInput, "document hash does not match its main text")
	}
	return nil
}

func (idx *Indexer) exists(ctx context.Context, user, hash string) (bool, error) {
	_, err := idx.store.GetFulltext(ctx, user, hash)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up document: %w", err)
	}
	return true, nil
}

// displace removes the fulltext record of a same-titled document with another hash and returns
// that hash, or "" when there is none.
func (idx *Indexer) displace(ctx context.Context, user string, doc *models.Document) (string, error) {
	prev, err := idx.store.FindFulltextByTitle(ctx, user, doc.Title)
	if errors.Is(err, models.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up title: %w", err)
	}
	if prev.Hash == doc.Hash {
		return "", nil
	}
	if err := idx.store.DeleteFulltext(ctx, user, prev.Hash); err != nil {
		return "", fmt.Errorf("failed to remove replaced fulltext: %w", err)
	}
	idx.debug("replacing document by title",
		zap.String("title", doc.Title), zap.String("old", prev.Hash), zap.String("new", doc.Hash))
	return prev.Hash, nil
}

// writeChunks stores one chunk record per seq. Text already stored for the user is relinked when
// its owner is the displaced version or gone, and copied (reusing the embedding) when another live
// document still owns it. Everything else is embedded in one batch.
func (idx *Indexer) writeChunks(ctx context.Context, user string, doc *models.Document, weights []float64, displaced string) error {
	total := len(doc.Chunks)
	var fresh []*models.ChunkRecord
	for seq, text := range doc.Chunks {
		link := models.ChunkLink{
			Hash:   doc.Hash,
			TF:     weights[seq],
			Seq:    seq,
			Total:  total,
			Title:  doc.Title,
			Source: doc.Source,
		}
		existing, err := idx.store.FindChunkByText(ctx, user, text, doc.Hash)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("failed to look up chunk: %w", err)
		}
		if existing == nil {
			fresh = append(fresh, newChunk(user, text, link, nil))
			continue
		}
		relink := existing.Hash == displaced
		if !relink {
			live, err := idx.exists(ctx, user, existing.Hash)
			if err != nil {
				return err
			}
			relink = !live
		}
		if relink {
			if err := idx.store.RelinkChunk(ctx, user, existing.ID, link); err != nil {
				return fmt.Errorf("failed to relink chunk: %w", err)
			}
			idx.debug("chunk relinked", zap.String("id", existing.ID), zap.String("from", existing.Hash), zap.Int("seq", seq))
			continue
		}
		if err := idx.store.PutChunk(ctx, newChunk(user, text, link, existing.Embedding)); err != nil {
			return fmt.Errorf("failed to store chunk: %w", err)
		}
	}
	if len(fresh) == 0 {
		return nil
	}

	inputs := make([]string, len(fresh))
	for i, c := range fresh {
		inputs[i] = EmbeddingText(c.Title, c.Text)
	}
	vectors, err := idx.embedder.EmbedBatch(ctx, inputs)
	if err != nil {
		return fmt.Errorf("failed to generate embeddings: %w", err)
	}
	for i, c := range fresh {
		c.Embedding = vectors[i]
		if err := idx.store.PutChunk(ctx, c); err != nil {
			return fmt.Errorf("failed to store chunk: %w", err)
		}
	}
	return nil
}

func newChunk(user, text string, link models.ChunkLink, emb []float32) *models.ChunkRecord {
	return &models.ChunkRecord{
		ID:        uuid.New().String(),
		User:      user,
		Hash:      link.Hash,
		Text:      text,
		Seq:       link.Seq,
		Total:     link.Total,
		TF:        link.TF,
		Embedding: emb,
		Title:     link.Title,
		Source:    link.Source,
	}
}

// finish makes the new version visible, then deletes the displaced one.
func (idx *Indexer) finish(ctx context.Context, user, displaced string) error {
	if err := idx.store.Refresh(ctx); err != nil {
		return fmt.Errorf("failed to refresh store: %w", err)
	}
	if displaced == "" {
		return nil
	}
	return idx.Delete(ctx, displaced, user)
}

// rollback removes a partially written version so a retry is not mistaken for "unchanged". The
// displaced version goes too: its fulltext is already deleted and some of its chunks may have
// been relinked, so what is left of it is not searchable as a whole.
func (idx *Indexer) rollback(ctx context.Context, user, hash, displaced string) {
	for _, h := range []string{hash, displaced} {
		if h == "" {
			continue
		}
		if err := idx.Delete(ctx, h, user); err != nil {
			idx.warn("rollback of partial document failed", zap.String("hash", h), zap.Error(err))
		}
	}
}

// Delete removes every fulltext, chunk and cache record of (user, hash). Deleting an unknown hash
// is a no-op.
func (idx *Indexer) Delete(ctx context.Context, hash, user string) error {
	if err := idx.store.DeleteFulltext(ctx, user, hash); err != nil {
		return fmt.Errorf("failed to delete fulltext: %w", err)
	}
	if err := idx.store.DeleteChunks(ctx, user, hash); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	if err := idx.store.DeleteCache(ctx, user, hash); err != nil {
		return fmt.Errorf("failed to delete cache records: %w", err)
	}
	if err := idx.store.Refresh(ctx); err != nil {
		return fmt.Errorf("failed to refresh store: %w", err)
	}
	idx.debug("document deleted", zap.String("user", user), zap.String("hash", hash))
	return nil
}
