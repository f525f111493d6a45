package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/shiori/internal/embedding"
	"github.com/hyperjump/shiori/internal/engine"
	"github.com/hyperjump/shiori/internal/loader"
	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/internal/storage"
)

func newPipeline(t *testing.T) (*Pipeline, *engine.Engine) {
	t.Helper()
	store, err := storage.NewMemoryStore(16)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	eng := engine.New(store, embedding.NewMockEmbedder(16))
	return New(eng, store, loader.New(), Config{Workers: 3}), eng
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestPipeline_RunReportsEveryOutcome(t *testing.T) {
	p, _ := newPipeline(t)
	ctx := context.Background()
	dir := t.TempDir()
	a := writeFile(t, dir, "alpha.md", "Alpine lakes freeze in winter.\n\nGlaciers feed them in spring.")
	b := writeFile(t, dir, "bravo.txt", "Desert dunes shift with the wind.")
	empty := writeFile(t, dir, "empty.txt", "   \n\n  ")
	missing := filepath.Join(dir, "missing.txt")

	report, err := p.Run(ctx, "alice", []string{a, b, empty, missing})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Indexed)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, missing, report.Errors[0].URI)

	report, err = p.Run(ctx, "alice", []string{a, b})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Unchanged)
	assert.Zero(t, report.Indexed)
}

func TestPipeline_ChangedFileReplacesPreviousVersion(t *testing.T) {
	p, eng := newPipeline(t)
	ctx := context.Background()
	dir := t.TempDir()
	path := writeFile(t, dir, "recipe.md", "Use fresh basil.\n\nAdd salt.")

	_, err := p.Run(ctx, "alice", []string{path})
	require.NoError(t, err)
	first, err := eng.Store().GetCache(ctx, "alice", path)
	require.NoError(t, err)

	writeFile(t, dir, "recipe.md", "Use fresh basil.\n\nAdd pepper.")
	report, err := p.Run(ctx, "alice", []string{path})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Indexed)

	second, err := eng.Store().GetCache(ctx, "alice", path)
	require.NoError(t, err)
	assert.NotEqual(t, first.Hash, second.Hash)

	_, found, err := eng.GetFullText(ctx, first.Hash, "alice")
	require.NoError(t, err)
	assert.False(t, found, "the same title displaces the older version")
}

func TestPipeline_Forget(t *testing.T) {
	p, eng := newPipeline(t)
	ctx := context.Background()
	path := writeFile(t, t.TempDir(), "note.txt", "Remember the milk.")

	_, err := p.Run(ctx, "alice", []string{path})
	require.NoError(t, err)
	rec, err := eng.Store().GetCache(ctx, "alice", path)
	require.NoError(t, err)

	require.NoError(t, p.Forget(ctx, "alice", path))
	_, found, err := eng.GetFullText(ctx, rec.Hash, "alice")
	require.NoError(t, err)
	assert.False(t, found)
	_, err = eng.Store().GetCache(ctx, "alice", path)
	assert.ErrorIs(t, err, models.ErrNotFound)

	assert.NoError(t, p.Forget(ctx, "alice", path), "unknown uris are a no-op")
}

type staticSource map[string]string

func (s staticSource) Load(_ context.Context, uri string) (*loader.Loaded, error) {
	text, ok := s[uri]
	if !ok {
		return nil, errors.New("no such uri")
	}
	return &loader.Loaded{URI: uri, Title: uri, Text: text}, nil
}

type flakyIndexer struct {
	mu       sync.Mutex
	failures int
	calls    int
	err      error
}

func (f *flakyIndexer) IndexDocument(_ context.Context, doc *models.Document, _ string) (*models.IndexResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return &models.IndexResult{Hash: doc.Hash, Status: models.StatusIndexed, Chunks: len(doc.Chunks)}, nil
}

func (f *flakyIndexer) DeleteDocument(context.Context, string, string) error { return nil }

type memCache struct {
	mu   sync.Mutex
	recs map[string]*models.CacheRecord
}

func (m *memCache) PutCache(_ context.Context, rec *models.CacheRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[rec.User+"|"+rec.URI] = rec
	return nil
}

func (m *memCache) GetCache(_ context.Context, user, uri string) (*models.CacheRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.recs[user+"|"+uri]; ok {
		return rec, nil
	}
	return nil, models.NotFoundf("no cache record for %s", uri)
}

func TestPipeline_RetriesStoreUnavailable(t *testing.T) {
	src := staticSource{"doc": "Some text."}
	cache := &memCache{recs: map[string]*models.CacheRecord{}}

	idx := &flakyIndexer{failures: 2, err: models.StoreError("put chunk", errors.New("disk busy"))}
	p := New(idx, cache, src, Config{Retries: 2, RetryBackoff: time.Millisecond})
	report, err := p.Run(context.Background(), "alice", []string{"doc"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Indexed)
	assert.Equal(t, 3, idx.calls)

	idx = &flakyIndexer{failures: 5, err: models.StoreError("put chunk", errors.New("disk busy"))}
	cache = &memCache{recs: map[string]*models.CacheRecord{}}
	p = New(idx, cache, src, Config{Retries: 1, RetryBackoff: time.Millisecond})
	report, err = p.Run(context.Background(), "alice", []string{"doc"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 2, idx.calls)
}

func TestPipeline_DoesNotRetryOtherErrors(t *testing.T) {
	idx := &flakyIndexer{failures: 1, err: models.NewDomainError(models.CodeInvalidInput, "bad title")}
	cache := &memCache{recs: map[string]*models.CacheRecord{}}
	p := New(idx, cache, staticSource{"doc": "Some text."}, Config{Retries: 3, RetryBackoff: time.Millisecond})

	report, err := p.Run(context.Background(), "alice", []string{"doc"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, idx.calls)
}

func TestPipeline_CancelledContext(t *testing.T) {
	cache := &memCache{recs: map[string]*models.CacheRecord{}}
	p := New(&flakyIndexer{}, cache, staticSource{"doc": "Some text."}, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Run(ctx, "alice", []string{"doc"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExpand(t *testing.T) {
	dir := t.TempDir()
	top := writeFile(t, dir, "top.md", "x")
	nested := writeFile(t, dir, "sub/nested.md", "x")
	writeFile(t, dir, "skip.bin", "x")
	writeFile(t, dir, ".hidden/secret.md", "x")

	got, err := Expand([]string{dir, "s3://bucket/key.pdf"}, []string{".md"}, true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{top, nested, "s3://bucket/key.pdf"}, got)

	got, err = Expand([]string{dir}, []string{".md"}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{top}, got)

	_, err = Expand([]string{filepath.Join(dir, "missing")}, nil, true)
	assert.Error(t, err)
}
