// Package ingest loads batches of URIs and indexes them concurrently, skipping sources whose
// content has not changed since the last run.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/shiori/internal/indexer"
	"github.com/hyperjump/shiori/internal/loader"
	"github.com/hyperjump/shiori/internal/models"
)

const (
	DefaultWorkers      = 4
	DefaultRetries      = 2
	DefaultRetryBackoff = 200 * time.Millisecond
)

// Indexer upserts and deletes documents.
type Indexer interface {
	IndexDocument(ctx context.Context, doc *models.Document, user string) (*models.IndexResult, error)
	DeleteDocument(ctx context.Context, hash, user string) error
}

// CacheStore maps source URIs to the hash they last resolved to.
type CacheStore interface {
	PutCache(ctx context.Context, rec *models.CacheRecord) error
	GetCache(ctx context.Context, user, uri string) (*models.CacheRecord, error)
}

// Source resolves a URI to text.
type Source interface {
	Load(ctx context.Context, uri string) (*loader.Loaded, error)
}

// Config tunes a Pipeline. Zero values use the defaults.
type Config struct {
	Workers      int
	Retries      int
	RetryBackoff time.Duration
	Delimiter    string
}

// Failure records one URI that could not be ingested.
type Failure struct {
	URI   string `json:"uri"`
	Error string `json:"error"`
}

// Report aggregates the outcome of a batch.
type Report struct {
	Indexed   int       `json:"indexed"`
	Unchanged int       `json:"unchanged"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
	Errors    []Failure `json:"errors,omitempty"`
}

type outcome struct {
	uri    string
	status models.IndexStatus
	err    error
}

func (r *Report) add(o outcome) {
	if o.err != nil {
		r.Failed++
		r.Errors = append(r.Errors, Failure{URI: o.uri, Error: o.err.Error()})
		return
	}
	switch o.status {
	case models.StatusIndexed:
		r.Indexed++
	case models.StatusUnchanged:
		r.Unchanged++
	case models.StatusSkipped:
		r.Skipped++
	}
}

// Pipeline ingests URIs for one engine.
type Pipeline struct {
	index  Indexer
	cache  CacheStore
	source Source
	cfg    Config
	logger *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New returns a Pipeline.
func New(index Indexer, cache CacheStore, source Source, cfg Config, opts ...Option) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	p := &Pipeline{index: index, cache: cache, source: source, cfg: cfg}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run ingests uris for user with at most Workers in flight. A failing URI is recorded in the
// report and never aborts the batch; the returned error is only set when ctx ends early.
func (p *Pipeline) Run(ctx context.Context, user string, uris []string) (*Report, error) {
	results := make(chan outcome)
	done := make(chan *Report)
	go func() {
		report := &Report{}
		for o := range results {
			report.add(o)
		}
		done <- report
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for _, uri := range uris {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			status, err := p.ingest(gctx, user, uri)
			if err != nil && p.logger != nil {
				p.logger.Warn("ingest failed", zap.String("uri", uri), zap.Error(err))
			}
			select {
			case results <- outcome{uri: uri, status: status, err: err}:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	waitErr := g.Wait()
	close(results)
	report := <-done
	if waitErr == nil {
		waitErr = ctx.Err()
	}
	if p.logger != nil {
		p.logger.Info("ingest finished",
			zap.Int("indexed", report.Indexed),
			zap.Int("unchanged", report.Unchanged),
			zap.Int("skipped", report.Skipped),
			zap.Int("failed", report.Failed))
	}
	return report, waitErr
}

func (p *Pipeline) ingest(ctx context.Context, user, uri string) (models.IndexStatus, error) {
	loaded, err := p.source.Load(ctx, uri)
	if err != nil {
		return "", err
	}
	doc, err := indexer.NewDocument(loaded.Text, loaded.Title, uri, p.cfg.Delimiter)
	if errors.Is(err, models.ErrEmptyContent) {
		return models.StatusSkipped, nil
	}
	if err != nil {
		return "", err
	}

	cached, err := p.cache.GetCache(ctx, user, uri)
	switch {
	case err == nil && cached.Hash == doc.Hash:
		return models.StatusUnchanged, nil
	case err != nil && !errors.Is(err, models.ErrNotFound):
		return "", err
	}

	var res *models.IndexResult
	err = p.retry(ctx, func() error {
		var err error
		res, err = p.index.IndexDocument(ctx, doc, user)
		return err
	})
	if err != nil {
		return "", err
	}
	if res.Status == models.StatusSkipped {
		return res.Status, nil
	}
	err = p.retry(ctx, func() error {
		return p.cache.PutCache(ctx, &models.CacheRecord{User: user, URI: uri, Hash: doc.Hash})
	})
	if err != nil {
		return "", fmt.Errorf("failed to record %s: %w", uri, err)
	}
	return res.Status, nil
}

// retry runs fn until it succeeds, fails with anything but ErrStoreUnavailable, or Retries
// is exhausted. The delay doubles after each attempt.
func (p *Pipeline) retry(ctx context.Context, fn func() error) error {
	backoff := p.cfg.RetryBackoff
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !errors.Is(err, models.ErrStoreUnavailable) || attempt >= p.cfg.Retries {
			return err
		}
		if p.logger != nil {
			p.logger.Debug("retrying after store error", zap.Int("attempt", attempt+1), zap.Error(err))
		}
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		backoff *= 2
	}
}

// Forget deletes the document last ingested from uri. An unknown uri is a no-op.
func (p *Pipeline) Forget(ctx context.Context, user, uri string) error {
	cached, err := p.cache.GetCache(ctx, user, uri)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := p.index.DeleteDocument(ctx, cached.Hash, user); err != nil {
		return err
	}
	if p.logger != nil {
		p.logger.Info("forgot document", zap.String("uri", uri), zap.String("hash", cached.Hash))
	}
	return nil
}

// Expand replaces directories in paths by the files beneath them that match extensions.
// Non-local URIs pass through unchanged.
func Expand(paths, extensions []string, recursive bool) ([]string, error) {
	var out []string
	for _, p := range paths {
		if strings.Contains(p, "://") {
			out = append(out, p)
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		if !info.IsDir() {
			out = append(out, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != p && (!recursive || strings.HasPrefix(d.Name(), ".")) {
					return filepath.SkipDir
				}
				return nil
			}
			if loader.ExtensionAllowed(path, extensions) {
				out = append(out, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", p, err)
		}
	}
	return out, nil
}
