package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/shiori/internal/config"
	"github.com/hyperjump/shiori/internal/embedding"
	"github.com/hyperjump/shiori/internal/engine"
	"github.com/hyperjump/shiori/internal/ingest"
	"github.com/hyperjump/shiori/internal/loader"
	"github.com/hyperjump/shiori/internal/search"
	"github.com/hyperjump/shiori/internal/storage"
)

// components holds everything a command needs, built from one config.
type components struct {
	store    storage.Store
	embedder embedding.Embedder
	engine   *engine.Engine
	loader   *loader.Loader
	pipeline *ingest.Pipeline
	logger   *zap.Logger
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*components, error) {
	embedder, err := embedding.New(embedding.Options{
		Provider:          cfg.Embedding.Provider,
		ModelPath:         cfg.Embedding.ModelPath,
		Model:             cfg.Embedding.Model,
		APIKey:            cfg.Embedding.APIKey,
		BaseURL:           cfg.Embedding.BaseURL,
		Dimensions:        cfg.Embedding.Dimensions,
		MaxTokens:         cfg.Embedding.MaxTokens,
		CacheSize:         cfg.Embedding.CacheSize,
		RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
		Burst:             cfg.Embedding.Burst,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	store, err := openStore(ctx, cfg, embedder.Dimensions(), logger)
	if err != nil {
		_ = embedder.Close()
		return nil, err
	}

	eng := engine.New(store, embedder,
		engine.WithSearchConfig(searchConfig(cfg.Search)),
		engine.WithPadding(padding(cfg.Search)),
		engine.WithLogger(logger),
	)

	loaderOpts := []loader.Option{loader.WithLogger(logger)}
	if s3Configured(cfg.S3) {
		client, err := loader.NewS3Client(ctx, loader.S3Config{
			Endpoint:        cfg.S3.Endpoint,
			Region:          cfg.S3.Region,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			UsePathStyle:    cfg.S3.UsePathStyle,
		})
		if err != nil {
			_ = store.Close()
			_ = embedder.Close()
			return nil, err
		}
		loaderOpts = append(loaderOpts, loader.WithS3(client))
	}
	ld := loader.New(loaderOpts...)

	pipeline := ingest.New(eng, store, ld, ingest.Config{
		Workers:      cfg.Ingest.Workers,
		Retries:      cfg.Ingest.Retries,
		RetryBackoff: cfg.Ingest.RetryBackoff,
		Delimiter:    cfg.Search.Delimiter,
	}, ingest.WithLogger(logger))

	return &components{
		store:    store,
		embedder: embedder,
		engine:   eng,
		loader:   ld,
		pipeline: pipeline,
		logger:   logger,
	}, nil
}

func openStore(ctx context.Context, cfg *config.Config, dims int, logger *zap.Logger) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case storage.BackendLocal, "":
		store, err := storage.NewLocalStore(ctx, storage.LocalConfig{
			DatabasePath:    cfg.Storage.DatabasePath,
			BleveIndexPath:  cfg.Storage.BleveIndexPath,
			VectorIndexPath: cfg.Storage.VectorIndexPath,
			VectorIndexType: cfg.Storage.VectorIndexType,
			Dimensions:      dims,
		}, storage.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to open local store: %w", err)
		}
		return store, nil
	case storage.BackendPostgres:
		if cfg.Storage.DatabaseURL == "" {
			return nil, fmt.Errorf("storage backend %q requires database_url", storage.BackendPostgres)
		}
		store, err := storage.NewPostgresStore(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s (supported: local, postgres)", cfg.Storage.Backend)
	}
}

// searchConfig converts the file settings into searcher defaults. Nil fields keep the stock values.
func searchConfig(sc config.SearchConfig) search.Config {
	out := search.DefaultConfig()
	if sc.K > 0 {
		out.K = sc.K
	}
	if sc.Candidates > 0 {
		out.Candidates = sc.Candidates
	}
	if sc.ChunkThreshold != nil {
		out.ChunkThreshold = *sc.ChunkThreshold
	}
	if sc.KeywordThreshold != nil {
		out.KeywordThreshold = *sc.KeywordThreshold
	}
	if sc.FulltextThreshold != nil {
		out.FulltextThreshold = *sc.FulltextThreshold
	}
	if sc.TFThreshold != nil {
		out.TFThreshold = *sc.TFThreshold
	}
	return out
}

func padding(sc config.SearchConfig) int {
	if sc.Padding != nil {
		return *sc.Padding
	}
	return search.DefaultPadding
}

func s3Configured(c config.S3Config) bool {
	return c.Endpoint != "" || c.AccessKeyID != ""
}

// Close releases the store and the embedder.
func (c *components) Close() {
	if err := c.store.Close(); err != nil {
		c.logger.Warn("failed to close store", zap.Error(err))
	}
	if err := c.embedder.Close(); err != nil {
		c.logger.Warn("failed to close embedder", zap.Error(err))
	}
}
