package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/hyperjump/shiori/internal/models"
)

// BackendPostgres names the pgvector-backed store.
const BackendPostgres = "postgres"

//go:embed migrations/*.sql
var migrationsFS embed.FS

// orQuery turns the conjunctive plainto_tsquery into a disjunction so any query term can match,
// like a match query in the local lexical index.
const orQuery = `replace(plainto_tsquery('english', $2)::text, '&', '|')::tsquery`

// PostgresStore keeps records, lexical vectors (tsvector) and embeddings (pgvector) in Postgres.
// Every write is visible immediately, so Refresh is a no-op.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to databaseURL and verifies the connection.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, models.StoreError("ping database", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Migrate applies the embedded schema migrations and returns the resulting version.
func Migrate(databaseURL string, logger *zap.Logger) (uint, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return 0, fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return 0, fmt.Errorf("failed to create migration driver: %w", err)
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return 0, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	upErr := m.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return 0, fmt.Errorf("failed to apply migrations: %w", upErr)
	}
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, fmt.Errorf("failed to get migration version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("migration version %d is dirty - manual intervention required", version)
	}
	if logger != nil {
		logger.Info("migrations applied", zap.Uint("version", version), zap.Bool("changed", upErr == nil))
	}
	return version, nil
}

func (s *PostgresStore) PutFulltext(ctx context.Context, rec *models.FulltextRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO fulltexts (user_id, hash, title, source, text, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id, hash) DO UPDATE
		 SET title = EXCLUDED.title, source = EXCLUDED.source, text = EXCLUDED.text, created_at = EXCLUDED.created_at`,
		rec.User, rec.Hash, rec.Title, rec.Source, rec.Text, time.Now().UTC(),
	)
	return models.StoreError("put fulltext", err)
}

func (s *PostgresStore) GetFulltext(ctx context.Context, user, hash string) (*models.FulltextRecord, error) {
	var rec models.FulltextRecord
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, hash, title, source, text FROM fulltexts WHERE user_id = $1 AND hash = $2`,
		user, hash,
	).Scan(&rec.User, &rec.Hash, &rec.Title, &rec.Source, &rec.Text)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.NotFoundf("document not found: %s", hash)
	}
	if err != nil {
		return nil, models.StoreError("get fulltext", err)
	}
	return &rec, nil
}

func (s *PostgresStore) FindFulltextByTitle(ctx context.Context, user, title string) (*models.FulltextRecord, error) {
	var rec models.FulltextRecord
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, hash, title, source, text FROM fulltexts
		 WHERE user_id = $1 AND title = $2 ORDER BY created_at DESC LIMIT 1`,
		user, title,
	).Scan(&rec.User, &rec.Hash, &rec.Title, &rec.Source, &rec.Text)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.NotFoundf("no document titled %q", title)
	}
	if err != nil {
		return nil, models.StoreError("find fulltext by title", err)
	}
	return &rec, nil
}

func (s *PostgresStore) DeleteFulltext(ctx context.Context, user, hash string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM fulltexts WHERE user_id = $1 AND hash = $2`, user, hash)
	return models.StoreError("delete fulltext", err)
}

const pgChunkColumns = `id, user_id, hash, text, seq, total, tf, embedding, title, source`

func scanPgChunk(row pgx.Row) (*models.ChunkRecord, error) {
	var c models.ChunkRecord
	var emb *pgvector.Vector
	if err := row.Scan(&c.ID, &c.User, &c.Hash, &c.Text, &c.Seq, &c.Total, &c.TF, &emb, &c.Title, &c.Source); err != nil {
		return nil, err
	}
	if emb != nil {
		c.Embedding = emb.Slice()
	}
	return &c, nil
}

func nullableVector(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return pgvector.NewVector(v)
}

func (s *PostgresStore) PutChunk(ctx context.Context, rec *models.ChunkRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chunks (id, user_id, hash, text, text_hash, seq, total, tf, embedding, title, source, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.ID, rec.User, rec.Hash, rec.Text, textHash(rec.Text), rec.Seq, rec.Total, rec.TF,
		nullableVector(rec.Embedding), rec.Title, rec.Source, time.Now().UTC(),
	)
	return models.StoreError("put chunk", err)
}

func (s *PostgresStore) FindChunkByText(ctx context.Context, user, text, excludeHash string) (*models.ChunkRecord, error) {
	c, err := scanPgChunk(s.pool.QueryRow(ctx,
		`SELECT `+pgChunkColumns+` FROM chunks
		 WHERE user_id = $1 AND text_hash = $2 AND text = $3 AND hash <> $4
		 ORDER BY created_at LIMIT 1`,
		user, textHash(text), text, excludeHash,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.NotFoundf("no chunk with matching text")
	}
	if err != nil {
		return nil, models.StoreError("find chunk by text", err)
	}
	return c, nil
}

func (s *PostgresStore) RelinkChunk(ctx context.Context, user, id string, link models.ChunkLink) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE chunks SET hash = $1, tf = $2, seq = $3, total = $4, title = $5, source = $6
		 WHERE user_id = $7 AND id = $8`,
		link.Hash, link.TF, link.Seq, link.Total, link.Title, link.Source, user, id,
	)
	if err != nil {
		return models.StoreError("relink chunk", err)
	}
	if tag.RowsAffected() == 0 {
		return models.NotFoundf("chunk not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) GetChunk(ctx context.Context, user, id string) (*models.ChunkRecord, error) {
	c, err := scanPgChunk(s.pool.QueryRow(ctx,
		`SELECT `+pgChunkColumns+` FROM chunks WHERE user_id = $1 AND id = $2`, user, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.NotFoundf("chunk not found: %s", id)
	}
	if err != nil {
		return nil, models.StoreError("get chunk", err)
	}
	return c, nil
}

func (s *PostgresStore) ChunkRange(ctx context.Context, user, hash string, start, end int) ([]*models.ChunkRecord, error) {
	return s.queryChunks(ctx, "chunk range",
		`SELECT `+pgChunkColumns+` FROM chunks
		 WHERE user_id = $1 AND hash = $2 AND seq >= $3 AND seq <= $4 ORDER BY seq`,
		user, hash, start, end)
}

func (s *PostgresStore) TopWeighted(ctx context.Context, user, hash string, k int) ([]*models.ChunkRecord, error) {
	return s.queryChunks(ctx, "top weighted",
		`SELECT `+pgChunkColumns+` FROM chunks
		 WHERE user_id = $1 AND hash = $2 ORDER BY tf DESC, seq LIMIT $3`,
		user, hash, k)
}

func (s *PostgresStore) queryChunks(ctx context.Context, op, query string, args ...any) ([]*models.ChunkRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, models.StoreError(op, err)
	}
	defer rows.Close()
	var chunks []*models.ChunkRecord
	for rows.Next() {
		c, err := scanPgChunk(rows)
		if err != nil {
			return nil, models.StoreError(op, err)
		}
		chunks = append(chunks, c)
	}
	return chunks, models.StoreError(op, rows.Err())
}

func (s *PostgresStore) DeleteChunks(ctx context.Context, user, hash string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE user_id = $1 AND hash = $2`, user, hash)
	return models.StoreError("delete chunks", err)
}

func (s *PostgresStore) PutCache(ctx context.Context, rec *models.CacheRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cache (user_id, uri, hash, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, uri) DO UPDATE SET hash = EXCLUDED.hash, updated_at = EXCLUDED.updated_at`,
		rec.User, rec.URI, rec.Hash, time.Now().UTC(),
	)
	return models.StoreError("put cache", err)
}

func (s *PostgresStore) GetCache(ctx context.Context, user, uri string) (*models.CacheRecord, error) {
	var rec models.CacheRecord
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, uri, hash FROM cache WHERE user_id = $1 AND uri = $2`, user, uri,
	).Scan(&rec.User, &rec.URI, &rec.Hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.NotFoundf("no cache entry for %s", uri)
	}
	if err != nil {
		return nil, models.StoreError("get cache", err)
	}
	return &rec, nil
}

func (s *PostgresStore) DeleteCache(ctx context.Context, user, hash string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM cache WHERE user_id = $1 AND hash = $2`, user, hash)
	return models.StoreError("delete cache", err)
}

// MatchChunks ranks chunks of q.User by ts_rank against the query terms.
func (s *PostgresStore) MatchChunks(ctx context.Context, q MatchQuery) ([]*models.SearchHit, error) {
	minTF := -1.0
	if q.MinTF != nil {
		minTF = *q.MinTF
	}
	return s.queryHits(ctx, "match chunks",
		`SELECT id, text, hash, seq, total, title, source, ts_rank(tsv, `+orQuery+`) AS score
		 FROM chunks
		 WHERE user_id = $1 AND tsv @@ `+orQuery+`
		   AND ($3 = '' OR hash = $3) AND tf >= $4
		 ORDER BY score DESC, seq
		 LIMIT $5`,
		q.User, q.Text, q.Hash, minTF, q.Limit)
}

// MatchFulltext ranks whole documents of q.User by ts_rank. Hit IDs are document hashes.
func (s *PostgresStore) MatchFulltext(ctx context.Context, q MatchQuery) ([]*models.SearchHit, error) {
	return s.queryHits(ctx, "match fulltext",
		`SELECT hash, text, hash, 0, 0, title, source, ts_rank(tsv, `+orQuery+`) AS score
		 FROM fulltexts
		 WHERE user_id = $1 AND tsv @@ `+orQuery+` AND ($3 = '' OR hash = $3)
		 ORDER BY score DESC, hash
		 LIMIT $4`,
		q.User, q.Text, q.Hash, q.Limit)
}

// NearestChunks orders chunks of q.User by cosine distance. Filtering happens in the query, so
// q.Candidates is not needed.
func (s *PostgresStore) NearestChunks(ctx context.Context, q VectorQuery) ([]*models.SearchHit, error) {
	if q.Limit <= 0 {
		return nil, nil
	}
	return s.queryHits(ctx, "nearest chunks",
		`SELECT id, text, hash, seq, total, title, source, 1 - (embedding <=> $2) AS score
		 FROM chunks
		 WHERE user_id = $1 AND embedding IS NOT NULL AND ($3 = '' OR hash = $3)
		 ORDER BY embedding <=> $2
		 LIMIT $4`,
		q.User, pgvector.NewVector(q.Vector), q.Hash, q.Limit)
}

func (s *PostgresStore) queryHits(ctx context.Context, op, query string, args ...any) ([]*models.SearchHit, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, models.StoreError(op, err)
	}
	defer rows.Close()
	var hits []*models.SearchHit
	for rows.Next() {
		var h models.SearchHit
		var score float64
		if err := rows.Scan(&h.ID, &h.Text, &h.Hash, &h.Seq, &h.Total, &h.Title, &h.Source, &score); err != nil {
			return nil, models.StoreError(op, err)
		}
		h.Score = score
		hits = append(hits, &h)
	}
	return hits, models.StoreError(op, rows.Err())
}

// Refresh is a no-op; Postgres writes are visible on commit.
func (s *PostgresStore) Refresh(ctx context.Context) error {
	return nil
}

func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	err := s.pool.QueryRow(ctx,
		`SELECT (SELECT COUNT(*) FROM fulltexts),
		        (SELECT COUNT(*) FROM chunks),
		        (SELECT COUNT(*) FROM chunks WHERE embedding IS NOT NULL),
		        pg_database_size(current_database())`,
	).Scan(&st.Documents, &st.Chunks, &st.Vectors, &st.DiskBytes)
	if err != nil {
		return nil, models.StoreError("stats", err)
	}
	st.Backend = BackendPostgres
	return &st, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
