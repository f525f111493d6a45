package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/shiori/internal/models"
)

// SQLiteStorage persists fulltext, chunk, and cache records in SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist. ":memory:" opens a private in-memory database.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// each pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS fulltexts (
		user_id TEXT NOT NULL,
		hash TEXT NOT NULL,
		title TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		text TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, hash)
	);

	CREATE INDEX IF NOT EXISTS idx_fulltexts_title ON fulltexts(user_id, title);

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		hash TEXT NOT NULL,
		text TEXT NOT NULL,
		text_hash TEXT NOT NULL,
		seq INTEGER NOT NULL,
		total INTEGER NOT NULL,
		tf REAL NOT NULL DEFAULT 0,
		embedding BLOB,
		title TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_doc ON chunks(user_id, hash, seq);
	CREATE INDEX IF NOT EXISTS idx_chunks_text ON chunks(user_id, text_hash);

	CREATE TABLE IF NOT EXISTS cache (
		user_id TEXT NOT NULL,
		uri TEXT NOT NULL,
		hash TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, uri)
	);

	CREATE INDEX IF NOT EXISTS idx_cache_hash ON cache(user_id, hash);
	`
	_, err := db.Exec(schema)
	return err
}

// PutFulltext inserts or replaces the fulltext record for (user, hash).
func (s *SQLiteStorage) PutFulltext(ctx context.Context, rec *models.FulltextRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO fulltexts (user_id, hash, title, source, text, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.User, rec.Hash, rec.Title, rec.Source, rec.Text, time.Now(),
	)
	return models.StoreError("put fulltext", err)
}

// GetFulltext returns the fulltext record for (user, hash).
func (s *SQLiteStorage) GetFulltext(ctx context.Context, user, hash string) (*models.FulltextRecord, error) {
	var rec models.FulltextRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, hash, title, source, text FROM fulltexts WHERE user_id = ? AND hash = ?`,
		user, hash,
	).Scan(&rec.User, &rec.Hash, &rec.Title, &rec.Source, &rec.Text)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NotFoundf("document not found: %s", hash)
	}
	if err != nil {
		return nil, models.StoreError("get fulltext", err)
	}
	return &rec, nil
}

// FindFulltextByTitle returns the most recently written fulltext record with the given title.
func (s *SQLiteStorage) FindFulltextByTitle(ctx context.Context, user, title string) (*models.FulltextRecord, error) {
	var rec models.FulltextRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, hash, title, source, text FROM fulltexts
		 WHERE user_id = ? AND title = ? ORDER BY created_at DESC LIMIT 1`,
		user, title,
	).Scan(&rec.User, &rec.Hash, &rec.Title, &rec.Source, &rec.Text)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NotFoundf("no document titled %q", title)
	}
	if err != nil {
		return nil, models.StoreError("find fulltext by title", err)
	}
	return &rec, nil
}

// DeleteFulltext removes the fulltext record for (user, hash). Missing records are not an error.
func (s *SQLiteStorage) DeleteFulltext(ctx context.Context, user, hash string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM fulltexts WHERE user_id = ? AND hash = ?`, user, hash)
	return models.StoreError("delete fulltext", err)
}

// ForEachFulltext calls fn for every stored fulltext record.
func (s *SQLiteStorage) ForEachFulltext(ctx context.Context, fn func(*models.FulltextRecord) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, hash, title, source, text FROM fulltexts`)
	if err != nil {
		return models.StoreError("scan fulltexts", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rec models.FulltextRecord
		if err := rows.Scan(&rec.User, &rec.Hash, &rec.Title, &rec.Source, &rec.Text); err != nil {
			return models.StoreError("scan fulltext", err)
		}
		if err := fn(&rec); err != nil {
			return err
		}
	}
	return models.StoreError("scan fulltexts", rows.Err())
}

const chunkColumns = `id, user_id, hash, text, seq, total, tf, embedding, title, source`

func scanChunk(row interface{ Scan(...any) error }) (*models.ChunkRecord, error) {
	var c models.ChunkRecord
	var emb []byte
	if err := row.Scan(&c.ID, &c.User, &c.Hash, &c.Text, &c.Seq, &c.Total, &c.TF, &emb, &c.Title, &c.Source); err != nil {
		return nil, err
	}
	c.Embedding = decodeVector(emb)
	return &c, nil
}

// PutChunk inserts a chunk record.
func (s *SQLiteStorage) PutChunk(ctx context.Context, rec *models.ChunkRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chunks (id, user_id, hash, text, text_hash, seq, total, tf, embedding, title, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.User, rec.Hash, rec.Text, textHash(rec.Text), rec.Seq, rec.Total, rec.TF,
		encodeVector(rec.Embedding), rec.Title, rec.Source, time.Now(),
	)
	return models.StoreError("put chunk", err)
}

// FindChunkByText returns a chunk of user whose text equals text exactly and whose hash differs
// from excludeHash.
func (s *SQLiteStorage) FindChunkByText(ctx context.Context, user, text, excludeHash string) (*models.ChunkRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks
		 WHERE user_id = ? AND text_hash = ? AND hash <> ? ORDER BY created_at`,
		user, textHash(text), excludeHash,
	)
	if err != nil {
		return nil, models.StoreError("find chunk by text", err)
	}
	defer rows.Close()
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, models.StoreError("scan chunk", err)
		}
		if c.Text == text {
			return c, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, models.StoreError("find chunk by text", err)
	}
	return nil, models.NotFoundf("no chunk with matching text")
}

// RelinkChunk moves an existing chunk under a new document version.
func (s *SQLiteStorage) RelinkChunk(ctx context.Context, user, id string, link models.ChunkLink) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE chunks SET hash = ?, tf = ?, seq = ?, total = ?, title = ?, source = ?
		 WHERE user_id = ? AND id = ?`,
		link.Hash, link.TF, link.Seq, link.Total, link.Title, link.Source, user, id,
	)
	if err != nil {
		return models.StoreError("relink chunk", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return models.NotFoundf("chunk not found: %s", id)
	}
	return nil
}

// GetChunk returns the chunk with id owned by user.
func (s *SQLiteStorage) GetChunk(ctx context.Context, user, id string) (*models.ChunkRecord, error) {
	c, err := scanChunk(s.db.QueryRowContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE user_id = ? AND id = ?`, user, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NotFoundf("chunk not found: %s", id)
	}
	if err != nil {
		return nil, models.StoreError("get chunk", err)
	}
	return c, nil
}

// GetChunks returns the chunks among ids owned by user, keyed by id.
func (s *SQLiteStorage) GetChunks(ctx context.Context, user string, ids []string) (map[string]*models.ChunkRecord, error) {
	out := make(map[string]*models.ChunkRecord, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, user)
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE user_id = ? AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, models.StoreError("get chunks", err)
	}
	defer rows.Close()
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, models.StoreError("scan chunk", err)
		}
		out[c.ID] = c
	}
	return out, models.StoreError("get chunks", rows.Err())
}

// ChunkIDs returns the IDs of user's chunks that carry an embedding, limited to hash when set.
func (s *SQLiteStorage) ChunkIDs(ctx context.Context, user, hash string) (map[string]struct{}, error) {
	query := `SELECT id FROM chunks WHERE user_id = ? AND embedding IS NOT NULL`
	args := []any{user}
	if hash != "" {
		query += ` AND hash = ?`
		args = append(args, hash)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, models.StoreError("chunk ids", err)
	}
	defer rows.Close()
	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, models.StoreError("chunk ids", err)
		}
		ids[id] = struct{}{}
	}
	return ids, models.StoreError("chunk ids", rows.Err())
}

// ChunkRange returns the chunks of (user, hash) with start <= seq <= end, ordered by seq.
func (s *SQLiteStorage) ChunkRange(ctx context.Context, user, hash string, start, end int) ([]*models.ChunkRecord, error) {
	return s.queryChunks(ctx, "chunk range",
		`SELECT `+chunkColumns+` FROM chunks
		 WHERE user_id = ? AND hash = ? AND seq >= ? AND seq <= ? ORDER BY seq`,
		user, hash, start, end)
}

// TopWeighted returns up to k chunks of (user, hash) with the highest tf, ties broken by seq.
func (s *SQLiteStorage) TopWeighted(ctx context.Context, user, hash string, k int) ([]*models.ChunkRecord, error) {
	return s.queryChunks(ctx, "top weighted",
		`SELECT `+chunkColumns+` FROM chunks
		 WHERE user_id = ? AND hash = ? ORDER BY tf DESC, seq LIMIT ?`,
		user, hash, k)
}

// ChunksByHash returns every chunk of (user, hash) ordered by seq.
func (s *SQLiteStorage) ChunksByHash(ctx context.Context, user, hash string) ([]*models.ChunkRecord, error) {
	return s.queryChunks(ctx, "chunks by hash",
		`SELECT `+chunkColumns+` FROM chunks WHERE user_id = ? AND hash = ? ORDER BY seq`,
		user, hash)
}

// ForEachChunk calls fn for every stored chunk. Used to rebuild derived indices.
func (s *SQLiteStorage) ForEachChunk(ctx context.Context, fn func(*models.ChunkRecord) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT `+chunkColumns+` FROM chunks`)
	if err != nil {
		return models.StoreError("scan chunks", err)
	}
	defer rows.Close()
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return models.StoreError("scan chunk", err)
		}
		if err := fn(c); err != nil {
			return err
		}
	}
	return models.StoreError("scan chunks", rows.Err())
}

func (s *SQLiteStorage) queryChunks(ctx context.Context, op, query string, args ...any) ([]*models.ChunkRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, models.StoreError(op, err)
	}
	defer rows.Close()
	var chunks []*models.ChunkRecord
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, models.StoreError(op, err)
		}
		chunks = append(chunks, c)
	}
	return chunks, models.StoreError(op, rows.Err())
}

// DeleteChunks removes all chunks of (user, hash).
func (s *SQLiteStorage) DeleteChunks(ctx context.Context, user, hash string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE user_id = ? AND hash = ?`, user, hash)
	return models.StoreError("delete chunks", err)
}

// PutCache records that uri last resolved to rec.Hash.
func (s *SQLiteStorage) PutCache(ctx context.Context, rec *models.CacheRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache (user_id, uri, hash, updated_at) VALUES (?, ?, ?, ?)`,
		rec.User, rec.URI, rec.Hash, time.Now(),
	)
	return models.StoreError("put cache", err)
}

// GetCache returns the cache record for (user, uri).
func (s *SQLiteStorage) GetCache(ctx context.Context, user, uri string) (*models.CacheRecord, error) {
	var rec models.CacheRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, uri, hash FROM cache WHERE user_id = ? AND uri = ?`, user, uri,
	).Scan(&rec.User, &rec.URI, &rec.Hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NotFoundf("no cache entry for %s", uri)
	}
	if err != nil {
		return nil, models.StoreError("get cache", err)
	}
	return &rec, nil
}

// DeleteCache removes every cache record of user pointing at hash.
func (s *SQLiteStorage) DeleteCache(ctx context.Context, user, hash string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache WHERE user_id = ? AND hash = ?`, user, hash)
	return models.StoreError("delete cache", err)
}

// CountDocuments returns the total number of fulltext records.
func (s *SQLiteStorage) CountDocuments(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM fulltexts`).Scan(&count)
	return count, models.StoreError("count documents", err)
}

// CountChunks returns the total number of chunk records.
func (s *SQLiteStorage) CountChunks(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count)
	return count, models.StoreError("count chunks", err)
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// textHash keys exact-text lookups without indexing the full text column.
func textHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	out := make([]byte, len(v)*4)
	for i, x := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(x))
	}
	return out
}

func decodeVector(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
