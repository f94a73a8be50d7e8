package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// CacheFile is the embedding cache database inside the data dir.
const CacheFile = "embeddings.db"

// sqliteMaxParams keeps IN lists below SQLite's variable limit.
const sqliteMaxParams = 500

// EmbeddingCache stores chunk embeddings keyed by (text hash, model), so
// unchanged chunk text is never sent to the provider twice.
type EmbeddingCache struct {
	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

// OpenEmbeddingCache opens or creates the cache at path. An empty path opens
// an in-memory cache.
func OpenEmbeddingCache(path string) (*EmbeddingCache, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open embedding cache: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// modernc.org/sqlite ignores most DSN parameters; pragmas go in statements.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS embeddings (
		hash   TEXT    NOT NULL,
		model  TEXT    NOT NULL,
		dims   INTEGER NOT NULL,
		vector BLOB    NOT NULL,
		PRIMARY KEY (hash, model)
	);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize embedding cache: %w", err)
	}
	return &EmbeddingCache{db: db}, nil
}

// Get returns the cached vectors among hashes for model.
func (c *EmbeddingCache) Get(ctx context.Context, model string, hashes []string) (map[string][]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("embedding cache is closed")
	}

	out := make(map[string][]float32, len(hashes))
	for start := 0; start < len(hashes); start += sqliteMaxParams {
		end := min(start+sqliteMaxParams, len(hashes))
		batch := hashes[start:end]

		args := make([]any, 0, len(batch)+1)
		args = append(args, model)
		for _, h := range batch {
			args = append(args, h)
		}
		query := `SELECT hash, dims, vector FROM embeddings WHERE model = ? AND hash IN (?` +
			strings.Repeat(",?", len(batch)-1) + `)`

		rows, err := c.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query embedding cache: %w", err)
		}
		for rows.Next() {
			var hash string
			var dims int
			var blob []byte
			if err := rows.Scan(&hash, &dims, &blob); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("failed to scan embedding: %w", err)
			}
			if vec, ok := decodeVector(blob, dims); ok {
				out[hash] = vec
			}
		}
		if err := rows.Close(); err != nil {
			return nil, err
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Put stores vectors for model, replacing existing entries.
func (c *EmbeddingCache) Put(ctx context.Context, model string, vectors map[string][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("embedding cache is closed")
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO embeddings (hash, model, dims, vector) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for hash, vec := range vectors {
		if _, err := stmt.ExecContext(ctx, hash, model, len(vec), encodeVector(vec)); err != nil {
			return fmt.Errorf("failed to store embedding: %w", err)
		}
	}
	return tx.Commit()
}

// Prune deletes entries of model whose hash is not in keep, and all entries
// of other models. It returns the number of rows removed.
func (c *EmbeddingCache) Prune(ctx context.Context, model string, keep map[string]bool) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, fmt.Errorf("embedding cache is closed")
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE model != ?`, model)
	if err != nil {
		return 0, fmt.Errorf("failed to prune embedding cache: %w", err)
	}
	removed, _ := res.RowsAffected()

	rows, err := tx.QueryContext(ctx, `SELECT hash FROM embeddings WHERE model = ?`, model)
	if err != nil {
		return 0, fmt.Errorf("failed to list embedding cache: %w", err)
	}
	var stale []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			_ = rows.Close()
			return 0, err
		}
		if !keep[h] {
			stale = append(stale, h)
		}
	}
	if err := rows.Close(); err != nil {
		return 0, err
	}

	for _, h := range stale {
		if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE hash = ? AND model = ?`, h, model); err != nil {
			return 0, fmt.Errorf("failed to prune embedding cache: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return removed + int64(len(stale)), nil
}

// Count returns the number of cached embeddings.
func (c *EmbeddingCache) Count(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, fmt.Errorf("embedding cache is closed")
	}
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings`).Scan(&n)
	return n, err
}

// Close closes the database.
func (c *EmbeddingCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.db.Close()
}

// encodeVector packs float32s little-endian.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte, dims int) ([]float32, bool) {
	if len(b) != 4*dims {
		return nil, false
	}
	v := make([]float32, dims)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, true
}
