package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultEmbeddingCacheSize bounds the in-memory vector cache.
const DefaultEmbeddingCacheSize = 2048

// CachedEmbedder keeps recently embedded texts in memory so repeated queries
// and repeated passages inside one batch reach the provider once. Returned
// vectors are copies; callers may normalize them in place.
type CachedEmbedder struct {
	inner  Embedder
	cache  *lru.Cache[string, []float32]
	hits   atomic.Int64
	misses atomic.Int64
}

// CacheStats counts lookups since the embedder was built.
type CacheStats struct {
	Hits   int64
	Misses int64
	Size   int
}

// NewCachedEmbedder wraps inner with an LRU of size entries.
func NewCachedEmbedder(inner Embedder, size int) *CachedEmbedder {
	if size <= 0 {
		size = DefaultEmbeddingCacheSize
	}
	cache, _ := lru.New[string, []float32](size)
	return &CachedEmbedder{inner: inner, cache: cache}
}

func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(c.inner.ModelName() + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

// Embed implements Embedder.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch implements Embedder. Texts already cached, or repeated earlier in
// the batch, are not sent.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	keys := make([]string, len(texts))
	pending := make(map[string][]int)
	var send []string
	for i, text := range texts {
		keys[i] = c.key(text)
		if vec, ok := c.cache.Get(keys[i]); ok {
			out[i] = slices.Clone(vec)
			c.hits.Add(1)
			continue
		}
		if _, queued := pending[keys[i]]; !queued {
			send = append(send, text)
		}
		pending[keys[i]] = append(pending[keys[i]], i)
	}
	if len(send) == 0 {
		return out, nil
	}
	c.misses.Add(int64(len(send)))

	vecs, err := c.inner.EmbedBatch(ctx, send)
	if err != nil {
		return nil, err
	}
	for j, text := range send {
		k := c.key(text)
		c.cache.Add(k, vecs[j])
		for _, i := range pending[k] {
			out[i] = slices.Clone(vecs[j])
		}
	}
	return out, nil
}

// Stats reports hits, misses and current size.
func (c *CachedEmbedder) Stats() CacheStats {
	return CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load(), Size: c.cache.Len()}
}

func (c *CachedEmbedder) Dimensions() int                    { return c.inner.Dimensions() }
func (c *CachedEmbedder) ModelName() string                  { return c.inner.ModelName() }
func (c *CachedEmbedder) Available(ctx context.Context) bool { return c.inner.Available(ctx) }

// Inner returns the wrapped embedder.
func (c *CachedEmbedder) Inner() Embedder { return c.inner }

// Close drops the cache and closes the wrapped embedder.
func (c *CachedEmbedder) Close() error {
	c.cache.Purge()
	return c.inner.Close()
}
