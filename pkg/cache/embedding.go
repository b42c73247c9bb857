// Package cache provides the process-local caches fronting the embedding
// provider and the retrieval pipeline, plus an optional Redis tier for
// cached memory bundles. Every path degrades to local-only operation when
// Redis is absent or unhealthy.
package cache

import (
	"time"

	"github.com/dgraph-io/ristretto"
)

// EmbeddingCache is a bounded, TTL-expiring cache mapping input text to its
// embedding vector. It is safe for concurrent use.
//
// Writes are buffered by the underlying cache, so a read immediately
// following a write may miss; callers must treat a miss as "recompute", never
// as an error.
type EmbeddingCache struct {
	cache *ristretto.Cache
	ttl   time.Duration
}

// NewEmbeddingCache creates an embedding cache holding at most maxEntries
// vectors, each expiring after ttl. maxEntries defaults to 1000 and ttl to
// one hour when zero.
func NewEmbeddingCache(maxEntries int64, ttl time.Duration) (*EmbeddingCache, error) {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	if ttl <= 0 {
		ttl = time.Hour
	}

	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}

	return &EmbeddingCache{cache: c, ttl: ttl}, nil
}

// Get returns the cached embedding for text, if present.
func (c *EmbeddingCache) Get(text string) ([]float64, bool) {
	v, ok := c.cache.Get(text)
	if !ok {
		return nil, false
	}
	vec, ok := v.([]float64)
	return vec, ok
}

// Set stores the embedding for text. The stored vector is always the raw
// provider output; ranking boosts are never written back here.
func (c *EmbeddingCache) Set(text string, embedding []float64) {
	c.cache.SetWithTTL(text, embedding, 1, c.ttl)
}

// Wait blocks until buffered writes are applied. Intended for tests.
func (c *EmbeddingCache) Wait() {
	c.cache.Wait()
}

// Close releases the cache's resources.
func (c *EmbeddingCache) Close() {
	c.cache.Close()
}
