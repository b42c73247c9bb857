package cache

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/omnix-ai/recall-go/pkg/memory"
)

// Bundle is a cached set of retrieved memories for one owner/conversation,
// together with the topic keywords that justified caching it.
type Bundle struct {
	Memories []*memory.Memory `json:"memories"`
	Keywords []string         `json:"keywords"`
	StoredAt time.Time        `json:"stored_at"`
}

// NewestMemoryTime returns the most recent access or creation time across
// the bundle's memories. Zero if the bundle is empty.
func (b *Bundle) NewestMemoryTime() time.Time {
	var newest time.Time
	for _, m := range b.Memories {
		t := m.LastAccessedAt
		if m.CreatedAt.After(t) {
			t = m.CreatedAt
		}
		if t.After(newest) {
			newest = t
		}
	}
	return newest
}

// Entry wraps a cached bundle with its bookkeeping fields.
type Entry struct {
	Key         string
	Bundle      *Bundle
	InsertedAt  time.Time
	TTL         time.Duration
	AccessCount int

	lastAccess time.Time
}

// BundleCacheConfig configures a BundleCache.
type BundleCacheConfig struct {
	// MaxEntries bounds the local tier (default 1000).
	MaxEntries int

	// TTL is the entry lifetime (default 1h).
	TTL time.Duration

	// Redis is the optional remote tier. Nil means local-only.
	Redis *redis.Client

	// RemoteTimeout is the hard deadline raced against every remote call
	// before falling back to the local tier (default 2000 ms).
	RemoteTimeout time.Duration

	// KeyPrefix namespaces remote keys (default "recall:bundle:").
	KeyPrefix string

	// Logger receives degradation warnings.
	Logger *logrus.Logger
}

// BundleCache is the combined local+remote cache backing the fast-path check
// in context assembly.
//
// Reads consult the local tier first, then race the Redis tier against a
// hard timeout. Writes land locally synchronously and remotely as a
// best-effort side write, so a remote read immediately after a write may
// miss. Redis being down never fails a caller.
type BundleCache struct {
	mu    sync.Mutex
	local map[string]*Entry

	maxEntries    int
	ttl           time.Duration
	remote        *redis.Client
	remoteTimeout time.Duration
	keyPrefix     string
	logger        *logrus.Logger
}

// NewBundleCache creates a BundleCache from cfg.
func NewBundleCache(cfg BundleCacheConfig) *BundleCache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1000
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.RemoteTimeout <= 0 {
		cfg.RemoteTimeout = 2000 * time.Millisecond
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "recall:bundle:"
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	return &BundleCache{
		local:         make(map[string]*Entry),
		maxEntries:    cfg.MaxEntries,
		ttl:           cfg.TTL,
		remote:        cfg.Redis,
		remoteTimeout: cfg.RemoteTimeout,
		keyPrefix:     cfg.KeyPrefix,
		logger:        cfg.Logger,
	}
}

// Get returns the cached bundle for key, consulting local then remote.
func (c *BundleCache) Get(ctx context.Context, key string) (*Bundle, bool) {
	if b, ok := c.getLocal(key); ok {
		return b, true
	}

	if c.remote == nil {
		return nil, false
	}

	// Remote tier raced against a hard timeout; timeout or error is a miss.
	rctx, cancel := context.WithTimeout(ctx, c.remoteTimeout)
	defer cancel()

	data, err := c.remote.Get(rctx, c.keyPrefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.WithField("key", key).Debugf("bundle cache remote get degraded: %v", err)
		}
		return nil, false
	}

	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		c.logger.WithField("key", key).Warnf("bundle cache remote entry corrupt: %v", err)
		return nil, false
	}

	c.setLocal(key, &b)
	return &b, true
}

// Set stores the bundle locally and pushes it to the remote tier as a
// best-effort side write.
func (c *BundleCache) Set(ctx context.Context, key string, b *Bundle) {
	c.setLocal(key, b)

	if c.remote == nil {
		return
	}

	data, err := json.Marshal(b)
	if err != nil {
		c.logger.WithField("key", key).Warnf("bundle cache marshal failed: %v", err)
		return
	}

	remote, prefix, ttl := c.remote, c.keyPrefix, c.ttl
	BestEffort(c.logger, "bundle_cache_set", c.remoteTimeout, func(ctx context.Context) error {
		return remote.Set(ctx, prefix+key, data, ttl).Err()
	})
}

// Invalidate removes every entry whose key starts with prefix, locally and
// (best-effort) remotely.
func (c *BundleCache) Invalidate(ctx context.Context, prefix string) {
	c.mu.Lock()
	for k := range c.local {
		if strings.HasPrefix(k, prefix) {
			delete(c.local, k)
		}
	}
	c.mu.Unlock()

	if c.remote == nil {
		return
	}

	remote, keyPrefix, timeout := c.remote, c.keyPrefix, c.remoteTimeout
	BestEffort(c.logger, "bundle_cache_invalidate", timeout, func(ctx context.Context) error {
		iter := remote.Scan(ctx, 0, keyPrefix+prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			if err := remote.Del(ctx, iter.Val()).Err(); err != nil {
				return err
			}
		}
		return iter.Err()
	})
}

func (c *BundleCache) getLocal(key string) (*Bundle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.local[key]
	if !ok {
		return nil, false
	}
	if time.Since(e.InsertedAt) > e.TTL {
		delete(c.local, key)
		return nil, false
	}

	e.AccessCount++
	e.lastAccess = time.Now()
	return e.Bundle, true
}

func (c *BundleCache) setLocal(key string, b *Bundle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	c.local[key] = &Entry{
		Key:        key,
		Bundle:     b,
		InsertedAt: now,
		TTL:        c.ttl,
		lastAccess: now,
	}

	// LRU bound: evict the least recently used entry when over capacity.
	for len(c.local) > c.maxEntries {
		var oldestKey string
		var oldest time.Time
		for k, e := range c.local {
			if oldestKey == "" || e.lastAccess.Before(oldest) {
				oldestKey = k
				oldest = e.lastAccess
			}
		}
		delete(c.local, oldestKey)
	}
}
