package feed

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/clipfeed/ranker/internal/cache"
)

// Fingerprint hashes the request inputs that determine a page. Exclusions
// are sorted first so the key is order-independent.
func Fingerprint(req PageRequest) string {
	excludes := make([]string, 0, len(req.ExcludePostIDs))
	for _, id := range req.ExcludePostIDs {
		excludes = append(excludes, id.String())
	}
	sort.Strings(excludes)

	parts := make([]string, 0, len(excludes)+4)
	parts = append(parts,
		req.ViewerID.String(),
		strconv.Itoa(req.PageSize),
		req.SessionID,
		strconv.Itoa(req.RefreshNonce),
	)
	parts = append(parts, excludes...)
	return cache.HashKey(parts...)
}

// PageCache is the short-TTL page cache keyed by request fingerprint.
// Lookup failures are bypassed, never surfaced.
type PageCache interface {
	Get(ctx context.Context, key string) (*PageResponse, bool)
	Set(ctx context.Context, key string, page *PageResponse)
}

// memoryPageCache is the default backend: a process-local map with
// per-entry TTL, the only mutable shared state in the ranker.
type memoryPageCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	page      PageResponse
	expiresAt time.Time
}

// NewMemoryPageCache creates an in-process page cache with the given TTL
func NewMemoryPageCache(ttl time.Duration) PageCache {
	return &memoryPageCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

func (c *memoryPageCache) Get(_ context.Context, key string) (*PageResponse, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; another request may have refreshed it.
		if cur, ok := c.entries[key]; ok && c.now().After(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	page := entry.page
	return &page, true
}

func (c *memoryPageCache) Set(_ context.Context, key string, page *PageResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{page: *page, expiresAt: c.now().Add(c.ttl)}

	// Opportunistic sweep keeps the map from accumulating dead fingerprints.
	if len(c.entries) > 4096 {
		now := c.now()
		for k, e := range c.entries {
			if now.After(e.expiresAt) {
				delete(c.entries, k)
			}
		}
	}
}

// redisPageCache is the optional distributed backend
type redisPageCache struct {
	cache  *cache.Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisPageCache creates a page cache backed by the shared Redis client
func NewRedisPageCache(c *cache.Cache, ttl time.Duration, logger *zap.Logger) PageCache {
	return &redisPageCache{
		cache:  c,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "page-cache")),
	}
}

func (c *redisPageCache) Get(ctx context.Context, key string) (*PageResponse, bool) {
	var page PageResponse
	if err := c.cache.GetJSON(ctx, "page:"+key, &page); err != nil {
		if err != cache.ErrCacheMiss && err != cache.ErrCacheDisabled {
			c.logger.Warn("page cache read failed, bypassing", zap.Error(err))
		}
		return nil, false
	}
	return &page, true
}

func (c *redisPageCache) Set(ctx context.Context, key string, page *PageResponse) {
	if err := c.cache.SetJSON(ctx, "page:"+key, page, c.ttl); err != nil && err != cache.ErrCacheDisabled {
		c.logger.Warn("page cache write failed", zap.Error(err))
	}
}
