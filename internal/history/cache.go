package history

import (
	"sync"
	"time"
)

// responseCache keeps recent batch responses so closely spaced refresh passes
// and single-item adds do not burn upstream quota.
type responseCache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]cacheEntry

	now func() time.Time
}

type cacheEntry struct {
	stats     map[string]RawStats
	expiresAt time.Time
}

func newResponseCache(ttl time.Duration) *responseCache {
	return &responseCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

func (c *responseCache) get(key string) (map[string]RawStats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.stats, true
}

func (c *responseCache) set(key string, stats map[string]RawStats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{stats: stats, expiresAt: c.now().Add(c.ttl)}
}

func (c *responseCache) delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}
