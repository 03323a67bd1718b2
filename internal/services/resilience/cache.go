package resilience

import (
	"context"
	"sync"
	"time"

	"qrsafe/internal/domain"
)

type cached struct {
	v       domain.ReputationVerdict
	expires time.Time
}

// MemoryCache is an in-process TTL cache of reputation verdicts.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]cached
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]cached), now: time.Now}
}

// WithClock replaces the cache clock (for testing).
func (c *MemoryCache) WithClock(fn func() time.Time) *MemoryCache {
	c.now = fn
	return c
}

func (c *MemoryCache) Get(_ context.Context, key string) (domain.ReputationVerdict, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return domain.ReputationVerdict{}, false
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, key)
		return domain.ReputationVerdict{}, false
	}
	return e.v, true
}

func (c *MemoryCache) Put(_ context.Context, key string, v domain.ReputationVerdict, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cached{v: v, expires: c.now().Add(ttl)}
}

// Purge drops expired entries and returns how many were removed.
func (c *MemoryCache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}
