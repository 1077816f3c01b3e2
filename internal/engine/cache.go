package engine

import (
	"sync"
	"time"

	"github.com/rawblock/pattern-engine/pkg/models"
)

// Cache stores analysis results by composite request key. Implementations
// must be safe for concurrent use.
type Cache interface {
	Get(key string) (models.PatternAnalysisResult, bool)
	Set(key string, value models.PatternAnalysisResult)
	Clear()
	Len() int
}

type cacheEntry struct {
	value      models.PatternAnalysisResult
	insertedAt time.Time
}

// MemoryCache is an in-process TTL cache. Expired entries are dropped lazily
// on read. Values are deep-copied on the way in and out, so callers own what
// they get back.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(key string) (models.PatternAnalysisResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return models.PatternAnalysisResult{}, false
	}
	if c.expired(e) {
		delete(c.entries, key)
		return models.PatternAnalysisResult{}, false
	}
	return e.value.Clone(), true
}

func (c *MemoryCache) Set(key string, value models.PatternAnalysisResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value.Clone(), insertedAt: c.now()}
}

func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

// Len returns the number of live entries, pruning expired ones.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if c.expired(e) {
			delete(c.entries, k)
		}
	}
	return len(c.entries)
}

func (c *MemoryCache) expired(e cacheEntry) bool {
	return c.ttl > 0 && c.now().Sub(e.insertedAt) >= c.ttl
}
