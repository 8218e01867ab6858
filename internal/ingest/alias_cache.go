package ingest

import (
	"sync"
	"time"

	"github.com/ledgerkeep/receiptpipe/internal/domain/entity"
)

type cacheEntry struct {
	tenant  *entity.Tenant
	expires time.Time
}

// AliasCache is a TTL- and capacity-bounded alias→tenant map. The TTL is
// short so alias rotation takes effect quickly; Invalidate covers explicit
// regeneration events.
type AliasCache struct {
	ttl     time.Duration
	maxSize int

	mu      sync.Mutex
	entries map[string]cacheEntry

	now func() time.Time
}

// NewAliasCache creates a new alias cache
func NewAliasCache(ttl time.Duration, maxSize int) *AliasCache {
	return &AliasCache{
		ttl:     ttl,
		maxSize: maxSize,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// Get returns the cached tenant for an alias. Expired entries are removed
// lazily on access.
func (c *AliasCache) Get(alias string) (*entity.Tenant, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[alias]
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expires) {
		delete(c.entries, alias)
		return nil, false
	}
	return entry.tenant, true
}

// Put caches a resolved alias. At capacity, expired entries are evicted
// first, then the entry closest to expiry.
func (c *AliasCache) Put(alias string, tenant *entity.Tenant) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[alias]; !exists && len(c.entries) >= c.maxSize {
		c.evictLocked()
	}
	c.entries[alias] = cacheEntry{tenant: tenant, expires: c.now().Add(c.ttl)}
}

// Invalidate drops an alias, forcing the next resolution to hit the store.
func (c *AliasCache) Invalidate(alias string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, alias)
}

func (c *AliasCache) evictLocked() {
	now := c.now()
	var oldestKey string
	var oldestExpiry time.Time
	for key, entry := range c.entries {
		if now.After(entry.expires) {
			delete(c.entries, key)
			return
		}
		if oldestKey == "" || entry.expires.Before(oldestExpiry) {
			oldestKey = key
			oldestExpiry = entry.expires
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
