package feed

import (
	"sync"
	"time"

	"github.com/gratialabs/gratia/internal/entity"
)

// DefaultFreshTTL bounds how long a cached entity answers reads without a
// refetch being permitted.
const DefaultFreshTTL = 120 * time.Second

type cacheKey struct {
	kind entity.Kind
	id   entity.ID
}

type cacheEntry struct {
	value     any
	fetchedAt time.Time
}

// Cache holds the latest known value per (kind, id) with a freshness stamp.
// Staleness never evicts a value; it only permits a refetch. Entries are only
// dropped wholesale by Clear during session teardown.
type Cache struct {
	mu      sync.RWMutex
	entries map[cacheKey]cacheEntry
	clock   func() time.Time
}

// NewCache constructs an empty cache. A nil clock defaults to time.Now.
func NewCache(clock func() time.Time) *Cache {
	if clock == nil {
		clock = time.Now
	}
	return &Cache{
		entries: make(map[cacheKey]cacheEntry),
		clock:   clock,
	}
}

// Get returns the cached value for the entity, if any.
func (c *Cache) Get(kind entity.Kind, id entity.ID) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[cacheKey{kind: kind, id: id}]
	if !ok {
		return nil, false
	}
	return entry.value, true
}

// Put overwrites the cached value and re-stamps its freshness.
func (c *Cache) Put(kind entity.Kind, id entity.ID, value any) {
	c.mu.Lock()
	c.entries[cacheKey{kind: kind, id: id}] = cacheEntry{
		value:     value,
		fetchedAt: c.clock(),
	}
	c.mu.Unlock()
}

// Merge shallow-merges the update into the existing value, creating one from
// the kind's default when absent, and re-stamps freshness. Fields absent from
// a partial update are kept unchanged, never cleared: profile fields and
// follow state arrive on different network calls at different times.
func (c *Cache) Merge(kind entity.Kind, id entity.ID, update any) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey{kind: kind, id: id}
	existing := any(nil)
	if entry, ok := c.entries[key]; ok {
		existing = entry.value
	} else {
		existing = entity.DefaultValue(kind, id)
	}

	merged, err := entity.ApplyPartial(kind, existing, update)
	if err != nil {
		return nil, err
	}
	c.entries[key] = cacheEntry{value: merged, fetchedAt: c.clock()}
	return merged, nil
}

// IsFresh reports whether the cached entry exists and was stamped within ttl.
func (c *Cache) IsFresh(kind entity.Kind, id entity.ID, ttl time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[cacheKey{kind: kind, id: id}]
	if !ok {
		return false
	}
	return c.clock().Sub(entry.fetchedAt) < ttl
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear drops every entry. Used by the session teardown sweep.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[cacheKey]cacheEntry)
	c.mu.Unlock()
}
