package entitlement

import (
	"sync"
	"time"
)

// Cache holds recent entitlement answers.
type Cache interface {
	// Get returns the cached entitlement and true if present and fresh
	Get(accountID string) (Entitlement, bool)

	// Set stores an entitlement with TTL
	Set(accountID string, ent Entitlement, ttl time.Duration)

	// Invalidate removes an account's entry
	Invalidate(accountID string)
}

// NoopCache is a cache implementation that does nothing.
// Used when caching is disabled.
type NoopCache struct{}

func (NoopCache) Get(string) (Entitlement, bool)           { return Entitlement{}, false }
func (NoopCache) Set(string, Entitlement, time.Duration) {}
func (NoopCache) Invalidate(string)                      {}

type cacheEntry struct {
	value      Entitlement
	expiration time.Time
}

// TTLCache is a bounded in-memory cache. When full, expired entries are dropped
// first and then the entry closest to expiry.
type TTLCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	max     int
	now     func() time.Time
}

// NewTTLCache creates a cache holding at most maxEntries accounts (default 10000).
func NewTTLCache(maxEntries int) *TTLCache {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &TTLCache{
		entries: make(map[string]cacheEntry),
		max:     maxEntries,
		now:     time.Now,
	}
}

func (c *TTLCache) Get(accountID string) (Entitlement, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[accountID]
	if !ok {
		return Entitlement{}, false
	}
	if c.now().After(entry.expiration) {
		delete(c.entries, accountID)
		return Entitlement{}, false
	}
	return entry.value.clone(), true
}

func (c *TTLCache) Set(accountID string, ent Entitlement, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.entries[accountID]; !exists && len(c.entries) >= c.max {
		c.evict(now)
	}
	c.entries[accountID] = cacheEntry{value: ent.clone(), expiration: now.Add(ttl)}
}

func (c *TTLCache) Invalidate(accountID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, accountID)
}

// Len returns the number of stored entries, including expired ones not yet evicted.
func (c *TTLCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *TTLCache) evict(now time.Time) {
	var oldestKey string
	var oldest time.Time
	for key, entry := range c.entries {
		if now.After(entry.expiration) {
			delete(c.entries, key)
			continue
		}
		if oldestKey == "" || entry.expiration.Before(oldest) {
			oldestKey = key
			oldest = entry.expiration
		}
	}
	if len(c.entries) >= c.max && oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
