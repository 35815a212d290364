package rules

import (
	"sync"
	"time"
)

type cacheEntry struct {
	rules    []*Rule
	cachedAt time.Time
}

// InMemoryRulesCache is a simple in-memory implementation of RulesCache
// Thread-safe for concurrent access
type InMemoryRulesCache struct {
	entries map[string]cacheEntry
	config  CacheConfig
	now     func() time.Time
	mu      sync.RWMutex
}

// NewInMemoryRulesCache creates a new in-memory rules cache
func NewInMemoryRulesCache(config CacheConfig) *InMemoryRulesCache {
	return &InMemoryRulesCache{
		entries: make(map[string]cacheEntry),
		config:  config,
		now:     time.Now,
	}
}

// Get retrieves cached rules
// Returns nil if the entry is missing or expired
func (c *InMemoryRulesCache) Get(packID string) []*Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[packID]
	if !ok {
		return nil
	}

	if c.config.TTL > 0 && c.now().Sub(entry.cachedAt) > c.config.TTL {
		return nil
	}

	// Return copy to prevent external modifications
	rulesCopy := make([]*Rule, len(entry.rules))
	copy(rulesCopy, entry.rules)
	return rulesCopy
}

// Set stores rules in cache
func (c *InMemoryRulesCache) Set(packID string, rules []*Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Store copy to prevent external modifications
	stored := make([]*Rule, len(rules))
	copy(stored, rules)
	c.entries[packID] = cacheEntry{rules: stored, cachedAt: c.now()}
}

// Invalidate drops a single pack's entry
func (c *InMemoryRulesCache) Invalidate(packID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, packID)
}

// InvalidateAll clears the cache
func (c *InMemoryRulesCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]cacheEntry)
}
