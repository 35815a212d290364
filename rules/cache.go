package rules

import (
	"context"
	"time"
)

// RulesCache caches the resolved rule list of each pack.
// This allows swapping between in-memory, Redis, or other caching implementations
type RulesCache interface {
	// Get returns the cached rules for a pack, or nil on a miss or expiry
	Get(packID string) []*Rule

	// Set stores the resolved rules for a pack
	Set(packID string, rules []*Rule)

	// Invalidate drops one pack's entry
	Invalidate(packID string)

	// InvalidateAll clears every entry
	InvalidateAll()
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL is the time-to-live for cached entries
	// Set to 0 for no expiration (manual invalidation only)
	TTL time.Duration
}

// DefaultCacheConfig returns the default: entries live for one minute.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL: time.Minute,
	}
}

// CachedStore wraps a Store and serves LookupRulesForPack from a RulesCache.
// The other lookups go straight to the wrapped store.
type CachedStore struct {
	Store
	cache RulesCache
}

// NewCachedStore wraps store with cache.
func NewCachedStore(store Store, cache RulesCache) *CachedStore {
	return &CachedStore{Store: store, cache: cache}
}

func (s *CachedStore) LookupRulesForPack(ctx context.Context, pack *Pack) ([]*Rule, error) {
	if cached := s.cache.Get(pack.ID); cached != nil {
		return cached, nil
	}

	resolved, err := s.Store.LookupRulesForPack(ctx, pack)
	if err != nil {
		return nil, err
	}
	s.cache.Set(pack.ID, resolved)
	return resolved, nil
}
