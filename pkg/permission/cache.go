package permission

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// CachedResolver wraps another Resolver with a per-identity TTL cache.
// The TTL must stay shorter than the session lifetime: it bounds how
// stale a fresh session's snapshot can be without re-querying the
// backend on every creation.
type CachedResolver struct {
	inner Resolver
	ttl   time.Duration
	now   func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	set       Set
	fetchedAt time.Time
}

// NewCachedResolver creates a caching resolver around inner.
func NewCachedResolver(inner Resolver, ttl time.Duration) *CachedResolver {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedResolver{
		inner:   inner,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// Resolve returns the cached set when fresh, otherwise queries the inner
// resolver. A backend failure past the TTL yields the empty set, never a
// stale grant.
func (c *CachedResolver) Resolve(ctx context.Context, identity string) (Set, error) {
	now := c.now()

	c.mu.RLock()
	entry, ok := c.entries[identity]
	c.mu.RUnlock()

	if ok && now.Sub(entry.fetchedAt) < c.ttl {
		return entry.set.Clone(), nil
	}

	set, err := c.inner.Resolve(ctx, identity)
	if err != nil {
		log.Warn().
			Str("identity", identity).
			Err(err).
			Msg("Permission resolution failed, degrading to empty capability set")
		return NewSet(), err
	}

	c.mu.Lock()
	c.entries[identity] = cacheEntry{set: set.Clone(), fetchedAt: now}
	c.mu.Unlock()

	return set, nil
}

// Invalidate drops the cached entry for identity.
func (c *CachedResolver) Invalidate(identity string) {
	c.mu.Lock()
	delete(c.entries, identity)
	c.mu.Unlock()
}

// Purge drops every cached entry older than the TTL.
func (c *CachedResolver) Purge() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for identity, entry := range c.entries {
		if now.Sub(entry.fetchedAt) >= c.ttl {
			delete(c.entries, identity)
			removed++
		}
	}
	return removed
}

// Len returns the number of cached entries.
func (c *CachedResolver) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
