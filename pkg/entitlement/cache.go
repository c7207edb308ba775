package entitlement

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/speakbill/pkg/cache"
	"github.com/dmitrymomot/speakbill/pkg/plan"
)

type cacheKey struct {
	userID  uuid.UUID
	feature plan.Feature
}

// CachedResolver memoizes decisions for a short TTL. Only successful
// decisions are cached; a lookup error is returned and retried next call.
type CachedResolver struct {
	next  Checker
	cache *cache.LRUCache[cacheKey, Decision]
}

// NewCachedResolver wraps next with an LRU cache of size entries that expire
// after ttl. A subscription change becomes visible within ttl.
func NewCachedResolver(next Checker, ttl time.Duration, size int, opts ...cache.Option) *CachedResolver {
	return &CachedResolver{
		next:  next,
		cache: cache.NewLRUCache[cacheKey, Decision](size, ttl, opts...),
	}
}

// Check implements Checker.
func (c *CachedResolver) Check(ctx context.Context, userID uuid.UUID, feature plan.Feature) (Decision, error) {
	key := cacheKey{userID: userID, feature: feature}
	if d, ok := c.cache.Get(key); ok {
		return d, nil
	}

	d, err := c.next.Check(ctx, userID, feature)
	if err != nil {
		return Decision{}, err
	}
	c.cache.Put(key, d)
	return d, nil
}

// Invalidate drops every cached decision for userID.
func (c *CachedResolver) Invalidate(userID uuid.UUID) {
	for _, f := range plan.Features() {
		c.cache.Remove(cacheKey{userID: userID, feature: f})
	}
}

// Purge drops every cached decision.
func (c *CachedResolver) Purge() {
	c.cache.Clear()
}
