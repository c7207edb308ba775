// Package cache provides a generic, thread-safe LRU cache with per-entry TTL.
//
// It backs short-lived read caches such as entitlement decisions, where a few
// seconds of staleness is acceptable and memory must stay bounded.
//
//	c := cache.NewLRUCache[string, Decision](10_000, 5*time.Second)
//	c.Put(key, decision)
//	if d, ok := c.Get(key); ok {
//		return d
//	}
//
// Get, Put and Remove are O(1). Expired entries are removed lazily on access
// or when pushed out by newer entries.
package cache
