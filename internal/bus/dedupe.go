package bus

import (
	"sync"
	"time"
)

// DedupeCache remembers recently seen message IDs so redelivered webhooks
// and long-poll retries are processed once. Entries expire after the TTL;
// when the cache is full the oldest entries are evicted first.
type DedupeCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	seen    map[string]time.Time
}

// NewDedupeCache creates a cache holding at most maxSize IDs for ttl each.
func NewDedupeCache(ttl time.Duration, maxSize int) *DedupeCache {
	return &DedupeCache{
		ttl:     ttl,
		maxSize: maxSize,
		seen:    make(map[string]time.Time),
	}
}

// IsDuplicate reports whether id has been seen within the TTL and records
// it either way. An empty id is never considered a duplicate.
func (c *DedupeCache) IsDuplicate(id string) bool {
	if id == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if at, ok := c.seen[id]; ok && now.Sub(at) < c.ttl {
		c.seen[id] = now
		return true
	}

	if len(c.seen) >= c.maxSize {
		c.evictLocked(now)
	}
	c.seen[id] = now
	return false
}

// evictLocked drops expired entries, then the oldest live ones until the
// cache is under capacity. Caller holds c.mu.
func (c *DedupeCache) evictLocked(now time.Time) {
	for id, at := range c.seen {
		if now.Sub(at) >= c.ttl {
			delete(c.seen, id)
		}
	}
	for len(c.seen) >= c.maxSize {
		var oldestID string
		var oldestAt time.Time
		for id, at := range c.seen {
			if oldestID == "" || at.Before(oldestAt) {
				oldestID, oldestAt = id, at
			}
		}
		delete(c.seen, oldestID)
	}
}

// Len returns the number of tracked IDs, expired or not.
func (c *DedupeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}
