package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultLocalSize bounds the LRU when no size is configured.
const DefaultLocalSize = 1000

type entry struct {
	value     []byte
	expiresAt time.Time
}

// LRUCache is a size-bounded in-process cache with per-entry expiry.
// It is the community tier cache and L1 of the two-phase cache.
type LRUCache struct {
	items *lru.Cache[string, entry]
	size  int

	// now is the clock used for expiry.
	now func() time.Time
}

// NewLRUCache creates an LRU holding at most maxSize reports.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = DefaultLocalSize
	}
	// lru.New only fails for a non-positive size.
	items, _ := lru.New[string, entry](maxSize)
	return &LRUCache{items: items, size: maxSize, now: time.Now}
}

func localKey(tenantID, key string) string {
	return tenantID + ":" + key
}

// Get returns the value or nil when absent or expired.
func (c *LRUCache) Get(_ context.Context, tenantID string, key string) ([]byte, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	k := localKey(tenantID, key)
	e, ok := c.items.Get(k)
	if !ok {
		return nil, nil
	}
	if !c.now().Before(e.expiresAt) {
		c.items.Remove(k)
		return nil, nil
	}
	return e.value, nil
}

// Set stores value for ttl. A non-positive ttl removes the key.
func (c *LRUCache) Set(_ context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	k := localKey(tenantID, key)
	if ttl <= 0 {
		c.items.Remove(k)
		return nil
	}
	c.items.Add(k, entry{value: value, expiresAt: c.now().Add(ttl)})
	return nil
}

// Delete removes a value.
func (c *LRUCache) Delete(_ context.Context, tenantID string, key string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	c.items.Remove(localKey(tenantID, key))
	return nil
}

// Ping always succeeds.
func (c *LRUCache) Ping(context.Context) error {
	return nil
}

// Close drops every entry.
func (c *LRUCache) Close() error {
	c.items.Purge()
	return nil
}

// Stats returns the entry count and capacity.
func (c *LRUCache) Stats() (size int, capacity int) {
	return c.items.Len(), c.size
}
