// Package ttlcache provides a small generic cache whose entries become
// invalid once they reach a fixed age, regardless of how often they are read.
package ttlcache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxEntries bounds a cache constructed without WithMaxEntries.
const DefaultMaxEntries = 10_000

type entry[V any] struct {
	value    V
	storedAt time.Time
}

type options struct {
	now        func() time.Time
	maxEntries int
}

// Option configures a Cache.
type Option func(*options)

// WithClock overrides the time source. Tests use this to move time forward
// without sleeping.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithMaxEntries bounds the number of live entries. The least recently used
// entry is evicted once the bound is reached.
func WithMaxEntries(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxEntries = n
		}
	}
}

// Cache maps keys to values stamped with the time they were stored. An entry
// whose age is greater than or equal to the TTL is reported as absent.
type Cache[K comparable, V any] struct {
	mu    sync.RWMutex
	ttl   time.Duration
	now   func() time.Time
	items *lru.Cache[K, entry[V]]
}

// New creates a cache with the given TTL.
func New[K comparable, V any](ttl time.Duration, opts ...Option) *Cache[K, V] {
	o := options{now: time.Now, maxEntries: DefaultMaxEntries}
	for _, opt := range opts {
		opt(&o)
	}

	// lru.New only fails for a non-positive size, which options rule out.
	items, _ := lru.New[K, entry[V]](o.maxEntries)

	return &Cache[K, V]{
		ttl:   ttl,
		now:   o.now,
		items: items,
	}
}

// Get returns the value for key if it was stored less than TTL ago.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	var zero V

	e, ok := c.items.Get(key)
	if !ok {
		return zero, false
	}

	c.mu.RLock()
	ttl := c.ttl
	c.mu.RUnlock()

	if c.now().Sub(e.storedAt) >= ttl {
		c.evict(key, e.storedAt)
		return zero, false
	}
	return e.value, true
}

// evict removes key only if it still holds the entry stored at storedAt, so
// a concurrent Set is never discarded.
func (c *Cache[K, V]) evict(key K, storedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.items.Peek(key); ok && cur.storedAt.Equal(storedAt) {
		c.items.Remove(key)
	}
}

// Set stores value under key, stamped with the current time.
func (c *Cache[K, V]) Set(key K, value V) {
	now := c.now()

	c.mu.Lock()
	c.items.Add(key, entry[V]{value: value, storedAt: now})
	c.mu.Unlock()
}

// Delete removes a single entry.
func (c *Cache[K, V]) Delete(key K) {
	c.items.Remove(key)
}

// Purge removes every entry.
func (c *Cache[K, V]) Purge() {
	c.items.Purge()
}

// Len reports the number of stored entries, including ones that have expired
// but have not been read since.
func (c *Cache[K, V]) Len() int {
	return c.items.Len()
}

// TTL returns the current time-to-live.
func (c *Cache[K, V]) TTL() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ttl
}

// SetTTL replaces the time-to-live. Existing entries are judged against the
// new value on their next read; their timestamps are not touched.
func (c *Cache[K, V]) SetTTL(ttl time.Duration) {
	c.mu.Lock()
	c.ttl = ttl
	c.mu.Unlock()
}
