package cache

import (
	"sync"
	"time"
)

// Cache is a keyed store with per-entry expiry.
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V, ttl time.Duration)
	// Add stores value only if key is absent or expired and reports whether it did.
	Add(key K, value V, ttl time.Duration) bool
	// TTL returns the remaining lifetime of a live entry.
	TTL(key K) (time.Duration, bool)
	Delete(key K)
	Len() int
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

type Option func(*options)

type options struct {
	now        func() time.Time
	sweepEvery int
}

// WithNow overrides the time source.
func WithNow(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithSweepEvery drops expired entries every n writes.
func WithSweepEvery(n int) Option {
	return func(o *options) { o.sweepEvery = n }
}

type ttlCache[K comparable, V any] struct {
	mu         sync.Mutex
	items      map[K]entry[V]
	now        func() time.Time
	sweepEvery int
	writes     int
}

// NewTTLCache returns an in-memory Cache. Expired entries are dropped on read
// and periodically on write.
func NewTTLCache[K comparable, V any](opts ...Option) Cache[K, V] {
	o := options{now: time.Now, sweepEvery: 256}
	for _, opt := range opts {
		opt(&o)
	}
	return &ttlCache[K, V]{
		items:      map[K]entry[V]{},
		now:        o.now,
		sweepEvery: o.sweepEvery,
	}
}

func (c *ttlCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.live(key)
	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *ttlCache[K, V]) Set(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store(key, value, ttl)
}

func (c *ttlCache[K, V]) Add(key K, value V, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.live(key); ok {
		return false
	}
	c.store(key, value, ttl)
	return true
}

func (c *ttlCache[K, V]) TTL(key K) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.live(key)
	if !ok {
		return 0, false
	}
	return e.expiresAt.Sub(c.now()), true
}

func (c *ttlCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

func (c *ttlCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweep()
	return len(c.items)
}

// live must be called with mu held.
func (c *ttlCache[K, V]) live(key K) (entry[V], bool) {
	e, ok := c.items[key]
	if !ok {
		return e, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.items, key)
		return e, false
	}
	return e, true
}

func (c *ttlCache[K, V]) store(key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		delete(c.items, key)
		return
	}
	c.items[key] = entry[V]{value: value, expiresAt: c.now().Add(ttl)}
	c.writes++
	if c.sweepEvery > 0 && c.writes%c.sweepEvery == 0 {
		c.sweep()
	}
}

func (c *ttlCache[K, V]) sweep() {
	now := c.now()
	for k, e := range c.items {
		if !now.Before(e.expiresAt) {
			delete(c.items, k)
		}
	}
}
