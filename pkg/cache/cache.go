// Package cache provides a small read-through value cache refreshed on a TTL
// or by explicit invalidation.
package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Loader produces a fresh value.
type Loader[T any] func(ctx context.Context) (T, error)

// Cache holds one value of T. Concurrent Get calls that miss share a single
// Loader call.
type Cache[T any] struct {
	load Loader[T]
	ttl  time.Duration
	now  func() time.Time

	mu       sync.RWMutex
	value    T
	loadedAt time.Time
	valid    bool
	gen      uint64

	group singleflight.Group
}

// Option applies a configuration option to the Cache.
type Option[T any] func(*Cache[T])

// WithTTL sets how long a loaded value is served before reloading.
// Zero keeps values until Invalidate.
func WithTTL[T any](ttl time.Duration) Option[T] {
	return func(c *Cache[T]) {
		if ttl >= 0 {
			c.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock[T any](now func() time.Time) Option[T] {
	return func(c *Cache[T]) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a Cache around load.
func New[T any](load Loader[T], opts ...Option[T]) *Cache[T] {
	c := &Cache[T]{
		load: load,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value, loading it when missing, stale or invalidated.
func (c *Cache[T]) Get(ctx context.Context) (T, error) {
	c.mu.RLock()
	if c.fresh() {
		v := c.value
		c.mu.RUnlock()
		return v, nil
	}
	gen := c.gen
	c.mu.RUnlock()

	// Callers that arrive after an Invalidate start a new flight.
	v, err, _ := c.group.Do(strconv.FormatUint(gen, 10), func() (interface{}, error) {
		val, err := c.load(context.WithoutCancel(ctx))
		if err != nil {
			return val, err
		}
		c.mu.Lock()
		// an Invalidate during the load wins; the value is still returned
		if c.gen == gen {
			c.value = val
			c.loadedAt = c.now()
			c.valid = true
		}
		c.mu.Unlock()
		return val, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	res, _ := v.(T)
	return res, nil
}

// Invalidate drops the cached value; the next Get reloads.
func (c *Cache[T]) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.gen++
	c.mu.Unlock()
}

// fresh reports whether the cached value can be served. Callers hold mu.
func (c *Cache[T]) fresh() bool {
	if !c.valid {
		return false
	}
	if c.ttl == 0 {
		return true
	}
	return c.now().Sub(c.loadedAt) < c.ttl
}
