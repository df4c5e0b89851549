/*
Package cache provides the key-value stores behind feed failure counters and
recent-save markers.

Every store offers per-key TTL and an atomic increment. The in-memory store
serves a single instance and tests, Badger persists counters on local disk,
and Cloud Datastore shares them across instances.
*/
package cache

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrStoreClosed is returned by operations on a closed store
var ErrStoreClosed = errors.New("store is closed")

// Store is a key-value store of TTL-bound counters and markers
type Store interface {
	// Get returns the counter stored at key, or 0 when absent or expired
	Get(ctx context.Context, key string) (int64, error)
	// Incr atomically increments the counter at key and resets its TTL
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Set stores an existence marker at key
	Set(ctx context.Context, key string, ttl time.Duration) error
	// Exists reports whether an unexpired entry is stored at key
	Exists(ctx context.Context, key string) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

// entry is a counter or marker with expiration
type entry struct {
	Count     int64     `json:"count"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (e *entry) expiredAt(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// InMemoryCache implements Store in process memory
type InMemoryCache struct {
	items map[string]*entry
	mutex sync.RWMutex
	now   func() time.Time

	closed bool
	stop   chan struct{}
}

// MemoryOption configures an InMemoryCache
type MemoryOption func(*InMemoryCache)

// WithMemoryClock sets the time source used for expiry
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(c *InMemoryCache) {
		c.now = now
	}
}

// NewInMemoryCache creates a new in-memory store that sweeps expired entries
// every cleanupInterval
func NewInMemoryCache(cleanupInterval time.Duration, opts ...MemoryOption) *InMemoryCache {
	c := &InMemoryCache{
		items: make(map[string]*entry),
		now:   time.Now,
		stop:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if cleanupInterval > 0 {
		go c.startCleanup(cleanupInterval)
	}

	return c
}

// Get retrieves a counter
func (c *InMemoryCache) Get(_ context.Context, key string) (int64, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if c.closed {
		return 0, ErrStoreClosed
	}

	item, exists := c.items[key]
	if !exists || item.expiredAt(c.now()) {
		return 0, nil
	}

	return item.Count, nil
}

// Incr increments a counter, starting from zero when absent or expired
func (c *InMemoryCache) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return 0, ErrStoreClosed
	}

	now := c.now()
	item, exists := c.items[key]
	if !exists || item.expiredAt(now) {
		item = &entry{}
		c.items[key] = item
	}
	item.Count++
	item.ExpiresAt = now.Add(ttl)

	return item.Count, nil
}

// Set stores a marker
func (c *InMemoryCache) Set(_ context.Context, key string, ttl time.Duration) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return ErrStoreClosed
	}

	c.items[key] = &entry{Count: 1, ExpiresAt: c.now().Add(ttl)}
	return nil
}

// Exists checks for an unexpired entry
func (c *InMemoryCache) Exists(_ context.Context, key string) (bool, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if c.closed {
		return false, ErrStoreClosed
	}

	item, exists := c.items[key]
	return exists && !item.expiredAt(c.now()), nil
}

// Ping reports whether the store is open
func (c *InMemoryCache) Ping(_ context.Context) error {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if c.closed {
		return ErrStoreClosed
	}
	return nil
}

// Len returns the number of stored entries, expired or not
func (c *InMemoryCache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return len(c.items)
}

// Close stops the cleanup loop and drops all entries
func (c *InMemoryCache) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.items = nil
	close(c.stop)
	return nil
}

// startCleanup periodically removes expired items
func (c *InMemoryCache) startCleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

// cleanup removes expired items
func (c *InMemoryCache) cleanup() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return
	}

	now := c.now()
	for key, item := range c.items {
		if item.expiredAt(now) {
			delete(c.items, key)
		}
	}
}
