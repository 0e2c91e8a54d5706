package cache

import (
	"sync"
	"time"
)

// Options configures a cache
type Options struct {
	TTL         time.Duration // zero means entries never expire
	MaxItems    int           // zero means unbounded
	PurgeWindow time.Duration // zero disables the background janitor
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
	storedAt  time.Time
}

func (e entry[V]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Cache is a thread-safe in-memory cache with expiration
type Cache[V any] struct {
	mu    sync.RWMutex
	items map[string]entry[V]
	opts  Options
	now   func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a cache and starts its janitor when a purge window is set.
// Call Close to stop the janitor.
func New[V any](opts Options) *Cache[V] {
	c := &Cache[V]{
		items: make(map[string]entry[V]),
		opts:  opts,
		now:   time.Now,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}

	if opts.PurgeWindow > 0 {
		go c.janitor()
	} else {
		close(c.done)
	}
	return c
}

// Set stores value under key with the default TTL
func (c *Cache[V]) Set(key string, value V) {
	now := c.now()
	e := entry[V]{value: value, storedAt: now}
	if c.opts.TTL > 0 {
		e.expiresAt = now.Add(c.opts.TTL)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; !exists && c.opts.MaxItems > 0 && len(c.items) >= c.opts.MaxItems {
		c.evictOldestLocked()
	}
	c.items[key] = e
}

// Get returns the live value under key
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.items[key]
	if !ok || e.expired(c.now()) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Delete removes key
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, key)
}

// Len returns the number of stored entries, including expired ones not yet purged
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.items)
}

// Purge drops expired entries
func (c *Cache[V]) Purge() {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for k, e := range c.items {
		if e.expired(now) {
			delete(c.items, k)
		}
	}
}

// Close stops the janitor and waits for it to exit
func (c *Cache[V]) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
}

func (c *Cache[V]) janitor() {
	defer close(c.done)

	ticker := time.NewTicker(c.opts.PurgeWindow)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Purge()
		case <-c.stop:
			return
		}
	}
}

func (c *Cache[V]) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	first := true

	for k, e := range c.items {
		if first || e.storedAt.Before(oldest) {
			oldestKey, oldest, first = k, e.storedAt, false
		}
	}
	if !first {
		delete(c.items, oldestKey)
	}
}
