// ABOUTME: Thread-safe TTL cache of responses keyed by idempotency key.
// ABOUTME: Lets block submissions be retried without running the block twice.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// Defaults used by the HTTP API.
const (
	DefaultTTL     = 24 * time.Hour
	DefaultMaxSize = 10000
)

// Response is a stored result for a key.
type Response struct {
	Status int
	Body   []byte
}

// State is the outcome of Reserve.
type State int

const (
	// Reserved means the key was free and the caller must Complete or Release it.
	Reserved State = iota
	// InProgress means another request holds the key.
	InProgress
	// Done means a stored response exists for the key.
	Done
)

// cacheEntry stores the timestamp, response and list element for a cached key.
type cacheEntry struct {
	timestamp time.Time
	response  *Response // nil while in progress
	element   *list.Element
}

// Cache is a thread-safe, TTL-based, size-limited cache of responses.
// Uses a doubly-linked list to maintain insertion order for O(1) eviction.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*cacheEntry
	order   *list.List // List of keys in insertion order (oldest at front)
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a cache with the specified TTL and maximum size.
// A background goroutine periodically cleans up expired entries.
func New(ttl time.Duration, maxSize int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	c := &Cache{
		seen:    make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Reserve atomically looks up key and claims it when it is free or expired.
// The stored response is returned with Done.
func (c *Cache) Reserve(key string) (State, *Response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.seen[key]; ok && c.now().Sub(entry.timestamp) < c.ttl {
		if entry.response == nil {
			return InProgress, nil
		}
		return Done, entry.response
	}

	c.putLocked(key, nil)
	return Reserved, nil
}

// Complete stores the response for a reserved key.
func (c *Cache) Complete(key string, resp Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putLocked(key, &resp)
}

// Release drops a reservation so the key can be retried.
func (c *Cache) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.seen[key]; ok && entry.response == nil {
		c.order.Remove(entry.element)
		delete(c.seen, key)
	}
}

// Len returns the number of entries, including expired ones not yet cleaned up.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// putLocked sets key, refreshing its timestamp. Must be called with mu held.
func (c *Cache) putLocked(key string, resp *Response) {
	now := c.now()

	// If key already exists, update it and move to back
	if entry, exists := c.seen[key]; exists {
		entry.timestamp = now
		entry.response = resp
		c.order.MoveToBack(entry.element)
		return
	}

	// Evict oldest if at capacity
	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.seen[key] = &cacheEntry{
		timestamp: now,
		response:  resp,
		element:   elem,
	}
}

// evictOldest removes the oldest entry from the cache.
// Must be called with mu held. O(1) operation using linked list.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (c *Cache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

// runCleanup removes all expired entries from the cache.
func (c *Cache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.seen {
		if now.Sub(entry.timestamp) > c.ttl {
			c.order.Remove(entry.element)
			delete(c.seen, key)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
