package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// evictBatchLimit caps how many expired entries a single lookup may
// evict, so one unlucky request is never charged for an unbounded
// cleanup pass.
const evictBatchLimit = 128

// Cache memoizes deterministic AI responses by a digest of the exact
// request payload.
//
// Keys are SHA-256 digests of the payload, so the cache stores a
// fixed-length key rather than the raw (potentially sensitive) prompt
// text. Entries are visible for the configured TTL and the table never
// holds more than MaxEntries; beyond the cap the oldest entries by
// creation time are dropped first.
//
// The cache is a pure optimization with no correctness dependency:
// callers must always be able to proceed on a miss, and full eviction
// only changes cost and latency, never outcome. It lives in local process
// memory, so it suppresses duplicate calls best-effort within one
// process; it is not a distributed de-duplication guarantee.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List // front = oldest, by creation time
	ttl        time.Duration
	maxEntries int

	hits   uint64
	misses uint64

	// now is injectable for deterministic tests.
	now func() time.Time
}

type entry struct {
	key       string
	payload   []byte
	createdAt time.Time
}

// New creates a cache with the given TTL and entry cap.
func New(ttl time.Duration, maxEntries int) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &Cache{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get returns the cached value for the request payload, if present and
// unexpired.
func (c *Cache) Get(payload []byte) ([]byte, bool) {
	key := digest(payload)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictLocked()

	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	e := el.Value.(*entry)
	if c.now().Sub(e.createdAt) >= c.ttl {
		c.removeLocked(el)
		c.misses++
		return nil, false
	}

	c.hits++
	return e.payload, true
}

// Set stores the value for the request payload, replacing any existing
// entry.
func (c *Cache) Set(payload, value []byte) {
	key := digest(payload)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictLocked()

	if el, ok := c.entries[key]; ok {
		c.removeLocked(el)
	}
	el := c.order.PushBack(&entry{key: key, payload: value, createdAt: c.now()})
	c.entries[key] = el

	// Enforce the cap including the entry just added.
	for len(c.entries) > c.maxEntries {
		c.removeLocked(c.order.Front())
	}
}

// Len returns the current number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns cumulative hit and miss counts.
func (c *Cache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// evictLocked drops expired entries (bounded per pass), then enforces the
// entry cap by removing the oldest entries. Entries are kept in creation
// order, so both walks start from the front. Caller must hold the lock.
func (c *Cache) evictLocked() {
	cutoff := c.now().Add(-c.ttl)

	evicted := 0
	for el := c.order.Front(); el != nil && evicted < evictBatchLimit; {
		e := el.Value.(*entry)
		if e.createdAt.After(cutoff) {
			break // everything behind is newer
		}
		next := el.Next()
		c.removeLocked(el)
		el = next
		evicted++
	}

	for len(c.entries) > c.maxEntries {
		el := c.order.Front()
		if el == nil {
			break
		}
		c.removeLocked(el)
	}
}

func (c *Cache) removeLocked(el *list.Element) {
	e := el.Value.(*entry)
	c.order.Remove(el)
	delete(c.entries, e.key)
}

// digest hashes a request payload to the fixed-length cache key.
func digest(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
