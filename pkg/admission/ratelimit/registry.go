package ratelimit

import (
	"sync"
	"time"
)

// sweepBatchLimit caps how many idle buckets a single sweep pass may
// remove, so cleanup work stays bounded even under adversarial key growth.
const sweepBatchLimit = 256

// Category contains token-bucket parameters for one request category.
type Category struct {
	// Capacity is the maximum burst size in tokens.
	Capacity float64

	// RefillRate is how many tokens are restored per second.
	RefillRate float64
}

// Decision is the outcome of a rate limit check.
type Decision struct {
	// Allowed indicates if the request may proceed.
	Allowed bool

	// RetryAfter is how long to wait before the next token is available
	// (only meaningful when Allowed is false).
	RetryAfter time.Duration
}

// Registry maintains per-(principal, category) token buckets.
//
// Buckets are created lazily and full on the first check for a key, and
// reclaimed after sitting idle for the configured TTL. Reclaiming a
// bucket only resets the principal to a full bucket; it is a memory
// bound, never a correctness concern.
//
// Checks are pure in-memory operations and never perform I/O. A missing
// category configuration admits the request.
type Registry struct {
	mu         sync.RWMutex
	buckets    map[string]*bucket
	categories map[string]Category
	idleTTL    time.Duration

	// now is injectable for deterministic tests.
	now func() time.Time
}

// NewRegistry creates a bucket registry for the given categories.
func NewRegistry(categories map[string]Category, idleTTL time.Duration) *Registry {
	if idleTTL <= 0 {
		idleTTL = 30 * time.Minute
	}
	return &Registry{
		buckets:    make(map[string]*bucket),
		categories: categories,
		idleTTL:    idleTTL,
		now:        time.Now,
	}
}

// Check consumes one token from the (principal, category) bucket.
//
// If the category has no configured limit the request is always allowed.
// Denials carry a retry-after hint; Check itself never returns an error.
func (r *Registry) Check(principal, category string) Decision {
	r.mu.RLock()
	cat, configured := r.categories[category]
	b := r.buckets[bucketKey(principal, category)]
	r.mu.RUnlock()

	if !configured {
		return Decision{Allowed: true}
	}

	if b == nil {
		b = r.getOrCreate(principal, category, cat)
	}

	allowed, retryAfter := b.take(r.now())
	return Decision{Allowed: allowed, RetryAfter: retryAfter}
}

// SetCategories replaces the category table. Existing buckets keep their
// old parameters until they are swept; new buckets use the new table.
func (r *Registry) SetCategories(categories map[string]Category) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.categories = categories
}

// Sweep removes buckets with no activity inside the idle TTL, up to the
// per-pass batch limit. It returns how many buckets were removed.
//
// Sweeping is advisory and best-effort; it holds the registry lock only
// for the scan itself and never blocks Check indefinitely.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.idleTTL)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, b := range r.buckets {
		if removed >= sweepBatchLimit {
			break
		}
		if b.idleSince(cutoff) {
			delete(r.buckets, key)
			removed++
		}
	}
	return removed
}

// Size returns the current number of live buckets.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.buckets)
}

// getOrCreate installs a full bucket for the key if none exists yet.
func (r *Registry) getOrCreate(principal, category string, cat Category) *bucket {
	key := bucketKey(principal, category)

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.buckets[key]; ok {
		return existing
	}
	b := newBucket(cat.Capacity, cat.RefillRate, r.now())
	r.buckets[key] = b
	return b
}

func bucketKey(principal, category string) string {
	return principal + ":" + category
}
