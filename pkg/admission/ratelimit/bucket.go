package ratelimit

import (
	"math"
	"sync"
	"time"
)

// bucket implements a continuous token bucket for one (principal,
// category) pair.
//
// Unlike a fixed-window counter, the bucket refills continuously in
// fractional tokens, which avoids burst-at-boundary artifacts: a caller
// who exhausts the bucket earns back capacity smoothly rather than all at
// once when a window rolls over.
//
// # Algorithm
//
//  1. Refill: tokens = min(capacity, tokens + elapsedSeconds * refillRate)
//  2. If tokens >= 1, consume one token and allow
//  3. Otherwise deny and report ceil((1 - tokens) / refillRate) seconds
//     until the next whole token is available
//
// # Thread Safety
//
// Each bucket serializes its own mutations with a sync.Mutex, so two
// racing checks can never both decrement from the same stale snapshot.
type bucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	lastAccess time.Time
}

func newBucket(capacity, refillRate float64, now time.Time) *bucket {
	return &bucket{
		capacity:   capacity,
		tokens:     capacity, // start full
		refillRate: refillRate,
		lastRefill: now,
		lastAccess: now,
	}
}

// take refills the bucket and attempts to consume one token.
// On denial it returns the whole seconds to wait for the next token.
func (b *bucket) take(now time.Time) (allowed bool, retryAfter time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(now)
	b.lastAccess = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}

	seconds := math.Ceil((1 - b.tokens) / b.refillRate)
	return false, time.Duration(seconds) * time.Second
}

// refillLocked adds tokens for the elapsed time since the last refill.
// Caller must hold the lock.
func (b *bucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens = math.Min(b.capacity, b.tokens+elapsed*b.refillRate)
	b.lastRefill = now
}

// idleSince reports whether the bucket has seen no activity since the
// cutoff.
func (b *bucket) idleSince(cutoff time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastAccess.Before(cutoff)
}
