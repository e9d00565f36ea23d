package ratelimit

import (
	"sync"
	"testing"
	"time"
)

// fakeClock is a settable clock for deterministic refill tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testRegistry(clock *fakeClock, categories map[string]Category) *Registry {
	r := NewRegistry(categories, 30*time.Minute)
	r.now = clock.Now
	return r
}

// ============================================================================
// Bucket Tests
// ============================================================================

func TestBucket_StartsFull(t *testing.T) {
	clock := newFakeClock()
	b := newBucket(5, 1, clock.Now())

	for i := 0; i < 5; i++ {
		allowed, _ := b.take(clock.Now())
		if !allowed {
			t.Fatalf("check %d: expected allow from full bucket", i+1)
		}
	}

	allowed, _ := b.take(clock.Now())
	if allowed {
		t.Error("expected deny from empty bucket")
	}
}

func TestBucket_NeverExceedsCapacity(t *testing.T) {
	clock := newFakeClock()
	b := newBucket(3, 100, clock.Now())

	// A long idle period must not accumulate beyond capacity.
	clock.Advance(time.Hour)

	allowed := 0
	for i := 0; i < 10; i++ {
		ok, _ := b.take(clock.Now())
		if ok {
			allowed++
		}
	}
	if allowed != 3 {
		t.Errorf("expected exactly 3 allowed after refill, got %d", allowed)
	}
}

func TestBucket_NeverGoesNegative(t *testing.T) {
	clock := newFakeClock()
	b := newBucket(2, 0.5, clock.Now())

	for i := 0; i < 20; i++ {
		b.take(clock.Now())
		if b.tokens < 0 {
			t.Fatalf("tokens went negative: %v", b.tokens)
		}
		if b.tokens > b.capacity {
			t.Fatalf("tokens exceeded capacity: %v", b.tokens)
		}
		clock.Advance(100 * time.Millisecond)
	}
}

func TestBucket_FractionalRefill(t *testing.T) {
	clock := newFakeClock()
	b := newBucket(10, 10.0/60.0, clock.Now()) // one token per 6 seconds

	// Drain the bucket.
	for i := 0; i < 10; i++ {
		if ok, _ := b.take(clock.Now()); !ok {
			t.Fatalf("check %d: expected allow", i+1)
		}
	}

	// Denied, with a 6-second retry hint.
	allowed, retryAfter := b.take(clock.Now())
	if allowed {
		t.Fatal("expected deny from drained bucket")
	}
	if retryAfter != 6*time.Second {
		t.Errorf("expected retry after 6s, got %v", retryAfter)
	}

	// After 3 seconds only half a token exists.
	clock.Advance(3 * time.Second)
	if allowed, _ := b.take(clock.Now()); allowed {
		t.Error("expected deny with a fractional token")
	}

	// After the full 6 seconds exactly one more check passes.
	clock.Advance(3 * time.Second)
	if allowed, _ := b.take(clock.Now()); !allowed {
		t.Error("expected allow after full refill interval")
	}
	if allowed, _ := b.take(clock.Now()); allowed {
		t.Error("expected deny immediately after the single refilled token")
	}
}

// ============================================================================
// Registry Tests
// ============================================================================

func TestRegistry_BurstAndRefill(t *testing.T) {
	clock := newFakeClock()
	r := testRegistry(clock, map[string]Category{
		"video": {Capacity: 10, RefillRate: 10.0 / 60.0},
	})

	for i := 0; i < 10; i++ {
		d := r.Check("user-1", "video")
		if !d.Allowed {
			t.Fatalf("check %d: expected allow", i+1)
		}
	}

	d := r.Check("user-1", "video")
	if d.Allowed {
		t.Fatal("11th check: expected deny")
	}
	if d.RetryAfter != 6*time.Second {
		t.Errorf("expected retry after 6s, got %v", d.RetryAfter)
	}

	clock.Advance(6 * time.Second)
	if d := r.Check("user-1", "video"); !d.Allowed {
		t.Error("expected allow after 6s refill")
	}
	if d := r.Check("user-1", "video"); d.Allowed {
		t.Error("expected deny after consuming the refilled token")
	}
}

func TestRegistry_KeysAreIndependent(t *testing.T) {
	clock := newFakeClock()
	r := testRegistry(clock, map[string]Category{
		"video": {Capacity: 1, RefillRate: 0.01},
		"text":  {Capacity: 1, RefillRate: 0.01},
	})

	if d := r.Check("user-1", "video"); !d.Allowed {
		t.Fatal("expected allow for user-1 video")
	}
	if d := r.Check("user-1", "video"); d.Allowed {
		t.Fatal("expected deny for drained user-1 video bucket")
	}

	// Other principals and categories have their own buckets.
	if d := r.Check("user-2", "video"); !d.Allowed {
		t.Error("expected allow for user-2 video")
	}
	if d := r.Check("user-1", "text"); !d.Allowed {
		t.Error("expected allow for user-1 text")
	}
}

func TestRegistry_UnconfiguredCategoryAllows(t *testing.T) {
	clock := newFakeClock()
	r := testRegistry(clock, map[string]Category{})

	for i := 0; i < 100; i++ {
		if d := r.Check("user-1", "unknown"); !d.Allowed {
			t.Fatal("expected allow for unconfigured category")
		}
	}
	if r.Size() != 0 {
		t.Errorf("expected no buckets for unconfigured categories, got %d", r.Size())
	}
}

func TestRegistry_SweepRemovesIdleBuckets(t *testing.T) {
	clock := newFakeClock()
	r := testRegistry(clock, map[string]Category{
		"video": {Capacity: 10, RefillRate: 1},
	})

	r.Check("user-1", "video")
	r.Check("user-2", "video")
	if r.Size() != 2 {
		t.Fatalf("expected 2 buckets, got %d", r.Size())
	}

	// user-2 stays active past the idle TTL; user-1 goes quiet.
	clock.Advance(29 * time.Minute)
	r.Check("user-2", "video")
	clock.Advance(2 * time.Minute)

	removed := r.Sweep()
	if removed != 1 {
		t.Errorf("expected 1 bucket swept, got %d", removed)
	}
	if r.Size() != 1 {
		t.Errorf("expected 1 bucket remaining, got %d", r.Size())
	}

	// A swept principal starts over with a full bucket.
	if d := r.Check("user-1", "video"); !d.Allowed {
		t.Error("expected allow from recreated bucket")
	}
}

func TestRegistry_ConcurrentChecksDoNotOverAdmit(t *testing.T) {
	r := NewRegistry(map[string]Category{
		"video": {Capacity: 50, RefillRate: 0.0001},
	}, 30*time.Minute)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d := r.Check("user-1", "video"); d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 50 {
		t.Errorf("expected exactly 50 admissions under concurrency, got %d", allowed)
	}
}

func TestRegistry_SetCategoriesAppliesToNewBuckets(t *testing.T) {
	clock := newFakeClock()
	r := testRegistry(clock, map[string]Category{
		"video": {Capacity: 1, RefillRate: 0.01},
	})

	r.Check("user-1", "video")
	r.SetCategories(map[string]Category{
		"video": {Capacity: 3, RefillRate: 0.01},
	})

	// A fresh principal gets the new capacity.
	for i := 0; i < 3; i++ {
		if d := r.Check("user-2", "video"); !d.Allowed {
			t.Fatalf("check %d: expected allow under new capacity", i+1)
		}
	}
	if d := r.Check("user-2", "video"); d.Allowed {
		t.Error("expected deny past new capacity")
	}
}
