package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeClock lets tests advance time without sleeping.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestStore() (*MemoryStore, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	store.now = clock.Now
	return store, clock
}

func TestLimiter_DeniesSixthAttempt(t *testing.T) {
	store, _ := newTestStore()
	limiter := New(store)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		res := limiter.Check(ctx, "login", "10.0.0.1", 5, 15*time.Minute)
		if !res.Allowed {
			t.Fatalf("attempt %d: expected allow", i)
		}
		if res.Remaining != 5-i {
			t.Errorf("attempt %d: expected %d remaining, got %d", i, 5-i, res.Remaining)
		}
	}

	res := limiter.Check(ctx, "login", "10.0.0.1", 5, 15*time.Minute)
	if res.Allowed {
		t.Fatal("sixth attempt: expected deny")
	}
	if res.RetryAfter <= 0 {
		t.Errorf("expected positive retry-after, got %s", res.RetryAfter)
	}
	if res.RetryAfter > 15*time.Minute {
		t.Errorf("retry-after exceeds window: %s", res.RetryAfter)
	}
}

func TestLimiter_WindowElapseResetsCount(t *testing.T) {
	store, clock := newTestStore()
	limiter := New(store)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		limiter.Check(ctx, "login", "10.0.0.1", 5, 15*time.Minute)
	}

	// Advance past the window: the next call starts a fresh window at count 1.
	clock.Advance(15*time.Minute + time.Second)

	res := limiter.Check(ctx, "login", "10.0.0.1", 5, 15*time.Minute)
	if !res.Allowed {
		t.Fatal("expected allow after window elapsed")
	}
	if res.Remaining != 4 {
		t.Errorf("expected 4 remaining after reset, got %d", res.Remaining)
	}
}

func TestLimiter_KeyIsolation(t *testing.T) {
	store, _ := newTestStore()
	limiter := New(store)
	ctx := context.Background()

	// Exhaust the budget for (login, ip1).
	for i := 0; i < 6; i++ {
		limiter.Check(ctx, "login", "10.0.0.1", 5, 15*time.Minute)
	}

	// Same route, different IP is unaffected.
	if res := limiter.Check(ctx, "login", "10.0.0.2", 5, 15*time.Minute); !res.Allowed {
		t.Error("expected (login, ip2) to be unaffected by (login, ip1) exhaustion")
	}

	// Same IP, different route is unaffected.
	if res := limiter.Check(ctx, "register", "10.0.0.1", 5, 15*time.Minute); !res.Allowed {
		t.Error("expected (register, ip1) to be unaffected by (login, ip1) exhaustion")
	}

	// The exhausted key is still denied.
	if res := limiter.Check(ctx, "login", "10.0.0.1", 5, 15*time.Minute); res.Allowed {
		t.Error("expected (login, ip1) to remain denied")
	}
}

func TestMemoryStore_SweepRemovesElapsedWindows(t *testing.T) {
	store, clock := newTestStore()
	ctx := context.Background()

	store.Incr(ctx, Key("login", "10.0.0.1"), 15*time.Minute)
	store.Incr(ctx, Key("login", "10.0.0.2"), 30*time.Minute)

	clock.Advance(16 * time.Minute)

	removed := store.Sweep()
	if removed != 1 {
		t.Errorf("expected 1 entry swept, got %d", removed)
	}
	if store.Len() != 1 {
		t.Errorf("expected 1 live entry, got %d", store.Len())
	}

	clock.Advance(15 * time.Minute)
	if removed := store.Sweep(); removed != 1 {
		t.Errorf("expected remaining entry swept, got %d", removed)
	}
}

func TestMemoryStore_RunStopsOnContextCancel(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		store.Run(ctx, time.Millisecond)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after context cancellation")
	}
}

// failingStore simulates a counter store outage.
type failingStore struct{}

func (failingStore) Incr(context.Context, string, time.Duration) (int, time.Time, error) {
	return 0, time.Time{}, errors.New("store unavailable")
}

func TestLimiter_FailsOpenOnStoreError(t *testing.T) {
	limiter := New(failingStore{})

	res := limiter.Check(context.Background(), "login", "10.0.0.1", 5, 15*time.Minute)
	if !res.Allowed {
		t.Error("expected fail-open allow when the counter store errors")
	}
}

func TestKey_Composite(t *testing.T) {
	if Key("login", "1.2.3.4") == Key("log", "in1.2.3.4") {
		t.Error("expected separator to keep route and IP segments distinct")
	}
}
