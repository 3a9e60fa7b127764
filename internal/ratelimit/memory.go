package ratelimit

import (
	"context"
	"sync"
	"time"
)

// entry tracks the counter and window for a single key.
type entry struct {
	count   int
	resetAt time.Time
}

// MemoryStore is the default CounterStore: a mutex-guarded map, safe only
// under a single-process deployment. Multi-process deployments must use
// RedisStore so all processes share one counter space.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry

	// now is injectable for tests that need to advance the clock.
	now func() time.Time
}

// NewMemoryStore creates an empty in-memory counter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Incr implements CounterStore. A key with no entry, or whose window has
// elapsed, starts a fresh window of the given length with count 1.
func (s *MemoryStore) Incr(_ context.Context, key string, window time.Duration) (int, time.Time, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || now.After(e.resetAt) {
		e = &entry{count: 0, resetAt: now.Add(window)}
		s.entries[key] = e
	}
	e.count++

	return e.count, e.resetAt, nil
}

// Sweep removes every entry whose window has already elapsed, regardless
// of whether the key was ever queried again. Bounds memory growth from
// one-off or abandoned keys.
func (s *MemoryStore) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.entries {
		if now.After(e.resetAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Run sweeps expired entries every interval until ctx is cancelled. Meant
// to be started as a goroutine at boot and stopped via the process-lifetime
// context so the sweeper shuts down with the server.
func (s *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Len reports the number of live entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
