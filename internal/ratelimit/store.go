// Package ratelimit implements fixed-window request quotas per caller
// identity. Counting lives behind Store so the in-memory implementation can
// be swapped for a shared one without touching callers.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Store is an atomic counter with per-key expiry.
type Store interface {
	// Incr increments key and returns the new count together with the time
	// left until the key resets. The first increment of a window sets the
	// TTL to window.
	Incr(ctx context.Context, key string, window time.Duration) (count int, ttl time.Duration, err error)
}

type counter struct {
	n       int
	expires time.Time
}

// MemoryStore is a process-local Store. Expired keys are swept
// opportunistically every sweepEvery increments.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*counter
	now      func() time.Time

	sweepEvery uint64
	sweepN     uint64
}

// NewMemoryStore returns an empty MemoryStore using the wall clock.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters:   make(map[string]*counter),
		now:        time.Now,
		sweepEvery: 5000,
	}
}

// WithClock replaces the clock; intended for tests.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

// Incr implements Store.
func (s *MemoryStore) Incr(_ context.Context, key string, window time.Duration) (int, time.Duration, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepN++
	if s.sweepN >= s.sweepEvery {
		for k, c := range s.counters {
			if !now.Before(c.expires) {
				delete(s.counters, k)
			}
		}
		s.sweepN = 0
	}

	c, ok := s.counters[key]
	if !ok || !now.Before(c.expires) {
		c = &counter{expires: now.Add(window)}
		s.counters[key] = c
	}
	c.n++
	return c.n, c.expires.Sub(now), nil
}

// Len reports the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}
