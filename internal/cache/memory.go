package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type limiterEntry struct {
	lim      *rate.Limiter
	lastUsed time.Time
}

// MemoryStore is the single-instance fallback used when REDIS_ADDR is not
// set. Limits are token buckets refilled at limit/window. A bucket idle
// for a whole window is full again, so it is dropped on the next sweep.
type MemoryStore struct {
	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	marks     map[string]time.Time
	lastSweep time.Time
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		limiters: map[string]*limiterEntry{},
		marks:    map[string]time.Time{},
		now:      time.Now,
	}
}

func (s *MemoryStore) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return false, ErrInvalidLimit
	}
	s.mu.Lock()
	now := s.now()
	s.sweep(now, window)
	e, ok := s.limiters[key]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)}
		s.limiters[key] = e
	}
	e.lastUsed = now
	s.mu.Unlock()
	return e.lim.AllowN(now, 1), nil
}

// sweep drops idle limiters and expired marks at most once per window.
// Callers hold s.mu.
func (s *MemoryStore) sweep(now time.Time, window time.Duration) {
	if now.Sub(s.lastSweep) < window {
		return
	}
	s.lastSweep = now
	for k, e := range s.limiters {
		if now.Sub(e.lastUsed) >= window {
			delete(s.limiters, k)
		}
	}
	for k, exp := range s.marks {
		if now.After(exp) {
			delete(s.marks, k)
		}
	}
}

func (s *MemoryStore) Seen(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.marks[key]
	if !ok {
		return false, nil
	}
	if s.now().After(exp) {
		delete(s.marks, key)
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) Mark(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marks[key] = s.now().Add(ttl)
	return nil
}
