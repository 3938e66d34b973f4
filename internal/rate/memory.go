package rate

import (
	"context"
	"sync"
	"time"

	"github.com/lockbridge/authcore/internal/window"
)

type memoryCounter struct {
	count       int64
	windowStart time.Time
	windowDur   time.Duration
}

// MemoryStore is the process-local CounterStore default. Counters are reset
// in place when their window elapses, never deleted on expiry, so steady-state
// traffic does not churn the map.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*memoryCounter
	now      func() time.Time
}

// NewMemoryStore returns an empty in-process counter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters: make(map[string]*memoryCounter),
		now:      time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *MemoryStore) Hit(_ context.Context, key string, windowDur time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c, ok := s.counters[key]
	if !ok {
		c = &memoryCounter{}
		s.counters[key] = c
	}
	if c.count == 0 || window.Expired(c.windowStart, c.windowDur, now) {
		c.count = 1
		c.windowStart = now
		c.windowDur = windowDur
		return 1, nil
	}
	c.count++
	return c.count, nil
}

func (s *MemoryStore) Count(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok || !window.Active(c.windowStart, c.windowDur, s.now()) {
		return 0, nil
	}
	return c.count, nil
}

func (s *MemoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok {
		return NoActiveWindow, nil
	}
	remaining := window.Remaining(c.windowStart, c.windowDur, s.now())
	if remaining <= 0 {
		return NoActiveWindow, nil
	}
	return remaining, nil
}

func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.counters, key)
	s.mu.Unlock()
	return nil
}
