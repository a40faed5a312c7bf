package memory

import (
	"context"
	"sync"
	"time"

	"vaultline/internal/ratelimit/models"
)

// sweepInterval bounds how often Allow scans for expired counters.
const sweepInterval = time.Minute

// FixedWindowStore counts requests per key in process memory, with the same
// window semantics as the Redis store: the first request opens a window and
// the counter expires when it closes. It is the fallback when Redis is
// unavailable and the default for single-process runs.
type FixedWindowStore struct {
	mu        sync.Mutex
	counters  map[string]*counter
	now       func() time.Time
	lastSweep time.Time
}

type counter struct {
	count   int
	resetAt time.Time
}

type Option func(*FixedWindowStore)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *FixedWindowStore) {
		s.now = now
	}
}

func New(opts ...Option) *FixedWindowStore {
	s := &FixedWindowStore{
		counters: make(map[string]*counter),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Allow records one request for key and reports whether it fits the limit.
func (s *FixedWindowStore) Allow(_ context.Context, key string, limit models.Limit) (*models.RateLimitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweep(now)

	c := s.counters[key]
	if c == nil || !now.Before(c.resetAt) {
		c = &counter{resetAt: now.Add(limit.Window)}
		s.counters[key] = c
	}

	if c.count < limit.Requests {
		c.count++
		return &models.RateLimitResult{
			Allowed:   true,
			Limit:     limit.Requests,
			Remaining: limit.Requests - c.count,
			ResetAt:   c.resetAt,
		}, nil
	}
	return &models.RateLimitResult{
		Allowed:    false,
		Limit:      limit.Requests,
		Remaining:  0,
		ResetAt:    c.resetAt,
		RetryAfter: retryAfter(c.resetAt.Sub(now)),
	}, nil
}

// Reset clears the counter for a key.
func (s *FixedWindowStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counters, key)
	return nil
}

// Len reports how many counters are held.
func (s *FixedWindowStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}

// sweep drops counters whose window has closed. Must be called while holding
// s.mu.
func (s *FixedWindowStore) sweep(now time.Time) {
	if now.Sub(s.lastSweep) < sweepInterval {
		return
	}
	s.lastSweep = now
	for key, c := range s.counters {
		if !now.Before(c.resetAt) {
			delete(s.counters, key)
		}
	}
}

func retryAfter(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
