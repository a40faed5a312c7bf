package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"vaultline/internal/ratelimit/metrics"
	"vaultline/internal/ratelimit/models"
)

// fixedWindow increments the counter and sets its expiry on first use in one
// round trip. A key left without TTL (e.g. by a crash between commands in an
// older deployment) gets one again.
var fixedWindow = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// FixedWindowStore shares counters across processes through Redis.
type FixedWindowStore struct {
	client  redis.Scripter
	now     func() time.Time
	metrics *metrics.Metrics
}

type Option func(*FixedWindowStore)

// WithMetrics records the latency of every check.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *FixedWindowStore) {
		s.metrics = m
	}
}

func New(client redis.Scripter, opts ...Option) *FixedWindowStore {
	s := &FixedWindowStore{client: client, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *FixedWindowStore) Allow(ctx context.Context, key string, limit models.Limit) (*models.RateLimitResult, error) {
	if s.metrics != nil {
		start := time.Now()
		defer func() {
			s.metrics.ObserveRedisLatency(time.Since(start))
		}()
	}

	vals, err := fixedWindow.Run(ctx, s.client, []string{key}, limit.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("redis rate limit: %w", err)
	}
	if len(vals) != 2 {
		return nil, fmt.Errorf("redis rate limit: unexpected reply length %d", len(vals))
	}
	count, ttl := int(vals[0]), time.Duration(vals[1])*time.Millisecond
	resetAt := s.now().Add(ttl)

	if count <= limit.Requests {
		return &models.RateLimitResult{
			Allowed:   true,
			Limit:     limit.Requests,
			Remaining: limit.Requests - count,
			ResetAt:   resetAt,
		}, nil
	}
	retry := int((ttl + time.Second - 1) / time.Second)
	if retry < 1 {
		retry = 1
	}
	return &models.RateLimitResult{
		Allowed:    false,
		Limit:      limit.Requests,
		ResetAt:    resetAt,
		RetryAfter: retry,
	}, nil
}
