package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vaultline/internal/ratelimit/metrics"
	"vaultline/internal/ratelimit/models"
	"vaultline/internal/ratelimit/store/memory"
)

var testLimit = models.Limit{Requests: 2, Window: time.Minute}

// flakyStore fails while down is true and otherwise delegates.
type flakyStore struct {
	down  bool
	calls int
	inner Store
}

func (f *flakyStore) Allow(ctx context.Context, key string, limit models.Limit) (*models.RateLimitResult, error) {
	f.calls++
	if f.down {
		return nil, errors.New("connection refused")
	}
	return f.inner.Allow(ctx, key, limit)
}

func TestLimiterWithoutFallback(t *testing.T) {
	ctx := context.Background()

	t.Run("enforces the limit", func(t *testing.T) {
		limiter, err := New(memory.New(), testLimit)
		require.NoError(t, err)

		for range testLimit.Requests {
			result, err := limiter.Allow(ctx, "k")
			require.NoError(t, err)
			assert.True(t, result.Allowed)
		}
		result, err := limiter.Allow(ctx, "k")
		require.NoError(t, err)
		assert.False(t, result.Allowed)
	})

	t.Run("surfaces primary errors", func(t *testing.T) {
		limiter, err := New(&flakyStore{down: true, inner: memory.New()}, testLimit)
		require.NoError(t, err)

		_, err = limiter.Allow(ctx, "k")
		require.Error(t, err)
	})

	t.Run("rejects invalid limits", func(t *testing.T) {
		_, err := New(memory.New(), models.Limit{})
		require.Error(t, err)
	})
}

func TestLimiterFallback(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	primary := &flakyStore{down: true, inner: memory.New()}

	limiter, err := New(primary, testLimit,
		WithFallback(memory.New()),
		WithBreakerThresholds(2, 2),
		WithMetrics(m),
		WithName("inbound"),
	)
	require.NoError(t, err)

	t.Run("primary failures are answered by the fallback", func(t *testing.T) {
		result, err := limiter.Allow(ctx, "k")
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.False(t, limiter.Degraded())

		result, err = limiter.Allow(ctx, "k")
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.True(t, limiter.Degraded())
		assert.Equal(t, 1.0, testutil.ToFloat64(m.Degraded.WithLabelValues("inbound")))
	})

	t.Run("fallback still enforces the limit", func(t *testing.T) {
		result, err := limiter.Allow(ctx, "k")
		require.NoError(t, err)
		assert.False(t, result.Allowed)
	})

	t.Run("circuit closes after successful probes", func(t *testing.T) {
		primary.down = false
		for range 8 {
			_, err := limiter.Allow(ctx, "other")
			require.NoError(t, err)
			if !limiter.Degraded() {
				break
			}
		}
		assert.False(t, limiter.Degraded())
		assert.Equal(t, 0.0, testutil.ToFloat64(m.Degraded.WithLabelValues("inbound")))
	})
}

func TestCircuitBreaker(t *testing.T) {
	cb := newCircuitBreaker(3, 2)

	assert.False(t, cb.RecordFailure())
	assert.False(t, cb.RecordFailure())
	assert.True(t, cb.RecordFailure())
	assert.True(t, cb.IsOpen())

	assert.False(t, cb.ShouldProbe())
	assert.True(t, cb.ShouldProbe())

	assert.False(t, cb.RecordSuccess())
	assert.True(t, cb.RecordSuccess())
	assert.False(t, cb.IsOpen())
}
