package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vaultline/internal/ratelimit/metrics"
	"vaultline/internal/ratelimit/models"
)

// scriptReply answers the fixed window script with a canned reply.
type scriptReply struct {
	redis.Scripter
	val any
	err error
}

func (f *scriptReply) EvalSha(ctx context.Context, _ string, _ []string, _ ...any) *redis.Cmd {
	return redis.NewCmdResult(f.val, f.err)
}

func (f *scriptReply) Eval(ctx context.Context, _ string, _ []string, _ ...any) *redis.Cmd {
	return redis.NewCmdResult(f.val, f.err)
}

func TestFixedWindowStore(t *testing.T) {
	limit := models.Limit{Requests: 3, Window: time.Minute}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("latency goes to the injected registry", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		m := metrics.New(reg)
		store := New(&scriptReply{val: []any{int64(1), int64(60000)}}, WithMetrics(m))
		store.now = func() time.Time { return now }

		result, err := store.Allow(context.Background(), "rl:k", limit)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, 2, result.Remaining)
		assert.Equal(t, now.Add(time.Minute), result.ResetAt)
		assert.Equal(t, 1, testutil.CollectAndCount(reg, "vaultline_ratelimit_redis_allow_duration_ms"))
	})

	t.Run("over the limit carries a retry hint", func(t *testing.T) {
		store := New(&scriptReply{val: []any{int64(4), int64(1500)}})
		result, err := store.Allow(context.Background(), "rl:k", limit)
		require.NoError(t, err)
		assert.False(t, result.Allowed)
		assert.Equal(t, 2, result.RetryAfter)
	})

	t.Run("script failure is returned", func(t *testing.T) {
		store := New(&scriptReply{err: errors.New("connection refused")})
		_, err := store.Allow(context.Background(), "rl:k", limit)
		require.ErrorContains(t, err, "redis rate limit")
	})
}
