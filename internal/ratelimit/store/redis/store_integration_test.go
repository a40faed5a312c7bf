//go:build integration

package redis_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"vaultline/internal/ratelimit/models"
	ratelimitredis "vaultline/internal/ratelimit/store/redis"
	"vaultline/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *ratelimitredis.FixedWindowStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.redis = mgr.GetRedis(s.T())
	s.store = ratelimitredis.New(s.redis.Client)
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisStoreSuite) TestLimitEnforced() {
	ctx := context.Background()
	limit := models.Limit{Requests: 3, Window: time.Minute}

	for i := range limit.Requests {
		result, err := s.store.Allow(ctx, "rl:test:enforced", limit)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(limit.Requests-i-1, result.Remaining)
	}

	result, err := s.store.Allow(ctx, "rl:test:enforced", limit)
	s.Require().NoError(err)
	s.False(result.Allowed)
	s.Positive(result.RetryAfter)
}

func (s *RedisStoreSuite) TestKeyExpires() {
	ctx := context.Background()
	limit := models.Limit{Requests: 1, Window: 200 * time.Millisecond}

	_, err := s.store.Allow(ctx, "rl:test:expiry", limit)
	s.Require().NoError(err)

	ttl, err := s.redis.Client.PTTL(ctx, "rl:test:expiry").Result()
	s.Require().NoError(err)
	s.Positive(ttl)

	s.Eventually(func() bool {
		result, err := s.store.Allow(ctx, "rl:test:expiry", limit)
		return err == nil && result.Allowed
	}, 2*time.Second, 50*time.Millisecond)
}

func (s *RedisStoreSuite) TestConcurrentCallersShareCounter() {
	ctx := context.Background()
	limit := models.Limit{Requests: 25, Window: time.Minute}

	var (
		wg      sync.WaitGroup
		allowed atomic.Int32
	)
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := s.store.Allow(ctx, "rl:test:concurrent", limit)
			if err == nil && result.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(limit.Requests), allowed.Load())
}
