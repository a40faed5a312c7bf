package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"vaultline/internal/ratelimit/models"
)

var testLimit = models.Limit{Requests: 3, Window: time.Minute}

type FixedWindowStoreSuite struct {
	suite.Suite
	store *FixedWindowStore
	now   time.Time
	ctx   context.Context
}

func TestFixedWindowStoreSuite(t *testing.T) {
	suite.Run(t, new(FixedWindowStoreSuite))
}

func (s *FixedWindowStoreSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.store = New(WithClock(func() time.Time { return s.now }))
	s.ctx = context.Background()
}

func (s *FixedWindowStoreSuite) TestAllow() {
	s.Run("requests up to limit allowed", func() {
		var result *models.RateLimitResult
		var err error
		for range testLimit.Requests {
			result, err = s.store.Allow(s.ctx, "key:limit", testLimit)
			s.Require().NoError(err)
			s.True(result.Allowed)
		}
		s.Equal(0, result.Remaining)
		s.Equal(testLimit.Requests, result.Limit)
	})

	s.Run("request over limit denied with retry hint", func() {
		for range testLimit.Requests {
			_, err := s.store.Allow(s.ctx, "key:over", testLimit)
			s.Require().NoError(err)
		}
		result, err := s.store.Allow(s.ctx, "key:over", testLimit)
		s.Require().NoError(err)
		s.False(result.Allowed)
		s.Equal(60, result.RetryAfter)
	})

	s.Run("keys are independent", func() {
		for range testLimit.Requests {
			_, err := s.store.Allow(s.ctx, "key:a", testLimit)
			s.Require().NoError(err)
		}
		result, err := s.store.Allow(s.ctx, "key:b", testLimit)
		s.Require().NoError(err)
		s.True(result.Allowed)
	})
}

func (s *FixedWindowStoreSuite) TestWindowResets() {
	for range testLimit.Requests {
		_, err := s.store.Allow(s.ctx, "key:window", testLimit)
		s.Require().NoError(err)
	}
	s.now = s.now.Add(testLimit.Window - time.Second)
	result, err := s.store.Allow(s.ctx, "key:window", testLimit)
	s.Require().NoError(err)
	s.False(result.Allowed)
	s.Equal(1, result.RetryAfter)

	s.now = s.now.Add(time.Second)
	result, err = s.store.Allow(s.ctx, "key:window", testLimit)
	s.Require().NoError(err)
	s.True(result.Allowed)
	s.Equal(testLimit.Requests-1, result.Remaining)
	s.Equal(s.now.Add(testLimit.Window), result.ResetAt)
}

func (s *FixedWindowStoreSuite) TestExpiredCountersAreEvicted() {
	for i := range 5000 {
		_, err := s.store.Allow(s.ctx, fmt.Sprintf("key:%d", i), testLimit)
		s.Require().NoError(err)
	}
	s.Equal(5000, s.store.Len())

	s.now = s.now.Add(24 * time.Hour)
	_, err := s.store.Allow(s.ctx, "key:late", testLimit)
	s.Require().NoError(err)
	s.Equal(1, s.store.Len())
}

func (s *FixedWindowStoreSuite) TestLiveCountersSurviveSweep() {
	_, err := s.store.Allow(s.ctx, "key:old", models.Limit{Requests: 3, Window: time.Minute})
	s.Require().NoError(err)
	_, err = s.store.Allow(s.ctx, "key:long", models.Limit{Requests: 3, Window: time.Hour})
	s.Require().NoError(err)

	s.now = s.now.Add(2 * time.Minute)
	result, err := s.store.Allow(s.ctx, "key:long", models.Limit{Requests: 3, Window: time.Hour})
	s.Require().NoError(err)
	s.Equal(1, result.Remaining, "open window keeps its count")
	s.Equal(1, s.store.Len())
}

func (s *FixedWindowStoreSuite) TestReset() {
	for range testLimit.Requests {
		_, err := s.store.Allow(s.ctx, "key:reset", testLimit)
		s.Require().NoError(err)
	}
	s.Require().NoError(s.store.Reset(s.ctx, "key:reset"))

	result, err := s.store.Allow(s.ctx, "key:reset", testLimit)
	s.Require().NoError(err)
	s.True(result.Allowed)
}

func (s *FixedWindowStoreSuite) TestConcurrentAllowNeverExceedsLimit() {
	limit := models.Limit{Requests: 50, Window: time.Minute}
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := s.store.Allow(s.ctx, "key:concurrent", limit)
			if err == nil && result.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	s.Equal(limit.Requests, allowed)
}
