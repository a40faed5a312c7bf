package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vaultline/internal/ratelimit/models"
	"vaultline/internal/ratelimit/service"
	"vaultline/internal/ratelimit/store/memory"
	"vaultline/pkg/requestcontext"
)

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (*models.RateLimitResult, error) {
	return nil, errors.New("store down")
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func request(ip string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/inbound", nil)
	return req.WithContext(requestcontext.WithClientMetadata(req.Context(), ip, "test"))
}

func TestRateLimit(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("rejects callers over the limit", func(t *testing.T) {
		limiter, err := service.New(memory.New(), models.Limit{Requests: 1, Window: time.Minute})
		require.NoError(t, err)
		h := New(limiter, logger).RateLimit("webhook")(okHandler())

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, request("198.51.100.1"))
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))

		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, request("198.51.100.1"))
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("Retry-After"))
		assert.Contains(t, rec.Body.String(), `"error":"rate_limit_exceeded"`)

		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, request("198.51.100.2"))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("limiter errors fail open", func(t *testing.T) {
		h := New(failingLimiter{}, logger).RateLimit("webhook")(okHandler())
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, request("198.51.100.3"))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("disabled passes everything through", func(t *testing.T) {
		h := New(failingLimiter{}, logger, WithDisabled(true)).RateLimit("webhook")(okHandler())
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, request("198.51.100.4"))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}
