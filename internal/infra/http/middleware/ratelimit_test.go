package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillhubio/shield/internal/ratelimit"
	"github.com/skillhubio/shield/pkg/logger"
)

// stubBackend returns a canned result or error for every check.
type stubBackend struct {
	result  *ratelimit.Result
	err     error
	lastKey string
}

func (b *stubBackend) Check(_ context.Context, key string, _ ratelimit.Config) (*ratelimit.Result, error) {
	b.lastKey = key
	if b.err != nil {
		return nil, b.err
	}
	return b.result, nil
}

func (b *stubBackend) Reset(context.Context, string) error    { return nil }
func (b *stubBackend) ResetAll(context.Context, string) error { return nil }

func newStubLimiter(t *testing.T, backend ratelimit.Backend) *ratelimit.Limiter {
	t.Helper()
	limiter, err := ratelimit.NewLimiter("api", ratelimit.Config{
		MaxRequests: 100,
		Window:      time.Minute,
		KeyPrefix:   "ratelimit:api",
	}, backend, logger.NewNop())
	require.NoError(t, err)
	return limiter
}

func TestRateLimit_AllowedSetsHeaders(t *testing.T) {
	resetAt := time.Date(2026, 8, 1, 12, 1, 0, 0, time.UTC)
	backend := &stubBackend{result: &ratelimit.Result{
		Allowed:   true,
		Remaining: 99,
		Limit:     100,
		ResetIn:   30 * time.Second,
		ResetAt:   resetAt,
	}}
	handler := RateLimit(newStubLimiter(t, backend), logger.NewNop())(okHandler())

	r := httptest.NewRequest(http.MethodGet, "/api/v1/courses", nil)
	r.RemoteAddr = "1.2.3.4:5678"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "100", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "99", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "2026-08-01T12:01:00Z", rec.Header().Get("X-RateLimit-Reset"))
	assert.Equal(t, "ratelimit:api:ip:1.2.3.4", backend.lastKey)
}

func TestRateLimit_DeniedAnswers429(t *testing.T) {
	backend := &stubBackend{result: &ratelimit.Result{
		Allowed:   false,
		Remaining: 0,
		Limit:     100,
		ResetIn:   45 * time.Second,
		ResetAt:   time.Date(2026, 8, 1, 12, 1, 0, 0, time.UTC),
	}}
	handler := RateLimit(newStubLimiter(t, backend), logger.NewNop())(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/courses", nil))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "45", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestRateLimit_RetryAfterNeverBelowOne(t *testing.T) {
	backend := &stubBackend{result: &ratelimit.Result{
		Allowed: false,
		Limit:   100,
		ResetIn: 200 * time.Millisecond,
		ResetAt: time.Now(),
	}}
	handler := RateLimit(newStubLimiter(t, backend), logger.NewNop())(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestRateLimit_FailsOpenOnBackendError(t *testing.T) {
	backend := &stubBackend{err: errors.New("connection refused")}
	handler := RateLimit(newStubLimiter(t, backend), logger.NewNop())(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
}

func TestRateLimit_IdentifierPrecedence(t *testing.T) {
	tests := []struct {
		name    string
		userID  string
		apiKey  string
		wantKey string
	}{
		{"user wins over api key", "user-42", "key-abc", "ratelimit:api:user:user-42"},
		{"api key wins over ip", "", "key-abc", "ratelimit:api:key:key-abc"},
		{"ip as fallback", "", "", "ratelimit:api:ip:1.2.3.4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &stubBackend{result: &ratelimit.Result{Allowed: true, Limit: 100, ResetAt: time.Now()}}
			limiter := newStubLimiter(t, backend)
			handler := Identity()(RateLimit(limiter, logger.NewNop())(okHandler()))

			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = "1.2.3.4:5678"
			if tt.userID != "" {
				r.Header.Set(HeaderUserID, tt.userID)
			}
			if tt.apiKey != "" {
				r.Header.Set(HeaderAPIKey, tt.apiKey)
			}
			handler.ServeHTTP(httptest.NewRecorder(), r)
			assert.Equal(t, tt.wantKey, backend.lastKey)
		})
	}
}

func TestRateLimit_EnforcesWindowWithMemoryBackend(t *testing.T) {
	backend := ratelimit.NewMemoryBackend(time.Hour, logger.NewNop())
	defer backend.Stop()

	limiter, err := ratelimit.NewLimiter("auth", ratelimit.Config{
		MaxRequests: 2,
		Window:      time.Minute,
		KeyPrefix:   "ratelimit:auth",
	}, backend, logger.NewNop())
	require.NoError(t, err)

	handler := RateLimit(limiter, logger.NewNop())(okHandler())

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/login", nil)
		r.RemoteAddr = "1.2.3.4:5678"
		handler.ServeHTTP(rec, r)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/login", nil)
	r.RemoteAddr = "1.2.3.4:5678"
	handler.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// A different client has its own window.
	rec = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost, "/login", nil)
	r.RemoteAddr = "5.6.7.8:5678"
	handler.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code)
}
