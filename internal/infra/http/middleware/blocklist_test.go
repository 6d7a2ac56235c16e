package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/skillhubio/shield/pkg/logger"
)

// stubBlockChecker answers block checks from a fixed set.
type stubBlockChecker struct {
	blocked map[string]bool
	err     error
}

func (c *stubBlockChecker) IsIPBlocked(_ context.Context, ip string) (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	return c.blocked[ip], nil
}

func TestIPBlocklist(t *testing.T) {
	t.Run("blocked ip gets 403", func(t *testing.T) {
		checker := &stubBlockChecker{blocked: map[string]bool{"1.2.3.4": true}}
		handler := IPBlocklist(checker, logger.NewNop())(okHandler())

		r := httptest.NewRequest(http.MethodGet, "/api/v1/courses", nil)
		r.RemoteAddr = "1.2.3.4:5678"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, r)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	})

	t.Run("unblocked ip passes", func(t *testing.T) {
		checker := &stubBlockChecker{blocked: map[string]bool{"1.2.3.4": true}}
		handler := IPBlocklist(checker, logger.NewNop())(okHandler())

		r := httptest.NewRequest(http.MethodGet, "/api/v1/courses", nil)
		r.RemoteAddr = "5.6.7.8:5678"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, r)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("checker failure fails open", func(t *testing.T) {
		checker := &stubBlockChecker{err: errors.New("store down")}
		handler := IPBlocklist(checker, logger.NewNop())(okHandler())

		r := httptest.NewRequest(http.MethodGet, "/api/v1/courses", nil)
		r.RemoteAddr = "1.2.3.4:5678"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, r)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("uses forwarded client ip", func(t *testing.T) {
		checker := &stubBlockChecker{blocked: map[string]bool{"9.9.9.9": true}}
		handler := IPBlocklist(checker, logger.NewNop())(okHandler())

		r := httptest.NewRequest(http.MethodGet, "/api/v1/courses", nil)
		r.RemoteAddr = "10.0.0.1:5678"
		r.Header.Set("X-Forwarded-For", "9.9.9.9")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, r)

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}
