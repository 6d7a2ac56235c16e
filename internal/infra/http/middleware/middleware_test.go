package middleware

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillhubio/shield/pkg/logger"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		realIP     string
		forwarded  string
		remoteAddr string
		want       string
	}{
		{"x-real-ip wins", "10.0.0.1", "20.0.0.1", "30.0.0.1:1234", "10.0.0.1"},
		{"first forwarded entry", "", "20.0.0.1, 21.0.0.1", "30.0.0.1:1234", "20.0.0.1"},
		{"single forwarded entry", "", "20.0.0.1", "30.0.0.1:1234", "20.0.0.1"},
		{"remote addr without port kept", "", "", "30.0.0.1", "30.0.0.1"},
		{"remote addr port stripped", "", "", "30.0.0.1:1234", "30.0.0.1"},
		{"whitespace trimmed", " 10.0.0.1 ", "", "30.0.0.1:1234", "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			assert.Equal(t, tt.want, GetClientIP(r))
		})
	}
}

func TestRequestID(t *testing.T) {
	t.Run("generates an id", func(t *testing.T) {
		var captured string
		handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			captured = GetRequestID(r.Context())
		}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		require.NotEmpty(t, captured)
		assert.Equal(t, captured, rec.Header().Get("X-Request-ID"))
	})

	t.Run("keeps a caller-supplied id", func(t *testing.T) {
		var captured string
		handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			captured = GetRequestID(r.Context())
		}))

		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("X-Request-ID", "req-123")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, r)

		assert.Equal(t, "req-123", captured)
		assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
	})
}

func TestIdentity(t *testing.T) {
	var captured string
	handler := Identity()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = GetUserID(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(HeaderUserID, "user-42")
	handler.ServeHTTP(httptest.NewRecorder(), r)
	assert.Equal(t, "user-42", captured)

	captured = "sentinel"
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Empty(t, captured)
}

func TestRecovery(t *testing.T) {
	handler := Recovery(logger.NewNop(), false)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestBodyLimit(t *testing.T) {
	handler := BodyLimit(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := io.ReadAll(r.Body)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("small body passes", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("ok")))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("oversized body rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		body := strings.NewReader(strings.Repeat("x", 64))
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", body))
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})
}
