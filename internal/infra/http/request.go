package http

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// PathParam extracts a URL path parameter from the request.
// This abstracts the underlying router implementation.
// Handlers should use this instead of directly calling chi.URLParam or r.PathValue.
func PathParam(r *http.Request, key string) string {
	// Try Chi first (works with Chi router)
	if val := chi.URLParam(r, key); val != "" {
		return val
	}

	// Fallback to Go 1.22+ stdlib (works with stdlib router)
	return r.PathValue(key)
}

// QueryParam extracts a URL query parameter from the request.
func QueryParam(r *http.Request, key string) string {
	return r.URL.Query().Get(key)
}

// QueryParamInt extracts an integer query parameter, falling back to
// the default on absence or parse failure.
func QueryParamInt(r *http.Request, key string, defaultValue int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}
	return n
}
