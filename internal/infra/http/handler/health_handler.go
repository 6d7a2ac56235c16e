package handler

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// Pinger is a health-checkable dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	redis Pinger
}

// HealthHandlerOption configures the health handler.
type HealthHandlerOption func(*HealthHandler)

// WithRedis adds a Redis readiness check.
func WithRedis(redis Pinger) HealthHandlerOption {
	return func(h *HealthHandler) {
		h.redis = redis
	}
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(opts ...HealthHandlerOption) *HealthHandler {
	h := &HealthHandler{}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HealthResponse is the liveness probe body.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Health handles /health (liveness probe).
func (h *HealthHandler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
	})
}

// CheckResult is one dependency's readiness outcome.
type CheckResult struct {
	Status   string `json:"status"`
	Duration string `json:"duration,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ReadyResponse is the readiness probe body.
type ReadyResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Ready handles /ready (readiness probe). The shared store being down
// degrades readiness but does not fail it: the service keeps working
// on in-process backends.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := ReadyResponse{
		Status:    "ready",
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]CheckResult),
	}

	var mu sync.Mutex
	var wg sync.WaitGroup

	if h.redis != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			err := h.redis.Ping(ctx)

			mu.Lock()
			defer mu.Unlock()
			result := CheckResult{Status: "ok", Duration: time.Since(start).String()}
			if err != nil {
				result.Status = "degraded"
				result.Error = err.Error()
				response.Status = "degraded"
			}
			response.Checks["redis"] = result
		}()
	}

	wg.Wait()
	writeJSON(w, http.StatusOK, response)
}
