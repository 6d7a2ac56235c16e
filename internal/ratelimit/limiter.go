package ratelimit

import (
	"context"
	"fmt"

	"github.com/skillhubio/shield/internal/metrics"
	"github.com/skillhubio/shield/pkg/logger"
)

// Limiter binds one quota configuration to a backend. The backend choice
// is fixed at construction: the shared backend is used only when the
// caller confirmed connectivity, otherwise the in-process backend serves
// transparently.
type Limiter struct {
	name    string
	cfg     Config
	backend Backend
	log     *logger.Logger
}

// NewLimiter creates a limiter for a named quota.
func NewLimiter(name string, cfg Config, backend Backend, log *logger.Logger) (*Limiter, error) {
	if name == "" {
		return nil, fmt.Errorf("limiter name is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("limiter %s: %w", name, err)
	}
	if backend == nil {
		return nil, fmt.Errorf("limiter %s: backend is required", name)
	}
	if log == nil {
		return nil, fmt.Errorf("limiter %s: logger is required", name)
	}

	return &Limiter{
		name:    name,
		cfg:     cfg,
		backend: backend,
		log:     log,
	}, nil
}

// Name returns the limiter's preset name.
func (l *Limiter) Name() string {
	return l.name
}

// Config returns the quota configuration.
func (l *Limiter) Config() Config {
	return l.cfg
}

// Check counts one request for the identifier and reports the decision.
func (l *Limiter) Check(ctx context.Context, identifier string) (*Result, error) {
	if identifier == "" {
		identifier = "unknown"
	}

	result, err := l.backend.Check(ctx, l.key(identifier), l.cfg)
	if err != nil {
		return nil, fmt.Errorf("rate limit check %s: %w", l.name, err)
	}

	outcome := "allowed"
	if !result.Allowed {
		outcome = "denied"
		l.log.Warn("rate limit exceeded",
			"limiter", l.name,
			"identifier", identifier,
			"reset_in", result.ResetIn,
		)
	}
	metrics.RateLimitChecksTotal.WithLabelValues(l.name, outcome).Inc()

	return result, nil
}

// Reset clears the identifier's record so the next check starts a
// fresh window.
func (l *Limiter) Reset(ctx context.Context, identifier string) error {
	return l.backend.Reset(ctx, l.key(identifier))
}

// ResetAll clears every record under this limiter's prefix.
func (l *Limiter) ResetAll(ctx context.Context) error {
	return l.backend.ResetAll(ctx, l.cfg.KeyPrefix)
}

func (l *Limiter) key(identifier string) string {
	return l.cfg.KeyPrefix + ":" + identifier
}
