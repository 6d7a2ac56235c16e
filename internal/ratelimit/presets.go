package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/skillhubio/shield/internal/config"
	"github.com/skillhubio/shield/pkg/logger"
)

// Default quota presets. Each preset is an independent limiter with its
// own key prefix; hitting one never consumes another's quota.

// AuthConfig returns the quota for authentication endpoints.
func AuthConfig() Config {
	return Config{MaxRequests: 5, Window: 15 * time.Minute, KeyPrefix: "ratelimit:auth", UseSharedBackend: true}
}

// APIConfig returns the quota for general API endpoints.
func APIConfig() Config {
	return Config{MaxRequests: 100, Window: time.Minute, KeyPrefix: "ratelimit:api", UseSharedBackend: true}
}

// PublicConfig returns the quota for public/anonymous endpoints.
func PublicConfig() Config {
	return Config{MaxRequests: 300, Window: 5 * time.Minute, KeyPrefix: "ratelimit:public", UseSharedBackend: true}
}

// PaymentConfig returns the quota for payment endpoints.
func PaymentConfig() Config {
	return Config{MaxRequests: 10, Window: 10 * time.Minute, KeyPrefix: "ratelimit:payment", UseSharedBackend: true}
}

// UploadConfig returns the quota for upload endpoints.
func UploadConfig() Config {
	return Config{MaxRequests: 20, Window: time.Hour, KeyPrefix: "ratelimit:upload", UseSharedBackend: true}
}

// Pinger reports shared-store connectivity at construction time.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Set owns the five preset limiters and the shared in-process store
// lifecycle. Presets that request the shared backend get it only when
// the connectivity probe succeeded; otherwise they run in-process.
type Set struct {
	Auth    *Limiter
	API     *Limiter
	Public  *Limiter
	Payment *Limiter
	Upload  *Limiter

	memory *MemoryBackend
	log    *logger.Logger
}

// SetDeps are the collaborators a Set needs.
type SetDeps struct {
	// Store is the shared backend store. May be nil when Redis is not
	// configured; all presets then run in-process.
	Store SharedStore

	// Probe confirms shared-store connectivity at construction.
	// Typically the Redis client itself.
	Probe Pinger

	Logger *logger.Logger
}

// NewSet constructs all preset limiters.
func NewSet(ctx context.Context, cfg *config.RateLimitConfig, deps SetDeps) (*Set, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	memory := NewMemoryBackend(cfg.SweepInterval, deps.Logger)

	var shared Backend
	if cfg.UseSharedBackend && deps.Store != nil && deps.Probe != nil {
		if err := deps.Probe.Ping(ctx); err != nil {
			deps.Logger.Warn("shared rate limit backend unreachable, falling back to in-process",
				"error", err,
			)
		} else {
			rb, err := NewRedisBackend(deps.Store, deps.Logger)
			if err != nil {
				memory.Stop()
				return nil, err
			}
			shared = rb
		}
	}

	s := &Set{memory: memory, log: deps.Logger}

	presets := []struct {
		name string
		cfg  Config
		dst  **Limiter
	}{
		{"auth", AuthConfig(), &s.Auth},
		{"api", APIConfig(), &s.API},
		{"public", PublicConfig(), &s.Public},
		{"payment", PaymentConfig(), &s.Payment},
		{"upload", UploadConfig(), &s.Upload},
	}

	for _, p := range presets {
		backend := Backend(memory)
		if shared != nil && p.cfg.UseSharedBackend {
			backend = shared
		}
		limiter, err := NewLimiter(p.name, p.cfg, backend, deps.Logger)
		if err != nil {
			memory.Stop()
			return nil, err
		}
		*p.dst = limiter
	}

	return s, nil
}

// Stop releases the in-process store's sweep task.
func (s *Set) Stop() {
	s.memory.Stop()
}

// Memory exposes the in-process backend for operational tooling.
func (s *Set) Memory() *MemoryBackend {
	return s.memory
}
