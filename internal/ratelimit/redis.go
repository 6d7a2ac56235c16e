package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"time"

	redisinfra "github.com/skillhubio/shield/internal/infra/redis"
	"github.com/skillhubio/shield/internal/metrics"
	"github.com/skillhubio/shield/pkg/logger"
)

// SharedStore is the subset of the Redis client the shared backend uses.
// Narrow on purpose so tests can inject failing fakes.
type SharedStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Del(ctx context.Context, keys ...string) error
	DeletePattern(ctx context.Context, pattern string) (int64, error)
}

// RedisBackend counts requests in a shared TTL-capable store so quotas
// hold across instances.
//
// The read-compare-increment sequence is not atomic across instances: a
// concurrent burst can under-count by a few requests at the window edge.
// This is an accepted approximation; callers needing hard ceilings should
// move the decision into a Lua script.
type RedisBackend struct {
	store SharedStore
	log   *logger.Logger
}

// NewRedisBackend creates a shared backend over the given store.
func NewRedisBackend(store SharedStore, log *logger.Logger) (*RedisBackend, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	return &RedisBackend{store: store, log: log}, nil
}

// Check implements Backend. Any store error fails OPEN: the request is
// allowed and the failure is logged, so a broken backend cannot turn into
// a denial of service against legitimate callers.
func (b *RedisBackend) Check(ctx context.Context, key string, cfg Config) (*Result, error) {
	val, err := b.store.Get(ctx, key)
	if errors.Is(err, redisinfra.ErrKeyNotFound) {
		if err := b.store.Set(ctx, key, "1", cfg.Window); err != nil {
			return b.failOpen(key, cfg, err), nil
		}
		return &Result{
			Allowed:   true,
			Remaining: cfg.MaxRequests - 1,
			Limit:     cfg.MaxRequests,
			ResetIn:   cfg.Window,
			ResetAt:   time.Now().Add(cfg.Window),
		}, nil
	}
	if err != nil {
		return b.failOpen(key, cfg, err), nil
	}

	count, err := strconv.Atoi(val)
	if err != nil {
		// Corrupt record: replace rather than deny.
		return b.failOpen(key, cfg, err), nil
	}

	resetIn := b.resetIn(ctx, key, cfg)

	if count >= cfg.MaxRequests {
		return &Result{
			Allowed:   false,
			Remaining: 0,
			Limit:     cfg.MaxRequests,
			ResetIn:   resetIn,
			ResetAt:   time.Now().Add(resetIn),
		}, nil
	}

	newCount, err := b.store.Incr(ctx, key)
	if err != nil {
		return b.failOpen(key, cfg, err), nil
	}

	remaining := cfg.MaxRequests - int(newCount)
	if remaining < 0 {
		remaining = 0
	}

	return &Result{
		Allowed:   true,
		Remaining: remaining,
		Limit:     cfg.MaxRequests,
		ResetIn:   resetIn,
		ResetAt:   time.Now().Add(resetIn),
	}, nil
}

// resetIn derives the window reset from the key's remaining TTL, falling
// back to the configured window when the TTL is unreadable.
func (b *RedisBackend) resetIn(ctx context.Context, key string, cfg Config) time.Duration {
	ttl, err := b.store.TTL(ctx, key)
	if err != nil || ttl <= 0 {
		return cfg.Window
	}
	return ttl
}

func (b *RedisBackend) failOpen(key string, cfg Config, err error) *Result {
	b.log.Error("rate limit backend check failed, failing open",
		"key", key,
		"error", err,
	)
	metrics.RateLimitBackendErrors.WithLabelValues("redis").Inc()
	metrics.RateLimitChecksTotal.WithLabelValues(cfg.KeyPrefix, "fail_open").Inc()

	return &Result{
		Allowed:   true,
		Remaining: cfg.MaxRequests - 1,
		Limit:     cfg.MaxRequests,
		ResetIn:   cfg.Window,
		ResetAt:   time.Now().Add(cfg.Window),
	}
}

// Reset implements Backend.
func (b *RedisBackend) Reset(ctx context.Context, key string) error {
	return b.Del(ctx, key)
}

// Del removes a single record.
func (b *RedisBackend) Del(ctx context.Context, key string) error {
	if err := b.store.Del(ctx, key); err != nil {
		return err
	}
	return nil
}

// ResetAll implements Backend using a SCAN-based pattern delete.
func (b *RedisBackend) ResetAll(ctx context.Context, prefix string) error {
	deleted, err := b.store.DeletePattern(ctx, prefix+":*")
	if err != nil {
		return err
	}
	b.log.Debug("rate limit scope reset", "prefix", prefix, "deleted", deleted)
	return nil
}
