package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisinfra "github.com/skillhubio/shield/internal/infra/redis"
	"github.com/skillhubio/shield/pkg/logger"
)

// fakeSharedStore is a map-backed SharedStore with injectable failures.
type fakeSharedStore struct {
	values map[string]string
	ttls   map[string]time.Duration

	getErr  error
	setErr  error
	incrErr error
}

func newFakeSharedStore() *fakeSharedStore {
	return &fakeSharedStore{
		values: make(map[string]string),
		ttls:   make(map[string]time.Duration),
	}
}

func (f *fakeSharedStore) Get(_ context.Context, key string) (string, error) {
	if f.getErr != nil {
		return "", f.getErr
	}
	val, ok := f.values[key]
	if !ok {
		return "", redisinfra.ErrKeyNotFound
	}
	return val, nil
}

func (f *fakeSharedStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.values[key] = value
	f.ttls[key] = ttl
	return nil
}

func (f *fakeSharedStore) Incr(_ context.Context, key string) (int64, error) {
	if f.incrErr != nil {
		return 0, f.incrErr
	}
	count, _ := strconv.ParseInt(f.values[key], 10, 64)
	count++
	f.values[key] = strconv.FormatInt(count, 10)
	return count, nil
}

func (f *fakeSharedStore) TTL(_ context.Context, key string) (time.Duration, error) {
	return f.ttls[key], nil
}

func (f *fakeSharedStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.values, key)
		delete(f.ttls, key)
	}
	return nil
}

func (f *fakeSharedStore) DeletePattern(_ context.Context, pattern string) (int64, error) {
	prefix := strings.TrimSuffix(pattern, "*")
	var deleted int64
	for key := range f.values {
		if strings.HasPrefix(key, prefix) {
			delete(f.values, key)
			delete(f.ttls, key)
			deleted++
		}
	}
	return deleted, nil
}

func TestRedisBackend_FixedWindow(t *testing.T) {
	store := newFakeSharedStore()
	backend, err := NewRedisBackend(store, logger.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	cfg := Config{MaxRequests: 3, Window: time.Minute, KeyPrefix: "ratelimit:test"}
	key := "ratelimit:test:ip:1.2.3.4"

	// First request initializes the counter with the window TTL.
	result, err := backend.Check(ctx, key, cfg)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, 2, result.Remaining)
	assert.Equal(t, "1", store.values[key])
	assert.Equal(t, time.Minute, store.ttls[key])

	// Subsequent requests increment.
	result, err = backend.Check(ctx, key, cfg)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, 1, result.Remaining)

	result, err = backend.Check(ctx, key, cfg)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, 0, result.Remaining)

	// At the configured maximum the request is denied without INCR.
	result, err = backend.Check(ctx, key, cfg)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, "3", store.values[key])
}

func TestRedisBackend_FailsOpenOnStoreErrors(t *testing.T) {
	cfg := Config{MaxRequests: 3, Window: time.Minute, KeyPrefix: "ratelimit:test"}
	ctx := context.Background()

	t.Run("get failure", func(t *testing.T) {
		store := newFakeSharedStore()
		store.getErr = errors.New("connection refused")
		backend, err := NewRedisBackend(store, logger.NewNop())
		require.NoError(t, err)

		result, err := backend.Check(ctx, "ratelimit:test:ip:1.1.1.1", cfg)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, cfg.MaxRequests-1, result.Remaining)
	})

	t.Run("set failure on fresh window", func(t *testing.T) {
		store := newFakeSharedStore()
		store.setErr = errors.New("readonly replica")
		backend, err := NewRedisBackend(store, logger.NewNop())
		require.NoError(t, err)

		result, err := backend.Check(ctx, "ratelimit:test:ip:1.1.1.1", cfg)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	})

	t.Run("corrupt counter", func(t *testing.T) {
		store := newFakeSharedStore()
		store.values["ratelimit:test:ip:1.1.1.1"] = "not-a-number"
		backend, err := NewRedisBackend(store, logger.NewNop())
		require.NoError(t, err)

		result, err := backend.Check(ctx, "ratelimit:test:ip:1.1.1.1", cfg)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	})

	t.Run("incr failure", func(t *testing.T) {
		store := newFakeSharedStore()
		store.values["ratelimit:test:ip:1.1.1.1"] = "1"
		store.incrErr = errors.New("connection reset")
		backend, err := NewRedisBackend(store, logger.NewNop())
		require.NoError(t, err)

		result, err := backend.Check(ctx, "ratelimit:test:ip:1.1.1.1", cfg)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	})
}

func TestRedisBackend_ResetAndResetAll(t *testing.T) {
	store := newFakeSharedStore()
	backend, err := NewRedisBackend(store, logger.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	cfg := Config{MaxRequests: 1, Window: time.Minute, KeyPrefix: "ratelimit:test"}

	_, err = backend.Check(ctx, "ratelimit:test:ip:1.1.1.1", cfg)
	require.NoError(t, err)
	_, err = backend.Check(ctx, "ratelimit:test:ip:2.2.2.2", cfg)
	require.NoError(t, err)

	require.NoError(t, backend.Reset(ctx, "ratelimit:test:ip:1.1.1.1"))
	_, ok := store.values["ratelimit:test:ip:1.1.1.1"]
	assert.False(t, ok)

	require.NoError(t, backend.ResetAll(ctx, "ratelimit:test"))
	assert.Empty(t, store.values)
}
