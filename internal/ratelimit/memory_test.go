package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillhubio/shield/pkg/logger"
)

func testConfig() Config {
	return Config{
		MaxRequests: 5,
		Window:      time.Minute,
		KeyPrefix:   "ratelimit:test",
	}
}

func TestMemoryBackend_FixedWindow(t *testing.T) {
	current := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	backend := NewMemoryBackend(time.Minute, logger.NewNop(), WithClock(func() time.Time { return current }))
	defer backend.Stop()

	ctx := context.Background()
	cfg := testConfig()

	// First five requests consume the quota.
	for i := 0; i < cfg.MaxRequests; i++ {
		result, err := backend.Check(ctx, "ratelimit:test:ip:1.2.3.4", cfg)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, cfg.MaxRequests-i-1, result.Remaining)
		assert.Equal(t, cfg.MaxRequests, result.Limit)
	}

	// Sixth is denied and does not consume further quota.
	result, err := backend.Check(ctx, "ratelimit:test:ip:1.2.3.4", cfg)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, 0, result.Remaining)
	assert.Equal(t, time.Minute, result.ResetIn)

	// A new window starts fresh.
	current = current.Add(time.Minute + time.Second)
	result, err = backend.Check(ctx, "ratelimit:test:ip:1.2.3.4", cfg)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, cfg.MaxRequests-1, result.Remaining)
}

func TestMemoryBackend_IdentifiersAreIndependent(t *testing.T) {
	backend := NewMemoryBackend(time.Minute, logger.NewNop())
	defer backend.Stop()

	ctx := context.Background()
	cfg := testConfig()

	for i := 0; i < cfg.MaxRequests; i++ {
		_, err := backend.Check(ctx, "ratelimit:test:ip:1.1.1.1", cfg)
		require.NoError(t, err)
	}

	denied, err := backend.Check(ctx, "ratelimit:test:ip:1.1.1.1", cfg)
	require.NoError(t, err)
	assert.False(t, denied.Allowed)

	other, err := backend.Check(ctx, "ratelimit:test:ip:2.2.2.2", cfg)
	require.NoError(t, err)
	assert.True(t, other.Allowed)
}

func TestMemoryBackend_Reset(t *testing.T) {
	backend := NewMemoryBackend(time.Minute, logger.NewNop())
	defer backend.Stop()

	ctx := context.Background()
	cfg := testConfig()

	for i := 0; i < cfg.MaxRequests; i++ {
		_, err := backend.Check(ctx, "ratelimit:test:user:42", cfg)
		require.NoError(t, err)
	}

	require.NoError(t, backend.Reset(ctx, "ratelimit:test:user:42"))

	result, err := backend.Check(ctx, "ratelimit:test:user:42", cfg)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, cfg.MaxRequests-1, result.Remaining)
}

func TestMemoryBackend_ResetAllScopesByPrefix(t *testing.T) {
	backend := NewMemoryBackend(time.Minute, logger.NewNop())
	defer backend.Stop()

	ctx := context.Background()
	cfg := testConfig()

	_, err := backend.Check(ctx, "ratelimit:auth:ip:1.1.1.1", cfg)
	require.NoError(t, err)
	_, err = backend.Check(ctx, "ratelimit:api:ip:1.1.1.1", cfg)
	require.NoError(t, err)

	require.NoError(t, backend.ResetAll(ctx, "ratelimit:auth"))
	assert.Equal(t, 1, backend.Len())
}

func TestMemoryBackend_SweepRemovesExpiredRecords(t *testing.T) {
	current := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	backend := NewMemoryBackend(time.Minute, logger.NewNop(), WithClock(func() time.Time { return current }))
	defer backend.Stop()

	ctx := context.Background()
	cfg := testConfig()

	_, err := backend.Check(ctx, "ratelimit:test:ip:1.1.1.1", cfg)
	require.NoError(t, err)
	_, err = backend.Check(ctx, "ratelimit:test:ip:2.2.2.2", cfg)
	require.NoError(t, err)
	require.Equal(t, 2, backend.Len())

	// Nothing expired yet.
	assert.Equal(t, 0, backend.Sweep())

	current = current.Add(2 * time.Minute)
	assert.Equal(t, 2, backend.Sweep())
	assert.Equal(t, 0, backend.Len())
}
