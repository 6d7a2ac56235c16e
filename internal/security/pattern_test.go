package security

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillhubio/shield/pkg/logger"
)

func newTestDetector(store Store, now time.Time) *Detector {
	d := NewDetector(store, logger.NewNop())
	d.now = func() time.Time { return now }
	return d
}

func TestDetector_BruteForceLogin(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	// Six login failures inside the window cross the >5 threshold.
	for i := 0; i < 6; i++ {
		require.NoError(t, store.SaveEvent(ctx, testEvent(
			fmt.Sprintf("evt_%d", i), EventLoginFailure, now.Add(-time.Duration(i)*time.Minute), "1.2.3.4")))
	}

	report := newTestDetector(store, now).Detect(ctx, "1.2.3.4", time.Hour)
	assert.Contains(t, report.Patterns, PatternBruteForceLogin)
	assert.Equal(t, 30, report.RiskScore)
	assert.Equal(t, 6, report.EventCount)
	require.Len(t, report.Recommendations, 1)
	assert.Contains(t, report.Recommendations[0], "block")
}

func TestDetector_ExactlyFiveFailuresIsNotBruteForce(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.SaveEvent(ctx, testEvent(
			fmt.Sprintf("evt_%d", i), EventLoginFailure, now.Add(-time.Minute), "1.2.3.4")))
	}

	report := newTestDetector(store, now).Detect(ctx, "1.2.3.4", time.Hour)
	assert.NotContains(t, report.Patterns, PatternBruteForceLogin)
	assert.Equal(t, 0, report.RiskScore)
}

func TestDetector_EndpointScanning(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	for i := 0; i < 21; i++ {
		event := testEvent(fmt.Sprintf("evt_%d", i), EventPermissionDenied, now.Add(-time.Minute), "1.2.3.4")
		event.Metadata = map[string]any{"path": fmt.Sprintf("/api/v1/resource/%d", i)}
		require.NoError(t, store.SaveEvent(ctx, event))
	}

	report := newTestDetector(store, now).Detect(ctx, "1.2.3.4", time.Hour)
	assert.Contains(t, report.Patterns, PatternEndpointScanning)
	assert.Equal(t, 25, report.RiskScore)
}

func TestDetector_InjectionAttempts(t *testing.T) {
	tests := []EventType{EventSQLInjection, EventXSSAttempt, EventCommandInjection}
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for _, eventType := range tests {
		t.Run(string(eventType), func(t *testing.T) {
			store := NewMemoryStore()
			ctx := context.Background()
			require.NoError(t, store.SaveEvent(ctx, testEvent("evt_1", eventType, now.Add(-time.Minute), "1.2.3.4")))

			report := newTestDetector(store, now).Detect(ctx, "1.2.3.4", time.Hour)
			assert.Contains(t, report.Patterns, PatternInjectionAttempts)
			assert.Equal(t, 40, report.RiskScore)
		})
	}
}

func TestDetector_AccountEnumeration(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	for i := 0; i < 11; i++ {
		event := testEvent(fmt.Sprintf("evt_%d", i), EventLoginFailure, now.Add(-time.Minute), "1.2.3.4")
		event.Metadata = map[string]any{"username": fmt.Sprintf("user%d", i)}
		require.NoError(t, store.SaveEvent(ctx, event))
	}

	report := newTestDetector(store, now).Detect(ctx, "1.2.3.4", time.Hour)
	assert.Contains(t, report.Patterns, PatternAccountEnumeration)
	// Eleven login failures also cross the brute force threshold.
	assert.Contains(t, report.Patterns, PatternBruteForceLogin)
	assert.Equal(t, 65, report.RiskScore)
}

func TestDetector_DOSAttempt(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	for i := 0; i < 101; i++ {
		require.NoError(t, store.SaveEvent(ctx, testEvent(
			fmt.Sprintf("evt_%d", i), EventRateLimitExceeded, now.Add(-time.Minute), "1.2.3.4")))
	}

	report := newTestDetector(store, now).Detect(ctx, "1.2.3.4", time.Hour)
	assert.Contains(t, report.Patterns, PatternDOSAttempt)
	assert.Equal(t, 50, report.RiskScore)
}

func TestDetector_ScoreIsUnclampedAcrossPatterns(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	// A compound attack: flood of login failures against distinct
	// usernames and paths, plus an injection payload.
	for i := 0; i < 110; i++ {
		event := testEvent(fmt.Sprintf("evt_%d", i), EventLoginFailure, now.Add(-time.Minute), "1.2.3.4")
		event.Metadata = map[string]any{
			"username": fmt.Sprintf("user%d", i),
			"path":     fmt.Sprintf("/login/%d", i),
		}
		require.NoError(t, store.SaveEvent(ctx, event))
	}
	require.NoError(t, store.SaveEvent(ctx, testEvent("evt_inj", EventSQLInjection, now.Add(-time.Minute), "1.2.3.4")))

	report := newTestDetector(store, now).Detect(ctx, "1.2.3.4", time.Hour)
	assert.ElementsMatch(t, []string{
		PatternBruteForceLogin,
		PatternEndpointScanning,
		PatternInjectionAttempts,
		PatternAccountEnumeration,
		PatternDOSAttempt,
	}, report.Patterns)
	assert.Equal(t, 180, report.RiskScore)
}

func TestDetector_WindowExcludesOldEvents(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		require.NoError(t, store.SaveEvent(ctx, testEvent(
			fmt.Sprintf("evt_%d", i), EventLoginFailure, now.Add(-2*time.Hour), "1.2.3.4")))
	}

	report := newTestDetector(store, now).Detect(ctx, "1.2.3.4", time.Hour)
	assert.Empty(t, report.Patterns)
	assert.Equal(t, 0, report.EventCount)
}

func TestDetector_StoreFailureYieldsEmptyReport(t *testing.T) {
	store := newFailingStore()
	store.byIPErr = errors.New("connection refused")
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	report := newTestDetector(store, now).Detect(context.Background(), "1.2.3.4", time.Hour)
	require.NotNil(t, report)
	assert.Empty(t, report.Patterns)
	assert.Zero(t, report.RiskScore)
	assert.Empty(t, report.Recommendations)
}

func TestDetector_ZeroWindowUsesDefault(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	report := newTestDetector(store, now).Detect(context.Background(), "1.2.3.4", 0)
	assert.Equal(t, DefaultPatternWindow.String(), report.Window)
}
