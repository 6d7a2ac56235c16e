package security

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillhubio/shield/pkg/logger"
)

// fakeProvider serves a fixed profile and counts lookups.
type fakeProvider struct {
	intel *ThreatIntelligence
	err   error
	calls int
}

func (p *fakeProvider) Lookup(context.Context, string) (*ThreatIntelligence, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.intel, nil
}

func newTestEnricher(t *testing.T, provider Provider, ttl time.Duration) *Enricher {
	t.Helper()
	enricher, err := NewEnricher(provider, 10, ttl, logger.NewNop())
	require.NoError(t, err)
	return enricher
}

func TestEnricher_EnrichMergesIntelAndRaisesRisk(t *testing.T) {
	provider := &fakeProvider{intel: &ThreatIntelligence{
		IPReputationScore: 80,
		IsKnownMalicious:  true,
	}}
	enricher := newTestEnricher(t, provider, time.Hour)

	event := &SecurityEvent{IPAddress: "9.9.9.9", RiskScore: 40}
	require.True(t, enricher.Enrich(context.Background(), event))

	assert.Equal(t, 65, event.RiskScore)
	assert.Equal(t, provider.intel, event.Metadata["threat_intel"])
}

func TestEnricher_RiskScoreClampedAtHundred(t *testing.T) {
	provider := &fakeProvider{intel: &ThreatIntelligence{
		IPReputationScore: 0,
		IsKnownMalicious:  true,
		IsTor:             true,
		BotnetMembership:  true,
	}}
	enricher := newTestEnricher(t, provider, time.Hour)

	event := &SecurityEvent{IPAddress: "9.9.9.9", RiskScore: 90}
	require.True(t, enricher.Enrich(context.Background(), event))
	assert.Equal(t, 100, event.RiskScore)
}

func TestEnricher_CacheAvoidsRepeatLookups(t *testing.T) {
	provider := &fakeProvider{intel: &ThreatIntelligence{IPReputationScore: 80}}
	enricher := newTestEnricher(t, provider, time.Hour)
	ctx := context.Background()

	require.True(t, enricher.Enrich(ctx, &SecurityEvent{IPAddress: "9.9.9.9"}))
	require.True(t, enricher.Enrich(ctx, &SecurityEvent{IPAddress: "9.9.9.9"}))
	assert.Equal(t, 1, provider.calls)

	// A different IP is a separate cache entry.
	require.True(t, enricher.Enrich(ctx, &SecurityEvent{IPAddress: "8.8.8.8"}))
	assert.Equal(t, 2, provider.calls)
}

func TestEnricher_CacheEntryExpires(t *testing.T) {
	provider := &fakeProvider{intel: &ThreatIntelligence{IPReputationScore: 80}}
	enricher := newTestEnricher(t, provider, 10*time.Minute)

	current := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	enricher.now = func() time.Time { return current }
	ctx := context.Background()

	require.True(t, enricher.Enrich(ctx, &SecurityEvent{IPAddress: "9.9.9.9"}))

	current = current.Add(9 * time.Minute)
	require.True(t, enricher.Enrich(ctx, &SecurityEvent{IPAddress: "9.9.9.9"}))
	assert.Equal(t, 1, provider.calls, "fresh entry must be served from cache")

	current = current.Add(2 * time.Minute)
	require.True(t, enricher.Enrich(ctx, &SecurityEvent{IPAddress: "9.9.9.9"}))
	assert.Equal(t, 2, provider.calls, "stale entry must be refetched")
}

func TestEnricher_LookupFailureLeavesEventUntouched(t *testing.T) {
	provider := &fakeProvider{err: errors.New("provider timeout")}
	enricher := newTestEnricher(t, provider, time.Hour)

	event := &SecurityEvent{IPAddress: "9.9.9.9", RiskScore: 40}
	assert.False(t, enricher.Enrich(context.Background(), event))
	assert.Equal(t, 40, event.RiskScore)
	assert.Nil(t, event.Metadata)
}

func TestEnricher_SkipsEventsWithoutIP(t *testing.T) {
	provider := &fakeProvider{intel: &ThreatIntelligence{}}
	enricher := newTestEnricher(t, provider, time.Hour)

	assert.False(t, enricher.Enrich(context.Background(), &SecurityEvent{}))
	assert.Zero(t, provider.calls)
}

func TestIntelRiskDelta(t *testing.T) {
	tests := []struct {
		name  string
		intel ThreatIntelligence
		want  int
	}{
		{"clean high reputation", ThreatIntelligence{IPReputationScore: 80}, 0},
		{"known malicious", ThreatIntelligence{IPReputationScore: 80, IsKnownMalicious: true}, 25},
		{"low reputation", ThreatIntelligence{IPReputationScore: 10}, 15},
		{"tor exit", ThreatIntelligence{IPReputationScore: 80, IsTor: true}, 10},
		{"botnet member", ThreatIntelligence{IPReputationScore: 80, BotnetMembership: true}, 20},
		{"everything", ThreatIntelligence{IsKnownMalicious: true, IsTor: true, BotnetMembership: true}, 70},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, intelRiskDelta(&tt.intel))
		})
	}
}

func TestNewHTTPProvider_Validation(t *testing.T) {
	_, err := NewHTTPProvider("", "", 0, 0)
	assert.Error(t, err)

	provider, err := NewHTTPProvider("https://intel.example.com/v1/ip", "api-key", 0, 0)
	require.NoError(t, err)
	assert.NotNil(t, provider)
}
