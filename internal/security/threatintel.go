package security

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/skillhubio/shield/internal/metrics"
	"github.com/skillhubio/shield/pkg/logger"
)

// ThreatIntelligence is the reputation profile of a source IP.
type ThreatIntelligence struct {
	IPReputationScore int      `json:"ip_reputation_score"`
	IsKnownMalicious  bool     `json:"is_known_malicious"`
	IsVPN             bool     `json:"is_vpn"`
	IsTor             bool     `json:"is_tor"`
	Country           string   `json:"country,omitempty"`
	ASN               string   `json:"asn,omitempty"`
	MalwareSignatures []string `json:"malware_signatures,omitempty"`
	BotnetMembership  bool     `json:"botnet_membership"`
}

// Provider looks up reputation data for an IP.
type Provider interface {
	Lookup(ctx context.Context, ip string) (*ThreatIntelligence, error)
}

// HTTPProvider queries an external reputation API. Outbound calls are
// throttled so a burst of events cannot exhaust the provider quota.
type HTTPProvider struct {
	endpoint string
	apiKey   string
	client   *http.Client
	limiter  *rate.Limiter
}

// NewHTTPProvider returns a throttled provider for the given endpoint.
func NewHTTPProvider(endpoint, apiKey string, timeout time.Duration, lookupsPerSec float64) (*HTTPProvider, error) {
	if endpoint == "" {
		return nil, errors.New("endpoint is required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if lookupsPerSec <= 0 {
		lookupsPerSec = 10
	}
	return &HTTPProvider{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(rate.Limit(lookupsPerSec), int(lookupsPerSec)+1),
	}, nil
}

// Lookup fetches the reputation profile for an IP.
func (p *HTTPProvider) Lookup(ctx context.Context, ip string) (*ThreatIntelligence, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("threat intel throttle: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"/"+ip, nil)
	if err != nil {
		return nil, fmt.Errorf("threat intel request: %w", err)
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("threat intel lookup %s: %w", ip, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("threat intel lookup %s: unexpected status %d", ip, resp.StatusCode)
	}

	var intel ThreatIntelligence
	if err := json.NewDecoder(resp.Body).Decode(&intel); err != nil {
		return nil, fmt.Errorf("threat intel decode: %w", err)
	}
	return &intel, nil
}

// cachedIntel timestamps a lookup result so cache entries can expire.
type cachedIntel struct {
	intel   *ThreatIntelligence
	fetched time.Time
}

// Enricher adds reputation context to events. Concurrent lookups for
// the same IP are collapsed to one provider call; results are cached
// with a TTL.
type Enricher struct {
	provider Provider
	cache    *lru.Cache[string, cachedIntel]
	group    singleflight.Group
	cacheTTL time.Duration
	log      *logger.Logger
	now      func() time.Time
}

// NewEnricher wraps a provider with caching and lookup deduplication.
func NewEnricher(provider Provider, cacheSize int, cacheTTL time.Duration, log *logger.Logger) (*Enricher, error) {
	if provider == nil {
		return nil, errors.New("provider is required")
	}
	if cacheSize <= 0 {
		cacheSize = 10000
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}
	if log == nil {
		log = logger.NewNop()
	}

	cache, err := lru.New[string, cachedIntel](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("threat intel cache: %w", err)
	}
	return &Enricher{
		provider: provider,
		cache:    cache,
		cacheTTL: cacheTTL,
		log:      log,
		now:      time.Now,
	}, nil
}

// Enrich looks up the event's source IP and, on success, merges the
// profile into metadata and raises the risk score. Lookup failures
// leave the event untouched.
func (e *Enricher) Enrich(ctx context.Context, event *SecurityEvent) bool {
	if event.IPAddress == "" {
		return false
	}

	intel, err := e.lookup(ctx, event.IPAddress)
	if err != nil {
		metrics.ThreatIntelLookups.WithLabelValues("error").Inc()
		e.log.WithError(err).WithField("ip", event.IPAddress).Debug("threat intel lookup failed")
		return false
	}

	if event.Metadata == nil {
		event.Metadata = make(map[string]any)
	}
	event.Metadata["threat_intel"] = intel
	event.RiskScore = clampScore(event.RiskScore + intelRiskDelta(intel))
	return true
}

// lookup serves from cache when fresh, otherwise collapses concurrent
// misses into one provider call.
func (e *Enricher) lookup(ctx context.Context, ip string) (*ThreatIntelligence, error) {
	if entry, ok := e.cache.Get(ip); ok && e.now().Sub(entry.fetched) < e.cacheTTL {
		metrics.ThreatIntelLookups.WithLabelValues("cache_hit").Inc()
		return entry.intel, nil
	}

	result, err, _ := e.group.Do(ip, func() (any, error) {
		intel, err := e.provider.Lookup(ctx, ip)
		if err != nil {
			return nil, err
		}
		e.cache.Add(ip, cachedIntel{intel: intel, fetched: e.now()})
		return intel, nil
	})
	if err != nil {
		return nil, err
	}
	metrics.ThreatIntelLookups.WithLabelValues("lookup").Inc()
	return result.(*ThreatIntelligence), nil
}

// intelRiskDelta maps reputation signals to a risk score increase.
func intelRiskDelta(intel *ThreatIntelligence) int {
	delta := 0
	if intel.IsKnownMalicious {
		delta += 25
	}
	if intel.IPReputationScore < 20 {
		delta += 15
	}
	if intel.IsTor {
		delta += 10
	}
	if intel.BotnetMembership {
		delta += 20
	}
	return delta
}
