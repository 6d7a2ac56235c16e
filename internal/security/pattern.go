package security

import (
	"context"
	"time"

	"github.com/skillhubio/shield/internal/metrics"
	"github.com/skillhubio/shield/pkg/logger"
)

// Detected pattern names.
const (
	PatternBruteForceLogin    = "brute_force_login"
	PatternEndpointScanning   = "endpoint_scanning"
	PatternInjectionAttempts  = "injection_attempts"
	PatternAccountEnumeration = "account_enumeration"
	PatternDOSAttempt         = "dos_attempt"
)

// DefaultPatternWindow is the history window Detect examines.
const DefaultPatternWindow = time.Hour

// PatternReport summarizes suspicious behavior from one IP. The risk
// score is the raw sum of matched-pattern weights and is deliberately
// not clamped: values past 100 signal compound attacks.
type PatternReport struct {
	IPAddress       string    `json:"ip_address"`
	Window          string    `json:"window"`
	EventCount      int       `json:"event_count"`
	Patterns        []string  `json:"patterns"`
	RiskScore       int       `json:"risk_score"`
	Recommendations []string  `json:"recommendations"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// Detector inspects an IP's recent event history for known attack
// shapes. Detection is advisory: it never blocks, mutates, or errors.
type Detector struct {
	store Store
	log   *logger.Logger
	now   func() time.Time
}

// NewDetector returns a detector reading from the given store.
func NewDetector(store Store, log *logger.Logger) *Detector {
	if log == nil {
		log = logger.NewNop()
	}
	return &Detector{store: store, log: log, now: time.Now}
}

// Detect evaluates all pattern heuristics over the IP's events inside
// the window. Heuristics are additive: an IP can match several at
// once. A store failure yields an empty report, never an error.
func (d *Detector) Detect(ctx context.Context, ip string, window time.Duration) *PatternReport {
	if window <= 0 {
		window = DefaultPatternWindow
	}
	now := d.now()
	report := &PatternReport{
		IPAddress:   ip,
		Window:      window.String(),
		GeneratedAt: now,
	}

	events, err := d.store.EventsByIP(ctx, ip, now.Add(-window))
	if err != nil {
		d.log.WithError(err).WithField("ip", ip).
			Warn("pattern detection query failed, returning empty report")
		return report
	}
	report.EventCount = len(events)

	var (
		loginFailures int
		distinctPaths = map[string]bool{}
		distinctUsers = map[string]bool{}
		sawInjection  bool
		recentFiveMin int
		fiveMinCutoff = now.Add(-5 * time.Minute)
	)
	for _, event := range events {
		if event.Type == EventLoginFailure {
			loginFailures++
			if username, ok := event.Metadata["username"].(string); ok && username != "" {
				distinctUsers[username] = true
			}
		}
		if path, ok := event.Metadata["path"].(string); ok && path != "" {
			distinctPaths[path] = true
		}
		if injectionTypes[event.Type] {
			sawInjection = true
		}
		if !event.Timestamp.Before(fiveMinCutoff) {
			recentFiveMin++
		}
	}

	if loginFailures > 5 {
		d.match(report, PatternBruteForceLogin, 30,
			"temporarily block this IP; repeated login failures observed")
	}
	if len(distinctPaths) > 20 {
		d.match(report, PatternEndpointScanning, 25,
			"tighten rate limits for this IP; it is probing many distinct endpoints")
	}
	if sawInjection {
		d.match(report, PatternInjectionAttempts, 40,
			"block this IP immediately; injection payloads observed")
	}
	if len(distinctUsers) > 10 {
		d.match(report, PatternAccountEnumeration, 35,
			"require CAPTCHA on failed logins; username probing observed")
	}
	if recentFiveMin > 100 {
		d.match(report, PatternDOSAttempt, 50,
			"apply emergency rate limiting; request flood in the last five minutes")
	}

	return report
}

func (d *Detector) match(report *PatternReport, pattern string, weight int, recommendation string) {
	report.Patterns = append(report.Patterns, pattern)
	report.RiskScore += weight
	report.Recommendations = append(report.Recommendations, recommendation)
	metrics.PatternsDetected.WithLabelValues(pattern).Inc()
}
