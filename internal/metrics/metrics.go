// Package metrics defines Prometheus metrics for the abuse-defense domain.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Rate limit metrics
var (
	// RateLimitChecksTotal tracks rate limit decisions by preset and outcome.
	RateLimitChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shield_ratelimit_checks_total",
			Help: "Total number of rate limit checks by preset and outcome",
		},
		[]string{"preset", "outcome"}, // outcome: "allowed", "denied", "fail_open"
	)

	// RateLimitBackendErrors tracks backend failures during checks.
	RateLimitBackendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shield_ratelimit_backend_errors_total",
			Help: "Total number of rate limit backend errors",
		},
		[]string{"backend"},
	)
)

// Security event metrics
var (
	// SecurityEventsTotal tracks recorded events by type and severity.
	SecurityEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shield_security_events_total",
			Help: "Total number of recorded security events",
		},
		[]string{"type", "severity"},
	)

	// SecurityEventRiskScore tracks the distribution of computed risk scores.
	SecurityEventRiskScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shield_security_event_risk_score",
			Help:    "Risk score of recorded security events",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)

	// EventPersistErrors tracks failed durable-store writes.
	EventPersistErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shield_security_event_persist_errors_total",
			Help: "Total number of failed event persistence attempts",
		},
	)
)

// Alerting and mitigation metrics
var (
	// AlertRulesFired tracks rule firings by rule name.
	AlertRulesFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shield_alert_rules_fired_total",
			Help: "Total number of alert rule firings",
		},
		[]string{"rule"},
	)

	// AlertActionsTotal tracks executed alert actions by type and outcome.
	AlertActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shield_alert_actions_total",
			Help: "Total number of executed alert actions",
		},
		[]string{"action", "outcome"}, // outcome: "ok", "error"
	)

	// MitigationsTotal tracks auto-mitigation actions by type.
	MitigationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shield_mitigations_total",
			Help: "Total number of auto-mitigation actions",
		},
		[]string{"action"},
	)

	// PatternsDetected tracks detected attack patterns by name.
	PatternsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shield_patterns_detected_total",
			Help: "Total number of detected attack patterns",
		},
		[]string{"pattern"},
	)
)

// Threat intel metrics
var (
	// ThreatIntelLookups tracks lookups by outcome.
	ThreatIntelLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shield_threat_intel_lookups_total",
			Help: "Total number of threat intelligence lookups",
		},
		[]string{"outcome"}, // outcome: "cache_hit", "lookup", "error"
	)
)
