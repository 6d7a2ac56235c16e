package security

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/skillhubio/shield/internal/metrics"
	"github.com/skillhubio/shield/pkg/logger"
)

// EventSource tags every event recorded through this service.
const EventSource = "shield"

// DefaultRingCapacity bounds the in-memory analytics buffer.
const DefaultRingCapacity = 10000

// Publisher forwards recorded events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, event *SecurityEvent) error
}

// RecordInput carries the caller-supplied fields of a new event.
type RecordInput struct {
	Type          EventType
	Severity      Severity
	Description   string
	Metadata      map[string]any
	UserID        string
	IPAddress     string
	UserAgent     string
	CorrelationID string
}

// Monitor is the event pipeline entry point. Recording is fully
// synchronous: by the time Record returns, the event is scored,
// buffered, persisted (best effort), evaluated against alert rules,
// enriched, and mitigated if critical.
type Monitor struct {
	ring      *eventRing
	store     Store
	rules     *RuleEngine
	mitigator *Mitigator
	detector  *Detector
	enricher  *Enricher
	publisher Publisher
	log       *logger.Logger
	now       func() time.Time
}

// MonitorOption configures optional collaborators.
type MonitorOption func(*Monitor)

// WithEnricher enables threat-intelligence enrichment.
func WithEnricher(e *Enricher) MonitorOption {
	return func(m *Monitor) { m.enricher = e }
}

// WithPublisher enables event publishing to downstream consumers.
func WithPublisher(p Publisher) MonitorOption {
	return func(m *Monitor) { m.publisher = p }
}

// WithNotifier replaces the mitigator's log-only notifier.
func WithNotifier(n Notifier) MonitorOption {
	return func(m *Monitor) { m.mitigator.notifier = n }
}

// WithActionDispatcher replaces the rule engine's log-only webhook and
// email delivery.
func WithActionDispatcher(d ActionDispatcher) MonitorOption {
	return func(m *Monitor) { m.rules.dispatcher = d }
}

// WithMonitorClock overrides the time source. Used in tests.
func WithMonitorClock(now func() time.Time) MonitorOption {
	return func(m *Monitor) {
		m.now = now
		m.rules.now = now
		m.detector.now = now
	}
}

// NewMonitor wires the pipeline around a store. ringCapacity <= 0
// selects the default.
func NewMonitor(store Store, ringCapacity int, log *logger.Logger, opts ...MonitorOption) (*Monitor, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if ringCapacity <= 0 {
		ringCapacity = DefaultRingCapacity
	}
	if log == nil {
		log = logger.NewNop()
	}

	mitigator, err := NewMitigator(store, log)
	if err != nil {
		return nil, err
	}
	rules, err := NewRuleEngine(store, mitigator, nil, log)
	if err != nil {
		return nil, err
	}

	m := &Monitor{
		ring:      newEventRing(ringCapacity),
		store:     store,
		rules:     rules,
		mitigator: mitigator,
		detector:  NewDetector(store, log),
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Rules exposes the rule engine for runtime rule management.
func (m *Monitor) Rules() *RuleEngine { return m.rules }

// Detector exposes the pattern detector.
func (m *Monitor) Detector() *Detector { return m.detector }

// Mitigator exposes the auto-mitigator for operator tooling.
func (m *Monitor) Mitigator() *Mitigator { return m.mitigator }

// Store exposes the backing store for read helpers.
func (m *Monitor) Store() Store { return m.store }

// Record runs the full pipeline for one occurrence and returns the
// final event. Only invalid input produces an error; infrastructure
// failures degrade individual steps and are logged.
func (m *Monitor) Record(ctx context.Context, in RecordInput) (*SecurityEvent, error) {
	if !in.Type.IsValid() {
		return nil, fmt.Errorf("unknown event type: %q", in.Type)
	}
	if in.Severity < SeverityInfo || in.Severity > SeverityCritical {
		return nil, fmt.Errorf("severity out of range: %d", in.Severity)
	}

	now := m.now()
	event := &SecurityEvent{
		ID:            NewEventID(now),
		Type:          in.Type,
		Severity:      in.Severity,
		Timestamp:     now,
		Source:        EventSource,
		Description:   in.Description,
		Metadata:      sanitizeMetadata(in.Metadata),
		UserID:        in.UserID,
		IPAddress:     in.IPAddress,
		UserAgent:     in.UserAgent,
		CorrelationID: in.CorrelationID,
	}
	event.RiskScore = computeRiskScore(event.Type, event.Severity, event.Metadata)

	metrics.SecurityEventsTotal.WithLabelValues(string(event.Type), event.Severity.String()).Inc()
	metrics.SecurityEventRiskScore.Observe(float64(event.RiskScore))

	slot := m.ring.Append(event)

	if err := m.store.SaveEvent(ctx, event); err != nil {
		metrics.EventPersistErrors.Inc()
		m.log.WithError(err).WithField("event_id", event.ID).
			Error("failed to persist security event, keeping in-memory copy")
	}

	m.logEvent(event)

	m.rules.Evaluate(ctx, event)

	enriched := false
	if m.enricher != nil && event.IPAddress != "" {
		if m.enricher.Enrich(ctx, event) {
			enriched = true
			if err := m.store.UpdateEvent(ctx, event); err != nil {
				m.log.WithError(err).WithField("event_id", event.ID).
					Warn("failed to persist threat intel enrichment")
			}
		}
	}

	if event.Severity == SeverityCritical {
		m.mitigator.Mitigate(ctx, event)
	}

	// Refresh the buffered copy only when a later stage changed the
	// event; the common unenriched, unmitigated case skips the write.
	if enriched || event.Mitigated {
		m.ring.UpdateAt(slot, event)
	}

	if m.publisher != nil {
		if err := m.publisher.Publish(ctx, event); err != nil {
			m.log.WithError(err).WithField("event_id", event.ID).
				Warn("failed to publish security event")
		}
	}

	return event, nil
}

// logEvent mirrors the event into the structured log, at error level
// for high and critical severities.
func (m *Monitor) logEvent(event *SecurityEvent) {
	entry := m.log.
		WithField("event_id", event.ID).
		WithField("type", string(event.Type)).
		WithField("severity", event.Severity.String()).
		WithField("risk_score", event.RiskScore).
		WithField("ip", event.IPAddress).
		WithField("user_id", event.UserID)
	if event.Severity >= SeverityHigh {
		entry.Error("security event: " + event.Description)
		return
	}
	entry.Warn("security event: " + event.Description)
}

// GetEvent loads one event by id.
func (m *Monitor) GetEvent(ctx context.Context, id string) (*SecurityEvent, error) {
	return m.store.GetEvent(ctx, id)
}

// MarkFalsePositive flags a stored event as a false positive. This is
// the only operator-settable event field.
func (m *Monitor) MarkFalsePositive(ctx context.Context, id string) error {
	event, err := m.store.GetEvent(ctx, id)
	if err != nil {
		return err
	}
	event.FalsePositive = true
	if err := m.store.UpdateEvent(ctx, event); err != nil {
		return err
	}
	m.ring.Update(event)
	return nil
}

// IPSummary ranks a source IP for the dashboard.
type IPSummary struct {
	IPAddress  string `json:"ip_address"`
	EventCount int    `json:"event_count"`
	MaxRisk    int    `json:"max_risk"`
}

// Dashboard aggregates recent activity for operators.
type Dashboard struct {
	TimeRange      string            `json:"time_range"`
	TotalEvents    int               `json:"total_events"`
	EventsByType   map[EventType]int `json:"events_by_type"`
	EventsBySev    map[string]int    `json:"events_by_severity"`
	TopSourceIPs   []IPSummary       `json:"top_source_ips"`
	RecentCritical []*SecurityEvent  `json:"recent_critical"`
	Health         string            `json:"health"`
	HealthIssues   []string          `json:"health_issues,omitempty"`
	GeneratedAt    time.Time         `json:"generated_at"`
}

// Health verdicts.
const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
	HealthCritical = "critical"
)

// Dashboard thresholds.
const (
	dashboardTopIPs         = 10
	dashboardCriticalCap    = 20
	dashboardCriticalWindow = 24 * time.Hour
	healthCriticalPerHour   = 5
	healthHighPerHour       = 20
	healthVolumePerHour     = 500
)

// GetDashboard aggregates ring-buffered events recorded within the
// time range. The durable store is not consulted: the dashboard is a
// fast local view and stays available when the shared store is down.
func (m *Monitor) GetDashboard(timeRange time.Duration) *Dashboard {
	if timeRange <= 0 {
		timeRange = time.Hour
	}
	now := m.now()
	events := m.ring.Since(now.Add(-timeRange))

	dash := &Dashboard{
		TimeRange:    timeRange.String(),
		TotalEvents:  len(events),
		EventsByType: make(map[EventType]int),
		EventsBySev:  make(map[string]int),
		GeneratedAt:  now,
	}

	byIP := make(map[string]*IPSummary)
	for _, event := range events {
		dash.EventsByType[event.Type]++
		dash.EventsBySev[event.Severity.String()]++
		if event.IPAddress == "" {
			continue
		}
		summary, ok := byIP[event.IPAddress]
		if !ok {
			summary = &IPSummary{IPAddress: event.IPAddress}
			byIP[event.IPAddress] = summary
		}
		summary.EventCount++
		if event.RiskScore > summary.MaxRisk {
			summary.MaxRisk = event.RiskScore
		}
	}

	dash.TopSourceIPs = topIPs(byIP, dashboardTopIPs)
	dash.RecentCritical = m.recentCritical(now)
	dash.Health, dash.HealthIssues = m.healthVerdict(now)
	return dash
}

// topIPs ranks IPs by (max risk, event count) descending.
func topIPs(byIP map[string]*IPSummary, limit int) []IPSummary {
	out := make([]IPSummary, 0, len(byIP))
	for _, summary := range byIP {
		out = append(out, *summary)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MaxRisk != out[j].MaxRisk {
			return out[i].MaxRisk > out[j].MaxRisk
		}
		if out[i].EventCount != out[j].EventCount {
			return out[i].EventCount > out[j].EventCount
		}
		return out[i].IPAddress < out[j].IPAddress
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// recentCritical returns the newest critical events of the last 24h.
func (m *Monitor) recentCritical(now time.Time) []*SecurityEvent {
	var out []*SecurityEvent
	for _, event := range m.ring.Since(now.Add(-dashboardCriticalWindow)) {
		if event.Severity == SeverityCritical {
			out = append(out, event)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > dashboardCriticalCap {
		out = out[:dashboardCriticalCap]
	}
	return out
}

// healthVerdict applies rule-of-thumb thresholds over the last hour:
// critical-event rate, high-severity rate, and overall event volume.
func (m *Monitor) healthVerdict(now time.Time) (string, []string) {
	var critical, high int
	lastHour := m.ring.Since(now.Add(-time.Hour))
	for _, event := range lastHour {
		switch event.Severity {
		case SeverityCritical:
			critical++
		case SeverityHigh:
			high++
		}
	}

	var issues []string
	if critical > healthCriticalPerHour {
		issues = append(issues, fmt.Sprintf("%d critical events in the last hour", critical))
	}
	if high > healthHighPerHour {
		issues = append(issues, fmt.Sprintf("%d high-severity events in the last hour", high))
	}
	if len(lastHour) > healthVolumePerHour {
		issues = append(issues, fmt.Sprintf("%d events in the last hour", len(lastHour)))
	}

	switch {
	case len(issues) == 0:
		return HealthHealthy, nil
	case len(issues) <= 2:
		return HealthDegraded, issues
	default:
		return HealthCritical, issues
	}
}
