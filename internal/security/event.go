// Package security implements the security-event pipeline: typed event
// recording with risk scoring, pattern detection over recent history,
// threshold alert rules, and automatic mitigation.
package security

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// EventType classifies a security-relevant occurrence.
type EventType string

// Event taxonomy.
const (
	EventLoginFailure         EventType = "login_failure"
	EventLoginSuccess         EventType = "login_success"
	EventPasswordResetRequest EventType = "password_reset_request"
	EventAccountLockout       EventType = "account_lockout"
	EventSessionHijacking     EventType = "session_hijacking"
	EventPermissionDenied     EventType = "permission_denied"
	EventSQLInjection         EventType = "sql_injection"
	EventXSSAttempt           EventType = "xss_attempt"
	EventCommandInjection     EventType = "command_injection"
	EventPathTraversal        EventType = "path_traversal"
	EventRateLimitExceeded    EventType = "rate_limit_exceeded"
	EventEndpointScanning     EventType = "endpoint_scanning"
	EventFileUploadMalicious  EventType = "file_upload_malicious"
	EventPaymentFraudAttempt  EventType = "payment_fraud_attempt"
	EventAPIAbuse             EventType = "api_abuse"
	EventDataExfiltration     EventType = "data_exfiltration"
	EventMalwareDetected      EventType = "malware_detected"
	EventSystemCompromise     EventType = "system_compromise"
)

// knownEventTypes is used for API payload validation.
var knownEventTypes = map[EventType]bool{
	EventLoginFailure: true, EventLoginSuccess: true,
	EventPasswordResetRequest: true, EventAccountLockout: true,
	EventSessionHijacking: true, EventPermissionDenied: true,
	EventSQLInjection: true, EventXSSAttempt: true,
	EventCommandInjection: true, EventPathTraversal: true,
	EventRateLimitExceeded: true, EventEndpointScanning: true,
	EventFileUploadMalicious: true, EventPaymentFraudAttempt: true,
	EventAPIAbuse: true, EventDataExfiltration: true,
	EventMalwareDetected: true, EventSystemCompromise: true,
}

// IsValid reports whether the type is part of the taxonomy.
func (t EventType) IsValid() bool {
	return knownEventTypes[t]
}

// AllEventTypes returns the taxonomy in stable order. Used by tooling
// that aggregates across the per-type store indices.
func AllEventTypes() []EventType {
	out := make([]EventType, 0, len(knownEventTypes))
	for t := range knownEventTypes {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// highRiskTypes add a flat risk bonus and trigger IP blocks on mitigation.
var highRiskTypes = map[EventType]bool{
	EventSQLInjection:     true,
	EventSystemCompromise: true,
	EventMalwareDetected:  true,
}

// injectionTypes are treated as immediate-block signals by the
// pattern detector.
var injectionTypes = map[EventType]bool{
	EventSQLInjection:     true,
	EventXSSAttempt:       true,
	EventCommandInjection: true,
}

// Severity orders event importance: info < low < medium < high < critical.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = [...]string{"info", "low", "medium", "high", "critical"}

// String returns the severity name.
func (s Severity) String() string {
	if s < SeverityInfo || s > SeverityCritical {
		return "unknown"
	}
	return severityNames[s]
}

// ParseSeverity converts a severity name to its ordered value.
func ParseSeverity(name string) (Severity, error) {
	for i, n := range severityNames {
		if strings.EqualFold(name, n) {
			return Severity(i), nil
		}
	}
	return SeverityInfo, fmt.Errorf("unknown severity: %q", name)
}

// MarshalJSON encodes the severity as its name.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a severity name.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseSeverity(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// SecurityEvent is one recorded occurrence. Core fields are immutable
// after creation; only the risk score, mitigation outcome, and
// operator-set false-positive flag may change, through the named update
// paths on the Monitor.
type SecurityEvent struct {
	ID            string         `json:"id"`
	Type          EventType      `json:"type"`
	Severity      Severity       `json:"severity"`
	Timestamp     time.Time      `json:"timestamp"`
	Source        string         `json:"source"`
	Description   string         `json:"description"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	UserID        string         `json:"user_id,omitempty"`
	IPAddress     string         `json:"ip_address,omitempty"`
	UserAgent     string         `json:"user_agent,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	RiskScore     int            `json:"risk_score"`
	Mitigated     bool           `json:"mitigated"`
	FalsePositive bool           `json:"false_positive"`
}

// metadataKeyMitigations holds the executed mitigation action names.
const metadataKeyMitigations = "mitigationActions"

// MitigationActions returns the executed action names recorded on
// the event.
func (e *SecurityEvent) MitigationActions() []string {
	raw, ok := e.Metadata[metadataKeyMitigations]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// appendMitigation records one executed action name on the event.
func (e *SecurityEvent) appendMitigation(action string) {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	e.Metadata[metadataKeyMitigations] = append(e.MitigationActions(), action)
	e.Mitigated = true
}

// NewEventID generates a unique, roughly time-ordered event id.
// The millisecond prefix keeps ids sortable by creation time.
func NewEventID(now time.Time) string {
	return fmt.Sprintf("evt_%013d_%s", now.UnixMilli(), uuid.New().String()[:8])
}

// Risk score contributions.
const (
	riskSeverityWeight  = 20
	riskHighRiskType    = 30
	riskAutomated       = 15
	riskRepeated        = 20
	riskUnauthenticated = 10
	riskScoreMax        = 100
)

// computeRiskScore derives the initial 0-100 risk estimate from
// severity, event type, and contextual metadata flags.
func computeRiskScore(eventType EventType, severity Severity, metadata map[string]any) int {
	score := int(severity) * riskSeverityWeight

	if highRiskTypes[eventType] {
		score += riskHighRiskType
	}
	if flag, ok := metadata["automated"].(bool); ok && flag {
		score += riskAutomated
	}
	if flag, ok := metadata["repeated"].(bool); ok && flag {
		score += riskRepeated
	}
	if flag, ok := metadata["authenticated"].(bool); ok && !flag {
		score += riskUnauthenticated
	}

	return clampScore(score)
}

// clampScore bounds a risk score to [0, 100].
func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > riskScoreMax {
		return riskScoreMax
	}
	return score
}

// maxMetadataStringLen bounds every string value stored in event metadata.
const maxMetadataStringLen = 1000

// sensitiveMetadataKeys flags metadata keys whose values are redacted.
var sensitiveMetadataKeys = []string{"password", "secret", "token", "key"}

// sanitizeMetadata redacts credential-looking values and truncates
// oversized strings. Nested values are stringified before truncation so
// the stored record stays bounded.
func sanitizeMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}

	out := make(map[string]any, len(metadata))
	for key, value := range metadata {
		if isSensitiveKey(key) {
			out[key] = "[REDACTED]"
			continue
		}

		switch v := value.(type) {
		case string:
			out[key] = truncate(v, maxMetadataStringLen)
		case bool, int, int32, int64, float32, float64, nil:
			out[key] = v
		default:
			data, err := json.Marshal(v)
			if err != nil {
				out[key] = fmt.Sprintf("%v", v)
				continue
			}
			out[key] = truncate(string(data), maxMetadataStringLen)
		}
	}
	return out
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveMetadataKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// truncate cuts s to at most max bytes without splitting a rune, so
// stored metadata stays valid UTF-8.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
