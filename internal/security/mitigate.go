package security

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/skillhubio/shield/internal/metrics"
	"github.com/skillhubio/shield/pkg/logger"
)

// Mitigation action names recorded on events.
const (
	ActionIPBlocked        = "ip_blocked"
	ActionAccountLocked    = "account_locked"
	ActionFileQuarantined  = "file_quarantined"
	ActionSecurityNotified = "security_team_notified"
)

// Default containment durations.
const (
	DefaultIPBlockDuration     = time.Hour
	DefaultAccountLockDuration = 24 * time.Hour
)

// Notifier delivers a mitigation alert to the security team.
type Notifier interface {
	NotifySecurityTeam(ctx context.Context, subject, body string, recipients []string) error
}

// Quarantiner isolates a suspicious uploaded file.
type Quarantiner interface {
	Quarantine(ctx context.Context, fileRef string) error
}

// logNotifier is the base Notifier: it only logs. Deployments plug in
// webhook or email delivery.
type logNotifier struct{ log *logger.Logger }

func (n *logNotifier) NotifySecurityTeam(_ context.Context, subject, body string, recipients []string) error {
	n.log.WithField("subject", subject).
		WithField("recipients", recipients).
		Warn("security team notification: " + body)
	return nil
}

// logQuarantiner is the base Quarantiner: it only logs.
type logQuarantiner struct{ log *logger.Logger }

func (q *logQuarantiner) Quarantine(_ context.Context, fileRef string) error {
	q.log.WithField("file", fileRef).Warn("file flagged for quarantine")
	return nil
}

// Mitigator executes automatic containment for dangerous events. Every
// action failure is logged and swallowed: mitigation is best-effort and
// must never fail the recording path.
type Mitigator struct {
	store       Store
	notifier    Notifier
	quarantiner Quarantiner
	recipients  []string
	log         *logger.Logger
}

// MitigatorOption configures optional collaborators.
type MitigatorOption func(*Mitigator)

// WithTeamNotifier replaces the log-only notifier.
func WithTeamNotifier(n Notifier) MitigatorOption {
	return func(m *Mitigator) { m.notifier = n }
}

// WithQuarantiner replaces the log-only quarantiner.
func WithQuarantiner(q Quarantiner) MitigatorOption {
	return func(m *Mitigator) { m.quarantiner = q }
}

// WithRecipients sets the security-team notification recipients.
func WithRecipients(recipients []string) MitigatorOption {
	return func(m *Mitigator) { m.recipients = recipients }
}

// NewMitigator returns a mitigator persisting containment state to the
// given store.
func NewMitigator(store Store, log *logger.Logger, opts ...MitigatorOption) (*Mitigator, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if log == nil {
		log = logger.NewNop()
	}

	m := &Mitigator{
		store:       store,
		notifier:    &logNotifier{log: log},
		quarantiner: &logQuarantiner{log: log},
		log:         log,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Mitigate runs every containment action the event warrants, records
// the executed action names on the event, and persists the update.
func (m *Mitigator) Mitigate(ctx context.Context, event *SecurityEvent) {
	if highRiskTypes[event.Type] && event.IPAddress != "" {
		m.BlockIP(ctx, event, DefaultIPBlockDuration)
	}

	if (event.Type == EventAccountLockout || event.Type == EventSessionHijacking) && event.UserID != "" {
		m.LockAccount(ctx, event, DefaultAccountLockDuration)
	}

	if event.Type == EventFileUploadMalicious {
		m.quarantineFile(ctx, event)
	}

	if event.Severity == SeverityCritical {
		m.notify(ctx, event)
	}

	if event.Mitigated {
		m.persist(ctx, event)
	}
}

// BlockIP blocks the event's source IP and records the action. Used by
// Mitigate and directly by firing alert rules.
func (m *Mitigator) BlockIP(ctx context.Context, event *SecurityEvent, duration time.Duration) {
	reason := fmt.Sprintf("event %s (%s)", event.ID, event.Type)
	if err := m.store.BlockIP(ctx, event.IPAddress, duration, reason); err != nil {
		m.actionFailed(event, ActionIPBlocked, err)
		return
	}
	m.actionDone(event, ActionIPBlocked)
	m.log.WithField("ip", event.IPAddress).
		WithField("duration", duration.String()).
		WithField("event_id", event.ID).
		Warn("blocked source IP")
}

// LockAccount locks the event's account and records the action.
func (m *Mitigator) LockAccount(ctx context.Context, event *SecurityEvent, duration time.Duration) {
	reason := fmt.Sprintf("event %s (%s)", event.ID, event.Type)
	if err := m.store.LockAccount(ctx, event.UserID, duration, reason); err != nil {
		m.actionFailed(event, ActionAccountLocked, err)
		return
	}
	m.actionDone(event, ActionAccountLocked)
	m.log.WithField("user_id", event.UserID).
		WithField("duration", duration.String()).
		WithField("event_id", event.ID).
		Warn("locked account")
}

// NotifyTeam sends a security-team notification for the event and
// records the action.
func (m *Mitigator) NotifyTeam(ctx context.Context, event *SecurityEvent, recipients []string) {
	if len(recipients) == 0 {
		recipients = m.recipients
	}
	subject := fmt.Sprintf("[shield] %s event %s", event.Severity, event.Type)
	body := fmt.Sprintf("event=%s type=%s severity=%s risk=%d ip=%s user=%s: %s",
		event.ID, event.Type, event.Severity, event.RiskScore,
		event.IPAddress, event.UserID, event.Description)
	if err := m.notifier.NotifySecurityTeam(ctx, subject, body, recipients); err != nil {
		m.actionFailed(event, ActionSecurityNotified, err)
		return
	}
	m.actionDone(event, ActionSecurityNotified)
}

// Persist writes the event's mitigation outcome to the store.
func (m *Mitigator) Persist(ctx context.Context, event *SecurityEvent) {
	m.persist(ctx, event)
}

func (m *Mitigator) quarantineFile(ctx context.Context, event *SecurityEvent) {
	fileRef, _ := event.Metadata["file"].(string)
	if fileRef == "" {
		fileRef = event.ID
	}
	if err := m.quarantiner.Quarantine(ctx, fileRef); err != nil {
		m.actionFailed(event, ActionFileQuarantined, err)
		return
	}
	m.actionDone(event, ActionFileQuarantined)
}

func (m *Mitigator) notify(ctx context.Context, event *SecurityEvent) {
	m.NotifyTeam(ctx, event, nil)
}

func (m *Mitigator) persist(ctx context.Context, event *SecurityEvent) {
	if err := m.store.UpdateEvent(ctx, event); err != nil {
		m.log.WithError(err).WithField("event_id", event.ID).
			Error("failed to persist mitigation outcome")
	}
}

func (m *Mitigator) actionDone(event *SecurityEvent, action string) {
	event.appendMitigation(action)
	metrics.MitigationsTotal.WithLabelValues(action).Inc()
}

func (m *Mitigator) actionFailed(event *SecurityEvent, action string, err error) {
	m.log.WithError(err).
		WithField("event_id", event.ID).
		WithField("action", action).
		Error("mitigation action failed")
}
