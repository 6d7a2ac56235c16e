package notification

import (
	"context"
	"errors"
	"fmt"

	"github.com/skillhubio/shield/pkg/logger"
)

// Dispatcher fans security alerts out to the configured delivery
// channels. It satisfies both the mitigator's Notifier and the rule
// engine's ActionDispatcher contracts.
type Dispatcher struct {
	webhook Client
	email   Client
	log     *logger.Logger
}

// NewDispatcher builds a dispatcher from the available channels.
// Either client may be nil; delivery falls back to logging.
func NewDispatcher(webhook, email Client, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.NewNop()
	}
	return &Dispatcher{webhook: webhook, email: email, log: log}
}

// NotifySecurityTeam delivers a mitigation alert over every configured
// channel. It errors only when all configured channels fail.
func (d *Dispatcher) NotifySecurityTeam(ctx context.Context, subject, body string, recipients []string) error {
	msg := Message{
		Title:      subject,
		Body:       body,
		Severity:   "critical",
		Recipients: recipients,
	}

	var delivered, attempted int
	for _, client := range []Client{d.webhook, d.email} {
		if client == nil {
			continue
		}
		attempted++
		if d.deliver(ctx, client, msg) {
			delivered++
		}
	}

	if attempted == 0 {
		d.log.WithField("subject", subject).Warn("security team notification (no channels configured)")
		return nil
	}
	if delivered == 0 {
		return errors.New("all notification channels failed")
	}
	return nil
}

// SendWebhook posts an alert-rule payload to an explicit URL.
func (d *Dispatcher) SendWebhook(ctx context.Context, url string, payload any) error {
	client, err := NewWebhookClient(Config{Provider: ProviderWebhook, WebhookURL: url})
	if err != nil {
		return err
	}
	msg := Message{
		Title:    "shield alert rule fired",
		Body:     fmt.Sprintf("%v", payload),
		Severity: "high",
	}
	if !d.deliver(ctx, client, msg) {
		return fmt.Errorf("webhook delivery to %s failed", url)
	}
	return nil
}

// SendEmail delivers an alert-rule email to the given recipients.
func (d *Dispatcher) SendEmail(ctx context.Context, subject, body string, recipients []string) error {
	if d.email == nil {
		d.log.WithField("subject", subject).Warn("email alert skipped (smtp not configured)")
		return nil
	}
	msg := Message{
		Title:      subject,
		Body:       body,
		Severity:   "high",
		Recipients: recipients,
	}
	if !d.deliver(ctx, d.email, msg) {
		return errors.New("email delivery failed")
	}
	return nil
}

// deliver sends one message and logs channel-level failures.
func (d *Dispatcher) deliver(ctx context.Context, client Client, msg Message) bool {
	result, err := client.Send(ctx, msg)
	if err != nil {
		d.log.WithError(err).WithField("provider", client.Provider()).
			Error("notification send failed")
		return false
	}
	if !result.Success {
		d.log.WithField("provider", client.Provider()).
			WithField("error", result.Error).
			Error("notification rejected by provider")
		return false
	}
	return true
}
