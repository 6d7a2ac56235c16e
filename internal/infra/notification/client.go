// Package notification delivers security alerts to operators over
// webhooks and SMTP email.
package notification

import (
	"context"
	"fmt"
)

// Message is one alert to deliver.
type Message struct {
	Title      string            // Message title/subject
	Body       string            // Main message body
	Severity   string            // critical, high, medium, low, info
	Fields     map[string]string // Additional fields to display
	Recipients []string          // Recipient override (email provider)
}

// SendResult reports the outcome of a delivery attempt. Provider-side
// failures are reported in the result, not as errors: alert delivery
// is best effort and the caller decides how to degrade.
type SendResult struct {
	Success bool
	Error   string
}

// Client is a single delivery channel.
type Client interface {
	// Send delivers one alert message.
	Send(ctx context.Context, msg Message) (*SendResult, error)

	// Provider returns the channel name.
	Provider() string
}

// Provider names a delivery channel.
type Provider string

const (
	ProviderWebhook Provider = "webhook"
	ProviderEmail   Provider = "email"
)

// Config selects and configures a delivery channel.
type Config struct {
	Provider   Provider
	WebhookURL string       // For the webhook provider
	Email      *EmailConfig // For the email provider
}

// NewClient creates a delivery client for the configured provider.
func NewClient(config Config) (Client, error) {
	switch config.Provider {
	case ProviderWebhook:
		return NewWebhookClient(config)
	case ProviderEmail:
		return NewEmailClient(config)
	default:
		return nil, fmt.Errorf("unsupported notification provider: %s", config.Provider)
	}
}

// SeverityColor returns a hex color for the given severity.
func SeverityColor(severity string) string {
	switch severity {
	case "critical":
		return "#dc2626"
	case "high":
		return "#ea580c"
	case "medium":
		return "#ca8a04"
	case "low":
		return "#2563eb"
	default:
		return "#6b7280"
	}
}
