package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookClient posts alerts as JSON to a configured endpoint.
type WebhookClient struct {
	webhookURL string
	httpClient *http.Client
}

// NewWebhookClient creates a generic webhook delivery client.
func NewWebhookClient(config Config) (*WebhookClient, error) {
	if config.WebhookURL == "" {
		return nil, fmt.Errorf("webhook URL is required")
	}

	return &WebhookClient{
		webhookURL: config.WebhookURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// Provider returns the provider name.
func (c *WebhookClient) Provider() string {
	return string(ProviderWebhook)
}

// WebhookPayload is the JSON body posted to the endpoint.
type WebhookPayload struct {
	EventType string            `json:"event_type"`
	Timestamp string            `json:"timestamp"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Severity  string            `json:"severity"`
	Fields    map[string]string `json:"fields,omitempty"`
	Color     string            `json:"color,omitempty"`
	Source    string            `json:"source"`
}

// Send posts one alert to the webhook.
func (c *WebhookClient) Send(ctx context.Context, msg Message) (*SendResult, error) {
	payload := WebhookPayload{
		EventType: "security_alert",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Title:     msg.Title,
		Body:      msg.Body,
		Severity:  msg.Severity,
		Fields:    msg.Fields,
		Color:     SeverityColor(msg.Severity),
		Source:    "shield",
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(payloadBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Shield-Notification/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &SendResult{
			Success: false,
			Error:   fmt.Sprintf("send request failed: %v", err),
		}, nil
	}
	defer func() { _ = resp.Body.Close() }()

	// SECURITY: Limit response body to 1MB to prevent memory exhaustion from malicious responses
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	// Accept 2xx status codes as success
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &SendResult{
			Success: false,
			Error:   fmt.Sprintf("webhook returned status %d: %s", resp.StatusCode, string(body)),
		}, nil
	}

	return &SendResult{
		Success: true,
	}, nil
}
