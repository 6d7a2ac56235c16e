package notification

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// EmailClient delivers alerts via SMTP.
type EmailClient struct {
	config EmailConfig
}

// EmailConfig holds the SMTP configuration.
type EmailConfig struct {
	SMTPHost    string   // SMTP server host
	SMTPPort    int      // SMTP server port (25, 465, 587)
	Username    string   // SMTP username
	Password    string   // SMTP password
	FromEmail   string   // Sender email address
	FromName    string   // Sender display name
	ToEmails    []string // Default recipients
	UseTLS      bool     // Use direct TLS (port 465)
	UseSTARTTLS bool     // Use STARTTLS (port 587)
	SkipVerify  bool     // Skip TLS certificate verification (dev only)
}

// NewEmailClient creates an SMTP delivery client.
func NewEmailClient(config Config) (*EmailClient, error) {
	emailConfig := config.Email
	if emailConfig == nil {
		return nil, fmt.Errorf("email config is required")
	}
	if emailConfig.SMTPHost == "" {
		return nil, fmt.Errorf("SMTP host is required")
	}
	if emailConfig.SMTPPort == 0 {
		return nil, fmt.Errorf("SMTP port is required")
	}
	if emailConfig.FromEmail == "" {
		return nil, fmt.Errorf("sender email is required")
	}

	return &EmailClient{config: *emailConfig}, nil
}

// Provider returns the provider name.
func (c *EmailClient) Provider() string {
	return string(ProviderEmail)
}

// Send delivers one alert email. Message recipients override the
// configured defaults.
func (c *EmailClient) Send(ctx context.Context, msg Message) (*SendResult, error) {
	recipients := msg.Recipients
	if len(recipients) == 0 {
		recipients = c.config.ToEmails
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("no recipients configured")
	}

	subject := msg.Title
	if msg.Severity != "" {
		subject = fmt.Sprintf("[%s] %s", strings.ToUpper(msg.Severity), msg.Title)
	}

	var emailBuf bytes.Buffer
	fmt.Fprintf(&emailBuf, "From: %s <%s>\r\n", c.config.FromName, c.config.FromEmail)
	fmt.Fprintf(&emailBuf, "To: %s\r\n", strings.Join(recipients, ", "))
	fmt.Fprintf(&emailBuf, "Subject: %s\r\n", subject)
	emailBuf.WriteString("MIME-Version: 1.0\r\n")
	emailBuf.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	fmt.Fprintf(&emailBuf, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	emailBuf.WriteString("\r\n")
	emailBuf.WriteString(buildTextBody(msg))

	if err := c.sendSMTP(ctx, recipients, emailBuf.Bytes()); err != nil {
		return &SendResult{
			Success: false,
			Error:   fmt.Sprintf("send email: %v", err),
		}, nil
	}
	return &SendResult{Success: true}, nil
}

// buildTextBody renders the alert as plain text, fields sorted for
// stable output.
func buildTextBody(msg Message) string {
	var buf strings.Builder
	buf.WriteString(msg.Body)
	buf.WriteString("\r\n")

	if len(msg.Fields) > 0 {
		keys := make([]string, 0, len(msg.Fields))
		for k := range msg.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteString("\r\n")
		for _, k := range keys {
			fmt.Fprintf(&buf, "%s: %s\r\n", k, msg.Fields[k])
		}
	}

	fmt.Fprintf(&buf, "\r\nSent by shield at %s\r\n", time.Now().UTC().Format(time.RFC3339))
	return buf.String()
}

// sendSMTP delivers the assembled message via SMTP.
func (c *EmailClient) sendSMTP(_ context.Context, recipients []string, message []byte) error {
	addr := net.JoinHostPort(c.config.SMTPHost, strconv.Itoa(c.config.SMTPPort))

	tlsConfig := &tls.Config{
		ServerName:         c.config.SMTPHost,
		InsecureSkipVerify: c.config.SkipVerify, //nolint:gosec // Configurable for dev environments
	}

	var conn net.Conn
	var err error

	if c.config.UseTLS {
		// Direct TLS connection (port 465)
		dialer := &net.Dialer{Timeout: 30 * time.Second}
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, tlsConfig)
		if err != nil {
			return fmt.Errorf("TLS dial: %w", err)
		}
	} else {
		// Plain connection (will upgrade with STARTTLS if needed)
		conn, err = net.DialTimeout("tcp", addr, 30*time.Second)
		if err != nil {
			return fmt.Errorf("dial: %w", err)
		}
	}
	defer func() { _ = conn.Close() }()

	client, err := smtp.NewClient(conn, c.config.SMTPHost)
	if err != nil {
		return fmt.Errorf("new SMTP client: %w", err)
	}
	defer func() { _ = client.Close() }()

	// STARTTLS if required (port 587)
	if c.config.UseSTARTTLS && !c.config.UseTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err = client.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("STARTTLS: %w", err)
			}
		}
	}

	if c.config.Username != "" && c.config.Password != "" {
		auth := smtp.PlainAuth("", c.config.Username, c.config.Password, c.config.SMTPHost)
		if err = client.Auth(auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err = client.Mail(c.config.FromEmail); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	for _, to := range recipients {
		if err = client.Rcpt(to); err != nil {
			return fmt.Errorf("RCPT TO %s: %w", to, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err = w.Write(message); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err = w.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}

	_ = client.Quit()
	return nil
}
