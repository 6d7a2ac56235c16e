// Package nats publishes recorded security events for downstream
// consumers such as SIEM pipelines.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/skillhubio/shield/internal/security"
	"github.com/skillhubio/shield/pkg/logger"
)

// Publisher sends events to a NATS subject per event type:
// <prefix>.<event_type>.
type Publisher struct {
	conn          *nats.Conn
	subjectPrefix string
	log           *logger.Logger
}

// New connects to the NATS server and returns a publisher.
func New(url, subjectPrefix string, log *logger.Logger) (*Publisher, error) {
	if url == "" {
		return nil, errors.New("nats url is required")
	}
	if subjectPrefix == "" {
		subjectPrefix = "shield.events"
	}
	if log == nil {
		log = logger.NewNop()
	}

	conn, err := nats.Connect(url,
		nats.Name("shield-publisher"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.WithError(err).Warn("nats disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.WithField("url", c.ConnectedUrl()).Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Publisher{conn: conn, subjectPrefix: subjectPrefix, log: log}, nil
}

// Publish sends one event as JSON. Delivery is fire-and-forget; the
// caller logs failures and never blocks the recording path on them.
func (p *Publisher) Publish(_ context.Context, event *security.SecurityEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.ID, err)
	}

	subject := p.subjectPrefix + "." + string(event.Type)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close() {
	if p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.log.WithError(err).Warn("nats drain failed")
		p.conn.Close()
	}
}
