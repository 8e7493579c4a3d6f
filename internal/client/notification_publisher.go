package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NotificationPublisher publishes expense approval events to NATS for
// consumption by the notification delivery service.
//
// Subject convention: <prefix>.<event_type>
// Event types: expense_needs_approval, expense_approved, expense_rejected and
// approval_recorded.
//
// All publish operations are non-fatal. Errors are logged and never
// propagated, so notification failures never interrupt approval operations.
type NotificationPublisher struct {
	conn   *nats.Conn
	prefix string
	log    zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	ID           string         `json:"id"`
	EventType    string         `json:"event_type"`
	CompanyID    string         `json:"company_id"`
	ActorID      string         `json:"actor_id"`
	Recipients   []string       `json:"recipients"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	IsActionable bool           `json:"is_actionable,omitempty"`
	Title        string         `json:"title"`
	Message      string         `json:"message"`
	OccurredAt   time.Time      `json:"occurred_at"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// ConnectNATS dials the NATS server with reconnect handling logged through log.
func ConnectNATS(url, name string, log zerolog.Logger) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return conn, nil
}

// NewNotificationPublisher creates a publisher. A nil conn yields a publisher
// that silently drops events.
func NewNotificationPublisher(conn *nats.Conn, prefix string, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{conn: conn, prefix: prefix, log: log}
}

// Subject returns the subject an event type is published on.
func (p *NotificationPublisher) Subject(eventType string) string {
	return fmt.Sprintf("%s.%s", p.prefix, eventType)
}

// Publish implements EventPublisher.
func (p *NotificationPublisher) Publish(ctx context.Context, event *NotificationEvent) {
	if p.conn == nil || event == nil {
		return
	}
	if len(event.Recipients) == 0 {
		return
	}
	if err := ctx.Err(); err != nil {
		p.log.Warn().Err(err).Str("event_type", event.EventType).Msg("notification: context done before publish")
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", event.EventType).Msg("notification: failed to marshal event")
		return
	}

	subject := p.Subject(event.EventType)
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("expense_id", event.ResourceID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("expense_id", event.ResourceID).
		Int("recipients", len(event.Recipients)).
		Msg("notification: event published")
}
