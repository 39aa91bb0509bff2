package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

// Publisher is the transport the notification publisher writes to.
// *natsclient.Client satisfies it.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// NotificationPublisher publishes document workflow notifications to NATS
// JetStream for consumption by the notifications service.
//
// Subject convention: <prefix>.document_approval
type NotificationPublisher struct {
	nats   Publisher
	prefix string
	log    zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType  string   `json:"event_type"`
	Recipients []string `json:"recipients"`
	Title      string   `json:"title"`
	Body       string   `json:"body"`
	Severity   string   `json:"severity,omitempty"`
	Category   string   `json:"category,omitempty"`
}

const eventDocumentApproval = "document_approval"

// NewNotificationPublisher creates a publisher backed by the given transport.
// A nil transport turns every Send into a no-op.
func NewNotificationPublisher(nats Publisher, prefix string, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{nats: nats, prefix: prefix, log: log}
}

// Send publishes one notification addressed to recipients (user IDs). Delivery
// is fire-and-forget; the returned error only reports that the event could not
// be handed to the broker.
func (p *NotificationPublisher) Send(ctx context.Context, recipients []string, subject, body string) error {
	if p.nats == nil || len(recipients) == 0 {
		return nil
	}

	event := &NotificationEvent{
		EventType:  eventDocumentApproval,
		Recipients: recipients,
		Title:      subject,
		Body:       body,
		Severity:   "info",
		Category:   "document_approval",
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	topic := fmt.Sprintf("%s.%s", p.prefix, eventDocumentApproval)
	if err := p.nats.Publish(ctx, topic, data); err != nil {
		return err
	}

	p.log.Debug().
		Str("subject", topic).
		Int("recipients", len(recipients)).
		Msg("notification: event published")
	return nil
}
