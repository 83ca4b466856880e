package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jwalitptl/crm-api/pkg/logger"
	"github.com/jwalitptl/crm-api/pkg/metrics"
)

// Broker defines the interface for message brokers
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}

// Message is the envelope every published event travels in.
type Message struct {
	Type       string      `json:"type"`
	OccurredAt time.Time   `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

// NopBroker drops everything. Used when broker.driver is none.
type NopBroker struct{}

func (NopBroker) Publish(ctx context.Context, topic string, payload []byte) error { return nil }
func (NopBroker) Close() error                                                    { return nil }

// Publisher defines the interface for publishing domain events
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload interface{}) error
}

// EventPublisher wraps events in a Message and hands them to a Broker on one topic.
type EventPublisher struct {
	broker  Broker
	topic   string
	log     *logger.Logger
	metrics *metrics.Metrics
}

func NewEventPublisher(broker Broker, topic string, log *logger.Logger, m *metrics.Metrics) *EventPublisher {
	if broker == nil {
		broker = NopBroker{}
	}
	return &EventPublisher{broker: broker, topic: topic, log: log, metrics: m}
}

// Publish is best effort: failures are logged, counted and returned, and callers
// are free to ignore them.
func (p *EventPublisher) Publish(ctx context.Context, eventType string, payload interface{}) error {
	body, err := json.Marshal(Message{Type: eventType, OccurredAt: time.Now().UTC(), Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", eventType, err)
	}

	if err := p.broker.Publish(ctx, p.topic, body); err != nil {
		p.metrics.EventsPublished.WithLabelValues(eventType, "error").Inc()
		p.log.Error(err, "Failed to publish event", "event", eventType, "topic", p.topic)
		return fmt.Errorf("failed to publish %s event: %w", eventType, err)
	}
	p.metrics.EventsPublished.WithLabelValues(eventType, "ok").Inc()
	return nil
}
