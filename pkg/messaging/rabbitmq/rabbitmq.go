package rabbitmq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

type Config struct {
	URL      string
	Exchange string
}

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitMQBroker publishes events to a durable topic exchange. The topic passed to
// Publish is used as the routing key.
type RabbitMQBroker struct {
	conn     *amqp.Connection
	ch       channel
	exchange string
}

func NewRabbitMQBroker(cfg Config) (*RabbitMQBroker, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", cfg.Exchange, err)
	}

	return &RabbitMQBroker{conn: conn, ch: ch, exchange: cfg.Exchange}, nil
}

func (b *RabbitMQBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	return b.ch.PublishWithContext(ctx,
		b.exchange,
		topic,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         payload,
			DeliveryMode: amqp.Persistent,
		},
	)
}

func (b *RabbitMQBroker) Close() error {
	if err := b.ch.Close(); err != nil {
		return err
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
