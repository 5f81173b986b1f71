// README: RabbitMQ sink publishing to a durable topic exchange.
package notify

import (
	"context"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
)

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type AMQPSink struct {
	conn     *amqp.Connection
	ch       amqpChannel
	exchange string
}

// NewAMQPSink dials url and declares exchange as a durable topic exchange.
func NewAMQPSink(url, exchange string) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp exchange declare: %w", err)
	}
	return &AMQPSink{conn: conn, ch: ch, exchange: exchange}, nil
}

func (a *AMQPSink) Name() string { return "amqp" }

// RoutingKey maps order_<id> to order.<id> so consumers can bind order.#.
func RoutingKey(topic string) string {
	return strings.Replace(topic, "_", ".", 1)
}

func (a *AMQPSink) Send(ctx context.Context, m Message) error {
	return a.ch.PublishWithContext(ctx, a.exchange, RoutingKey(m.Topic), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    m.Published,
		Body:         m.Payload,
	})
}

func (a *AMQPSink) Close() error {
	if a.conn == nil {
		return nil
	}
	return a.conn.Close()
}
