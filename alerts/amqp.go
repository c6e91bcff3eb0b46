package alerts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-order-hub/core"
	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPPublisher is the subset of *amqp.Channel used to publish alerts.
type AMQPPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPSink publishes persistent JSON alerts to an exchange.
type AMQPSink struct {
	channel    AMQPPublisher
	exchange   string
	routingKey string
}

func NewAMQPSink(channel AMQPPublisher, exchange string, routingKey string) (*AMQPSink, error) {
	if channel == nil {
		return nil, fmt.Errorf("alerts: amqp channel is required")
	}
	routingKey = strings.TrimSpace(routingKey)
	if routingKey == "" {
		return nil, fmt.Errorf("alerts: amqp routing key is required")
	}
	return &AMQPSink{channel: channel, exchange: strings.TrimSpace(exchange), routingKey: routingKey}, nil
}

// DialAMQPSink opens a connection and channel for url. The returned close
// function releases both.
func DialAMQPSink(url string, exchange string, routingKey string) (*AMQPSink, func() error, error) {
	conn, err := amqp.Dial(strings.TrimSpace(url))
	if err != nil {
		return nil, nil, fmt.Errorf("alerts: dial amqp: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("alerts: open amqp channel: %w", err)
	}
	sink, err := NewAMQPSink(channel, exchange, routingKey)
	if err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, nil, err
	}
	closeFn := func() error {
		_ = channel.Close()
		return conn.Close()
	}
	return sink, closeFn, nil
}

func (s *AMQPSink) Notify(ctx context.Context, alert core.Alert) error {
	payload, err := encodeAlert(alert)
	if err != nil {
		return err
	}
	err = s.channel.PublishWithContext(ctx, s.exchange, s.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         string(alert.Kind),
		MessageId:    alert.EventID,
		Body:         payload,
	})
	if err != nil {
		return fmt.Errorf("alerts: publish to amqp exchange %q: %w", s.exchange, err)
	}
	return nil
}

var _ core.AlertSink = (*AMQPSink)(nil)
