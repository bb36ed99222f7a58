package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPConfig locates the exchange events are published to.
type AMQPConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
}

// Publisher is the subset of *amqp.Channel used by AMQPSink.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPSink publishes events as persistent JSON messages to a topic exchange.
// The routing key is "<RoutingKey>.<kind>".
type AMQPSink struct {
	conn       *amqp.Connection
	channel    Publisher
	exchange   string
	routingKey string
	now        func() time.Time
}

// DialAMQP connects and declares the exchange.
func DialAMQP(cfg AMQPConfig) (*AMQPSink, error) {
	if cfg.URL == "" || cfg.Exchange == "" {
		return nil, errors.New("amqp: url and exchange are required")
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("amqp: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp: channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp: declare exchange %q: %w", cfg.Exchange, err)
	}
	sink := NewAMQPSink(ch, cfg.Exchange, cfg.RoutingKey)
	sink.conn = conn
	return sink, nil
}

// NewAMQPSink publishes through an already open channel.
func NewAMQPSink(ch Publisher, exchange, routingKey string) *AMQPSink {
	return &AMQPSink{channel: ch, exchange: exchange, routingKey: routingKey, now: time.Now}
}

func (s *AMQPSink) Emit(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	key := e.Kind()
	if s.routingKey != "" {
		key = s.routingKey + "." + key
	}
	return s.channel.PublishWithContext(ctx, s.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    s.now(),
		Type:         e.Kind(),
		Body:         body,
	})
}

// Close closes the connection opened by DialAMQP.
func (s *AMQPSink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
