package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/dpup/trafficwatch/server/internal/lib/alerts"
)

// DefaultExchange is the topic exchange notification events are published to.
const DefaultExchange = "traffic_topic"

// RoutingKey is the topic a user's events are published under.
func RoutingKey(userID string) string {
	return "notification.user." + userID
}

// AMQPPublisher publishes notification events to a RabbitMQ topic exchange
// for consumers outside this process.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	ch       *amqp091.Channel
	exchange string
	logger   *zap.SugaredLogger
	now      func() time.Time
}

var _ alerts.Publisher = (*AMQPPublisher)(nil)

// NewAMQPPublisher connects to url and declares the exchange.
func NewAMQPPublisher(url, exchange string, logger *zap.SugaredLogger) (*AMQPPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}

	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	logger = logger.With("component", "amqp_publisher", "exchange", exchange)
	logger.Infow("connected to RabbitMQ")

	return &AMQPPublisher{
		conn:     conn,
		ch:       ch,
		exchange: exchange,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Publish sends the event as a persistent JSON message.
func (p *AMQPPublisher) Publish(ctx context.Context, recipientUserID string, event alerts.Event) error {
	now := p.now()
	body, err := Encode(recipientUserID, event, now)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	// Channels are not safe for concurrent publishing
	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.ch.PublishWithContext(ctx, p.exchange, RoutingKey(recipientUserID), false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    now,
		Type:         event.Type,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.exchange, err)
	}
	return nil
}

// Close releases the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
