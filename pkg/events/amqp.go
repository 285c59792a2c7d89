package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const routingKeyPrefix = "evaluation.status."

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes status events to a topic exchange.
type AMQPPublisher struct {
	conn     *amqp.Connection
	channel  amqpChannel
	exchange string
	logger   *zap.Logger
	mu       sync.Mutex
}

// NewAMQPPublisher dials url and declares a durable topic exchange.
func NewAMQPPublisher(url, exchange string, logger *zap.Logger) (*AMQPPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	logger.Sugar().Infow("status events enabled", "exchange", exchange)
	return &AMQPPublisher{conn: conn, channel: ch, exchange: exchange, logger: logger}, nil
}

// PublishStatus sends evt with routing key evaluation.status.<to>.
func (p *AMQPPublisher) PublishStatus(ctx context.Context, evt StatusChanged) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal status event: %w", err)
	}

	publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.PublishWithContext(
		publishCtx,
		p.exchange,
		RoutingKey(evt.To),
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    evt.OccurredAt,
			MessageId:    evt.RequestID + ":" + evt.To,
		},
	)
	if err != nil {
		return fmt.Errorf("publish status event: %w", err)
	}
	return nil
}

// Close closes the channel and the connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.channel.Close(); err != nil {
		p.logger.Sugar().Warnw("close amqp channel", "error", err)
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// RoutingKey derives the topic routing key for a status.
func RoutingKey(status string) string {
	return routingKeyPrefix + strings.ToLower(status)
}
