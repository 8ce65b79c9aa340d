package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"video_notifier/internal/domain"
)

const (
	EventDelivery = "delivery"
	EventCycle    = "cycle"
)

type RabbitMQ struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	mu         sync.Mutex
	exchange   string
	routingKey string
	logger     *slog.Logger
}

type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
	QueueName  string
}

func NewRabbitMQ(cfg Config, logger *slog.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declare(ch, cfg); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	logger.Info("connected to rabbitmq",
		"exchange", cfg.Exchange,
		"queue", cfg.QueueName,
		"routing_key", cfg.RoutingKey,
	)

	return &RabbitMQ{
		conn:       conn,
		channel:    ch,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		logger:     logger,
	}, nil
}

func declare(ch *amqp.Channel, cfg Config) error {
	err := ch.ExchangeDeclare(
		cfg.Exchange,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(
		cfg.QueueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

// Event is the envelope of every published message. Exactly one payload is set.
type Event struct {
	Type      string                 `json:"type"`
	Delivery  *domain.DeliveryRecord `json:"delivery,omitempty"`
	Cycle     *domain.CycleSummary   `json:"cycle,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (r *RabbitMQ) PublishDelivery(ctx context.Context, record *domain.DeliveryRecord) error {
	if err := r.publish(ctx, Event{Type: EventDelivery, Delivery: record}); err != nil {
		return err
	}

	r.logger.Debug("published delivery",
		"destination_id", record.DestinationID,
		"target_id", record.TargetID,
		"item_id", record.ItemID,
	)
	return nil
}

func (r *RabbitMQ) PublishCycle(ctx context.Context, summary *domain.CycleSummary) error {
	if err := r.publish(ctx, Event{Type: EventCycle, Cycle: summary}); err != nil {
		return err
	}

	r.logger.Debug("published cycle summary", "cycle_id", summary.CycleID, "kind", summary.Kind)
	return nil
}

func (r *RabbitMQ) publish(ctx context.Context, event Event) error {
	event.Timestamp = time.Now().UTC()

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Type, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	err = r.channel.PublishWithContext(
		ctx,
		r.exchange,
		r.routingKey,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Type:         event.Type,
			Body:         body,
			Timestamp:    event.Timestamp,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s event: %w", event.Type, err)
	}
	return nil
}

func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
