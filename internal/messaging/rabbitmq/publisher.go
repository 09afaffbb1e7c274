package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"dronesim/internal/domain"
)

// EventPublisher forwards simulation events to a topic exchange. Routing keys
// have the form order.<order id>.<event type>.
type EventPublisher struct {
	conn     Connection
	exchange string

	mu sync.Mutex
	ch Channel
}

// NewEventPublisher creates a publisher for the given exchange.
func NewEventPublisher(conn Connection, exchange string) *EventPublisher {
	return &EventPublisher{conn: conn, exchange: exchange}
}

// Publish sends one event. The channel is opened lazily and reopened after
// a failed publish.
func (p *EventPublisher) Publish(ctx context.Context, evt domain.Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(ctx, p.exchange, RoutingKey(evt), false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   evt.ID,
		Timestamp:   evt.Timestamp,
		Type:        string(evt.Type),
		Body:        body,
	})
	if err != nil {
		_ = ch.Close()
		p.ch = nil
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close closes the publishing channel.
func (p *EventPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return nil
	}
	err := p.ch.Close()
	p.ch = nil
	return err
}

func (p *EventPublisher) channel() (Channel, error) {
	if p.ch != nil {
		return p.ch, nil
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	p.ch = ch
	return ch, nil
}

// RoutingKey returns the routing key of an event.
func RoutingKey(evt domain.Event) string {
	return fmt.Sprintf("order.%s.%s", evt.OrderID, evt.Type)
}
