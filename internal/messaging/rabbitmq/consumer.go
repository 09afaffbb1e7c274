package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"dronesim/internal/domain"
	"dronesim/internal/service"
)

const reconnectDelay = 5 * time.Second

// TriggerKeys are the order lifecycle routing keys the consumer binds to.
var TriggerKeys = []string{"order.confirmed", "order.canceled"}

// TriggerMessage is an order lifecycle change published by the order system.
type TriggerMessage struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status,omitempty"`
}

// StatusUpdater applies a lifecycle change to an order.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, req service.UpdateStatusRequest) (*domain.Order, error)
}

// TriggerConsumer turns order lifecycle messages into status updates.
type TriggerConsumer struct {
	conn     Connection
	updater  StatusUpdater
	exchange string
	queue    string
	prefetch int
	log      logrus.FieldLogger
}

// NewTriggerConsumer creates a consumer of queue bound to exchange.
func NewTriggerConsumer(conn Connection, updater StatusUpdater, exchange, queue string, prefetch int, log logrus.FieldLogger) *TriggerConsumer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &TriggerConsumer{
		conn:     conn,
		updater:  updater,
		exchange: exchange,
		queue:    queue,
		prefetch: prefetch,
		log:      log,
	}
}

// Run consumes until ctx is cancelled, reconnecting after channel failures.
func (c *TriggerConsumer) Run(ctx context.Context) error {
	for {
		err := c.consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			return nil
		}

		c.log.WithError(err).Warnf("trigger consumer disconnected, reconnecting in %s", reconnectDelay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

func (c *TriggerConsumer) consume(ctx context.Context) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	closeChan := ch.NotifyClose()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}
	if err := c.setup(ch); err != nil {
		return err
	}

	msgs, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-closeChan:
			if err != nil {
				return fmt.Errorf("channel closed: %w", err)
			}
			return errors.New("channel closed gracefully")

		case msg, ok := <-msgs:
			if !ok {
				return errors.New("messages channel closed")
			}
			c.handle(ctx, msg)
		}
	}
}

// handle acks processed messages and dead-letters the rest.
func (c *TriggerConsumer) handle(ctx context.Context, msg amqp.Delivery) {
	log := c.log.WithField("routing_key", msg.RoutingKey)

	trigger, err := decodeTrigger(msg)
	if err != nil {
		log.WithError(err).Warn("discarding malformed trigger")
		_ = msg.Nack(false, false)
		return
	}

	_, err = c.updater.UpdateStatus(ctx, service.UpdateStatusRequest{
		OrderID: trigger.OrderID,
		Status:  trigger.Status,
	})
	if err != nil && !errors.Is(err, service.ErrOrderClosed) {
		log.WithError(err).WithField("order_id", trigger.OrderID).Error("failed to apply trigger")
		_ = msg.Nack(false, false)
		return
	}

	_ = msg.Ack(false)
}

func (c *TriggerConsumer) setup(ch Channel) error {
	if err := ch.ExchangeDeclare(c.exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	dlx := c.queue + "_dlx"
	if err := ch.ExchangeDeclare(dlx, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare DLQ exchange: %w", err)
	}
	dlq, err := ch.QueueDeclare(c.queue+"_dlq", true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare DLQ: %w", err)
	}
	if err := ch.QueueBind(dlq.Name, "", dlx, false, nil); err != nil {
		return fmt.Errorf("failed to bind DLQ: %w", err)
	}

	q, err := ch.QueueDeclare(c.queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange": dlx,
	})
	if err != nil {
		return fmt.Errorf("failed to declare trigger queue: %w", err)
	}
	for _, key := range TriggerKeys {
		if err := ch.QueueBind(q.Name, key, c.exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind trigger queue to %s: %w", key, err)
		}
	}
	return nil
}

// decodeTrigger reads a trigger body. A missing status is taken from the
// last segment of the routing key.
func decodeTrigger(msg amqp.Delivery) (TriggerMessage, error) {
	var trigger TriggerMessage
	if err := json.Unmarshal(msg.Body, &trigger); err != nil {
		return trigger, err
	}
	if trigger.OrderID == "" {
		return trigger, service.ErrInvalidOrderID
	}
	if trigger.Status == "" {
		if i := strings.LastIndexByte(msg.RoutingKey, '.'); i >= 0 {
			trigger.Status = msg.RoutingKey[i+1:]
		}
	}
	return trigger, nil
}
