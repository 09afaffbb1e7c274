package app

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"dronesim/internal/config"
	"dronesim/internal/messaging/rabbitmq"
	"dronesim/internal/service"
)

// Messaging holds the broker connection and the simulation event publisher.
type Messaging struct {
	Conn      rabbitmq.Connection
	Publisher *rabbitmq.EventPublisher

	cfg config.RabbitMQConfig
	log logrus.FieldLogger
}

// NewMessaging connects to RabbitMQ. It returns nil when the broker is disabled.
func NewMessaging(cfg config.RabbitMQConfig, log logrus.FieldLogger) (*Messaging, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	conn, err := rabbitmq.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	return &Messaging{
		Conn:      conn,
		Publisher: rabbitmq.NewEventPublisher(conn, cfg.EventsTopic),
		cfg:       cfg,
		log:       log,
	}, nil
}

// Sink returns the publisher as an event sink, or nil when messaging is off.
func (m *Messaging) Sink() service.EventSink {
	if m == nil {
		return nil
	}
	return m.Publisher
}

// TriggerConsumer builds the consumer that applies order lifecycle triggers
// through updater.
func (m *Messaging) TriggerConsumer(updater rabbitmq.StatusUpdater) *rabbitmq.TriggerConsumer {
	return rabbitmq.NewTriggerConsumer(m.Conn, updater, m.cfg.OrdersTopic, m.cfg.TriggerQueue, m.cfg.Prefetch, m.log)
}

// Close closes the publisher channel and the broker connection.
func (m *Messaging) Close() error {
	if m == nil {
		return nil
	}
	if err := m.Publisher.Close(); err != nil {
		m.Conn.Close()
		return err
	}
	return m.Conn.Close()
}
