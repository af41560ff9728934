package handoff

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/dmwm/workqueue/internal/element"
	logpkg "github.com/dmwm/workqueue/pkg/log"
)

// AMQPConfig selects where deliveries are published.
type AMQPConfig struct {
	URL string
	// Exchange is declared durable and direct when set; empty publishes to
	// the default exchange.
	Exchange string
	// RoutingKey names the durable queue bound to Exchange.
	RoutingKey string
}

// AMQP publishes deliveries as persistent messages and waits for broker
// confirms.
type AMQP struct {
	cfg    AMQPConfig
	queue  string
	logger logpkg.Logger
	now    func() time.Time

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// DialAMQP connects, declares the topology and enables confirms.
func DialAMQP(cfg AMQPConfig, queue string, logger logpkg.Logger) (*AMQP, error) {
	if cfg.RoutingKey == "" {
		return nil, errors.New("handoff: amqp routing key is required")
	}
	if logger == nil {
		logger = logpkg.NewNop()
	}
	a := &AMQP{cfg: cfg, queue: queue, logger: logger.WithComponent("handoff"), now: time.Now}
	if err := a.connect(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *AMQP) connect() error {
	conn, err := amqp.Dial(a.cfg.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open a channel: %w", err)
	}
	if _, err := ch.QueueDeclare(a.cfg.RoutingKey, true, false, false, false, nil); err != nil {
		conn.Close()
		return fmt.Errorf("failed to declare queue %s: %w", a.cfg.RoutingKey, err)
	}
	if a.cfg.Exchange != "" {
		if err := ch.ExchangeDeclare(a.cfg.Exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
			conn.Close()
			return fmt.Errorf("failed to declare exchange %s: %w", a.cfg.Exchange, err)
		}
		if err := ch.QueueBind(a.cfg.RoutingKey, a.cfg.RoutingKey, a.cfg.Exchange, false, nil); err != nil {
			conn.Close()
			return fmt.Errorf("failed to bind queue %s: %w", a.cfg.RoutingKey, err)
		}
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return fmt.Errorf("failed to enable confirms: %w", err)
	}
	a.conn, a.ch = conn, ch
	return nil
}

func (a *AMQP) ensureConnection() error {
	if a.conn != nil && !a.conn.IsClosed() && a.ch != nil && !a.ch.IsClosed() {
		return nil
	}
	a.logger.Info("reconnecting to broker")
	if a.conn != nil {
		_ = a.conn.Close()
	}
	return a.connect()
}

// Deliver publishes every element and returns once the broker confirmed all
// of them. Any nack fails the whole call.
func (a *AMQP) Deliver(ctx context.Context, els []*element.Element) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.ensureConnection(); err != nil {
		return err
	}
	now := a.now().UTC()
	confirms := make([]*amqp.DeferredConfirmation, 0, len(els))
	for _, el := range els {
		msg, err := publishing(a.queue, el, now)
		if err != nil {
			return err
		}
		dc, err := a.ch.PublishWithDeferredConfirmWithContext(ctx, a.cfg.Exchange, a.cfg.RoutingKey, false, false, msg)
		if err != nil {
			return fmt.Errorf("failed to publish %s: %w", el.ID, err)
		}
		confirms = append(confirms, dc)
	}
	for i, dc := range confirms {
		ok, err := dc.WaitContext(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("broker rejected %s", els[i].ID)
		}
	}
	return nil
}

func publishing(queue string, el *element.Element, now time.Time) (amqp.Publishing, error) {
	body, err := encode(queue, el, now)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    el.ID,
		Timestamp:    now,
		AppId:        queue,
		Headers:      amqp.Table{"request": el.RequestName, "task": el.TaskName},
		Body:         body,
	}, nil
}

func (a *AMQP) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return nil
	}
	err := a.conn.Close()
	a.conn, a.ch = nil, nil
	return err
}
