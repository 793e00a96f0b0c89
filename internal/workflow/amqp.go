package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/stwalsh4118/peritaje/internal/logger"
)

// amqpChannel is the part of *amqp.Channel the trigger uses.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPTrigger publishes the payload to a durable topic exchange.
// The connection is re-established on the next publish after it drops.
type AMQPTrigger struct {
	url        string
	exchange   string
	routingKey string
	timeout    time.Duration
	log        *logger.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   amqpChannel
	dial func(url, exchange string) (*amqp.Connection, amqpChannel, error)
}

// NewAMQPTrigger connects to the broker and declares the exchange.
func NewAMQPTrigger(url, exchange, routingKey string, timeout time.Duration, log *logger.Logger) (*AMQPTrigger, error) {
	t := &AMQPTrigger{
		url:        url,
		exchange:   exchange,
		routingKey: routingKey,
		timeout:    timeout,
		log:        log.WithComponent("workflow.amqp"),
		dial:       dialExchange,
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.connectLocked(); err != nil {
		return nil, err
	}
	return t, nil
}

func dialExchange(url, exchange string) (*amqp.Connection, amqpChannel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("failed to declare exchange %q: %w", exchange, err)
	}

	return conn, ch, nil
}

func (t *AMQPTrigger) connectLocked() error {
	conn, ch, err := t.dial(t.url, t.exchange)
	if err != nil {
		return err
	}
	t.conn, t.ch = conn, ch
	return nil
}

func (t *AMQPTrigger) channel() (amqpChannel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ch != nil && (t.conn == nil || !t.conn.IsClosed()) {
		return t.ch, nil
	}

	t.log.Warn("Broker connection lost, reconnecting", nil)
	if err := t.connectLocked(); err != nil {
		return nil, err
	}
	return t.ch, nil
}

// Trigger publishes one persistent message per submission.
func (t *AMQPTrigger) Trigger(ctx context.Context, p Payload) error {
	body, err := EncodePayload(p)
	if err != nil {
		return err
	}

	ch, err := t.channel()
	if err != nil {
		return err
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		MessageId:    p.RequestID,
		Type:         "appraisal.requested",
		Headers:      amqp.Table{"x-request-id": p.RequestID},
	}

	publishCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	if err := ch.PublishWithContext(publishCtx, t.exchange, t.routingKey, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish appraisal request: %w", err)
	}

	t.log.Info("Workflow triggered", map[string]interface{}{
		"request_id":  p.RequestID,
		"exchange":    t.exchange,
		"routing_key": t.routingKey,
	})
	return nil
}

// Close releases the channel and connection.
func (t *AMQPTrigger) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []error
	if t.ch != nil {
		errs = append(errs, t.ch.Close())
		t.ch = nil
	}
	if t.conn != nil {
		errs = append(errs, t.conn.Close())
		t.conn = nil
	}
	return errors.Join(errs...)
}
