package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// channel is the subset of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitMQ publishes events as persistent JSON messages on a durable queue.
type RabbitMQ struct {
	conn  *amqp.Connection
	queue string

	mu  sync.Mutex
	chn channel
}

// NewRabbitMQ dials url, opens a channel and declares queue.
func NewRabbitMQ(url, queue string) (*RabbitMQ, error) {
	if queue == "" {
		return nil, errors.New("notify: queue name is required")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	chn, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := chn.QueueDeclare(
		queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		_ = chn.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return &RabbitMQ{conn: conn, chn: chn, queue: queue}, nil
}

// Publish sends evt to the queue. The event type doubles as the AMQP type.
func (r *RabbitMQ) Publish(ctx context.Context, evt Event) error {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chn.PublishWithContext(ctx,
		"",      // default exchange
		r.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Type:         evt.Type,
			Timestamp:    evt.At,
			Body:         body,
		},
	)
}

// Close releases the channel and connection.
func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	if r.chn != nil {
		errs = append(errs, r.chn.Close())
	}
	if r.conn != nil {
		errs = append(errs, r.conn.Close())
	}
	return errors.Join(errs...)
}
