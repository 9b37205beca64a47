// Package rabbitmq carries job wake-up notifications between processes over
// a durable RabbitMQ queue.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/reportgen/internal/events"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultQueue is the queue name used when none is configured.
const DefaultQueue = "report_jobs"

const publishTimeout = 5 * time.Second

// ErrNotConfirmed is returned when the broker nacks a publish.
var ErrNotConfirmed = errors.New("publish was not confirmed by the broker")

// Broker owns one connection and channel bound to a durable queue.
type Broker struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
	logger  *slog.Logger
}

// Dial connects, enables publisher confirms and declares the queue.
func Dial(url, queue string, logger *slog.Logger) (*Broker, error) {
	if queue == "" {
		queue = DefaultQueue
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	if err := channel.Confirm(false); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to enable publish confirmations: %w", err)
	}
	if _, err := channel.QueueDeclare(
		queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare queue %q: %w", queue, err)
	}

	return &Broker{
		conn:    conn,
		channel: channel,
		queue:   queue,
		logger:  logger.With(slog.String("component", "rabbitmq"), slog.String("queue", queue)),
	}, nil
}

// Publish sends event as a persistent JSON message and waits for the
// broker's confirmation of that message. Publishes may run concurrently.
func (b *Broker) Publish(ctx context.Context, event *events.JobEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	confirm, err := b.channel.PublishWithDeferredConfirmWithContext(ctx, "", b.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID.String(),
		Timestamp:    event.CreatedAt,
		Type:         event.Type,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	if confirm == nil {
		return fmt.Errorf("%w: channel is not in confirm mode", ErrNotConfirmed)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("waiting for publish confirmation: %w", err)
	}
	if !acked {
		return ErrNotConfirmed
	}
	return nil
}

// HandleEvent implements events.EventHandler by publishing the event.
func (b *Broker) HandleEvent(ctx context.Context, event *events.JobEvent) error {
	return b.Publish(ctx, event)
}

// Consume delivers queued notifications to emitter until ctx is done or the
// channel closes. Messages are acknowledged manually, one at a time.
func (b *Broker) Consume(ctx context.Context, consumer string, emitter events.EventEmitter) error {
	if err := b.channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}
	msgs, err := b.channel.Consume(b.queue, consumer,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	b.logger.Info("consuming wake-up notifications", slog.String("consumer", consumer))
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("delivery channel closed")
			}
			b.settle(msg, Dispatch(ctx, emitter, msg.Body, b.logger))
		}
	}
}

func (b *Broker) settle(msg amqp.Delivery, d Disposition) {
	var err error
	switch d {
	case Ack:
		err = msg.Ack(false)
	case Requeue:
		err = msg.Nack(false, true)
	case Reject:
		err = msg.Reject(false)
	}
	if err != nil {
		b.logger.Warn("failed to settle delivery", slog.String("error", err.Error()))
	}
}

// Close closes the channel and the connection.
func (b *Broker) Close() {
	if b.channel != nil {
		_ = b.channel.Close()
	}
	if b.conn != nil {
		_ = b.conn.Close()
	}
}

// Disposition is how a delivery is settled.
type Disposition int

// Delivery dispositions
const (
	Ack Disposition = iota
	Requeue
	Reject
)

// Dispatch decodes one message body and emits it locally. Malformed
// messages are rejected without requeue; handler errors requeue.
func Dispatch(ctx context.Context, emitter events.EventEmitter, body []byte, logger *slog.Logger) Disposition {
	event, err := events.Decode(body)
	if err != nil {
		logger.WarnContext(ctx, "rejecting malformed notification", slog.String("error", err.Error()))
		return Reject
	}
	if err := emitter.EmitEvent(ctx, event); err != nil {
		logger.WarnContext(ctx, "notification handler failed, requeueing",
			slog.String("job_id", event.JobID.String()),
			slog.String("error", err.Error()))
		return Requeue
	}
	return Ack
}
