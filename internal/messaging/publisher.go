// Package messaging publishes committed order events to a RabbitMQ topic
// exchange for downstream consumers (reporting, receipts, loyalty).
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/dinein/internal/service"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	defaultQueueSize      = 1024
	defaultPublishTimeout = 5 * time.Second
)

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publisher implements service.Notifier. Notify only enqueues; Run drains the
// queue and waits for a broker confirm per message.
type Publisher struct {
	conn     *amqp.Connection
	ch       channel
	acks     <-chan amqp.Confirmation
	exchange string
	queue    chan service.Event
	timeout  time.Duration

	mu sync.Mutex
	// seq is the delivery tag of the last message the channel accepted.
	seq uint64
}

// Dial connects to the broker, declares the durable topic exchange and puts
// the channel in confirm mode.
func Dial(url, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("confirm mode: %w", err)
	}
	acks := ch.NotifyPublish(make(chan amqp.Confirmation, 1))

	p := newPublisher(ch, acks, exchange)
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, acks <-chan amqp.Confirmation, exchange string) *Publisher {
	return &Publisher{
		ch:       ch,
		acks:     acks,
		exchange: exchange,
		queue:    make(chan service.Event, defaultQueueSize),
		timeout:  defaultPublishTimeout,
	}
}

// Notify implements service.Notifier. Events are dropped, with a log line,
// when the queue is full.
func (p *Publisher) Notify(_ context.Context, e service.Event) {
	select {
	case p.queue <- e:
	default:
		log.Printf("WARNING: event queue full, dropping %s for order %s", e.Type, e.OrderID)
	}
}

// Run publishes queued events until ctx is done. Whatever is still queued at
// that point is flushed with a fresh timeout.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.drain()
			return
		case e := <-p.queue:
			if err := p.Publish(ctx, e); err != nil {
				log.Printf("ERROR: publish %s for order %s: %v", e.Type, e.OrderID, err)
			}
		}
	}
}

func (p *Publisher) drain() {
	for {
		select {
		case e := <-p.queue:
			if err := p.Publish(context.Background(), e); err != nil {
				log.Printf("ERROR: publish %s for order %s on shutdown: %v", e.Type, e.OrderID, err)
			}
		default:
			return
		}
	}
}

// Publish sends one event with the event type as routing key and waits for
// the broker to ack it. A confirm that arrives after its Publish timed out is
// skipped by delivery tag.
func (p *Publisher) Publish(ctx context.Context, e service.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.ch.PublishWithContext(ctx, p.exchange, e.Type, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    uuid.NewString(),
		Type:         e.Type,
		Timestamp:    time.Now().UTC(),
		Headers:      amqp.Table{"outlet_id": e.OutletID.String()},
		Body:         body,
	})
	if err != nil {
		return err
	}
	p.seq++
	tag := p.seq

	for {
		select {
		case conf, ok := <-p.acks:
			if !ok {
				return errors.New("confirm channel closed")
			}
			switch {
			case conf.DeliveryTag < tag:
				continue
			case conf.DeliveryTag > tag:
				return fmt.Errorf("confirm for delivery %d while waiting on %d", conf.DeliveryTag, tag)
			case !conf.Ack:
				return errors.New("publish NACK from broker")
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close closes the broker connection. Call it after Run has returned.
func (p *Publisher) Close() {
	if p.conn != nil {
		_ = p.conn.Close()
	}
}
