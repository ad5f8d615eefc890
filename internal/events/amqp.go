package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// DefaultExchange is the fanout exchange lead events are published to
const DefaultExchange = "ex.leads"

const (
	// DefaultPublishBuffer is the number of events waiting for the broker before new ones are dropped
	DefaultPublishBuffer = 256
	publishTimeout       = 5 * time.Second
)

// amqpChannel is the part of *amqp.Channel the publisher uses
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher forwards events to a RabbitMQ fanout exchange as JSON envelopes.
// Publish only enqueues; a single goroutine owns the channel and talks to the broker.
type AMQPPublisher struct {
	conn     *amqp.Connection
	ch       amqpChannel
	exchange string
	logger   *zap.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan amqp.Publishing
	done   chan struct{}
}

// NewAMQPPublisher dials the broker and declares a durable fanout exchange
func NewAMQPPublisher(url, exchange string, logger *zap.Logger) (*AMQPPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}

	conn, ch, err := dialExchange(url, exchange)
	if err != nil {
		return nil, err
	}
	return newAMQPPublisher(conn, ch, exchange, DefaultPublishBuffer, logger), nil
}

func newAMQPPublisher(conn *amqp.Connection, ch amqpChannel, exchange string, buffer int, logger *zap.Logger) *AMQPPublisher {
	p := &AMQPPublisher{
		conn:     conn,
		ch:       ch,
		exchange: exchange,
		logger:   logger,
		queue:    make(chan amqp.Publishing, buffer),
		done:     make(chan struct{}),
	}
	go p.run()
	return p
}

func dialExchange(url, exchange string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	return conn, ch, nil
}

// Publish queues the event for the broker. A full queue or a closed publisher drops it.
func (p *AMQPPublisher) Publish(_ context.Context, event Event) {
	body, err := Encode(event)
	if err != nil {
		p.logger.Error("failed to encode event", zap.String("event", event.EventName()), zap.Error(err))
		return
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		Type:         event.EventName(),
		Timestamp:    event.OccurredAt(),
		DeliveryMode: amqp.Persistent,
		Body:         body,
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- msg:
	default:
		p.logger.Warn("broker queue full, event dropped",
			zap.String("event", event.EventName()),
			zap.String("tenant_id", event.Tenant().String()),
		)
	}
}

func (p *AMQPPublisher) run() {
	defer close(p.done)
	for msg := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err := p.ch.PublishWithContext(ctx, p.exchange, msg.Type, false, false, msg)
		cancel()
		if err != nil {
			p.logger.Error("failed to publish event to broker",
				zap.String("event", msg.Type),
				zap.String("exchange", p.exchange),
				zap.Error(err),
			)
		}
	}
}

// Close flushes queued events, then closes the channel and the connection
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done

	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// AMQPConsumer mirrors one tenant's lead events from the exchange into a Projection
type AMQPConsumer struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	deliveries <-chan amqp.Delivery
	tenantID   uuid.UUID
	logger     *zap.Logger
}

// NewAMQPConsumer binds a private auto-deleted queue to the exchange
func NewAMQPConsumer(url, exchange string, tenantID uuid.UUID, logger *zap.Logger) (*AMQPConsumer, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}

	conn, ch, err := dialExchange(url, exchange)
	if err != nil {
		return nil, err
	}

	fail := func(err error) (*AMQPConsumer, error) {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fail(fmt.Errorf("failed to declare queue: %w", err))
	}
	if err := ch.QueueBind(q.Name, "", exchange, false, nil); err != nil {
		return fail(fmt.Errorf("failed to bind queue to %s: %w", exchange, err))
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fail(fmt.Errorf("failed to consume %s: %w", q.Name, err))
	}

	return &AMQPConsumer{
		conn:       conn,
		ch:         ch,
		deliveries: deliveries,
		tenantID:   tenantID,
		logger:     logger,
	}, nil
}

// Run applies deliveries to the projection until ctx is done or the broker closes the channel
func (c *AMQPConsumer) Run(ctx context.Context, p *Projection) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-c.deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			if _, err := p.ApplyEncoded(d.Body, c.tenantID); err != nil {
				c.logger.Warn("skipping undecodable delivery", zap.String("type", d.Type), zap.Error(err))
			}
		}
	}
}

// Close closes the channel and the connection
func (c *AMQPConsumer) Close() error {
	if err := c.ch.Close(); err != nil {
		_ = c.conn.Close()
		return err
	}
	return c.conn.Close()
}
