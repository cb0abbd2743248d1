package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/streadway/amqp"
)

// AMQPTransport is the RabbitMQ-backed Transport. Queues are declared
// durable on first use; messages are received with manual acknowledgement so
// an unacked message behaves as a leased one — invisible to peers until the
// worker acks or its channel dies and the broker redelivers.
type AMQPTransport struct {
	url    string
	dialer AMQPDialer

	mu       sync.Mutex
	conn     AMQPConnection
	channel  AMQPChannel
	declared map[string]bool
	closed   bool
}

// NewAMQPTransport connects to the broker at url.
func NewAMQPTransport(url string) (*AMQPTransport, error) {
	return NewAMQPTransportWithDialer(url, RealAMQPDialer{})
}

// NewAMQPTransportWithDialer allows injecting a dialer for tests.
func NewAMQPTransportWithDialer(url string, dialer AMQPDialer) (*AMQPTransport, error) {
	t := &AMQPTransport{
		url:      url,
		dialer:   dialer,
		declared: make(map[string]bool),
	}
	if err := t.connect(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *AMQPTransport) connect() error {
	conn, err := t.dialer.Dial(t.url)
	if err != nil {
		return fmt.Errorf("failed to connect to AMQP broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to open a channel: %w", err)
	}
	t.conn = conn
	t.channel = ch
	t.declared = make(map[string]bool)
	return nil
}

// reconnect tears down and re-establishes the connection. Unacked messages
// on the old channel are redelivered by the broker — this is the lease
// expiry path.
func (t *AMQPTransport) reconnect() error {
	if t.channel != nil {
		_ = t.channel.Close()
	}
	if t.conn != nil {
		_ = t.conn.Close()
	}
	return t.connect()
}

// ensureQueue declares the named queue as durable, once per connection.
func (t *AMQPTransport) ensureQueue(name string) error {
	if t.declared[name] {
		return nil
	}
	_, err := t.channel.QueueDeclare(
		name,  // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", name, err)
	}
	t.declared[name] = true
	return nil
}

// Send publishes body to the named queue via the default exchange.
func (t *AMQPTransport) Send(ctx context.Context, queueName string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if err := t.ensureQueue(queueName); err != nil {
		return err
	}
	err := t.channel.Publish(
		"",        // exchange (default)
		queueName, // routing key
		false,     // mandatory
		false,     // immediate
		amqp.Publishing{
			ContentType:  "application/octet-stream",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		if rerr := t.reconnect(); rerr != nil {
			return fmt.Errorf("failed to publish message: %w", err)
		}
		return fmt.Errorf("failed to publish message (connection reset): %w", err)
	}
	return nil
}

// Receive leases at most one message with manual acknowledgement.
func (t *AMQPTransport) Receive(ctx context.Context, queueName string) (*Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	if err := t.ensureQueue(queueName); err != nil {
		return nil, err
	}

	msg, ok, err := t.channel.Get(queueName, false)
	if err != nil {
		if rerr := t.reconnect(); rerr != nil {
			return nil, fmt.Errorf("failed to receive message: %w", err)
		}
		return nil, fmt.Errorf("failed to receive message (connection reset): %w", err)
	}
	if !ok {
		return nil, ErrNoMessages
	}
	return &Delivery{
		Body: msg.Body,
		ack: func() error {
			return msg.Ack(false)
		},
	}, nil
}

// Depth reports the number of ready messages on the named queue.
func (t *AMQPTransport) Depth(ctx context.Context, queueName string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, ErrClosed
	}
	q, err := t.channel.QueueInspect(queueName)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect queue %s: %w", queueName, err)
	}
	return q.Messages, nil
}

// Close shuts down the channel and connection.
func (t *AMQPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.channel != nil {
		_ = t.channel.Close()
	}
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}
