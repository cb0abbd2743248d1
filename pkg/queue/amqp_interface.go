package queue

import "github.com/streadway/amqp"

// AMQPDialer abstracts the AMQP dial so the transport can be tested without
// a broker.
type AMQPDialer interface {
	Dial(url string) (AMQPConnection, error)
}

// AMQPConnection abstracts an AMQP connection.
type AMQPConnection interface {
	Channel() (AMQPChannel, error)
	Close() error
}

// AMQPChannel abstracts the subset of amqp.Channel the transport uses.
type AMQPChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueInspect(name string) (amqp.Queue, error)
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Get(queue string, autoAck bool) (amqp.Delivery, bool, error)
	Close() error
}

// RealAMQPDialer dials a live broker.
type RealAMQPDialer struct{}

func (RealAMQPDialer) Dial(url string) (AMQPConnection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return &realAMQPConnection{conn: conn}, nil
}

type realAMQPConnection struct {
	conn *amqp.Connection
}

func (c *realAMQPConnection) Channel() (AMQPChannel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (c *realAMQPConnection) Close() error {
	return c.conn.Close()
}
