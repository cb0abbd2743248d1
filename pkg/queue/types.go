package queue

import (
	"context"
	"errors"

	"github.com/civicgrid/grievance-pipeline/pkg/models"
)

// Sentinel errors for queue operations.
var (
	// ErrNoMessages indicates an empty queue; the caller should back off.
	ErrNoMessages = errors.New("no messages available")

	// ErrClosed indicates the transport has been closed.
	ErrClosed = errors.New("queue transport is closed")
)

// Delivery is one leased message. The message stays invisible to peers until
// Ack (processing finished, drop it) or the lease lapses with the transport.
type Delivery struct {
	Body []byte

	ack func() error
}

// Ack removes the message from the queue. Callers must order Ack after any
// downstream sends and DB writes the handler performed.
func (d *Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

// Transport is the durable queue used between stages. Implementations must
// provide at-least-once delivery with per-message visibility leases.
type Transport interface {
	// Send publishes body to the named queue.
	Send(ctx context.Context, queueName string, body []byte) error

	// Receive leases at most one message from the named queue. Returns
	// ErrNoMessages when the queue is empty.
	Receive(ctx context.Context, queueName string) (*Delivery, error)

	// Depth reports the number of ready messages, for the queue gauge.
	Depth(ctx context.Context, queueName string) (int, error)

	// Close releases the transport.
	Close() error
}

// StageHandler processes one decoded payload. Handlers must be idempotent on
// the entity id: replaying a message yields the same terminal DB and blob
// state. Any downstream sends happen inside Handle, before it returns, so
// that the runner's ack always comes last.
type StageHandler interface {
	// Name identifies the stage in logs and metrics.
	Name() string

	// OwnedStatuses lists the status tags this stage accepts. A message
	// carrying a different non-empty tag is misrouted and deleted without
	// processing. An empty list accepts everything.
	OwnedStatuses() []string

	// Handle processes one payload and reports the tagged outcome.
	Handle(ctx context.Context, payload []byte) models.Outcome
}
