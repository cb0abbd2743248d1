package queue

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/civicgrid/grievance-pipeline/pkg/config"
	"github.com/civicgrid/grievance-pipeline/pkg/metrics"
	"github.com/civicgrid/grievance-pipeline/pkg/models"
)

// Runner drives one stage handler against one queue. Every stage worker is
// an instance of the same loop: lease, decode, status-gate, dispatch, record
// the outcome, ack. Acks always come after the handler's downstream sends
// and DB writes, so a crash mid-handler only ever duplicates work that
// idempotent handlers absorb.
type Runner struct {
	transport Transport
	queueName string
	handler   StageHandler
	cfg       *config.QueueConfig
	logger    *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRunner creates a runner for one stage.
func NewRunner(transport Transport, queueName string, handler StageHandler, cfg *config.QueueConfig) *Runner {
	return &Runner{
		transport: transport,
		queueName: queueName,
		handler:   handler,
		cfg:       cfg,
		logger: slog.With(
			"stage", handler.Name(),
			"queue", queueName,
		),
		stopCh: make(chan struct{}),
	}
}

// Start launches the receive loop in a background goroutine.
func (r *Runner) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.run(ctx)
	r.logger.Info("Stage runner started")
}

// Stop signals the loop to exit and waits for the in-flight handler, up to
// the configured graceful shutdown timeout.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.logger.Info("Stage runner stopped")
	case <-time.After(r.cfg.GracefulShutdownTimeout):
		r.logger.Warn("Stage runner shutdown timeout exceeded — lease will expire and a peer will retry")
	}
}

func (r *Runner) run(ctx context.Context) {
	defer r.wg.Done()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		processed, err := r.pollAndProcess(ctx)
		if err != nil {
			r.logger.Error("Poll failed", "error", err)
			r.sleep(r.pollInterval())
			continue
		}
		if !processed {
			r.sampleDepth(ctx)
			r.sleep(r.pollInterval())
		}
	}
}

// RunOnce drains the queue until it is empty, then returns. Used by the
// --once flag for batch-style invocations.
func (r *Runner) RunOnce(ctx context.Context) error {
	for {
		processed, err := r.pollAndProcess(ctx)
		if err != nil {
			return err
		}
		if !processed {
			return nil
		}
	}
}

// pollAndProcess leases and handles at most one message. Returns true when a
// message was consumed (processed or quarantined).
func (r *Runner) pollAndProcess(ctx context.Context) (bool, error) {
	delivery, err := r.transport.Receive(ctx, r.queueName)
	if errors.Is(err, ErrNoMessages) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	env, err := DecodeEnvelope(delivery.Body)
	if err != nil {
		// Poison quarantine: one log entry, one delete, never redelivered.
		r.logger.Warn("Quarantining malformed message", "error", err)
		metrics.PoisonMessages.WithLabelValues(r.handler.Name()).Inc()
		if ackErr := delivery.Ack(); ackErr != nil {
			return true, ackErr
		}
		return true, nil
	}
	payload := env.Payload

	if status := PayloadStatus(payload); !r.ownsStatus(status) {
		// Misrouted message: the routing is already wrong, retrying will not
		// help. Delete silently and continue.
		r.logger.Warn("Deleting misrouted message",
			"message_id", env.MessageID, "message_status", status)
		metrics.MisroutedMessages.WithLabelValues(r.handler.Name()).Inc()
		if ackErr := delivery.Ack(); ackErr != nil {
			return true, ackErr
		}
		return true, nil
	}

	handlerCtx, cancel := context.WithTimeout(ctx, r.cfg.VisibilityTimeout)
	start := time.Now()
	outcome := r.handler.Handle(handlerCtx, payload)
	cancel()
	metrics.HandlerDuration.WithLabelValues(r.handler.Name()).Observe(time.Since(start).Seconds())
	metrics.MessagesProcessed.WithLabelValues(r.handler.Name(), outcome.Kind.String()).Inc()

	switch outcome.Kind {
	case models.OutcomeSuccess:
		// Downstream sends already happened inside the handler.
	case models.OutcomeBusinessFailure:
		r.logger.Info("Handler rejected message",
			"message_id", env.MessageID, "reason", outcome.Reason)
	case models.OutcomeTransient:
		// Logged and deleted after logging to prevent poison loops; the
		// failure is already persisted on the entity by the handler.
		r.logger.Error("Handler failed after exhausting retries",
			"message_id", env.MessageID, "error", outcome.Err)
	}

	if err := delivery.Ack(); err != nil {
		return true, err
	}
	return true, nil
}

func (r *Runner) ownsStatus(status string) bool {
	owned := r.handler.OwnedStatuses()
	if len(owned) == 0 || status == "" {
		return true
	}
	for _, s := range owned {
		if s == status {
			return true
		}
	}
	return false
}

// pollInterval returns the poll interval with ±25% jitter so that idle
// workers do not poll in lockstep.
func (r *Runner) pollInterval() time.Duration {
	jitter := r.cfg.PollInterval / 4
	if jitter <= 0 {
		return r.cfg.PollInterval
	}
	return r.cfg.PollInterval - jitter + time.Duration(rand.Int64N(int64(2*jitter)))
}

// sleep waits for d or until Stop is called.
func (r *Runner) sleep(d time.Duration) {
	select {
	case <-r.stopCh:
	case <-time.After(d):
	}
}

func (r *Runner) sampleDepth(ctx context.Context) {
	depth, err := r.transport.Depth(ctx, r.queueName)
	if err != nil {
		return
	}
	metrics.QueueDepth.WithLabelValues(r.queueName).Set(float64(depth))
}
