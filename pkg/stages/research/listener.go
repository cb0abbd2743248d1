package research

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"

	"github.com/civicgrid/grievance-pipeline/pkg/models"
)

// NotificationHandler processes one decoded grievance notification.
type NotificationHandler interface {
	Process(ctx context.Context, notification *models.ResearchNotification) error
}

// Listener holds a dedicated LISTEN connection and dispatches each
// notification to the handler. Connection loss reconnects with backoff and
// re-issues LISTEN; notifications fired while disconnected are lost, which
// is acceptable because grievances are re-announced on their next update.
type Listener struct {
	connString string
	channel    string
	handler    NotificationHandler
	logger     *slog.Logger
}

// NewListener creates a listener for the given NOTIFY channel.
func NewListener(connString, channel string, handler NotificationHandler) *Listener {
	return &Listener{
		connString: connString,
		channel:    channel,
		handler:    handler,
		logger:     slog.With("component", "research_listener", "channel", channel),
	}
}

// Run listens until the context is cancelled. The dedicated connection is
// only ever touched from this goroutine.
func (l *Listener) Run(ctx context.Context) error {
	conn, err := l.connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	l.logger.Info("Listening for grievance notifications")

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.logger.Error("NOTIFY receive failed, reconnecting", "error", err)
			_ = conn.Close(ctx)
			if conn, err = l.reconnect(ctx); err != nil {
				return err
			}
			continue
		}
		l.dispatch(ctx, []byte(notification.Payload))
	}
}

func (l *Listener) connect(ctx context.Context) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, l.connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect for LISTEN: %w", err)
	}
	sanitized := pgx.Identifier{l.channel}.Sanitize()
	if _, err := conn.Exec(ctx, "LISTEN "+sanitized); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("LISTEN %s failed: %w", sanitized, err)
	}
	return conn, nil
}

// reconnect redials until the context is cancelled, backing off
// exponentially between attempts.
func (l *Listener) reconnect(ctx context.Context) (*pgx.Conn, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxInterval = 30 * time.Second
	policy.MaxElapsedTime = 0

	var conn *pgx.Conn
	dial := func() error {
		var err error
		if conn, err = l.connect(ctx); err != nil {
			l.logger.Error("Listener reconnect failed", "error", err)
			return err
		}
		return nil
	}
	if err := backoff.Retry(dial, backoff.WithContext(policy, ctx)); err != nil {
		return nil, err
	}
	l.logger.Info("Listener reconnected")
	return conn, nil
}

// dispatch decodes and processes one payload. Malformed payloads and
// processing failures are logged and dropped; the listener never dies over
// one grievance.
func (l *Listener) dispatch(ctx context.Context, payload []byte) {
	var notification models.ResearchNotification
	if err := json.Unmarshal(payload, &notification); err != nil {
		l.logger.Error("Undecodable notification payload", "error", err)
		return
	}
	if notification.GrievanceID == "" {
		l.logger.Error("Notification without grievance_id")
		return
	}

	if err := l.handler.Process(ctx, &notification); err != nil {
		l.logger.Error("Grievance research failed",
			"grievance_id", notification.GrievanceID,
			"error", err)
	}
}
