// Package jobs implements the cooperative claim protocol for the DB-backed
// embedding job table. Many workers share the table; row-level locks in
// SKIP LOCKED mode guarantee that two racing claimers never take the same
// row, and a lock-free janitor returns stuck or aged-failed rows to pending.
package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/civicgrid/grievance-pipeline/pkg/config"
	"github.com/civicgrid/grievance-pipeline/pkg/metrics"
	"github.com/civicgrid/grievance-pipeline/pkg/models"
)

// maxErrorLength bounds the error column on failure writes.
const maxErrorLength = 2000

// DB is the database surface the claimer needs. *pgxpool.Pool satisfies it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Claimer claims, completes, and fails embedding job rows.
type Claimer struct {
	db     DB
	cfg    *config.JobsConfig
	logger *slog.Logger
}

// NewClaimer creates a claimer over the given pool.
func NewClaimer(db DB, cfg *config.JobsConfig) *Claimer {
	return &Claimer{
		db:     db,
		cfg:    cfg,
		logger: slog.With("component", "job_claimer"),
	}
}

// Claim atomically claims up to limit pending rows, oldest first. The select
// and the status flip happen in one statement, so a row leaves pending only
// while its lock is held and exactly one worker ever claims it.
func (c *Claimer) Claim(ctx context.Context, limit int) ([]models.EmbeddingJob, error) {
	rows, err := c.db.Query(ctx, `
		WITH next_jobs AS (
			SELECT id
			FROM embedding_jobs
			WHERE status = 'pending'
			ORDER BY created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE embedding_jobs j
		SET status = 'processing', last_attempt_at = NOW(), updated_at = NOW()
		FROM next_jobs
		WHERE j.id = next_jobs.id
		RETURNING j.id, j.table_name, j.row_id, j.status, COALESCE(j.error, ''),
		          j.last_attempt_at, j.created_at, j.updated_at`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.EmbeddingJob
	for rows.Next() {
		var j models.EmbeddingJob
		if err := rows.Scan(&j.ID, &j.TableName, &j.RowID, &j.Status, &j.Error,
			&j.LastAttemptAt, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan claimed job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read claimed jobs: %w", err)
	}
	return jobs, nil
}

// MarkCompleted writes the terminal completed status. Only the claiming
// worker calls this, so the row must still be processing.
func (c *Claimer) MarkCompleted(ctx context.Context, id int64) error {
	tag, err := c.db.Exec(ctx, `
		UPDATE embedding_jobs
		SET status = 'completed', error = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'`, id)
	if err != nil {
		return fmt.Errorf("failed to mark job %d completed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		c.logger.Warn("Completion wrote no rows — job was requeued or completed elsewhere", "job_id", id)
	}
	return nil
}

// MarkFailed writes the terminal failed status with a bounded error string.
func (c *Claimer) MarkFailed(ctx context.Context, id int64, jobErr error) error {
	msg := ""
	if jobErr != nil {
		msg = jobErr.Error()
	}
	_, err := c.db.Exec(ctx, `
		UPDATE embedding_jobs
		SET status = 'failed', error = LEFT($2, $3), updated_at = NOW()
		WHERE id = $1`, id, msg, maxErrorLength)
	if err != nil {
		return fmt.Errorf("failed to mark job %d failed: %w", id, err)
	}
	return nil
}

// RequeueStuck is the janitor: it moves processing rows whose last attempt
// is older than the stuck timeout back to pending, and failed rows older
// than the failed timeout likewise. Idempotent and lock-free; every worker
// calls it at the top of its loop.
func (c *Claimer) RequeueStuck(ctx context.Context) error {
	stuck, err := c.db.Exec(ctx, `
		UPDATE embedding_jobs
		SET status = 'pending', updated_at = NOW()
		WHERE status = 'processing'
		  AND last_attempt_at < NOW() - make_interval(secs => $1)`,
		int64(c.cfg.RequeueStuckAfter.Seconds()))
	if err != nil {
		return fmt.Errorf("failed to requeue stuck jobs: %w", err)
	}
	if n := stuck.RowsAffected(); n > 0 {
		c.logger.Info("Requeued stuck jobs", "count", n)
		metrics.JobsRequeued.WithLabelValues("embedding_jobs", models.JobProcessing).Add(float64(n))
	}

	failed, err := c.db.Exec(ctx, `
		UPDATE embedding_jobs
		SET status = 'pending', updated_at = NOW()
		WHERE status = 'failed'
		  AND updated_at < NOW() - make_interval(secs => $1)`,
		int64(c.cfg.RequeueFailedAfter.Seconds()))
	if err != nil {
		return fmt.Errorf("failed to requeue failed jobs: %w", err)
	}
	if n := failed.RowsAffected(); n > 0 {
		c.logger.Info("Requeued failed jobs", "count", n)
		metrics.JobsRequeued.WithLabelValues("embedding_jobs", models.JobFailed).Add(float64(n))
	}
	return nil
}

// Enqueue inserts a new pending job referencing (tableName, rowID).
func (c *Claimer) Enqueue(ctx context.Context, tableName string, rowID int64) error {
	_, err := c.db.Exec(ctx, `
		INSERT INTO embedding_jobs (table_name, row_id, status)
		VALUES ($1, $2, 'pending')`, tableName, rowID)
	if err != nil {
		return fmt.Errorf("failed to enqueue job for %s/%d: %w", tableName, rowID, err)
	}
	return nil
}
