// Package cleanup enforces data retention on the pipeline-owned tables.
package cleanup

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/civicgrid/grievance-pipeline/pkg/config"
)

// Service periodically enforces retention policies:
//   - Deletes completed embedding job rows past their retention window
//   - Deletes aged aiinsights rows
//
// All sweeps are idempotent and safe to run from multiple workers.
type Service struct {
	cfg    *config.RetentionConfig
	pool   *pgxpool.Pool
	logger *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg *config.RetentionConfig, pool *pgxpool.Pool) *Service {
	return &Service{
		cfg:    cfg,
		pool:   pool,
		logger: slog.With("component", "cleanup"),
	}
}

// Start launches the background sweep loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("Cleanup service started",
		"completed_job_retention", s.cfg.CompletedJobRetention,
		"insight_retention", s.cfg.InsightRetention,
		"interval", s.cfg.SweepInterval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.RunAll(ctx)

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunAll(ctx)
		}
	}
}

// RunAll executes one pass of every sweep.
func (s *Service) RunAll(ctx context.Context) {
	s.pruneCompletedJobs(ctx)
	s.pruneOldInsights(ctx)
}

func (s *Service) pruneCompletedJobs(ctx context.Context) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM embedding_jobs
		WHERE status = 'completed'
		  AND updated_at < NOW() - make_interval(secs => $1)`,
		int64(s.cfg.CompletedJobRetention.Seconds()))
	if err != nil {
		s.logger.Error("Retention: completed job sweep failed", "error", err)
		return
	}
	if n := tag.RowsAffected(); n > 0 {
		s.logger.Info("Retention: deleted completed embedding jobs", "count", n)
	}
}

// pruneOldInsights ages out aiinsights rows. The table is application-owned;
// deployments without it are tolerated.
func (s *Service) pruneOldInsights(ctx context.Context) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM aiinsights
		WHERE created_at < NOW() - make_interval(secs => $1)`,
		int64(s.cfg.InsightRetention.Seconds()))
	if err != nil {
		if isUndefinedTable(err) {
			return
		}
		s.logger.Error("Retention: insight sweep failed", "error", err)
		return
	}
	if n := tag.RowsAffected(); n > 0 {
		s.logger.Info("Retention: deleted aged insights", "count", n)
	}
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42P01"
}
