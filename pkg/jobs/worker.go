package jobs

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/civicgrid/grievance-pipeline/pkg/config"
	"github.com/civicgrid/grievance-pipeline/pkg/models"
)

// Executor processes one claimed job. Implementations must be idempotent on
// (table_name, row_id): the janitor may hand the same row to another worker
// after a crash.
type Executor interface {
	Execute(ctx context.Context, job models.EmbeddingJob) error
}

// Worker polls the embedding job table: janitor first, then claim a batch,
// then process each claimed row to a terminal status.
type Worker struct {
	claimer  *Claimer
	executor Executor
	cfg      *config.JobsConfig
	logger   *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWorker creates a job table worker.
func NewWorker(claimer *Claimer, executor Executor, cfg *config.JobsConfig) *Worker {
	return &Worker{
		claimer:  claimer,
		executor: executor,
		cfg:      cfg,
		logger:   slog.With("component", "job_worker"),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the poll loop in a background goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
	w.logger.Info("Job worker started")
}

// Stop signals the loop to exit and waits for the in-flight batch.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
	w.logger.Info("Job worker stopped")
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		processed, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("Job pass failed", "error", err)
			w.sleep(w.pollInterval())
			continue
		}
		if processed == 0 {
			w.sleep(w.pollInterval())
		}
	}
}

// RunOnce performs one full pass: janitor, claim, process. Returns the
// number of jobs processed. Used directly by the --once flag.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	if err := w.claimer.RequeueStuck(ctx); err != nil {
		// Non-fatal: another worker's janitor pass will catch up.
		w.logger.Warn("Janitor pass failed", "error", err)
	}

	claimed, err := w.claimer.Claim(ctx, w.cfg.ClaimLimit)
	if err != nil {
		return 0, err
	}

	for _, job := range claimed {
		w.process(ctx, job)
	}
	return len(claimed), nil
}

func (w *Worker) process(ctx context.Context, job models.EmbeddingJob) {
	logger := w.logger.With("job_id", job.ID, "table", job.TableName, "row_id", job.RowID)

	jobCtx, cancel := context.WithTimeout(ctx, w.cfg.RequeueStuckAfter/2)
	err := w.executor.Execute(jobCtx, job)
	cancel()

	// Terminal status writes use a fresh context so a cancelled handler
	// still leaves the job table consistent.
	writeCtx, writeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer writeCancel()

	if err != nil {
		logger.Error("Job failed", "error", err)
		if markErr := w.claimer.MarkFailed(writeCtx, job.ID, err); markErr != nil {
			logger.Error("Failed to record job failure", "error", markErr)
		}
		return
	}
	if markErr := w.claimer.MarkCompleted(writeCtx, job.ID); markErr != nil {
		logger.Error("Failed to record job completion", "error", markErr)
		return
	}
	logger.Info("Job completed")
}

// pollInterval returns the poll interval with ±25% jitter.
func (w *Worker) pollInterval() time.Duration {
	jitter := w.cfg.PollInterval / 4
	if jitter <= 0 {
		return w.cfg.PollInterval
	}
	return w.cfg.PollInterval - jitter + time.Duration(rand.Int64N(int64(2*jitter)))
}

func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}
