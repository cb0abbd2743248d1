package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProgressGrievance is the slice of a grievance row the progress stage
// reasons about.
type ProgressGrievance struct {
	ID          string
	GrievanceID string
	Status      string
	Priority    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ResolvedAt  *time.Time
	SLADeadline *time.Time
}

// WorkflowProgress summarizes a grievance's workflow steps.
type WorkflowProgress struct {
	TotalSteps     int
	CompletedSteps int
}

// Percentage returns workflow completion in [0,100]; zero steps count as 0.
func (w WorkflowProgress) Percentage() float64 {
	if w.TotalSteps == 0 {
		return 0
	}
	return float64(w.CompletedSteps) / float64(w.TotalSteps) * 100
}

// GrievanceFeedback is the citizen feedback attached to a grievance.
type GrievanceFeedback struct {
	Rating *float64
	Text   string
}

// ProgressService reads the department/grievance state the progress stage
// aggregates. All tables except the grievance table are application-owned
// and optional; a missing one degrades to empty results.
type ProgressService struct {
	pool   *pgxpool.Pool
	table  string
	logger *slog.Logger
}

// NewProgressService creates a ProgressService. An empty table name selects
// the default grievance table.
func NewProgressService(pool *pgxpool.Pool, table string) *ProgressService {
	if table == "" {
		table = defaultGrievanceTable
	}
	return &ProgressService{
		pool:   pool,
		table:  table,
		logger: slog.With("component", "progress_service"),
	}
}

// GrievancesForDepartment lists the department's grievances, newest first.
func (s *ProgressService) GrievancesForDepartment(ctx context.Context, departmentID string) ([]ProgressGrievance, error) {
	sql := fmt.Sprintf(`
		SELECT id, grievance_id, COALESCE(status, 'unknown'), COALESCE(priority, 'medium'),
		       created_at, updated_at, resolved_at, sla_deadline
		FROM %s
		WHERE department_id = $1
		ORDER BY created_at DESC`, s.table)

	rows, err := s.pool.Query(ctx, sql, departmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list grievances for department %s: %w", departmentID, err)
	}
	defer rows.Close()

	var grievances []ProgressGrievance
	for rows.Next() {
		var g ProgressGrievance
		if err := rows.Scan(&g.ID, &g.GrievanceID, &g.Status, &g.Priority,
			&g.CreatedAt, &g.UpdatedAt, &g.ResolvedAt, &g.SLADeadline); err != nil {
			return nil, fmt.Errorf("failed to scan grievance row: %w", err)
		}
		grievances = append(grievances, g)
	}
	return grievances, rows.Err()
}

// Workflow counts the grievance's workflow steps.
func (s *ProgressService) Workflow(ctx context.Context, grievanceID string) (WorkflowProgress, error) {
	var progress WorkflowProgress
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE is_completed)
		FROM grievanceworkflow
		WHERE grievance_id = $1`, grievanceID,
	).Scan(&progress.TotalSteps, &progress.CompletedSteps)
	if err != nil {
		if isUndefinedTable(err) {
			return WorkflowProgress{}, nil
		}
		return WorkflowProgress{}, fmt.Errorf("failed to count workflow steps for grievance %s: %w", grievanceID, err)
	}
	return progress, nil
}

// Feedback fetches citizen feedback, or nil when none exists.
func (s *ProgressService) Feedback(ctx context.Context, grievanceID string) (*GrievanceFeedback, error) {
	var feedback GrievanceFeedback
	var text *string
	err := s.pool.QueryRow(ctx, `
		SELECT rating, feedback_text
		FROM grievancefeedback
		WHERE grievance_id = $1
		LIMIT 1`, grievanceID,
	).Scan(&feedback.Rating, &text)
	if errors.Is(err, pgx.ErrNoRows) || isUndefinedTable(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feedback for grievance %s: %w", grievanceID, err)
	}
	feedback.Text = deref(text)
	return &feedback, nil
}
