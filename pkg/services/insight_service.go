package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// InsightService persists AI-generated department insights and keeps the
// department dashboard pointing at the latest progress report.
type InsightService struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewInsightService creates a new InsightService
func NewInsightService(pool *pgxpool.Pool) *InsightService {
	return &InsightService{
		pool:   pool,
		logger: slog.With("component", "insight_service"),
	}
}

// SaveInsight records one insight row for a department.
func (s *InsightService) SaveInsight(ctx context.Context, departmentID, insightType string, content map[string]any, reportURL string) error {
	contentJSON, err := marshalJSONB(content)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO aiinsights (department_id, insight_type, content, report_url)
		VALUES ($1, $2, $3::jsonb, $4)`,
		departmentID, insightType, string(contentJSON), nullIfEmpty(reportURL))
	if err != nil {
		return fmt.Errorf("failed to save insight for department %s: %w", departmentID, err)
	}
	return nil
}

// RecordDashboardReport merges the latest report reference into the
// department's dashboard JSON. The dashboard table is application-owned;
// a missing table is logged and tolerated.
func (s *InsightService) RecordDashboardReport(ctx context.Context, departmentID, reportURL string, generatedAt string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO department_dashboards (department_id, dashboard_data)
		VALUES ($1, jsonb_build_object('latest_progress_report', $2::text, 'generated_at', $3::text))
		ON CONFLICT (department_id) DO UPDATE
		SET dashboard_data = department_dashboards.dashboard_data ||
			jsonb_build_object('latest_progress_report', $2::text, 'generated_at', $3::text)`,
		departmentID, reportURL, generatedAt)
	if err != nil {
		if isUndefinedTable(err) {
			s.logger.Warn("Department dashboard table missing, skipping report link", "department_id", departmentID)
			return nil
		}
		return fmt.Errorf("failed to record dashboard report for department %s: %w", departmentID, err)
	}
	return nil
}
