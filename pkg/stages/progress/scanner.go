package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/civicgrid/grievance-pipeline/pkg/analyzer"
	"github.com/civicgrid/grievance-pipeline/pkg/blob"
	"github.com/civicgrid/grievance-pipeline/pkg/config"
	"github.com/civicgrid/grievance-pipeline/pkg/services"
)

// departmentDirectory is the slice of services.DepartmentService the scanner
// reads.
type departmentDirectory interface {
	Active(ctx context.Context) ([]services.Department, error)
	ByID(ctx context.Context, id string) (*services.Department, error)
	FirstOfficer(ctx context.Context, departmentID string) (string, error)
}

// progressReader reads the grievance state the scan aggregates.
type progressReader interface {
	GrievancesForDepartment(ctx context.Context, departmentID string) ([]services.ProgressGrievance, error)
	Workflow(ctx context.Context, grievanceID string) (services.WorkflowProgress, error)
	Feedback(ctx context.Context, grievanceID string) (*services.GrievanceFeedback, error)
}

// escalationWriter inserts escalation rows.
type escalationWriter interface {
	Create(ctx context.Context, escalation *services.Escalation, officerID string) error
	HasUnresolved(ctx context.Context, grievanceID string) (bool, error)
}

// insightWriter persists the report row and the dashboard link.
type insightWriter interface {
	SaveInsight(ctx context.Context, departmentID, insightType string, content map[string]any, reportURL string) error
	RecordDashboardReport(ctx context.Context, departmentID, reportURL string, generatedAt string) error
}

// Scanner runs one progress scan over the configured departments.
type Scanner struct {
	departments departmentDirectory
	progress    progressReader
	escalations escalationWriter
	insights    insightWriter
	store       blob.Store
	text        analyzer.TextAnalyzer

	cfg    *config.ProgressConfig
	logger *slog.Logger

	now func() time.Time
}

// NewScanner wires the progress scanner.
func NewScanner(
	departments departmentDirectory,
	progress progressReader,
	escalations escalationWriter,
	insights insightWriter,
	store blob.Store,
	text analyzer.TextAnalyzer,
	cfg *config.ProgressConfig,
) *Scanner {
	return &Scanner{
		departments: departments,
		progress:    progress,
		escalations: escalations,
		insights:    insights,
		store:       store,
		text:        text,
		cfg:         cfg,
		logger:      slog.With("stage", "progress"),
		now:         time.Now,
	}
}

// Run scans every configured department. A department that fails is logged
// and skipped; the scan only fails when no department could be listed.
func (s *Scanner) Run(ctx context.Context) error {
	departments, err := s.targetDepartments(ctx)
	if err != nil {
		return err
	}

	for _, dept := range departments {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.ScanDepartment(ctx, &dept); err != nil {
			s.logger.Error("Department scan failed",
				"department_id", dept.ID,
				"department", dept.Name,
				"error", err)
		}
	}
	return nil
}

func (s *Scanner) targetDepartments(ctx context.Context) ([]services.Department, error) {
	if s.cfg.TargetDepartmentID != "" {
		dept, err := s.departments.ByID(ctx, s.cfg.TargetDepartmentID)
		if err != nil {
			return nil, fmt.Errorf("failed to load target department %s: %w", s.cfg.TargetDepartmentID, err)
		}
		return []services.Department{*dept}, nil
	}
	return s.departments.Active(ctx)
}

// ScanDepartment analyzes one department: per-grievance health, performance
// roll-up, narrative report, dashboard link and escalations.
func (s *Scanner) ScanDepartment(ctx context.Context, dept *services.Department) error {
	grievances, err := s.progress.GrievancesForDepartment(ctx, dept.ID)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	analyses := make([]GrievanceAnalysis, 0, len(grievances))
	for _, g := range grievances {
		workflow, err := s.progress.Workflow(ctx, g.GrievanceID)
		if err != nil {
			s.logger.Warn("Workflow lookup failed", "grievance_id", g.GrievanceID, "error", err)
		}
		feedback, err := s.progress.Feedback(ctx, g.GrievanceID)
		if err != nil {
			s.logger.Warn("Feedback lookup failed", "grievance_id", g.GrievanceID, "error", err)
		}
		analyses = append(analyses, analyzeGrievance(g, workflow, feedback, s.cfg, now))
	}

	report := buildReport(dept.ID, dept.Name, analyses, now)
	narrative := s.narrative(ctx, report)
	markdown := renderMarkdown(report, narrative)

	path := blob.ProgressReportPath(dept.ID, now)
	if err := s.store.Upload(ctx, path, []byte(markdown), "text/markdown"); err != nil {
		return fmt.Errorf("failed to upload progress report: %w", err)
	}

	content := map[string]any{
		"total_grievances":    report.Total,
		"resolved":            report.Resolved,
		"overdue":             report.Overdue,
		"stalled":             report.Stalled,
		"at_risk":             report.AtRisk,
		"sla_breaches":        report.SLABreach,
		"resolution_rate":     report.ResolutionRate,
		"average_rating":      report.AverageRating,
		"avg_resolution_days": report.AvgResolutionDays,
		"performance_score":   report.PerformanceScore,
	}
	if err := s.insights.SaveInsight(ctx, dept.ID, "progress_report", content, path); err != nil {
		return err
	}
	if err := s.insights.RecordDashboardReport(ctx, dept.ID, path, now.Format(time.RFC3339)); err != nil {
		return err
	}

	escalated, level := s.escalate(ctx, dept, report)
	s.logger.Info("Department scan completed",
		"department_id", dept.ID,
		"department", dept.Name,
		"grievances", report.Total,
		"performance_score", report.PerformanceScore,
		"escalation_level", level,
		"escalated", escalated)
	return nil
}

// narrative asks the text analyzer for a prose report; on failure the scan
// continues with a generated summary so the artifact always exists.
func (s *Scanner) narrative(ctx context.Context, report *DepartmentReport) string {
	prompt := fmt.Sprintf(`You are a municipal operations analyst. Write a short
progress narrative for the %s department based on these numbers: %d open
grievances in total, %d resolved (%.1f%% resolution rate), %d overdue,
%d stalled, %d at risk, %d SLA breaches, average citizen rating %.1f/5,
average resolution time %.1f days, performance score %.1f/100.

Call out the biggest risks and one concrete recommendation. Plain prose,
no preamble.`,
		report.DepartmentName, report.Total, report.Resolved, report.ResolutionRate,
		report.Overdue, report.Stalled, report.AtRisk, report.SLABreach,
		report.AverageRating, report.AvgResolutionDays, report.PerformanceScore)

	narrative, err := s.text.Analyze(ctx, prompt)
	if err != nil {
		s.logger.Warn("Narrative generation failed, using summary fallback",
			"department_id", report.DepartmentID,
			"error", err)
		return fmt.Sprintf("%d grievances tracked, %d resolved, %d overdue, %d stalled. Performance score %.1f/100.",
			report.Total, report.Resolved, report.Overdue, report.Stalled, report.PerformanceScore)
	}
	return narrative
}

// escalate inserts escalation rows for grievances that tripped a trigger.
// Escalation failures never fail the scan; the report already persisted.
func (s *Scanner) escalate(ctx context.Context, dept *services.Department, report *DepartmentReport) (int, string) {
	triggers := evaluateTriggers(report)
	level := escalationLevel(triggers)
	if level == services.EscalationStandard {
		return 0, level
	}

	reasons := make([]string, 0, len(triggers))
	for _, trigger := range triggers {
		reasons = append(reasons, trigger.Detail)
	}

	// No officer means nobody to escalate to; the report still records the
	// level so the department dashboard surfaces the backlog.
	officerID, err := s.departments.FirstOfficer(ctx, dept.ID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			s.logger.Warn("No officer for department, skipping escalations", "department_id", dept.ID)
		} else {
			s.logger.Warn("Officer lookup failed, skipping escalations", "department_id", dept.ID, "error", err)
		}
		return 0, level
	}

	escalated := 0
	for _, g := range report.Grievances {
		if !g.NeedsEscalation() {
			continue
		}
		open, err := s.escalations.HasUnresolved(ctx, g.GrievanceID)
		if err != nil {
			s.logger.Warn("Escalation lookup failed", "grievance_id", g.GrievanceID, "error", err)
			continue
		}
		if open {
			continue
		}
		err = s.escalations.Create(ctx, &services.Escalation{
			GrievanceID:  g.GrievanceID,
			DepartmentID: dept.ID,
			Level:        level,
			Reasons:      reasons,
		}, officerID)
		if err != nil {
			s.logger.Error("Escalation insert failed", "grievance_id", g.GrievanceID, "error", err)
			continue
		}
		escalated++
	}
	return escalated, level
}

func renderMarkdown(report *DepartmentReport, narrative string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Progress Report: %s\n\n", report.DepartmentName)
	fmt.Fprintf(&b, "Generated: %s\n\n", report.GeneratedAt.Format(time.RFC3339))
	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "- Total grievances: %d\n", report.Total)
	fmt.Fprintf(&b, "- Resolved: %d (%.1f%%)\n", report.Resolved, report.ResolutionRate)
	fmt.Fprintf(&b, "- Overdue: %d\n", report.Overdue)
	fmt.Fprintf(&b, "- Stalled: %d\n", report.Stalled)
	fmt.Fprintf(&b, "- At risk: %d\n", report.AtRisk)
	fmt.Fprintf(&b, "- SLA breaches: %d\n", report.SLABreach)
	fmt.Fprintf(&b, "- Average rating: %.1f/5\n", report.AverageRating)
	fmt.Fprintf(&b, "- Average resolution time: %.1f days\n", report.AvgResolutionDays)
	fmt.Fprintf(&b, "- Performance score: %.1f/100\n\n", report.PerformanceScore)
	b.WriteString("## Analysis\n\n")
	b.WriteString(narrative)
	b.WriteString("\n\n## Grievances Needing Attention\n\n")
	flagged := 0
	for _, g := range report.Grievances {
		if g.Health == HealthHealthy || g.Health == HealthCompleted {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s, %.0f days open, %.0f%% complete, SLA %s\n",
			g.GrievanceID, g.Health, g.DaysOpen, g.ProgressPercent, g.SLAStatus)
		flagged++
	}
	if flagged == 0 {
		b.WriteString("None.\n")
	}
	return b.String()
}
