// Package progress implements the scheduled department scan: per-grievance
// health analysis, department performance roll-up, narrative reporting and
// escalation of grievances that tripped a trigger.
package progress

import (
	"fmt"
	"strings"
	"time"

	"github.com/civicgrid/grievance-pipeline/pkg/config"
	"github.com/civicgrid/grievance-pipeline/pkg/services"
)

// Per-grievance health classifications.
const (
	HealthCompleted = "completed"
	HealthStalled   = "stalled"
	HealthOverdue   = "overdue"
	HealthAtRisk    = "at_risk"
	HealthHealthy   = "healthy"
)

// SLA statuses.
const (
	SLAWithin   = "within"
	SLABreached = "breached"
	SLAMet      = "met"
	SLANone     = "no_sla"
)

// atRiskProgressPercent is the workflow completion below which an old open
// grievance counts as at risk.
const atRiskProgressPercent = 25.0

// GrievanceAnalysis is the computed state of one grievance at scan time.
type GrievanceAnalysis struct {
	RowID           string
	GrievanceID     string
	Priority        string
	DaysOpen        float64
	DaysSinceUpdate float64
	ProgressPercent float64
	SLAStatus       string
	Health          string
	Rating          *float64

	// ResolutionDays is set for resolved grievances with a resolution time.
	ResolutionDays *float64
}

// NeedsEscalation reports whether this grievance by itself warrants an
// escalation row.
func (a GrievanceAnalysis) NeedsEscalation() bool {
	return a.Health == HealthOverdue || a.Health == HealthStalled || a.SLAStatus == SLABreached
}

func analyzeGrievance(g services.ProgressGrievance, workflow services.WorkflowProgress, feedback *services.GrievanceFeedback, cfg *config.ProgressConfig, now time.Time) GrievanceAnalysis {
	analysis := GrievanceAnalysis{
		RowID:           g.ID,
		GrievanceID:     g.GrievanceID,
		Priority:        strings.ToLower(g.Priority),
		DaysOpen:        now.Sub(g.CreatedAt).Hours() / 24,
		DaysSinceUpdate: now.Sub(g.UpdatedAt).Hours() / 24,
		ProgressPercent: workflow.Percentage(),
	}
	if feedback != nil {
		analysis.Rating = feedback.Rating
	}
	if g.ResolvedAt != nil {
		days := g.ResolvedAt.Sub(g.CreatedAt).Hours() / 24
		analysis.ResolutionDays = &days
	}
	analysis.SLAStatus = slaStatus(g, now)
	analysis.Health = health(g, analysis, cfg)
	return analysis
}

func slaStatus(g services.ProgressGrievance, now time.Time) string {
	if g.SLADeadline == nil {
		return SLANone
	}
	if isResolved(g) {
		resolvedAt := now
		if g.ResolvedAt != nil {
			resolvedAt = *g.ResolvedAt
		}
		if resolvedAt.After(*g.SLADeadline) {
			return SLABreached
		}
		return SLAMet
	}
	if now.After(*g.SLADeadline) {
		return SLABreached
	}
	return SLAWithin
}

func health(g services.ProgressGrievance, analysis GrievanceAnalysis, cfg *config.ProgressConfig) string {
	switch {
	case isResolved(g):
		return HealthCompleted
	case analysis.DaysSinceUpdate > float64(cfg.StalledAfterDays):
		return HealthStalled
	case analysis.DaysOpen > float64(cfg.OverdueAfterDays):
		return HealthOverdue
	case analysis.ProgressPercent < atRiskProgressPercent && analysis.DaysOpen > float64(cfg.AtRiskAfterDays):
		return HealthAtRisk
	default:
		return HealthHealthy
	}
}

func isResolved(g services.ProgressGrievance) bool {
	if g.ResolvedAt != nil {
		return true
	}
	switch strings.ToLower(g.Status) {
	case "resolved", "closed", "completed":
		return true
	}
	return false
}

// DepartmentReport is the scan roll-up for one department.
type DepartmentReport struct {
	DepartmentID   string
	DepartmentName string
	GeneratedAt    time.Time

	Grievances []GrievanceAnalysis

	Total     int
	Resolved  int
	Overdue   int
	Stalled   int
	AtRisk    int
	Critical  int
	SLABreach int

	ResolutionRate    float64
	AverageRating     float64
	AvgResolutionDays float64
	PerformanceScore  float64
}

func buildReport(departmentID, departmentName string, grievances []GrievanceAnalysis, now time.Time) *DepartmentReport {
	report := &DepartmentReport{
		DepartmentID:   departmentID,
		DepartmentName: departmentName,
		GeneratedAt:    now,
		Grievances:     grievances,
		Total:          len(grievances),
	}

	var ratingSum float64
	var ratingCount int
	var resolutionSum float64
	var resolutionCount int
	for _, g := range grievances {
		switch g.Health {
		case HealthCompleted:
			report.Resolved++
		case HealthOverdue:
			report.Overdue++
		case HealthStalled:
			report.Stalled++
		case HealthAtRisk:
			report.AtRisk++
		}
		if g.SLAStatus == SLABreached {
			report.SLABreach++
		}
		if g.Priority == "critical" || g.Priority == "urgent" {
			report.Critical++
		}
		if g.Rating != nil {
			ratingSum += *g.Rating
			ratingCount++
		}
		if g.ResolutionDays != nil {
			resolutionSum += *g.ResolutionDays
			resolutionCount++
		}
	}

	if report.Total > 0 {
		report.ResolutionRate = float64(report.Resolved) / float64(report.Total) * 100
	}
	if ratingCount > 0 {
		report.AverageRating = ratingSum / float64(ratingCount)
	}
	if resolutionCount > 0 {
		report.AvgResolutionDays = resolutionSum / float64(resolutionCount)
	}
	report.PerformanceScore = performanceScore(report.ResolutionRate, report.AverageRating, report.AvgResolutionDays)
	return report
}

// performanceScore blends resolution rate, citizen rating (0-5 scaled to
// 0-100) and resolution speed into a 0-100 score.
func performanceScore(resolutionRate, averageRating, avgResolutionDays float64) float64 {
	speed := 100 - 2*avgResolutionDays
	if speed < 0 {
		speed = 0
	}
	return 0.4*resolutionRate + 0.3*(averageRating*20) + 0.3*speed
}

// Trigger severities.
const (
	severityCritical = "critical"
	severityHigh     = "high"
)

// Trigger is one tripped escalation condition for a department.
type Trigger struct {
	Name     string
	Severity string
	Detail   string
}

func evaluateTriggers(report *DepartmentReport) []Trigger {
	var triggers []Trigger
	add := func(name, severity, detail string) {
		triggers = append(triggers, Trigger{Name: name, Severity: severity, Detail: detail})
	}

	if report.Critical > 0 {
		add("critical_priority_grievances", severityCritical, fmt.Sprintf("%d critical-priority grievances", report.Critical))
	}
	if report.Overdue > 0 {
		add("overdue_grievances", severityHigh, fmt.Sprintf("%d grievances open beyond the overdue threshold", report.Overdue))
	}
	if report.Stalled > 0 {
		add("stalled_grievances", severityHigh, fmt.Sprintf("%d grievances without recent updates", report.Stalled))
	}
	if report.SLABreach > 0 {
		add("sla_breaches", severityHigh, fmt.Sprintf("%d grievances past their SLA deadline", report.SLABreach))
	}
	if report.Total > 0 && report.PerformanceScore < 50 {
		add("low_performance_score", severityHigh, "department performance score below 50")
	}
	if report.Total > 0 && report.ResolutionRate < 40 {
		add("low_resolution_rate", severityHigh, "department resolution rate below 40%")
	}
	return triggers
}

// escalationLevel maps tripped triggers to an escalation level: any critical
// trigger is immediate, two or more high triggers are urgent, one high is
// priority, anything else is standard.
func escalationLevel(triggers []Trigger) string {
	high := 0
	for _, trigger := range triggers {
		switch trigger.Severity {
		case severityCritical:
			return services.EscalationImmediate
		case severityHigh:
			high++
		}
	}
	switch {
	case high >= 2:
		return services.EscalationUrgent
	case high == 1:
		return services.EscalationPriority
	default:
		return services.EscalationStandard
	}
}
