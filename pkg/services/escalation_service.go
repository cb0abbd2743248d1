package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Escalation levels produced by the trigger analysis.
const (
	EscalationImmediate = "immediate"
	EscalationUrgent    = "urgent"
	EscalationPriority  = "priority"
	EscalationStandard  = "standard"
)

// levelValues maps an escalation level to the enum value stored in the
// escalation table, before casing is applied.
var levelValues = map[string]string{
	EscalationImmediate: "critical",
	EscalationUrgent:    "high",
	EscalationPriority:  "medium",
	EscalationStandard:  "low",
}

// Escalation is one row to insert for a grievance that tripped a trigger.
type Escalation struct {
	GrievanceID  string
	DepartmentID string
	Level        string
	Reasons      []string
}

// EscalationService writes escalation rows. The escalation_level column is
// an application-owned enum whose value casing differs between deployments;
// the accepted casing is discovered once at startup and cached for the
// process lifetime.
type EscalationService struct {
	pool   *pgxpool.Pool
	logger *slog.Logger

	probeOnce sync.Once
	casing    func(string) string
	probeErr  error
}

// NewEscalationService creates a new EscalationService
func NewEscalationService(pool *pgxpool.Pool) *EscalationService {
	return &EscalationService{
		pool:   pool,
		logger: slog.With("component", "escalation_service"),
	}
}

// DiscoverLevelCasing probes the escalation table with candidate casings of
// a known enum value inside rolled-back transactions, and caches the first
// casing the column accepts. Safe to call from multiple goroutines.
func (s *EscalationService) DiscoverLevelCasing(ctx context.Context) error {
	s.probeOnce.Do(func() {
		candidates := []struct {
			name  string
			apply func(string) string
		}{
			{"lower", strings.ToLower},
			{"title", titleCase},
			{"upper", strings.ToUpper},
		}
		for _, candidate := range candidates {
			if s.probeCasing(ctx, candidate.apply) {
				s.logger.Info("Escalation level casing discovered", "casing", candidate.name)
				s.casing = candidate.apply
				return
			}
		}
		s.probeErr = fmt.Errorf("escalation table accepted no candidate level casing")
	})
	return s.probeErr
}

func (s *EscalationService) probeCasing(ctx context.Context, apply func(string) string) bool {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO grievanceescalations (grievance_id, escalation_level, reason)
		VALUES ('__casing_probe__', $1, '{}'::jsonb)`,
		apply("low"))
	return err == nil
}

// Create inserts one escalation row. DiscoverLevelCasing must have
// succeeded first.
func (s *EscalationService) Create(ctx context.Context, escalation *Escalation, officerID string) error {
	if s.casing == nil {
		return fmt.Errorf("escalation level casing not discovered")
	}
	value, ok := levelValues[escalation.Level]
	if !ok {
		return NewValidationError("level", fmt.Sprintf("unknown escalation level %q", escalation.Level))
	}

	reasonJSON, err := json.Marshal(escalation.Reasons)
	if err != nil {
		return fmt.Errorf("failed to marshal escalation reasons: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO grievanceescalations (
			grievance_id,
			escalated_to_officer_id,
			escalation_level,
			reason,
			is_resolved
		) VALUES ($1, $2, $3, $4::jsonb, FALSE)`,
		escalation.GrievanceID,
		nullIfEmpty(officerID),
		s.casing(value),
		string(reasonJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to create escalation for grievance %s: %w", escalation.GrievanceID, err)
	}
	return nil
}

// HasUnresolved reports whether the grievance already carries an open
// escalation, in which case a new one is not inserted.
func (s *EscalationService) HasUnresolved(ctx context.Context, grievanceID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM grievanceescalations
			WHERE grievance_id = $1 AND is_resolved = FALSE
		)`, grievanceID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check escalations for grievance %s: %w", grievanceID, err)
	}
	return exists, nil
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
