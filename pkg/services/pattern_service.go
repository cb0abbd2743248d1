package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/civicgrid/grievance-pipeline/pkg/models"
)

// PatternService manages the research pattern cache: nearest-neighbor
// lookups, pattern creation and grievance linkage.
type PatternService struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPatternService creates a new PatternService
func NewPatternService(pool *pgxpool.Pool) *PatternService {
	return &PatternService{
		pool:   pool,
		logger: slog.With("component", "pattern_service"),
	}
}

// FindSimilar returns the nearest pattern when its cosine similarity to the
// embedding is at least threshold, or nil when the cache misses.
func (s *PatternService) FindSimilar(ctx context.Context, embedding []float32, threshold float64) (*models.PatternMatch, error) {
	literal := VectorLiteral(embedding)

	row := s.pool.QueryRow(ctx, `
		SELECT
			pattern_id,
			pattern_name,
			pattern_description,
			research_report,
			research_sources,
			grievance_count,
			1 - (pattern_embedding <=> $1::vector) AS similarity
		FROM grievance_patterns
		ORDER BY pattern_embedding <=> $1::vector
		LIMIT 1`, literal)

	var (
		match       models.PatternMatch
		description *string
		report      []byte
		sources     []byte
	)
	err := row.Scan(
		&match.Pattern.PatternID,
		&match.Pattern.PatternName,
		&description,
		&report,
		&sources,
		&match.Pattern.GrievanceCount,
		&match.Similarity,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pattern lookup failed: %w", err)
	}
	if match.Similarity < threshold {
		return nil, nil
	}

	if description != nil {
		match.Pattern.PatternDescription = *description
	}
	if err := json.Unmarshal(report, &match.Pattern.ResearchReport); err != nil {
		return nil, fmt.Errorf("pattern %s carries unreadable research report: %w", match.Pattern.PatternID, err)
	}
	if err := json.Unmarshal(sources, &match.Pattern.ResearchSources); err != nil {
		return nil, fmt.Errorf("pattern %s carries unreadable sources: %w", match.Pattern.PatternID, err)
	}
	return &match, nil
}

// Create inserts a new pattern and returns its id. When a racing worker
// already created a pattern with the same name, the loser's candidate is
// discarded and the survivor's id is returned instead.
func (s *PatternService) Create(ctx context.Context, pattern *models.Pattern) (string, error) {
	if pattern.PatternName == "" {
		return "", NewValidationError("pattern_name", "required")
	}
	if len(pattern.PatternEmbedding) == 0 {
		return "", NewValidationError("pattern_embedding", "required")
	}

	reportJSON, err := marshalJSONB(pattern.ResearchReport)
	if err != nil {
		return "", err
	}
	sourcesJSON, err := json.Marshal(pattern.ResearchSources)
	if err != nil {
		return "", fmt.Errorf("failed to marshal research sources: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var patternID string
	err = s.pool.QueryRow(ctx, `
		INSERT INTO grievance_patterns (
			pattern_name,
			pattern_description,
			pattern_embedding,
			research_report,
			research_sources,
			keywords
		) VALUES ($1, $2, $3::vector, $4::jsonb, $5::jsonb, COALESCE($6, '{}'::text[]))
		RETURNING pattern_id`,
		pattern.PatternName,
		nullIfEmpty(pattern.PatternDescription),
		VectorLiteral(pattern.PatternEmbedding),
		string(reportJSON),
		string(sourcesJSON),
		pattern.Keywords,
	).Scan(&patternID)

	if isUniqueViolation(err) {
		s.logger.Info("Pattern already created by a peer, reusing it", "pattern_name", pattern.PatternName)
		if err := s.pool.QueryRow(ctx,
			`SELECT pattern_id FROM grievance_patterns WHERE pattern_name = $1`,
			pattern.PatternName,
		).Scan(&patternID); err != nil {
			return "", fmt.Errorf("failed to refetch pattern %q after race: %w", pattern.PatternName, err)
		}
		return patternID, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to create pattern %q: %w", pattern.PatternName, err)
	}
	return patternID, nil
}

// Link upserts the grievance→pattern mapping with the observed similarity.
// Replays update the score in place.
func (s *PatternService) Link(ctx context.Context, grievanceID, patternID string, confidence float64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO grievance_pattern_map (grievance_id, pattern_id, confidence_score)
		VALUES ($1, $2, $3)
		ON CONFLICT (grievance_id, pattern_id)
		DO UPDATE SET confidence_score = EXCLUDED.confidence_score`,
		grievanceID, patternID, confidence)
	if err != nil {
		return fmt.Errorf("failed to link grievance %s to pattern %s: %w", grievanceID, patternID, err)
	}
	return nil
}

// IncrementGrievanceCount bumps the pattern's usage counter on a cache hit.
func (s *PatternService) IncrementGrievanceCount(ctx context.Context, patternID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE grievance_patterns SET grievance_count = grievance_count + 1 WHERE pattern_id = $1`,
		patternID)
	if err != nil {
		return fmt.Errorf("failed to bump pattern %s: %w", patternID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
