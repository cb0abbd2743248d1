package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicgrid/grievance-pipeline/pkg/models"
)

func samplePattern(name string, axis int) *models.Pattern {
	return &models.Pattern{
		PatternName:        name,
		PatternDescription: "recurring water supply disruption",
		PatternEmbedding:   unitVector(axis),
		ResearchReport:     map[string]any{"analysis": "seasonal supply gap"},
		ResearchSources:    []string{"https://example.gov/schemes"},
		Keywords:           []string{"water", "supply"},
	}
}

func TestPatternServiceCreateAndFind(t *testing.T) {
	pool := setupPool(t)
	svc := NewPatternService(pool)
	ctx := context.Background()

	patternID, err := svc.Create(ctx, samplePattern("water_supply_indiranagar", 0))
	require.NoError(t, err)
	require.NotEmpty(t, patternID)

	// Identical embedding: similarity 1.0, well above threshold.
	match, err := svc.FindSimilar(ctx, unitVector(0), 0.85)
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, patternID, match.Pattern.PatternID)
	assert.InDelta(t, 1.0, match.Similarity, 1e-6)
	assert.Equal(t, "seasonal supply gap", match.Pattern.ResearchReport["analysis"])
	assert.Equal(t, []string{"https://example.gov/schemes"}, match.Pattern.ResearchSources)
}

func TestPatternServiceFindBelowThresholdMisses(t *testing.T) {
	pool := setupPool(t)
	svc := NewPatternService(pool)
	ctx := context.Background()

	_, err := svc.Create(ctx, samplePattern("water_supply_indiranagar", 0))
	require.NoError(t, err)

	// Orthogonal embedding: cosine similarity 0.
	match, err := svc.FindSimilar(ctx, unitVector(1), 0.85)
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestPatternServiceFindOnEmptyTable(t *testing.T) {
	pool := setupPool(t)
	svc := NewPatternService(pool)

	match, err := svc.FindSimilar(context.Background(), unitVector(0), 0.85)
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestPatternServiceCreateRaceReusesSurvivor(t *testing.T) {
	pool := setupPool(t)
	svc := NewPatternService(pool)
	ctx := context.Background()

	first, err := svc.Create(ctx, samplePattern("garbage_mg_road", 0))
	require.NoError(t, err)

	// Same name from a racing worker: the loser discards its candidate and
	// adopts the survivor's id.
	second, err := svc.Create(ctx, samplePattern("garbage_mg_road", 2))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	var count int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM grievance_patterns`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestPatternServiceLinkUpsert(t *testing.T) {
	pool := setupPool(t)
	svc := NewPatternService(pool)
	ctx := context.Background()

	patternID, err := svc.Create(ctx, samplePattern("garbage_mg_road", 0))
	require.NoError(t, err)

	require.NoError(t, svc.Link(ctx, "G-1", patternID, 0.92))
	require.NoError(t, svc.Link(ctx, "G-1", patternID, 0.95))

	var count int
	var confidence float64
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*), MAX(confidence_score) FROM grievance_pattern_map WHERE grievance_id = 'G-1'`,
	).Scan(&count, &confidence))
	assert.Equal(t, 1, count)
	assert.InDelta(t, 0.95, confidence, 1e-9)
}

func TestPatternServiceIncrementGrievanceCount(t *testing.T) {
	pool := setupPool(t)
	svc := NewPatternService(pool)
	ctx := context.Background()

	patternID, err := svc.Create(ctx, samplePattern("garbage_mg_road", 0))
	require.NoError(t, err)

	require.NoError(t, svc.IncrementGrievanceCount(ctx, patternID))

	var count int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT grievance_count FROM grievance_patterns WHERE pattern_id = $1`, patternID).Scan(&count))
	assert.Equal(t, 2, count)

	err = svc.IncrementGrievanceCount(ctx, "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, ErrNotFound)
}
