package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicgrid/grievance-pipeline/pkg/models"
)

func sampleAnalysisUpdate(rowID string) *AnalysisUpdate {
	lat, lon := 12.97, 77.59
	dept := "dept-sanitation"
	return &AnalysisUpdate{
		RowID:            rowID,
		GrievanceText:    "Open garbage pile near 12 MG Road",
		CitizenID:        "citizen-7",
		ImageDescription: "garbage heap on roadside",
		EnhancedQuery:    "garbage pile MG Road Indiranagar Bengaluru sanitation",
		Priority:         "high",
		DepartmentID:     &dept,
		Category:         map[string]any{"main_category": "Sanitation"},
		QueryType:        `{"type":"complaint"}`,
		Emotion:          `{"emotion":"frustration"}`,
		Severity:         `{"severity":"high"}`,
		Embedding:        unitVector(0),
		FullResult:       map[string]any{"department": map[string]any{"allocated_department": map[string]any{"id": dept}}},
		ValidationStatus: models.ValidationNoImage,
		Location: &models.LocationData{
			Address:    "12 MG Road, Indiranagar, Bengaluru",
			Latitude:   &lat,
			Longitude:  &lon,
			Confidence: models.ConfidenceHigh,
		},
		ProcessingMetadata: map[string]any{"worker": "queryanalyst"},
		Metadata:           map[string]any{"audit": true},
	}
}

func TestGrievanceServiceSaveAnalysis(t *testing.T) {
	pool := setupPool(t)
	svc := NewGrievanceService(pool, "")
	ctx := context.Background()

	insertGrievanceRow(t, pool, "row-1", "G-1")
	require.NoError(t, svc.SaveAnalysis(ctx, sampleAnalysisUpdate("row-1")))

	var (
		priority, deptID, address, confidence string
		categoryMain                          string
		embeddingText                         string
		lat                                   float64
	)
	err := pool.QueryRow(ctx, `
		SELECT priority, department_id, location_address, location_confidence,
		       category ->> 'main_category', embedding::text, latitude
		FROM grievances WHERE id = 'row-1'`,
	).Scan(&priority, &deptID, &address, &confidence, &categoryMain, &embeddingText, &lat)
	require.NoError(t, err)

	assert.Equal(t, "high", priority)
	assert.Equal(t, "dept-sanitation", deptID)
	assert.Equal(t, "12 MG Road, Indiranagar, Bengaluru", address)
	assert.Equal(t, "high", confidence)
	assert.Equal(t, "Sanitation", categoryMain)
	assert.InDelta(t, 12.97, lat, 1e-9)

	vector, err := ParseVector(embeddingText)
	require.NoError(t, err)
	assert.Len(t, vector, 384)
}

func TestGrievanceServiceSaveAnalysisIsIdempotent(t *testing.T) {
	pool := setupPool(t)
	svc := NewGrievanceService(pool, "")
	ctx := context.Background()

	insertGrievanceRow(t, pool, "row-1", "G-1")
	update := sampleAnalysisUpdate("row-1")
	require.NoError(t, svc.SaveAnalysis(ctx, update))
	require.NoError(t, svc.SaveAnalysis(ctx, update))

	var count int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM grievances WHERE department_id = 'dept-sanitation'`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestGrievanceServiceSaveAnalysisZeroRows(t *testing.T) {
	pool := setupPool(t)
	svc := NewGrievanceService(pool, "")

	// No row matches: logged as a warning, not surfaced as an error.
	assert.NoError(t, svc.SaveAnalysis(context.Background(), sampleAnalysisUpdate("missing-row")))
}

func TestGrievanceServiceMetadataColumnFallback(t *testing.T) {
	pool := setupPool(t)
	ctx := context.Background()

	_, err := pool.Exec(ctx, `ALTER TABLE grievances DROP COLUMN metadata`)
	require.NoError(t, err)

	svc := NewGrievanceService(pool, "")
	insertGrievanceRow(t, pool, "row-1", "G-1")
	require.NoError(t, svc.SaveAnalysis(ctx, sampleAnalysisUpdate("row-1")))

	var deptID string
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT department_id FROM grievances WHERE id = 'row-1'`).Scan(&deptID))
	assert.Equal(t, "dept-sanitation", deptID)
}

func TestGrievanceServiceSaveValidationRejection(t *testing.T) {
	pool := setupPool(t)
	svc := NewGrievanceService(pool, "")
	ctx := context.Background()

	insertGrievanceRow(t, pool, "row-1", "G-1")
	require.NoError(t, svc.SaveValidationRejection(ctx, "row-1", &models.ValidationResult{
		IsValid:   false,
		Score:     12,
		Reasoning: "image shows a cat, not a streetlight",
	}))

	var status, reasoning string
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT validation_status, validation_reasoning FROM grievances WHERE id = 'row-1'`,
	).Scan(&status, &reasoning))
	assert.Equal(t, models.ValidationRejected, status)
	assert.Contains(t, reasoning, "cat")
}

func TestGrievanceServiceEmbedding(t *testing.T) {
	pool := setupPool(t)
	svc := NewGrievanceService(pool, "")
	ctx := context.Background()

	insertGrievanceRow(t, pool, "row-1", "G-1")
	_, err := pool.Exec(ctx,
		`UPDATE grievances SET embedding = $1::vector WHERE id = 'row-1'`,
		VectorLiteral(unitVector(3)))
	require.NoError(t, err)

	vector, err := svc.Embedding(ctx, "G-1")
	require.NoError(t, err)
	require.Len(t, vector, 384)
	assert.InDelta(t, 1.0, vector[3], 1e-6)

	_, err = svc.Embedding(ctx, "G-none")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGrievanceServiceMergeMetadata(t *testing.T) {
	pool := setupPool(t)
	svc := NewGrievanceService(pool, "")
	ctx := context.Background()

	insertGrievanceRow(t, pool, "row-1", "G-1")
	require.NoError(t, svc.MergeMetadata(ctx, "G-1", map[string]any{"research": map[string]any{"pattern": "p1"}}))
	require.NoError(t, svc.MergeMetadata(ctx, "G-1", map[string]any{"extra": 1}))

	var pattern string
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT metadata -> 'research' ->> 'pattern' FROM grievances WHERE grievance_id = 'G-1'`,
	).Scan(&pattern))
	assert.Equal(t, "p1", pattern)

	var extra int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT (metadata ->> 'extra')::int FROM grievances WHERE grievance_id = 'G-1'`).Scan(&extra))
	assert.Equal(t, 1, extra)
}

func TestVectorLiteralRoundTrip(t *testing.T) {
	vec := []float32{0.25, -1, 0.0001}
	parsed, err := ParseVector(VectorLiteral(vec))
	require.NoError(t, err)
	require.Len(t, parsed, 3)
	for i := range vec {
		assert.InDelta(t, vec[i], parsed[i], 1e-6)
	}

	_, err = ParseVector("not-a-vector")
	assert.Error(t, err)
}
