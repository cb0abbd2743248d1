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

const defaultGrievanceTable = "grievances"

// GrievanceService persists analysis results onto the application-owned
// grievance table. The table is created by the intake application, not by
// this repository's migrations; only the columns written here are assumed.
type GrievanceService struct {
	pool   *pgxpool.Pool
	table  string
	logger *slog.Logger
}

// NewGrievanceService creates a GrievanceService. An empty table name
// selects the default.
func NewGrievanceService(pool *pgxpool.Pool, table string) *GrievanceService {
	if table == "" {
		table = defaultGrievanceTable
	}
	return &GrievanceService{
		pool:   pool,
		table:  table,
		logger: slog.With("component", "grievance_service"),
	}
}

// AnalysisUpdate carries everything the analysis pipeline derived for one
// grievance. RowID is the caller-supplied row key the update matches on.
type AnalysisUpdate struct {
	RowID            string
	GrievanceText    string
	CitizenID        string
	ImagePath        string
	ImageDescription string
	EnhancedQuery    string

	Priority     string
	Zone         *string
	Ward         *string
	DepartmentID *string

	Category           map[string]any
	QueryType          string
	SimilarCasesText   string
	SentimentPriority  string
	Emotion            string
	Severity           string
	Patterns           string
	Fraud              string
	DepartmentInfo     string
	PolicySearch       string
	PastQueriesSummary string

	Embedding []float32

	FullResult map[string]any

	ValidationStatus string
	ValidationScore  float64
	ValidationReason string

	Location *models.LocationData

	ProcessingMetadata map[string]any
	Metadata           map[string]any
}

// SaveAnalysis writes the complete analysis in a single UPDATE. Rows are
// matched by RowID; zero rows affected is logged as a warning, not an
// error, because intake may have deleted the row meanwhile. Deployments
// whose grievance table predates the metadata column are handled by
// retrying without it.
func (s *GrievanceService) SaveAnalysis(ctx context.Context, update *AnalysisUpdate) error {
	if update.RowID == "" {
		return NewValidationError("row_id", "required")
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	tag, err := s.execAnalysisUpdate(ctx, update, true)
	if isUndefinedColumn(err) {
		s.logger.Warn("Grievance table has no metadata column, retrying without it", "table", s.table)
		tag, err = s.execAnalysisUpdate(ctx, update, false)
	}
	if err != nil {
		return fmt.Errorf("failed to save analysis for row %s: %w", update.RowID, err)
	}
	if tag.RowsAffected() == 0 {
		s.logger.Warn("Analysis update matched no rows",
			"table", s.table,
			"row_id", update.RowID)
	}
	return nil
}

func (s *GrievanceService) execAnalysisUpdate(ctx context.Context, update *AnalysisUpdate, withMetadata bool) (pgconn.CommandTag, error) {
	categoryJSON, err := marshalJSONB(update.Category)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	fullResultJSON, err := marshalJSONB(update.FullResult)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	processingJSON, err := marshalJSONB(update.ProcessingMetadata)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	metadataJSON, err := marshalJSONB(update.Metadata)
	if err != nil {
		return pgconn.CommandTag{}, err
	}

	var extractedLocation []byte
	var extractedAddress, locationAddress, locationConfidence string
	var latitude, longitude *float64
	if update.Location != nil {
		if extractedLocation, err = json.Marshal(update.Location); err != nil {
			return pgconn.CommandTag{}, fmt.Errorf("failed to marshal location: %w", err)
		}
		extractedAddress = update.Location.Address
		locationAddress = update.Location.Address
		locationConfidence = update.Location.Confidence
		latitude = update.Location.Latitude
		longitude = update.Location.Longitude
	} else {
		extractedLocation = []byte("null")
		locationConfidence = models.ConfidenceNone
	}

	// metadata is the last parameter so deployments without the column can
	// drop both the clause and the argument.
	metadataSet := ""
	if withMetadata {
		metadataSet = "metadata = $34::jsonb,"
	}

	sql := fmt.Sprintf(`
		UPDATE %s SET
			grievance_text       = $2,
			citizen_id           = $3,
			image_path           = $4,
			image_description    = $5,
			enhanced_query       = $6,
			priority             = $7,
			zone                 = $8,
			ward                 = $9,
			department_id        = $10,
			category             = $11::jsonb,
			query_type           = $12,
			similar_cases_summary = $13,
			sentiment_priority   = $14,
			emotion              = $15,
			severity             = $16,
			patterns             = $17,
			fraud                = $18,
			department_info      = $19,
			policy_search        = $20,
			past_queries_summary = $21,
			embedding            = $22::vector,
			full_result          = $23::jsonb,
			validation_status    = $24,
			validation_score     = $25,
			validation_reasoning = $26,
			%s
			extracted_location   = $27::jsonb,
			extracted_address    = $28,
			extracted_latitude   = $29,
			extracted_longitude  = $30,
			latitude             = $29,
			longitude            = $30,
			location_address     = $31,
			location_confidence  = $32,
			processing_metadata  = $33::jsonb,
			validation_timestamp = NOW(),
			updated_at           = NOW()
		WHERE id = $1`, s.table, metadataSet)

	args := []any{
		update.RowID,
		update.GrievanceText,
		nullIfEmpty(update.CitizenID),
		nullIfEmpty(update.ImagePath),
		update.ImageDescription,
		update.EnhancedQuery,
		update.Priority,
		update.Zone,
		update.Ward,
		update.DepartmentID,
		string(categoryJSON),
		update.QueryType,
		update.SimilarCasesText,
		update.SentimentPriority,
		update.Emotion,
		update.Severity,
		update.Patterns,
		update.Fraud,
		update.DepartmentInfo,
		update.PolicySearch,
		update.PastQueriesSummary,
		VectorLiteral(update.Embedding),
		string(fullResultJSON),
		update.ValidationStatus,
		update.ValidationScore,
		update.ValidationReason,
		string(extractedLocation),
		nullIfEmpty(extractedAddress),
		latitude,
		longitude,
		nullIfEmpty(locationAddress),
		locationConfidence,
		string(processingJSON),
	}
	if withMetadata {
		args = append(args, string(metadataJSON))
	}
	return s.pool.Exec(ctx, sql, args...)
}

// SaveValidationRejection records a failed image validation verdict. Used
// on the terminal path where no analysis runs.
func (s *GrievanceService) SaveValidationRejection(ctx context.Context, rowID string, result *models.ValidationResult) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	sql := fmt.Sprintf(`
		UPDATE %s SET
			validation_status    = $2,
			validation_score     = $3,
			validation_reasoning = $4,
			validation_timestamp = NOW(),
			updated_at           = NOW()
		WHERE id = $1`, s.table)

	tag, err := s.pool.Exec(ctx, sql, rowID, models.ValidationRejected, result.Score, result.Reasoning)
	if err != nil {
		return fmt.Errorf("failed to save validation rejection for row %s: %w", rowID, err)
	}
	if tag.RowsAffected() == 0 {
		s.logger.Warn("Validation rejection matched no rows", "table", s.table, "row_id", rowID)
	}
	return nil
}

// Embedding fetches the stored embedding for a grievance by its external id.
func (s *GrievanceService) Embedding(ctx context.Context, grievanceID string) ([]float32, error) {
	sql := fmt.Sprintf(`SELECT embedding::text FROM %s WHERE grievance_id = $1 AND embedding IS NOT NULL`, s.table)

	var text string
	if err := s.pool.QueryRow(ctx, sql, grievanceID).Scan(&text); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch embedding for grievance %s: %w", grievanceID, err)
	}
	return ParseVector(text)
}

// ResearchData is the grievance slice the research stage works from.
type ResearchData struct {
	GrievanceID    string
	GrievanceText  string
	Category       map[string]any
	DepartmentInfo string
	Location       *models.LocationData
	Zone           string
	Ward           string
	Priority       string
}

// ResearchData fetches the fields the research workflow builds queries from.
func (s *GrievanceService) ResearchData(ctx context.Context, grievanceID string) (*ResearchData, error) {
	sql := fmt.Sprintf(`
		SELECT
			grievance_text,
			category,
			department_info,
			extracted_location,
			zone,
			ward,
			priority
		FROM %s
		WHERE grievance_id = $1`, s.table)

	var (
		data           = ResearchData{GrievanceID: grievanceID}
		category       []byte
		departmentInfo *string
		location       []byte
		zone, ward     *string
		priority       *string
	)
	err := s.pool.QueryRow(ctx, sql, grievanceID).Scan(
		&data.GrievanceText,
		&category,
		&departmentInfo,
		&location,
		&zone,
		&ward,
		&priority,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch research data for grievance %s: %w", grievanceID, err)
	}

	if len(category) > 0 {
		if err := json.Unmarshal(category, &data.Category); err != nil {
			s.logger.Warn("Grievance carries unreadable category", "grievance_id", grievanceID, "error", err)
		}
	}
	if len(location) > 0 && string(location) != "null" {
		var loc models.LocationData
		if err := json.Unmarshal(location, &loc); err == nil {
			data.Location = &loc
		}
	}
	if departmentInfo != nil {
		data.DepartmentInfo = *departmentInfo
	}
	if zone != nil {
		data.Zone = *zone
	}
	if ward != nil {
		data.Ward = *ward
	}
	if priority != nil {
		data.Priority = *priority
	}
	return &data, nil
}

// MergeMetadata merges a JSON patch into the grievance's metadata column.
func (s *GrievanceService) MergeMetadata(ctx context.Context, grievanceID string, patch map[string]any) error {
	patchJSON, err := marshalJSONB(patch)
	if err != nil {
		return err
	}

	sql := fmt.Sprintf(`
		UPDATE %s SET
			metadata   = COALESCE(metadata, '{}'::jsonb) || $2::jsonb,
			updated_at = NOW()
		WHERE grievance_id = $1`, s.table)

	tag, err := s.pool.Exec(ctx, sql, grievanceID, string(patchJSON))
	if err != nil {
		return fmt.Errorf("failed to merge metadata for grievance %s: %w", grievanceID, err)
	}
	if tag.RowsAffected() == 0 {
		s.logger.Warn("Metadata merge matched no rows", "table", s.table, "grievance_id", grievanceID)
	}
	return nil
}

func marshalJSONB(value map[string]any) ([]byte, error) {
	if value == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSONB payload: %w", err)
	}
	return data, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func isUndefinedColumn(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42703"
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42P01"
}
