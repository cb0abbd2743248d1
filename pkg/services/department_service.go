package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Department is one row from the application-owned departments table, with
// the distances computed during allocation.
type Department struct {
	ID                 string
	Name               string
	Description        string
	Address            string
	ContactInformation string
	Jurisdiction       string
	Latitude           *float64
	Longitude          *float64

	EmbeddingDistance float64
	GeoDistanceKM     *float64
}

// AllocationQuery carries everything the allocator matches on.
type AllocationQuery struct {
	Embedding []float32

	// DepartmentHint and LocationHint feed the LIKE filters; both come from
	// classifier output, not user input.
	DepartmentHint string
	LocationHint   string

	Latitude  *float64
	Longitude *float64
}

// DepartmentService allocates grievances to departments and serves the
// department roster for the progress stage.
type DepartmentService struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewDepartmentService creates a new DepartmentService
func NewDepartmentService(pool *pgxpool.Pool) *DepartmentService {
	return &DepartmentService{
		pool:   pool,
		logger: slog.With("component", "department_service"),
	}
}

// Allocate picks the best-matching department. When coordinates are
// available the score combines embedding distance with haversine distance;
// otherwise embedding distance alone decides. A nil result means no
// department passed the filters.
func (s *DepartmentService) Allocate(ctx context.Context, query AllocationQuery) (*Department, error) {
	if len(query.Embedding) == 0 {
		return nil, NewValidationError("embedding", "required")
	}

	deptPattern := "%" + query.DepartmentHint + "%"
	locationPattern := "%" + query.LocationHint + "%"
	literal := VectorLiteral(query.Embedding)

	var row pgx.Row
	if query.Latitude != nil && query.Longitude != nil {
		// Both distances are computed in a subquery so the combined score
		// can reference them by name; ORDER BY expressions resolve output
		// aliases of the current query level only when they stand alone.
		row = s.pool.QueryRow(ctx, `
			SELECT id, name, description, address, contact_information, jurisdiction,
			       latitude, longitude, embedding_distance, geo_distance_km
			FROM (
				SELECT
					id, name, description, address, contact_information, jurisdiction,
					latitude, longitude,
					embedding <=> $1::vector AS embedding_distance,
					(
						6371 * acos(
							cos(radians($2)) * cos(radians(COALESCE(latitude, 0))) *
							cos(radians(COALESCE(longitude, 0)) - radians($3)) +
							sin(radians($2)) * sin(radians(COALESCE(latitude, 0)))
						)
					) AS geo_distance_km
				FROM departments
				WHERE (LOWER(name) LIKE LOWER($4) OR LOWER(description) LIKE LOWER($4))
				  AND (LOWER(address) LIKE LOWER($5) OR LOWER(jurisdiction) LIKE LOWER($5))
				  AND latitude IS NOT NULL
				  AND longitude IS NOT NULL
			) scored
			ORDER BY embedding_distance * 0.6 + (geo_distance_km / 100) * 0.4
			LIMIT 1`,
			literal, *query.Latitude, *query.Longitude, deptPattern, locationPattern)
	} else {
		row = s.pool.QueryRow(ctx, `
			SELECT
				id, name, description, address, contact_information, jurisdiction,
				latitude, longitude,
				embedding <=> $1::vector AS embedding_distance,
				NULL::double precision AS geo_distance_km
			FROM departments
			WHERE (LOWER(name) LIKE LOWER($2) OR LOWER(description) LIKE LOWER($2))
			  AND (LOWER(address) LIKE LOWER($3) OR LOWER(jurisdiction) LIKE LOWER($3))
			ORDER BY embedding <=> $1::vector
			LIMIT 1`,
			literal, deptPattern, locationPattern)
	}

	var (
		dept                          Department
		description, address, contact *string
		jurisdiction                  *string
	)
	err := row.Scan(
		&dept.ID, &dept.Name, &description, &address, &contact, &jurisdiction,
		&dept.Latitude, &dept.Longitude,
		&dept.EmbeddingDistance, &dept.GeoDistanceKM,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("department allocation failed: %w", err)
	}

	dept.Description = deref(description)
	dept.Address = deref(address)
	dept.ContactInformation = deref(contact)
	dept.Jurisdiction = deref(jurisdiction)
	return &dept, nil
}

// Active lists the departments the progress stage iterates over.
func (s *DepartmentService) Active(ctx context.Context) ([]Department, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, description, address, contact_information, jurisdiction, latitude, longitude
		 FROM departments
		 WHERE is_active = TRUE
		 ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active departments: %w", err)
	}
	defer rows.Close()

	var departments []Department
	for rows.Next() {
		var (
			dept                          Department
			description, address, contact *string
			jurisdiction                  *string
		)
		if err := rows.Scan(&dept.ID, &dept.Name, &description, &address, &contact, &jurisdiction,
			&dept.Latitude, &dept.Longitude); err != nil {
			return nil, fmt.Errorf("failed to scan department row: %w", err)
		}
		dept.Description = deref(description)
		dept.Address = deref(address)
		dept.ContactInformation = deref(contact)
		dept.Jurisdiction = deref(jurisdiction)
		departments = append(departments, dept)
	}
	return departments, rows.Err()
}

// ByID fetches one department regardless of active flag.
func (s *DepartmentService) ByID(ctx context.Context, id string) (*Department, error) {
	var (
		dept                          Department
		description, address, contact *string
		jurisdiction                  *string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, description, address, contact_information, jurisdiction, latitude, longitude
		 FROM departments WHERE id = $1`, id,
	).Scan(&dept.ID, &dept.Name, &description, &address, &contact, &jurisdiction,
		&dept.Latitude, &dept.Longitude)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch department %s: %w", id, err)
	}
	dept.Description = deref(description)
	dept.Address = deref(address)
	dept.ContactInformation = deref(contact)
	dept.Jurisdiction = deref(jurisdiction)
	return &dept, nil
}

// FirstOfficer returns an officer id to address escalations to, or
// ErrNotFound when the department has no officers.
func (s *DepartmentService) FirstOfficer(ctx context.Context, departmentID string) (string, error) {
	var officerID string
	err := s.pool.QueryRow(ctx,
		`SELECT user_id FROM departmentofficers WHERE department_id = $1 LIMIT 1`,
		departmentID,
	).Scan(&officerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up officer for department %s: %w", departmentID, err)
	}
	return officerID, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
