package services

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/civicgrid/grievance-pipeline/test/util"
)

// setupPool provisions an isolated schema with the embedded migrations plus
// the application-owned tables the services touch. Those tables belong to
// the intake application in production; tests create the columns the
// services read and write.
func setupPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	client := util.SetupTestDatabase(t)
	pool := client.Pool()
	ctx := context.Background()

	_, err := pool.Exec(ctx, `
		CREATE TABLE grievances (
			id                    TEXT PRIMARY KEY,
			grievance_id          TEXT NOT NULL,
			citizen_id            TEXT,
			grievance_text        TEXT,
			image_path            TEXT,
			image_description     TEXT,
			enhanced_query        TEXT,
			priority              TEXT,
			zone                  TEXT,
			ward                  TEXT,
			department_id         TEXT,
			category              JSONB,
			query_type            TEXT,
			similar_cases_summary TEXT,
			sentiment_priority    TEXT,
			emotion               TEXT,
			severity              TEXT,
			patterns              TEXT,
			fraud                 TEXT,
			department_info       TEXT,
			policy_search         TEXT,
			past_queries_summary  TEXT,
			embedding             vector(384),
			embedding_status      TEXT DEFAULT 'pending',
			full_result           JSONB,
			validation_status     TEXT,
			validation_score      DOUBLE PRECISION,
			validation_reasoning  TEXT,
			validation_timestamp  TIMESTAMPTZ,
			extracted_location    JSONB,
			extracted_address     TEXT,
			extracted_latitude    DOUBLE PRECISION,
			extracted_longitude   DOUBLE PRECISION,
			latitude              DOUBLE PRECISION,
			longitude             DOUBLE PRECISION,
			location_address      TEXT,
			location_confidence   TEXT,
			processing_metadata   JSONB,
			metadata              JSONB,
			status                TEXT DEFAULT 'open',
			resolved_at           TIMESTAMPTZ,
			sla_deadline          TIMESTAMPTZ,
			created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `
		CREATE TABLE departments (
			id                  TEXT PRIMARY KEY,
			name                TEXT NOT NULL,
			description         TEXT,
			address             TEXT,
			contact_information TEXT,
			jurisdiction        TEXT,
			latitude            DOUBLE PRECISION,
			longitude           DOUBLE PRECISION,
			embedding           vector(384),
			is_active           BOOLEAN NOT NULL DEFAULT TRUE
		)`)
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `
		CREATE TABLE departmentofficers (
			user_id       TEXT NOT NULL,
			department_id TEXT NOT NULL
		)`)
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `
		CREATE TABLE grievanceworkflow (
			grievance_id TEXT NOT NULL,
			step_number  INTEGER NOT NULL,
			is_completed BOOLEAN NOT NULL DEFAULT FALSE
		)`)
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `
		CREATE TABLE grievancefeedback (
			grievance_id  TEXT NOT NULL,
			rating        DOUBLE PRECISION,
			feedback_text TEXT
		)`)
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `
		CREATE TABLE department_dashboards (
			department_id  TEXT PRIMARY KEY,
			dashboard_data JSONB NOT NULL DEFAULT '{}'::jsonb
		)`)
	require.NoError(t, err)

	return pool
}

// unitVector returns a 384-dimension vector with a single non-zero
// component, convenient for exact cosine expectations.
func unitVector(axis int) []float32 {
	vec := make([]float32, 384)
	vec[axis] = 1
	return vec
}

func insertGrievanceRow(t *testing.T, pool *pgxpool.Pool, rowID, grievanceID string) {
	t.Helper()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO grievances (id, grievance_id, grievance_text) VALUES ($1, $2, 'seed')`,
		rowID, grievanceID)
	require.NoError(t, err)
}
