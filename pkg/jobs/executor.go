package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/civicgrid/grievance-pipeline/pkg/analyzer"
	"github.com/civicgrid/grievance-pipeline/pkg/models"
	"github.com/civicgrid/grievance-pipeline/pkg/services"
)

var identRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// EmbeddingExecutor processes one claimed job: load the referenced row,
// assemble its embeddable text, embed it and write the vector back.
type EmbeddingExecutor struct {
	pool     *pgxpool.Pool
	embedder analyzer.Embedder
	logger   *slog.Logger
}

// NewEmbeddingExecutor creates the executor over the shared pool.
func NewEmbeddingExecutor(pool *pgxpool.Pool, embedder analyzer.Embedder) *EmbeddingExecutor {
	return &EmbeddingExecutor{
		pool:     pool,
		embedder: embedder,
		logger:   slog.With("component", "embedding_executor"),
	}
}

// Execute implements Executor.
func (e *EmbeddingExecutor) Execute(ctx context.Context, job models.EmbeddingJob) error {
	table, err := qualifyTable(job.TableName)
	if err != nil {
		return err
	}

	row, err := e.loadRow(ctx, table, job.RowID)
	if err != nil {
		return err
	}

	text := TextForTable(job.TableName, row)
	if text == "" {
		return fmt.Errorf("row %s/%d has no embeddable text", job.TableName, job.RowID)
	}

	vectors, err := e.embedder.Embed(ctx, []string{text})
	if err != nil || len(vectors) != 1 {
		return fmt.Errorf("failed to embed row %s/%d: %w", job.TableName, job.RowID, err)
	}

	return e.writeEmbedding(ctx, table, job.RowID, vectors[0])
}

// loadRow reads the whole referenced row into a column-name map. Tables are
// application-owned with unknown shapes; the text assembly picks what it
// understands.
func (e *EmbeddingExecutor) loadRow(ctx context.Context, table string, rowID int64) (map[string]any, error) {
	rows, err := e.pool.Query(ctx,
		fmt.Sprintf(`SELECT * FROM %s WHERE id::text = $1`, table),
		fmt.Sprintf("%d", rowID))
	if err != nil {
		return nil, fmt.Errorf("failed to load row %s/%d: %w", table, rowID, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to read row %s/%d: %w", table, rowID, err)
		}
		return nil, fmt.Errorf("row %s/%d does not exist", table, rowID)
	}

	values, err := rows.Values()
	if err != nil {
		return nil, fmt.Errorf("failed to scan row %s/%d: %w", table, rowID, err)
	}
	row := make(map[string]any, len(values))
	for i, field := range rows.FieldDescriptions() {
		row[field.Name] = values[i]
	}
	return row, nil
}

// writeEmbedding stores the vector. Tables that carry an embedding_status
// column get it flipped to completed; tables without one just get the vector.
func (e *EmbeddingExecutor) writeEmbedding(ctx context.Context, table string, rowID int64, embedding []float32) error {
	id := fmt.Sprintf("%d", rowID)
	literal := services.VectorLiteral(embedding)

	_, err := e.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s
		SET embedding = $1::vector, embedding_status = 'completed', updated_at = NOW()
		WHERE id::text = $2`, table),
		literal, id)
	if err == nil {
		return nil
	}
	if !isUndefinedColumn(err) {
		return fmt.Errorf("failed to write embedding for %s/%d: %w", table, rowID, err)
	}

	_, err = e.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET embedding = $1::vector WHERE id::text = $2`, table),
		literal, id)
	if err != nil {
		return fmt.Errorf("failed to write embedding for %s/%d: %w", table, rowID, err)
	}
	return nil
}

// qualifyTable validates the job's table reference and defaults the schema
// to public. The table name comes from a DB column, not user input, but it
// is interpolated into SQL and gets the same treatment as user input.
func qualifyTable(tableName string) (string, error) {
	if tableName == "" {
		return "", fmt.Errorf("job without table_name")
	}
	schema := "public"
	name := tableName
	if i := strings.IndexByte(tableName, '.'); i >= 0 {
		schema, name = tableName[:i], tableName[i+1:]
	}
	if !identRE.MatchString(schema) || !identRE.MatchString(name) {
		return "", fmt.Errorf("unsafe table reference %q", tableName)
	}
	return schema + "." + name, nil
}

// TextForTable assembles the embeddable text for a row of a known table.
// Unknown tables fall back to concatenating every non-empty string column.
func TextForTable(tableName string, row map[string]any) string {
	base := tableName
	if i := strings.LastIndexByte(base, '.'); i >= 0 {
		base = base[i+1:]
	}

	switch base {
	case "usergrievance", "grievances":
		return firstNonEmpty(row, "enhanced_query", "grievance_text", "image_description")
	case "faqs":
		return joinFields(row, "question", "answer")
	case "departmentknowledgebase":
		return joinFields(row, "title", "description", "content_text")
	case "policydocuments":
		return joinFields(row, "title", "content")
	case "citizens", "users":
		return joinFields(row, "full_name", "email", "phone", "address", "city",
			"occupation", "location_address")
	case "departments":
		return joinFields(row, "name", "description", "address")
	case "aiinsights":
		return joinFields(row, "title", "description", "recommended_action")
	case "auditlog":
		return joinFields(row, "actor_name", "actor_role", "action", "entity_type")
	}

	columns := make([]string, 0, len(row))
	for column := range row {
		columns = append(columns, column)
	}
	sort.Strings(columns)

	var pieces []string
	for _, column := range columns {
		if s, ok := row[column].(string); ok && strings.TrimSpace(s) != "" {
			pieces = append(pieces, strings.TrimSpace(s))
		}
	}
	return strings.Join(pieces, " ")
}

func isUndefinedColumn(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42703"
}

func firstNonEmpty(row map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := row[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func joinFields(row map[string]any, keys ...string) string {
	var parts []string
	for _, key := range keys {
		if s, ok := row[key].(string); ok && strings.TrimSpace(s) != "" {
			parts = append(parts, strings.TrimSpace(s))
		}
	}
	return strings.Join(parts, " ")
}
