// Package vectorindex provides the external vector index client. Upserts
// are idempotent by vector id; concurrent upserts of the same id resolve to
// last-write-wins on the index side.
package vectorindex

import (
	"context"
	"fmt"
	"strings"
)

// Vector is one embedded chunk with its metadata.
type Vector struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Match is one query result.
type Match struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Index is the vector index interface consumed by the pipeline.
type Index interface {
	// Upsert writes vectors by id. Re-upserting an id overwrites its value.
	Upsert(ctx context.Context, vectors []Vector) error

	// Query returns the topK nearest neighbors of vector by cosine
	// similarity, optionally restricted by a metadata filter.
	Query(ctx context.Context, vector []float32, topK int, filter map[string]any) ([]Match, error)
}

// VectorID builds the canonical chunk vector id <job_id>_<file>_<idx>,
// sanitized so index implementations that reject path characters accept it.
func VectorID(jobID, fileName string, chunkIndex int) string {
	id := fmt.Sprintf("%s_%s_%d", jobID, fileName, chunkIndex)
	id = strings.ReplaceAll(id, "/", "_")
	id = strings.ReplaceAll(id, ".", "_")
	return id
}
