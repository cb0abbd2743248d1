package models

import "time"

// Job statuses in the embedding_jobs table. A row leaves pending only via an
// atomic claim; it leaves processing only through the worker that claimed it,
// except for the janitor which may return it to pending after a stuck timeout.
const (
	JobPending    = "pending"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
)

// EmbeddingJob is one row of the DB-backed embedding job table. The payload
// is a (table_name, row_id) reference into an application table.
type EmbeddingJob struct {
	ID            int64
	TableName     string
	RowID         int64
	Status        string
	Error         string
	LastAttemptAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
