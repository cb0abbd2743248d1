// Package models defines the payload types exchanged between pipeline stages
// and the domain structs persisted by the stage handlers.
package models

import "time"

// Stage status tags carried in the current_status field of queue messages.
// A receiver deletes any message whose status names a stage it does not own.
const (
	StatusQueryAnalyst = "QueryAnalyst"
	StatusWebCrawling  = "WebCrawling"
	StatusScraped      = "scraped"
	StatusPending      = "pending"
)

// GrievanceMessage is the QueryAnalyst stage input from the grievances queue.
type GrievanceMessage struct {
	GrievanceID   string `json:"grievance_id"`
	CitizenID     string `json:"citizen_id,omitempty"`
	GrievanceText string `json:"grievance_text"`
	ImagePath     string `json:"image_path,omitempty"`
	CurrentStatus string `json:"current_status,omitempty"`
}

// CrawlMessage is the Crawler stage input: one URL per message.
type CrawlMessage struct {
	JobID         string         `json:"job_id"`
	URL           string         `json:"url"`
	CurrentStatus string         `json:"current_status,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// EmbeddingsMessage is the VectorDB stage input: one blob folder per message.
type EmbeddingsMessage struct {
	JobID      string `json:"job_id"`
	URL        string `json:"url"`
	BlobFolder string `json:"blob_folder"`
	Status     string `json:"status"`
}

// KnowledgeBaseMessage is the KB worker input for uploaded documents.
type KnowledgeBaseMessage struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	URL          string `json:"url"`
	FileName     string `json:"fileName"`
	DepartmentID string `json:"departmentId"`
}

// AnalysisCompleteMessage is emitted to the crawler queue once the
// QueryAnalyst stage finishes a grievance.
type AnalysisCompleteMessage struct {
	GrievanceID         string           `json:"grievance_id"`
	CurrentStatus       string           `json:"current_status"`
	PolicySearchQueries []string         `json:"policy_search_queries"`
	ValidationResult    ValidationResult `json:"validation_result"`
	LocationData        LocationData     `json:"location_data"`
	FileURLs            []string         `json:"file_urls,omitempty"`
	AnalysisCompletedAt time.Time        `json:"analysis_completed_at"`
}

// ProcessedMessage is the lightweight summary emitted to the processed queue
// by the KB worker.
type ProcessedMessage struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	DepartmentID string    `json:"departmentId,omitempty"`
	BlobPath     string    `json:"blob_path,omitempty"`
	ChunkCount   int       `json:"chunk_count"`
	ProcessedAt  time.Time `json:"processed_at"`
}

// ResearchNotification is the payload of the new_grievance_research
// NOTIFY channel.
type ResearchNotification struct {
	GrievanceID string `json:"grievance_id"`
	Category    string `json:"category,omitempty"`
	Location    string `json:"location,omitempty"`
}
