package models

import "time"

// Grievance is the primary domain record threaded through every stage.
// Derived fields stay nil/zero until the QueryAnalyst stage runs; the row is
// read-only for the Research and Progress stages afterwards.
type Grievance struct {
	ID            string
	GrievanceID   string
	CitizenID     string
	GrievanceText string
	ImagePath     string

	ImageDescription string
	EnhancedQuery    string
	Embedding        []float32
	EmbeddingStatus  string

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

	DepartmentID string
	Priority     string
	Zone         string
	Ward         string

	ValidationStatus string
	ValidationScore  float64
	ValidationReason string

	Latitude           *float64
	Longitude          *float64
	LocationAddress    string
	LocationConfidence string

	ProcessingMetadata map[string]any
	Metadata           map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidationResult is the vision service's verdict on an attached image.
type ValidationResult struct {
	IsValid    bool    `json:"is_valid"`
	Score      float64 `json:"score"`
	Reasoning  string  `json:"reasoning"`
	Confidence string  `json:"confidence"`
}

// LocationData is the extracted grievance location. Confidence is one of
// high, medium, low, none; extraction failure records none and continues.
type LocationData struct {
	Address    string   `json:"address"`
	Latitude   *float64 `json:"lat,omitempty"`
	Longitude  *float64 `json:"lon,omitempty"`
	Landmarks  []string `json:"landmarks,omitempty"`
	AreaType   string   `json:"area_type,omitempty"`
	Confidence string   `json:"confidence"`
}

// ImageAnalysis is the vision service's free-text read of an attached
// image. All fields degrade to empty on service failure.
type ImageAnalysis struct {
	Description   string   `json:"description"`
	KeyObjects    []string `json:"key_objects,omitempty"`
	SceneType     string   `json:"scene_type,omitempty"`
	ExtractedText string   `json:"extracted_text,omitempty"`
	Confidence    string   `json:"confidence,omitempty"`
}

// Location confidence levels.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
	ConfidenceNone   = "none"
)

// Validation statuses persisted on the grievance row.
const (
	ValidationValidated = "validated"
	ValidationRejected  = "rejected"
	ValidationNoImage   = "no_image"
)
