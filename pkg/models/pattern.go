package models

import "time"

// Pattern is a cached research artifact keyed by an embedding neighborhood.
// All grievances within the similarity neighborhood of PatternEmbedding share
// the same research report; matching never mutates the pattern payload.
type Pattern struct {
	PatternID          string
	PatternName        string
	PatternDescription string
	PatternEmbedding   []float32
	ResearchReport     map[string]any
	ResearchSources    []string
	GrievanceCount     int
	Keywords           []string
	CreatedAt          time.Time
}

// PatternMatch is a nearest-neighbor lookup result from the pattern table.
type PatternMatch struct {
	Pattern    Pattern
	Similarity float64
}

// ResearchReport is the structured output of a full research run.
type ResearchReport struct {
	GrievanceID     string                    `json:"grievance_id"`
	Analysis        string                    `json:"analysis"`
	SearchResults   map[string][]SearchResult `json:"search_results"`
	ValidationStats ValidationStats           `json:"validation_stats"`
	Sources         []string                  `json:"sources"`
	Timestamp       time.Time                 `json:"timestamp"`
}

// SearchResult is a single web-search hit, post-validation.
type SearchResult struct {
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Content       string  `json:"content"`
	Score         float64 `json:"score"`
	PublishedDate string  `json:"published_date,omitempty"`
	IsGovDomain   bool    `json:"is_gov_domain,omitempty"`
	QualityScore  float64 `json:"quality_score,omitempty"`
}

// ValidationStats summarizes how many search results survived validation.
type ValidationStats struct {
	Total   int `json:"total"`
	Valid   int `json:"valid"`
	Invalid int `json:"invalid"`
}
