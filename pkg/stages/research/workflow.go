package research

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/civicgrid/grievance-pipeline/pkg/analyzer"
	"github.com/civicgrid/grievance-pipeline/pkg/models"
	"github.com/civicgrid/grievance-pipeline/pkg/services"
)

// searchResultsPerSlot bounds each of the four research searches.
const searchResultsPerSlot = 5

// Workflow runs the full research pipeline for one grievance: four targeted
// searches, result validation, and an analysis summary.
type Workflow struct {
	searcher  analyzer.Searcher
	text      analyzer.TextAnalyzer
	validator *ResultValidator
	logger    *slog.Logger
}

// NewWorkflow wires the research workflow.
func NewWorkflow(searcher analyzer.Searcher, text analyzer.TextAnalyzer, validator *ResultValidator) *Workflow {
	return &Workflow{
		searcher:  searcher,
		text:      text,
		validator: validator,
		logger:    slog.With("component", "research_workflow"),
	}
}

// Run executes the four search slots and composes the research report. A
// failed search slot contributes zero results; analysis runs regardless.
func (w *Workflow) Run(ctx context.Context, data *services.ResearchData) (*models.ResearchReport, error) {
	category := mainCategory(data)
	department := departmentName(data)
	location := locationName(data)

	slots := map[string]string{
		"schemes":     fmt.Sprintf("India government schemes programs %s", category),
		"budget":      fmt.Sprintf("India %s budget allocation %s", department, category),
		"development": fmt.Sprintf("%s India development plan %s infrastructure", location, category),
		"resources":   fmt.Sprintf("India government resources %s implementation guidelines", category),
	}

	results := make(map[string][]models.SearchResult, len(slots))
	stats := models.ValidationStats{}
	for slot, query := range slots {
		raw, err := w.searcher.Search(ctx, query, searchResultsPerSlot)
		if err != nil {
			w.logger.Warn("Research search failed",
				"grievance_id", data.GrievanceID,
				"slot", slot,
				"error", err)
			continue
		}
		valid, slotStats := w.validator.ValidateAll(raw)
		results[slot] = valid
		stats.Total += slotStats.Total
		stats.Valid += slotStats.Valid
		stats.Invalid += slotStats.Invalid
	}

	analysis, err := w.analyze(ctx, data, results)
	if err != nil {
		return nil, err
	}

	return &models.ResearchReport{
		GrievanceID:     data.GrievanceID,
		Analysis:        analysis,
		SearchResults:   results,
		ValidationStats: stats,
		Sources:         collectSources(results),
		Timestamp:       time.Now().UTC(),
	}, nil
}

func (w *Workflow) analyze(ctx context.Context, data *services.ResearchData, results map[string][]models.SearchResult) (string, error) {
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return "", fmt.Errorf("failed to marshal research results: %w", err)
	}

	prompt := fmt.Sprintf(`You are a municipal research analyst. Summarize the
research below into actionable findings for resolving a citizen grievance:
relevant schemes, budget provisions, development plans and guidelines, with
the source for each finding.

Grievance:
%s

Category: %s
Department: %s

Validated research results:
%s

Write a concise prose summary, no preamble.`,
		data.GrievanceText, mainCategory(data), departmentName(data), resultsJSON)

	analysis, err := w.text.Analyze(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("research analysis failed: %w", err)
	}
	return analysis, nil
}

func collectSources(results map[string][]models.SearchResult) []string {
	seen := make(map[string]bool)
	var sources []string
	for _, slot := range []string{"schemes", "budget", "development", "resources"} {
		for _, result := range results[slot] {
			if !seen[result.URL] {
				seen[result.URL] = true
				sources = append(sources, result.URL)
			}
		}
	}
	return sources
}

func mainCategory(data *services.ResearchData) string {
	if data.Category != nil {
		if category, ok := data.Category["main_category"].(string); ok && category != "" {
			return category
		}
	}
	return "general"
}

func departmentName(data *services.ResearchData) string {
	if data.DepartmentInfo == "" {
		return "general"
	}
	// department_info is classifier JSON; fall back to the raw text when it
	// does not parse.
	var info map[string]any
	if err := json.Unmarshal([]byte(data.DepartmentInfo), &info); err == nil {
		if name, ok := info["recommended_department"].(string); ok && name != "" {
			return name
		}
	}
	return data.DepartmentInfo
}

func locationName(data *services.ResearchData) string {
	if data.Location != nil && data.Location.Address != "" && data.Location.Address != "Not available" {
		return data.Location.Address
	}
	return "India"
}

// PatternName derives the cache key <category>_<location>, lowercased with
// spaces collapsed to underscores.
func PatternName(data *services.ResearchData) string {
	location := "unknown"
	if data.Location != nil && data.Location.Address != "" && data.Location.Address != "Not available" {
		location = data.Location.Address
	}
	name := fmt.Sprintf("%s_%s", mainCategory(data), location)
	return strings.ToLower(strings.ReplaceAll(name, " ", "_"))
}

// ExtractKeywords keeps words longer than four characters, first ten.
func ExtractKeywords(text string) []string {
	var keywords []string
	for _, word := range strings.Fields(strings.ToLower(text)) {
		if len(word) > 4 {
			keywords = append(keywords, word)
			if len(keywords) == 10 {
				break
			}
		}
	}
	return keywords
}
