package queryanalyst

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/civicgrid/grievance-pipeline/pkg/analyzer"
	"github.com/civicgrid/grievance-pipeline/pkg/models"
)

// ReportRenderer turns the Markdown report into a rendered document. The
// stage core never binds a rendering library; deployments plug one in.
type ReportRenderer interface {
	// RenderPDF renders markdown to PDF bytes. A nil result with nil error
	// means rendering is not configured and no PDF artifact is stored.
	RenderPDF(ctx context.Context, markdown string) ([]byte, error)
}

// NopRenderer skips PDF rendering. The Markdown and JSON artifacts are
// still produced.
type NopRenderer struct{}

func (NopRenderer) RenderPDF(context.Context, string) ([]byte, error) { return nil, nil }

// analysis accumulates every intermediate output of one pipeline run.
type analysis struct {
	msg        *models.GrievanceMessage
	validation *models.ValidationResult
	location   *models.LocationData
	image      *models.ImageAnalysis

	enhancedQuery    string
	embedding        []float32
	retrievedContext string

	queryType         map[string]any
	locationInfo      map[string]any
	emotion           map[string]any
	severity          map[string]any
	patterns          map[string]any
	fraud             map[string]any
	category          map[string]any
	similarCases      map[string]any
	department        map[string]any
	sentimentPriority map[string]any
	policySearch      map[string]any

	searchQueries []string
	searchResults map[string][]models.SearchResult

	allocatedDepartmentID   *string
	allocatedDepartmentName string
	departmentField         map[string]any

	completedAt time.Time
}

// buildReportPrompt assembles the prompt for the Markdown report.
func buildReportPrompt(a *analysis) string {
	outputs, _ := json.Marshal(map[string]any{
		"query_type":         a.queryType,
		"emotion":            a.emotion,
		"severity":           a.severity,
		"patterns":           a.patterns,
		"fraud":              a.fraud,
		"category":           a.category,
		"similar_cases":      a.similarCases,
		"department":         a.department,
		"sentiment_priority": a.sentimentPriority,
	})
	policy, _ := json.Marshal(a.searchQueries)

	return fmt.Sprintf(`You are a municipal grievance officer writing a formal
case report. Produce a professional Markdown report with sections for the
complaint summary, visual evidence, location, classification, similar cases,
responsible department and recommended actions.

Grievance:
%s

Analysis outputs:
%s

Policy search queries:
%s

Write the Markdown report only, no preamble.`, a.msg.GrievanceText, outputs, policy)
}

// renderReport generates the Markdown report through the text analyzer. A
// generation failure degrades to a minimal templated report rather than
// failing the pipeline.
func renderReport(ctx context.Context, text analyzer.TextAnalyzer, a *analysis, logger *slog.Logger) string {
	markdown, err := text.Analyze(ctx, buildReportPrompt(a))
	if err != nil || markdown == "" {
		logger.Warn("Report generation failed, using fallback template",
			"grievance_id", a.msg.GrievanceID,
			"error", err)
		return fmt.Sprintf("# Grievance Report\n\n## Complaint\n\n%s\n\n## Category\n\n%s\n",
			a.msg.GrievanceText, stringField(a.category, "main_category"))
	}
	return markdown
}

// buildCaseStudy assembles the final structured JSON view of the grievance.
// Reasoning fields are stripped; this artifact is the citizen-facing record.
func buildCaseStudy(a *analysis) map[string]any {
	image := map[string]any{}
	if a.image != nil {
		image = map[string]any{
			"path":           a.msg.ImagePath,
			"description":    a.image.Description,
			"key_objects":    a.image.KeyObjects,
			"scene_type":     a.image.SceneType,
			"extracted_text": a.image.ExtractedText,
		}
	}

	location := map[string]any{}
	if a.location != nil {
		location = map[string]any{
			"address":   a.location.Address,
			"latitude":  a.location.Latitude,
			"longitude": a.location.Longitude,
			"landmarks": a.location.Landmarks,
			"area_type": a.location.AreaType,
		}
	}

	return map[string]any{
		"grievance": map[string]any{
			"text":           a.msg.GrievanceText,
			"enhanced_query": a.enhancedQuery,
			"image":          image,
			"location":       location,
			"category":       stringField(a.category, "main_category"),
			"sub_category":   stringField(a.category, "sub_category"),
		},
		"analysis": map[string]any{
			"query_type":        stripReasoning(a.queryType),
			"emotion":           stripReasoning(a.emotion),
			"severity":          stripReasoning(a.severity),
			"priority":          stripReasoning(a.sentimentPriority),
			"patterns":          stripReasoning(a.patterns),
			"historical_trends": stripReasoning(a.similarCases),
			"fraud_risk":        stripReasoning(a.fraud),
		},
		"department": a.departmentField,
		"real_time_data": map[string]any{
			"search_results": a.searchResults,
			"policy_queries": a.searchQueries,
		},
	}
}

// stripReasoning removes internal fields from a classifier output map.
func stripReasoning(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cleaned := make(map[string]any, len(m))
	for k, v := range m {
		switch k {
		case "reasoning", "_raw", "_error", "_raw_sentiment", "_raw_priority":
		default:
			cleaned[k] = v
		}
	}
	return cleaned
}

// marshalField renders one classifier output as the JSON string stored in
// its grievance column.
func marshalField(m map[string]any) string {
	if m == nil {
		return ""
	}
	data, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(data)
}
