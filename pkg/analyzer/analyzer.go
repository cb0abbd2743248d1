// Package analyzer wraps the external AI services the pipeline depends on:
// chat completions, embeddings, image validation and web search. Stages only
// ever see the interfaces; the concrete clients live behind them so tests
// can substitute fakes without network access.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/civicgrid/grievance-pipeline/pkg/models"
)

// TextAnalyzer runs one prompt through the chat model and returns the raw
// completion text.
type TextAnalyzer interface {
	Analyze(ctx context.Context, prompt string) (string, error)
}

// Embedder converts texts into fixed-dimension vectors. The returned slice
// is index-aligned with the input.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VisionAnalyzer validates, locates and describes grievance images through
// the vision model.
type VisionAnalyzer interface {
	ValidateImage(ctx context.Context, imageURL, grievanceText string) (*models.ValidationResult, error)
	ExtractLocation(ctx context.Context, imageURL, grievanceText string) (*models.LocationData, error)
	DescribeImage(ctx context.Context, imageURL, grievanceText string) (*models.ImageAnalysis, error)
}

// Searcher performs a web search and returns scored results.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]models.SearchResult, error)
}

// PDFExtractor extracts plain text from a PDF document. The reader form
// lets large downloads spill to disk instead of being held in memory.
type PDFExtractor interface {
	Extract(ctx context.Context, doc io.ReaderAt, size int64) (string, error)
}

// ParseJSONObject decodes a JSON object out of an LLM completion. Models
// routinely wrap the object in markdown fences or prose, so the parser
// locates the outermost braces before decoding.
func ParseJSONObject(completion string, out any) error {
	text := strings.TrimSpace(completion)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("completion contains no JSON object")
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), out); err != nil {
		return fmt.Errorf("failed to decode completion JSON: %w", err)
	}
	return nil
}
