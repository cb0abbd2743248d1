// Package kb implements the knowledge-base worker: uploaded PDFs are
// extracted, chunked, embedded into the vector index and distilled into a
// structured knowledge JSON artifact.
package kb

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/civicgrid/grievance-pipeline/pkg/analyzer"
)

// maxChunkPromptChars bounds how much of a chunk is sent per extraction call.
const maxChunkPromptChars = 12000

const extractionPrompt = `Extract every piece of structured knowledge from the
document excerpt below into a single JSON object. Capture schemes, policies,
procedures, eligibility rules, deadlines, fees, contact points, departments
and any tabular data you find, using descriptive snake_case keys. Use nested
objects and arrays freely. Return only the JSON object, with no commentary.

Document excerpt:
%s`

// KnowledgeExtractor distills chunk text into one merged knowledge map.
type KnowledgeExtractor struct {
	text   analyzer.TextAnalyzer
	logger *slog.Logger
}

// NewKnowledgeExtractor creates a KnowledgeExtractor.
func NewKnowledgeExtractor(text analyzer.TextAnalyzer) *KnowledgeExtractor {
	return &KnowledgeExtractor{
		text:   text,
		logger: slog.With("component", "knowledge_extractor"),
	}
}

// Build extracts knowledge from every chunk and merges the results. A chunk
// whose extraction fails contributes nothing; the build never fails as a
// whole.
func (e *KnowledgeExtractor) Build(ctx context.Context, chunks []string) map[string]any {
	master := make(map[string]any)
	for i, chunk := range chunks {
		if ctx.Err() != nil {
			return master
		}
		extracted, err := e.extractChunk(ctx, chunk)
		if err != nil {
			e.logger.Warn("Chunk extraction failed", "chunk_index", i, "error", err)
			continue
		}
		mergeKnowledge(master, extracted)
	}
	return master
}

func (e *KnowledgeExtractor) extractChunk(ctx context.Context, chunk string) (map[string]any, error) {
	if len(chunk) > maxChunkPromptChars {
		chunk = chunk[:maxChunkPromptChars]
	}
	raw, err := e.text.Analyze(ctx, fmt.Sprintf(extractionPrompt, chunk))
	if err != nil {
		return nil, err
	}
	return parseJSONObject(raw)
}

// parseJSONObject pulls the outermost JSON object out of a model response,
// tolerating markdown fences and surrounding prose.
func parseJSONObject(raw string) (map[string]any, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("no JSON object in response")
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw[start:end+1]), &out); err != nil {
		return nil, fmt.Errorf("failed to parse extraction JSON: %w", err)
	}
	return out, nil
}

// mergeKnowledge folds new extraction output into the master map. Matching
// maps merge key-wise, matching lists concatenate, and scalar collisions
// collect into a list.
func mergeKnowledge(master, new map[string]any) {
	for key, value := range new {
		existing, ok := master[key]
		if !ok {
			master[key] = value
			continue
		}
		switch existingTyped := existing.(type) {
		case map[string]any:
			if newTyped, ok := value.(map[string]any); ok {
				for k, v := range newTyped {
					existingTyped[k] = v
				}
				continue
			}
			master[key] = []any{existing, value}
		case []any:
			if newTyped, ok := value.([]any); ok {
				master[key] = append(existingTyped, newTyped...)
				continue
			}
			master[key] = append(existingTyped, value)
		default:
			if newTyped, ok := value.([]any); ok {
				master[key] = append([]any{existing}, newTyped...)
				continue
			}
			master[key] = []any{existing, value}
		}
	}
}
