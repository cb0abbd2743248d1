package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/civicgrid/grievance-pipeline/pkg/analyzer"
	"github.com/civicgrid/grievance-pipeline/pkg/config"
	"github.com/civicgrid/grievance-pipeline/pkg/metrics"
	"github.com/civicgrid/grievance-pipeline/pkg/models"
	"github.com/civicgrid/grievance-pipeline/pkg/queue"
	"github.com/civicgrid/grievance-pipeline/pkg/services"
)

// grievanceStore is the slice of services.GrievanceService the processor
// reads and annotates.
type grievanceStore interface {
	Embedding(ctx context.Context, grievanceID string) ([]float32, error)
	ResearchData(ctx context.Context, grievanceID string) (*services.ResearchData, error)
	MergeMetadata(ctx context.Context, grievanceID string, patch map[string]any) error
}

// patternStore is the pattern-cache slice of services.PatternService.
type patternStore interface {
	FindSimilar(ctx context.Context, embedding []float32, threshold float64) (*models.PatternMatch, error)
	Create(ctx context.Context, pattern *models.Pattern) (string, error)
	Link(ctx context.Context, grievanceID, patternID string, confidence float64) error
	IncrementGrievanceCount(ctx context.Context, patternID string) error
}

// Processor handles one grievance notification end to end: pattern lookup,
// cache-hit reuse or full research with pattern creation, and the crawl
// feedback push for validated source URLs.
type Processor struct {
	grievances grievanceStore
	patterns   patternStore
	embedder   analyzer.Embedder
	workflow   *Workflow

	transport    queue.Transport
	crawlerQueue string

	cfg    *config.ResearchConfig
	logger *slog.Logger
}

// NewProcessor wires the research processor.
func NewProcessor(
	grievances grievanceStore,
	patterns patternStore,
	embedder analyzer.Embedder,
	workflow *Workflow,
	transport queue.Transport,
	crawlerQueue string,
	cfg *config.ResearchConfig,
) *Processor {
	return &Processor{
		grievances:   grievances,
		patterns:     patterns,
		embedder:     embedder,
		workflow:     workflow,
		transport:    transport,
		crawlerQueue: crawlerQueue,
		cfg:          cfg,
		logger:       slog.With("stage", "research"),
	}
}

// Process implements NotificationHandler.
func (p *Processor) Process(ctx context.Context, notification *models.ResearchNotification) error {
	grievanceID := notification.GrievanceID

	embedding, data, err := p.grievanceEmbedding(ctx, grievanceID)
	if err != nil {
		return err
	}

	match, err := p.patterns.FindSimilar(ctx, embedding, p.cfg.SimilarityThreshold)
	if err != nil {
		return err
	}
	if match != nil {
		metrics.PatternCache.WithLabelValues("hit").Inc()
		return p.reusePattern(ctx, grievanceID, match)
	}

	metrics.PatternCache.WithLabelValues("miss").Inc()
	if data == nil {
		if data, err = p.grievances.ResearchData(ctx, grievanceID); err != nil {
			return err
		}
	}
	return p.fullResearch(ctx, grievanceID, embedding, data)
}

// grievanceEmbedding prefers the embedding the analysis stage stored. When
// research fires before analysis persisted one, the grievance text is
// embedded directly.
func (p *Processor) grievanceEmbedding(ctx context.Context, grievanceID string) ([]float32, *services.ResearchData, error) {
	embedding, err := p.grievances.Embedding(ctx, grievanceID)
	if err == nil {
		return embedding, nil, nil
	}
	if !errors.Is(err, services.ErrNotFound) {
		return nil, nil, err
	}

	data, err := p.grievances.ResearchData(ctx, grievanceID)
	if err != nil {
		return nil, nil, err
	}
	vectors, err := p.embedder.Embed(ctx, []string{data.GrievanceText})
	if err != nil || len(vectors) != 1 {
		return nil, nil, fmt.Errorf("failed to embed grievance %s: %w", grievanceID, err)
	}
	return vectors[0], data, nil
}

// reusePattern links the grievance to the matched pattern and copies the
// cached research onto the row.
func (p *Processor) reusePattern(ctx context.Context, grievanceID string, match *models.PatternMatch) error {
	pattern := &match.Pattern
	if err := p.patterns.Link(ctx, grievanceID, pattern.PatternID, match.Similarity); err != nil {
		return err
	}
	if err := p.patterns.IncrementGrievanceCount(ctx, pattern.PatternID); err != nil {
		return err
	}

	err := p.grievances.MergeMetadata(ctx, grievanceID, map[string]any{
		"research": map[string]any{
			"research_analysis": pattern.ResearchReport,
			"sources":           pattern.ResearchSources,
			"pattern_id":        pattern.PatternID,
			"pattern_name":      pattern.PatternName,
			"reused_pattern":    true,
			"similarity_score":  match.Similarity,
			"processed_at":      time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return err
	}

	p.logger.Info("Pattern research reused",
		"grievance_id", grievanceID,
		"pattern_name", pattern.PatternName,
		"similarity", match.Similarity)
	return nil
}

// fullResearch runs the workflow, creates the new pattern, annotates the
// grievance and pushes validated source URLs to the crawler.
func (p *Processor) fullResearch(ctx context.Context, grievanceID string, embedding []float32, data *services.ResearchData) error {
	report, err := p.workflow.Run(ctx, data)
	if err != nil {
		return err
	}

	reportMap, err := reportAsMap(report)
	if err != nil {
		return err
	}

	patternID, err := p.patterns.Create(ctx, &models.Pattern{
		PatternName:        PatternName(data),
		PatternDescription: fmt.Sprintf("Pattern for %s grievances", mainCategory(data)),
		PatternEmbedding:   embedding,
		ResearchReport:     reportMap,
		ResearchSources:    report.Sources,
		Keywords:           ExtractKeywords(data.GrievanceText),
	})
	if err != nil {
		return err
	}
	if err := p.patterns.Link(ctx, grievanceID, patternID, 1.0); err != nil {
		return err
	}

	err = p.grievances.MergeMetadata(ctx, grievanceID, map[string]any{
		"research": map[string]any{
			"research_analysis": reportMap,
			"sources":           report.Sources,
			"pattern_id":        patternID,
			"pattern_name":      PatternName(data),
			"reused_pattern":    false,
			"processed_at":      time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return err
	}

	pushed := p.pushValidatedURLs(ctx, grievanceID, report)

	p.logger.Info("Full research completed",
		"grievance_id", grievanceID,
		"pattern_id", patternID,
		"validated_results", report.ValidationStats.Valid,
		"urls_pushed", pushed)
	return nil
}

// pushValidatedURLs feeds each validated source URL to the crawler queue so
// the source content joins the knowledge corpus. Push failures are logged,
// not fatal: research already persisted.
func (p *Processor) pushValidatedURLs(ctx context.Context, grievanceID string, report *models.ResearchReport) int {
	pushed := 0
	for _, url := range report.Sources {
		body, err := queue.Encode(models.CrawlMessage{
			JobID:         grievanceID,
			URL:           url,
			CurrentStatus: models.StatusWebCrawling,
			Metadata:      map[string]any{"source": "research"},
		})
		if err != nil {
			p.logger.Error("Failed to encode crawl message", "url", url, "error", err)
			continue
		}
		if err := p.transport.Send(ctx, p.crawlerQueue, body); err != nil {
			p.logger.Error("Failed to push research URL to crawler", "url", url, "error", err)
			continue
		}
		pushed++
	}
	return pushed
}

func reportAsMap(report *models.ResearchReport) (map[string]any, error) {
	data, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal research report: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to round-trip research report: %w", err)
	}
	return out, nil
}
