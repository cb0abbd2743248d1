// Package research implements the Research stage: a NOTIFY-driven worker
// that reuses cached research through a pattern similarity lookup and runs
// the full research workflow only on cache misses.
package research

import (
	"regexp"
	"strings"

	"github.com/civicgrid/grievance-pipeline/pkg/models"
)

// govDomains flag results from Indian government sites. Tracking only; the
// flag never affects validity.
var govDomains = []string{
	"gov.in", "india.gov.in", "pib.gov.in", "niti.gov.in",
	"nic.in", "mygov.in", "digitalindia.gov.in",
}

var urlRE = regexp.MustCompile(`(?i)^https?://` +
	`(?:(?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,6}\.?|` +
	`localhost|` +
	`\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})` +
	`(?::\d+)?` +
	`(?:/?|[/?]\S+)$`)

// ResultValidator gates raw search results before they feed analysis or get
// pushed to the crawler.
type ResultValidator struct {
	minScore         float64
	minContentLength int
}

// NewResultValidator creates a validator with the given thresholds.
func NewResultValidator(minScore float64, minContentLength int) *ResultValidator {
	return &ResultValidator{
		minScore:         minScore,
		minContentLength: minContentLength,
	}
}

// Validate checks one result. Invalid results return false with the reason.
func (v *ResultValidator) Validate(result *models.SearchResult) (bool, string) {
	if result.URL == "" {
		return false, "missing URL"
	}
	if !urlRE.MatchString(result.URL) {
		return false, "invalid URL format"
	}
	if result.Score < v.minScore {
		return false, "low relevance score"
	}
	if len(result.Content) < v.minContentLength {
		return false, "content too short"
	}
	if len(result.Title) < 10 {
		return false, "missing or invalid title"
	}
	return true, ""
}

// ValidateAll filters results, annotating survivors with the gov-domain flag
// and a quality score.
func (v *ResultValidator) ValidateAll(results []models.SearchResult) ([]models.SearchResult, models.ValidationStats) {
	stats := models.ValidationStats{Total: len(results)}
	var valid []models.SearchResult
	for _, result := range results {
		ok, _ := v.Validate(&result)
		if !ok {
			stats.Invalid++
			continue
		}
		result.IsGovDomain = isGovernmentDomain(result.URL)
		result.QualityScore = qualityScore(&result)
		valid = append(valid, result)
		stats.Valid++
	}
	return valid, stats
}

func isGovernmentDomain(url string) bool {
	lower := strings.ToLower(url)
	for _, domain := range govDomains {
		if strings.Contains(lower, domain) {
			return true
		}
	}
	return false
}

// qualityScore rates a validated result in [0,1]: relevance 50%, content
// depth 30%, title quality 10%, published date 10%.
func qualityScore(result *models.SearchResult) float64 {
	score := result.Score * 0.5

	switch contentLength := len(result.Content); {
	case contentLength > 500:
		score += 0.3
	case contentLength > 300:
		score += 0.25
	case contentLength > 200:
		score += 0.2
	case contentLength > 100:
		score += 0.1
	}

	switch titleLength := len(result.Title); {
	case titleLength > 50:
		score += 0.1
	case titleLength > 30:
		score += 0.08
	case titleLength > 15:
		score += 0.05
	}

	if result.PublishedDate != "" {
		score += 0.1
	}
	return min(score, 1.0)
}
