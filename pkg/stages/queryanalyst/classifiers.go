// Package queryanalyst implements the QueryAnalyst stage: one grievance per
// message, transformed into a classified, embedded, geolocated and
// department-allocated record.
package queryanalyst

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/civicgrid/grievance-pipeline/pkg/analyzer"
)

// jsonObjectRE grabs the outermost brace span of a completion for the
// loose-parse fallback.
var jsonObjectRE = regexp.MustCompile(`(?s)\{.*\}`)

// parseLoose decodes classifier output best-effort. Unparseable output is
// kept under _raw with an _error marker instead of failing the pipeline.
func parseLoose(raw string) map[string]any {
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err == nil {
		return out
	}
	if match := jsonObjectRE.FindString(raw); match != "" {
		if err := json.Unmarshal([]byte(match), &out); err == nil {
			return out
		}
	}
	return map[string]any{"_raw": raw, "_error": "failed_to_parse_json"}
}

// Classifiers runs the ten independent analyses over the enhanced query.
// Every classifier degrades to a _raw/_error map on service failure so one
// bad call never aborts the pipeline.
type Classifiers struct {
	text   analyzer.TextAnalyzer
	logger *slog.Logger
}

// NewClassifiers wraps the text analyzer.
func NewClassifiers(text analyzer.TextAnalyzer) *Classifiers {
	return &Classifiers{
		text:   text,
		logger: slog.With("component", "classifiers"),
	}
}

func (c *Classifiers) run(ctx context.Context, name, prompt string) map[string]any {
	completion, err := c.text.Analyze(ctx, prompt)
	if err != nil {
		c.logger.Warn("Classifier call failed", "classifier", name, "error", err)
		return map[string]any{"_error": err.Error()}
	}
	return parseLoose(completion)
}

const classifierPreamble = `You are analyzing a citizen grievance submitted to
an Indian municipal grievance portal. Respond with only a JSON object, no
prose around it.

Grievance:
%s
`

func (c *Classifiers) QueryType(ctx context.Context, enhanced string) map[string]any {
	prompt := fmt.Sprintf(classifierPreamble, enhanced) + `
Classify the query type. Respond:
{"query_type": "complaint|request|inquiry|feedback|emergency",
 "sub_type": "...", "reasoning": "one sentence"}`
	return c.run(ctx, "query_type", prompt)
}

func (c *Classifiers) Location(ctx context.Context, enhanced string) map[string]any {
	prompt := fmt.Sprintf(classifierPreamble, enhanced) + `
Normalize every location reference. Respond:
{"state": "...", "district": "...", "city": "...", "zone": "...", "ward": "...",
 "locality": "...", "reasoning": "one sentence"}
Use empty strings for unknown fields.`
	return c.run(ctx, "location", prompt)
}

func (c *Classifiers) Emotion(ctx context.Context, enhanced string) map[string]any {
	prompt := fmt.Sprintf(classifierPreamble, enhanced) + `
Assess the citizen's emotional state. Respond:
{"primary_emotion": "...", "intensity": "high|medium|low",
 "indicators": ["..."], "reasoning": "one sentence"}`
	return c.run(ctx, "emotion", prompt)
}

func (c *Classifiers) Severity(ctx context.Context, enhanced string) map[string]any {
	prompt := fmt.Sprintf(classifierPreamble, enhanced) + `
Assess the civic severity of the reported problem. Respond:
{"severity_level": "critical|high|medium|low",
 "affected_population": "...", "safety_risk": "...", "reasoning": "one sentence"}`
	return c.run(ctx, "severity", prompt)
}

func (c *Classifiers) Patterns(ctx context.Context, enhanced, retrievedContext string) map[string]any {
	prompt := fmt.Sprintf(classifierPreamble, enhanced) + `
Reference material from similar past grievances:
` + retrievedContext + `

Identify recurring patterns this grievance fits. Respond:
{"recurring_issue": bool, "pattern_description": "...",
 "frequency": "...", "reasoning": "one sentence"}`
	return c.run(ctx, "patterns", prompt)
}

// Fraud consumes only the validation verdict, never the grievance text, so
// strongly-worded but genuine complaints cannot trip keyword heuristics.
func (c *Classifiers) Fraud(ctx context.Context, validationJSON string) map[string]any {
	prompt := `You are assessing fraud risk for a citizen grievance based only
on the image validation verdict below. Respond with only a JSON object.

Validation verdict:
` + validationJSON + `

Respond:
{"fraud_risk": "high|medium|low|none", "signals": ["..."],
 "reasoning": "one sentence"}`
	return c.run(ctx, "fraud", prompt)
}

func (c *Classifiers) Category(ctx context.Context, enhanced, retrievedContext string) map[string]any {
	prompt := fmt.Sprintf(classifierPreamble, enhanced) + `
Reference material from similar past grievances:
` + retrievedContext + `

Categorize the grievance. Respond:
{"main_category": "...", "sub_category": "...", "tags": ["..."],
 "reasoning": "one sentence"}`
	return c.run(ctx, "category", prompt)
}

func (c *Classifiers) SimilarCases(ctx context.Context, enhanced, retrievedContext string) map[string]any {
	prompt := fmt.Sprintf(classifierPreamble, enhanced) + `
Similar past grievances:
` + retrievedContext + `

Summarize how past cases relate to this one. Respond:
{"similar_case_count": 0, "summary": "...", "resolution_hints": ["..."],
 "reasoning": "one sentence"}`
	return c.run(ctx, "similar_cases", prompt)
}

func (c *Classifiers) Department(ctx context.Context, enhanced, retrievedContext string) map[string]any {
	prompt := fmt.Sprintf(classifierPreamble, enhanced) + `
Reference material:
` + retrievedContext + `

Recommend the responsible municipal department. Respond:
{"recommended_department": "...", "jurisdiction": "...",
 "contact_information": "...", "reasoning": "one sentence"}`
	return c.run(ctx, "department", prompt)
}

// SentimentPriority merges two analyses into one map, mirroring the merged
// column the grievance row carries.
func (c *Classifiers) SentimentPriority(ctx context.Context, enhanced string) map[string]any {
	sentiment := c.run(ctx, "sentiment", fmt.Sprintf(classifierPreamble, enhanced)+`
Score the sentiment. Respond:
{"sentiment_score": -1.0, "urgency_level": "high|medium|low",
 "emotional_tone": "...", "key_emotional_indicators": ["..."]}`)

	priority := c.run(ctx, "priority", fmt.Sprintf(classifierPreamble, enhanced)+`
Assign a handling priority. Respond:
{"priority_level": "critical|high|medium|low", "justification": "...",
 "expected_resolution_time": "...", "risk_assessment": "..."}`)

	return map[string]any{
		"sentiment_score":          sentiment["sentiment_score"],
		"urgency_level":            sentiment["urgency_level"],
		"emotional_tone":           sentiment["emotional_tone"],
		"key_emotional_indicators": sentiment["key_emotional_indicators"],
		"priority_level":           priority["priority_level"],
		"justification":            priority["justification"],
		"expected_resolution_time": priority["expected_resolution_time"],
		"risk_assessment":          priority["risk_assessment"],
	}
}

// PolicyQueries produces the 3-6 web search strings for schemes and policies.
func (c *Classifiers) PolicyQueries(ctx context.Context, enhanced string, category map[string]any) map[string]any {
	categoryJSON, _ := json.Marshal(category)
	prompt := fmt.Sprintf(classifierPreamble, enhanced) + `
Category assessment:
` + string(categoryJSON) + `

Generate 3 to 6 web search queries that would find relevant government
policies, schemes and budget allocations for this grievance. Respond:
{"queries": ["...", "..."]}`
	return c.run(ctx, "policy_search", prompt)
}

// stringField pulls a string out of a loose classifier map.
func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// stringSliceField pulls a []string out of a loose classifier map.
func stringSliceField(m map[string]any, key string) []string {
	if m == nil {
		return nil
	}
	raw, ok := m[key].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range raw {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}
