package research

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicgrid/grievance-pipeline/pkg/config"
	"github.com/civicgrid/grievance-pipeline/pkg/models"
	"github.com/civicgrid/grievance-pipeline/pkg/queue"
	"github.com/civicgrid/grievance-pipeline/pkg/services"
)

type fakeGrievances struct {
	embedding    []float32
	embeddingErr error
	data         *services.ResearchData
	merged       map[string]any
}

func (f *fakeGrievances) Embedding(context.Context, string) ([]float32, error) {
	return f.embedding, f.embeddingErr
}

func (f *fakeGrievances) ResearchData(context.Context, string) (*services.ResearchData, error) {
	if f.data == nil {
		return nil, services.ErrNotFound
	}
	return f.data, nil
}

func (f *fakeGrievances) MergeMetadata(_ context.Context, _ string, patch map[string]any) error {
	f.merged = patch
	return nil
}

type fakePatterns struct {
	match       *models.PatternMatch
	created     *models.Pattern
	linkedID    string
	linkedScore float64
	incremented int
}

func (f *fakePatterns) FindSimilar(context.Context, []float32, float64) (*models.PatternMatch, error) {
	return f.match, nil
}

func (f *fakePatterns) Create(_ context.Context, pattern *models.Pattern) (string, error) {
	f.created = pattern
	return "pat-new", nil
}

func (f *fakePatterns) Link(_ context.Context, _, patternID string, confidence float64) error {
	f.linkedID = patternID
	f.linkedScore = confidence
	return nil
}

func (f *fakePatterns) IncrementGrievanceCount(context.Context, string) error {
	f.incremented++
	return nil
}

type fakeEmbedder struct {
	calls int
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{0.1, 0.2, 0.3}
	}
	return vectors, nil
}

type fakeTransport struct {
	sent map[string][][]byte
}

func (f *fakeTransport) Send(_ context.Context, queueName string, body []byte) error {
	if f.sent == nil {
		f.sent = make(map[string][][]byte)
	}
	f.sent[queueName] = append(f.sent[queueName], body)
	return nil
}

func (f *fakeTransport) Receive(context.Context, string) (*queue.Delivery, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeTransport) Depth(context.Context, string) (int, error) { return 0, nil }
func (f *fakeTransport) Close() error                               { return nil }

type processorFixture struct {
	grievances *fakeGrievances
	patterns   *fakePatterns
	embedder   *fakeEmbedder
	searcher   *fakeSearcher
	transport  *fakeTransport
	processor  *Processor
}

func newProcessorFixture(t *testing.T) *processorFixture {
	t.Helper()
	f := &processorFixture{
		grievances: &fakeGrievances{
			embedding: []float32{0.5, 0.5, 0.5},
			data:      researchData(),
		},
		patterns: &fakePatterns{},
		embedder: &fakeEmbedder{},
		searcher: &fakeSearcher{results: map[string][]models.SearchResult{
			"schemes": {validResult("https://sbm.gov.in/guidelines")},
		}},
		transport: &fakeTransport{},
	}
	workflow := NewWorkflow(f.searcher, &fakeText{reply: "findings"}, NewResultValidator(0.5, 100))
	cfg := &config.ResearchConfig{SimilarityThreshold: 0.85}
	f.processor = NewProcessor(f.grievances, f.patterns, f.embedder, workflow, f.transport, "crawler", cfg)
	return f
}

func TestProcessorReusesCachedPattern(t *testing.T) {
	f := newProcessorFixture(t)
	f.patterns.match = &models.PatternMatch{
		Pattern: models.Pattern{
			PatternID:       "pat-1",
			PatternName:     "sanitation_indiranagar,_bengaluru",
			ResearchReport:  map[string]any{"analysis": "cached findings"},
			ResearchSources: []string{"https://sbm.gov.in/guidelines"},
		},
		Similarity: 0.93,
	}

	err := f.processor.Process(context.Background(), &models.ResearchNotification{GrievanceID: "grv-200"})
	require.NoError(t, err)

	assert.Equal(t, "pat-1", f.patterns.linkedID)
	assert.Equal(t, 0.93, f.patterns.linkedScore)
	assert.Equal(t, 1, f.patterns.incremented)
	assert.Nil(t, f.patterns.created)
	// Cache hits never search.
	assert.Empty(t, f.searcher.queries)
	assert.Empty(t, f.transport.sent)

	research, ok := f.grievances.merged["research"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, research["reused_pattern"])
	assert.Equal(t, "pat-1", research["pattern_id"])
	assert.Equal(t, 0.93, research["similarity_score"])
}

func TestProcessorFullResearchOnMiss(t *testing.T) {
	f := newProcessorFixture(t)

	err := f.processor.Process(context.Background(), &models.ResearchNotification{GrievanceID: "grv-200"})
	require.NoError(t, err)

	require.NotNil(t, f.patterns.created)
	assert.Equal(t, "sanitation_indiranagar,_bengaluru", f.patterns.created.PatternName)
	assert.Equal(t, "Pattern for sanitation grievances", f.patterns.created.PatternDescription)
	assert.Equal(t, []float32{0.5, 0.5, 0.5}, f.patterns.created.PatternEmbedding)
	assert.NotEmpty(t, f.patterns.created.Keywords)
	keywordSanity(t, f.patterns.created.Keywords)
	assert.Equal(t, []string{"https://sbm.gov.in/guidelines"}, f.patterns.created.ResearchSources)

	assert.Equal(t, "pat-new", f.patterns.linkedID)
	assert.Equal(t, 1.0, f.patterns.linkedScore)
	assert.Zero(t, f.patterns.incremented)

	research, ok := f.grievances.merged["research"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, research["reused_pattern"])
	assert.Equal(t, "pat-new", research["pattern_id"])

	// Validated source URLs feed the crawler.
	require.Len(t, f.transport.sent["crawler"], 1)
	payload, err := queue.Decode(f.transport.sent["crawler"][0])
	require.NoError(t, err)
	var msg models.CrawlMessage
	require.NoError(t, json.Unmarshal(payload, &msg))
	assert.Equal(t, "grv-200", msg.JobID)
	assert.Equal(t, "https://sbm.gov.in/guidelines", msg.URL)
	assert.Equal(t, models.StatusWebCrawling, msg.CurrentStatus)
}

func TestProcessorEmbedsTextWhenNoStoredEmbedding(t *testing.T) {
	f := newProcessorFixture(t)
	f.grievances.embeddingErr = services.ErrNotFound

	err := f.processor.Process(context.Background(), &models.ResearchNotification{GrievanceID: "grv-200"})
	require.NoError(t, err)

	assert.Equal(t, 1, f.embedder.calls)
	require.NotNil(t, f.patterns.created)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, f.patterns.created.PatternEmbedding)
}

func TestProcessorPropagatesEmbeddingError(t *testing.T) {
	f := newProcessorFixture(t)
	f.grievances.embeddingErr = errors.New("connection refused")

	err := f.processor.Process(context.Background(), &models.ResearchNotification{GrievanceID: "grv-200"})
	assert.Error(t, err)
	assert.Zero(t, f.embedder.calls)
}

func TestListenerDispatch(t *testing.T) {
	handler := &recordingHandler{}
	listener := NewListener("postgres://unused", "new_grievance_research", handler)

	listener.dispatch(context.Background(), []byte(`{"grievance_id":"grv-300","category":"roads"}`))
	require.Len(t, handler.seen, 1)
	assert.Equal(t, "grv-300", handler.seen[0].GrievanceID)

	// Malformed and incomplete payloads are dropped without dying.
	listener.dispatch(context.Background(), []byte(`{not json`))
	listener.dispatch(context.Background(), []byte(`{"category":"roads"}`))
	assert.Len(t, handler.seen, 1)

	// Handler failure is logged, not propagated.
	handler.err = errors.New("boom")
	listener.dispatch(context.Background(), []byte(`{"grievance_id":"grv-301"}`))
	assert.Len(t, handler.seen, 2)
}

type recordingHandler struct {
	seen []*models.ResearchNotification
	err  error
}

func (h *recordingHandler) Process(_ context.Context, n *models.ResearchNotification) error {
	h.seen = append(h.seen, n)
	return h.err
}

func keywordSanity(t *testing.T, keywords []string) {
	t.Helper()
	for _, keyword := range keywords {
		assert.Greater(t, len(keyword), 4)
		assert.Equal(t, strings.ToLower(keyword), keyword)
	}
}
