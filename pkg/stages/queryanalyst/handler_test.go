package queryanalyst

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicgrid/grievance-pipeline/pkg/blob"
	"github.com/civicgrid/grievance-pipeline/pkg/models"
	"github.com/civicgrid/grievance-pipeline/pkg/queue"
	"github.com/civicgrid/grievance-pipeline/pkg/services"
	"github.com/civicgrid/grievance-pipeline/pkg/vectorindex"
)

type fakeText struct{ calls int }

func (f *fakeText) Analyze(_ context.Context, prompt string) (string, error) {
	f.calls++
	switch {
	case strings.Contains(prompt, "Categorize the grievance"):
		return `{"main_category": "water_supply", "sub_category": "leakage", "reasoning": "pipe burst"}`, nil
	case strings.Contains(prompt, "Assign a handling priority"):
		return `{"priority_level": "high", "justification": "safety risk"}`, nil
	case strings.Contains(prompt, "Normalize every location"):
		return `{"state": "Karnataka", "district": "Bengaluru Urban", "city": "Bengaluru", "zone": "East", "ward": "82"}`, nil
	case strings.Contains(prompt, "web search queries"):
		return `{"queries": ["water supply scheme Bengaluru", "pipeline repair budget Karnataka"]}`, nil
	case strings.Contains(prompt, "case report"):
		return "# Grievance Report\n\nWater main burst on 5th Cross.", nil
	default:
		return `{"assessment": "ok"}`, nil
	}
}

type fakeVision struct {
	verdict  *models.ValidationResult
	location *models.LocationData
	image    *models.ImageAnalysis
	err      error
}

func (f *fakeVision) ValidateImage(context.Context, string, string) (*models.ValidationResult, error) {
	return f.verdict, f.err
}

func (f *fakeVision) ExtractLocation(context.Context, string, string) (*models.LocationData, error) {
	if f.location == nil {
		return nil, fmt.Errorf("no location")
	}
	return f.location, nil
}

func (f *fakeVision) DescribeImage(context.Context, string, string) (*models.ImageAnalysis, error) {
	if f.image == nil {
		return nil, fmt.Errorf("no description")
	}
	return f.image, nil
}

type fakeEmbedder struct{ err error }

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, 8)
		vec[0] = 1
		vectors[i] = vec
	}
	return vectors, nil
}

type fakeSearcher struct{ queries []string }

func (f *fakeSearcher) Search(_ context.Context, query string, _ int) ([]models.SearchResult, error) {
	f.queries = append(f.queries, query)
	return []models.SearchResult{{Title: "result for " + query, URL: "https://gov.example/" + query, Content: "details", Score: 0.9}}, nil
}

type fakeIndex struct{}

func (fakeIndex) Upsert(context.Context, []vectorindex.Vector) error { return nil }

func (fakeIndex) Query(context.Context, []float32, int, map[string]any) ([]vectorindex.Match, error) {
	return []vectorindex.Match{
		{ID: "ref-1", Score: 0.92, Metadata: map[string]any{"text": "similar leakage case in ward 82"}},
	}, nil
}

type fakeGrievanceStore struct {
	saved     *services.AnalysisUpdate
	rejected  *models.ValidationResult
	saveErr   error
	rejectErr error
}

func (f *fakeGrievanceStore) SaveAnalysis(_ context.Context, update *services.AnalysisUpdate) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = update
	return nil
}

func (f *fakeGrievanceStore) SaveValidationRejection(_ context.Context, _ string, result *models.ValidationResult) error {
	if f.rejectErr != nil {
		return f.rejectErr
	}
	f.rejected = result
	return nil
}

// The production service must satisfy the handler's allocation interface.
var _ departmentAllocator = (*services.DepartmentService)(nil)

type fakeAllocator struct {
	dept  *services.Department
	query services.AllocationQuery
}

func (f *fakeAllocator) Allocate(_ context.Context, query services.AllocationQuery) (*services.Department, error) {
	f.query = query
	return f.dept, nil
}

type fakeTransport struct {
	sent map[string][][]byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{sent: make(map[string][][]byte)}
}

func (f *fakeTransport) Send(_ context.Context, queueName string, body []byte) error {
	f.sent[queueName] = append(f.sent[queueName], body)
	return nil
}

func (f *fakeTransport) Receive(context.Context, string) (*queue.Delivery, error) {
	return nil, queue.ErrNoMessages
}

func (f *fakeTransport) Depth(context.Context, string) (int, error) { return 0, nil }
func (f *fakeTransport) Close() error                               { return nil }

type fixture struct {
	handler   *Handler
	store     *fakeGrievanceStore
	allocator *fakeAllocator
	blobs     *blob.MemoryStore
	transport *fakeTransport
	searcher  *fakeSearcher
}

func newFixture(vision *fakeVision) *fixture {
	lat, lon := 12.97, 77.59
	f := &fixture{
		store: &fakeGrievanceStore{},
		allocator: &fakeAllocator{dept: &services.Department{
			ID:           "dept-7",
			Name:         "Water Supply Board",
			Jurisdiction: "Bengaluru",
			Latitude:     &lat,
			Longitude:    &lon,
		}},
		blobs:     blob.NewMemoryStore(),
		transport: newFakeTransport(),
		searcher:  &fakeSearcher{},
	}
	f.handler = NewHandler(
		&fakeText{}, vision, &fakeEmbedder{}, f.searcher, fakeIndex{},
		f.store, f.allocator, f.blobs, NopRenderer{},
		f.transport, "webcrawler",
	)
	return f
}

func encodePayload(t *testing.T, msg models.GrievanceMessage) []byte {
	t.Helper()
	body, err := queue.Encode(msg)
	require.NoError(t, err)
	payload, err := queue.Decode(body)
	require.NoError(t, err)
	return payload
}

func validVision() *fakeVision {
	lat, lon := 12.9716, 77.5946
	return &fakeVision{
		verdict: &models.ValidationResult{IsValid: true, Score: 0.9, Reasoning: "pothole visible", Confidence: "high"},
		location: &models.LocationData{
			Address:    "5th Cross, Indiranagar, Bengaluru",
			Latitude:   &lat,
			Longitude:  &lon,
			Landmarks:  []string{"metro station"},
			AreaType:   "residential",
			Confidence: models.ConfidenceHigh,
		},
		image: &models.ImageAnalysis{
			Description:   "Water gushing from a broken pipe beside the road.",
			ExtractedText: "Ward 82",
		},
	}
}

func TestHandlerFullPipeline(t *testing.T) {
	f := newFixture(validVision())

	outcome := f.handler.Handle(context.Background(), encodePayload(t, models.GrievanceMessage{
		GrievanceID:   "grv-100",
		CitizenID:     "cit-5",
		GrievanceText: "Water pipe burst flooding the street near my house.",
		ImagePath:     "https://blob/images/grv-100.jpg",
		CurrentStatus: models.StatusQueryAnalyst,
	}))

	require.Equal(t, models.OutcomeSuccess, outcome.Kind, "outcome: %+v", outcome)

	saved := f.store.saved
	require.NotNil(t, saved)
	assert.Equal(t, "grv-100", saved.RowID)
	assert.Equal(t, "high", saved.Priority)
	assert.Equal(t, "water_supply", saved.Category["main_category"])
	require.NotNil(t, saved.DepartmentID)
	assert.Equal(t, "dept-7", *saved.DepartmentID)
	require.NotNil(t, saved.Zone)
	assert.Equal(t, "East", *saved.Zone)
	assert.Equal(t, models.ValidationValidated, saved.ValidationStatus)
	assert.Len(t, saved.Embedding, 8)
	assert.Contains(t, saved.EnhancedQuery, "Water gushing from a broken pipe")
	assert.Contains(t, saved.EnhancedQuery, "Indiranagar")

	// Allocation received the image coordinates and classifier hints.
	require.NotNil(t, f.allocator.query.Latitude)
	assert.InDelta(t, 12.9716, *f.allocator.query.Latitude, 1e-6)
	assert.Equal(t, "Bengaluru Urban", f.allocator.query.LocationHint)

	// Search used the policy queries plus contextualized variants, capped at 6.
	assert.GreaterOrEqual(t, len(f.searcher.queries), 3)
	assert.LessOrEqual(t, len(f.searcher.queries), 6)
	assert.Contains(t, f.searcher.queries[0], "water supply scheme")

	// Report artifacts landed under the grievance prefix.
	report, err := f.blobs.Download(context.Background(), "griviences/grv-100/grievance_report.md")
	require.NoError(t, err)
	assert.Contains(t, string(report), "Grievance Report")
	_, err = f.blobs.Download(context.Background(), "griviences/grv-100/grievance_analysis_final.json")
	require.NoError(t, err)

	// Downstream message sent to the crawler queue after persistence.
	require.Len(t, f.transport.sent["webcrawler"], 1)
	payload, err := queue.Decode(f.transport.sent["webcrawler"][0])
	require.NoError(t, err)
	var emitted models.AnalysisCompleteMessage
	require.NoError(t, json.Unmarshal(payload, &emitted))
	assert.Equal(t, "grv-100", emitted.GrievanceID)
	assert.Equal(t, models.StatusWebCrawling, emitted.CurrentStatus)
	assert.NotEmpty(t, emitted.PolicySearchQueries)
	assert.Equal(t, []string{"https://blob/images/grv-100.jpg"}, emitted.FileURLs)
}

func TestHandlerRejectedImageTerminates(t *testing.T) {
	vision := validVision()
	vision.verdict = &models.ValidationResult{
		IsValid:    false,
		Score:      0.1,
		Reasoning:  "image shows a restaurant menu, not a civic issue",
		Confidence: "high",
	}
	f := newFixture(vision)

	outcome := f.handler.Handle(context.Background(), encodePayload(t, models.GrievanceMessage{
		GrievanceID:   "grv-101",
		GrievanceText: "Garbage not collected for two weeks.",
		ImagePath:     "https://blob/images/grv-101.jpg",
		CurrentStatus: models.StatusQueryAnalyst,
	}))

	assert.Equal(t, models.OutcomeBusinessFailure, outcome.Kind)
	require.NotNil(t, f.store.rejected)
	assert.Contains(t, f.store.rejected.Reasoning, "restaurant menu")
	assert.Nil(t, f.store.saved)
	assert.Empty(t, f.transport.sent, "rejected grievances must not go downstream")
}

func TestHandlerNoImageSkipsVision(t *testing.T) {
	f := newFixture(&fakeVision{err: fmt.Errorf("vision must not be called")})

	outcome := f.handler.Handle(context.Background(), encodePayload(t, models.GrievanceMessage{
		GrievanceID:   "grv-102",
		GrievanceText: "Street light broken on MG Road for a month.",
		CurrentStatus: models.StatusQueryAnalyst,
	}))

	require.Equal(t, models.OutcomeSuccess, outcome.Kind, "outcome: %+v", outcome)
	require.NotNil(t, f.store.saved)
	assert.Equal(t, models.ValidationNoImage, f.store.saved.ValidationStatus)
	assert.Equal(t, models.ConfidenceNone, f.store.saved.Location.Confidence)
}

func TestHandlerVisionOutageFailsOpen(t *testing.T) {
	f := newFixture(&fakeVision{err: fmt.Errorf("503 from vision provider")})

	outcome := f.handler.Handle(context.Background(), encodePayload(t, models.GrievanceMessage{
		GrievanceID:   "grv-103",
		GrievanceText: "Open manhole on the footpath.",
		ImagePath:     "https://blob/images/grv-103.jpg",
		CurrentStatus: models.StatusQueryAnalyst,
	}))

	require.Equal(t, models.OutcomeSuccess, outcome.Kind)
	require.NotNil(t, f.store.saved)
	assert.Len(t, f.transport.sent["webcrawler"], 1)
}

func TestHandlerEmbeddingFailureIsTransient(t *testing.T) {
	f := newFixture(validVision())
	f.handler.embedder = &fakeEmbedder{err: fmt.Errorf("embedding service down")}

	outcome := f.handler.Handle(context.Background(), encodePayload(t, models.GrievanceMessage{
		GrievanceID:   "grv-104",
		GrievanceText: "Drainage overflow in the market area.",
		ImagePath:     "https://blob/images/grv-104.jpg",
	}))

	assert.Equal(t, models.OutcomeTransient, outcome.Kind)
	assert.Empty(t, f.transport.sent)
}

func TestHandlerPersistenceFailureIsTransient(t *testing.T) {
	f := newFixture(validVision())
	f.store.saveErr = fmt.Errorf("connection reset")

	outcome := f.handler.Handle(context.Background(), encodePayload(t, models.GrievanceMessage{
		GrievanceID:   "grv-105",
		GrievanceText: "Illegal dumping beside the lake.",
	}))

	assert.Equal(t, models.OutcomeTransient, outcome.Kind)
	assert.Empty(t, f.transport.sent, "nothing goes downstream when persistence fails")
}

func TestHandlerRejectsEmptyMessage(t *testing.T) {
	f := newFixture(validVision())

	outcome := f.handler.Handle(context.Background(), encodePayload(t, models.GrievanceMessage{
		GrievanceID: "grv-106",
	}))

	assert.Equal(t, models.OutcomeBusinessFailure, outcome.Kind)
}
