package queue

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicgrid/grievance-pipeline/pkg/config"
	"github.com/civicgrid/grievance-pipeline/pkg/models"
)

// fakeTransport is an in-memory Transport for runner tests.
type fakeTransport struct {
	mu     sync.Mutex
	queues map[string][][]byte
	acked  int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{queues: make(map[string][][]byte)}
}

func (f *fakeTransport) Send(_ context.Context, queueName string, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues[queueName] = append(f.queues[queueName], body)
	return nil
}

func (f *fakeTransport) Receive(_ context.Context, queueName string) (*Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := f.queues[queueName]
	if len(q) == 0 {
		return nil, ErrNoMessages
	}
	body := q[0]
	f.queues[queueName] = q[1:]
	return &Delivery{
		Body: body,
		ack: func() error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.acked++
			return nil
		},
	}, nil
}

func (f *fakeTransport) Depth(_ context.Context, queueName string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queues[queueName]), nil
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) ackCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acked
}

// recordingHandler records payloads and returns a configured outcome.
type recordingHandler struct {
	mu       sync.Mutex
	name     string
	statuses []string
	outcome  models.Outcome
	payloads [][]byte
}

func (h *recordingHandler) Name() string            { return h.name }
func (h *recordingHandler) OwnedStatuses() []string { return h.statuses }

func (h *recordingHandler) Handle(_ context.Context, payload []byte) models.Outcome {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.payloads = append(h.payloads, payload)
	return h.outcome
}

func (h *recordingHandler) handled() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.payloads)
}

func testQueueConfig() *config.QueueConfig {
	cfg := config.DefaultQueueConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.VisibilityTimeout = time.Second
	cfg.GracefulShutdownTimeout = time.Second
	return cfg
}

func TestRunnerProcessesAndAcks(t *testing.T) {
	transport := newFakeTransport()
	handler := &recordingHandler{name: "crawler", statuses: []string{models.StatusWebCrawling}, outcome: models.Success()}
	runner := NewRunner(transport, "webcrawler", handler, testQueueConfig())

	body, err := Encode(models.CrawlMessage{JobID: "j1", URL: "https://example.gov", CurrentStatus: models.StatusWebCrawling})
	require.NoError(t, err)
	require.NoError(t, transport.Send(context.Background(), "webcrawler", body))

	require.NoError(t, runner.RunOnce(context.Background()))

	assert.Equal(t, 1, handler.handled())
	assert.Equal(t, 1, transport.ackCount())
}

func TestRunnerQuarantinesPoisonMessages(t *testing.T) {
	transport := newFakeTransport()
	handler := &recordingHandler{name: "crawler", outcome: models.Success()}
	runner := NewRunner(transport, "webcrawler", handler, testQueueConfig())

	// Malformed: not base64 at all.
	require.NoError(t, transport.Send(context.Background(), "webcrawler", []byte("not-a-message")))

	require.NoError(t, runner.RunOnce(context.Background()))

	// Exactly one delete, zero handler invocations, no redelivery.
	assert.Equal(t, 0, handler.handled())
	assert.Equal(t, 1, transport.ackCount())
	depth, _ := transport.Depth(context.Background(), "webcrawler")
	assert.Equal(t, 0, depth)
}

func TestRunnerDeletesMisroutedMessages(t *testing.T) {
	transport := newFakeTransport()
	handler := &recordingHandler{name: "vectordb", statuses: []string{models.StatusScraped}, outcome: models.Success()}
	runner := NewRunner(transport, "embeddings", handler, testQueueConfig())

	body, err := Encode(models.CrawlMessage{JobID: "j1", CurrentStatus: models.StatusWebCrawling})
	require.NoError(t, err)
	require.NoError(t, transport.Send(context.Background(), "embeddings", body))

	require.NoError(t, runner.RunOnce(context.Background()))

	assert.Equal(t, 0, handler.handled(), "misrouted message must not reach the handler")
	assert.Equal(t, 1, transport.ackCount())
}

func TestRunnerAcksBusinessFailures(t *testing.T) {
	transport := newFakeTransport()
	handler := &recordingHandler{name: "queryanalyst", outcome: models.BusinessFailure("image validation rejected")}
	runner := NewRunner(transport, "grievances", handler, testQueueConfig())

	body, err := Encode(models.GrievanceMessage{GrievanceID: "G-1", GrievanceText: "broken streetlight"})
	require.NoError(t, err)
	require.NoError(t, transport.Send(context.Background(), "grievances", body))

	require.NoError(t, runner.RunOnce(context.Background()))

	assert.Equal(t, 1, handler.handled())
	assert.Equal(t, 1, transport.ackCount())
	depth, _ := transport.Depth(context.Background(), "grievances")
	assert.Equal(t, 0, depth, "rejected message is acked, not retried")
}

func TestRunnerLegacyPayloadAccepted(t *testing.T) {
	transport := newFakeTransport()
	handler := &recordingHandler{name: "vectordb", statuses: []string{models.StatusScraped}, outcome: models.Success()}
	runner := NewRunner(transport, "embeddings", handler, testQueueConfig())

	raw := []byte(`{"job_id":"j2","url":"https://example.gov","blob_folder":"example.gov","status":"scraped"}`)
	body := []byte(base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, transport.Send(context.Background(), "embeddings", body))

	require.NoError(t, runner.RunOnce(context.Background()))
	assert.Equal(t, 1, handler.handled())
}

func TestRunnerStartStop(t *testing.T) {
	transport := newFakeTransport()
	handler := &recordingHandler{name: "crawler", outcome: models.Success()}
	runner := NewRunner(transport, "webcrawler", handler, testQueueConfig())

	body, err := Encode(models.CrawlMessage{JobID: "j1", CurrentStatus: models.StatusWebCrawling})
	require.NoError(t, err)
	require.NoError(t, transport.Send(context.Background(), "webcrawler", body))

	runner.Start(context.Background())

	require.Eventually(t, func() bool {
		return handler.handled() == 1
	}, 2*time.Second, 10*time.Millisecond)

	runner.Stop()
}

func TestPollIntervalJitterBounds(t *testing.T) {
	cfg := testQueueConfig()
	cfg.PollInterval = 4 * time.Second
	runner := NewRunner(newFakeTransport(), "q", &recordingHandler{name: "s"}, cfg)

	// ±25% of 4s: [3s, 5s).
	for range 100 {
		d := runner.pollInterval()
		assert.GreaterOrEqual(t, d, 3*time.Second)
		assert.Less(t, d, 5*time.Second)
	}
}
