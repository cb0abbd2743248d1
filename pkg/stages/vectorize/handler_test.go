package vectorize

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicgrid/grievance-pipeline/pkg/blob"
	"github.com/civicgrid/grievance-pipeline/pkg/config"
	"github.com/civicgrid/grievance-pipeline/pkg/models"
	"github.com/civicgrid/grievance-pipeline/pkg/queue"
	"github.com/civicgrid/grievance-pipeline/pkg/vectorindex"
)

type fakeEmbedder struct {
	dimension int
	calls     int
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, f.dimension)
		vec[0] = float32(len(texts[i]))
		vectors[i] = vec
	}
	return vectors, nil
}

type fakeIndex struct {
	upserted []vectorindex.Vector
}

func (f *fakeIndex) Upsert(_ context.Context, vectors []vectorindex.Vector) error {
	f.upserted = append(f.upserted, vectors...)
	return nil
}

func (f *fakeIndex) Query(_ context.Context, _ []float32, _ int, _ map[string]any) ([]vectorindex.Match, error) {
	return nil, nil
}

func newTestHandler(store blob.Store) (*Handler, *fakeIndex) {
	index := &fakeIndex{}
	cfg := &config.EmbeddingConfig{Dimension: 8, BatchSize: 16, ChunkSize: 100, ChunkOverlap: 20}
	return NewHandler(store, &fakeEmbedder{dimension: 8}, index, cfg), index
}

func encode(t *testing.T, msg models.EmbeddingsMessage) []byte {
	t.Helper()
	body, err := queue.Encode(msg)
	require.NoError(t, err)
	payload, err := queue.Decode(body)
	require.NoError(t, err)
	return payload
}

func TestSplitText(t *testing.T) {
	t.Run("overlapping chunks", func(t *testing.T) {
		text := strings.Repeat("a", 250)
		chunks := SplitText(text, 100, 20)
		require.Len(t, chunks, 3)
		assert.Len(t, chunks[0], 100)
		assert.Len(t, chunks[1], 100)
		// Final chunk: 250 - 2*(100-20) = 90 remaining.
		assert.Len(t, chunks[2], 90)
	})

	t.Run("whitespace chunks dropped", func(t *testing.T) {
		text := strings.Repeat("b", 100) + strings.Repeat(" ", 200) + "tail"
		chunks := SplitText(text, 100, 0)
		for _, chunk := range chunks {
			assert.NotEmpty(t, strings.TrimSpace(chunk))
		}
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, SplitText("   ", 100, 20))
		assert.Empty(t, SplitText("", 100, 20))
	})
}

func TestHandlerIndexesFolder(t *testing.T) {
	store := blob.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Upload(ctx, "crawled-content/example.gov/index.txt",
		[]byte(strings.Repeat("water supply scheme details ", 20)), "text/plain"))
	require.NoError(t, store.Upload(ctx, "crawled-content/example.gov/skipped.png",
		[]byte("binary"), "image/png"))

	handler, index := newTestHandler(store)
	outcome := handler.Handle(ctx, encode(t, models.EmbeddingsMessage{
		JobID:      "job-1",
		URL:        "https://example.gov",
		BlobFolder: "example.gov",
		Status:     models.StatusScraped,
	}))

	assert.Equal(t, models.OutcomeSuccess, outcome.Kind)
	require.NotEmpty(t, index.upserted)
	first := index.upserted[0]
	assert.Equal(t, "job-1_index_txt_0", first.ID)
	assert.Equal(t, "example.gov", first.Metadata["blob_folder"])
	assert.Equal(t, 0, first.Metadata["chunk_index"])
	assert.Equal(t, len(index.upserted), first.Metadata["total_chunks"])
	assert.NotEmpty(t, first.Metadata["text"])
}

func TestHandlerAcceptsLegacyFolderLayout(t *testing.T) {
	store := blob.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Upload(ctx, "example.gov/page.txt",
		[]byte("legacy layout content with enough text to chunk"), "text/plain"))

	handler, index := newTestHandler(store)
	outcome := handler.Handle(ctx, encode(t, models.EmbeddingsMessage{
		JobID:      "job-2",
		BlobFolder: "example.gov",
		Status:     models.StatusScraped,
	}))

	assert.Equal(t, models.OutcomeSuccess, outcome.Kind)
	assert.NotEmpty(t, index.upserted)
}

func TestHandlerEmptyFolderIsSuccess(t *testing.T) {
	handler, index := newTestHandler(blob.NewMemoryStore())

	outcome := handler.Handle(context.Background(), encode(t, models.EmbeddingsMessage{
		JobID:      "job-3",
		BlobFolder: "empty.gov",
		Status:     models.StatusScraped,
	}))

	assert.Equal(t, models.OutcomeSuccess, outcome.Kind)
	assert.Empty(t, index.upserted)
}

func TestHandlerRejectsMissingFolder(t *testing.T) {
	handler, _ := newTestHandler(blob.NewMemoryStore())

	outcome := handler.Handle(context.Background(), encode(t, models.EmbeddingsMessage{
		JobID:  "job-4",
		Status: models.StatusScraped,
	}))

	assert.Equal(t, models.OutcomeBusinessFailure, outcome.Kind)
}
