package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicgrid/grievance-pipeline/pkg/config"
)

// fakeOpenAI serves the two endpoints the client uses, with canned bodies.
func fakeOpenAI(t *testing.T, chatContent string, embeddingDim int, embedCalls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/chat/completions":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":     "cmpl-1",
				"object": "chat.completion",
				"choices": []map[string]any{
					{
						"index":         0,
						"message":       map[string]any{"role": "assistant", "content": chatContent},
						"finish_reason": "stop",
					},
				},
			})
		case "/embeddings":
			if embedCalls != nil {
				embedCalls.Add(1)
			}
			var req struct {
				Input []string `json:"input"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			data := make([]map[string]any, len(req.Input))
			for i := range req.Input {
				vec := make([]float32, embeddingDim)
				vec[0] = float32(i + 1)
				data[i] = map[string]any{"object": "embedding", "index": i, "embedding": vec}
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func testConfigs(serverURL string, dim, batch int) (*config.AnalyzerConfig, *config.EmbeddingConfig) {
	return &config.AnalyzerConfig{
			APIKey:      "test-key",
			BaseURL:     serverURL,
			Model:       "test-model",
			VisionModel: "test-vision",
			CallTimeout: 10 * time.Second,
		}, &config.EmbeddingConfig{
			Model:     "test-embed",
			Dimension: dim,
			BatchSize: batch,
		}
}

func TestLLMClientAnalyze(t *testing.T) {
	server := fakeOpenAI(t, "the verdict", 3, nil)
	defer server.Close()

	client, err := NewLLMClient(testConfigs(server.URL, 3, 2))
	require.NoError(t, err)

	completion, err := client.Analyze(context.Background(), "classify this")
	require.NoError(t, err)
	assert.Equal(t, "the verdict", completion)
}

func TestLLMClientEmbedBatches(t *testing.T) {
	var calls atomic.Int32
	server := fakeOpenAI(t, "", 3, &calls)
	defer server.Close()

	client, err := NewLLMClient(testConfigs(server.URL, 3, 2))
	require.NoError(t, err)

	vectors, err := client.Embed(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	for _, vec := range vectors {
		assert.Len(t, vec, 3)
	}
	assert.Equal(t, int32(2), calls.Load(), "3 texts with batch size 2 should take two calls")
}

func TestLLMClientEmbedRejectsWrongDimension(t *testing.T) {
	server := fakeOpenAI(t, "", 5, nil)
	defer server.Close()

	client, err := NewLLMClient(testConfigs(server.URL, 3, 2))
	require.NoError(t, err)

	_, err = client.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension")
}

func TestLLMClientEmbedEmpty(t *testing.T) {
	client, err := NewLLMClient(testConfigs("http://unused.invalid", 3, 2))
	require.NoError(t, err)

	vectors, err := client.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
}

func TestLLMClientValidateImage(t *testing.T) {
	verdict := `{"is_valid": true, "score": 87, "reasoning": "pothole visible", "confidence": "high"}`
	server := fakeOpenAI(t, verdict, 3, nil)
	defer server.Close()

	client, err := NewLLMClient(testConfigs(server.URL, 3, 2))
	require.NoError(t, err)

	result, err := client.ValidateImage(context.Background(), "https://blob/img.jpg", "pothole on main road")
	require.NoError(t, err)
	assert.True(t, result.IsValid)
	assert.InDelta(t, 87, result.Score, 1e-9)
	assert.Equal(t, "high", result.Confidence)
}

func TestParseJSONObject(t *testing.T) {
	type verdict struct {
		Valid bool   `json:"valid"`
		Note  string `json:"note"`
	}

	tests := []struct {
		name    string
		input   string
		want    verdict
		wantErr bool
	}{
		{"bare object", `{"valid": true, "note": "ok"}`, verdict{true, "ok"}, false},
		{"fenced", "```json\n{\"valid\": true, \"note\": \"ok\"}\n```", verdict{true, "ok"}, false},
		{"prose wrapped", `Here is the result: {"valid": false, "note": "no"} hope that helps`, verdict{false, "no"}, false},
		{"no object", "I cannot answer that.", verdict{}, true},
		{"broken json", `{"valid": `, verdict{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got verdict
			err := ParseJSONObject(tt.input, &got)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDocExtractorRejectsGarbage(t *testing.T) {
	extractor := NewDocExtractor()
	data := []byte("not a pdf at all")
	_, err := extractor.Extract(context.Background(), bytes.NewReader(data), int64(len(data)))
	assert.Error(t, err)
}

func TestDocExtractorHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	extractor := NewDocExtractor()
	data := []byte("%PDF-1.4")
	_, err := extractor.Extract(ctx, bytes.NewReader(data), int64(len(data)))
	assert.ErrorIs(t, err, context.Canceled)
}
