package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/civicgrid/grievance-pipeline/pkg/config"
)

// HTTPIndex talks to a REST vector index (Pinecone-style API).
type HTTPIndex struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPIndex creates a client for the configured index endpoint.
func NewHTTPIndex(cfg *config.VectorIndexConfig) *HTTPIndex {
	return &HTTPIndex{
		baseURL: cfg.URL,
		apiKey:  cfg.APIKey,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type upsertRequest struct {
	Vectors []Vector `json:"vectors"`
}

type queryRequest struct {
	Vector          []float32      `json:"vector"`
	TopK            int            `json:"topK"`
	IncludeMetadata bool           `json:"includeMetadata"`
	Filter          map[string]any `json:"filter,omitempty"`
}

type queryResponse struct {
	Matches []Match `json:"matches"`
}

// Upsert writes vectors by id.
func (h *HTTPIndex) Upsert(ctx context.Context, vectors []Vector) error {
	if len(vectors) == 0 {
		return nil
	}
	return h.post(ctx, "/vectors/upsert", upsertRequest{Vectors: vectors}, nil)
}

// Query returns the topK nearest neighbors by cosine similarity.
func (h *HTTPIndex) Query(ctx context.Context, vector []float32, topK int, filter map[string]any) ([]Match, error) {
	var resp queryResponse
	err := h.post(ctx, "/query", queryRequest{
		Vector:          vector,
		TopK:            topK,
		IncludeMetadata: true,
		Filter:          filter,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Matches, nil
}

// post sends one JSON request with bounded retries on transport errors and
// 5xx responses.
func (h *HTTPIndex) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Api-Key", h.apiKey)

		resp, err := h.client.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("vector index returned %d: %s", resp.StatusCode, respBody)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("vector index rejected request with %d: %s", resp.StatusCode, respBody))
		}
		if out != nil {
			if err := json.Unmarshal(respBody, out); err != nil {
				return backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
			}
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return fmt.Errorf("vector index %s failed: %w", path, err)
	}
	return nil
}
