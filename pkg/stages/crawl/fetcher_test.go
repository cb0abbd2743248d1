package crawl

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPFetcherFetchesPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "grievance-pipeline")
		w.Header().Set("Content-Type", "text/HTML; charset=utf-8")
		_, _ = w.Write([]byte("<html><body>hello</body></html>"))
	}))
	defer server.Close()

	fetcher := NewHTTPFetcher(5 * time.Second)
	page, err := fetcher.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	defer func() { _ = page.Body.Close() }()

	assert.Equal(t, "text/html; charset=utf-8", page.ContentType)
	body, err := page.Body.Bytes()
	require.NoError(t, err)
	assert.Contains(t, string(body), "hello")
}

func TestHTTPFetcherRejectsNon200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	fetcher := NewHTTPFetcher(5 * time.Second)
	_, err := fetcher.Fetch(context.Background(), server.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestBodyInMemory(t *testing.T) {
	body, err := NewBody(strings.NewReader("small document"))
	require.NoError(t, err)
	assert.Equal(t, int64(14), body.Size())

	data, err := body.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "small document", string(data))

	buf := make([]byte, 5)
	_, err = body.ReaderAt().ReadAt(buf, 6)
	require.NoError(t, err)
	assert.Equal(t, "docum", string(buf))

	assert.NoError(t, body.Close())
	assert.NoError(t, body.Close())
}

func TestIsPDF(t *testing.T) {
	assert.True(t, IsPDF("https://example.gov/report.PDF", ""))
	assert.True(t, IsPDF("https://example.gov/doc", "application/pdf"))
	assert.False(t, IsPDF("https://example.gov/page.html", "text/html"))
}
