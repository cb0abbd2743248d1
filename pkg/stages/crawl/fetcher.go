// Package crawl implements the Crawler stage: one URL per message, producing
// cleaned text artifacts in blob storage and one embeddings message.
package crawl

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// spillThreshold is how much of a download is held in memory before the
// remainder spills to a temp file.
const spillThreshold = 8 << 20

// maxDownloadSize caps any single download.
const maxDownloadSize = 100 << 20

// Page is one fetched document.
type Page struct {
	URL         string
	ContentType string
	Body        *Body
}

// Fetcher retrieves one URL. Implementations must honor the context.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}

// Body holds a download, in memory up to spillThreshold and in a temp file
// beyond it. Close releases the temp file on every path.
type Body struct {
	data []byte
	file *os.File
	size int64
}

// NewBody drains r into a Body, spilling past the memory threshold.
func NewBody(r io.Reader) (*Body, error) {
	limited := io.LimitReader(r, maxDownloadSize+1)

	head := make([]byte, spillThreshold)
	n, err := io.ReadFull(limited, head)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return &Body{data: head[:n], size: int64(n)}, nil
	}
	if err != nil {
		return nil, err
	}

	file, err := os.CreateTemp("", "crawl-*.download")
	if err != nil {
		return nil, fmt.Errorf("failed to create spill file: %w", err)
	}
	cleanup := func() {
		_ = file.Close()
		_ = os.Remove(file.Name())
	}

	written, err := io.Copy(file, io.MultiReader(bytes.NewReader(head), limited))
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to spill download: %w", err)
	}
	if written > maxDownloadSize {
		cleanup()
		return nil, fmt.Errorf("download exceeds %d bytes", maxDownloadSize)
	}
	return &Body{file: file, size: written}, nil
}

// Size returns the body length in bytes.
func (b *Body) Size() int64 { return b.size }

// ReaderAt exposes the body for random access (PDF parsing).
func (b *Body) ReaderAt() io.ReaderAt {
	if b.file != nil {
		return b.file
	}
	return bytes.NewReader(b.data)
}

// Bytes returns the whole body in memory. Spilled bodies are read back from
// the temp file.
func (b *Body) Bytes() ([]byte, error) {
	if b.file == nil {
		return b.data, nil
	}
	data := make([]byte, b.size)
	if _, err := b.file.ReadAt(data, 0); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read spill file: %w", err)
	}
	return data, nil
}

// Close removes the temp file if the body spilled.
func (b *Body) Close() error {
	if b.file == nil {
		return nil
	}
	name := b.file.Name()
	err := b.file.Close()
	if removeErr := os.Remove(name); err == nil {
		err = removeErr
	}
	b.file = nil
	return err
}

// HTTPFetcher fetches pages over HTTP with a per-page timeout.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher creates a fetcher with the given per-page timeout.
func NewHTTPFetcher(pageTimeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{Timeout: pageTimeout},
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", url, err)
	}
	req.Header.Set("User-Agent", "grievance-pipeline-crawler/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch of %s returned %d", url, resp.StatusCode)
	}

	body, err := NewBody(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", url, err)
	}
	return &Page{
		URL:         url,
		ContentType: strings.ToLower(resp.Header.Get("Content-Type")),
		Body:        body,
	}, nil
}
