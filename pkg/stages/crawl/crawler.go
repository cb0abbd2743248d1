package crawl

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/civicgrid/grievance-pipeline/pkg/config"
)

// fetchResult pairs one attempted URL with its outcome.
type fetchResult struct {
	url   string
	page  *Page
	links []string
	err   error
}

// Crawler walks a site breadth-first from a start URL, staying on the start
// host and stopping at the configured page cap.
type Crawler struct {
	fetcher Fetcher
	cfg     *config.CrawlerConfig
	logger  *slog.Logger
}

// NewCrawler creates a crawler over the given fetcher.
func NewCrawler(fetcher Fetcher, cfg *config.CrawlerConfig) *Crawler {
	return &Crawler{
		fetcher: fetcher,
		cfg:     cfg,
		logger:  slog.With("component", "crawler"),
	}
}

// Crawl fetches pages starting at startURL, invoking onPage for each
// successfully fetched page before the next batch starts. Pages that fail to
// fetch are logged and skipped. Returns the number of pages delivered to
// onPage; a context error ends the crawl early but is not returned when at
// least one page was delivered, so partial results still count.
func (c *Crawler) Crawl(ctx context.Context, startURL string, onPage func(page *Page) error) (int, error) {
	base, err := url.Parse(startURL)
	if err != nil || base.Host == "" {
		return 0, &url.Error{Op: "crawl", URL: startURL, Err: err}
	}

	visited := map[string]bool{startURL: true}
	frontier := []string{startURL}
	delivered := 0

	for len(frontier) > 0 && delivered < c.cfg.MaxPagesPerJob {
		if err := ctx.Err(); err != nil {
			if delivered > 0 {
				c.logger.Warn("Crawl cut short, keeping partial results",
					"url", startURL,
					"pages", delivered)
				return delivered, nil
			}
			return 0, err
		}

		batchSize := c.cfg.BatchSize
		if remaining := c.cfg.MaxPagesPerJob - delivered; batchSize > remaining {
			batchSize = remaining
		}
		if batchSize > len(frontier) {
			batchSize = len(frontier)
		}
		batch := frontier[:batchSize]
		frontier = frontier[batchSize:]

		results := c.fetchBatch(ctx, base, batch)
		for idx, result := range results {
			if result.err != nil {
				c.logger.Warn("Page fetch failed, skipping",
					"url", result.url,
					"error", result.err)
				continue
			}
			if err := onPage(result.page); err != nil {
				closeBatchBodies(results[idx:])
				return delivered, err
			}
			_ = result.page.Body.Close()
			delivered++
			for _, link := range result.links {
				if !visited[link] {
					visited[link] = true
					frontier = append(frontier, link)
				}
			}
		}
	}
	return delivered, nil
}

// closeBatchBodies releases the bodies of every fetched page in results,
// including the one whose onPage callback just failed. Spilled bodies hold a
// temp file until closed.
func closeBatchBodies(results []fetchResult) {
	for _, result := range results {
		if result.err == nil && result.page != nil && result.page.Body != nil {
			_ = result.page.Body.Close()
		}
	}
}

// fetchBatch fetches the batch URLs in parallel and returns results in batch
// order so onPage ordering stays deterministic.
func (c *Crawler) fetchBatch(ctx context.Context, base *url.URL, batch []string) []fetchResult {
	results := make([]fetchResult, len(batch))
	var wg sync.WaitGroup
	for i, pageURL := range batch {
		wg.Add(1)
		go func(i int, pageURL string) {
			defer wg.Done()
			page, err := c.fetcher.Fetch(ctx, pageURL)
			if err != nil {
				results[i] = fetchResult{url: pageURL, err: err}
				return
			}
			var links []string
			if isHTML(page.ContentType) {
				if body, err := page.Body.Bytes(); err == nil {
					links = ExtractLinks(base, body)
				}
			}
			results[i] = fetchResult{url: pageURL, page: page, links: links}
		}(i, pageURL)
	}
	wg.Wait()
	return results
}

func isHTML(contentType string) bool {
	return strings.Contains(contentType, "text/html") ||
		strings.Contains(contentType, "application/xhtml")
}

// IsPDF reports whether the page should be treated as a PDF document, by
// content type or by URL extension.
func IsPDF(pageURL, contentType string) bool {
	if strings.Contains(contentType, "application/pdf") {
		return true
	}
	u, err := url.Parse(pageURL)
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.ToLower(u.Path), ".pdf")
}
