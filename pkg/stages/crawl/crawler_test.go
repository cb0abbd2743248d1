package crawl

import (
	"context"
	"errors"
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicgrid/grievance-pipeline/pkg/config"
)

func crawlAll(t *testing.T, fetcher Fetcher, cfg *config.CrawlerConfig, start string) []string {
	t.Helper()
	crawler := NewCrawler(fetcher, cfg)
	var visited []string
	count, err := crawler.Crawl(context.Background(), start, func(page *Page) error {
		visited = append(visited, page.URL)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, len(visited), count)
	return visited
}

func TestCrawlerStaysOnHost(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]fakePage{
		"https://example.gov": {
			body:        htmlPage("Home", richParagraph, "/a", "https://other.example.com/x"),
			contentType: "text/html",
		},
		"https://example.gov/a": {
			body:        htmlPage("A", richParagraph),
			contentType: "text/html",
		},
		"https://other.example.com/x": {
			body:        htmlPage("Off-site", richParagraph),
			contentType: "text/html",
		},
	}}

	visited := crawlAll(t, fetcher, config.DefaultCrawlerConfig(), "https://example.gov")
	assert.Equal(t, []string{"https://example.gov", "https://example.gov/a"}, visited)
}

func TestCrawlerHonorsPageCap(t *testing.T) {
	pages := map[string]fakePage{
		"https://example.gov": {
			body:        htmlPage("Home", richParagraph, "/p1", "/p2", "/p3", "/p4", "/p5"),
			contentType: "text/html",
		},
	}
	for _, p := range []string{"/p1", "/p2", "/p3", "/p4", "/p5"} {
		pages["https://example.gov"+p] = fakePage{
			body:        htmlPage("Page", richParagraph),
			contentType: "text/html",
		}
	}

	cfg := config.DefaultCrawlerConfig()
	cfg.MaxPagesPerJob = 3
	cfg.BatchSize = 2
	visited := crawlAll(t, &fakeFetcher{pages: pages}, cfg, "https://example.gov")
	assert.Len(t, visited, 3)
}

func TestCrawlerSkipsFailedPages(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]fakePage{
		"https://example.gov": {
			body:        htmlPage("Home", richParagraph, "/missing", "/ok"),
			contentType: "text/html",
		},
		"https://example.gov/ok": {
			body:        htmlPage("OK", richParagraph),
			contentType: "text/html",
		},
	}}

	visited := crawlAll(t, fetcher, config.DefaultCrawlerConfig(), "https://example.gov")
	assert.Equal(t, []string{"https://example.gov", "https://example.gov/ok"}, visited)
}

func TestCrawlerClosesRemainingBodiesOnCallbackError(t *testing.T) {
	pages := map[string]fakePage{
		"https://example.gov": {
			body:        htmlPage("Home", richParagraph, "/p1", "/p2"),
			contentType: "text/html",
		},
		"https://example.gov/p1": {
			body:        htmlPage("P1", richParagraph),
			contentType: "text/html",
		},
		"https://example.gov/p2": {
			body:        htmlPage("P2", richParagraph),
			contentType: "text/html",
		},
	}

	cfg := config.DefaultCrawlerConfig()
	cfg.BatchSize = 3
	crawler := NewCrawler(&fakeFetcher{pages: pages}, cfg)

	failOn := "https://example.gov/p1"
	count, err := crawler.Crawl(context.Background(), "https://example.gov", func(page *Page) error {
		if page.URL == failOn {
			return errors.New("upload failed")
		}
		return nil
	})
	assert.Error(t, err)
	assert.Equal(t, 1, count)
}

func TestCloseBatchBodiesReleasesSpilledFiles(t *testing.T) {
	big := strings.Repeat("x", spillThreshold+1)
	body, err := NewBody(strings.NewReader(big))
	require.NoError(t, err)
	require.NotNil(t, body.file, "a body past the threshold spills to disk")
	name := body.file.Name()

	closeBatchBodies([]fetchResult{
		{url: "https://example.gov/gone", err: errors.New("fetch failed")},
		{url: "https://example.gov/kept", page: &Page{URL: "https://example.gov/kept", Body: body}},
	})

	_, statErr := os.Stat(name)
	assert.True(t, os.IsNotExist(statErr), "spill file must be removed on close")
}

func TestCrawlerRejectsInvalidStartURL(t *testing.T) {
	crawler := NewCrawler(&fakeFetcher{}, config.DefaultCrawlerConfig())
	_, err := crawler.Crawl(context.Background(), "not-a-url", func(*Page) error { return nil })
	assert.Error(t, err)
}

func TestExtractLinksResolvesAndDedupes(t *testing.T) {
	base, err := url.Parse("https://example.gov/dept/")
	require.NoError(t, err)

	document := []byte(`<html><body>
		<a href="page.html">rel</a>
		<a href="/root.html">abs</a>
		<a href="page.html#section">frag</a>
		<a href="mailto:someone@example.gov">mail</a>
		<a href="https://elsewhere.example.net/">off</a>
	</body></html>`)

	links := ExtractLinks(base, document)
	assert.Equal(t, []string{
		"https://example.gov/dept/page.html",
		"https://example.gov/root.html",
	}, links)
}

func TestExtractTextSkipsBoilerplateElements(t *testing.T) {
	document := []byte(`<html><head><title>Dept Page</title><style>.x{}</style></head>
		<body><nav>Home About</nav><p>` + richParagraph + `</p>
		<script>var x = 1;</script><footer>Copyright</footer></body></html>`)

	title, text := ExtractText(document)
	assert.Equal(t, "Dept Page", title)
	assert.Contains(t, text, "water supply scheme")
	assert.NotContains(t, text, "var x")
	assert.NotContains(t, text, "Copyright")
	assert.NotContains(t, text, "Home About")
}
