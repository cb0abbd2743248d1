package crawl

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/civicgrid/grievance-pipeline/pkg/analyzer"
	"github.com/civicgrid/grievance-pipeline/pkg/blob"
	"github.com/civicgrid/grievance-pipeline/pkg/config"
	"github.com/civicgrid/grievance-pipeline/pkg/models"
	"github.com/civicgrid/grievance-pipeline/pkg/queue"
)

// Handler consumes the webcrawler queue: one URL per message. HTML URLs are
// crawled same-origin up to the page cap; PDF URLs become a single text
// artifact. Every page uploads before the embeddings message is sent, so a
// redelivered message re-crawls into the same folder and converges.
type Handler struct {
	fetcher         Fetcher
	crawler         *Crawler
	store           blob.Store
	extractor       analyzer.PDFExtractor
	transport       queue.Transport
	embeddingsQueue string
	cfg             *config.CrawlerConfig
	logger          *slog.Logger
}

// NewHandler wires the Crawler stage.
func NewHandler(fetcher Fetcher, store blob.Store, extractor analyzer.PDFExtractor,
	transport queue.Transport, embeddingsQueue string, cfg *config.CrawlerConfig) *Handler {
	return &Handler{
		fetcher:         fetcher,
		crawler:         NewCrawler(fetcher, cfg),
		store:           store,
		extractor:       extractor,
		transport:       transport,
		embeddingsQueue: embeddingsQueue,
		cfg:             cfg,
		logger:          slog.With("stage", "crawler"),
	}
}

func (h *Handler) Name() string { return "crawler" }

func (h *Handler) OwnedStatuses() []string {
	return []string{models.StatusWebCrawling}
}

func (h *Handler) Handle(ctx context.Context, payload []byte) models.Outcome {
	var msg models.CrawlMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return models.BusinessFailure(fmt.Sprintf("undecodable crawl payload: %v", err))
	}
	if msg.URL == "" {
		return models.BusinessFailure("crawl message without url")
	}
	folder, err := blob.CrawledFolder(msg.URL)
	if err != nil {
		return models.BusinessFailure(err.Error())
	}

	jobCtx, cancel := context.WithTimeout(ctx, h.cfg.JobTimeout)
	defer cancel()

	var uploaded int
	if IsPDF(msg.URL, "") {
		uploaded, err = h.processPDFJob(jobCtx, &msg)
	} else {
		uploaded, err = h.processSiteJob(jobCtx, &msg)
	}
	if err != nil {
		return models.Transient(err)
	}
	if uploaded == 0 {
		h.logger.Warn("Crawl produced no artifacts",
			"job_id", msg.JobID,
			"url", msg.URL)
	}

	if err := h.emitEmbeddings(ctx, &msg, folder); err != nil {
		return models.Transient(err)
	}

	h.logger.Info("Crawl job finished",
		"job_id", msg.JobID,
		"url", msg.URL,
		"blob_folder", folder,
		"pages", uploaded)
	return models.Success()
}

// processPDFJob downloads a single PDF and stores its extracted text.
func (h *Handler) processPDFJob(ctx context.Context, msg *models.CrawlMessage) (int, error) {
	page, err := h.fetcher.Fetch(ctx, msg.URL)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch PDF %s: %w", msg.URL, err)
	}
	defer func() { _ = page.Body.Close() }()

	if err := h.uploadPDFPage(ctx, page); err != nil {
		return 0, err
	}
	return 1, nil
}

// processSiteJob crawls the site and uploads one text artifact per page.
// A crawl cut short by the job timeout still counts its uploaded pages.
func (h *Handler) processSiteJob(ctx context.Context, msg *models.CrawlMessage) (int, error) {
	return h.crawler.Crawl(ctx, msg.URL, func(page *Page) error {
		if IsPDF(page.URL, page.ContentType) {
			return h.uploadPDFPage(ctx, page)
		}
		return h.uploadHTMLPage(ctx, page)
	})
}

func (h *Handler) uploadHTMLPage(ctx context.Context, page *Page) error {
	body, err := page.Body.Bytes()
	if err != nil {
		return fmt.Errorf("failed to read page %s: %w", page.URL, err)
	}
	title, raw := ExtractText(body)
	content := CleanContent(raw)
	if content == "" {
		h.logger.Debug("Page cleaned down to nothing, skipping", "url", page.URL)
		return nil
	}
	return h.uploadArtifact(ctx, page.URL, title, content)
}

func (h *Handler) uploadPDFPage(ctx context.Context, page *Page) error {
	text, err := h.extractor.Extract(ctx, page.Body.ReaderAt(), page.Body.Size())
	if err != nil {
		h.logger.Warn("PDF extraction failed, skipping document",
			"url", page.URL,
			"error", err)
		return nil
	}
	return h.uploadArtifact(ctx, page.URL, TitleFromPDFURL(page.URL), text)
}

func (h *Handler) uploadArtifact(ctx context.Context, pageURL, title, content string) error {
	path, err := blob.CrawledPagePath(pageURL)
	if err != nil {
		return err
	}
	artifact := FormatArtifact(title, content)
	if err := h.store.Upload(ctx, path, []byte(artifact), "text/plain"); err != nil {
		return fmt.Errorf("failed to upload %s: %w", path, err)
	}
	return nil
}

func (h *Handler) emitEmbeddings(ctx context.Context, msg *models.CrawlMessage, folder string) error {
	body, err := queue.Encode(models.EmbeddingsMessage{
		JobID:      msg.JobID,
		URL:        msg.URL,
		BlobFolder: folder,
		Status:     models.StatusScraped,
	})
	if err != nil {
		return err
	}
	if err := h.transport.Send(ctx, h.embeddingsQueue, body); err != nil {
		return fmt.Errorf("failed to send embeddings message: %w", err)
	}
	return nil
}
