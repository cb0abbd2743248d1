package analyzer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"
)

// DocExtractor is the default PDFExtractor. Whole-document extraction is
// attempted first; when a document trips the parser, pages are extracted
// one by one and broken pages are skipped instead of failing the job.
type DocExtractor struct {
	logger *slog.Logger
}

// NewDocExtractor creates the default PDF text extractor.
func NewDocExtractor() *DocExtractor {
	return &DocExtractor{logger: slog.With("component", "pdf_extractor")}
}

// Extract returns the plain text of the document.
func (e *DocExtractor) Extract(ctx context.Context, doc io.ReaderAt, size int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	reader, err := pdf.NewReader(doc, size)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}

	if text, err := wholeDocumentText(reader); err == nil && strings.TrimSpace(text) != "" {
		return text, nil
	}

	text, pages := e.pageByPageText(reader)
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("no extractable text in %d-page PDF", reader.NumPage())
	}
	if pages < reader.NumPage() {
		e.logger.Warn("Partial PDF extraction",
			"extracted_pages", pages,
			"total_pages", reader.NumPage())
	}
	return text, nil
}

func wholeDocumentText(reader *pdf.Reader) (text string, err error) {
	// The parser panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("PDF parser failure: %v", r)
		}
	}()

	body, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (e *DocExtractor) pageByPageText(reader *pdf.Reader) (string, int) {
	var builder strings.Builder
	extracted := 0
	for i := 1; i <= reader.NumPage(); i++ {
		text, err := pageText(reader, i)
		if err != nil {
			e.logger.Warn("Skipping unreadable PDF page", "page", i, "error", err)
			continue
		}
		builder.WriteString(text)
		builder.WriteString("\n")
		extracted++
	}
	return builder.String(), extracted
}

func pageText(reader *pdf.Reader, number int) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("PDF parser failure: %v", r)
		}
	}()

	page := reader.Page(number)
	if page.V.IsNull() {
		return "", fmt.Errorf("page %d is null", number)
	}
	return page.GetPlainText(nil)
}
