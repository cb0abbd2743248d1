package kb

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/civicgrid/grievance-pipeline/pkg/analyzer"
	"github.com/civicgrid/grievance-pipeline/pkg/blob"
	"github.com/civicgrid/grievance-pipeline/pkg/config"
	"github.com/civicgrid/grievance-pipeline/pkg/models"
	"github.com/civicgrid/grievance-pipeline/pkg/queue"
	"github.com/civicgrid/grievance-pipeline/pkg/stages/crawl"
	"github.com/civicgrid/grievance-pipeline/pkg/stages/vectorize"
	"github.com/civicgrid/grievance-pipeline/pkg/vectorindex"
)

// metadataTextPrefix is how much chunk text travels with each vector.
const metadataTextPrefix = 500

// messageTypePDFUpload is the only message type the worker handles today.
const messageTypePDFUpload = "pdf_upload"

// Handler consumes the knowledgebase queue: one uploaded document per
// message. Every handled message, succeeded or not, emits a summary to the
// processed queue so the uploading application can track document state.
type Handler struct {
	fetcher   crawl.Fetcher
	extractor analyzer.PDFExtractor
	knowledge *KnowledgeExtractor
	embedder  analyzer.Embedder
	index     vectorindex.Index
	store     blob.Store

	transport      queue.Transport
	processedQueue string

	cfg    *config.EmbeddingConfig
	logger *slog.Logger
}

// NewHandler wires the KB worker stage.
func NewHandler(
	fetcher crawl.Fetcher,
	extractor analyzer.PDFExtractor,
	knowledge *KnowledgeExtractor,
	embedder analyzer.Embedder,
	index vectorindex.Index,
	store blob.Store,
	transport queue.Transport,
	processedQueue string,
	cfg *config.EmbeddingConfig,
) *Handler {
	return &Handler{
		fetcher:        fetcher,
		extractor:      extractor,
		knowledge:      knowledge,
		embedder:       embedder,
		index:          index,
		store:          store,
		transport:      transport,
		processedQueue: processedQueue,
		cfg:            cfg,
		logger:         slog.With("stage", "kbworker"),
	}
}

func (h *Handler) Name() string { return "kbworker" }

// OwnedStatuses is empty: KB messages carry no routing status.
func (h *Handler) OwnedStatuses() []string { return nil }

// Handle processes one uploaded document: download, extract, embed, distill,
// persist, announce.
func (h *Handler) Handle(ctx context.Context, payload []byte) models.Outcome {
	var msg models.KnowledgeBaseMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return models.BusinessFailure(fmt.Sprintf("undecodable knowledgebase payload: %v", err))
	}
	if msg.Type != messageTypePDFUpload {
		if err := h.emitProcessed(ctx, &msg, "", 0); err != nil {
			h.logger.Error("Failed to announce rejected document", "kb_id", msg.ID, "error", err)
		}
		return models.BusinessFailure(fmt.Sprintf("unknown knowledgebase message type %q", msg.Type))
	}
	if msg.URL == "" || msg.ID == "" {
		return models.BusinessFailure("knowledgebase message without url or id")
	}

	chunkCount, blobPath, err := h.processDocument(ctx, &msg)
	if err != nil {
		return models.Transient(err)
	}

	if err := h.emitProcessed(ctx, &msg, blobPath, chunkCount); err != nil {
		return models.Transient(err)
	}

	h.logger.Info("Knowledge base document processed",
		"kb_id", msg.ID,
		"file_name", msg.FileName,
		"chunks", chunkCount,
		"blob_path", blobPath)
	return models.Success()
}

func (h *Handler) processDocument(ctx context.Context, msg *models.KnowledgeBaseMessage) (int, string, error) {
	page, err := h.fetcher.Fetch(ctx, msg.URL)
	if err != nil {
		return 0, "", fmt.Errorf("failed to download document %s: %w", msg.URL, err)
	}
	defer page.Body.Close()

	text, err := h.extractor.Extract(ctx, page.Body.ReaderAt(), page.Body.Size())
	if err != nil {
		return 0, "", fmt.Errorf("failed to extract text from %s: %w", msg.FileName, err)
	}

	chunks := vectorize.SplitText(text, h.cfg.ChunkSize, h.cfg.ChunkOverlap)
	if len(chunks) == 0 {
		return 0, "", fmt.Errorf("document %s produced no text", msg.FileName)
	}

	if err := h.indexChunks(ctx, msg, chunks); err != nil {
		return 0, "", err
	}

	knowledge := h.knowledge.Build(ctx, chunks)
	knowledge["_metadata"] = map[string]any{
		"kb_id":         msg.ID,
		"source_type":   "pdf",
		"source_url":    msg.URL,
		"file_name":     msg.FileName,
		"department_id": msg.DepartmentID,
		"num_chunks":    len(chunks),
		"extracted_at":  time.Now().UTC().Format(time.RFC3339),
	}

	artifact, err := json.MarshalIndent(knowledge, "", "  ")
	if err != nil {
		return 0, "", fmt.Errorf("failed to marshal knowledge base: %w", err)
	}
	path := blob.KnowledgeBaseArtifactPath(msg.ID)
	if err := h.store.Upload(ctx, path, artifact, "application/json"); err != nil {
		return 0, "", fmt.Errorf("failed to upload knowledge base: %w", err)
	}
	return len(chunks), path, nil
}

func (h *Handler) indexChunks(ctx context.Context, msg *models.KnowledgeBaseMessage, chunks []string) error {
	embeddings, err := h.embedder.Embed(ctx, chunks)
	if err != nil {
		return fmt.Errorf("failed to embed document %s: %w", msg.FileName, err)
	}

	vectors := make([]vectorindex.Vector, 0, len(chunks))
	for i, chunk := range chunks {
		prefix := chunk
		if len(prefix) > metadataTextPrefix {
			prefix = prefix[:metadataTextPrefix]
		}
		vectors = append(vectors, vectorindex.Vector{
			ID:     vectorindex.VectorID(msg.ID, msg.FileName, i),
			Values: embeddings[i],
			Metadata: map[string]any{
				"kb_id":         msg.ID,
				"department_id": msg.DepartmentID,
				"source_type":   "pdf",
				"source_url":    msg.URL,
				"file_name":     msg.FileName,
				"chunk_index":   i,
				"total_chunks":  len(chunks),
				"text":          prefix,
			},
		})
	}

	if err := h.index.Upsert(ctx, vectors); err != nil {
		return fmt.Errorf("failed to upsert vectors for %s: %w", msg.FileName, err)
	}
	return nil
}

func (h *Handler) emitProcessed(ctx context.Context, msg *models.KnowledgeBaseMessage, blobPath string, chunkCount int) error {
	body, err := queue.Encode(models.ProcessedMessage{
		ID:           msg.ID,
		Type:         msg.Type,
		DepartmentID: msg.DepartmentID,
		BlobPath:     blobPath,
		ChunkCount:   chunkCount,
		ProcessedAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode processed message: %w", err)
	}
	if err := h.transport.Send(ctx, h.processedQueue, body); err != nil {
		return fmt.Errorf("failed to announce processed document %s: %w", msg.ID, err)
	}
	return nil
}
