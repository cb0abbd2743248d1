package vectorize

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/civicgrid/grievance-pipeline/pkg/analyzer"
	"github.com/civicgrid/grievance-pipeline/pkg/blob"
	"github.com/civicgrid/grievance-pipeline/pkg/config"
	"github.com/civicgrid/grievance-pipeline/pkg/models"
	"github.com/civicgrid/grievance-pipeline/pkg/vectorindex"
)

// metadataTextPrefix is how much chunk text travels with each vector.
const metadataTextPrefix = 500

// Handler consumes the embeddings queue: one blob folder per message.
type Handler struct {
	store    blob.Store
	embedder analyzer.Embedder
	index    vectorindex.Index
	cfg      *config.EmbeddingConfig
	logger   *slog.Logger
}

// NewHandler wires the VectorDB stage.
func NewHandler(store blob.Store, embedder analyzer.Embedder, index vectorindex.Index, cfg *config.EmbeddingConfig) *Handler {
	return &Handler{
		store:    store,
		embedder: embedder,
		index:    index,
		cfg:      cfg,
		logger:   slog.With("stage", "vectordb"),
	}
}

func (h *Handler) Name() string { return "vectordb" }

func (h *Handler) OwnedStatuses() []string {
	return []string{models.StatusScraped}
}

// Handle lists the folder's text artifacts and upserts one vector per chunk.
// An empty folder is a success: the crawl produced nothing to index.
func (h *Handler) Handle(ctx context.Context, payload []byte) models.Outcome {
	var msg models.EmbeddingsMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return models.BusinessFailure(fmt.Sprintf("undecodable embeddings payload: %v", err))
	}
	if msg.BlobFolder == "" {
		return models.BusinessFailure("embeddings message without blob_folder")
	}

	files, err := h.listTextArtifacts(ctx, msg.BlobFolder)
	if err != nil {
		return models.Transient(err)
	}
	if len(files) == 0 {
		h.logger.Info("Blob folder is empty, nothing to index",
			"job_id", msg.JobID,
			"blob_folder", msg.BlobFolder)
		return models.Success()
	}

	total := 0
	for _, file := range files {
		count, err := h.processFile(ctx, &msg, file)
		if err != nil {
			return models.Transient(err)
		}
		total += count
	}

	h.logger.Info("Folder indexed",
		"job_id", msg.JobID,
		"blob_folder", msg.BlobFolder,
		"files", len(files),
		"vectors", total)
	return models.Success()
}

// listTextArtifacts lists .txt and .md artifacts under the folder. The
// current convention nests folders under crawled-content/; artifacts written
// by older crawler versions sit at the container root and are checked second.
func (h *Handler) listTextArtifacts(ctx context.Context, folder string) ([]blob.Object, error) {
	prefixes := []string{
		blob.CrawledContentPrefix + "/" + folder + "/",
		folder + "/",
	}
	for _, prefix := range prefixes {
		objects, err := h.store.List(ctx, prefix)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
		}
		var texts []blob.Object
		for _, obj := range objects {
			switch strings.ToLower(path.Ext(obj.Path)) {
			case ".txt", ".md":
				texts = append(texts, obj)
			}
		}
		if len(texts) > 0 {
			return texts, nil
		}
	}
	return nil, nil
}

func (h *Handler) processFile(ctx context.Context, msg *models.EmbeddingsMessage, file blob.Object) (int, error) {
	content, err := h.store.Download(ctx, file.Path)
	if err != nil {
		return 0, fmt.Errorf("failed to download %s: %w", file.Path, err)
	}

	chunks := SplitText(string(content), h.cfg.ChunkSize, h.cfg.ChunkOverlap)
	if len(chunks) == 0 {
		h.logger.Warn("No chunks produced", "file", file.Path)
		return 0, nil
	}

	embeddings, err := h.embedder.Embed(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("failed to embed %s: %w", file.Path, err)
	}

	fileName := path.Base(file.Path)
	vectors := make([]vectorindex.Vector, 0, len(chunks))
	for i, chunk := range chunks {
		prefix := chunk
		if len(prefix) > metadataTextPrefix {
			prefix = prefix[:metadataTextPrefix]
		}
		vectors = append(vectors, vectorindex.Vector{
			ID:     vectorindex.VectorID(msg.JobID, fileName, i),
			Values: embeddings[i],
			Metadata: map[string]any{
				"job_id":       msg.JobID,
				"url":          msg.URL,
				"blob_folder":  msg.BlobFolder,
				"file_name":    fileName,
				"file_path":    file.Path,
				"chunk_index":  i,
				"total_chunks": len(chunks),
				"text":         prefix,
			},
		})
	}

	if err := h.index.Upsert(ctx, vectors); err != nil {
		return 0, fmt.Errorf("failed to upsert vectors for %s: %w", file.Path, err)
	}
	return len(vectors), nil
}
