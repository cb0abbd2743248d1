package queryanalyst

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/civicgrid/grievance-pipeline/pkg/analyzer"
	"github.com/civicgrid/grievance-pipeline/pkg/blob"
	"github.com/civicgrid/grievance-pipeline/pkg/models"
	"github.com/civicgrid/grievance-pipeline/pkg/queue"
	"github.com/civicgrid/grievance-pipeline/pkg/services"
	"github.com/civicgrid/grievance-pipeline/pkg/vectorindex"
)

// retrievalTopK is how many reference neighbors feed the classifiers.
const retrievalTopK = 5

// searchResultsPerQuery bounds the real-time enrichment per search string.
const searchResultsPerQuery = 3

// grievanceStore is the persistence slice of services.GrievanceService the
// stage needs.
type grievanceStore interface {
	SaveAnalysis(ctx context.Context, update *services.AnalysisUpdate) error
	SaveValidationRejection(ctx context.Context, rowID string, result *models.ValidationResult) error
}

// departmentAllocator is the allocation slice of services.DepartmentService.
type departmentAllocator interface {
	Allocate(ctx context.Context, query services.AllocationQuery) (*services.Department, error)
}

// Handler consumes the grievances queue. External service failures in the
// middle of the pipeline degrade the affected output and continue; only
// validation rejection, persistence failure and emit failure are terminal.
type Handler struct {
	text        analyzer.TextAnalyzer
	vision      analyzer.VisionAnalyzer
	embedder    analyzer.Embedder
	searcher    analyzer.Searcher
	index       vectorindex.Index
	classifiers *Classifiers

	grievances  grievanceStore
	departments departmentAllocator
	store       blob.Store
	renderer    ReportRenderer

	transport    queue.Transport
	crawlerQueue string
	logger       *slog.Logger
}

// NewHandler wires the QueryAnalyst stage.
func NewHandler(
	text analyzer.TextAnalyzer,
	vision analyzer.VisionAnalyzer,
	embedder analyzer.Embedder,
	searcher analyzer.Searcher,
	index vectorindex.Index,
	grievances grievanceStore,
	departments departmentAllocator,
	store blob.Store,
	renderer ReportRenderer,
	transport queue.Transport,
	crawlerQueue string,
) *Handler {
	return &Handler{
		text:         text,
		vision:       vision,
		embedder:     embedder,
		searcher:     searcher,
		index:        index,
		classifiers:  NewClassifiers(text),
		grievances:   grievances,
		departments:  departments,
		store:        store,
		renderer:     renderer,
		transport:    transport,
		crawlerQueue: crawlerQueue,
		logger:       slog.With("stage", "queryanalyst"),
	}
}

func (h *Handler) Name() string { return "queryanalyst" }

func (h *Handler) OwnedStatuses() []string {
	return []string{models.StatusQueryAnalyst, models.StatusPending}
}

func (h *Handler) Handle(ctx context.Context, payload []byte) models.Outcome {
	var msg models.GrievanceMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return models.BusinessFailure(fmt.Sprintf("undecodable grievance payload: %v", err))
	}
	if msg.GrievanceID == "" || msg.GrievanceText == "" {
		return models.BusinessFailure("grievance message without id or text")
	}

	a := &analysis{msg: &msg}

	// Step 1: image validation. A rejected image terminates the pipeline
	// with the verdict on the row and nothing sent downstream.
	a.validation = h.validateImage(ctx, &msg)
	if !a.validation.IsValid {
		if err := h.grievances.SaveValidationRejection(ctx, msg.GrievanceID, a.validation); err != nil {
			return models.Transient(err)
		}
		return models.BusinessFailure(fmt.Sprintf("image validation rejected: %s", a.validation.Reasoning))
	}

	// Steps 2-3: location and description, both degrade on failure.
	a.location = h.extractLocation(ctx, &msg)
	a.image = h.describeImage(ctx, &msg)

	// Step 4: deterministic enhancement with error-string scrubbing.
	a.enhancedQuery = BuildEnhancedQuery(msg.GrievanceText, a.image, a.location)

	// Step 5: embedding. Without a vector neither retrieval nor allocation
	// can run, so this failure is transient.
	vectors, err := h.embedder.Embed(ctx, []string{a.enhancedQuery})
	if err != nil || len(vectors) != 1 {
		return models.Transient(fmt.Errorf("failed to embed grievance %s: %w", msg.GrievanceID, err))
	}
	a.embedding = vectors[0]

	// Step 6: similarity retrieval; opaque context for the classifiers.
	a.retrievedContext = h.retrieveContext(ctx, a.embedding)

	// Step 7: classifier fan-out.
	h.runClassifiers(ctx, a)

	// Steps 8-9: policy queries + real-time enrichment.
	h.enrich(ctx, a)

	// Step 10: department allocation.
	h.allocateDepartment(ctx, a)

	// Step 11: report artifacts; failures degrade with a warning.
	a.completedAt = time.Now().UTC()
	caseStudy := buildCaseStudy(a)
	h.storeArtifacts(ctx, a, caseStudy)

	// Step 12: single-UPDATE persistence; failure is terminal.
	if err := h.grievances.SaveAnalysis(ctx, buildUpdate(a, caseStudy)); err != nil {
		return models.Transient(err)
	}

	if err := h.emitAnalysisComplete(ctx, a); err != nil {
		return models.Transient(err)
	}

	h.logger.Info("Grievance analyzed",
		"grievance_id", msg.GrievanceID,
		"category", stringField(a.category, "main_category"),
		"priority", stringField(a.sentimentPriority, "priority_level"),
		"department_id", derefOr(a.allocatedDepartmentID, ""))
	return models.Success()
}

func (h *Handler) validateImage(ctx context.Context, msg *models.GrievanceMessage) *models.ValidationResult {
	if msg.ImagePath == "" {
		return &models.ValidationResult{
			IsValid:    true,
			Score:      1,
			Reasoning:  "No image provided",
			Confidence: models.ConfidenceNone,
		}
	}
	result, err := h.vision.ValidateImage(ctx, msg.ImagePath, msg.GrievanceText)
	if err != nil {
		// Fail open: a vision outage must not reject genuine grievances.
		h.logger.Warn("Image validation unavailable, accepting image",
			"grievance_id", msg.GrievanceID,
			"error", err)
		return &models.ValidationResult{
			IsValid:    true,
			Score:      0,
			Reasoning:  "Validation service unavailable",
			Confidence: models.ConfidenceNone,
		}
	}
	return result
}

func (h *Handler) extractLocation(ctx context.Context, msg *models.GrievanceMessage) *models.LocationData {
	none := &models.LocationData{Address: "Not available", Confidence: models.ConfidenceNone}
	if msg.ImagePath == "" {
		return none
	}
	location, err := h.vision.ExtractLocation(ctx, msg.ImagePath, msg.GrievanceText)
	if err != nil {
		h.logger.Warn("Location extraction failed",
			"grievance_id", msg.GrievanceID,
			"error", err)
		return none
	}
	return location
}

func (h *Handler) describeImage(ctx context.Context, msg *models.GrievanceMessage) *models.ImageAnalysis {
	if msg.ImagePath == "" {
		return &models.ImageAnalysis{}
	}
	image, err := h.vision.DescribeImage(ctx, msg.ImagePath, msg.GrievanceText)
	if err != nil {
		h.logger.Warn("Image description failed",
			"grievance_id", msg.GrievanceID,
			"error", err)
		return &models.ImageAnalysis{}
	}
	return image
}

// retrieveContext looks up nearest reference vectors and joins their text
// snippets. Results never surface directly; they only inform classifiers.
func (h *Handler) retrieveContext(ctx context.Context, embedding []float32) string {
	matches, err := h.index.Query(ctx, embedding, retrievalTopK, nil)
	if err != nil {
		h.logger.Warn("Similarity retrieval failed", "error", err)
		return "No reference material available."
	}
	if len(matches) == 0 {
		return "No reference material available."
	}
	context := ""
	for i, match := range matches {
		if text, ok := match.Metadata["text"].(string); ok && text != "" {
			context += fmt.Sprintf("%d. %s\n", i+1, text)
		}
	}
	if context == "" {
		return "No reference material available."
	}
	return context
}

func (h *Handler) runClassifiers(ctx context.Context, a *analysis) {
	validationJSON, _ := json.Marshal(a.validation)

	a.queryType = h.classifiers.QueryType(ctx, a.enhancedQuery)
	a.locationInfo = h.classifiers.Location(ctx, a.enhancedQuery)
	a.emotion = h.classifiers.Emotion(ctx, a.enhancedQuery)
	a.severity = h.classifiers.Severity(ctx, a.enhancedQuery)
	a.patterns = h.classifiers.Patterns(ctx, a.enhancedQuery, a.retrievedContext)
	a.fraud = h.classifiers.Fraud(ctx, string(validationJSON))
	a.category = h.classifiers.Category(ctx, a.enhancedQuery, a.retrievedContext)
	a.similarCases = h.classifiers.SimilarCases(ctx, a.enhancedQuery, a.retrievedContext)
	a.department = h.classifiers.Department(ctx, a.enhancedQuery, a.retrievedContext)
	a.sentimentPriority = h.classifiers.SentimentPriority(ctx, a.enhancedQuery)
}

func (h *Handler) enrich(ctx context.Context, a *analysis) {
	a.policySearch = h.classifiers.PolicyQueries(ctx, a.enhancedQuery, a.category)

	a.searchQueries = enrichSearchQueries(
		stringSliceField(a.policySearch, "queries"),
		stringField(a.category, "main_category"),
		stringField(a.locationInfo, "city"),
		stringField(a.locationInfo, "district"),
		stringField(a.locationInfo, "state"),
	)

	a.searchResults = make(map[string][]models.SearchResult)
	for _, query := range a.searchQueries {
		results, err := h.searcher.Search(ctx, query, searchResultsPerQuery)
		if err != nil {
			h.logger.Warn("Real-time search failed", "query", query, "error", err)
			continue
		}
		a.searchResults[query] = results
	}
}

func (h *Handler) allocateDepartment(ctx context.Context, a *analysis) {
	query := services.AllocationQuery{
		Embedding:      a.embedding,
		DepartmentHint: stringField(a.department, "recommended_department"),
		LocationHint:   firstNonEmpty(stringField(a.locationInfo, "district"), stringField(a.locationInfo, "state")),
	}
	if a.location != nil {
		query.Latitude = a.location.Latitude
		query.Longitude = a.location.Longitude
	}

	a.departmentField = map[string]any{
		"recommended_department": stringField(a.department, "recommended_department"),
		"contact_information":    stringField(a.department, "contact_information"),
		"jurisdiction":           stringField(a.department, "jurisdiction"),
		"allocated_department":   nil,
	}

	allocated, err := h.departments.Allocate(ctx, query)
	if err != nil {
		h.logger.Warn("Department allocation failed",
			"grievance_id", a.msg.GrievanceID,
			"error", err)
		return
	}
	if allocated == nil {
		return
	}

	a.allocatedDepartmentID = &allocated.ID
	a.allocatedDepartmentName = allocated.Name
	a.departmentField["allocated_department"] = map[string]any{
		"id":          allocated.ID,
		"name":        allocated.Name,
		"description": allocated.Description,
		"address":     allocated.Address,
	}
	a.departmentField["contact_information"] = allocated.ContactInformation
	a.departmentField["jurisdiction"] = allocated.Jurisdiction
}

// storeArtifacts uploads the Markdown report, the optional PDF rendering,
// and the case-study JSON under the grievance's blob prefix.
func (h *Handler) storeArtifacts(ctx context.Context, a *analysis, caseStudy map[string]any) {
	markdown := renderReport(ctx, h.text, a, h.logger)

	upload := func(fileName string, data []byte, contentType string) {
		path := blob.GrievanceArtifactPath(a.msg.GrievanceID, fileName)
		if err := h.store.Upload(ctx, path, data, contentType); err != nil {
			h.logger.Warn("Artifact upload failed", "path", path, "error", err)
		}
	}

	upload("grievance_report.md", []byte(markdown), "text/markdown")

	if pdf, err := h.renderer.RenderPDF(ctx, markdown); err != nil {
		h.logger.Warn("PDF rendering failed",
			"grievance_id", a.msg.GrievanceID,
			"error", err)
	} else if pdf != nil {
		upload("grievance_report.pdf", pdf, "application/pdf")
	}

	if caseJSON, err := json.Marshal(caseStudy); err == nil {
		upload("grievance_analysis_final.json", caseJSON, "application/json")
	}
}

// buildUpdate maps the accumulated analysis onto the single-UPDATE columns.
func buildUpdate(a *analysis, caseStudy map[string]any) *services.AnalysisUpdate {
	description := ""
	if a.image != nil {
		description = a.image.Description
	}

	return &services.AnalysisUpdate{
		RowID:            a.msg.GrievanceID,
		GrievanceText:    a.msg.GrievanceText,
		CitizenID:        a.msg.CitizenID,
		ImagePath:        a.msg.ImagePath,
		ImageDescription: description,
		EnhancedQuery:    a.enhancedQuery,

		Priority:     stringField(a.sentimentPriority, "priority_level"),
		Zone:         optionalField(a.locationInfo, "zone"),
		Ward:         optionalField(a.locationInfo, "ward"),
		DepartmentID: a.allocatedDepartmentID,

		Category:          a.category,
		QueryType:         marshalField(a.queryType),
		SimilarCasesText:  marshalField(a.similarCases),
		SentimentPriority: marshalField(a.sentimentPriority),
		Emotion:           marshalField(a.emotion),
		Severity:          marshalField(a.severity),
		Patterns:          marshalField(a.patterns),
		Fraud:             marshalField(a.fraud),
		DepartmentInfo:    marshalField(a.department),
		PolicySearch:      marshalField(a.policySearch),

		Embedding:  a.embedding,
		FullResult: caseStudy,

		ValidationStatus: validationStatus(a),
		ValidationScore:  a.validation.Score,
		ValidationReason: a.validation.Reasoning,

		Location: a.location,

		ProcessingMetadata: map[string]any{
			"analysis_completed_at": a.completedAt.Format(time.RFC3339),
			"search_query_count":    len(a.searchQueries),
			"allocated_department":  a.allocatedDepartmentName,
		},
	}
}

func validationStatus(a *analysis) string {
	if a.msg.ImagePath == "" {
		return models.ValidationNoImage
	}
	return models.ValidationValidated
}

func (h *Handler) emitAnalysisComplete(ctx context.Context, a *analysis) error {
	var fileURLs []string
	if a.msg.ImagePath != "" {
		fileURLs = append(fileURLs, a.msg.ImagePath)
	}

	body, err := queue.Encode(models.AnalysisCompleteMessage{
		GrievanceID:         a.msg.GrievanceID,
		CurrentStatus:       models.StatusWebCrawling,
		PolicySearchQueries: a.searchQueries,
		ValidationResult:    *a.validation,
		LocationData:        *a.location,
		FileURLs:            fileURLs,
		AnalysisCompletedAt: a.completedAt,
	})
	if err != nil {
		return err
	}
	if err := h.transport.Send(ctx, h.crawlerQueue, body); err != nil {
		return fmt.Errorf("failed to send analysis-complete message: %w", err)
	}
	return nil
}

func optionalField(m map[string]any, key string) *string {
	value := stringField(m, key)
	if value == "" {
		return nil
	}
	return &value
}

func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}
