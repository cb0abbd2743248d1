package analyzer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/civicgrid/grievance-pipeline/pkg/config"
	"github.com/civicgrid/grievance-pipeline/pkg/models"
)

// LLMClient implements TextAnalyzer, Embedder and VisionAnalyzer on top of
// an OpenAI-compatible endpoint. One client serves all three roles; the
// vision model is selected per call.
type LLMClient struct {
	llm       *openai.LLM
	embedding *config.EmbeddingConfig
	cfg       *config.AnalyzerConfig
	logger    *slog.Logger
}

// NewLLMClient connects to the configured endpoint.
func NewLLMClient(cfg *config.AnalyzerConfig, embedding *config.EmbeddingConfig) (*LLMClient, error) {
	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.Model),
		openai.WithEmbeddingModel(embedding.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	return &LLMClient{
		llm:       llm,
		embedding: embedding,
		cfg:       cfg,
		logger:    slog.With("component", "llm_client"),
	}, nil
}

// Analyze runs one prompt through the chat model.
func (c *LLMClient) Analyze(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	completion, err := llms.GenerateFromSinglePrompt(ctx, c.llm, prompt)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	return completion, nil
}

// Embed converts texts into vectors, batching requests and verifying every
// vector has the configured dimension before it can reach the index.
func (c *LLMClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.embedding.BatchSize {
		end := min(start+c.embedding.BatchSize, len(texts))

		callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
		batch, err := c.llm.CreateEmbedding(callCtx, texts[start:end])
		cancel()
		if err != nil {
			return nil, fmt.Errorf("embedding call failed: %w", err)
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(batch), end-start)
		}
		for i, vec := range batch {
			if len(vec) != c.embedding.Dimension {
				return nil, fmt.Errorf("embedding %d has dimension %d, want %d", start+i, len(vec), c.embedding.Dimension)
			}
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

const validateImagePrompt = `You are validating a citizen grievance image.
Grievance text: %q

Does the image plausibly show the reported problem? Respond with only a JSON
object: {"is_valid": bool, "score": 0-100, "reasoning": "...", "confidence": "high|medium|low"}`

// ValidateImage asks the vision model whether the image matches the
// grievance text.
func (c *LLMClient) ValidateImage(ctx context.Context, imageURL, grievanceText string) (*models.ValidationResult, error) {
	completion, err := c.vision(ctx, fmt.Sprintf(validateImagePrompt, grievanceText), imageURL)
	if err != nil {
		return nil, err
	}

	var result models.ValidationResult
	if err := ParseJSONObject(completion, &result); err != nil {
		return nil, fmt.Errorf("image validation verdict unreadable: %w", err)
	}
	return &result, nil
}

const extractLocationPrompt = `You are locating a citizen grievance from its photo.
Grievance text: %q

Identify where the photo was taken from signboards, landmarks and surroundings.
Respond with only a JSON object:
{"address": "...", "lat": null, "lon": null, "landmarks": ["..."],
 "area_type": "residential|commercial|industrial|public|unknown",
 "confidence": "high|medium|low|none"}`

// ExtractLocation reads location clues out of the image. Callers treat a
// failure as confidence "none" and continue.
func (c *LLMClient) ExtractLocation(ctx context.Context, imageURL, grievanceText string) (*models.LocationData, error) {
	completion, err := c.vision(ctx, fmt.Sprintf(extractLocationPrompt, grievanceText), imageURL)
	if err != nil {
		return nil, err
	}

	var location models.LocationData
	if err := ParseJSONObject(completion, &location); err != nil {
		return nil, fmt.Errorf("location extraction unreadable: %w", err)
	}
	if location.Confidence == "" {
		location.Confidence = models.ConfidenceNone
	}
	return &location, nil
}

const describeImagePrompt = `You are describing a citizen grievance photo.
Grievance text: %q

Respond with only a JSON object:
{"description": "two or three factual sentences", "key_objects": ["..."],
 "scene_type": "...", "extracted_text": "any text visible in the image",
 "confidence": "high|medium|low"}`

// DescribeImage returns a structured factual description of the image.
func (c *LLMClient) DescribeImage(ctx context.Context, imageURL, grievanceText string) (*models.ImageAnalysis, error) {
	completion, err := c.vision(ctx, fmt.Sprintf(describeImagePrompt, grievanceText), imageURL)
	if err != nil {
		return nil, err
	}

	var analysis models.ImageAnalysis
	if err := ParseJSONObject(completion, &analysis); err != nil {
		return nil, fmt.Errorf("image description unreadable: %w", err)
	}
	return &analysis, nil
}

func (c *LLMClient) vision(ctx context.Context, prompt, imageURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	resp, err := c.llm.GenerateContent(ctx, []llms.MessageContent{
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.TextPart(prompt),
				llms.ImageURLPart(imageURL),
			},
		},
	}, llms.WithModel(c.cfg.VisionModel))
	if err != nil {
		return "", fmt.Errorf("vision call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("vision call returned no choices")
	}
	return resp.Choices[0].Content, nil
}
