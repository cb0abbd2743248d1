package config

import "time"

// AnalyzerConfig holds the connection settings for the text analyzer,
// embedder, vision and web-search services. All of them are external; the
// pipeline only ever sees their interfaces.
type AnalyzerConfig struct {
	// APIKey and BaseURL point at an OpenAI-compatible endpoint serving both
	// chat completions and embeddings.
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`

	// Model is the chat model used for analyses; VisionModel handles image
	// validation and description.
	Model       string `yaml:"model"`
	VisionModel string `yaml:"vision_model"`

	// SearchAPIKey authenticates the web-search service.
	SearchAPIKey string `yaml:"search_api_key"`
	SearchURL    string `yaml:"search_url"`

	// CallTimeout bounds a single LLM call.
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// DefaultAnalyzerConfig returns the built-in analyzer defaults.
func DefaultAnalyzerConfig() *AnalyzerConfig {
	return &AnalyzerConfig{
		Model:       "deepseek-chat",
		VisionModel: "deepseek-vl",
		SearchURL:   "https://api.tavily.com/search",
		CallTimeout: 60 * time.Second,
	}
}

// LoadAnalyzerConfigFromEnv builds an AnalyzerConfig from the environment.
// LLM_API_KEY is required; SEARCH_API_KEY is required only by workers that
// perform web research (they validate it via RequireSearch).
func LoadAnalyzerConfigFromEnv() (*AnalyzerConfig, error) {
	cfg := DefaultAnalyzerConfig()

	apiKey, err := requireEnv("LLM_API_KEY")
	if err != nil {
		return nil, err
	}
	cfg.APIKey = apiKey
	cfg.BaseURL = getEnvOrDefault("LLM_BASE_URL", cfg.BaseURL)
	cfg.Model = getEnvOrDefault("LLM_MODEL", cfg.Model)
	cfg.VisionModel = getEnvOrDefault("LLM_VISION_MODEL", cfg.VisionModel)
	cfg.SearchAPIKey = getEnvOrDefault("SEARCH_API_KEY", "")
	cfg.SearchURL = getEnvOrDefault("SEARCH_URL", cfg.SearchURL)
	return cfg, nil
}

// RequireSearch verifies the web-search credentials are present.
func (c *AnalyzerConfig) RequireSearch() error {
	if c.SearchAPIKey == "" {
		_, err := requireEnv("SEARCH_API_KEY")
		return err
	}
	return nil
}
