package config

// ResearchConfig controls the pattern cache and research result validation.
type ResearchConfig struct {
	// SimilarityThreshold is the cosine similarity above which an existing
	// pattern's research is reused instead of running new research.
	SimilarityThreshold float64 `yaml:"similarity_threshold"`

	// MinResultScore and MinContentLength gate individual search results.
	MinResultScore   float64 `yaml:"min_result_score"`
	MinContentLength int     `yaml:"min_content_length"`

	// Channel is the NOTIFY channel announcing new grievances.
	Channel string `yaml:"channel"`
}

// DefaultResearchConfig returns the built-in research defaults.
func DefaultResearchConfig() *ResearchConfig {
	return &ResearchConfig{
		SimilarityThreshold: 0.85,
		MinResultScore:      0.5,
		MinContentLength:    100,
		Channel:             "new_grievance_research",
	}
}

// LoadResearchConfigFromEnv builds a ResearchConfig from the environment.
func LoadResearchConfigFromEnv() (*ResearchConfig, error) {
	cfg := DefaultResearchConfig()

	var err error
	if cfg.SimilarityThreshold, err = envFloat("PATTERN_SIMILARITY_THRESHOLD", cfg.SimilarityThreshold); err != nil {
		return nil, err
	}
	cfg.Channel = getEnvOrDefault("RESEARCH_NOTIFY_CHANNEL", cfg.Channel)
	return cfg, nil
}
