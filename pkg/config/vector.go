package config

// VectorIndexConfig holds the external vector index connection settings.
type VectorIndexConfig struct {
	URL       string `yaml:"url"`
	APIKey    string `yaml:"api_key"`
	IndexName string `yaml:"index_name"`
}

// LoadVectorIndexConfigFromEnv builds a VectorIndexConfig from the
// environment. VECTOR_INDEX_URL and VECTOR_INDEX_API_KEY are required.
func LoadVectorIndexConfigFromEnv() (*VectorIndexConfig, error) {
	url, err := requireEnv("VECTOR_INDEX_URL")
	if err != nil {
		return nil, err
	}
	apiKey, err := requireEnv("VECTOR_INDEX_API_KEY")
	if err != nil {
		return nil, err
	}
	return &VectorIndexConfig{
		URL:       url,
		APIKey:    apiKey,
		IndexName: getEnvOrDefault("VECTOR_INDEX_NAME", "grievances"),
	}, nil
}
