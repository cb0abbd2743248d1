package config

// EmbeddingConfig controls the embedding model and the chunking applied to
// crawled text before vector upserts.
type EmbeddingConfig struct {
	// Model is the embedding model name sent to the embedder endpoint.
	Model string `yaml:"model"`

	// Dimension is the fixed vector dimension produced by Model. Vectors of
	// any other length are rejected before they reach the index.
	Dimension int `yaml:"dimension"`

	// BatchSize is the number of texts embedded per call.
	BatchSize int `yaml:"batch_size"`

	// ChunkSize and ChunkOverlap control text splitting, in characters.
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// DefaultEmbeddingConfig returns the built-in embedding defaults.
func DefaultEmbeddingConfig() *EmbeddingConfig {
	return &EmbeddingConfig{
		Model:        "all-MiniLM-L6-v2",
		Dimension:    384,
		BatchSize:    16,
		ChunkSize:    1000,
		ChunkOverlap: 200,
	}
}

// LoadEmbeddingConfigFromEnv builds an EmbeddingConfig from the environment.
func LoadEmbeddingConfigFromEnv() (*EmbeddingConfig, error) {
	cfg := DefaultEmbeddingConfig()
	cfg.Model = getEnvOrDefault("EMBEDDING_MODEL", cfg.Model)

	var err error
	if cfg.BatchSize, err = envInt("EMBEDDING_BATCH_SIZE", cfg.BatchSize); err != nil {
		return nil, err
	}
	if cfg.ChunkSize, err = envInt("CHUNK_SIZE", cfg.ChunkSize); err != nil {
		return nil, err
	}
	if cfg.ChunkOverlap, err = envInt("CHUNK_OVERLAP", cfg.ChunkOverlap); err != nil {
		return nil, err
	}
	return cfg, nil
}
