package config

import "time"

// Default queue names; each can be overridden via its *_QUEUE env var.
const (
	DefaultGrievancesQueue    = "grievances"
	DefaultWebCrawlerQueue    = "webcrawler"
	DefaultEmbeddingsQueue    = "embeddings"
	DefaultKnowledgeBaseQueue = "knowledgebase"
	DefaultProcessedQueue     = "processed"
)

// QueueConfig contains queue transport and worker loop configuration.
// These values control how messages are polled, leased, and processed.
type QueueConfig struct {
	// URL is the AMQP connection string.
	URL string `yaml:"url"`

	// Queue names, overridable per deployment.
	GrievancesQueue    string `yaml:"grievances_queue"`
	WebCrawlerQueue    string `yaml:"webcrawler_queue"`
	EmbeddingsQueue    string `yaml:"embeddings_queue"`
	KnowledgeBaseQueue string `yaml:"knowledgebase_queue"`
	ProcessedQueue     string `yaml:"processed_queue"`

	// PollInterval is the base sleep between empty receives. The actual
	// sleep is PollInterval ± 25% jitter.
	PollInterval time.Duration `yaml:"poll_interval"`

	// VisibilityTimeout bounds a single handler invocation. A leased message
	// whose handler exceeds this deadline is cancelled; the transport
	// redelivers it to a surviving worker.
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`

	// GracefulShutdownTimeout is the max time to wait for the in-flight
	// handler to complete during shutdown.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		GrievancesQueue:         DefaultGrievancesQueue,
		WebCrawlerQueue:         DefaultWebCrawlerQueue,
		EmbeddingsQueue:         DefaultEmbeddingsQueue,
		KnowledgeBaseQueue:      DefaultKnowledgeBaseQueue,
		ProcessedQueue:          DefaultProcessedQueue,
		PollInterval:            3 * time.Second,
		VisibilityTimeout:       5 * time.Minute,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}

// LoadQueueConfigFromEnv builds a QueueConfig from the environment.
// QUEUE_URL is required; everything else falls back to defaults.
func LoadQueueConfigFromEnv() (*QueueConfig, error) {
	cfg := DefaultQueueConfig()

	url, err := requireEnv("QUEUE_URL")
	if err != nil {
		return nil, err
	}
	cfg.URL = url

	cfg.GrievancesQueue = getEnvOrDefault("GRIEVANCES_QUEUE", cfg.GrievancesQueue)
	cfg.WebCrawlerQueue = getEnvOrDefault("WEBCRAWLER_QUEUE", cfg.WebCrawlerQueue)
	cfg.EmbeddingsQueue = getEnvOrDefault("EMBEDDINGS_QUEUE", cfg.EmbeddingsQueue)
	cfg.KnowledgeBaseQueue = getEnvOrDefault("KNOWLEDGEBASE_QUEUE", cfg.KnowledgeBaseQueue)
	cfg.ProcessedQueue = getEnvOrDefault("PROCESSED_QUEUE", cfg.ProcessedQueue)

	if cfg.PollInterval, err = envSeconds("POLL_INTERVAL_SEC", cfg.PollInterval); err != nil {
		return nil, err
	}
	if cfg.VisibilityTimeout, err = envSeconds("VISIBILITY_TIMEOUT", cfg.VisibilityTimeout); err != nil {
		return nil, err
	}
	return cfg, nil
}
