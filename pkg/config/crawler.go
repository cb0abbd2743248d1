package config

import "time"

// CrawlerConfig bounds a single crawl job.
type CrawlerConfig struct {
	// MaxPagesPerJob is the hard page cap for one crawl job.
	MaxPagesPerJob int `yaml:"max_pages_per_job"`

	// BatchSize is the number of pages fetched in parallel per batch.
	BatchSize int `yaml:"batch_size"`

	// PageTimeout bounds a single page fetch.
	PageTimeout time.Duration `yaml:"page_timeout"`

	// JobTimeout bounds the whole crawl job. On expiry, pages uploaded so
	// far still produce an embeddings message for the partial folder.
	JobTimeout time.Duration `yaml:"job_timeout"`
}

// DefaultCrawlerConfig returns the built-in crawler defaults.
func DefaultCrawlerConfig() *CrawlerConfig {
	return &CrawlerConfig{
		MaxPagesPerJob: 50,
		BatchSize:      3,
		PageTimeout:    30 * time.Second,
		JobTimeout:     5 * time.Minute,
	}
}

// LoadCrawlerConfigFromEnv builds a CrawlerConfig from the environment.
func LoadCrawlerConfigFromEnv() (*CrawlerConfig, error) {
	cfg := DefaultCrawlerConfig()

	var err error
	if cfg.MaxPagesPerJob, err = envInt("MAX_PAGES_PER_JOB", cfg.MaxPagesPerJob); err != nil {
		return nil, err
	}
	if cfg.BatchSize, err = envInt("BATCH_SIZE", cfg.BatchSize); err != nil {
		return nil, err
	}
	if cfg.PageTimeout, err = envSeconds("PAGE_TIMEOUT", cfg.PageTimeout); err != nil {
		return nil, err
	}
	return cfg, nil
}
