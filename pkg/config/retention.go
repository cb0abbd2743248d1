package config

import "time"

// RetentionConfig controls the background retention sweeps.
type RetentionConfig struct {
	// CompletedJobRetention is how long completed embedding job rows are
	// kept for debugging before deletion.
	CompletedJobRetention time.Duration `yaml:"completed_job_retention"`

	// InsightRetention is how long aiinsights rows are kept.
	InsightRetention time.Duration `yaml:"insight_retention"`

	// SweepInterval is how often the sweeps run.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		CompletedJobRetention: 7 * 24 * time.Hour,
		InsightRetention:      90 * 24 * time.Hour,
		SweepInterval:         time.Hour,
	}
}

// LoadRetentionConfigFromEnv builds a RetentionConfig from the environment.
func LoadRetentionConfigFromEnv() (*RetentionConfig, error) {
	cfg := DefaultRetentionConfig()
	var err error
	if cfg.CompletedJobRetention, err = envSeconds("RETENTION_COMPLETED_JOBS_SEC", cfg.CompletedJobRetention); err != nil {
		return nil, err
	}
	if cfg.InsightRetention, err = envSeconds("RETENTION_INSIGHTS_SEC", cfg.InsightRetention); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = envSeconds("RETENTION_SWEEP_INTERVAL_SEC", cfg.SweepInterval); err != nil {
		return nil, err
	}
	return cfg, nil
}
