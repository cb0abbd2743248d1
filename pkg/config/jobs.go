package config

import "time"

// JobsConfig controls the DB-backed job claimer and its janitor.
type JobsConfig struct {
	// ClaimLimit is the max number of rows claimed per poll.
	ClaimLimit int `yaml:"claim_limit"`

	// RequeueStuckAfter returns processing rows to pending when their last
	// attempt is older than this. Must exceed the worst-case handler runtime.
	RequeueStuckAfter time.Duration `yaml:"requeue_stuck_after"`

	// RequeueFailedAfter returns failed rows to pending for another attempt.
	RequeueFailedAfter time.Duration `yaml:"requeue_failed_after"`

	// PollInterval is the base sleep between empty claims (± 25% jitter).
	PollInterval time.Duration `yaml:"poll_interval"`
}

// DefaultJobsConfig returns the built-in job claimer defaults.
func DefaultJobsConfig() *JobsConfig {
	return &JobsConfig{
		ClaimLimit:         5,
		RequeueStuckAfter:  15 * time.Minute,
		RequeueFailedAfter: time.Hour,
		PollInterval:       3 * time.Second,
	}
}

// LoadJobsConfigFromEnv builds a JobsConfig from the environment.
func LoadJobsConfigFromEnv() (*JobsConfig, error) {
	cfg := DefaultJobsConfig()

	var err error
	if cfg.ClaimLimit, err = envInt("BATCH_SIZE", cfg.ClaimLimit); err != nil {
		return nil, err
	}
	if cfg.RequeueStuckAfter, err = envSeconds("REQUEUE_STUCK_AFTER_SEC", cfg.RequeueStuckAfter); err != nil {
		return nil, err
	}
	if cfg.RequeueFailedAfter, err = envSeconds("REQUEUE_FAILED_AFTER_SEC", cfg.RequeueFailedAfter); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = envSeconds("POLL_INTERVAL_SEC", cfg.PollInterval); err != nil {
		return nil, err
	}
	return cfg, nil
}
