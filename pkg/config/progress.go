package config

// ProgressConfig controls the scheduled progress/escalation scan.
type ProgressConfig struct {
	// Schedule is a cron expression for the periodic scan.
	Schedule string `yaml:"schedule"`

	// TargetDepartmentID restricts the scan to one department when set.
	TargetDepartmentID string `yaml:"target_department_id"`

	// Thresholds for per-grievance health classification, in days.
	StalledAfterDays int `yaml:"stalled_after_days"`
	OverdueAfterDays int `yaml:"overdue_after_days"`
	AtRiskAfterDays  int `yaml:"at_risk_after_days"`
}

// DefaultProgressConfig returns the built-in progress defaults.
func DefaultProgressConfig() *ProgressConfig {
	return &ProgressConfig{
		Schedule:         "@every 1h",
		StalledAfterDays: 7,
		OverdueAfterDays: 30,
		AtRiskAfterDays:  7,
	}
}

// LoadProgressConfigFromEnv builds a ProgressConfig from the environment.
func LoadProgressConfigFromEnv() (*ProgressConfig, error) {
	cfg := DefaultProgressConfig()
	cfg.Schedule = getEnvOrDefault("PROGRESS_SCHEDULE", cfg.Schedule)
	cfg.TargetDepartmentID = getEnvOrDefault("PROGRESS_TARGET_DEPARTMENT", cfg.TargetDepartmentID)
	return cfg, nil
}
