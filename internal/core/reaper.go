package core

import "time"

// ReaperConfig holds tuning for history retention and registry cleanup.
type ReaperConfig struct {
	// Interval is the cadence of cleanup passes.
	Interval time.Duration `json:"interval"`
	// RunningMaxAge is how long a running row may sit without a terminal
	// write before it is presumed crashed and forced to failed.
	RunningMaxAge time.Duration `json:"running_max_age"`
	// HistoryMaxAge is the age past which terminal history rows are
	// deleted. Zero disables age-based retention.
	HistoryMaxAge time.Duration `json:"history_max_age"`
	// HistoryKeepPerJob caps terminal rows kept per job. Zero means
	// unlimited retention by count.
	HistoryKeepPerJob int `json:"history_keep_per_job"`
	// AgentExpiry is how long an offline agent lingers in the registry
	// before its record is removed.
	AgentExpiry time.Duration `json:"agent_expiry"`
	// BatchSize bounds rows touched per statement to keep locks short.
	BatchSize int `json:"batch_size"`
}

// DefaultReaperConfig returns a ReaperConfig with sensible defaults.
func DefaultReaperConfig() ReaperConfig {
	return ReaperConfig{
		Interval:          time.Hour,
		RunningMaxAge:     24 * time.Hour,
		HistoryMaxAge:     90 * 24 * time.Hour,
		HistoryKeepPerJob: 0,
		AgentExpiry:       7 * 24 * time.Hour,
		BatchSize:         500,
	}
}
