package core

import (
	"context"
	"time"
)

// JobScheduler drives scheduled job fires. Run blocks until the context
// is cancelled, then drains in-flight work within the shutdown grace.
type JobScheduler interface {
	Run(ctx context.Context) error
}

// SchedulerConfig holds tuning for the scheduler loop.
type SchedulerConfig struct {
	// Workers is the size of the execution worker pool.
	Workers int `json:"workers"`
	// QueueSize bounds the fire handoff queue between the loop and the
	// workers. A full queue drops fires as misfires rather than blocking
	// the loop.
	QueueSize int `json:"queue_size"`
	// MisfireGrace is how late a fire may run before it is skipped.
	// Missed occurrences past the grace are coalesced: the job resumes
	// at its next occurrence computed from now.
	MisfireGrace time.Duration `json:"misfire_grace"`
	// RefreshInterval bounds how long the loop goes without a full
	// replan from the store, covering missed change notifications.
	RefreshInterval time.Duration `json:"refresh_interval"`
	// ShutdownGrace is how long Run waits for in-flight executions
	// before cancelling them.
	ShutdownGrace time.Duration `json:"shutdown_grace"`
}

// DefaultSchedulerConfig returns a SchedulerConfig with sensible defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Workers:         10,
		QueueSize:       256,
		MisfireGrace:    time.Minute,
		RefreshInterval: time.Minute,
		ShutdownGrace:   15 * time.Second,
	}
}
