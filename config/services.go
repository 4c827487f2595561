package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jobmill/jobmill/internal/core"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP API server.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeScheduler runs the trigger scheduler loop.
	ServiceModeScheduler ServiceMode = "scheduler"
	// ServiceModeDispatcher runs the agent dispatch sweep.
	ServiceModeDispatcher ServiceMode = "dispatcher"
	// ServiceModeReaper runs the retention reaper.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeHTTP,
		ServiceModeScheduler,
		ServiceModeDispatcher,
		ServiceModeReaper,
	}
}

// ParseServices parses a comma-delimited string of service names and returns
// the enabled services. It validates that all service names are valid and
// returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeScheduler, ServiceModeDispatcher, ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, scheduler, dispatcher, reaper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// SchedulerConfig contains scheduler service configuration.
type SchedulerConfig struct {
	// Workers is the size of the execution worker pool.
	Workers int `env:"SCHEDULER_WORKERS" envDefault:"10"`

	// QueueSize bounds the fire handoff queue. A full queue drops fires
	// as misfires rather than blocking the scheduling loop.
	QueueSize int `env:"SCHEDULER_QUEUE_SIZE" envDefault:"256"`

	// MisfireGrace is how late a fire may run before it is skipped.
	MisfireGrace time.Duration `env:"SCHEDULER_MISFIRE_GRACE" envDefault:"1m"`

	// RefreshInterval bounds how long the loop goes without a full
	// replan from the store.
	RefreshInterval time.Duration `env:"SCHEDULER_REFRESH_INTERVAL" envDefault:"1m"`

	// ShutdownGrace is how long shutdown waits for in-flight executions
	// before cancelling them.
	ShutdownGrace time.Duration `env:"SCHEDULER_SHUTDOWN_GRACE" envDefault:"15s"`

	// RetryDelay is the default pause before a retry when a job
	// definition does not set its own.
	RetryDelay time.Duration `env:"SCHEDULER_RETRY_DELAY" envDefault:"30s"`

	// RetryOnTimeout also retries timed-out executions, not just failed
	// ones, for jobs that do not decide this themselves.
	RetryOnTimeout bool `env:"SCHEDULER_RETRY_ON_TIMEOUT" envDefault:"false"`

	// FireGuardTTL is how long a fire marker lives in Redis. Only used
	// when Redis is enabled.
	FireGuardTTL time.Duration `env:"SCHEDULER_FIREGUARD_TTL" envDefault:"5m"`

	// PowerShellBin overrides the interpreter used by the PowerShell
	// backend. A bare name resolves through PATH.
	PowerShellBin string `env:"POWERSHELL_BIN"`

	// ScratchDir receives temp script files for inline scripts. Empty
	// uses the OS temp dir.
	ScratchDir string `env:"POWERSHELL_SCRATCH_DIR"`
}

// Sanitize applies guardrails to scheduler configuration values.
func (s *SchedulerConfig) Sanitize() {
	if s.Workers < 1 {
		s.Workers = 1
	}
	if s.QueueSize < 1 {
		s.QueueSize = 1
	}
	if s.MisfireGrace < time.Second {
		s.MisfireGrace = time.Second
	}
	if s.RefreshInterval < time.Second {
		s.RefreshInterval = time.Second
	}
	if s.ShutdownGrace < time.Second {
		s.ShutdownGrace = time.Second
	}
	if s.RetryDelay < time.Second {
		s.RetryDelay = time.Second
	}
	if s.FireGuardTTL < time.Second {
		s.FireGuardTTL = time.Second
	}
}

// Core converts the env-facing config into the scheduler's runtime config.
func (s *SchedulerConfig) Core() core.SchedulerConfig {
	return core.SchedulerConfig{
		Workers:         s.Workers,
		QueueSize:       s.QueueSize,
		MisfireGrace:    s.MisfireGrace,
		RefreshInterval: s.RefreshInterval,
		ShutdownGrace:   s.ShutdownGrace,
	}
}

// DispatchConfig contains agent dispatcher service configuration.
type DispatchConfig struct {
	// SweepInterval is the cadence of the placement and liveness sweep.
	SweepInterval time.Duration `env:"DISPATCH_SWEEP_INTERVAL" envDefault:"10s"`

	// HeartbeatInterval is the cadence agents are told to report at.
	// Liveness cutoffs derive from it.
	HeartbeatInterval time.Duration `env:"DISPATCH_HEARTBEAT_INTERVAL" envDefault:"30s"`

	// ScanLimit bounds how many queued executions one sweep considers.
	ScanLimit int `env:"DISPATCH_SCAN_LIMIT" envDefault:"100"`
}

// Sanitize applies guardrails to dispatcher configuration values.
func (d *DispatchConfig) Sanitize() {
	if d.SweepInterval < time.Second {
		d.SweepInterval = time.Second
	}
	if d.HeartbeatInterval < 5*time.Second {
		d.HeartbeatInterval = 5 * time.Second
	}
	if d.ScanLimit < 1 {
		d.ScanLimit = 1
	}
}

// Core converts the env-facing config into the dispatcher's runtime config.
func (d *DispatchConfig) Core() core.DispatchConfig {
	return core.DispatchConfig{
		SweepInterval:     d.SweepInterval,
		HeartbeatInterval: d.HeartbeatInterval,
		ScanLimit:         d.ScanLimit,
	}
}

// ReaperConfig contains retention reaper service configuration.
type ReaperConfig struct {
	// Interval is the cadence of cleanup passes.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"1h"`

	// RunningMaxAge is how long a running execution may sit without a
	// terminal write before it is presumed crashed and forced to failed.
	RunningMaxAge time.Duration `env:"REAPER_RUNNING_MAX_AGE" envDefault:"24h"`

	// HistoryMaxAge is the age past which terminal history rows are
	// deleted. Zero disables age-based retention.
	HistoryMaxAge time.Duration `env:"REAPER_HISTORY_MAX_AGE" envDefault:"2160h"` // 90 days

	// HistoryKeepPerJob caps terminal rows kept per job. Zero means
	// unlimited retention by count.
	HistoryKeepPerJob int `env:"REAPER_HISTORY_KEEP_PER_JOB" envDefault:"0"`

	// AgentExpiry is how long an offline agent lingers in the registry
	// before its record is removed.
	AgentExpiry time.Duration `env:"REAPER_AGENT_EXPIRY" envDefault:"168h"` // 7 days

	// BatchSize is the maximum number of rows to process per statement.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"500"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	// Enforce minimum intervals to prevent excessive database load
	if r.Interval < 1*time.Minute {
		r.Interval = 1 * time.Minute
	}
	if r.RunningMaxAge < 5*time.Minute {
		r.RunningMaxAge = 5 * time.Minute
	}
	if r.HistoryMaxAge < 0 {
		r.HistoryMaxAge = 0
	}
	if r.HistoryKeepPerJob < 0 {
		r.HistoryKeepPerJob = 0
	}
	if r.AgentExpiry < 1*time.Hour {
		r.AgentExpiry = 1 * time.Hour
	}

	// Enforce batch size bounds to prevent excessive locks or inefficiency
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}

// Core converts the env-facing config into the reaper's runtime config.
func (r *ReaperConfig) Core() core.ReaperConfig {
	return core.ReaperConfig{
		Interval:          r.Interval,
		RunningMaxAge:     r.RunningMaxAge,
		HistoryMaxAge:     r.HistoryMaxAge,
		HistoryKeepPerJob: r.HistoryKeepPerJob,
		AgentExpiry:       r.AgentExpiry,
		BatchSize:         r.BatchSize,
	}
}
