package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jobmill/jobmill/internal/core"
	"github.com/jobmill/jobmill/internal/data"
	obserrors "github.com/jobmill/jobmill/internal/observability/errors"
	"github.com/jobmill/jobmill/internal/observability/metrics"
	"github.com/jobmill/jobmill/internal/observability/statsd"
)

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	History      core.HistoryReaperRepository // Required: history cleanup queries
	Agents       core.AgentRepository         // Optional: offline agent expiry
	Config       *core.ReaperConfig           // Optional: retention tuning, zero fields use defaults
	TimeProvider data.TimeProvider            // Optional: clock
	Logger       *slog.Logger                 // Optional: structured logger
	Metrics      statsd.Sink                  // Optional: metrics sink (StatsD-compatible)
}

// ReaperService keeps the execution history and the agent registry from
// growing without bound:
// - running rows without a terminal write past a generous max age are
//   forced to failed (a crashed server never finished them),
// - terminal rows are deleted past the retention age and beyond the
//   per-job keep count,
// - offline agents past their expiry are removed from the registry.
//
// None of this changes history invariants: only terminal or provably dead
// rows are touched, in bounded batches.
type ReaperService struct {
	history      core.HistoryReaperRepository
	agents       core.AgentRepository
	cfg          core.ReaperConfig
	timeProvider data.TimeProvider
	logger       *slog.Logger
	metrics      statsd.Sink
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.History == nil {
		return nil, errors.New("HistoryReaperRepository is required")
	}
	if opts.TimeProvider == nil {
		opts.TimeProvider = &data.RealTimeProvider{}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &ReaperService{
		history:      opts.History,
		agents:       opts.Agents,
		cfg:          normalizeReaperConfig(opts.Config),
		timeProvider: opts.TimeProvider,
		logger:       logger.With("component", "reaper_service"),
		metrics:      opts.Metrics,
	}, nil
}

// MustNewReaperService constructs a new ReaperService and panics on error.
func MustNewReaperService(opts ReaperServiceOptions) *ReaperService {
	svc, err := NewReaperService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create ReaperService: %v", err))
	}
	return svc
}

// normalizeReaperConfig fills zero fields from the defaults.
func normalizeReaperConfig(cfg *core.ReaperConfig) core.ReaperConfig {
	out := core.DefaultReaperConfig()
	if cfg == nil {
		return out
	}
	if cfg.Interval > 0 {
		out.Interval = cfg.Interval
	}
	if cfg.RunningMaxAge > 0 {
		out.RunningMaxAge = cfg.RunningMaxAge
	}
	if cfg.HistoryMaxAge > 0 {
		out.HistoryMaxAge = cfg.HistoryMaxAge
	}
	if cfg.HistoryKeepPerJob > 0 {
		out.HistoryKeepPerJob = cfg.HistoryKeepPerJob
	}
	if cfg.AgentExpiry > 0 {
		out.AgentExpiry = cfg.AgentExpiry
	}
	if cfg.BatchSize > 0 {
		out.BatchSize = cfg.BatchSize
	}
	return out
}

// Run starts the cleanup loop and blocks until the context is cancelled.
// Returns nil on graceful shutdown.
func (s *ReaperService) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "reaper starting",
		"interval", s.cfg.Interval,
		"running_max_age", s.cfg.RunningMaxAge,
		"history_max_age", s.cfg.HistoryMaxAge,
		"history_keep_per_job", s.cfg.HistoryKeepPerJob)

	// Jitter the first pass so replicas starting together do not stampede
	// the advisory locks.
	s.waitWithJitter(ctx)
	if ctx.Err() == nil {
		s.runCleanup(ctx)
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "reaper stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			s.runCleanup(ctx)
		}
	}
}

// waitWithJitter sleeps up to 10% of the interval before the first pass.
func (s *ReaperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.cfg.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// Jitter is a nicety; start immediately rather than failing.
		return
	}
	jitter := time.Duration(int64(binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter))) // #nosec G115 - bounded by maxJitter

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}

// RunOnce performs a single cleanup pass. The admin CLI calls this
// directly; Run calls it on every tick.
func (s *ReaperService) RunOnce(ctx context.Context) error {
	return s.runCleanup(ctx)
}

type cleanupStep struct {
	operation string
	fn        func(context.Context) (int64, error)
}

// runCleanup executes every cleanup step, continuing past individual
// failures; a broken step must not shield the others.
func (s *ReaperService) runCleanup(ctx context.Context) error {
	start := time.Now()
	var errs []error

	steps := []cleanupStep{
		{operation: "fail_stale_running", fn: s.failStaleRunning},
		{operation: "delete_old_history", fn: s.deleteOldHistory},
		{operation: "trim_job_history", fn: s.trimJobHistory},
		{operation: "expire_offline_agents", fn: s.expireOfflineAgents},
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		count, err := step.fn(ctx)
		s.emitStepMetric(step.operation, count, err)
		if err != nil {
			if isContextCancellation(err) {
				return err
			}
			s.logger.ErrorContext(ctx, "cleanup step failed",
				"operation", step.operation, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", step.operation, err))
			continue
		}
		if count > 0 {
			s.logger.InfoContext(ctx, "cleanup step finished",
				"operation", step.operation, "rows", count)
		}
	}

	if s.metrics != nil {
		s.metrics.Timing("reaper.cleanup_duration", time.Since(start), nil)
		if len(errs) == 0 {
			s.metrics.Gauge("reaper.last_success_epoch", float64(time.Now().Unix()), nil)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("cleanup failed: %w", errors.Join(errs...))
	}
	return nil
}

// failStaleRunning forces running rows without a terminal write past the
// max age to failed, in batches until a pass comes back empty.
func (s *ReaperService) failStaleRunning(ctx context.Context) (int64, error) {
	var total int64
	for {
		count, err := s.history.FailStaleRunning(ctx, s.cfg.RunningMaxAge, s.cfg.BatchSize)
		total += count
		if err != nil || count == 0 {
			return total, err
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}

// deleteOldHistory applies age-based retention to terminal rows.
func (s *ReaperService) deleteOldHistory(ctx context.Context) (int64, error) {
	if s.cfg.HistoryMaxAge <= 0 {
		return 0, nil
	}
	var total int64
	for {
		count, err := s.history.DeleteOldExecutions(ctx, core.DeleteOldExecutionsParams{
			MaxAge:    s.cfg.HistoryMaxAge,
			BatchSize: s.cfg.BatchSize,
		})
		total += count
		if err != nil || count == 0 {
			return total, err
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}

// trimJobHistory applies count-based retention per job. Live rows neither
// consume keep slots nor get deleted.
func (s *ReaperService) trimJobHistory(ctx context.Context) (int64, error) {
	if s.cfg.HistoryKeepPerJob <= 0 {
		return 0, nil
	}
	var total int64
	for {
		count, err := s.history.TrimJobHistory(ctx, core.TrimJobHistoryParams{
			KeepPerJob: s.cfg.HistoryKeepPerJob,
			BatchSize:  s.cfg.BatchSize,
		})
		total += count
		if err != nil || count == 0 {
			return total, err
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}

// expireOfflineAgents removes registry rows for agents offline past the
// expiry. Their assignments were failed by the orphan sweep long before.
func (s *ReaperService) expireOfflineAgents(ctx context.Context) (int64, error) {
	if s.agents == nil || s.cfg.AgentExpiry <= 0 {
		return 0, nil
	}
	cutoff := s.timeProvider.Now().Add(-s.cfg.AgentExpiry)
	return s.agents.DeleteOffline(ctx, cutoff)
}

func (s *ReaperService) emitStepMetric(operation string, count int64, err error) {
	if s.metrics == nil {
		return
	}

	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	} else if count == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{
		"operation": operation,
		"result":    result,
	}
	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("reaper.cleanup_operation", 1, tags)
	if err == nil && count > 0 {
		s.metrics.Count("reaper.rows_processed", count, metrics.CloneTags(tags))
	}
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
