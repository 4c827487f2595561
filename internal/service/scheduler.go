package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jobmill/jobmill/internal/core"
	"github.com/jobmill/jobmill/internal/data"
	domainjob "github.com/jobmill/jobmill/internal/domain/job"
	"github.com/jobmill/jobmill/internal/domain/model"
	domainscheduler "github.com/jobmill/jobmill/internal/domain/scheduler"
	obserrors "github.com/jobmill/jobmill/internal/observability/errors"
	"github.com/jobmill/jobmill/internal/observability/metrics"
	"github.com/jobmill/jobmill/internal/observability/statsd"
)

// SchedulerServiceOptions groups dependencies for SchedulerService.
type SchedulerServiceOptions struct {
	Jobs         core.JobConfigRepository // Required: source of enabled jobs to plan
	Executor     core.JobExecutor         // Required: runs fires
	Notifier     domainjob.Notifier       // Optional: configuration-change wakeups
	Config       *core.SchedulerConfig    // Optional: loop tuning, zero fields use defaults
	TimeProvider data.TimeProvider        // Optional: clock
	Logger       *slog.Logger             // Optional: structured logger
	Metrics      statsd.Sink              // Optional: metrics sink (StatsD-compatible)
}

// SchedulerService owns the fire plan: a queue of upcoming occurrences for
// every enabled job, ordered by fire time, drained into a bounded worker
// pool. The loop sleeps until the earliest planned fire and rebuilds the
// plan from the store on configuration-change notifications, so edits take
// effect without restarts.
//
// Occurrences missed while the process was down are coalesced: a fire
// later than the misfire grace is skipped and the job resumes at its next
// occurrence computed from now. Executor failures are logged per fire and
// never stop the loop.
type SchedulerService struct {
	jobs         core.JobConfigRepository
	executor     core.JobExecutor
	notifier     domainjob.Notifier
	cfg          core.SchedulerConfig
	timeProvider data.TimeProvider
	logger       *slog.Logger
	metrics      statsd.Sink

	// queue and lastReplan belong to the Run goroutine.
	queue      *domainscheduler.FireQueue
	lastReplan time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewSchedulerService constructs a new SchedulerService.
func NewSchedulerService(opts SchedulerServiceOptions) (*SchedulerService, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobConfigRepository is required")
	}
	if opts.Executor == nil {
		return nil, errors.New("JobExecutor is required")
	}
	if opts.TimeProvider == nil {
		opts.TimeProvider = &data.RealTimeProvider{}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &SchedulerService{
		jobs:         opts.Jobs,
		executor:     opts.Executor,
		notifier:     opts.Notifier,
		cfg:          normalizeSchedulerConfig(opts.Config),
		timeProvider: opts.TimeProvider,
		logger:       logger.With("component", "scheduler_service"),
		metrics:      opts.Metrics,
		queue:        domainscheduler.NewFireQueue(),
		inflight:     make(map[string]struct{}),
	}, nil
}

// MustNewSchedulerService constructs a new SchedulerService and panics on error.
func MustNewSchedulerService(opts SchedulerServiceOptions) *SchedulerService {
	svc, err := NewSchedulerService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create SchedulerService: %v", err))
	}
	return svc
}

// normalizeSchedulerConfig fills zero fields from the defaults.
func normalizeSchedulerConfig(cfg *core.SchedulerConfig) core.SchedulerConfig {
	out := core.DefaultSchedulerConfig()
	if cfg == nil {
		return out
	}
	if cfg.Workers > 0 {
		out.Workers = cfg.Workers
	}
	if cfg.QueueSize > 0 {
		out.QueueSize = cfg.QueueSize
	}
	if cfg.MisfireGrace > 0 {
		out.MisfireGrace = cfg.MisfireGrace
	}
	if cfg.RefreshInterval > 0 {
		out.RefreshInterval = cfg.RefreshInterval
	}
	if cfg.ShutdownGrace > 0 {
		out.ShutdownGrace = cfg.ShutdownGrace
	}
	return out
}

// fireRequest is one scheduled occurrence handed to a worker.
type fireRequest struct {
	JobID       string
	JobName     string
	ScheduledAt time.Time
}

// Run drives the scheduler until ctx is cancelled: plan, sleep until the
// earliest fire, hand due work to the pool, reschedule. On cancellation
// it stops accepting fires and waits up to the shutdown grace for
// in-flight executions before cancelling them.
func (s *SchedulerService) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "scheduler starting",
		"workers", s.cfg.Workers,
		"queue_size", s.cfg.QueueSize,
		"misfire_grace", s.cfg.MisfireGrace)

	var wake <-chan struct{}
	if s.notifier != nil {
		unsubscribe, ch := s.notifier.Subscribe(domainjob.TopicJobs)
		defer unsubscribe()
		wake = ch
	}

	workCh := make(chan fireRequest, s.cfg.QueueSize)

	// Workers run past loop cancellation so the shutdown grace can drain
	// in-flight executions; workerCancel is the hard stop.
	workerCtx, workerCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer workerCancel()

	var wg sync.WaitGroup
	for range s.cfg.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(workerCtx, workCh)
		}()
	}

	now := s.timeProvider.Now()
	s.replan(ctx, now)

	timer := time.NewTimer(s.untilNextWake(now))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			close(workCh)
			return s.drainWorkers(ctx, workerCancel, &wg)

		case <-wake:
			s.replan(ctx, s.timeProvider.Now())

		case <-timer.C:
			now := s.timeProvider.Now()
			if now.Sub(s.lastReplan) >= s.cfg.RefreshInterval {
				s.replan(ctx, now)
			}
			s.fireDue(ctx, now, workCh)
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.untilNextWake(s.timeProvider.Now()))
	}
}

// untilNextWake computes the sleep until the earliest planned fire,
// capped at the refresh interval so the plan never goes stale.
func (s *SchedulerService) untilNextWake(now time.Time) time.Duration {
	wait := s.cfg.RefreshInterval
	if next := s.queue.Peek(); next != nil {
		if until := next.FireAt.Sub(now); until < wait {
			wait = until
		}
	}
	if wait < 0 {
		return 0
	}
	return wait
}

// replan rebuilds the fire queue from every enabled job. Jobs whose
// schedules do not evaluate are logged and left unplanned; a listing
// failure keeps the previous plan.
func (s *SchedulerService) replan(ctx context.Context, now time.Time) {
	jobs, err := s.jobs.List(ctx, &model.JobListOptions{EnabledOnly: true})
	if err != nil {
		s.logger.ErrorContext(ctx, "replan failed, keeping previous plan", "error", err)
		s.countResult("scheduler.replan", metrics.ResultError, err)
		return
	}

	queue := domainscheduler.NewFireQueue()
	for _, job := range jobs {
		entry, buildErr := domainscheduler.BuildEntry(job, now)
		if buildErr != nil {
			if !errors.Is(buildErr, domainscheduler.ErrNotScheduled) {
				s.logger.WarnContext(ctx, "job schedule does not evaluate, leaving it unplanned",
					"job_id", job.ID, "job_name", job.Name, "error", buildErr)
			}
			continue
		}
		queue.Push(entry)
	}

	s.queue = queue
	s.lastReplan = now
	s.countResult("scheduler.replan", metrics.ResultSuccess, nil)
	s.logger.DebugContext(ctx, "rebuilt fire plan", "planned", queue.Len(), "enabled", len(jobs))
}

// fireDue pops every due entry, offers it to the worker pool, and
// reschedules it from now. Rescheduling from now (not from the fire
// instant) is what coalesces occurrences missed while the loop was away.
func (s *SchedulerService) fireDue(ctx context.Context, now time.Time, workCh chan<- fireRequest) {
	for {
		next := s.queue.Peek()
		if next == nil || next.FireAt.After(now) {
			break
		}
		entry := s.queue.Pop()
		s.offer(ctx, entry, now, workCh)
		if entry.Reschedule(now) {
			s.queue.Push(entry)
		} else {
			s.logger.DebugContext(ctx, "schedule exhausted",
				"job_id", entry.JobID, "job_name", entry.JobName)
		}
	}
	if s.metrics != nil {
		s.metrics.Gauge("scheduler.queue_depth", float64(len(workCh)), nil)
	}
}

// offer hands one due entry to the worker pool unless the fire is past
// the misfire grace, the previous run is still in flight, or the handoff
// queue is full.
func (s *SchedulerService) offer(
	ctx context.Context,
	entry *domainscheduler.Entry,
	now time.Time,
	workCh chan<- fireRequest,
) {
	if late := now.Sub(entry.FireAt); late > s.cfg.MisfireGrace {
		s.logger.WarnContext(ctx, "skipping misfired job",
			"job_id", entry.JobID, "job_name", entry.JobName, "late", late)
		s.countMisfire("late")
		return
	}

	if !s.markInflight(entry.JobID) {
		s.logger.DebugContext(ctx, "previous run still in flight, skipping fire",
			"job_id", entry.JobID, "job_name", entry.JobName)
		return
	}

	req := fireRequest{JobID: entry.JobID, JobName: entry.JobName, ScheduledAt: entry.FireAt}
	select {
	case workCh <- req:
	default:
		s.clearInflight(entry.JobID)
		s.logger.WarnContext(ctx, "worker queue full, dropping fire",
			"job_id", entry.JobID, "job_name", entry.JobName)
		s.countMisfire("queue_full")
	}
}

func (s *SchedulerService) worker(ctx context.Context, workCh <-chan fireRequest) {
	for req := range workCh {
		s.runFire(ctx, req)
	}
}

// runFire executes one scheduled occurrence. Executor errors are logged,
// never propagated: one broken job must not stall the loop.
func (s *SchedulerService) runFire(ctx context.Context, req fireRequest) {
	defer s.clearInflight(req.JobID)

	outcome, err := s.executor.ExecuteJob(ctx, core.ExecuteJobRequest{
		JobID:       req.JobID,
		Mode:        model.ExecutionModeScheduled,
		Actor:       "scheduler",
		ScheduledAt: req.ScheduledAt,
	})
	switch {
	case err != nil:
		s.logger.ErrorContext(ctx, "scheduled execution failed",
			"job_id", req.JobID, "job_name", req.JobName, "error", err)
		s.countResult("scheduler.fire", metrics.ResultError, err)
	case outcome == nil:
		// The executor gated the fire out (disabled, overlap, duplicate claim).
		s.countResult("scheduler.fire", metrics.ResultNoop, nil)
	default:
		s.logger.DebugContext(ctx, "scheduled execution finished",
			"job_id", req.JobID, "execution_id", outcome.ExecutionID, "status", outcome.Status)
		s.countResult("scheduler.fire", metrics.ResultSuccess, nil)
	}
}

// drainWorkers waits for in-flight executions up to the shutdown grace,
// then cancels whatever remains. Plain cancellation is a clean stop.
func (s *SchedulerService) drainWorkers(
	ctx context.Context,
	cancel context.CancelFunc,
	wg *sync.WaitGroup,
) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.InfoContext(ctx, "scheduler stopped")
	case <-time.After(s.cfg.ShutdownGrace):
		s.logger.WarnContext(ctx, "shutdown grace expired, cancelling in-flight executions")
		cancel()
		<-done
	}

	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// markInflight records a fire for jobID unless one is already queued or
// running, keeping scheduled runs to one instance per job in this process.
func (s *SchedulerService) markInflight(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inflight[jobID]; ok {
		return false
	}
	s.inflight[jobID] = struct{}{}
	return true
}

func (s *SchedulerService) clearInflight(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, jobID)
}

func (s *SchedulerService) countResult(name, result string, err error) {
	if s.metrics == nil {
		return
	}
	tags := map[string]string{"result": result}
	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}
	s.metrics.Count(name, 1, tags)
}

func (s *SchedulerService) countMisfire(reason string) {
	if s.metrics == nil {
		return
	}
	s.metrics.Count("scheduler.misfire", 1, map[string]string{"reason": reason})
}
