package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jobmill/jobmill/internal/core"
	"github.com/jobmill/jobmill/internal/data"
	domainjob "github.com/jobmill/jobmill/internal/domain/job"
	"github.com/jobmill/jobmill/internal/domain/jobdef"
	"github.com/jobmill/jobmill/internal/domain/model"
	apperrors "github.com/jobmill/jobmill/internal/errors"
	"github.com/jobmill/jobmill/internal/observability/metrics"
	"github.com/jobmill/jobmill/internal/observability/notify"
	"github.com/jobmill/jobmill/internal/observability/statsd"
)

// FailureNotifier receives final failure events, after retries are
// exhausted. *failurenotifier.Service implements it.
type FailureNotifier interface {
	NotifyJobFailure(ctx context.Context, payload notify.JobFailurePayload)
}

// ExecutorServiceOptions groups dependencies for ExecutorService.
type ExecutorServiceOptions struct {
	Jobs            core.JobConfigRepository // Required: job configuration repository
	History         core.ExecutionRepository // Required: execution history repository
	Backends        *core.BackendRegistry    // Required: per-type execution backends
	FireGuard       *core.FireGuard          // Optional: cross-replica scheduled-fire dedupe
	RetryPolicy     *domainjob.RetryPolicy   // Optional: retry defaults (30s delay otherwise)
	FailureNotifier FailureNotifier          // Optional: final-failure fan-out
	TimeProvider    data.TimeProvider        // Optional: clock
	Logger          *slog.Logger             // Optional: structured logger
	Metrics         statsd.Sink              // Optional: metrics sink (StatsD-compatible)
}

// ExecutorService runs one job end to end: gating, history bookkeeping,
// backend dispatch, the terminal write, and retry scheduling.
//
// Gating rules:
//   - absent job: not_found
//   - disabled job: scheduled/retry fires skip silently, manual runs are
//     forbidden
//   - live execution for the job: scheduled fires are dropped with a
//     warning, manual runs conflict unless forced
//
// History writes are non-fatal: a failed insert or terminal update is
// logged and swallowed so the run itself never dies on bookkeeping.
type ExecutorService struct {
	jobs         core.JobConfigRepository
	history      core.ExecutionRepository
	backends     *core.BackendRegistry
	guard        *core.FireGuard
	retryPolicy  *domainjob.RetryPolicy
	notifier     FailureNotifier
	timeProvider data.TimeProvider
	logger       *slog.Logger
	metrics      statsd.Sink

	running *runningSet

	retryCtx    context.Context
	retryCancel context.CancelFunc
	retryWG     sync.WaitGroup
}

// NewExecutorService constructs a new ExecutorService.
func NewExecutorService(opts ExecutorServiceOptions) (*ExecutorService, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobConfigRepository is required")
	}
	if opts.History == nil {
		return nil, errors.New("ExecutionRepository is required")
	}
	if opts.Backends == nil {
		return nil, errors.New("BackendRegistry is required")
	}
	if opts.TimeProvider == nil {
		opts.TimeProvider = &data.RealTimeProvider{}
	}

	retryPolicy := opts.RetryPolicy
	if retryPolicy == nil {
		var err error
		retryPolicy, err = domainjob.NewRetryPolicy(30*time.Second, false)
		if err != nil {
			return nil, fmt.Errorf("create retry policy: %w", err)
		}
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "executor_service")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &ExecutorService{
		jobs:         opts.Jobs,
		history:      opts.History,
		backends:     opts.Backends,
		guard:        opts.FireGuard,
		retryPolicy:  retryPolicy,
		notifier:     opts.FailureNotifier,
		timeProvider: opts.TimeProvider,
		logger:       logger,
		metrics:      opts.Metrics,
		running:      newRunningSet(),
		retryCtx:     ctx,
		retryCancel:  cancel,
	}, nil
}

// MustNewExecutorService constructs a new ExecutorService and panics on error.
func MustNewExecutorService(opts ExecutorServiceOptions) *ExecutorService {
	svc, err := NewExecutorService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create ExecutorService: %v", err))
	}
	return svc
}

// ExecuteJob runs one job. Scheduled fires that gate out (disabled job,
// live execution, duplicate fire claim) return (nil, nil); manual runs get
// the matching error instead. A job whose configuration cannot execute
// (unparseable YAML, unregistered type) records a failed execution and
// returns that outcome alongside a backend error.
func (s *ExecutorService) ExecuteJob(ctx context.Context, req core.ExecuteJobRequest) (*model.ExecutionOutcome, error) {
	if req.JobID == "" {
		return nil, apperrors.ValidationField("job_id", "job_id is required")
	}
	mode := req.Mode
	if mode == "" {
		mode = model.ExecutionModeManual
	}
	if !mode.Valid() {
		return nil, apperrors.ValidationField("mode", fmt.Sprintf("invalid execution mode %q", req.Mode))
	}

	job, err := s.jobs.GetByID(ctx, req.JobID)
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", req.JobID, err)
	}

	return s.executeAttempt(ctx, job, attemptParams{
		Mode:        mode,
		Actor:       req.Actor,
		Force:       req.Force,
		ScheduledAt: req.ScheduledAt,
	})
}

// CancelRunning cancels an inline execution on this host by killing its
// backend context (and with it the child process group). Returns false when
// the execution is not running here.
func (s *ExecutorService) CancelRunning(executionID string) bool {
	return s.running.cancel(executionID)
}

// Close stops accepting retry timers and waits for pending ones to drain.
// In-flight executions are owned by their callers' contexts.
func (s *ExecutorService) Close() {
	s.retryCancel()
	s.retryWG.Wait()
}

// attemptParams carries one execution attempt through the pipeline. Retries
// re-enter here with the lineage fields set.
type attemptParams struct {
	Mode        model.ExecutionMode
	Actor       string
	Force       bool
	ScheduledAt time.Time
	RetryCount  int
	RetryOf     string
}

func (s *ExecutorService) executeAttempt(ctx context.Context, job *model.Job, p attemptParams) (*model.ExecutionOutcome, error) {
	if p.Actor == "" {
		p.Actor = defaultActor(p.Mode)
	}
	automatic := p.Mode != model.ExecutionModeManual

	if !job.Enabled {
		if automatic {
			if s.logger != nil {
				s.logger.DebugContext(ctx, "skipping disabled job", "job_id", job.ID, "mode", p.Mode)
			}
			return nil, nil
		}
		return nil, apperrors.Forbiddenf("job %s is disabled", job.ID)
	}

	proceed, err := s.gateOverlap(ctx, job, p, automatic)
	if err != nil || !proceed {
		return nil, err
	}

	if automatic && !p.ScheduledAt.IsZero() {
		owned, guardErr := s.guard.TryAcquire(ctx, job.ID, p.ScheduledAt)
		if guardErr != nil && s.logger != nil {
			s.logger.WarnContext(ctx, "fire guard unavailable, allowing fire", "job_id", job.ID, "error", guardErr)
		}
		if !owned {
			if s.logger != nil {
				s.logger.DebugContext(ctx, "duplicate scheduled fire suppressed",
					"job_id", job.ID,
					"scheduled_at", p.ScheduledAt,
				)
			}
			return nil, nil
		}
	}

	doc, parseErr := jobdef.Parse(job.YAML)
	if parseErr != nil {
		outcome := s.recordConfigFailure(ctx, job, p, "job configuration does not parse: "+parseErr.Error())
		s.notifyFailure(ctx, job, "", p, outcome)
		return outcome, apperrors.Backendf("job %s configuration does not parse", job.ID)
	}
	backend, ok := s.backends.Resolve(doc.Type)
	if !ok {
		outcome := s.recordConfigFailure(ctx, job, p, fmt.Sprintf("unknown job type %q", doc.Type))
		s.notifyFailure(ctx, job, string(doc.Type), p, outcome)
		return outcome, apperrors.Backendf("unknown job type %q", doc.Type)
	}

	return s.runBackend(ctx, job, doc, backend, p)
}

// gateOverlap applies the single-live-execution rule. proceed=false with a
// nil error means the fire was silently dropped.
func (s *ExecutorService) gateOverlap(ctx context.Context, job *model.Job, p attemptParams, automatic bool) (bool, error) {
	live, err := s.history.CountLive(ctx, job.ID)
	if err != nil {
		return false, fmt.Errorf("count live executions for job %s: %w", job.ID, err)
	}
	if live == 0 {
		return true, nil
	}
	if automatic {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "dropping fire, job already has a live execution",
				"job_id", job.ID,
				"live", live,
				"mode", p.Mode,
			)
		}
		s.countDrop("overlap")
		return false, nil
	}
	if !p.Force {
		return false, apperrors.AlreadyRunning(job.ID)
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "forced run past live execution", "job_id", job.ID, "actor", p.Actor)
	}
	return true, nil
}

func (s *ExecutorService) runBackend(ctx context.Context, job *model.Job, doc *jobdef.Document, backend core.Backend, p attemptParams) (*model.ExecutionOutcome, error) {
	startTime := s.timeProvider.Now()
	timezone := "UTC"
	if doc.Schedule != nil && doc.Schedule.Timezone != "" {
		timezone = doc.Schedule.Timezone
	}

	executionID := s.recordStart(ctx, job, doc, p, timezone)
	metrics.EmitExecutionStarted(s.metrics, string(doc.Type), string(p.Mode))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if executionID != "" {
		s.running.add(executionID, cancel)
		defer s.running.remove(executionID)
	}

	deadline := startTime.Add(time.Duration(doc.TimeoutSeconds()) * time.Second)
	result, execErr := backend.Execute(runCtx, &core.BackendRequest{
		Job:         job,
		Def:         doc,
		ExecutionID: executionID,
		Deadline:    deadline,
	})

	outcome := &model.ExecutionOutcome{ExecutionID: executionID, JobID: job.ID}
	switch {
	case execErr != nil:
		// The backend could not even attempt the work.
		outcome.Status = model.ExecutionStatusFailed
		outcome.Error = execErr.Error()
		s.recordFinish(ctx, executionID, model.FinishExecutionParams{
			ExecutionID:  executionID,
			Status:       model.ExecutionStatusFailed,
			ErrorMessage: execErr.Error(),
		})
	case !result.TerminalNow:
		// Agent handoff: dispatch owns the row from here.
		outcome.Status = model.ExecutionStatusQueued
		outcome.Output = result.Output
	default:
		status := terminalStatus(result, s.running.wasCancelRequested(executionID))
		outcome.Status = status
		outcome.Output = result.Output
		outcome.Error = result.Error
		outcome.ReturnCode = result.ReturnCode
		s.recordFinish(ctx, executionID, model.FinishExecutionParams{
			ExecutionID:  executionID,
			Status:       status,
			OutputLog:    result.Output,
			ErrorMessage: result.Error,
			ReturnCode:   result.ReturnCode,
			Metadata:     result.Metadata,
		})
	}

	s.emitFinished(doc, p, outcome, startTime, execErr)
	if !s.maybeScheduleRetry(ctx, job, doc, p, outcome) {
		s.notifyFailure(ctx, job, string(doc.Type), p, outcome)
	}
	return outcome, nil
}

// terminalStatus maps a backend result onto the history status. A cancel
// requested through CancelRunning wins over the exit classification: the
// kill produced the failure.
func terminalStatus(result *core.BackendResult, cancelRequested bool) model.ExecutionStatus {
	switch {
	case cancelRequested:
		return model.ExecutionStatusCancelled
	case result.TimedOut:
		return model.ExecutionStatusTimeout
	case result.Success:
		return model.ExecutionStatusSuccess
	default:
		return model.ExecutionStatusFailed
	}
}

// recordStart inserts the running history row. An empty return means the
// insert failed; the run continues without bookkeeping.
func (s *ExecutorService) recordStart(ctx context.Context, job *model.Job, doc *jobdef.Document, p attemptParams, timezone string) string {
	exec, err := s.history.Start(ctx, model.StartExecutionParams{
		JobID:      job.ID,
		JobName:    job.Name,
		Mode:       p.Mode,
		ExecutedBy: p.Actor,
		Timezone:   timezone,
		RetryCount: p.RetryCount,
		MaxRetries: doc.MaxRetries,
		Metadata:   lineageMetadata(p),
	})
	if err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to record execution start, running without history",
				"job_id", job.ID,
				"error", err,
			)
		}
		return ""
	}
	return exec.ID
}

// recordFinish performs the terminal write when a start row exists. The
// write is non-fatal; an already-terminal conflict (a concurrent cancel or
// reap won the race) downgrades to a debug log.
func (s *ExecutorService) recordFinish(ctx context.Context, executionID string, params model.FinishExecutionParams) {
	if executionID == "" {
		return
	}
	if _, err := s.history.Finish(ctx, params); err != nil {
		if s.logger == nil {
			return
		}
		if apperrors.IsConflict(err) {
			s.logger.DebugContext(ctx, "execution already terminal", "execution_id", executionID)
			return
		}
		s.logger.WarnContext(ctx, "failed to record execution end",
			"execution_id", executionID,
			"error", err,
		)
	}
}

// recordConfigFailure writes a start+failed pair for a job whose
// configuration cannot execute, so the history shows the attempt.
func (s *ExecutorService) recordConfigFailure(ctx context.Context, job *model.Job, p attemptParams, reason string) *model.ExecutionOutcome {
	exec, err := s.history.Start(ctx, model.StartExecutionParams{
		JobID:      job.ID,
		JobName:    job.Name,
		Mode:       p.Mode,
		ExecutedBy: p.Actor,
		Timezone:   "UTC",
		RetryCount: p.RetryCount,
		Metadata:   lineageMetadata(p),
	})
	if err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to record execution start", "job_id", job.ID, "error", err)
		}
		return &model.ExecutionOutcome{JobID: job.ID, Status: model.ExecutionStatusFailed, Error: reason}
	}
	s.recordFinish(ctx, exec.ID, model.FinishExecutionParams{
		ExecutionID:  exec.ID,
		Status:       model.ExecutionStatusFailed,
		ErrorMessage: reason,
	})
	return &model.ExecutionOutcome{
		ExecutionID: exec.ID,
		JobID:       job.ID,
		Status:      model.ExecutionStatusFailed,
		Error:       reason,
	}
}

// maybeScheduleRetry queues a delayed new attempt when the outcome and the
// job's retry policy call for one. Returns true when a retry was scheduled.
func (s *ExecutorService) maybeScheduleRetry(ctx context.Context, job *model.Job, doc *jobdef.Document, p attemptParams, outcome *model.ExecutionOutcome) bool {
	if !s.retryPolicy.ShouldRetry(outcome.Status, p.RetryCount, doc.MaxRetries, doc.RetryOnTimeout) {
		return false
	}
	decision := s.retryPolicy.Delay(time.Duration(doc.RetryDelay) * time.Second)
	next := p.RetryCount + 1
	if s.logger != nil {
		s.logger.InfoContext(ctx, "scheduling retry",
			"job_id", job.ID,
			"prior_execution_id", outcome.ExecutionID,
			"retry_count", next,
			"max_retries", doc.MaxRetries,
			"delay", decision.Duration(),
		)
	}
	s.scheduleRetry(retrySpec{
		JobID:   job.ID,
		PriorID: outcome.ExecutionID,
		Attempt: next,
		Actor:   p.Actor,
		Delay:   decision.Duration(),
	})
	return true
}

// notifyFailure fans out a final failed or timed-out outcome. Cancelled
// executions are operator actions and stay quiet.
func (s *ExecutorService) notifyFailure(ctx context.Context, job *model.Job, jobType string, p attemptParams, outcome *model.ExecutionOutcome) {
	if s.notifier == nil || outcome == nil {
		return
	}
	if outcome.Status != model.ExecutionStatusFailed && outcome.Status != model.ExecutionStatusTimeout {
		return
	}
	s.notifier.NotifyJobFailure(ctx, notify.JobFailurePayload{
		JobID:       job.ID,
		JobName:     job.Name,
		JobType:     jobType,
		ExecutionID: outcome.ExecutionID,
		Mode:        string(p.Mode),
		Error:       outcome.Error,
		OccurredAt:  s.timeProvider.Now(),
	})
}

type retrySpec struct {
	JobID   string
	PriorID string
	Attempt int
	Actor   string
	Delay   time.Duration
}

func (s *ExecutorService) scheduleRetry(spec retrySpec) {
	s.retryWG.Add(1)
	go func() {
		defer s.retryWG.Done()
		timer := time.NewTimer(spec.Delay)
		defer timer.Stop()
		select {
		case <-s.retryCtx.Done():
			return
		case <-timer.C:
		}
		s.runRetry(spec)
	}()
}

// runRetry re-reads the job (the config may have changed during the delay)
// and feeds a fresh attempt through the normal pipeline.
func (s *ExecutorService) runRetry(spec retrySpec) {
	ctx := s.retryCtx
	job, err := s.jobs.GetByID(ctx, spec.JobID)
	if err != nil {
		if s.logger != nil && !apperrors.IsNotFound(err) {
			s.logger.WarnContext(ctx, "retry aborted, job load failed", "job_id", spec.JobID, "error", err)
		}
		return
	}
	if _, err := s.executeAttempt(ctx, job, attemptParams{
		Mode:       model.ExecutionModeRetry,
		Actor:      spec.Actor,
		RetryCount: spec.Attempt,
		RetryOf:    spec.PriorID,
	}); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "retry attempt failed", "job_id", spec.JobID, "error", err)
	}
}

// lineageMetadata builds the retry lineage document stored on the row.
func lineageMetadata(p attemptParams) json.RawMessage {
	if p.RetryOf == "" {
		return nil
	}
	b, err := json.Marshal(map[string]string{"retry_of": p.RetryOf})
	if err != nil {
		return nil
	}
	return b
}

func defaultActor(mode model.ExecutionMode) string {
	switch mode {
	case model.ExecutionModeScheduled:
		return "scheduler"
	case model.ExecutionModeRetry:
		return "retry"
	default:
		return "api"
	}
}

func (s *ExecutorService) countDrop(reason string) {
	if s.metrics == nil {
		return
	}
	s.metrics.Count("execution.dropped", 1, map[string]string{"reason": reason})
}

func (s *ExecutorService) emitFinished(doc *jobdef.Document, p attemptParams, outcome *model.ExecutionOutcome, startTime time.Time, execErr error) {
	result := metrics.ResultSuccess
	if outcome.Status != model.ExecutionStatusSuccess && outcome.Status != model.ExecutionStatusQueued {
		result = metrics.ResultError
	}
	metrics.EmitExecutionFinished(s.metrics, metrics.ExecutionMetric{
		JobType:  string(doc.Type),
		Mode:     string(p.Mode),
		Status:   string(outcome.Status),
		Result:   result,
		Duration: s.timeProvider.Now().Sub(startTime),
		Err:      execErr,
	})
}

// runningSet tracks inline executions on this host so cancel requests can
// reach their contexts.
type runningSet struct {
	mu      sync.Mutex
	entries map[string]*runningEntry
}

type runningEntry struct {
	cancel          context.CancelFunc
	cancelRequested bool
}

func newRunningSet() *runningSet {
	return &runningSet{entries: make(map[string]*runningEntry)}
}

func (r *runningSet) add(executionID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[executionID] = &runningEntry{cancel: cancel}
}

func (r *runningSet) remove(executionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, executionID)
}

// cancel requests cancellation; true means an inline execution was found
// and its context cancelled.
func (r *runningSet) cancel(executionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[executionID]
	if !ok {
		return false
	}
	entry.cancelRequested = true
	entry.cancel()
	return true
}

// wasCancelRequested reports whether cancel was called for the id while it
// was tracked. Read before remove on the execution path.
func (r *runningSet) wasCancelRequested(executionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[executionID]
	return ok && entry.cancelRequested
}
