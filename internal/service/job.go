package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jobmill/jobmill/internal/core"
	"github.com/jobmill/jobmill/internal/data"
	"github.com/jobmill/jobmill/internal/domain/jobdef"
	"github.com/jobmill/jobmill/internal/domain/model"
	"github.com/jobmill/jobmill/internal/domain/trigger"
	apperrors "github.com/jobmill/jobmill/internal/errors"
)

const (
	// jobListCacheKey holds the flattened default job listing.
	jobListCacheKey = "jobmill:jobs:list"
	// jobListCacheTTL bounds staleness if an invalidation is ever missed.
	jobListCacheTTL = 30 * time.Second
)

// JobServiceOptions groups dependencies for JobService.
type JobServiceOptions struct {
	Repo         core.JobConfigRepository // Required: job configuration repository
	Cache        core.CacheRepository     // Optional: flattened list cache
	TimeProvider data.TimeProvider        // Optional: clock for validation grading
	Logger       *slog.Logger             // Optional: structured logger
}

// JobService provides business logic for job configuration operations.
//
// The stored shape is a YAML blob; this service owns every derived view of
// it: parse-on-read flattening, the type filter for listings, flat-field
// updates re-rendered into a deterministic document, and the validation
// report behind the lint endpoint.
type JobService struct {
	repo         core.JobConfigRepository
	cache        core.CacheRepository
	timeProvider data.TimeProvider
	logger       *slog.Logger
}

// NewJobService constructs a new JobService.
func NewJobService(opts JobServiceOptions) (*JobService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobConfigRepository is required")
	}
	if opts.TimeProvider == nil {
		opts.TimeProvider = &data.RealTimeProvider{}
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "job_service")
	}

	return &JobService{
		repo:         opts.Repo,
		cache:        opts.Cache,
		timeProvider: opts.TimeProvider,
		logger:       logger,
	}, nil
}

// MustNewJobService constructs a new JobService and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewJobService(opts JobServiceOptions) *JobService {
	svc, err := NewJobService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create JobService: %v", err))
	}
	return svc
}

// Create stores a new job configuration. The name must be non-empty and at
// most 100 characters, and the YAML document must parse; anything beyond
// parseability is the lint endpoint's concern, not a create precondition.
func (s *JobService) Create(ctx context.Context, req *model.CreateJobRequest) (*model.JobView, error) {
	if req == nil {
		return nil, apperrors.Validation("request body is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}
	if _, err := jobdef.Parse(req.YAML); err != nil {
		return nil, apperrors.ValidationField("yaml_configuration", err.Error())
	}

	job, err := s.repo.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	s.invalidateListCache(ctx)

	view := s.buildView(job)
	if s.logger != nil {
		s.logger.DebugContext(ctx, "job created",
			"job_id", job.ID,
			"name", job.Name,
			"job_type", view.JobType,
		)
	}
	return view, nil
}

// Get returns the stored row flattened with its parsed configuration.
// Malformed stored YAML never fails a read: the view degrades to job_type
// "unknown" with default runtime values and carries the parse error.
func (s *JobService) Get(ctx context.Context, id string) (*model.JobView, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return s.buildView(job), nil
}

// List returns flattened job views, newest first. The job_type filter is
// evaluated against each row's parsed YAML because the type is not a
// column; when it is set the row fetch is unbounded and the limit applies
// to the filtered result.
func (s *JobService) List(ctx context.Context, opts model.JobListOptions) ([]*model.JobView, error) {
	cacheable := s.cache != nil && !opts.EnabledOnly && opts.JobType == "" && opts.Limit <= 0
	if cacheable {
		if views, ok := s.cachedList(ctx); ok {
			return views, nil
		}
	}

	repoOpts := opts
	if opts.JobType != "" {
		repoOpts.Limit = 0
	}
	jobs, err := s.repo.List(ctx, &repoOpts)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	views := make([]*model.JobView, 0, len(jobs))
	for _, job := range jobs {
		view := s.buildView(job)
		if opts.JobType != "" && view.JobType != opts.JobType {
			continue
		}
		views = append(views, view)
		if opts.JobType != "" && opts.Limit > 0 && len(views) >= opts.Limit {
			break
		}
	}

	if cacheable {
		s.storeListCache(ctx, views)
	}
	return views, nil
}

// Update patches a job configuration. A yaml_configuration in the request
// replaces the whole document; otherwise any flat schedule/runtime fields
// are applied to the parsed stored document and the YAML is re-rendered
// with its fixed key order. Name, description, and enabled patch columns
// directly and never touch the document.
func (s *JobService) Update(ctx context.Context, id string, req model.UpdateJobRequest) (*model.JobView, error) {
	if req.IsEmpty() {
		return nil, apperrors.Validation("no fields to update")
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, apperrors.ValidationField("name", "name is required")
		}
		if len(name) > model.MaxJobNameLength {
			return nil, apperrors.ValidationField("name", "name exceeds 100 characters")
		}
	}

	params := core.UpdateJobConfigParams{
		Name:        req.Name,
		Description: req.Description,
		Enabled:     req.Enabled,
	}
	switch {
	case req.YAML != nil:
		if _, err := jobdef.Parse(*req.YAML); err != nil {
			return nil, apperrors.ValidationField("yaml_configuration", err.Error())
		}
		params.YAML = req.YAML
	case hasFlatPatches(req):
		job, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get job %s: %w", id, err)
		}
		doc, err := jobdef.Parse(job.YAML)
		if err != nil {
			return nil, apperrors.ValidationField("yaml_configuration",
				"stored configuration does not parse; submit a full yaml_configuration to repair it")
		}
		if err := applyFlatPatches(doc, req); err != nil {
			return nil, err
		}
		rendered, err := doc.Render()
		if err != nil {
			return nil, fmt.Errorf("render job definition: %w", err)
		}
		params.YAML = &rendered
	}

	job, err := s.repo.Update(ctx, id, params)
	if err != nil {
		return nil, fmt.Errorf("update job %s: %w", id, err)
	}

	s.invalidateListCache(ctx)

	if s.logger != nil {
		s.logger.DebugContext(ctx, "job updated",
			"job_id", job.ID,
			"version", job.Version,
			"yaml_replaced", params.YAML != nil,
		)
	}
	return s.buildView(job), nil
}

// Delete removes a job configuration. Execution history survives: rows keep
// the denormalized job_name after the config row is gone.
func (s *JobService) Delete(ctx context.Context, id string) error {
	ok, err := s.repo.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	if !ok {
		return apperrors.NotFoundf("job %s not found", id)
	}

	s.invalidateListCache(ctx)

	if s.logger != nil {
		s.logger.InfoContext(ctx, "job deleted", "job_id", id)
	}
	return nil
}

// Toggle sets the enabled flag explicitly when enabled is non-nil, or flips
// the current value, and returns the resulting view.
func (s *JobService) Toggle(ctx context.Context, id string, enabled *bool) (*model.JobView, error) {
	job, err := s.repo.SetEnabled(ctx, id, enabled)
	if err != nil {
		return nil, fmt.Errorf("toggle job %s: %w", id, err)
	}

	s.invalidateListCache(ctx)

	if s.logger != nil {
		s.logger.DebugContext(ctx, "job toggled", "job_id", id, "enabled", job.Enabled)
	}
	return s.buildView(job), nil
}

// ValidateDefinition lints a YAML job definition without storing anything:
// structural checks per job type (including the restricted-SQL keyword
// scan) plus the schedule report graded against the current time.
func (s *JobService) ValidateDefinition(yaml string) *model.ValidationReport {
	report := model.NewValidationReport()
	doc, err := jobdef.Parse(yaml)
	if err != nil {
		report.Fail("yaml_configuration", err.Error())
		return report
	}
	report.Merge(doc.Validate())
	report.Merge(trigger.Validate(doc.Schedule, s.timeProvider.Now()))
	return report
}

// buildView flattens a stored row with its parsed configuration.
func (s *JobService) buildView(job *model.Job) *model.JobView {
	view := &model.JobView{Job: *job}
	doc, err := jobdef.Parse(job.YAML)
	if err != nil {
		applySummary(view, jobdef.UnknownSummary())
		view.ParseError = err.Error()
		return view
	}
	applySummary(view, doc.Summarize())
	return view
}

func applySummary(view *model.JobView, s jobdef.Summary) {
	view.JobType = s.JobType
	view.ScheduleType = s.ScheduleType
	view.ScheduleSummary = s.ScheduleSummary
	view.Timezone = s.Timezone
	view.TimeoutSeconds = s.TimeoutSeconds
	view.MaxRetries = s.MaxRetries
}

// hasFlatPatches reports whether the request patches the document itself
// rather than only the name/description/enabled columns.
func hasFlatPatches(req model.UpdateJobRequest) bool {
	return req.ScheduleType != nil || req.CronExpression != nil || req.IntervalSeconds != nil ||
		req.RunDate != nil || req.Timezone != nil || req.TimeoutSeconds != nil ||
		req.MaxRetries != nil || req.RetryDelaySecond != nil
}

// applyFlatPatches writes the flat schedule/runtime fields into the parsed
// document. The caller re-renders afterwards, so the canonical key order is
// preserved no matter which fields changed.
func applyFlatPatches(doc *jobdef.Document, req model.UpdateJobRequest) error {
	if patchesSchedule(req) && doc.Schedule == nil {
		doc.Schedule = &jobdef.Schedule{}
	}
	if req.ScheduleType != nil {
		t := jobdef.ScheduleType(strings.ToLower(strings.TrimSpace(*req.ScheduleType)))
		if !t.Valid() {
			return apperrors.ValidationField("schedule_type", fmt.Sprintf("unknown schedule type %q", *req.ScheduleType))
		}
		doc.Schedule.Type = t
	}
	if req.CronExpression != nil {
		// Expression wins over the cron alias, so clear the alias to keep
		// the rendered document unambiguous.
		doc.Schedule.Expression = strings.TrimSpace(*req.CronExpression)
		doc.Schedule.Cron = ""
	}
	if req.IntervalSeconds != nil {
		if *req.IntervalSeconds < 1 {
			return apperrors.ValidationField("interval_seconds", "interval must be at least 1 second")
		}
		doc.Schedule.Interval = &jobdef.Interval{Seconds: *req.IntervalSeconds}
	}
	if req.RunDate != nil {
		doc.Schedule.RunDate = strings.TrimSpace(*req.RunDate)
	}
	if req.Timezone != nil {
		doc.Schedule.Timezone = strings.TrimSpace(*req.Timezone)
	}
	if doc.Schedule != nil && doc.Schedule.Type == "" {
		doc.Schedule.Type = inferScheduleType(doc.Schedule)
	}

	if req.TimeoutSeconds != nil {
		if *req.TimeoutSeconds < 0 {
			return apperrors.ValidationField("timeout_seconds", "timeout must be positive")
		}
		doc.Timeout = *req.TimeoutSeconds
	}
	if req.MaxRetries != nil {
		if *req.MaxRetries < 0 {
			return apperrors.ValidationField("max_retries", "max_retries must be >= 0")
		}
		doc.MaxRetries = *req.MaxRetries
	}
	if req.RetryDelaySecond != nil {
		if *req.RetryDelaySecond < 0 {
			return apperrors.ValidationField("retry_delay_seconds", "retry_delay must be >= 0")
		}
		doc.RetryDelay = *req.RetryDelaySecond
	}
	return nil
}

func patchesSchedule(req model.UpdateJobRequest) bool {
	return req.ScheduleType != nil || req.CronExpression != nil || req.IntervalSeconds != nil ||
		req.RunDate != nil || req.Timezone != nil
}

// inferScheduleType fills the type when a flat patch supplied schedule
// content without naming one.
func inferScheduleType(sched *jobdef.Schedule) jobdef.ScheduleType {
	switch {
	case sched.CronExpr() != "":
		return jobdef.ScheduleTypeCron
	case sched.Interval != nil:
		return jobdef.ScheduleTypeInterval
	case strings.TrimSpace(sched.RunDate) != "":
		return jobdef.ScheduleTypeDate
	default:
		return ""
	}
}

// cachedList reads the flattened default listing from the cache. Cache
// trouble is never an error; the caller falls through to the store.
func (s *JobService) cachedList(ctx context.Context) ([]*model.JobView, bool) {
	raw, err := s.cache.Get(ctx, jobListCacheKey)
	if err != nil {
		if s.logger != nil {
			s.logger.DebugContext(ctx, "job list cache read failed", "error", err)
		}
		return nil, false
	}
	if len(raw) == 0 {
		return nil, false
	}
	var views []*model.JobView
	if err := json.Unmarshal(raw, &views); err != nil {
		return nil, false
	}
	return views, true
}

func (s *JobService) storeListCache(ctx context.Context, views []*model.JobView) {
	b, err := json.Marshal(views)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, jobListCacheKey, b, jobListCacheTTL); err != nil && s.logger != nil {
		s.logger.DebugContext(ctx, "job list cache write failed", "error", err)
	}
}

func (s *JobService) invalidateListCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if _, err := s.cache.Delete(ctx, jobListCacheKey); err != nil && s.logger != nil {
		s.logger.DebugContext(ctx, "job list cache invalidation failed", "error", err)
	}
}
