package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/jobmill/jobmill/internal/core"
	"github.com/jobmill/jobmill/internal/domain/model"
	apperrors "github.com/jobmill/jobmill/internal/errors"
)

// JMESPathEvaluator abstracts JMESPath operations for testability.
type JMESPathEvaluator interface {
	Validate(expr string) error
	Evaluate(expr string, data any) (any, error)
}

// jmespathLibEvaluator implements JMESPathEvaluator using go-jmespath.
type jmespathLibEvaluator struct{}

func (j jmespathLibEvaluator) Validate(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return nil
	}
	_, err := jmespath.Compile(expr)
	return err
}

func (j jmespathLibEvaluator) Evaluate(expr string, data any) (any, error) {
	return jmespath.Search(expr, data)
}

// ExecutionServiceOptions groups dependencies for ExecutionService.
type ExecutionServiceOptions struct {
	Repo      core.ExecutionRepository // Required: execution history repository
	Evaluator JMESPathEvaluator        // Optional: metadata filter evaluator
	Logger    *slog.Logger             // Optional: structured logger
}

// ExecutionService reads the execution history. Writes go through the
// executor and dispatch paths; this service owns the query surface,
// including the JMESPath metadata filter.
type ExecutionService struct {
	repo   core.ExecutionRepository
	jems   JMESPathEvaluator
	logger *slog.Logger
}

// NewExecutionService constructs a new ExecutionService.
func NewExecutionService(opts ExecutionServiceOptions) (*ExecutionService, error) {
	if opts.Repo == nil {
		return nil, errors.New("ExecutionRepository is required")
	}
	jems := opts.Evaluator
	if jems == nil {
		jems = jmespathLibEvaluator{}
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "execution_service")
	}

	return &ExecutionService{
		repo:   opts.Repo,
		jems:   jems,
		logger: logger,
	}, nil
}

// MustNewExecutionService constructs a new ExecutionService and panics on error.
func MustNewExecutionService(opts ExecutionServiceOptions) *ExecutionService {
	svc, err := NewExecutionService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create ExecutionService: %v", err))
	}
	return svc
}

// List returns execution history rows, newest first. A metadata_filter is a
// JMESPath expression evaluated against each row's metadata document; rows
// whose result is falsy (or whose metadata does not parse) are dropped. The
// limit bounds the rows scanned, so a filtered listing can return fewer.
func (s *ExecutionService) List(ctx context.Context, opts *model.ExecutionListOptions) ([]*model.Execution, error) {
	if opts == nil {
		opts = &model.ExecutionListOptions{}
	}

	filter := strings.TrimSpace(opts.MetadataFilter)
	if filter != "" {
		if err := s.jems.Validate(filter); err != nil {
			return nil, apperrors.ValidationField("metadata_filter", err.Error())
		}
	}

	execs, err := s.repo.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	if filter == "" {
		return execs, nil
	}

	kept := make([]*model.Execution, 0, len(execs))
	for _, exec := range execs {
		if s.metadataMatches(ctx, exec, filter) {
			kept = append(kept, exec)
		}
	}
	return kept, nil
}

// ListForJob returns the history of a single job, newest first.
func (s *ExecutionService) ListForJob(ctx context.Context, jobID string, limit int) ([]*model.Execution, error) {
	if jobID == "" {
		return nil, apperrors.ValidationField("job_id", "job_id is required")
	}
	return s.List(ctx, &model.ExecutionListOptions{JobID: jobID, Limit: limit})
}

// GetByID returns one execution row.
func (s *ExecutionService) GetByID(ctx context.Context, id string) (*model.Execution, error) {
	exec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get execution %s: %w", id, err)
	}
	return exec, nil
}

// metadataMatches evaluates the filter against one row's metadata. Rows
// without parseable metadata never match; a per-row evaluation error drops
// the row rather than failing the listing.
func (s *ExecutionService) metadataMatches(ctx context.Context, exec *model.Execution, filter string) bool {
	if len(exec.Metadata) == 0 {
		return false
	}
	var doc any
	if err := json.Unmarshal(exec.Metadata, &doc); err != nil {
		return false
	}
	result, err := s.jems.Evaluate(filter, doc)
	if err != nil {
		if s.logger != nil {
			s.logger.DebugContext(ctx, "metadata filter evaluation failed",
				"execution_id", exec.ID,
				"error", err,
			)
		}
		return false
	}
	return jmespathTruthy(result)
}

// jmespathTruthy applies JMESPath falsiness: null, false, empty string,
// empty array, and empty object are false; everything else (numbers
// included, zero too) is true.
func jmespathTruthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
