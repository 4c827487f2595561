package data

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jobmill/jobmill/internal/core"
	"github.com/jobmill/jobmill/internal/data/database"
	"github.com/jobmill/jobmill/internal/data/pgxutil"
	"github.com/jobmill/jobmill/internal/domain/job"
	"github.com/jobmill/jobmill/internal/domain/model"
	apperrors "github.com/jobmill/jobmill/internal/errors"
)

// ExecutionRepo provides database operations for execution history rows.
// Rows are append-only until their single terminal write; after that they
// are immutable.
type ExecutionRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewExecutionRepo creates a new ExecutionRepo with real time provider.
func NewExecutionRepo(db *sql.DB) *ExecutionRepo {
	return &ExecutionRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewExecutionRepoWithTimeProvider creates a new ExecutionRepo with a custom time provider (useful for tests).
func NewExecutionRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *ExecutionRepo {
	return &ExecutionRepo{DB: db, timeProvider: tp}
}

// Start inserts a new running row for the execution and returns it.
func (r *ExecutionRepo) Start(ctx context.Context, params model.StartExecutionParams) (*model.Execution, error) {
	if strings.TrimSpace(params.JobID) == "" {
		return nil, apperrors.Validation("job_id is required")
	}
	if strings.TrimSpace(params.JobName) == "" {
		return nil, apperrors.Validation("job_name is required")
	}
	if !params.Mode.Valid() {
		return nil, apperrors.Validationf("invalid execution mode %q", string(params.Mode))
	}
	tz := params.Timezone
	if tz == "" {
		tz = "UTC"
	}

	startTime := r.timeProvider.Now().UTC()
	var out model.Execution
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			INSERT INTO job_execution_history_v2 (
				execution_id, job_id, job_name, status, start_time,
				retry_count, max_retries, execution_mode, executed_by,
				execution_timezone, metadata
			) VALUES (
				$1, $2, $3, 'running', $4, $5, $6, $7, $8, $9, $10
			) RETURNING `+executionColumns,
			uuid.NewString(),
			params.JobID,
			params.JobName,
			startTime,
			params.RetryCount,
			params.MaxRetries,
			string(params.Mode),
			params.ExecutedBy,
			tz,
			params.Metadata,
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Execution])
		return err
	}); err != nil {
		return nil, mapRepoErr("record execution start", err)
	}
	return &out, nil
}

// Finish applies the single allowed terminal write. The guarded UPDATE
// touches only non-terminal rows; when it matches nothing the row is
// re-read to tell "already terminal" apart from "no such execution".
// Duration is computed from the stored start_time, not caller input.
func (r *ExecutionRepo) Finish(ctx context.Context, params model.FinishExecutionParams) (*model.Execution, error) {
	if strings.TrimSpace(params.ExecutionID) == "" {
		return nil, apperrors.Validation("execution_id is required")
	}
	if !params.Status.Terminal() {
		return nil, apperrors.Validationf("finish requires a terminal status, got %q", string(params.Status))
	}

	endTime := r.timeProvider.Now().UTC()
	var out model.Execution
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			rows, err := tx.Query(ctx, `
				UPDATE job_execution_history_v2
				SET status = $2,
					end_time = $3,
					duration_seconds = EXTRACT(EPOCH FROM ($3::timestamptz - start_time)),
					output_log = $4,
					error_message = $5,
					return_code = $6,
					metadata = CASE WHEN $7::jsonb IS NULL
						THEN metadata
						ELSE COALESCE(metadata, '{}'::jsonb) || $7::jsonb END
				WHERE execution_id = $1 AND `+executionNotTerminalGuard+`
				RETURNING `+executionColumns,
				params.ExecutionID,
				string(params.Status),
				endTime,
				params.OutputLog,
				params.ErrorMessage,
				params.ReturnCode,
				params.Metadata,
			)
			if err != nil {
				return err
			}
			out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Execution])
			if err == nil {
				return nil
			}
			if !errors.Is(err, pgx.ErrNoRows) {
				return err
			}

			var status string
			scanErr := tx.QueryRow(ctx,
				`SELECT status FROM job_execution_history_v2 WHERE execution_id = $1`,
				params.ExecutionID,
			).Scan(&status)
			if errors.Is(scanErr, pgx.ErrNoRows) {
				return apperrors.NotFound("execution not found")
			}
			if scanErr != nil {
				return scanErr
			}
			return apperrors.AlreadyTerminal(params.ExecutionID)
		},
	})
	if err != nil {
		return nil, mapRepoErr("record execution end", err)
	}
	return &out, nil
}

// GetByID retrieves an execution row by ID.
func (r *ExecutionRepo) GetByID(ctx context.Context, id string) (*model.Execution, error) {
	var out model.Execution
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, executionGetByIDQuery, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Execution])
		return err
	})
	if err != nil {
		return nil, mapRepoErr("get execution", err)
	}
	return &out, nil
}

// List retrieves execution history rows newest-first by start_time.
func (r *ExecutionRepo) List(ctx context.Context, opts *model.ExecutionListOptions) ([]*model.Execution, error) {
	queryOpts := []database.ListQueryOption{
		database.WithColumns(executionColumnList()...),
		database.WithOrderBy("start_time", "DESC"),
	}
	if opts != nil {
		if opts.JobID != "" {
			queryOpts = append(queryOpts, database.WithCondition(
				database.WhereCond("job_id", database.Equal, opts.JobID),
			))
		}
		if opts.Status != "" {
			if !opts.Status.Valid() {
				return nil, apperrors.Validationf("invalid status filter %q", string(opts.Status))
			}
			queryOpts = append(queryOpts, database.WithCondition(
				database.WhereCond("status", database.Equal, string(opts.Status)),
			))
		}
		if opts.Limit > 0 {
			queryOpts = append(queryOpts, database.WithLimit(opts.Limit))
		}
	}
	query, args := database.BuildListQuery(database.NewListQueryOptions("job_execution_history_v2", queryOpts...))

	var rowsOut []model.Execution
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		rowsOut, err = pgx.CollectRows(rows, pgx.RowToStructByName[model.Execution])
		return err
	}); err != nil {
		return nil, mapRepoErr("list executions", err)
	}

	res := make([]*model.Execution, len(rowsOut))
	for i := range rowsOut {
		res[i] = &rowsOut[i]
	}
	return res, nil
}

// CountLive counts the rows currently holding a job's concurrency slot.
func (r *ExecutionRepo) CountLive(ctx context.Context, jobID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `
		SELECT count(*)
		FROM job_execution_history_v2
		WHERE job_id = $1
		  AND status IN ('pending', 'running', 'queued', 'assigned')
	`, jobID).Scan(&n)
	if err != nil {
		return 0, mapRepoErr("count live executions", err)
	}
	return n, nil
}

// Transition moves a row between non-terminal states with a compare-and-set
// UPDATE. Terminal writes must go through Finish so end_time and duration
// are recorded exactly once. A move into queued wakes the dispatcher.
func (r *ExecutionRepo) Transition(ctx context.Context, params core.TransitionExecutionParams) (bool, error) {
	if strings.TrimSpace(params.ExecutionID) == "" {
		return false, apperrors.Validation("execution_id is required")
	}
	if !params.From.Valid() || !params.To.Valid() {
		return false, apperrors.Validationf("invalid transition %q -> %q", string(params.From), string(params.To))
	}
	if params.To.Terminal() {
		return false, apperrors.Validationf("terminal status %q requires Finish", string(params.To))
	}
	if !params.From.CanTransitionTo(params.To) {
		return false, apperrors.Validationf("illegal transition %q -> %q", string(params.From), string(params.To))
	}

	var moved bool
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			var (
				query string
				args  []any
			)
			if params.MetadataPatch != nil {
				query = `
					UPDATE job_execution_history_v2
					SET status = $3, metadata = COALESCE(metadata, '{}'::jsonb) || $4::jsonb
					WHERE execution_id = $1 AND status = $2`
				args = []any{params.ExecutionID, string(params.From), string(params.To), params.MetadataPatch}
			} else {
				query = `
					UPDATE job_execution_history_v2
					SET status = $3
					WHERE execution_id = $1 AND status = $2`
				args = []any{params.ExecutionID, string(params.From), string(params.To)}
			}
			ct, err := tx.Exec(ctx, query, args...)
			if err != nil {
				return err
			}
			moved = ct.RowsAffected() > 0
			if moved && params.To == model.ExecutionStatusQueued {
				return notifyInTx(ctx, tx, job.TopicDispatch, params.ExecutionID)
			}
			return nil
		},
	})
	if err != nil {
		return false, mapRepoErr("transition execution", err)
	}
	return moved, nil
}

// PatchMetadata merges a JSON document into a live row's metadata. Agent
// progress notes land here; the terminal guard keeps late reports from
// scribbling on finished history.
func (r *ExecutionRepo) PatchMetadata(ctx context.Context, executionID string, patch []byte) (bool, error) {
	if strings.TrimSpace(executionID) == "" {
		return false, apperrors.Validation("execution_id is required")
	}
	if len(patch) == 0 {
		return false, apperrors.Validation("metadata patch is required")
	}

	var patched bool
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		ct, err := conn.Exec(ctx, `
			UPDATE job_execution_history_v2
			SET metadata = COALESCE(metadata, '{}'::jsonb) || $2::jsonb
			WHERE execution_id = $1 AND `+executionNotTerminalGuard,
			executionID, patch,
		)
		if err != nil {
			return err
		}
		patched = ct.RowsAffected() > 0
		return nil
	})
	if err != nil {
		return false, mapRepoErr("patch execution metadata", err)
	}
	return patched, nil
}

// FindQueued returns queued rows oldest-first so placement is fair.
func (r *ExecutionRepo) FindQueued(ctx context.Context, limit int) ([]*model.Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	var rowsOut []model.Execution
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+executionColumns+`
			FROM job_execution_history_v2
			WHERE status = 'queued'
			ORDER BY start_time ASC
			LIMIT $1
		`, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		rowsOut, err = pgx.CollectRows(rows, pgx.RowToStructByName[model.Execution])
		return err
	}); err != nil {
		return nil, mapRepoErr("find queued executions", err)
	}

	res := make([]*model.Execution, len(rowsOut))
	for i := range rowsOut {
		res[i] = &rowsOut[i]
	}
	return res, nil
}

// --- helpers ---

const (
	executionColumns = `
		execution_id, job_id, job_name, status, start_time, end_time,
		duration_seconds, output_log, error_message, return_code,
		retry_count, max_retries, execution_mode, executed_by,
		execution_timezone, metadata`

	executionGetByIDQuery = `
		SELECT ` + executionColumns + `
		FROM job_execution_history_v2
		WHERE execution_id = $1`

	// Guard that terminal-write UPDATEs key on. The status list matches
	// model.TerminalStatuses.
	executionNotTerminalGuard = `status NOT IN ('success', 'failed', 'timeout', 'cancelled')`
)

// executionColumnList returns the standard column list for dynamic queries.
func executionColumnList() []string {
	return []string{
		"execution_id",
		"job_id",
		"job_name",
		"status",
		"start_time",
		"end_time",
		"duration_seconds",
		"output_log",
		"error_message",
		"return_code",
		"retry_count",
		"max_retries",
		"execution_mode",
		"executed_by",
		"execution_timezone",
		"metadata",
	}
}

var _ core.ExecutionRepository = (*ExecutionRepo)(nil)
