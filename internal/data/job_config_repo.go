package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jobmill/jobmill/internal/core"
	"github.com/jobmill/jobmill/internal/data/database"
	"github.com/jobmill/jobmill/internal/data/pgxutil"
	"github.com/jobmill/jobmill/internal/domain/job"
	"github.com/jobmill/jobmill/internal/domain/model"
)

// JobConfigRepo provides database operations for stored job configurations.
// Mutations notify the jobs topic in the same transaction so scheduler
// replicas wake up exactly when the commit lands.
type JobConfigRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewJobConfigRepo creates a new JobConfigRepo with real time provider.
func NewJobConfigRepo(db *sql.DB) *JobConfigRepo {
	return &JobConfigRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewJobConfigRepoWithTimeProvider creates a new JobConfigRepo with a custom time provider (useful for tests).
func NewJobConfigRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *JobConfigRepo {
	return &JobConfigRepo{DB: db, timeProvider: tp}
}

// Create inserts a new job configuration.
func (r *JobConfigRepo) Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if req == nil {
		return nil, errors.New("create job request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	// Default enabled to true if not specified (matches DB default)
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	createdAt := r.timeProvider.Now().UTC()
	var out model.Job
	if err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			rows, err := tx.Query(ctx, `
				INSERT INTO job_configurations_v2 (
					job_id, name, description, version, yaml_configuration, enabled, created_date, modified_date, created_by
				) VALUES (
					$1, $2, $3, 1, $4, $5, $6, $6, $7
				) RETURNING `+jobConfigColumns,
				uuid.NewString(),
				strings.TrimSpace(req.Name),
				req.Description,
				req.YAML,
				enabled,
				createdAt,
				req.CreatedBy,
			)
			if err != nil {
				return err
			}
			out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Job])
			if err != nil {
				return err
			}
			return notifyInTx(ctx, tx, job.TopicJobs, out.ID)
		},
	}); err != nil {
		return nil, mapRepoErr("create job configuration", err)
	}
	return &out, nil
}

// GetByID retrieves a job configuration by ID.
func (r *JobConfigRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	return r.getByQuery(ctx, jobConfigGetByIDQuery, "get job configuration by ID", id)
}

// GetByName retrieves the most recently created job configuration with the given name.
func (r *JobConfigRepo) GetByName(ctx context.Context, name string) (*model.Job, error) {
	return r.getByQuery(ctx, jobConfigGetByNameQuery, "get job configuration by name", name)
}

// List retrieves job configurations newest-first. A non-positive limit
// returns every row; the scheduler relies on that for its startup scan.
func (r *JobConfigRepo) List(ctx context.Context, opts *model.JobListOptions) ([]*model.Job, error) {
	queryOpts := []database.ListQueryOption{
		database.WithColumns(jobConfigColumnList()...),
		database.WithOrderBy("created_date", "DESC"),
	}
	if opts != nil {
		if opts.EnabledOnly {
			queryOpts = append(queryOpts, database.WithCondition(
				database.WhereCond("enabled", database.Equal, true),
			))
		}
		if opts.Limit > 0 {
			queryOpts = append(queryOpts, database.WithLimit(opts.Limit))
		}
	}
	query, args := database.BuildListQuery(database.NewListQueryOptions("job_configurations_v2", queryOpts...))

	var rowsOut []model.Job
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		rowsOut, err = pgx.CollectRows(rows, pgx.RowToStructByName[model.Job])
		return err
	}); err != nil {
		return nil, mapRepoErr("list job configurations", err)
	}

	res := make([]*model.Job, len(rowsOut))
	for i := range rowsOut {
		res[i] = &rowsOut[i]
	}
	return res, nil
}

// Update patches stored fields of a job configuration. A YAML replacement
// bumps the version; every change stamps modified_date.
func (r *JobConfigRepo) Update(
	ctx context.Context,
	id string,
	params core.UpdateJobConfigParams,
) (*model.Job, error) {
	var out model.Job
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			setClause, args := r.buildUpdateClause(params)
			if setClause == "" {
				rows, err := tx.Query(ctx, jobConfigGetByIDQuery, id)
				if err != nil {
					return err
				}
				var e error
				out, e = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Job])
				return e
			}
			args = append(args, id)
			query := "UPDATE job_configurations_v2 SET " + setClause +
				" WHERE job_id = $" + strconv.Itoa(len(args)) +
				" RETURNING " + jobConfigColumns
			rows, err := tx.Query(ctx, query, args...)
			if err != nil {
				return err
			}
			var e error
			out, e = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Job])
			if e != nil {
				return e
			}
			return notifyInTx(ctx, tx, job.TopicJobs, out.ID)
		},
	})
	if err != nil {
		return nil, mapRepoErr("update job configuration", err)
	}
	return &out, nil
}

// buildUpdateClause builds the SQL SET clause and args for updating a job configuration.
func (r *JobConfigRepo) buildUpdateClause(params core.UpdateJobConfigParams) (string, []any) {
	setParts := make([]string, 0, 6)
	args := make([]any, 0, 6)
	nextIdx := func() int { return len(args) + 1 }

	if params.Name != nil {
		setParts = append(setParts, fmt.Sprintf("name = $%d", nextIdx()))
		args = append(args, strings.TrimSpace(*params.Name))
	}
	if params.Description != nil {
		setParts = append(setParts, fmt.Sprintf("description = $%d", nextIdx()))
		args = append(args, *params.Description)
	}
	if params.Enabled != nil {
		setParts = append(setParts, fmt.Sprintf("enabled = $%d", nextIdx()))
		args = append(args, *params.Enabled)
	}
	if params.YAML != nil {
		setParts = append(setParts, fmt.Sprintf("yaml_configuration = $%d", nextIdx()))
		args = append(args, *params.YAML)
		// Version tracks document revisions, not column patches.
		setParts = append(setParts, "version = version + 1")
	}

	if len(setParts) == 0 {
		return "", nil
	}

	setParts = append(setParts, fmt.Sprintf("modified_date = $%d", nextIdx()))
	args = append(args, r.timeProvider.Now().UTC())
	return strings.Join(setParts, ", "), args
}

// Delete removes a job configuration by ID. Execution history rows are
// retained; only the configuration disappears.
func (r *JobConfigRepo) Delete(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			ct, err := tx.Exec(ctx, `DELETE FROM job_configurations_v2 WHERE job_id = $1`, id)
			if err != nil {
				return err
			}
			deleted = ct.RowsAffected() > 0
			if !deleted {
				return nil
			}
			return notifyInTx(ctx, tx, job.TopicJobs, id)
		},
	})
	if err != nil {
		return false, mapRepoErr("delete job configuration", err)
	}
	return deleted, nil
}

// SetEnabled sets the enabled flag, or flips it when enabled is nil.
// The flip happens in SQL so concurrent toggles cannot lose updates.
func (r *JobConfigRepo) SetEnabled(ctx context.Context, id string, enabled *bool) (*model.Job, error) {
	var out model.Job
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			var (
				query string
				args  []any
			)
			now := r.timeProvider.Now().UTC()
			if enabled == nil {
				query = `UPDATE job_configurations_v2
					SET enabled = NOT enabled, modified_date = $2
					WHERE job_id = $1
					RETURNING ` + jobConfigColumns
				args = []any{id, now}
			} else {
				query = `UPDATE job_configurations_v2
					SET enabled = $2, modified_date = $3
					WHERE job_id = $1
					RETURNING ` + jobConfigColumns
				args = []any{id, *enabled, now}
			}
			rows, err := tx.Query(ctx, query, args...)
			if err != nil {
				return err
			}
			var e error
			out, e = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Job])
			if e != nil {
				return e
			}
			return notifyInTx(ctx, tx, job.TopicJobs, out.ID)
		},
	})
	if err != nil {
		return nil, mapRepoErr("toggle job configuration", err)
	}
	return &out, nil
}

// --- helpers ---

// SQL query constants for static queries (no dynamic WHERE/ORDER BY).
const (
	jobConfigColumns = `
		job_id, name, description, version, yaml_configuration, enabled,
		created_date, modified_date, created_by`

	jobConfigGetByIDQuery = `
		SELECT ` + jobConfigColumns + `
		FROM job_configurations_v2
		WHERE job_id = $1`

	jobConfigGetByNameQuery = `
		SELECT ` + jobConfigColumns + `
		FROM job_configurations_v2
		WHERE name = $1
		ORDER BY created_date DESC
		LIMIT 1`
)

// jobConfigColumnList returns the standard column list for dynamic queries.
func jobConfigColumnList() []string {
	return []string{
		"job_id",
		"name",
		"description",
		"version",
		"yaml_configuration",
		"enabled",
		"created_date",
		"modified_date",
		"created_by",
	}
}

// getByQuery executes a single-row query and maps the result.
// Uses variadic args to avoid slice allocation at call sites.
func (r *JobConfigRepo) getByQuery(
	ctx context.Context,
	q string,
	op string,
	args ...any,
) (*model.Job, error) {
	var out model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Job])
		return err
	})
	if err != nil {
		return nil, mapRepoErr(op, err)
	}
	return &out, nil
}

var _ core.JobConfigRepository = (*JobConfigRepo)(nil)
