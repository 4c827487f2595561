package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jobmill/jobmill/internal/core"
	"github.com/jobmill/jobmill/internal/data/pgxutil"
	"github.com/jobmill/jobmill/internal/domain/model"
)

// AgentRepo provides database operations for the remote agent registry and
// its assignment bookkeeping. The stored token hash never leaves this
// package except through FindByTokenHash lookups.
type AgentRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewAgentRepo creates a new AgentRepo with real time provider.
func NewAgentRepo(db *sql.DB) *AgentRepo {
	return &AgentRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewAgentRepoWithTimeProvider creates a new AgentRepo with a custom time provider (useful for tests).
func NewAgentRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *AgentRepo {
	return &AgentRepo{DB: db, timeProvider: tp}
}

// Register upserts an agent by name. A re-registration replaces the prior
// endpoint and capabilities, rotates the token hash, and resets the active
// count: a re-registering agent is a fresh process with no running work.
func (r *AgentRepo) Register(ctx context.Context, params core.RegisterAgentParams) (*model.Agent, error) {
	if params.Req == nil {
		return nil, errors.New("register agent request is required")
	}
	if err := params.Req.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.TokenHash) == "" {
		return nil, errors.New("token hash is required")
	}

	now := params.Now
	if now.IsZero() {
		now = r.timeProvider.Now()
	}
	now = now.UTC()

	maxParallel := params.Req.MaxParallel
	if maxParallel <= 0 {
		maxParallel = 1
	}

	var out model.Agent
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			INSERT INTO agents (
				agent_id, name, pool_id, endpoint_url, auth_token_hash,
				status, capabilities, max_parallel, active_jobs,
				last_heartbeat, registered_at, agent_version
			) VALUES (
				$1, $2, $3, $4, $5, 'online', $6, $7, 0, $8, $8, $9
			)
			ON CONFLICT (name) DO UPDATE SET
				pool_id = EXCLUDED.pool_id,
				endpoint_url = EXCLUDED.endpoint_url,
				auth_token_hash = EXCLUDED.auth_token_hash,
				status = 'online',
				capabilities = EXCLUDED.capabilities,
				max_parallel = EXCLUDED.max_parallel,
				active_jobs = 0,
				last_heartbeat = EXCLUDED.last_heartbeat,
				registered_at = EXCLUDED.registered_at,
				agent_version = EXCLUDED.agent_version
			RETURNING `+agentColumns,
			uuid.NewString(),
			strings.TrimSpace(params.Req.Name),
			params.Req.PoolID,
			params.Req.EndpointURL,
			params.TokenHash,
			params.Req.Capabilities,
			maxParallel,
			now,
			params.Req.AgentVersion,
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Agent])
		return err
	}); err != nil {
		return nil, mapRepoErr("register agent", err)
	}
	return &out, nil
}

// GetByID retrieves an agent by ID.
func (r *AgentRepo) GetByID(ctx context.Context, id string) (*model.Agent, error) {
	return r.getByQuery(ctx, agentGetByIDQuery, "get agent by ID", id)
}

// FindByTokenHash resolves the agent presenting a bearer token.
func (r *AgentRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*model.Agent, error) {
	return r.getByQuery(ctx, agentGetByTokenHashQuery, "find agent by token", tokenHash)
}

// List retrieves all registered agents ordered by name.
func (r *AgentRepo) List(ctx context.Context) ([]*model.Agent, error) {
	var rowsOut []model.Agent
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+agentColumns+`
			FROM agents
			ORDER BY name ASC
		`)
		if err != nil {
			return err
		}
		defer rows.Close()
		rowsOut, err = pgx.CollectRows(rows, pgx.RowToStructByName[model.Agent])
		return err
	}); err != nil {
		return nil, mapRepoErr("list agents", err)
	}

	res := make([]*model.Agent, len(rowsOut))
	for i := range rowsOut {
		res[i] = &rowsOut[i]
	}
	return res, nil
}

// Heartbeat refreshes an agent's liveness and telemetry. The reported
// active count reconciles the server-side bookkeeping: the agent knows its
// own workload best, and drift self-corrects on the next beat.
func (r *AgentRepo) Heartbeat(ctx context.Context, params core.AgentHeartbeatParams) (bool, error) {
	now := params.Now
	if now.IsZero() {
		now = r.timeProvider.Now()
	}
	now = now.UTC()

	var (
		query string
		args  []any
	)
	if params.Beat == nil {
		query = `
			UPDATE agents
			SET status = 'online', last_heartbeat = $2
			WHERE agent_id = $1`
		args = []any{params.AgentID, now}
	} else {
		query = `
			UPDATE agents
			SET status = 'online',
				last_heartbeat = $2,
				active_jobs = $3,
				cpu_percent = $4,
				memory_percent = $5,
				agent_version = CASE WHEN $6 = '' THEN agent_version ELSE $6 END
			WHERE agent_id = $1`
		args = []any{
			params.AgentID,
			now,
			params.Beat.ActiveJobs,
			params.Beat.CPUPercent,
			params.Beat.MemoryPercent,
			params.Beat.AgentVersion,
		}
	}

	var beat bool
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		ct, err := conn.Exec(ctx, query, args...)
		if err != nil {
			return err
		}
		beat = ct.RowsAffected() > 0
		return nil
	})
	if err != nil {
		return false, mapRepoErr("record agent heartbeat", err)
	}
	return beat, nil
}

// MarkStaleOffline flips online agents silent since cutoff to offline.
func (r *AgentRepo) MarkStaleOffline(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		ct, err := conn.Exec(ctx, `
			UPDATE agents
			SET status = 'offline'
			WHERE status = 'online'
			  AND (last_heartbeat IS NULL OR last_heartbeat < $1)
		`, cutoff.UTC())
		if err != nil {
			return err
		}
		n = ct.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, mapRepoErr("mark stale agents offline", err)
	}
	return n, nil
}

// DeleteOffline removes offline agents whose last heartbeat predates
// cutoff. Assignments cascade, but the orphan sweep fails their executions
// long before this expiry fires.
// Uses advisory locks to prevent concurrent reaper instances from conflicting.
func (r *AgentRepo) DeleteOffline(ctx context.Context, cutoff time.Time) (int64, error) {
	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)", advisoryLockReaperMajor, advisoryLockReaperAgentExpiry).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				rowsAffected = 0
				return nil
			}

			res, err := tx.ExecContext(ctx, `
				DELETE FROM agents
				WHERE status = 'offline'
				  AND (last_heartbeat IS NULL OR last_heartbeat < $1)
			`, cutoff.UTC())
			if err != nil {
				return fmt.Errorf("delete offline agents: %w", err)
			}

			ra, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			rowsAffected = ra
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}

// ClaimCandidate atomically picks the best eligible agent for a pool and
// increments its active count. Candidates are online, match the pool (or
// sit in the wildcard pool), and have spare capacity; ties go to the agent
// with fewest active jobs, then the least recently assigned. SKIP LOCKED
// keeps concurrent sweeps from fighting over the same row. Returns nil
// when no agent qualifies.
func (r *AgentRepo) ClaimCandidate(ctx context.Context, poolID string) (*model.Agent, error) {
	if poolID == "" {
		poolID = model.DefaultAgentPool
	}
	now := r.timeProvider.Now().UTC()

	var out model.Agent
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			rows, err := tx.Query(ctx, `
				WITH candidate AS (
					SELECT agent_id
					FROM agents
					WHERE status = 'online'
					  AND (pool_id = $1 OR pool_id = $2)
					  AND active_jobs < max_parallel
					ORDER BY active_jobs ASC, last_assigned_at ASC NULLS FIRST
					LIMIT 1
					FOR UPDATE SKIP LOCKED
				)
				UPDATE agents a
				SET active_jobs = a.active_jobs + 1,
					last_assigned_at = $3
				FROM candidate c
				WHERE a.agent_id = c.agent_id
				RETURNING `+qualifiedAgentColumns("a"),
				poolID, model.AnyAgentPool, now,
			)
			if err != nil {
				return err
			}
			defer rows.Close()
			out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Agent])
			return err
		},
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, mapRepoErr("claim agent candidate", err)
	}
	return &out, nil
}

// ReleaseSlot decrements an agent's active count, floored at zero.
func (r *AgentRepo) ReleaseSlot(ctx context.Context, agentID string) error {
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, `
			UPDATE agents
			SET active_jobs = GREATEST(active_jobs - 1, 0)
			WHERE agent_id = $1
		`, agentID)
		return err
	})
	if err != nil {
		return mapRepoErr("release agent slot", err)
	}
	return nil
}

// CreateAssignment links an execution to the agent working it. The unique
// execution_id constraint makes double-assignment a conflict.
func (r *AgentRepo) CreateAssignment(ctx context.Context, executionID, agentID string) (*model.Assignment, error) {
	var out model.Assignment
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			INSERT INTO agent_assignments (assignment_id, execution_id, agent_id)
			VALUES ($1, $2, $3)
			RETURNING `+assignmentColumns,
			uuid.NewString(), executionID, agentID,
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Assignment])
		return err
	}); err != nil {
		return nil, mapRepoErr("create agent assignment", err)
	}
	return &out, nil
}

// GetAssignment retrieves the assignment holding an execution.
func (r *AgentRepo) GetAssignment(ctx context.Context, executionID string) (*model.Assignment, error) {
	var out model.Assignment
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+assignmentColumns+`
			FROM agent_assignments
			WHERE execution_id = $1
		`, executionID)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Assignment])
		return err
	})
	if err != nil {
		return nil, mapRepoErr("get agent assignment", err)
	}
	return &out, nil
}

// DeleteAssignment releases the assignment row for an execution.
func (r *AgentRepo) DeleteAssignment(ctx context.Context, executionID string) (bool, error) {
	var deleted bool
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		ct, err := conn.Exec(ctx, `DELETE FROM agent_assignments WHERE execution_id = $1`, executionID)
		if err != nil {
			return err
		}
		deleted = ct.RowsAffected() > 0
		return nil
	})
	if err != nil {
		return false, mapRepoErr("delete agent assignment", err)
	}
	return deleted, nil
}

// FindOrphaned returns assignments whose agent has been silent since
// cutoff. Status is deliberately ignored: a silent agent orphans its work
// whether or not the offline sweep has caught up with it.
func (r *AgentRepo) FindOrphaned(ctx context.Context, cutoff time.Time) ([]*core.OrphanedAssignment, error) {
	var rowsOut []core.OrphanedAssignment
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT aa.execution_id, aa.agent_id, a.name AS agent_name
			FROM agent_assignments aa
			JOIN agents a ON a.agent_id = aa.agent_id
			WHERE a.last_heartbeat IS NULL OR a.last_heartbeat < $1
		`, cutoff.UTC())
		if err != nil {
			return err
		}
		defer rows.Close()
		rowsOut, err = pgx.CollectRows(rows, pgx.RowToStructByName[core.OrphanedAssignment])
		return err
	}); err != nil {
		return nil, mapRepoErr("find orphaned assignments", err)
	}

	res := make([]*core.OrphanedAssignment, len(rowsOut))
	for i := range rowsOut {
		res[i] = &rowsOut[i]
	}
	return res, nil
}

// --- helpers ---

// agentColumns deliberately excludes auth_token_hash; the hash is written
// on registration and matched in lookups but never returned.
const (
	agentColumns = `
		agent_id, name, pool_id, endpoint_url, status, capabilities,
		max_parallel, active_jobs, last_heartbeat, last_assigned_at,
		registered_at, cpu_percent, memory_percent, agent_version`

	agentGetByIDQuery = `
		SELECT ` + agentColumns + `
		FROM agents
		WHERE agent_id = $1`

	agentGetByTokenHashQuery = `
		SELECT ` + agentColumns + `
		FROM agents
		WHERE auth_token_hash = $1`

	assignmentColumns = `assignment_id, execution_id, agent_id, assigned_at`
)

// agentColumnList returns the standard column list for dynamic queries.
func agentColumnList() []string {
	return []string{
		"agent_id",
		"name",
		"pool_id",
		"endpoint_url",
		"status",
		"capabilities",
		"max_parallel",
		"active_jobs",
		"last_heartbeat",
		"last_assigned_at",
		"registered_at",
		"cpu_percent",
		"memory_percent",
		"agent_version",
	}
}

// qualifiedAgentColumns prefixes every agent column with a table alias, for
// queries where unqualified names would be ambiguous.
func qualifiedAgentColumns(alias string) string {
	cols := agentColumnList()
	for i, c := range cols {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

func (r *AgentRepo) getByQuery(
	ctx context.Context,
	q string,
	op string,
	args ...any,
) (*model.Agent, error) {
	var out model.Agent
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Agent])
		return err
	})
	if err != nil {
		return nil, mapRepoErr(op, err)
	}
	return &out, nil
}

var _ core.AgentRepository = (*AgentRepo)(nil)
