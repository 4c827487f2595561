package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jobmill/jobmill/internal/core"
	"github.com/jobmill/jobmill/internal/data/pgxutil"
)

// Advisory lock namespace for reaper operations.
// Using two-arg pg_try_advisory_xact_lock(major, minor) for proper namespacing.
// Major key 1000 is reserved for jobmill reaper operations.
const (
	advisoryLockReaperMajor       = 1000
	advisoryLockReaperFailRunning = 1 // minor key for FailStaleRunning
	advisoryLockReaperDeleteOld   = 2 // minor key for DeleteOldExecutions
	advisoryLockReaperTrim        = 3 // minor key for TrimJobHistory
	advisoryLockReaperAgentExpiry = 4 // minor key for AgentRepo.DeleteOffline
)

// FailStaleRunning marks running executions older than maxAge as failed.
// Processes up to batchSize rows per call to prevent long locks and I/O spikes.
// Uses advisory locks to prevent concurrent reaper instances from conflicting.
// Returns the number of executions marked as failed.
func (r *ExecutionRepo) FailStaleRunning(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)", advisoryLockReaperMajor, advisoryLockReaperFailRunning).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				rowsAffected = 0
				return nil
			}

			currentTime := r.timeProvider.Now()
			cutoffTime := currentTime.Add(-maxAge)

			res, err := tx.ExecContext(ctx, `
				UPDATE job_execution_history_v2
				SET status = 'failed',
					error_message = 'reaped: stale running execution',
					end_time = $1,
					duration_seconds = EXTRACT(EPOCH FROM ($1::timestamptz - start_time))
				WHERE execution_id IN (
					SELECT execution_id FROM job_execution_history_v2
					WHERE status = 'running'
					  AND start_time < $2
					ORDER BY start_time
					LIMIT $3
				)
			`, currentTime.UTC(), cutoffTime.UTC(), batchSize)
			if err != nil {
				return fmt.Errorf("fail stale running executions: %w", err)
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

// DeleteOldExecutions deletes terminal history rows older than MaxAge.
// Live rows are never deleted here; FailStaleRunning turns abandoned rows
// terminal first. Processes up to BatchSize rows per call.
// Uses advisory locks to prevent concurrent reaper instances from conflicting.
func (r *ExecutionRepo) DeleteOldExecutions(ctx context.Context, params core.DeleteOldExecutionsParams) (int64, error) {
	if params.BatchSize <= 0 {
		return 0, errors.New("batch size must be greater than zero")
	}
	if params.MaxAge <= 0 {
		return 0, errors.New("max age must be greater than zero")
	}

	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)", advisoryLockReaperMajor, advisoryLockReaperDeleteOld).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				rowsAffected = 0
				return nil
			}

			cutoffTime := r.timeProvider.Now().Add(-params.MaxAge).UTC()

			res, err := tx.ExecContext(ctx, `
				DELETE FROM job_execution_history_v2
				USING (
					SELECT ctid
					FROM job_execution_history_v2
					WHERE `+executionTerminalInGuard+`
					  AND COALESCE(end_time, start_time) < $1
					ORDER BY COALESCE(end_time, start_time)
					LIMIT $2
				) sub
				WHERE job_execution_history_v2.ctid = sub.ctid
			`, cutoffTime, params.BatchSize)
			if err != nil {
				return fmt.Errorf("delete old executions: %w", err)
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

// TrimJobHistory keeps the newest KeepPerJob terminal rows per job and
// deletes the rest, up to BatchSize per call. KeepPerJob 0 means unlimited
// retention and is a no-op.
// Uses advisory locks to prevent concurrent reaper instances from conflicting.
func (r *ExecutionRepo) TrimJobHistory(ctx context.Context, params core.TrimJobHistoryParams) (int64, error) {
	if params.KeepPerJob == 0 {
		return 0, nil
	}
	if params.KeepPerJob < 0 {
		return 0, errors.New("keep per job must not be negative")
	}
	if params.BatchSize <= 0 {
		return 0, errors.New("batch size must be greater than zero")
	}

	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)", advisoryLockReaperMajor, advisoryLockReaperTrim).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				rowsAffected = 0
				return nil
			}

			res, err := tx.ExecContext(ctx, `
				DELETE FROM job_execution_history_v2
				USING (
					SELECT ctid
					FROM (
						SELECT ctid,
							row_number() OVER (PARTITION BY job_id ORDER BY start_time DESC) AS rn
						FROM job_execution_history_v2
						WHERE `+executionTerminalInGuard+`
					) ranked
					WHERE ranked.rn > $1
					LIMIT $2
				) sub
				WHERE job_execution_history_v2.ctid = sub.ctid
			`, params.KeepPerJob, params.BatchSize)
			if err != nil {
				return fmt.Errorf("trim job history: %w", err)
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

// executionTerminalInGuard selects terminal rows, the complement of
// executionNotTerminalGuard.
const executionTerminalInGuard = `status IN ('success', 'failed', 'timeout', 'cancelled')`

var _ core.HistoryReaperRepository = (*ExecutionRepo)(nil)
