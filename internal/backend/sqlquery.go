package backend

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/microsoft/go-mssqldb"

	"github.com/jobmill/jobmill/internal/core"
	"github.com/jobmill/jobmill/internal/domain/model"
	apperrors "github.com/jobmill/jobmill/internal/errors"
)

// SQLBackendOptions bundles dependencies for NewSQLBackend.
type SQLBackendOptions struct {
	Connections core.ConnectionRepository
	Logger      *slog.Logger
}

// SQLBackend runs sql jobs against stored named connections. Each execution
// opens its own connection, so job credentials never sit in a shared pool.
type SQLBackend struct {
	connections core.ConnectionRepository
	logger      *slog.Logger

	// openDB is replaced in tests.
	openDB func(driverName, dsn string) (*sql.DB, error)
}

// NewSQLBackend constructs a SQLBackend.
func NewSQLBackend(opts SQLBackendOptions) (*SQLBackend, error) {
	if opts.Connections == nil {
		return nil, errors.New("Connections is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "sql_backend")
	}

	return &SQLBackend{
		connections: opts.Connections,
		logger:      logger,
		openDB:      sql.Open,
	}, nil
}

// Type reports the job type this backend handles.
func (b *SQLBackend) Type() model.JobType {
	return model.JobTypeSQL
}

// sqlRowsPayload is the output document for row-returning statements.
type sqlRowsPayload struct {
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	RowCount  int              `json:"row_count"`
	Truncated bool             `json:"truncated,omitempty"`
}

// Execute resolves the named connection, runs the query, and reports either
// a bounded rowset or the affected-row count.
func (b *SQLBackend) Execute(ctx context.Context, req *core.BackendRequest) (*core.BackendResult, error) {
	if req == nil || req.Def == nil {
		return nil, errors.New("backend request requires a parsed definition")
	}

	query := strings.TrimSpace(req.Def.Query)
	if query == "" {
		return nil, apperrors.Backend("sql job has no query")
	}

	conn, err := b.resolveConnection(ctx, req.Def.Connection)
	if err != nil {
		return nil, err
	}

	driverName, dsn := buildDSN(conn)
	db, err := b.openDB(driverName, dsn)
	if err != nil {
		return nil, apperrors.Backendf("opening connection %q: %v", conn.Name, err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithDeadline(ctx, statementDeadline(req.Deadline, conn.CommandTimeout))
	defer cancel()

	if b.logger != nil {
		b.logger.DebugContext(ctx, "running sql job",
			"execution_id", req.ExecutionID,
			"connection", conn.Name,
			"driver", string(conn.Driver))
	}

	if returnsRows(query) {
		return b.runQuery(ctx, db, query, req.Def.EffectiveMaxRows())
	}
	return b.runExec(ctx, db, query)
}

func (b *SQLBackend) runQuery(ctx context.Context, db *sql.DB, query string, maxRows int) (*core.BackendResult, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return sqlFailure(ctx, err), nil
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return sqlFailure(ctx, err), nil
	}

	payload := sqlRowsPayload{
		Columns: columns,
		Rows:    []map[string]any{},
	}
	for rows.Next() {
		if len(payload.Rows) >= maxRows {
			payload.Truncated = true
			break
		}
		record, scanErr := scanRecord(rows, columns)
		if scanErr != nil {
			return sqlFailure(ctx, scanErr), nil
		}
		payload.Rows = append(payload.Rows, record)
	}
	if err := rows.Err(); err != nil {
		return sqlFailure(ctx, err), nil
	}
	payload.RowCount = len(payload.Rows)

	out, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding rowset: %w", err)
	}
	meta, err := json.Marshal(map[string]any{
		"row_count": payload.RowCount,
		"truncated": payload.Truncated,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}

	return &core.BackendResult{
		Success:     true,
		Output:      string(out),
		TerminalNow: true,
		Metadata:    meta,
	}, nil
}

func (b *SQLBackend) runExec(ctx context.Context, db *sql.DB, query string) (*core.BackendResult, error) {
	res, err := db.ExecContext(ctx, query)
	if err != nil {
		return sqlFailure(ctx, err), nil
	}
	affected, err := res.RowsAffected()
	if err != nil {
		// Some drivers cannot report a count; the statement still ran.
		affected = -1
	}

	meta, err := json.Marshal(map[string]any{"rows_affected": affected})
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}

	return &core.BackendResult{
		Success:     true,
		Output:      "rows affected: " + strconv.FormatInt(affected, 10),
		TerminalNow: true,
		Metadata:    meta,
	}, nil
}

func (b *SQLBackend) resolveConnection(ctx context.Context, name string) (*model.Connection, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = model.DefaultConnectionName
	}
	conn, err := b.connections.GetByName(ctx, name)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.Backendf("sql job references unknown connection %q", name)
		}
		return nil, err
	}
	if !conn.IsActive {
		return nil, apperrors.Backendf("connection %q is disabled", name)
	}
	return conn, nil
}

// sqlFailure folds a statement error into a failed result. Deadline expiry
// is reported as a timeout, not a query bug.
func sqlFailure(ctx context.Context, err error) *core.BackendResult {
	result := &core.BackendResult{
		Success:     false,
		Error:       err.Error(),
		TerminalNow: true,
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
		result.Error = "statement killed at deadline: " + err.Error()
	}
	return result
}

// returnsRows reports whether the statement produces a rowset.
func returnsRows(query string) bool {
	head := strings.ToUpper(query)
	return strings.HasPrefix(head, "SELECT") || strings.HasPrefix(head, "WITH") || strings.HasPrefix(head, "SHOW")
}

// statementDeadline caps the execution deadline with the connection's own
// command timeout, whichever comes first.
func statementDeadline(deadline time.Time, commandTimeoutSeconds int) time.Time {
	if commandTimeoutSeconds <= 0 {
		return deadline
	}
	capped := time.Now().Add(time.Duration(commandTimeoutSeconds) * time.Second)
	if deadline.IsZero() || capped.Before(deadline) {
		return capped
	}
	return deadline
}

// scanRecord reads the current row into a JSON-friendly map. Raw byte
// columns become strings so row output stays readable.
func scanRecord(rows *sql.Rows, columns []string) (map[string]any, error) {
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}

	record := make(map[string]any, len(columns))
	for i, col := range columns {
		switch v := values[i].(type) {
		case []byte:
			record[col] = string(v)
		default:
			record[col] = v
		}
	}
	return record, nil
}

// buildDSN renders the driver-specific connection string for a stored
// connection. Trusted connections omit the user info and lean on the
// server's integrated auth.
func buildDSN(conn *model.Connection) (string, string) {
	switch conn.Driver {
	case model.ConnectionDriverSQLServer:
		q := url.Values{}
		q.Set("database", conn.DatabaseName)
		if conn.ConnectionTimeout > 0 {
			q.Set("dial timeout", strconv.Itoa(conn.ConnectionTimeout))
		}
		q.Set("encrypt", strconv.FormatBool(conn.Encrypt))
		if conn.TrustServerCertificate {
			q.Set("trustservercertificate", "true")
		}
		u := url.URL{
			Scheme:   "sqlserver",
			Host:     hostPort(conn.ServerName, conn.Port),
			RawQuery: q.Encode(),
		}
		if !conn.TrustedConnection {
			u.User = url.UserPassword(conn.Username, conn.Password)
		}
		return "sqlserver", u.String()
	default:
		q := url.Values{}
		if conn.ConnectionTimeout > 0 {
			q.Set("connect_timeout", strconv.Itoa(conn.ConnectionTimeout))
		}
		if conn.Encrypt {
			q.Set("sslmode", "require")
		} else {
			q.Set("sslmode", "prefer")
		}
		u := url.URL{
			Scheme:   "postgres",
			Host:     hostPort(conn.ServerName, conn.Port),
			Path:     "/" + conn.DatabaseName,
			RawQuery: q.Encode(),
		}
		if !conn.TrustedConnection {
			u.User = url.UserPassword(conn.Username, conn.Password)
		}
		return "pgx", u.String()
	}
}

func hostPort(server string, port int) string {
	if port <= 0 {
		return server
	}
	return server + ":" + strconv.Itoa(port)
}
