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
	"github.com/jobmill/jobmill/internal/data/cryptoutil"
	"github.com/jobmill/jobmill/internal/data/database"
	"github.com/jobmill/jobmill/internal/data/pgxutil"
	"github.com/jobmill/jobmill/internal/domain/model"
)

// ConnectionRepo provides database operations for named connections SQL
// jobs run against. Passwords pass through the Encryptor on every write
// and read; the plaintext never reaches the table.
type ConnectionRepo struct {
	DB  *sql.DB
	enc cryptoutil.Encryptor
}

// NewConnectionRepo creates a new ConnectionRepo using the given encryptor.
func NewConnectionRepo(db *sql.DB, enc cryptoutil.Encryptor) *ConnectionRepo {
	return &ConnectionRepo{DB: db, enc: enc}
}

// Create stores a new named connection.
func (r *ConnectionRepo) Create(ctx context.Context, req *model.CreateConnectionRequest) (*model.Connection, error) {
	if req == nil {
		return nil, errors.New("create connection request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	driver := req.Driver
	if driver == "" {
		driver = model.ConnectionDriverPostgres
	}
	port := req.Port
	if port <= 0 {
		port = defaultDriverPort(driver)
	}
	connTimeout := req.ConnectionTimeout
	if connTimeout <= 0 {
		connTimeout = 30
	}
	cmdTimeout := req.CommandTimeout
	if cmdTimeout <= 0 {
		cmdTimeout = 300
	}

	stored, err := r.encryptPassword(req.Password)
	if err != nil {
		return nil, err
	}

	var out model.Connection
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			INSERT INTO user_connections (
				connection_id, name, server_name, port, database_name,
				trusted_connection, username, password, description, driver,
				connection_timeout, command_timeout, encrypt,
				trust_server_certificate, is_active
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, TRUE
			) RETURNING `+connectionColumns,
			uuid.NewString(),
			strings.TrimSpace(req.Name),
			req.ServerName,
			port,
			req.DatabaseName,
			req.TrustedConnection,
			req.Username,
			stored,
			req.Description,
			string(driver),
			connTimeout,
			cmdTimeout,
			req.Encrypt,
			req.TrustServerCertificate,
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Connection])
		return err
	}); err != nil {
		return nil, mapRepoErr("create connection", err)
	}
	if err := r.decryptPassword(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetByID retrieves a connection by ID with the password decrypted.
func (r *ConnectionRepo) GetByID(ctx context.Context, id string) (*model.Connection, error) {
	return r.getByQuery(ctx, connectionGetByIDQuery, "get connection by ID", id)
}

// GetByName retrieves a connection by its unique name with the password decrypted.
func (r *ConnectionRepo) GetByName(ctx context.Context, name string) (*model.Connection, error) {
	return r.getByQuery(ctx, connectionGetByNameQuery, "get connection by name", name)
}

// List retrieves stored connections ordered by name.
func (r *ConnectionRepo) List(ctx context.Context, limit, offset int) ([]*model.Connection, error) {
	queryOpts := []database.ListQueryOption{
		database.WithColumns(connectionColumnList()...),
		database.WithOrderBy("name", "ASC"),
	}
	if limit > 0 {
		queryOpts = append(queryOpts, database.WithLimit(limit))
	}
	if offset > 0 {
		queryOpts = append(queryOpts, database.WithOffset(offset))
	}
	query, args := database.BuildListQuery(database.NewListQueryOptions("user_connections", queryOpts...))

	var rowsOut []model.Connection
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		rowsOut, err = pgx.CollectRows(rows, pgx.RowToStructByName[model.Connection])
		return err
	}); err != nil {
		return nil, mapRepoErr("list connections", err)
	}

	res := make([]*model.Connection, len(rowsOut))
	for i := range rowsOut {
		if err := r.decryptPassword(&rowsOut[i]); err != nil {
			return nil, err
		}
		res[i] = &rowsOut[i]
	}
	return res, nil
}

// Update patches stored fields of a connection. A non-nil Password replaces
// the stored secret; an empty one clears it.
func (r *ConnectionRepo) Update(ctx context.Context, id string, req model.UpdateConnectionRequest) (*model.Connection, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	setClause, args, err := r.buildUpdateClause(req)
	if err != nil {
		return nil, err
	}

	var out model.Connection
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		var rows pgx.Rows
		var qErr error
		if setClause == "" {
			rows, qErr = conn.Query(ctx, connectionGetByIDQuery, id)
		} else {
			args = append(args, id)
			query := "UPDATE user_connections SET " + setClause +
				" WHERE connection_id = $" + strconv.Itoa(len(args)) +
				" RETURNING " + connectionColumns
			rows, qErr = conn.Query(ctx, query, args...)
		}
		if qErr != nil {
			return qErr
		}
		defer rows.Close()
		out, qErr = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Connection])
		return qErr
	}); err != nil {
		return nil, mapRepoErr("update connection", err)
	}
	if err := r.decryptPassword(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// buildUpdateClause builds the SQL SET clause and args for updating a connection.
func (r *ConnectionRepo) buildUpdateClause(req model.UpdateConnectionRequest) (string, []any, error) {
	setParts := make([]string, 0, 14)
	args := make([]any, 0, 14)
	nextIdx := func() int { return len(args) + 1 }

	addString := func(col string, v *string) {
		if v != nil {
			setParts = append(setParts, fmt.Sprintf("%s = $%d", col, nextIdx()))
			args = append(args, *v)
		}
	}
	addInt := func(col string, v *int) {
		if v != nil {
			setParts = append(setParts, fmt.Sprintf("%s = $%d", col, nextIdx()))
			args = append(args, *v)
		}
	}
	addBool := func(col string, v *bool) {
		if v != nil {
			setParts = append(setParts, fmt.Sprintf("%s = $%d", col, nextIdx()))
			args = append(args, *v)
		}
	}

	if req.Name != nil {
		trimmed := strings.TrimSpace(*req.Name)
		setParts = append(setParts, fmt.Sprintf("name = $%d", nextIdx()))
		args = append(args, trimmed)
	}
	addString("server_name", req.ServerName)
	addInt("port", req.Port)
	addString("database_name", req.DatabaseName)
	addBool("trusted_connection", req.TrustedConnection)
	addString("username", req.Username)
	if req.Password != nil {
		stored, err := r.encryptPassword(*req.Password)
		if err != nil {
			return "", nil, err
		}
		setParts = append(setParts, fmt.Sprintf("password = $%d", nextIdx()))
		args = append(args, stored)
	}
	addString("description", req.Description)
	if req.Driver != nil {
		setParts = append(setParts, fmt.Sprintf("driver = $%d", nextIdx()))
		args = append(args, string(*req.Driver))
	}
	addInt("connection_timeout", req.ConnectionTimeout)
	addInt("command_timeout", req.CommandTimeout)
	addBool("encrypt", req.Encrypt)
	addBool("trust_server_certificate", req.TrustServerCertificate)
	addBool("is_active", req.IsActive)

	if len(setParts) == 0 {
		return "", nil, nil
	}
	return strings.Join(setParts, ", "), args, nil
}

// Delete removes a stored connection by ID.
func (r *ConnectionRepo) Delete(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		ct, err := conn.Exec(ctx, `DELETE FROM user_connections WHERE connection_id = $1`, id)
		if err != nil {
			return err
		}
		deleted = ct.RowsAffected() > 0
		return nil
	})
	if err != nil {
		return false, mapRepoErr("delete connection", err)
	}
	return deleted, nil
}

// --- helpers ---

const (
	connectionColumns = `
		connection_id, name, server_name, port, database_name,
		trusted_connection, username, password, description, driver,
		connection_timeout, command_timeout, encrypt,
		trust_server_certificate, is_active`

	connectionGetByIDQuery = `
		SELECT ` + connectionColumns + `
		FROM user_connections
		WHERE connection_id = $1`

	connectionGetByNameQuery = `
		SELECT ` + connectionColumns + `
		FROM user_connections
		WHERE name = $1`
)

// connectionColumnList returns the standard column list for dynamic queries.
func connectionColumnList() []string {
	return []string{
		"connection_id",
		"name",
		"server_name",
		"port",
		"database_name",
		"trusted_connection",
		"username",
		"password",
		"description",
		"driver",
		"connection_timeout",
		"command_timeout",
		"encrypt",
		"trust_server_certificate",
		"is_active",
	}
}

// defaultDriverPort returns the conventional port for a driver.
func defaultDriverPort(d model.ConnectionDriver) int {
	if d == model.ConnectionDriverSQLServer {
		return 1433
	}
	return 5432
}

func (r *ConnectionRepo) getByQuery(
	ctx context.Context,
	q string,
	op string,
	args ...any,
) (*model.Connection, error) {
	var out model.Connection
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Connection])
		return err
	})
	if err != nil {
		return nil, mapRepoErr(op, err)
	}
	if err := r.decryptPassword(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// encryptPassword runs a plaintext password through the encryptor. Empty
// passwords stay empty so trusted connections carry no ciphertext.
func (r *ConnectionRepo) encryptPassword(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	stored, err := r.enc.Encrypt([]byte(plaintext))
	if err != nil {
		return "", fmt.Errorf("encrypt connection password: %w", err)
	}
	return stored, nil
}

func (r *ConnectionRepo) decryptPassword(c *model.Connection) error {
	if c.Password == "" {
		return nil
	}
	pt, err := r.enc.Decrypt(c.Password)
	if err != nil {
		return fmt.Errorf("decrypt connection password: %w", err)
	}
	c.Password = string(pt)
	return nil
}

var _ core.ConnectionRepository = (*ConnectionRepo)(nil)
