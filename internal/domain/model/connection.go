package model

import (
	"fmt"
	"strings"
)

// ConnectionDriver identifies the database driver for a stored connection.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type ConnectionDriver string

const (
	// ConnectionDriverPostgres targets PostgreSQL via pgx.
	ConnectionDriverPostgres ConnectionDriver = "postgres"
	// ConnectionDriverSQLServer targets Microsoft SQL Server.
	ConnectionDriverSQLServer ConnectionDriver = "sqlserver"
)

// UnmarshalText implements encoding.TextUnmarshaler for ConnectionDriver.
func (d *ConnectionDriver) UnmarshalText(text []byte) error {
	v := ConnectionDriver(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid ConnectionDriver: %q", string(text))
	}
	*d = v
	return nil
}

// Valid returns true if the ConnectionDriver is supported.
func (d ConnectionDriver) Valid() bool {
	return d == ConnectionDriverPostgres || d == ConnectionDriverSQLServer
}

// Connection represents a named database connection SQL jobs run against.
// Password is stored encrypted; the repo decrypts on read.
type Connection struct {
	ID                     string           `json:"connection_id" db:"connection_id"`
	Name                   string           `json:"name"          db:"name"`
	ServerName             string           `json:"server_name"   db:"server_name"`
	Port                   int              `json:"port"          db:"port"`
	DatabaseName           string           `json:"database_name" db:"database_name"`
	TrustedConnection      bool             `json:"trusted_connection" db:"trusted_connection"`
	Username               string           `json:"username,omitempty" db:"username"`
	Password               string           `json:"-"             db:"password"`
	Description            string           `json:"description,omitempty" db:"description"`
	Driver                 ConnectionDriver `json:"driver"        db:"driver"`
	ConnectionTimeout      int              `json:"connection_timeout" db:"connection_timeout"`
	CommandTimeout         int              `json:"command_timeout"    db:"command_timeout"`
	Encrypt                bool             `json:"encrypt"            db:"encrypt"`
	TrustServerCertificate bool             `json:"trust_server_certificate" db:"trust_server_certificate"`
	IsActive               bool             `json:"is_active"     db:"is_active"`
}

// CreateConnectionRequest represents a request to store a named connection.
type CreateConnectionRequest struct {
	Name                   string           `json:"name"`
	ServerName             string           `json:"server_name"`
	Port                   int              `json:"port,omitempty"`
	DatabaseName           string           `json:"database_name"`
	TrustedConnection      bool             `json:"trusted_connection,omitempty"`
	Username               string           `json:"username,omitempty"`
	Password               string           `json:"password,omitempty"`
	Description            string           `json:"description,omitempty"`
	Driver                 ConnectionDriver `json:"driver,omitempty"`
	ConnectionTimeout      int              `json:"connection_timeout,omitempty"`
	CommandTimeout         int              `json:"command_timeout,omitempty"`
	Encrypt                bool             `json:"encrypt,omitempty"`
	TrustServerCertificate bool             `json:"trust_server_certificate,omitempty"`
}

// Validate validates the CreateConnectionRequest fields.
func (r *CreateConnectionRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(r.ServerName) == "" {
		return fmt.Errorf("server_name is required")
	}
	if strings.TrimSpace(r.DatabaseName) == "" {
		return fmt.Errorf("database_name is required")
	}
	if r.Driver != "" && !r.Driver.Valid() {
		return fmt.Errorf("invalid driver: %q", r.Driver)
	}
	if !r.TrustedConnection && strings.TrimSpace(r.Username) == "" {
		return fmt.Errorf("username is required unless trusted_connection is set")
	}
	return nil
}

// UpdateConnectionRequest represents a partial update to a stored connection.
// Nil fields are left unchanged; an empty Password pointer clears the secret.
type UpdateConnectionRequest struct {
	Name                   *string           `json:"name,omitempty"`
	ServerName             *string           `json:"server_name,omitempty"`
	Port                   *int              `json:"port,omitempty"`
	DatabaseName           *string           `json:"database_name,omitempty"`
	TrustedConnection      *bool             `json:"trusted_connection,omitempty"`
	Username               *string           `json:"username,omitempty"`
	Password               *string           `json:"password,omitempty"`
	Description            *string           `json:"description,omitempty"`
	Driver                 *ConnectionDriver `json:"driver,omitempty"`
	ConnectionTimeout      *int              `json:"connection_timeout,omitempty"`
	CommandTimeout         *int              `json:"command_timeout,omitempty"`
	Encrypt                *bool             `json:"encrypt,omitempty"`
	TrustServerCertificate *bool             `json:"trust_server_certificate,omitempty"`
	IsActive               *bool             `json:"is_active,omitempty"`
}

// Validate validates the UpdateConnectionRequest fields.
func (r *UpdateConnectionRequest) Validate() error {
	if r.Name != nil && strings.TrimSpace(*r.Name) == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if r.ServerName != nil && strings.TrimSpace(*r.ServerName) == "" {
		return fmt.Errorf("server_name cannot be empty")
	}
	if r.Driver != nil && !r.Driver.Valid() {
		return fmt.Errorf("invalid driver: %q", *r.Driver)
	}
	return nil
}

// DefaultConnectionName is the connection used by SQL jobs that name none.
const DefaultConnectionName = "default"
