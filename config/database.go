package config

import (
	"fmt"
	"strings"
	"time"
)

// DBConfig contains PostgreSQL job store configuration. The env names
// mirror the connection block of a job definition so one vocabulary
// covers both.
type DBConfig struct {
	// Driver names the database engine. Only postgres is supported;
	// anything else is rejected at startup.
	Driver   string `env:"DRIVER"   envDefault:"postgres"`
	Server   string `env:"SERVER"   envDefault:"localhost"`
	Port     int    `env:"PORT"     envDefault:"5432"`
	Database string `env:"DATABASE" envDefault:"jobmill"`
	Username string `env:"USERNAME" envDefault:"jobmill"`
	Password string `env:"PASSWORD" envDefault:""`

	// TrustedConnection is accepted for compatibility with connection
	// blocks but has no effect against PostgreSQL. Startup logs a
	// warning when it is set.
	TrustedConnection bool `env:"TRUSTED_CONNECTION" envDefault:"false"`

	// ConnectionTimeout bounds the initial TCP + auth handshake.
	ConnectionTimeout time.Duration `env:"CONNECTION_TIMEOUT" envDefault:"15s"`

	// CommandTimeout is the default per-statement deadline applied by
	// repositories that do not carry their own.
	CommandTimeout time.Duration `env:"COMMAND_TIMEOUT" envDefault:"30s"`

	// Encrypt enables TLS to the server.
	Encrypt bool `env:"ENCRYPT" envDefault:"false"`

	// TrustServerCertificate skips certificate verification when
	// Encrypt is set.
	TrustServerCertificate bool `env:"TRUST_SERVER_CERTIFICATE" envDefault:"false"`

	// Pool sizing.
	MaxOpenConns int           `env:"MAX_OPEN"      envDefault:"10"`
	MaxIdleConns int           `env:"MAX_IDLE"      envDefault:"5"`
	ConnLifetime time.Duration `env:"CONN_LIFETIME" envDefault:"30m"`

	// Startup retry tuning. The first ping retries so the service
	// survives a database that is still coming up.
	ConnectRetries    int           `env:"CONNECT_RETRIES"     envDefault:"5"`
	ConnectRetryDelay time.Duration `env:"CONNECT_RETRY_DELAY" envDefault:"2s"`
}

// Sanitize applies guardrails to database configuration values.
func (c *DBConfig) Sanitize() {
	c.Driver = strings.ToLower(strings.TrimSpace(c.Driver))
	if c.Port <= 0 || c.Port > 65535 {
		c.Port = 5432
	}
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = 15 * time.Second
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = 30 * time.Second
	}
	if c.MaxOpenConns < 1 {
		c.MaxOpenConns = 1
	}
	if c.MaxIdleConns < 0 {
		c.MaxIdleConns = 0
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		c.MaxIdleConns = c.MaxOpenConns
	}
	if c.ConnLifetime < 0 {
		c.ConnLifetime = 0
	}
	if c.ConnectRetries < 0 {
		c.ConnectRetries = 0
	}
	if c.ConnectRetryDelay <= 0 {
		c.ConnectRetryDelay = 2 * time.Second
	}
}

// Validate rejects configurations the store cannot run with.
func (c *DBConfig) Validate() error {
	if c.Driver != "postgres" {
		return fmt.Errorf("DB_DRIVER: unsupported driver %q (only postgres is supported)", c.Driver)
	}
	if c.Server == "" {
		return fmt.Errorf("DB_SERVER is required")
	}
	if c.Database == "" {
		return fmt.Errorf("DB_DATABASE is required")
	}
	return nil
}

// DSN renders the keyword/value connection string for pgx's database/sql
// driver.
func (c *DBConfig) DSN() string {
	parts := []string{
		fmt.Sprintf("host=%s", c.Server),
		fmt.Sprintf("port=%d", c.Port),
		fmt.Sprintf("dbname=%s", c.Database),
		fmt.Sprintf("user=%s", c.Username),
	}
	if c.Password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", c.Password))
	}
	parts = append(parts, fmt.Sprintf("sslmode=%s", c.sslMode()))
	if seconds := int(c.ConnectionTimeout.Seconds()); seconds > 0 {
		parts = append(parts, fmt.Sprintf("connect_timeout=%d", seconds))
	}
	return strings.Join(parts, " ")
}

func (c *DBConfig) sslMode() string {
	if !c.Encrypt {
		return "disable"
	}
	if c.TrustServerCertificate {
		return "require"
	}
	return "verify-full"
}

// RedisConfig contains optional Redis configuration. Redis backs the
// scheduler's cross-replica fire guard; when disabled the guard runs in
// pass-through mode and duplicate suppression relies on the store alone.
type RedisConfig struct {
	Enabled  bool   `env:"ENABLED"  envDefault:"false"`
	URI      string `env:"URI"      envDefault:"localhost:6379"`
	Password string `env:"PASSWORD" envDefault:""`
	DB       int    `env:"DB"       envDefault:"0"`

	SentinelNodes      []string `env:"SENTINEL_NODES"       envDefault:""`
	SentinelMasterName string   `env:"SENTINEL_MASTER_NAME" envDefault:"mymaster"`
	SentinelPassword   string   `env:"SENTINEL_PASSWORD"    envDefault:""`
	UseSentinel        bool     `env:"USE_SENTINEL"         envDefault:"false"`

	ClusterNodes []string `env:"CLUSTER_NODES" envDefault:""`
	UseCluster   bool     `env:"USE_CLUSTER"   envDefault:"false"`
}
