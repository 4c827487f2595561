package config

import (
	"errors"
	"fmt"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - auth.go: Admin API authentication configuration
//   - database.go: Database and Redis configuration
//   - http.go: HTTP server configuration
//   - services.go: Service mode and per-service tuning
//   - observability.go: Metrics and failure notification fan-out
//   - agent.go: Configuration for the separate agent binary
type AppConfig struct {
	// IsDev relaxes startup checks for local development.
	IsDev bool `env:"DEV" envDefault:"false"`

	// SecretKey seeds the HMAC used to hash agent tokens and the
	// AES-GCM key that encrypts stored connection passwords. A 64-char
	// hex value is decoded directly, anything else is SHA-256 derived.
	SecretKey string `env:"SECRET_KEY"`

	// Database configuration
	DB    DBConfig    `envPrefix:"DB_"`
	Redis RedisConfig `envPrefix:"REDIS_"`

	// HTTP server configuration
	HTTP HTTPConfig

	// Admin API authentication configuration
	Auth AuthConfig

	// Services is a comma-delimited list of enabled services.
	// Valid values: http, scheduler, dispatcher, reaper.
	Services string `env:"SERVICES" envDefault:"http,scheduler,dispatcher,reaper"`

	// Per-service tuning
	Scheduler SchedulerConfig
	Dispatch  DispatchConfig
	Reaper    ReaperConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment
// variables and before Validate.
func (c *AppConfig) Sanitize() {
	c.SecretKey = strings.TrimSpace(c.SecretKey)
	c.DB.Sanitize()
	c.HTTP.Sanitize()
	c.Scheduler.Sanitize()
	c.Dispatch.Sanitize()
	c.Reaper.Sanitize()
	c.Observability.Sanitize()
}

// Validate rejects configurations the services cannot start with.
func (c *AppConfig) Validate() error {
	if c.SecretKey == "" {
		return errors.New("SECRET_KEY is required")
	}
	if err := c.DB.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if _, err := c.GetEnabledServices(); err != nil {
		return fmt.Errorf("SERVICES: %w", err)
	}
	return nil
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsHTTPServerEnabled returns true if the HTTP server service is enabled.
func (c *AppConfig) IsHTTPServerEnabled() bool {
	return c.isEnabled(ServiceModeHTTP)
}

// IsSchedulerEnabled returns true if the scheduler service is enabled.
func (c *AppConfig) IsSchedulerEnabled() bool {
	return c.isEnabled(ServiceModeScheduler)
}

// IsDispatcherEnabled returns true if the agent dispatcher service is enabled.
func (c *AppConfig) IsDispatcherEnabled() bool {
	return c.isEnabled(ServiceModeDispatcher)
}

// IsReaperEnabled returns true if the retention reaper service is enabled.
func (c *AppConfig) IsReaperEnabled() bool {
	return c.isEnabled(ServiceModeReaper)
}

// IsServiceEnabled reports whether the given service mode is enabled.
func (c *AppConfig) IsServiceEnabled(mode ServiceMode) bool {
	return c.isEnabled(mode)
}

func (c *AppConfig) isEnabled(mode ServiceMode) bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[mode]
}
