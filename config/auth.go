package config

import (
	"errors"
	"fmt"
	"strings"
)

// AuthMode represents the authentication mode for the admin API. Agent
// routes are unaffected; they always authenticate with agent tokens.
type AuthMode string

const (
	// AuthModeNone leaves the admin API open. Suitable only behind a
	// trusted network boundary or for local development.
	AuthModeNone AuthMode = "none"
	// AuthModeOAuth verifies admin bearer tokens against an OIDC issuer.
	AuthModeOAuth AuthMode = "oauth"
	// AuthModeMock accepts any non-empty bearer token (for development only).
	AuthModeMock AuthMode = "mock"
)

// UnmarshalText implements encoding.TextUnmarshaler for AuthMode.
func (a *AuthMode) UnmarshalText(text []byte) error {
	v := strings.ToLower(string(text))
	switch v {
	case "none", "oauth", "mock":
		*a = AuthMode(v)
		return nil
	default:
		return fmt.Errorf("invalid AuthMode: %q (valid options: none, oauth, mock)", v)
	}
}

// OAuthConfig contains OIDC issuer configuration for admin bearer
// verification. ClientSecret is only needed by CLI tooling that mints
// tokens; verification itself uses the issuer's public keys.
type OAuthConfig struct {
	IssuerURL    string `env:"ISSUER_URL"`
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
}

// AuthConfig groups admin API authentication configuration.
type AuthConfig struct {
	// Mode determines how admin requests are authenticated.
	Mode AuthMode `env:"AUTH_MODE" envDefault:"none"`

	// OAuth configuration (used when Mode=oauth).
	OAuth OAuthConfig `envPrefix:"OAUTH_"`
}

// Validate rejects incomplete oauth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode != AuthModeOAuth {
		return nil
	}
	if strings.TrimSpace(c.OAuth.IssuerURL) == "" {
		return errors.New("OAUTH_ISSUER_URL is required when AUTH_MODE=oauth")
	}
	if strings.TrimSpace(c.OAuth.ClientID) == "" {
		return errors.New("OAUTH_CLIENT_ID is required when AUTH_MODE=oauth")
	}
	return nil
}
