// Package oidc provides the bearer-token verifier guarding the admin API
// when AUTH_MODE is oauth.
package oidc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	httpx "github.com/jobmill/jobmill/internal/http"
)

// VerifierConfig holds configuration for the admin bearer verifier.
type VerifierConfig struct {
	// IssuerURL is the OIDC issuer; discovery runs once at startup. A
	// trailing /.well-known/openid-configuration suffix is tolerated.
	IssuerURL string
	ClientID  string
	// Mock accepts any non-empty bearer token without discovery. Dev
	// only; the subject becomes the token itself.
	Mock       bool
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Identity is the verified caller attached to admin requests.
type Identity struct {
	Subject string `json:"sub"`
	Email   string `json:"email,omitempty"`
}

// Verifier validates admin bearer tokens against the issuer's signing
// keys. The token endpoint from discovery is kept so CLI tooling can mint
// tokens with the same configuration.
type Verifier struct {
	verifier *gooidc.IDTokenVerifier
	endpoint oauth2.Endpoint
	mock     bool
	logger   *slog.Logger
}

// NewVerifier performs discovery and builds the verifier. With Mock set,
// discovery is skipped entirely.
func NewVerifier(ctx context.Context, cfg VerifierConfig) (*Verifier, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "oidc_verifier")

	if cfg.Mock {
		logger.Warn("oidc verifier running in mock mode; any bearer token is accepted")
		return &Verifier{mock: true, logger: logger}, nil
	}

	if cfg.IssuerURL == "" {
		return nil, errors.New("issuer URL is required")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("client ID is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	issuer := strings.TrimSuffix(cfg.IssuerURL, "/")
	issuer = strings.TrimSuffix(issuer, "/.well-known/openid-configuration")

	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	provider, err := gooidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery for %s: %w", issuer, err)
	}

	return &Verifier{
		verifier: provider.Verifier(&gooidc.Config{ClientID: cfg.ClientID}),
		endpoint: provider.Endpoint(),
		mock:     false,
		logger:   logger,
	}, nil
}

// Endpoint returns the discovered OAuth2 endpoints. Zero in mock mode.
func (v *Verifier) Endpoint() oauth2.Endpoint {
	return v.endpoint
}

// Verify checks a raw bearer token and returns the caller identity.
func (v *Verifier) Verify(ctx context.Context, raw string) (Identity, error) {
	if raw == "" {
		return Identity{}, errors.New("bearer token is required")
	}
	if v.mock {
		return Identity{Subject: raw}, nil
	}

	token, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return Identity{}, fmt.Errorf("verify bearer token: %w", err)
	}

	var claims Identity
	if err := token.Claims(&claims); err != nil {
		return Identity{}, fmt.Errorf("parse token claims: %w", err)
	}
	if claims.Subject == "" {
		claims.Subject = token.Subject
	}
	return claims, nil
}

// Middleware wraps an admin handler with bearer verification. It matches
// the AdminAuth hook on the HTTP router.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearer(r)
		if raw == "" {
			httpx.WriteError(w, httpx.ErrorParams{
				Code:    http.StatusUnauthorized,
				ErrCode: "authentication_required",
				Err:     errors.New("bearer token is required"),
			})
			return
		}

		identity, err := v.Verify(r.Context(), raw)
		if err != nil {
			v.logger.WarnContext(r.Context(), "rejected admin token", "error", err)
			httpx.WriteError(w, httpx.ErrorParams{
				Code:    http.StatusUnauthorized,
				ErrCode: "invalid_token",
				Err:     errors.New("bearer token rejected"),
			})
			return
		}

		v.logger.DebugContext(r.Context(), "admin request authenticated", "sub", identity.Subject)
		next.ServeHTTP(w, r)
	})
}

func bearer(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}
