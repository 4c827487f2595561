package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jobmill/jobmill/config"
	"github.com/jobmill/jobmill/internal/adapters/oidc"
)

// BuildAdminAuth returns the middleware guarding the admin API surface
// for the configured auth mode. AuthModeNone returns nil, which leaves
// the admin API open. Agent routes carry their own token auth and never
// pass through this middleware.
func BuildAdminAuth(ctx context.Context, cfg config.AuthConfig, logger *slog.Logger) (func(http.Handler) http.Handler, error) {
	switch cfg.Mode {
	case config.AuthModeNone, "":
		if logger != nil {
			logger.Warn("admin API authentication disabled (AUTH_MODE=none)")
		}
		return nil, nil

	case config.AuthModeMock:
		verifier, err := oidc.NewVerifier(ctx, oidc.VerifierConfig{
			Mock:   true,
			Logger: logger,
		})
		if err != nil {
			return nil, fmt.Errorf("build mock verifier: %w", err)
		}
		return verifier.Middleware, nil

	case config.AuthModeOAuth:
		verifier, err := oidc.NewVerifier(ctx, oidc.VerifierConfig{
			IssuerURL: cfg.OAuth.IssuerURL,
			ClientID:  cfg.OAuth.ClientID,
			Logger:    logger,
		})
		if err != nil {
			return nil, fmt.Errorf("build oidc verifier: %w", err)
		}
		return verifier.Middleware, nil

	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
	}
}
