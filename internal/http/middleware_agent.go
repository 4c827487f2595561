package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/jobmill/jobmill/internal/domain/model"
)

// AgentAuthenticator resolves an agent bearer token to its registration.
type AgentAuthenticator interface {
	Authenticate(ctx context.Context, token string) (*model.Agent, error)
}

// agentKey is an unexported context key type to avoid collisions across
// packages.
type agentKey struct{}

// AgentFromContext returns the authenticated agent placed by AgentAuth.
func AgentFromContext(ctx context.Context) (*model.Agent, bool) {
	agent, ok := ctx.Value(agentKey{}).(*model.Agent)
	return agent, ok && agent != nil
}

// AgentAuth returns a middleware that requires a valid agent bearer token.
// The resolved agent is stored in the request context for handlers.
func AgentAuth(auth AgentAuthenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				WriteError(w, ErrorParams{
					Code:    http.StatusUnauthorized,
					ErrCode: "authentication_required",
					Err:     errors.New("agent bearer token is required"),
				})
				return
			}

			agent, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				WriteAppError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), agentKey{}, agent)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken extracts the token from an Authorization: Bearer header.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}
