// Package httpx exposes the JSON API: the admin job surface and the
// inbound agent protocol.
package httpx

import (
	"log/slog"
	"net/http"

	"github.com/jobmill/jobmill/internal/core"
	"github.com/jobmill/jobmill/internal/service"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Jobs       *service.JobService
	Executions *service.ExecutionService
	Executor   core.JobExecutor
	Agents     *service.AgentService

	// Dispatch backs the execution cancel endpoint. Nil disables it.
	Dispatch ExecutionCanceller

	// DB backs the /healthz reachability check; nil skips it.
	DB Pinger

	// AdminAuth wraps the admin surface, typically the OIDC bearer
	// verifier. Nil leaves the admin API open (dev mode). Agent routes
	// always use agent tokens, never AdminAuth.
	AdminAuth func(http.Handler) http.Handler

	// Compression enables gzip response compression when non-nil.
	Compression *CompressionConfig

	Logger *slog.Logger
}

// NewRouter creates and configures the HTTP router.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	registerAdminRoutes(mux, services)
	registerAgentRoutes(mux, services)

	health := &HealthHandler{DB: services.DB}
	mux.Handle("GET /healthz", health)
	mux.Handle("HEAD /healthz", health)

	var handler http.Handler = mux
	if services.Compression != nil {
		handler = Compression(*services.Compression)(handler)
	}
	handler = Logging(logger)(handler)
	handler = Recover(logger)(handler)
	return handler
}

// registerAdminRoutes mounts the job CRUD and history surface, each route
// wrapped with AdminAuth when configured.
func registerAdminRoutes(mux *http.ServeMux, services RouterServices) {
	jobs := &JobHandlers{
		Jobs:       services.Jobs,
		Executions: services.Executions,
		Executor:   services.Executor,
	}
	executions := &ExecutionHandlers{Executions: services.Executions, Dispatch: services.Dispatch}
	agents := &AgentHandlers{Agents: services.Agents}

	admin := func(h http.HandlerFunc) http.Handler {
		if services.AdminAuth == nil {
			return h
		}
		return services.AdminAuth(h)
	}

	mux.Handle("GET /api/jobs", admin(jobs.List))
	mux.Handle("POST /api/jobs", admin(jobs.Create))
	mux.Handle("POST /api/jobs/validate", admin(jobs.Validate))
	mux.Handle("GET /api/jobs/{id}", admin(jobs.Get))
	mux.Handle("PUT /api/jobs/{id}", admin(jobs.Update))
	mux.Handle("DELETE /api/jobs/{id}", admin(jobs.Delete))
	mux.Handle("POST /api/jobs/{id}/toggle", admin(jobs.Toggle))
	mux.Handle("POST /api/jobs/{id}/run", admin(jobs.Run))
	mux.Handle("GET /api/jobs/{id}/logs", admin(jobs.Logs))
	mux.Handle("GET /api/executions/history", admin(executions.History))
	if services.Dispatch != nil {
		mux.Handle("POST /api/executions/{id}/cancel", admin(executions.Cancel))
	}
	mux.Handle("GET /api/agents", admin(agents.List))
}

// registerAgentRoutes mounts the inbound agent protocol. Register is open
// by design: it is how an agent obtains its token in the first place.
func registerAgentRoutes(mux *http.ServeMux, services RouterServices) {
	agents := &AgentHandlers{Agents: services.Agents}
	executions := &ExecutionHandlers{Executions: services.Executions}
	auth := AgentAuth(services.Agents)

	mux.Handle("POST /api/agent/register", http.HandlerFunc(agents.Register))
	mux.Handle("POST /api/agent/heartbeat", auth(http.HandlerFunc(agents.Heartbeat)))
	mux.Handle("POST /api/agent/jobs/{execution_id}/status", auth(http.HandlerFunc(agents.UpdateStatus)))
	mux.Handle("POST /api/agent/jobs/{execution_id}/complete", auth(http.HandlerFunc(agents.Complete)))
	mux.Handle("GET /api/job/{execution_id}/status", auth(http.HandlerFunc(executions.Status)))
}
