// Package agentclient implements the outbound half of agent dispatch: the
// HTTP calls the server pushes to a registered agent's endpoint.
package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jobmill/jobmill/internal/domain/model"
	apperrors "github.com/jobmill/jobmill/internal/errors"
)

const (
	defaultTimeout = 15 * time.Second
	// maxErrorBody bounds how much of a failure response lands in the error.
	maxErrorBody = 2048
)

// Options configures a Client.
type Options struct {
	// Timeout bounds each outbound call. Zero uses the default.
	Timeout time.Duration
	// Client overrides the HTTP client, mainly for tests.
	Client *http.Client
	Logger *slog.Logger
}

// Client pushes assignments and revocations to agents over HTTP. Agents are
// reached on their advertised endpoint URL from registration; these calls
// ride the trusted network between server and agents, the agent's bearer
// token only secures the reverse direction.
type Client struct {
	http   *http.Client
	logger *slog.Logger
}

// New creates a new agent Client.
func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	hc := opts.Client
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		http:   hc,
		logger: logger.With("component", "agent_client"),
	}
}

// Assign POSTs an execution to the agent's assign endpoint. Any non-2xx
// response is an error; the caller leaves the execution queued and tries
// another agent.
func (c *Client) Assign(ctx context.Context, agent *model.Agent, req *model.AssignJobRequest) error {
	if agent == nil || req == nil {
		return apperrors.Validation("agent and assignment request are required")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode assignment for agent %s: %w", agent.Name, err)
	}
	if err := c.post(ctx, endpoint(agent, "/api/agent/job/assign"), body); err != nil {
		return fmt.Errorf("assign execution %s to agent %s: %w", req.ExecutionID, agent.Name, err)
	}

	c.logger.DebugContext(ctx, "assignment pushed",
		"agent", agent.Name,
		"execution_id", req.ExecutionID)
	return nil
}

// Revoke asks the agent to abandon an execution. Best effort: the caller
// finishes the row as cancelled regardless.
func (c *Client) Revoke(ctx context.Context, agent *model.Agent, executionID string) error {
	if agent == nil || strings.TrimSpace(executionID) == "" {
		return apperrors.Validation("agent and execution_id are required")
	}
	if err := c.post(ctx, endpoint(agent, "/api/agent/job/"+executionID+"/cancel"), nil); err != nil {
		return fmt.Errorf("revoke execution %s on agent %s: %w", executionID, agent.Name, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, url string, body []byte) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reader)
	if err != nil {
		return fmt.Errorf("create agent request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("agent request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("agent responded %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// endpoint joins the agent's advertised base URL with an API path.
func endpoint(agent *model.Agent, path string) string {
	return strings.TrimRight(agent.EndpointURL, "/") + path
}
