// Package agent implements the worker side of agent dispatch: a
// standalone process that registers with the server, accepts pushed
// assignments, runs their steps in a sandboxed workspace, and reports
// results back.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jobmill/jobmill/internal/domain/model"
)

const (
	clientTimeout = 15 * time.Second
	// maxErrorBody bounds how much of a failure response lands in the error.
	maxErrorBody = 2048
)

// serverClient talks to the jobmill server's agent API. The bearer token
// is issued by Register and rotates on every re-registration.
type serverClient struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger

	mu    sync.RWMutex
	token string
}

func newServerClient(baseURL string, hc *http.Client, logger *slog.Logger) *serverClient {
	if hc == nil {
		hc = &http.Client{Timeout: clientTimeout}
	}
	return &serverClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
		logger:  logger,
	}
}

func (c *serverClient) setToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *serverClient) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Register announces the agent and stores the issued bearer token for
// every later call.
func (c *serverClient) Register(ctx context.Context, req *model.RegisterAgentRequest) (*model.RegisterAgentResponse, error) {
	var resp model.RegisterAgentResponse
	if err := c.call(ctx, "/api/agent/register", req, &resp); err != nil {
		return nil, fmt.Errorf("register agent %s: %w", req.Name, err)
	}
	if resp.AuthToken == "" {
		return nil, fmt.Errorf("register agent %s: server returned no auth token", req.Name)
	}
	c.setToken(resp.AuthToken)
	return &resp, nil
}

// Heartbeat reports liveness and host telemetry.
func (c *serverClient) Heartbeat(ctx context.Context, beat *model.AgentHeartbeat) error {
	if err := c.call(ctx, "/api/agent/heartbeat", beat, nil); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

// UpdateStatus posts a non-terminal progress note for an execution.
func (c *serverClient) UpdateStatus(ctx context.Context, executionID string, upd *model.AgentStatusUpdate) error {
	if err := c.call(ctx, "/api/agent/jobs/"+executionID+"/status", upd, nil); err != nil {
		return fmt.Errorf("update status for execution %s: %w", executionID, err)
	}
	return nil
}

// Complete posts the terminal report for an execution.
func (c *serverClient) Complete(ctx context.Context, executionID string, req *model.AgentCompleteRequest) error {
	if err := c.call(ctx, "/api/agent/jobs/"+executionID+"/complete", req, nil); err != nil {
		return fmt.Errorf("complete execution %s: %w", executionID, err)
	}
	return nil
}

func (c *serverClient) call(ctx context.Context, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.bearer(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("server request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("server responded %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	if out == nil {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
