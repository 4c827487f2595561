package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

// AgentConfig configures the standalone agent binary. It is loaded
// separately from AppConfig; the agent shares no process with the server.
type AgentConfig struct {
	// ServerURL is the base URL of the jobmill server, e.g.
	// http://jobmill:8080.
	ServerURL string `env:"AGENT_SERVER_URL"`

	// Name identifies the agent in the registry. Empty defaults to the
	// hostname.
	Name string `env:"AGENT_NAME"`

	// Pool is the agent pool jobs target via agentPool.
	Pool string `env:"AGENT_POOL" envDefault:"default"`

	// ListenAddr is where the agent serves its assignment endpoint.
	ListenAddr string `env:"AGENT_LISTEN_ADDR" envDefault:":9201"`

	// AdvertiseURL is the URL the server dials the agent back on. Empty
	// derives it from the hostname and the listen port.
	AdvertiseURL string `env:"AGENT_ADVERTISE_URL"`

	// WorkspaceRoot is where per-execution work directories are created.
	// Empty uses the OS temp dir.
	WorkspaceRoot string `env:"AGENT_WORKSPACE_ROOT"`

	// HeartbeatInterval is the reporting cadence. The server may
	// override it in the registration response.
	HeartbeatInterval time.Duration `env:"AGENT_HEARTBEAT_INTERVAL" envDefault:"30s"`

	// MaxParallel caps concurrently running executions on this agent.
	MaxParallel int `env:"AGENT_MAX_PARALLEL" envDefault:"2"`

	// KeepWorkspaces skips the post-execution workspace cleanup so
	// operators can inspect scripts and logs after a failure.
	KeepWorkspaces bool `env:"AGENT_KEEP_WORKSPACES" envDefault:"false"`

	// Interpreter overrides. Bare names resolve through PATH.
	PowerShellBin string `env:"AGENT_POWERSHELL_BIN"`
	PythonBin     string `env:"AGENT_PYTHON_BIN"`
	CmdBin        string `env:"AGENT_CMD_BIN"`
}

// Sanitize applies guardrails and fills derived defaults.
func (c *AgentConfig) Sanitize() {
	c.ServerURL = strings.TrimRight(strings.TrimSpace(c.ServerURL), "/")
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		if host, err := os.Hostname(); err == nil {
			c.Name = host
		}
	}
	if c.Pool == "" {
		c.Pool = "default"
	}
	if c.HeartbeatInterval < 5*time.Second {
		c.HeartbeatInterval = 5 * time.Second
	}
	if c.MaxParallel < 1 {
		c.MaxParallel = 1
	}
	c.AdvertiseURL = strings.TrimRight(strings.TrimSpace(c.AdvertiseURL), "/")
	if c.AdvertiseURL == "" {
		c.AdvertiseURL = deriveAdvertiseURL(c.Name, c.ListenAddr)
	}
}

// Validate rejects configurations the agent cannot start with.
func (c *AgentConfig) Validate() error {
	if c.ServerURL == "" {
		return errors.New("AGENT_SERVER_URL is required")
	}
	if _, err := url.ParseRequestURI(c.ServerURL); err != nil {
		return fmt.Errorf("AGENT_SERVER_URL: %w", err)
	}
	if c.Name == "" {
		return errors.New("AGENT_NAME is required when the hostname cannot be determined")
	}
	return nil
}

func deriveAdvertiseURL(host, listenAddr string) string {
	if host == "" {
		return ""
	}
	port := "9201"
	if idx := strings.LastIndex(listenAddr, ":"); idx >= 0 && idx+1 < len(listenAddr) {
		port = listenAddr[idx+1:]
	}
	return fmt.Sprintf("http://%s:%s", host, port)
}
