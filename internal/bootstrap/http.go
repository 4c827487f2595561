package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/netutil"

	"github.com/jobmill/jobmill/config"
	httpx "github.com/jobmill/jobmill/internal/http"
)

// HTTPServerConfig contains configuration for the HTTP server.
type HTTPServerConfig struct {
	Config   *config.AppConfig
	Services *ServiceContainer
	// AdminAuth wraps the admin surface; nil leaves it open.
	AdminAuth func(http.Handler) http.Handler
	DB        *sql.DB
	Logger    *slog.Logger
}

// StartHTTPServer creates and starts the HTTP server in a background
// goroutine. Returns the server instance for graceful shutdown.
func StartHTTPServer(cfg *HTTPServerConfig) (*http.Server, error) {
	if cfg == nil || cfg.Services == nil {
		return nil, fmt.Errorf("http server config and services are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	appCfg := cfg.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
	}

	services := httpx.RouterServices{
		Jobs:        cfg.Services.Jobs,
		Executions:  cfg.Services.Executions,
		Executor:    cfg.Services.Executor,
		Agents:      cfg.Services.Agents,
		Dispatch:    cfg.Services.Dispatch,
		DB:          pinger(cfg.DB),
		AdminAuth:   cfg.AdminAuth,
		Compression: compressionConfig(appCfg.HTTP, logger),
		Logger:      logger,
	}

	handler := httpx.NewRouter(services)
	return startServer(logger, handler, appCfg.HTTP)
}

// pinger keeps a nil *sql.DB from becoming a non-nil interface in the
// health handler.
func pinger(db *sql.DB) httpx.Pinger {
	if db == nil {
		return nil
	}
	return db
}

func compressionConfig(cfg config.HTTPConfig, logger *slog.Logger) *httpx.CompressionConfig {
	if !cfg.CompressionEnabled {
		return nil
	}
	logger.Info("HTTP compression enabled", "level", cfg.CompressionLevel)
	return &httpx.CompressionConfig{
		Level:   cfg.CompressionLevel,
		MinSize: cfg.CompressionMinSize,
		Logger:  logger,
	}
}

func startServer(logger *slog.Logger, handler http.Handler, cfg config.HTTPConfig) (*http.Server, error) {
	addr := cfg.Addr
	// Guard against empty addr to avoid listening on Go default
	if addr == "" {
		addr = ":8080"
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	if cfg.MaxConns > 0 {
		logger.Info("HTTP connection limit enabled", "max_conns", cfg.MaxConns)
		listener = netutil.LimitListener(listener, cfg.MaxConns)
	}

	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("starting HTTP server", "addr", server.Addr)
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
		}
	}()

	return server, nil
}

// ShutdownConfig contains dependencies for HTTP server shutdown.
type ShutdownConfig struct {
	Context context.Context
	Server  *http.Server
	Logger  *slog.Logger
}

// ShutdownHTTPServer gracefully shuts down the HTTP server.
func ShutdownHTTPServer(cfg ShutdownConfig) error {
	if cfg.Server == nil {
		return nil
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("shutting down HTTP server")
	}

	shutdownCtx, cancel := context.WithTimeout(cfg.Context, 10*time.Second)
	defer cancel()

	if err := cfg.Server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("HTTP server stopped")
	}

	return nil
}
