package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jobmill/jobmill/internal/core"
	"github.com/jobmill/jobmill/internal/domain/model"
	apperrors "github.com/jobmill/jobmill/internal/errors"
)

// ConnectionServiceOptions groups dependencies for ConnectionService.
type ConnectionServiceOptions struct {
	Repo   core.ConnectionRepository // Required: connection repository
	Logger *slog.Logger              // Optional: structured logger
}

// ConnectionService manages the named database connections SQL jobs run
// against. Passwords are encrypted at rest by the repository; reads hand
// back plaintext for the backend, and the HTTP layer redacts it.
type ConnectionService struct {
	repo   core.ConnectionRepository
	logger *slog.Logger
}

// NewConnectionService constructs a new ConnectionService.
func NewConnectionService(opts ConnectionServiceOptions) (*ConnectionService, error) {
	if opts.Repo == nil {
		return nil, errors.New("ConnectionRepository is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "connection_service")
	}

	return &ConnectionService{repo: opts.Repo, logger: logger}, nil
}

// MustNewConnectionService constructs a new ConnectionService and panics on
// error. Use this when you're certain the options are valid (e.g., in main.go).
func MustNewConnectionService(opts ConnectionServiceOptions) *ConnectionService {
	svc, err := NewConnectionService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create ConnectionService: %v", err))
	}
	return svc
}

// Create stores a new named connection.
func (s *ConnectionService) Create(ctx context.Context, req *model.CreateConnectionRequest) (*model.Connection, error) {
	if req == nil {
		return nil, apperrors.Validation("request body is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	conn, err := s.repo.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create connection: %w", err)
	}

	if s.logger != nil {
		s.logger.DebugContext(ctx, "connection created",
			"connection_id", conn.ID,
			"name", conn.Name,
			"driver", conn.Driver,
		)
	}
	return conn, nil
}

// GetByID returns one connection.
func (s *ConnectionService) GetByID(ctx context.Context, id string) (*model.Connection, error) {
	conn, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get connection %s: %w", id, err)
	}
	return conn, nil
}

// GetByName returns one connection by its unique name.
func (s *ConnectionService) GetByName(ctx context.Context, name string) (*model.Connection, error) {
	conn, err := s.repo.GetByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("get connection %q: %w", name, err)
	}
	return conn, nil
}

// List returns a page of connections.
func (s *ConnectionService) List(ctx context.Context, limit, offset int) ([]*model.Connection, error) {
	p := normalizePagination(limit, offset)
	conns, err := s.repo.List(ctx, p.Limit, p.Offset)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	return conns, nil
}

// Update patches a connection in place.
func (s *ConnectionService) Update(ctx context.Context, id string, req model.UpdateConnectionRequest) (*model.Connection, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	conn, err := s.repo.Update(ctx, id, req)
	if err != nil {
		return nil, fmt.Errorf("update connection %s: %w", id, err)
	}

	if s.logger != nil {
		s.logger.DebugContext(ctx, "connection updated", "connection_id", conn.ID)
	}
	return conn, nil
}

// paginationParams holds normalized pagination parameters.
type paginationParams struct {
	Limit  int
	Offset int
}

// normalizePagination clamps pagination parameters to safe defaults.
// Default limit: 50, max limit: 1000, min offset: 0.
func normalizePagination(limit, offset int) paginationParams {
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}
	return paginationParams{Limit: limit, Offset: offset}
}

// Delete removes a connection. Jobs referencing it by name fail at run time
// with a backend error, not at delete time.
func (s *ConnectionService) Delete(ctx context.Context, id string) error {
	ok, err := s.repo.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("delete connection %s: %w", id, err)
	}
	if !ok {
		return apperrors.NotFoundf("connection %s not found", id)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "connection deleted", "connection_id", id)
	}
	return nil
}
