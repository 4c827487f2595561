// Package mocks provides mock implementations for testing the jobmill scheduler.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for our repository interfaces.
// The mocks are generated using go:generate directives and provide a fluent API for setting up test expectations.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	defer ctrl.Finish()
//	mockRepo := mocks.NewMockJobConfigRepository(ctrl)
//	mockRepo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(job, nil)
package mocks

// Generate mock for JobConfigRepository interface from internal/core package.
// This creates MockJobConfigRepository with methods for all JobConfigRepository interface methods:
// Create, GetByID, GetByName, List, Update, Delete, SetEnabled
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=job_config_repository_mock.go github.com/jobmill/jobmill/internal/core JobConfigRepository

// Generate mock for ExecutionRepository interface from internal/core package.
// This creates MockExecutionRepository with methods for all ExecutionRepository interface methods:
// Start, Finish, GetByID, List, CountLive, Transition, FindQueued
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=execution_repository_mock.go github.com/jobmill/jobmill/internal/core ExecutionRepository

// Generate mock for HistoryReaperRepository interface from internal/core package.
// This creates MockHistoryReaperRepository with methods for all HistoryReaperRepository interface methods:
// FailStaleRunning, DeleteOldExecutions, TrimJobHistory
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=history_reaper_repository_mock.go github.com/jobmill/jobmill/internal/core HistoryReaperRepository

// Generate mock for ConnectionRepository interface from internal/core package.
// This creates MockConnectionRepository with methods for all ConnectionRepository interface methods:
// Create, GetByID, GetByName, List, Update, Delete
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=connection_repository_mock.go github.com/jobmill/jobmill/internal/core ConnectionRepository

// Generate mock for AgentRepository interface from internal/core package.
// This creates MockAgentRepository with methods for all AgentRepository interface methods:
// Register, GetByID, FindByTokenHash, List, Heartbeat, MarkStaleOffline, DeleteOffline,
// ClaimCandidate, ReleaseSlot, CreateAssignment, GetAssignment, DeleteAssignment, FindOrphaned
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=agent_repository_mock.go github.com/jobmill/jobmill/internal/core AgentRepository

// Generate mock for AgentClient interface from internal/core package.
// This creates MockAgentClient with methods for all AgentClient interface methods:
// Assign, Revoke
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=agent_client_mock.go github.com/jobmill/jobmill/internal/core AgentClient

// Generate mock for DispatchPublisher interface from internal/core package.
// This creates MockDispatchPublisher with methods for all DispatchPublisher interface methods:
// Publish
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=dispatch_publisher_mock.go github.com/jobmill/jobmill/internal/core DispatchPublisher

// Generate mock for JobExecutor interface from internal/core package.
// This creates MockJobExecutor with methods for all JobExecutor interface methods:
// ExecuteJob
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=job_executor_mock.go github.com/jobmill/jobmill/internal/core JobExecutor

// Generate mock for Backend interface from internal/core package.
// This creates MockBackend with methods for all Backend interface methods:
// Type, Execute
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=backend_mock.go github.com/jobmill/jobmill/internal/core Backend
