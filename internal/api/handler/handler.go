package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/relops-hardware-controller/internal/api/auth"
	"github.com/cuongbtq/relops-hardware-controller/internal/api/dispatcher"
	"github.com/cuongbtq/relops-hardware-controller/internal/api/storage"
	"github.com/cuongbtq/relops-hardware-controller/internal/domain"
)

// JobService is the job API the handlers drive
type JobService interface {
	Submit(ctx context.Context, req dispatcher.SubmitRequest) (*domain.Job, error)
	Status(ctx context.Context, jobID string) (*domain.Job, error)
	List(ctx context.Context, filter storage.JobFilter) ([]domain.Job, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	Jobs        JobService
	Authorizer  *auth.Authorizer
	ServiceName string
	CORSOrigin  string

	// HealthChecks are run by GET /health, keyed by dependency name
	HealthChecks map[string]HealthCheck
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger *slog.Logger
	jobs   JobService
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger: deps.Logger,
		jobs:   deps.Jobs,
	}
}
