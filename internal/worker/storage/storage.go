package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/relops-hardware-controller/internal/domain"
	"github.com/jmoiron/sqlx"
)

const jobColumns = `
	id, worker_id, worker_group, task_name, tc_worker_id,
	machine_id, task_id, status, result_detail, created_at, updated_at`

// Storage handles the job transitions owned by the worker
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// Claim moves a queued job to running. It returns ErrJobNotFound when the row
// does not exist (a submit whose publish failed removed it) and
// ErrJobAlreadyClaimed when it is past queued.
func (s *Storage) Claim(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    updated_at = NOW()
		WHERE id = $2
		  AND status = $3
		RETURNING ` + jobColumns

	var job domain.Job
	err := s.db.GetContext(ctx, &job, query, domain.JobStatusRunning, jobID, domain.JobStatusQueued)
	if err == nil {
		s.logger.Info("Job claimed successfully",
			slog.String("job_id", jobID),
			slog.String("task_name", job.TaskName),
		)
		return &job, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	var status domain.JobStatus
	err = s.db.GetContext(ctx, &status, `SELECT status FROM jobs WHERE id = $1`, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job status: %w", err)
	}

	s.logger.Warn("Failed to claim job - not queued",
		slog.String("job_id", jobID),
		slog.String("status", string(status)),
	)
	return nil, fmt.Errorf("%w: status is %s", domain.ErrJobAlreadyClaimed, status)
}

// Complete writes the terminal status and result detail. Only a running job
// can be completed, so each job is written back at most once.
func (s *Storage) Complete(ctx context.Context, jobID string, status domain.JobStatus, detail domain.ResultDetail) error {
	if !domain.JobStatusRunning.CanTransitionTo(status) {
		return fmt.Errorf("%w: running -> %s", domain.ErrInvalidTransition, status)
	}

	query := `
		UPDATE jobs
		SET status = $1,
		    result_detail = $2,
		    updated_at = NOW()
		WHERE id = $3
		  AND status = $4
	`

	result, err := s.db.ExecContext(ctx, query, status, detail, jobID, domain.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%w: job %s is not running", domain.ErrInvalidTransition, jobID)
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", jobID),
		slog.String("status", string(status)),
	)

	return nil
}

// Touch refreshes updated_at of a running job so a recovery pass can tell live
// runs from stuck ones
func (s *Storage) Touch(ctx context.Context, jobID string) error {
	query := `
		UPDATE jobs
		SET updated_at = NOW()
		WHERE id = $1 AND status = $2
	`

	result, err := s.db.ExecContext(ctx, query, jobID, domain.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to update job heartbeat: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		s.logger.Warn("Job heartbeat update - no rows affected (job may not be running)",
			slog.String("job_id", jobID),
		)
	}

	return nil
}
