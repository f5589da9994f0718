package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/relops-hardware-controller/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// pq error code for unique_violation
const uniqueViolation = "23505"

const jobColumns = `
	id, worker_id, worker_group, task_name, tc_worker_id,
	machine_id, task_id, status, result_detail, created_at, updated_at`

type Storage struct {
	db *sqlx.DB
}

func NewStorage(db *sqlx.DB) *Storage {
	return &Storage{
		db: db,
	}
}

// FindWorker resolves an external worker id
func (s *Storage) FindWorker(ctx context.Context, tcWorkerID string) (*domain.Worker, error) {
	var worker domain.Worker
	query := `
		SELECT id, tc_worker_id
		FROM tc_workers
		WHERE tc_worker_id = $1
	`

	err := s.db.GetContext(ctx, &worker, query, tcWorkerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrWorkerNotFound
		}
		return nil, fmt.Errorf("failed to get worker: %w", err)
	}

	return &worker, nil
}

// FindBoundMachine returns the machine the worker runs on
func (s *Storage) FindBoundMachine(ctx context.Context, workerID int64) (*domain.Machine, error) {
	var machine domain.Machine
	query := `
		SELECT m.id, m.host, m.ip
		FROM machines m
		JOIN tc_worker_machines b ON b.machine_id = m.id
		WHERE b.tc_worker_id = $1
	`

	err := s.db.GetContext(ctx, &machine, query, workerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMachineNotManaged
		}
		return nil, fmt.Errorf("failed to get machine: %w", err)
	}

	return &machine, nil
}

// CreateQueued inserts a queued job. The insert commits on its own so the
// row is visible before any worker can receive its task message.
func (s *Storage) CreateQueued(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO jobs (
			id, worker_id, worker_group, task_name, tc_worker_id,
			machine_id, task_id, status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		job.ID,
		job.WorkerID,
		job.WorkerGroup,
		job.TaskName,
		job.TCWorkerID,
		job.MachineID,
		job.TaskID,
		job.Status,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return domain.ErrMachineBusy
		}
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// DeleteQueued removes a job whose task message never reached the queue.
// Jobs a worker has already claimed are left alone.
func (s *Storage) DeleteQueued(ctx context.Context, jobID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1 AND status = $2`, jobID, domain.JobStatusQueued)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrJobNotFound
	}

	return nil
}

func (s *Storage) GetJobByID(ctx context.Context, jobID string) (*domain.Job, error) {
	var job domain.Job
	query := `SELECT ` + jobColumns + `
		FROM jobs
		WHERE id = $1
	`

	err := s.db.GetContext(ctx, &job, query, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

type JobFilter struct {
	WorkerID string
	TaskName string
	Status   string
	PageSize int
	Cursor   *JobCursor
}

type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + `
		FROM jobs
		WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	// Filters
	if filter.WorkerID != "" {
		query += fmt.Sprintf(" AND worker_id = $%d", argIdx)
		args = append(args, filter.WorkerID)
		argIdx++
	}

	if filter.TaskName != "" {
		query += fmt.Sprintf(" AND task_name = $%d", argIdx)
		args = append(args, filter.TaskName)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	// Order by created_at DESC, id DESC for consistent pagination
	query += " ORDER BY created_at DESC, id DESC"

	// Fetch one extra to determine if there are more results
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []domain.Job
	err := s.db.SelectContext(ctx, &jobs, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}
