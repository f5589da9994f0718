// Package dispatcher validates remediation requests, resolves the target
// machine and schedules the job on the task queue.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/relops-hardware-controller/internal/api/storage"
	"github.com/cuongbtq/relops-hardware-controller/internal/domain"
	"github.com/cuongbtq/relops-hardware-controller/internal/metrics"
	"github.com/cuongbtq/relops-hardware-controller/shared/rabbitmq"
	"github.com/google/uuid"
)

// Store is the persistence the dispatcher needs
type Store interface {
	FindWorker(ctx context.Context, tcWorkerID string) (*domain.Worker, error)
	FindBoundMachine(ctx context.Context, workerID int64) (*domain.Machine, error)
	CreateQueued(ctx context.Context, job *domain.Job) error
	DeleteQueued(ctx context.Context, jobID string) error
	GetJobByID(ctx context.Context, jobID string) (*domain.Job, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]domain.Job, error)
}

// Publisher puts task messages on the queue
type Publisher interface {
	PublishWithRetry(ctx context.Context, msg rabbitmq.Message) error
}

// TaskAllowList reports whether a task name may be submitted
type TaskAllowList interface {
	HasTask(name string) bool
}

// SubmitRequest identifies the worker whose machine should be acted on
type SubmitRequest struct {
	WorkerID    string
	WorkerGroup string
	TaskName    string
}

// Dispatcher turns requests into queued jobs
type Dispatcher struct {
	store     Store
	publisher Publisher
	tasks     TaskAllowList
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Dispatcher
func New(store Store, publisher Publisher, tasks TaskAllowList, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:     store,
		publisher: publisher,
		tasks:     tasks,
		logger:    logger,
		now:       time.Now,
	}
}

// Submit validates the request, resolves the worker and its machine,
// persists a queued job and then puts its task message on the queue. When
// the message cannot be queued the job is removed again.
func (d *Dispatcher) Submit(ctx context.Context, req SubmitRequest) (*domain.Job, error) {
	if !d.tasks.HasTask(req.TaskName) {
		metrics.RecordRejected("invalid_task")
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidTask, req.TaskName)
	}

	worker, err := d.store.FindWorker(ctx, req.WorkerID)
	if err != nil {
		if errors.Is(err, domain.ErrWorkerNotFound) {
			metrics.RecordRejected("worker_not_found")
		}
		return nil, err
	}

	machine, err := d.store.FindBoundMachine(ctx, worker.ID)
	if err != nil {
		if errors.Is(err, domain.ErrMachineNotManaged) {
			metrics.RecordRejected("machine_not_managed")
		}
		return nil, err
	}

	now := d.now().UTC()
	job := &domain.Job{
		ID:          uuid.NewString(),
		WorkerID:    req.WorkerID,
		WorkerGroup: req.WorkerGroup,
		TaskName:    req.TaskName,
		TCWorkerID:  worker.ID,
		MachineID:   machine.ID,
		TaskID:      uuid.NewString(),
		Status:      domain.JobStatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	body, err := json.Marshal(domain.TaskMessage{
		JobID:    job.ID,
		TaskID:   job.TaskID,
		TaskName: job.TaskName,
		Worker:   *worker,
		Machine:  *machine,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task message: %w", err)
	}

	if err := d.store.CreateQueued(ctx, job); err != nil {
		if errors.Is(err, domain.ErrMachineBusy) {
			metrics.RecordRejected("machine_busy")
		}
		return nil, err
	}

	err = d.publisher.PublishWithRetry(ctx, rabbitmq.Message{
		ID:          job.TaskID,
		Type:        job.TaskName,
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		metrics.RecordRejected("schedule_failed")
		d.unschedule(ctx, job.ID)
		return nil, fmt.Errorf("%w: %v", domain.ErrScheduleFailed, err)
	}

	metrics.RecordSubmitted(job.TaskName)
	d.logger.Info("Job queued",
		slog.String("job_id", job.ID),
		slog.String("task_id", job.TaskID),
		slog.String("task_name", job.TaskName),
		slog.String("worker_id", job.WorkerID),
		slog.String("host", machine.Host),
	)

	return job, nil
}

// unschedule removes a job whose message was not queued, so the machine is
// free for the next request
func (d *Dispatcher) unschedule(ctx context.Context, jobID string) {
	// the request may already be cancelled, the cleanup must still run
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := d.store.DeleteQueued(ctx, jobID); err != nil {
		d.logger.Error("Failed to remove unscheduled job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

// Status returns the current state of a job. Ids that are not UUIDs cannot
// name a job and report ErrJobNotFound.
func (d *Dispatcher) Status(ctx context.Context, jobID string) (*domain.Job, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, domain.ErrJobNotFound
	}
	return d.store.GetJobByID(ctx, jobID)
}

// List returns one page of jobs, newest first
func (d *Dispatcher) List(ctx context.Context, filter storage.JobFilter) ([]domain.Job, error) {
	return d.store.ListJobs(ctx, filter)
}
