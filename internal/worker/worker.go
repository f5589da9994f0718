package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/relops-hardware-controller/internal/domain"
	"github.com/cuongbtq/relops-hardware-controller/internal/reboot"
	amqp "github.com/rabbitmq/amqp091-go"
)

// JobStore is the subset of worker storage used while processing a job
type JobStore interface {
	Claim(ctx context.Context, jobID string) (*domain.Job, error)
	Complete(ctx context.Context, jobID string, status domain.JobStatus, detail domain.ResultDetail) error
	Touch(ctx context.Context, jobID string) error
}

// Runner executes a task against a machine
type Runner interface {
	Run(ctx context.Context, job domain.Job, m domain.Machine) (reboot.Outcome, error)
}

// AddressBook resolves the protocol records of a host
type AddressBook interface {
	Lookup(host string) domain.Addressing
}

// Consumer opens the delivery stream of the task queue
type Consumer interface {
	Consume(consumerTag string, prefetchCount int) (<-chan amqp.Delivery, error)
}

// Config holds worker configuration
type Config struct {
	Logger            *slog.Logger
	Store             JobStore
	Consumer          Consumer
	Engine            Runner
	Inventory         AddressBook
	WorkerID          string
	Concurrency       int
	PrefetchCount     int
	HardTimeLimit     time.Duration
	HeartbeatInterval time.Duration
}

// Worker consumes task messages and runs them on a bounded pool
type Worker struct {
	logger            *slog.Logger
	storage           JobStore
	consumer          Consumer
	engine            Runner
	inventory         AddressBook
	workerID          string
	concurrency       int
	prefetchCount     int
	hardTimeLimit     time.Duration
	heartbeatInterval time.Duration
	jobsChan          chan *task
	wg                sync.WaitGroup
}

// task pairs a decoded message with the delivery it must settle
type task struct {
	msg      domain.TaskMessage
	delivery amqp.Delivery
}

// ErrDeliveriesClosed is returned by Start when the broker stops delivering
var ErrDeliveriesClosed = errors.New("rabbitmq delivery channel closed")

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = concurrency
	}

	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}

	return &Worker{
		logger:            cfg.Logger,
		storage:           cfg.Store,
		consumer:          cfg.Consumer,
		engine:            cfg.Engine,
		inventory:         cfg.Inventory,
		workerID:          cfg.WorkerID,
		concurrency:       concurrency,
		prefetchCount:     prefetch,
		hardTimeLimit:     cfg.HardTimeLimit,
		heartbeatInterval: heartbeat,
		jobsChan:          make(chan *task),
	}
}

// Start consumes until ctx is canceled or the delivery channel closes, then
// waits for the pool to drain. Jobs interrupted by cancellation stay running.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("hard_time_limit", w.hardTimeLimit),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	w.spawnWorkerPool(ctx)

	err = w.startMessageDispatcher(ctx, deliveries)

	close(w.jobsChan)
	w.wg.Wait()
	w.logger.Info("Worker stopped", slog.String("worker_id", w.workerID))

	return err
}
