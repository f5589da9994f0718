package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/relops-hardware-controller/internal/domain"
	"github.com/cuongbtq/relops-hardware-controller/internal/metrics"
)

// processJob claims the job, runs it under the hard time limit with a
// heartbeat, and writes the terminal status back. A nil return means the
// delivery is done with.
func (w *Worker) processJob(ctx context.Context, t *task) error {
	msg := t.msg

	// Step 1: claim (queued -> running)
	job, err := w.storage.Claim(ctx, msg.JobID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrJobNotFound):
			// rows are committed before publish, so the job was removed
			return fmt.Errorf("job does not exist: %w", err)
		case errors.Is(err, domain.ErrJobAlreadyClaimed):
			return fmt.Errorf("job already claimed: %w", err)
		default:
			return domain.NewRetryableError(fmt.Errorf("failed to claim job: %w", err))
		}
	}

	// Step 2: resolve addressing against the snapshot taken at submit time
	machine := msg.Machine
	machine.Addressing = w.inventory.Lookup(machine.Host)

	// Step 3: hard ceiling
	runCtx := ctx
	if w.hardTimeLimit > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeoutCause(ctx, w.hardTimeLimit, domain.ErrRunTimeout)
		defer cancel()
	}

	// Step 4: heartbeat
	heartbeatDone := make(chan struct{})
	go w.sendJobHeartbeat(runCtx, job.ID, heartbeatDone)
	defer close(heartbeatDone)

	// Step 5: run
	started := time.Now()
	outcome, runErr := w.engine.Run(runCtx, *job, machine)

	if runErr != nil {
		if !errors.Is(context.Cause(runCtx), domain.ErrRunTimeout) {
			// shutdown: the job stays running for the recovery pass
			w.logger.Warn("Job run interrupted, leaving it running",
				slog.String("job_id", job.ID),
				slog.Int("attempts", len(outcome.Detail.Attempts)),
				slog.String("error", runErr.Error()),
			)
			return fmt.Errorf("job run interrupted: %w", runErr)
		}

		outcome.Status = domain.JobStatusFailed
		outcome.Detail.Driver = ""
		outcome.Detail.Summary = fmt.Sprintf("%s: hard time limit of %s reached rebooting %s",
			domain.ErrRunTimeout, w.hardTimeLimit, machine.Host)
	}

	// Step 6: terminal write-back
	if err := w.storage.Complete(ctx, job.ID, outcome.Status, outcome.Detail); err != nil {
		w.logger.Error("Failed to complete job",
			slog.String("job_id", job.ID),
			slog.String("status", string(outcome.Status)),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to complete job: %w", err)
	}

	metrics.RecordFinished(job.TaskName, string(outcome.Status))

	w.logger.Info("Job finished",
		slog.String("job_id", job.ID),
		slog.String("task_name", job.TaskName),
		slog.String("status", string(outcome.Status)),
		slog.String("summary", outcome.Detail.Summary),
		slog.Duration("elapsed", time.Since(started)),
	)

	return nil
}

// sendJobHeartbeat periodically refreshes the job row while it runs
func (w *Worker) sendJobHeartbeat(ctx context.Context, jobID string, done <-chan struct{}) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return

		case <-ctx.Done():
			return

		case <-ticker.C:
			if err := w.storage.Touch(ctx, jobID); err != nil {
				w.logger.Warn("Failed to update job heartbeat",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
