// Package reboot implements the escalation engine: it tries each reboot
// mechanism against a machine in priority order, stops at the first one that
// brings the machine back, and files a bug when none does.
package reboot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/relops-hardware-controller/internal/config"
	"github.com/cuongbtq/relops-hardware-controller/internal/domain"
	"github.com/cuongbtq/relops-hardware-controller/internal/drivers"
	"github.com/cuongbtq/relops-hardware-controller/internal/metrics"
)

// Task names understood by the engine
const (
	TaskReboot = "reboot"
	TaskPing   = "ping"
)

// State is a step of one escalation run
type State string

// Engine states
const (
	StatePending         State = "pending"
	StateAttempting      State = "attempting"
	StateFileBugzillaBug State = "file_bugzilla_bug"
	StateSucceeded       State = "succeeded"
	StateFailed          State = "failed"
)

// BugFiler creates a tracking ticket for a machine nothing could recover
type BugFiler interface {
	File(ctx context.Context, m domain.Machine, summary string, attempts []domain.Attempt) (int, error)
}

// Config holds the escalation timing
type Config struct {
	DownTimeout   time.Duration
	UpTimeout     time.Duration
	ProbeInterval time.Duration
	SoftTimeLimit time.Duration
}

// ConfigFrom converts the loaded reboot section
func ConfigFrom(cfg config.RebootConfig) Config {
	return Config{
		DownTimeout:   cfg.DownTimeout,
		UpTimeout:     cfg.UpTimeout,
		ProbeInterval: cfg.ProbeInterval,
		SoftTimeLimit: cfg.SoftTimeLimit,
	}
}

// Outcome is the terminal result of a run
type Outcome struct {
	Status domain.JobStatus
	Detail domain.ResultDetail
}

// Engine runs escalations. It holds no per-run state and is safe for
// concurrent use.
type Engine struct {
	cfg     Config
	drivers []drivers.Driver
	filer   BugFiler
	prober  drivers.Prober
	logger  *slog.Logger
}

// NewEngine creates an Engine. filer may be nil, in which case exhausted runs
// are recorded without a bug.
func NewEngine(cfg Config, ds []drivers.Driver, filer BugFiler, prober drivers.Prober, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:     cfg,
		drivers: ds,
		filer:   filer,
		prober:  prober,
		logger:  logger,
	}
}

// Run executes the job's task against the machine. A non-nil error means ctx
// ended before a terminal outcome was reached; the returned Outcome then still
// carries the attempts made so far.
func (e *Engine) Run(ctx context.Context, job domain.Job, m domain.Machine) (Outcome, error) {
	logger := e.logger.With(
		slog.String("job_id", job.ID),
		slog.String("task_name", job.TaskName),
		slog.String("host", m.Host),
	)

	switch job.TaskName {
	case TaskReboot:
		return e.reboot(ctx, m, logger)
	case TaskPing:
		return e.ping(ctx, m, logger), nil
	default:
		return Outcome{
			Status: domain.JobStatusFailed,
			Detail: domain.ResultDetail{Summary: fmt.Sprintf("unsupported task %q", job.TaskName)},
		}, nil
	}
}

func (e *Engine) reboot(ctx context.Context, m domain.Machine, logger *slog.Logger) (Outcome, error) {
	state := StatePending
	logger.Info("Escalation started", slog.String("state", string(state)))

	runCtx := ctx
	if e.cfg.SoftTimeLimit > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.SoftTimeLimit)
		defer cancel()
	}

	detail := domain.ResultDetail{Attempts: []domain.Attempt{}}
	softLimitHit := false

	for _, d := range e.drivers {
		if !d.Applicable(m) {
			logger.Debug("Driver not applicable, skipping", slog.String("driver", d.Name()))
			continue
		}

		state = StateAttempting
		logger.Info("Attempting reboot",
			slog.String("state", string(state)),
			slog.String("driver", d.Name()),
		)

		attempt, skipped := e.attempt(runCtx, d, m)
		if skipped {
			continue
		}
		detail.Attempts = append(detail.Attempts, attempt)

		logger.Info("Reboot attempt finished",
			slog.String("driver", attempt.Driver),
			slog.String("outcome", string(attempt.Outcome)),
			slog.Int64("duration_ms", attempt.DurationMS),
			slog.String("error", attempt.Error),
		)

		if attempt.Outcome == domain.OutcomeSucceeded {
			state = StateSucceeded
			detail.Driver = attempt.Driver
			detail.Summary = fmt.Sprintf("rebooted %s using %s", m.Host, attempt.Driver)
			logger.Info("Escalation finished", slog.String("state", string(state)))
			return Outcome{Status: domain.JobStatusSucceeded, Detail: detail}, nil
		}

		if err := ctx.Err(); err != nil {
			return Outcome{Status: domain.JobStatusRunning, Detail: detail}, context.Cause(ctx)
		}
		if runCtx.Err() != nil {
			softLimitHit = true
			break
		}
	}

	switch {
	case softLimitHit:
		detail.Summary = fmt.Sprintf("soft time limit of %s reached rebooting %s", e.cfg.SoftTimeLimit, m.Host)
	case len(detail.Attempts) == 0:
		detail.Summary = fmt.Sprintf("no reboot method is configured for %s", m.Host)
	default:
		detail.Summary = fmt.Sprintf("%s: %s", domain.ErrAllDriversFailed, m.Host)
	}

	state = StateFileBugzillaBug
	logger.Warn("Escalation exhausted, filing bug",
		slog.String("state", string(state)),
		slog.String("summary", detail.Summary),
	)
	e.fileBug(ctx, m, &detail, logger)

	if err := ctx.Err(); err != nil {
		return Outcome{Status: domain.JobStatusRunning, Detail: detail}, context.Cause(ctx)
	}

	state = StateFailed
	logger.Info("Escalation finished", slog.String("state", string(state)))
	return Outcome{Status: domain.JobStatusFailed, Detail: detail}, nil
}

// attempt runs one driver: issue the reboot, wait for the machine to go
// down, then wait for it to come back. skipped is true when the driver
// turned out not to apply.
func (e *Engine) attempt(ctx context.Context, d drivers.Driver, m domain.Machine) (domain.Attempt, bool) {
	started := time.Now()
	a := domain.Attempt{Driver: d.Name(), StartedAt: started.UTC()}

	err := e.cycle(ctx, d, m)
	elapsed := time.Since(started)
	a.DurationMS = elapsed.Milliseconds()

	switch {
	case err == nil:
		a.Outcome = domain.OutcomeSucceeded
	case errors.Is(err, domain.ErrNotApplicable):
		return a, true
	case errors.Is(err, domain.ErrProbeTimeout), ctx.Err() != nil:
		a.Outcome = domain.OutcomeTimedOut
		a.Error = err.Error()
	default:
		a.Outcome = domain.OutcomeFailed
		a.Error = err.Error()
	}

	metrics.RecordAttempt(a.Driver, string(a.Outcome), elapsed)
	return a, false
}

func (e *Engine) cycle(ctx context.Context, d drivers.Driver, m domain.Machine) error {
	if err := d.Reboot(ctx, m); err != nil {
		return err
	}
	if err := e.waitFor(ctx, d, m, false, e.cfg.DownTimeout); err != nil {
		return fmt.Errorf("machine did not go down within %s: %w", e.cfg.DownTimeout, err)
	}
	if err := e.waitFor(ctx, d, m, true, e.cfg.UpTimeout); err != nil {
		return fmt.Errorf("machine did not come back up within %s: %w", e.cfg.UpTimeout, err)
	}
	return nil
}

// waitFor polls the driver's liveness check until it reports want or the
// window closes
func (e *Engine) waitFor(ctx context.Context, d drivers.Driver, m domain.Machine, want bool, window time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	ticker := time.NewTicker(e.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		up, err := d.IsUp(waitCtx, m)
		if err == nil && up == want {
			return nil
		}
		if err != nil && waitCtx.Err() == nil {
			e.logger.Debug("Liveness check failed",
				slog.String("driver", d.Name()),
				slog.String("host", m.Host),
				slog.String("error", err.Error()),
			)
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return domain.ErrProbeTimeout
		case <-ticker.C:
		}
	}
}

func (e *Engine) fileBug(ctx context.Context, m domain.Machine, detail *domain.ResultDetail, logger *slog.Logger) {
	if e.filer == nil {
		detail.BugError = "bug filing is not configured"
		logger.Warn("No bug filer configured, skipping bug")
		return
	}

	id, err := e.filer.File(ctx, m, detail.Summary, detail.Attempts)
	metrics.RecordBug(err)
	if err != nil {
		err = fmt.Errorf("%w: %v", domain.ErrBugFilingFailed, err)
		detail.BugError = err.Error()
		logger.Error("Failed to file bug", slog.String("error", err.Error()))
		return
	}

	detail.BugID = id
	logger.Info("Bug filed", slog.Int("bug_id", id))
}

func (e *Engine) ping(ctx context.Context, m domain.Machine, logger *slog.Logger) Outcome {
	if e.prober != nil && e.prober.Reachable(ctx, m) {
		logger.Info("Host is reachable")
		return Outcome{
			Status: domain.JobStatusSucceeded,
			Detail: domain.ResultDetail{Summary: fmt.Sprintf("%s is reachable", m.Host), Attempts: []domain.Attempt{}},
		}
	}

	logger.Warn("Host is unreachable")
	return Outcome{
		Status: domain.JobStatusFailed,
		Detail: domain.ResultDetail{Summary: fmt.Sprintf("%s is unreachable", m.Host), Attempts: []domain.Attempt{}},
	}
}
