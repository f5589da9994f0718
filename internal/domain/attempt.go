package domain

import "time"

// AttemptOutcome is the result of one driver invocation
type AttemptOutcome string

// Attempt outcome constants
const (
	OutcomeSucceeded AttemptOutcome = "succeeded"
	OutcomeFailed    AttemptOutcome = "failed"
	OutcomeTimedOut  AttemptOutcome = "timed_out"
)

// Attempt records one Protocol Driver invocation during an escalation run
type Attempt struct {
	Driver     string         `json:"driver"`
	StartedAt  time.Time      `json:"started_at"`
	DurationMS int64          `json:"duration_ms"`
	Outcome    AttemptOutcome `json:"outcome"`
	Error      string         `json:"error,omitempty"`
}
