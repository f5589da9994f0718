package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of a Job
type JobStatus string

// Job status constants
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// CanTransitionTo reports whether s -> next is a legal forward transition.
// The only legal sequence is queued -> running -> {succeeded|failed}.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusQueued:
		return next == JobStatusRunning
	case JobStatusRunning:
		return next.IsTerminal()
	default:
		return false
	}
}

// Job is one remediation request and its lifecycle record
type Job struct {
	ID           string        `db:"id"`
	WorkerID     string        `db:"worker_id"`
	WorkerGroup  string        `db:"worker_group"`
	TaskName     string        `db:"task_name"`
	TCWorkerID   int64         `db:"tc_worker_id"`
	MachineID    int64         `db:"machine_id"`
	TaskID       string        `db:"task_id"`
	Status       JobStatus     `db:"status"`
	ResultDetail *ResultDetail `db:"result_detail"`
	CreatedAt    time.Time     `db:"created_at"`
	UpdatedAt    time.Time     `db:"updated_at"`
}

// ResultDetail is the outcome information written on the terminal transition
type ResultDetail struct {
	Summary  string    `json:"summary"`
	Driver   string    `json:"driver,omitempty"`
	Attempts []Attempt `json:"attempts"`
	BugID    int       `json:"bug_id,omitempty"`
	BugError string    `json:"bug_error,omitempty"`
}

// Value implements driver.Valuer so ResultDetail can be stored as JSONB
func (r ResultDetail) Value() (driver.Value, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result detail: %w", err)
	}
	return b, nil
}

// Scan implements sql.Scanner
func (r *ResultDetail) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	case nil:
		*r = ResultDetail{}
		return nil
	default:
		return fmt.Errorf("unsupported result_detail type %T", src)
	}

	if err := json.Unmarshal(data, r); err != nil {
		return fmt.Errorf("failed to unmarshal result detail: %w", err)
	}
	return nil
}
