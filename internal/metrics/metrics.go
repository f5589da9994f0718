// Package metrics holds the Prometheus collectors shared by both services.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "hardware_controller"

var (
	// jobsSubmitted counts jobs accepted by the dispatcher.
	// Labels: task_name
	jobsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "submitted_total",
		Help:      "Jobs accepted and queued",
	}, []string{"task_name"})

	// jobsRejected counts submissions refused before a job was created.
	// Labels: reason (invalid_task, worker_not_found, machine_not_managed, machine_busy, internal)
	jobsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "rejected_total",
		Help:      "Job submissions rejected",
	}, []string{"reason"})

	// jobsFinished counts terminal transitions.
	// Labels: task_name, status (succeeded, failed)
	jobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "finished_total",
		Help:      "Jobs reaching a terminal status",
	}, []string{"task_name", "status"})

	// attempts counts driver attempts.
	// Labels: driver, outcome (succeeded, failed, timed_out)
	attempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "escalation",
		Name:      "attempts_total",
		Help:      "Reboot driver attempts by outcome",
	}, []string{"driver", "outcome"})

	// attemptDuration measures one driver attempt including the down/up waits.
	// Labels: driver
	attemptDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "escalation",
		Name:      "attempt_duration_seconds",
		Help:      "Duration of a reboot driver attempt",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 240, 360, 600},
	}, []string{"driver"})

	// bugsFiled counts bug filer invocations.
	// Labels: result (filed, error)
	bugsFiled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "escalation",
		Name:      "bugs_total",
		Help:      "Bug filer invocations by result",
	}, []string{"result"})
)

// RecordSubmitted records an accepted job
func RecordSubmitted(taskName string) {
	jobsSubmitted.WithLabelValues(taskName).Inc()
}

// RecordRejected records a refused submission
func RecordRejected(reason string) {
	jobsRejected.WithLabelValues(reason).Inc()
}

// RecordFinished records a terminal job status
func RecordFinished(taskName, status string) {
	jobsFinished.WithLabelValues(taskName, status).Inc()
}

// RecordAttempt records one driver attempt
func RecordAttempt(driver, outcome string, elapsed time.Duration) {
	attempts.WithLabelValues(driver, outcome).Inc()
	attemptDuration.WithLabelValues(driver).Observe(elapsed.Seconds())
}

// RecordBug records a bug filer invocation
func RecordBug(err error) {
	if err != nil {
		bugsFiled.WithLabelValues("error").Inc()
		return
	}
	bugsFiled.WithLabelValues("filed").Inc()
}
