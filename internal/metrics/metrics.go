// Package metrics exposes Prometheus collectors for runs and cache lookups.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "narci_runs_total",
		Help: "Workflow runs by final status",
	}, []string{"status"}) // status=success|failure|cancelled

	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "narci_jobs_total",
		Help: "Finished jobs by job id and status",
	}, []string{"job", "status"})

	stepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "narci_step_duration_seconds",
		Help:    "Wall time of executed steps",
		Buckets: prometheus.ExponentialBuckets(0.05, 4, 9), // 50ms .. ~55min
	}, []string{"job", "status"})

	runsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "narci_runs_in_flight",
		Help: "Workflow runs currently executing",
	})

	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "narci_events_total",
		Help: "Received trigger events by name and whether they matched",
	}, []string{"event", "matched"})

	narinfoFetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "narci_narinfo_fetch_total",
		Help: "Narinfo lookups by outcome",
	}, []string{"outcome"}) // outcome=hit|miss|not_found|error|untrusted

	workflowReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "narci_workflow_reloads_total",
		Help: "Workflow file reloads by result",
	}, []string{"result"})
)

// RunStarted increments the in-flight gauge.
func RunStarted() { runsInFlight.Inc() }

// RunFinished records a completed run.
func RunFinished(status string) {
	runsInFlight.Dec()
	runsTotal.WithLabelValues(status).Inc()
}

// JobFinished records a completed job.
func JobFinished(job, status string) {
	jobsTotal.WithLabelValues(job, status).Inc()
}

// ObserveStep records step duration.
func ObserveStep(job, status string, d time.Duration) {
	stepDuration.WithLabelValues(job, status).Observe(d.Seconds())
}

// EventReceived counts trigger events. Names other than push and
// pull_request share the "other" label so callers cannot grow the series set.
func EventReceived(event string, matched bool) {
	switch event {
	case "push", "pull_request":
	default:
		event = "other"
	}
	m := "false"
	if matched {
		m = "true"
	}
	eventsTotal.WithLabelValues(event, m).Inc()
}

// NarInfoFetch counts narinfo lookups.
func NarInfoFetch(outcome string) {
	narinfoFetchTotal.WithLabelValues(outcome).Inc()
}

// WorkflowReload counts hot reloads.
func WorkflowReload(ok bool) {
	if ok {
		workflowReloads.WithLabelValues("ok").Inc()
		return
	}
	workflowReloads.WithLabelValues("error").Inc()
}
