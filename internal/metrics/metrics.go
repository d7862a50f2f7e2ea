package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookEventsTotal counts payment provider webhook events by type and outcome.
	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketplace",
		Subsystem: "webhook",
		Name:      "events_total",
		Help:      "Total payment provider webhook events by event type and outcome.",
	}, []string{"event_type", "outcome"})

	// SweepRunsTotal counts scheduled job runs by job and outcome.
	SweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketplace",
		Subsystem: "sweep",
		Name:      "runs_total",
		Help:      "Total sweep runs by job and outcome.",
	}, []string{"job", "outcome"})

	// SweepItemsTotal counts items handled by sweeps, split into processed and errors.
	SweepItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketplace",
		Subsystem: "sweep",
		Name:      "items_total",
		Help:      "Items handled by sweeps by job and result.",
	}, []string{"job", "result"})

	SweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "marketplace",
		Subsystem: "sweep",
		Name:      "duration_seconds",
		Help:      "Sweep run duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"job"})

	// PayoutsTotal counts payout attempts by method and final status.
	PayoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketplace",
		Subsystem: "payout",
		Name:      "attempts_total",
		Help:      "Total payout attempts by payout method and status.",
	}, []string{"method", "status"})

	// AssignmentDispatchTotal counts grant-access calls by access type and outcome.
	AssignmentDispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketplace",
		Subsystem: "assignment",
		Name:      "dispatch_total",
		Help:      "Script access grant attempts by access type and outcome.",
	}, []string{"access_type", "outcome"})
)
