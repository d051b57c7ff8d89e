// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Operational counters exposed on /metrics. Labels stay low-cardinality:
// verb is from the fixed command vocabulary, phase from the status schema.
var (
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rabbitize",
		Name:      "commands_total",
		Help:      "Commands executed, by verb and outcome.",
	}, []string{"verb", "outcome"})

	CommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rabbitize",
		Name:      "command_duration_seconds",
		Help:      "End-to-end command execution time including stability wait.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"verb"})

	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rabbitize",
		Name:      "sessions_active",
		Help:      "Sessions currently holding a browser.",
	})

	StabilityTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rabbitize",
		Name:      "stability_timeouts_total",
		Help:      "Stability waits that hit the timeout ceiling.",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rabbitize",
		Name:      "queue_depth",
		Help:      "Commands waiting in the session queue.",
	})

	ArtifactWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rabbitize",
		Name:      "artifact_write_failures_total",
		Help:      "Artifact writes that failed after retries.",
	})

	VideoJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rabbitize",
		Name:      "video_jobs_total",
		Help:      "Post-session video pipeline jobs, by stage and outcome.",
	}, []string{"stage", "outcome"})
)
