package stages

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CollaboratorDuration tracks collaborator call latency, retries included.
	// Labels: service, outcome (success, error)
	CollaboratorDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "askd",
			Subsystem: "stages",
			Name:      "collaborator_call_duration_seconds",
			Help:      "Duration of collaborator calls made by pipeline stages",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "outcome"},
	)

	// SynthesisFallbacks counts answers produced by the extractive template.
	SynthesisFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "askd",
			Subsystem: "stages",
			Name:      "synthesis_fallbacks_total",
			Help:      "Total number of answers produced by the extractive fallback",
		},
	)

	// StageErrors counts errors recorded on conversations.
	// Labels: stage, kind
	StageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "askd",
			Subsystem: "stages",
			Name:      "errors_total",
			Help:      "Total number of errors recorded by pipeline stages",
		},
		[]string{"stage", "kind"},
	)
)

func observeCall(service string, err error, d time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	CollaboratorDuration.WithLabelValues(service, outcome).Observe(d.Seconds())
}
