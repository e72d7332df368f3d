// Package metrics provides Prometheus metrics for monitoring pipeline components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChunksTotal records the total number of chunks processed by component.
	// Labels: component (transcribe/diarize/embeddings/stitch), status (success/error)
	ChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echoscribe_chunks_total",
			Help: "Total number of audio chunks processed by component",
		},
		[]string{"component", "status"},
	)

	// ErrorsTotal records processing errors by component and error code.
	// Labels: component, error_code (WORKER_TRANSIENT/WORKER_PERMANENT/...)
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echoscribe_errors_total",
			Help: "Total number of processing errors by component and error code",
		},
		[]string{"component", "error_code"},
	)

	// ProcessingDuration records per-call processing time in seconds.
	// Labels: component
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s, 120s, 300s
	ProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "echoscribe_processing_duration_seconds",
			Help:    "Processing duration in seconds by component",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"component"},
	)

	// JobsActive tracks jobs currently in the processing state.
	JobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "echoscribe_jobs_active",
			Help: "Number of jobs currently being processed",
		},
	)

	// JobsTotal records terminal job outcomes.
	// Labels: status (completed/failed)
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echoscribe_jobs_total",
			Help: "Total number of finished jobs by terminal status",
		},
		[]string{"status"},
	)

	// EngineReady reports inference engine reachability (0=down, 1=up).
	EngineReady = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "echoscribe_engine_ready",
			Help: "Inference engine readiness status (0=not ready, 1=ready)",
		},
	)
)

// RecordChunkProcessed records a finished chunk call.
func RecordChunkProcessed(component string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	ChunksTotal.WithLabelValues(component, status).Inc()
}

// RecordError records a processing error.
func RecordError(component, errorCode string) {
	ErrorsTotal.WithLabelValues(component, errorCode).Inc()
}

// RecordDuration records processing time in seconds.
func RecordDuration(component string, durationSeconds float64) {
	ProcessingDuration.WithLabelValues(component).Observe(durationSeconds)
}

// RecordJobFinished records a terminal job transition.
func RecordJobFinished(status string) {
	JobsTotal.WithLabelValues(status).Inc()
}

// SetEngineReady sets engine reachability.
func SetEngineReady(ready bool) {
	if ready {
		EngineReady.Set(1)
	} else {
		EngineReady.Set(0)
	}
}
