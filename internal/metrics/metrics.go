package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gif"

// Engine metrics
var (
	// Conversions counts conversions by outcome (satisfied, best_effort, unconstrained, failed).
	Conversions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversions_total",
			Help:      "Total number of video to GIF conversions",
		},
		[]string{"outcome"},
	)

	// ConversionDuration tracks end-to-end conversion time.
	ConversionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "conversion_duration_seconds",
			Help:      "Time taken to convert a video to GIF",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	// OutputBytes tracks produced GIF sizes.
	OutputBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "output_size_bytes",
			Help:      "Size of produced GIF artifacts",
			Buckets:   prometheus.ExponentialBuckets(64*1024, 2, 10),
		},
	)

	// FramesSkipped counts source frames dropped because they failed resize or conversion.
	FramesSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_skipped_total",
			Help:      "Total number of unusable frames skipped during sampling",
		},
	)

	// EncodeDuration tracks GIF encoding time.
	EncodeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "encode_duration_seconds",
			Help:      "Time taken to encode GIF frames",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	// Estimates counts size estimates by method (cache, measured, simplified, analytic, fallback).
	Estimates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "estimates_total",
			Help:      "Total number of size estimates by method",
		},
		[]string{"method"},
	)

	// SolverIterations tracks degrade iterations per solve.
	SolverIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "solver_iterations",
			Help:      "Degrade iterations per constraint solve",
			Buckets:   []float64{0, 1, 2, 3, 4, 5, 6},
		},
	)

	// SolverOutcomes counts solver end states.
	SolverOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "solver_outcomes_total",
			Help:      "Constraint solver end states",
		},
		[]string{"state"},
	)

	// OptimizerPasses counts encode-level optimisation passes.
	OptimizerPasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "optimizer_passes_total",
			Help:      "Encode-level optimisation passes by result",
		},
		[]string{"result"},
	)

	// Suggestions counts suggestion batches by source (llm, fallback, cache).
	Suggestions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suggestions_total",
			Help:      "Suggestion batches served by source",
		},
		[]string{"source"},
	)
)

// Worker metrics
var (
	// JobsProcessed counts asynchronous jobs by status.
	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_processed_total",
			Help:      "Total number of conversion jobs processed",
		},
		[]string{"status"},
	)

	// ActiveJobs tracks the number of currently processing jobs.
	ActiveJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_jobs",
			Help:      "Number of currently processing jobs",
		},
	)

	// DownloadDuration tracks the time taken to download videos from S3.
	DownloadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "video_download_duration_seconds",
			Help:      "Time taken to download videos from S3",
			Buckets:   []float64{1, 5, 10, 30, 60, 120},
		},
	)

	// UploadDuration tracks the time taken to upload GIFs to S3.
	UploadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gif_upload_duration_seconds",
			Help:      "Time taken to upload GIF artifacts to S3",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30},
		},
	)
)

// API metrics
var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP request duration.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// AuthFailures counts authentication failures by type.
	AuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "auth_failures_total",
			Help:      "Total number of authentication failures",
		},
		[]string{"reason"},
	)

	// ActiveSessions tracks live conversion sessions.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "active_sessions",
			Help:      "Number of live conversion sessions",
		},
	)

	// JobsQueued counts asynchronous jobs queued by the API.
	JobsQueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "jobs_queued_total",
			Help:      "Total number of conversion jobs queued",
		},
	)
)

// RecordConversion records a finished conversion.
func RecordConversion(outcome string, seconds float64, sizeBytes int64) {
	Conversions.WithLabelValues(outcome).Inc()
	ConversionDuration.Observe(seconds)
	OutputBytes.Observe(float64(sizeBytes))
}

// RecordConversionFailure records a conversion that produced no artifact.
func RecordConversionFailure() {
	Conversions.WithLabelValues("failed").Inc()
}

// RecordEstimate records how an estimate was obtained.
func RecordEstimate(method string) {
	Estimates.WithLabelValues(method).Inc()
}

// RecordSolve records a solver run.
func RecordSolve(state string, iterations int) {
	SolverOutcomes.WithLabelValues(state).Inc()
	SolverIterations.Observe(float64(iterations))
}

// RecordJobSuccess records a successful asynchronous job.
func RecordJobSuccess() {
	JobsProcessed.WithLabelValues("success").Inc()
}

// RecordJobFailure records a failed asynchronous job.
func RecordJobFailure() {
	JobsProcessed.WithLabelValues("failed").Inc()
}
