// Package observability provides logging, metrics, and tracing.
//
// It integrates with OpenTelemetry for system monitoring.
// The package provides comprehensive observability features
// including metrics collection, distributed tracing, and logging.
package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	// PipelineJobsEnqueuedTotal counts jobs enqueued by pipeline stage
	// (the queue name a C3-C9 component writes its outbox event to).
	PipelineJobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_jobs_enqueued_total",
			Help: "Total number of jobs enqueued per pipeline stage",
		},
		[]string{"stage"},
	)
	// PipelineJobsProcessing is a gauge of jobs currently being handled by stage.
	PipelineJobsProcessing = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pipeline_jobs_processing",
			Help: "Number of jobs currently processing per pipeline stage",
		},
		[]string{"stage"},
	)
	// PipelineJobsCompletedTotal counts jobs completed by stage.
	PipelineJobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_jobs_completed_total",
			Help: "Total number of jobs completed per pipeline stage",
		},
		[]string{"stage"},
	)
	// PipelineJobsFailedTotal counts jobs that were dead-lettered by stage.
	PipelineJobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_jobs_failed_total",
			Help: "Total number of jobs dead-lettered per pipeline stage",
		},
		[]string{"stage"},
	)

	// OracleRequestsTotal counts oracle (Anthropic) calls by operation
	// (analysis, directory_resolution, global_resolution).
	OracleRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_requests_total",
			Help: "Total number of oracle requests by operation",
		},
		[]string{"operation"},
	)
	// OracleRequestDuration records oracle call durations by operation.
	OracleRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "oracle_request_duration_seconds",
			Help:    "Oracle request duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"operation"},
	)
	// OracleTokenUsage tracks oracle token consumption by direction and model.
	OracleTokenUsage = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_tokens_total",
			Help: "Total oracle tokens used",
		},
		[]string{"type", "model"},
	)

	// TriangulationConfidence is the distribution of combined noisy-OR
	// confidence scores C8 computes for every relationship key it reconciles,
	// whether or not the key clears the acceptance threshold.
	TriangulationConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "triangulation_confidence",
			Help:    "Distribution of combined relationship confidence scores",
			Buckets: []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.85, 0.9, 1.0},
		},
	)
	// TriangulationAcceptedTotal counts relationships accepted into the graph
	// by the reason they cleared the acceptance rule.
	TriangulationAcceptedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triangulation_accepted_total",
			Help: "Total relationships accepted by reconciliation, labeled by acceptance reason",
		},
		[]string{"reason"},
	)

	// CircuitBreakerStatus tracks circuit breaker state (0=closed, 1=open,
	// 2=half-open) by service and operation.
	CircuitBreakerStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_status",
			Help: "Circuit breaker status (0=closed, 1=open, 2=half-open)",
		},
		[]string{"service", "operation"},
	)
)

// InitMetrics registers all Prometheus metrics with the default registry.
func InitMetrics() {
	prometheus.MustRegister(PipelineJobsEnqueuedTotal)
	prometheus.MustRegister(PipelineJobsProcessing)
	prometheus.MustRegister(PipelineJobsCompletedTotal)
	prometheus.MustRegister(PipelineJobsFailedTotal)
	prometheus.MustRegister(OracleRequestsTotal)
	prometheus.MustRegister(OracleRequestDuration)
	prometheus.MustRegister(OracleTokenUsage)
	prometheus.MustRegister(TriangulationConfidence)
	prometheus.MustRegister(TriangulationAcceptedTotal)
	prometheus.MustRegister(CircuitBreakerStatus)
}

// EnqueueJob increments the enqueued jobs counter for the given stage.
func EnqueueJob(stage string) {
	PipelineJobsEnqueuedTotal.WithLabelValues(stage).Inc()
}

// StartProcessingJob increments the processing gauge for the given stage.
func StartProcessingJob(stage string) {
	PipelineJobsProcessing.WithLabelValues(stage).Inc()
}

// CompleteJob marks a job complete: decrements the processing gauge and
// increments the completed counter for the given stage.
func CompleteJob(stage string) {
	PipelineJobsProcessing.WithLabelValues(stage).Dec()
	PipelineJobsCompletedTotal.WithLabelValues(stage).Inc()
}

// FailJob marks a job dead-lettered: decrements the processing gauge and
// increments the failed counter for the given stage.
func FailJob(stage string) {
	PipelineJobsProcessing.WithLabelValues(stage).Dec()
	PipelineJobsFailedTotal.WithLabelValues(stage).Inc()
}

// RecordOracleTokenUsage records oracle token consumption.
func RecordOracleTokenUsage(tokenType, model string, tokens int) {
	OracleTokenUsage.WithLabelValues(tokenType, model).Add(float64(tokens))
}

// RecordTriangulationConfidence records one combined confidence observation
// from the C8 reconciliation worker.
func RecordTriangulationConfidence(confidence float64) {
	if confidence >= 0 && confidence <= 1 {
		TriangulationConfidence.Observe(confidence)
	}
}

// RecordTriangulationAccepted records an accepted relationship by the reason
// it cleared the acceptance rule: "multi_source", "deterministic", or
// "high_confidence".
func RecordTriangulationAccepted(reason string) {
	TriangulationAcceptedTotal.WithLabelValues(reason).Inc()
}

// RecordCircuitBreakerStatus records circuit breaker state.
func RecordCircuitBreakerStatus(service, operation string, status int) {
	CircuitBreakerStatus.WithLabelValues(service, operation).Set(float64(status))
}
