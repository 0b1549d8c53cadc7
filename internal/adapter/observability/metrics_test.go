package observability

import "testing"

func TestJobMetricsHelpers(t *testing.T) {
	InitMetrics()
	EnqueueJob("file_analysis")
	StartProcessingJob("file_analysis")
	CompleteJob("file_analysis")
	FailJob("file_analysis")
}

func TestRecordOracleTokenUsage(t *testing.T) {
	RecordOracleTokenUsage("prompt", "claude-3-5-sonnet", 100)
	RecordOracleTokenUsage("completion", "claude-3-5-sonnet", 50)
}

func TestRecordTriangulationConfidence(t *testing.T) {
	RecordTriangulationConfidence(0.92)
	RecordTriangulationConfidence(-1) // out of range, ignored
	RecordTriangulationConfidence(1.5) // out of range, ignored
}

func TestRecordTriangulationAccepted(t *testing.T) {
	RecordTriangulationAccepted("multi_source")
	RecordTriangulationAccepted("deterministic")
	RecordTriangulationAccepted("high_confidence")
}

func TestRecordCircuitBreakerStatus(t *testing.T) {
	RecordCircuitBreakerStatus("oracle", "claude-3-5-sonnet", 0)
	RecordCircuitBreakerStatus("oracle", "claude-3-5-sonnet", 1)
	RecordCircuitBreakerStatus("oracle", "claude-3-5-sonnet", 2)
}
