package anthropicoracle

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("claude-test")
	require.True(t, cb.ShouldAttempt())

	cb.RecordFailure()
	cb.RecordFailure()
	require.Equal(t, CircuitClosed, cb.State())

	cb.RecordFailure()
	require.Equal(t, CircuitOpen, cb.State())
	require.False(t, cb.ShouldAttempt())
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("claude-test")
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	require.Equal(t, 0, cb.failureCount)
	require.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreakerManager_PerModelIsolation(t *testing.T) {
	mgr := NewCircuitBreakerManager()
	a := mgr.GetBreaker("model-a")
	b := mgr.GetBreaker("model-b")

	a.RecordFailure()
	a.RecordFailure()
	a.RecordFailure()
	require.Equal(t, CircuitOpen, a.State())
	require.Equal(t, CircuitClosed, b.State())

	require.Same(t, a, mgr.GetBreaker("model-a"))
}
