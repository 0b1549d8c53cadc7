package anthropicoracle

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fairyhunter13/cogtriangulate/internal/adapter/observability"
)

// CircuitState is the state of a single model's circuit breaker.
type CircuitState int

const (
	// CircuitClosed allows requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen blocks requests after too many consecutive failures.
	CircuitOpen
	// CircuitHalfOpen probes recovery with a single trial request.
	CircuitHalfOpen
)

// CircuitBreaker is a per-model failure tripwire, independent of the
// transport-level gobreaker that guards the Redis connection in the queue
// broker — this one trips on the oracle model misbehaving (refusals,
// schema failures, 5xx floods), not on network reachability.
type CircuitBreaker struct {
	mu               sync.RWMutex
	modelID          string
	failureThreshold int
	recoveryTimeout  time.Duration
	state            CircuitState
	failureCount     int
	successCount     int
	lastFailureTime  time.Time
	lastSuccessTime  time.Time
	totalRequests    int
	totalFailures    int
}

// NewCircuitBreaker creates a circuit breaker scoped to one model ID.
func NewCircuitBreaker(modelID string) *CircuitBreaker {
	return &CircuitBreaker{
		modelID:          modelID,
		failureThreshold: 3,
		recoveryTimeout:  30 * time.Second,
		state:            CircuitClosed,
	}
}

// ShouldAttempt reports whether a call should be attempted given the
// current circuit state.
func (cb *CircuitBreaker) ShouldAttempt() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		return time.Since(cb.lastFailureTime) > cb.recoveryTimeout
	case CircuitHalfOpen:
		return true
	default:
		return false
	}
}

// RecordSuccess records a successful call and closes the circuit if it was
// probing recovery.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.successCount++
	cb.lastSuccessTime = time.Now()
	cb.totalRequests++
	cb.failureCount = 0

	switch cb.state {
	case CircuitHalfOpen:
		cb.state = CircuitClosed
		slog.Info("oracle circuit closed after recovery", slog.String("model", cb.modelID))
	case CircuitOpen:
		cb.state = CircuitClosed
	}
	observability.RecordCircuitBreakerStatus("oracle", cb.modelID, int(cb.state))
}

// RecordFailure records a failed call and opens the circuit once the
// failure threshold is reached.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.totalFailures++
	cb.totalRequests++
	cb.lastFailureTime = time.Now()

	if cb.failureCount >= cb.failureThreshold {
		cb.state = CircuitOpen
		slog.Warn("oracle circuit opened",
			slog.String("model", cb.modelID),
			slog.Int("failure_count", cb.failureCount))
	}
	observability.RecordCircuitBreakerStatus("oracle", cb.modelID, int(cb.state))
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// String renders the circuit state for logs.
func (cs CircuitState) String() string {
	switch cs {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerManager keeps one breaker per model ID, so a future
// multi-model fallback (e.g. a cheaper model for directory-scope calls)
// fails independently per model rather than sharing one trip state.
type CircuitBreakerManager struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewCircuitBreakerManager constructs an empty manager.
func NewCircuitBreakerManager() *CircuitBreakerManager {
	return &CircuitBreakerManager{breakers: make(map[string]*CircuitBreaker)}
}

// GetBreaker returns the breaker for modelID, creating it on first use.
func (cbm *CircuitBreakerManager) GetBreaker(modelID string) *CircuitBreaker {
	cbm.mu.Lock()
	defer cbm.mu.Unlock()

	if b, ok := cbm.breakers[modelID]; ok {
		return b
	}
	b := NewCircuitBreaker(modelID)
	cbm.breakers[modelID] = b
	return b
}
