package resilience

import (
	"sync"
	"time"
)

// CircuitBreaker short-circuits calls to a provider that keeps failing. While
// open, retry attempts fail fast with ErrCircuitOpen and are paced by the
// retry backoff instead of hitting the network.
type CircuitBreaker struct {
	mu               sync.Mutex
	name             string
	failureThreshold int
	resetTimeout     time.Duration
	now              func() time.Time

	consecutiveFailures int
	state               CircuitState
	reopenAt            time.Time
}

type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
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

func NewCircuitBreaker(name string, threshold int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:             name,
		failureThreshold: threshold,
		resetTimeout:     resetTimeout,
		now:              time.Now,
		state:            CircuitClosed,
	}
}

func (cb *CircuitBreaker) Name() string {
	return cb.name
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != CircuitOpen {
		return true
	}
	if cb.now().Before(cb.reopenAt) {
		return false
	}
	cb.state = CircuitHalfOpen
	return true
}

func (cb *CircuitBreaker) RecordResult(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.consecutiveFailures = 0
		cb.state = CircuitClosed
		return
	}

	cb.consecutiveFailures++
	if cb.state == CircuitHalfOpen || cb.consecutiveFailures >= cb.failureThreshold {
		cb.state = CircuitOpen
		cb.reopenAt = cb.now().Add(cb.resetTimeout)
	}
}
