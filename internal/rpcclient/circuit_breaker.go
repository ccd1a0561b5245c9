package rpcclient

import (
	"log/slog"
	"sync"
	"time"

	"github.com/brc20/indexer/internal/config"
)

// circuitBreaker guards the Bitcoin RPC connection against cascading
// failures. State machine:
//   - Closed (normal): all requests pass. On failure, increment counter.
//     If counter >= threshold → Open.
//   - Open (tripped): all requests blocked. After cooldown elapses → Half-Open.
//   - Half-Open (testing): allow a single request through. Success → Closed.
//     Failure → Open (restart cooldown).
type circuitBreaker struct {
	mu               sync.Mutex
	state            string
	consecutiveFails int
	threshold        int
	cooldown         time.Duration
	lastFailure      time.Time
	halfOpenAllowed  int
	halfOpenCount    int
}

func newCircuitBreaker(threshold int, cooldown time.Duration) *circuitBreaker {
	return &circuitBreaker{
		state:           config.CircuitClosed,
		threshold:       threshold,
		cooldown:        cooldown,
		halfOpenAllowed: config.CircuitBreakerHalfOpenMax,
	}
}

func (cb *circuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case config.CircuitClosed:
		return true
	case config.CircuitOpen:
		if time.Since(cb.lastFailure) >= cb.cooldown {
			slog.Debug("rpc circuit breaker transitioning to half-open",
				"consecutiveFails", cb.consecutiveFails, "cooldown", cb.cooldown)
			cb.state = config.CircuitHalfOpen
			cb.halfOpenCount = 1
			return true
		}
		return false
	case config.CircuitHalfOpen:
		if cb.halfOpenCount < cb.halfOpenAllowed {
			cb.halfOpenCount++
			return true
		}
		return false
	default:
		return false
	}
}

func (cb *circuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	previous := cb.state
	cb.consecutiveFails = 0
	cb.state = config.CircuitClosed
	cb.halfOpenCount = 0

	if previous != config.CircuitClosed {
		slog.Info("rpc circuit breaker closed after success", "previousState", previous)
	}
}

func (cb *circuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFails++
	cb.lastFailure = time.Now()

	if cb.state == config.CircuitHalfOpen {
		slog.Warn("rpc circuit breaker reopened from half-open after failure",
			"consecutiveFails", cb.consecutiveFails)
		cb.state = config.CircuitOpen
		cb.halfOpenCount = 0
		return
	}

	if cb.consecutiveFails >= cb.threshold {
		slog.Warn("rpc circuit breaker tripped to open",
			"consecutiveFails", cb.consecutiveFails, "threshold", cb.threshold)
		cb.state = config.CircuitOpen
		cb.halfOpenCount = 0
	}
}

func (cb *circuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *circuitBreaker) ConsecutiveFailures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutiveFails
}
