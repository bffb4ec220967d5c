package flow

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CircuitState is the state of a per-step circuit breaker.
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
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig tunes a step's breaker.
type CircuitBreakerConfig struct {
	FailureThreshold           int
	RecoveryTimeout            time.Duration
	HalfOpenMaxProbes          int
	SuccessThresholdInHalfOpen int
}

// DefaultCircuitBreakerConfig matches the engine's baked-in defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:           5,
		RecoveryTimeout:            30 * time.Second,
		HalfOpenMaxProbes:          3,
		SuccessThresholdInHalfOpen: 2,
	}
}

// circuitBreaker trips a step after consecutive failures across Execute
// invocations of the same workflow, so a flaky downstream step (an LLM
// provider outage, a dead MCP endpoint) stops being retried instantly on
// every new Execution once it has clearly gone bad.
type circuitBreaker struct {
	stepKey    string
	config     CircuitBreakerConfig
	state      CircuitState
	failures   int
	successes  int
	lastFail   time.Time
	probeCount int
	events     EventSink
	logger     *zap.Logger
	mu         sync.Mutex
}

func newCircuitBreaker(stepKey string, config CircuitBreakerConfig, events EventSink, logger *zap.Logger) *circuitBreaker {
	return &circuitBreaker{stepKey: stepKey, config: config, events: events, logger: logger}
}

func (cb *circuitBreaker) allow() (bool, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true, nil
	case CircuitOpen:
		if time.Since(cb.lastFail) >= cb.config.RecoveryTimeout {
			cb.transition(CircuitHalfOpen, "recovery timeout elapsed")
			cb.probeCount = 0
			cb.successes = 0
			return true, nil
		}
		return false, fmt.Errorf("circuit breaker open for step %s: %d consecutive failures", cb.stepKey, cb.failures)
	case CircuitHalfOpen:
		if cb.probeCount < cb.config.HalfOpenMaxProbes {
			cb.probeCount++
			return true, nil
		}
		return false, fmt.Errorf("circuit breaker half-open for step %s: max probes reached", cb.stepKey)
	default:
		return false, fmt.Errorf("unknown circuit breaker state for step %s", cb.stepKey)
	}
}

func (cb *circuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case CircuitClosed:
		cb.failures = 0
	case CircuitHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThresholdInHalfOpen {
			cb.transition(CircuitClosed, "recovered in half-open")
			cb.failures = 0
			cb.successes = 0
		}
	}
}

func (cb *circuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	cb.lastFail = time.Now()
	switch cb.state {
	case CircuitClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.transition(CircuitOpen, "failure threshold reached")
		}
	case CircuitHalfOpen:
		cb.successes = 0
		cb.transition(CircuitOpen, "failure while half-open")
	}
}

func (cb *circuitBreaker) transition(to CircuitState, reason string) {
	from := cb.state
	cb.state = to
	if cb.logger != nil {
		cb.logger.Info("step circuit breaker state change",
			zap.String("step", cb.stepKey),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
			zap.String("reason", reason))
	}
	if cb.events != nil {
		cb.events.Publish("Audit", "CircuitBreakerStateChange", map[string]any{
			"step": cb.stepKey, "from": from.String(), "to": to.String(), "reason": reason,
		})
	}
}

func (cb *circuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// circuitBreakerRegistry owns one breaker per step key, created lazily.
type circuitBreakerRegistry struct {
	mu       sync.RWMutex
	breakers map[string]*circuitBreaker
	config   CircuitBreakerConfig
	events   EventSink
	logger   *zap.Logger
}

func newCircuitBreakerRegistry(config CircuitBreakerConfig, events EventSink, logger *zap.Logger) *circuitBreakerRegistry {
	return &circuitBreakerRegistry{breakers: make(map[string]*circuitBreaker), config: config, events: events, logger: logger}
}

func (r *circuitBreakerRegistry) getOrCreate(key string) *circuitBreaker {
	r.mu.RLock()
	if cb, ok := r.breakers[key]; ok {
		r.mu.RUnlock()
		return cb
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[key]; ok {
		return cb
	}
	cb := newCircuitBreaker(key, r.config, r.events, r.logger)
	r.breakers[key] = cb
	return cb
}
