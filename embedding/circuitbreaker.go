package embedding

import (
	"sync"
	"time"

	epierrors "github.com/agentic-memory/epimem/errors"
)

// CircuitState mirrors the teacher's resilience.CircuitBreaker state
// machine (resilience/circuit_breaker.go), reduced to what the
// embedding provider wrapper needs: Closed/Open/HalfOpen.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreakerConfig controls the error-rate/volume threshold, the
// open-state cooldown, and how many trial requests HalfOpen admits.
type CircuitBreakerConfig struct {
	ErrorThreshold      float64
	VolumeThreshold     int
	SleepWindow         time.Duration
	HalfOpenMaxRequests int
}

// CircuitBreaker guards a single embedding provider. Safe for
// concurrent use.
type CircuitBreaker struct {
	mu             sync.Mutex
	cfg            CircuitBreakerConfig
	state          CircuitState
	successes      int
	failures       int
	openedAt       time.Time
	halfOpenInFlight int
}

// NewCircuitBreaker builds a breaker starting Closed.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = 3
	}
	return &CircuitBreaker{cfg: cfg, state: StateClosed}
}

// Allow reports whether a new request may proceed, transitioning Open
// to HalfOpen once the sleep window has elapsed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(cb.openedAt) >= cb.cfg.SleepWindow {
			cb.state = StateHalfOpen
			cb.halfOpenInFlight = 0
			cb.successes, cb.failures = 0, 0
			return cb.tryHalfOpenSlot()
		}
		return false
	case StateHalfOpen:
		return cb.tryHalfOpenSlot()
	}
	return true
}

func (cb *CircuitBreaker) tryHalfOpenSlot() bool {
	if cb.halfOpenInFlight >= cb.cfg.HalfOpenMaxRequests {
		return false
	}
	cb.halfOpenInFlight++
	return true
}

// RecordSuccess registers a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.successes++
	if cb.state == StateHalfOpen && cb.successes >= cb.cfg.HalfOpenMaxRequests {
		cb.state = StateClosed
		cb.successes, cb.failures = 0, 0
	}
}

// RecordFailure registers a failed call and evaluates whether the
// breaker should trip open.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++

	if cb.state == StateHalfOpen {
		cb.trip()
		return
	}

	total := cb.successes + cb.failures
	if total >= cb.cfg.VolumeThreshold {
		errorRate := float64(cb.failures) / float64(total)
		if errorRate >= cb.cfg.ErrorThreshold {
			cb.trip()
		}
	}
}

func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = time.Now()
	cb.successes, cb.failures = 0, 0
}

// State returns the current state, for diagnostics and tests.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Execute runs fn guarded by the breaker, returning
// ErrCircuitBreakerOpen without invoking fn when the breaker rejects.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.Allow() {
		return epierrors.New("embedding.circuitbreaker", epierrors.KindCircuitBreakerOpen, "", epierrors.ErrCircuitBreakerOpen)
	}
	err := fn()
	if err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}
