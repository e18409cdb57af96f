package sched

import (
	"sync"
	"time"
)

// CircuitState is the state of one endpoint's circuit.
type CircuitState string

// Circuit states.
const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "halfOpen"
)

// CircuitTransition describes one state change, delivered to the
// OnCircuitStateChange hook and the emitter.
type CircuitTransition struct {
	EndpointID string
	From       CircuitState
	To         CircuitState
	Reason     string
}

// CircuitSnapshot is a copy of one endpoint's circuit accounting.
type CircuitSnapshot struct {
	State               CircuitState
	ConsecutiveFailures int
	WindowStart         time.Time
	OpenedAt            time.Time
	HalfOpenInFlight    int
	HalfOpenSuccesses   int
	HalfOpenFailures    int
}

// CircuitBreaker isolates failing endpoints so one broken service cannot
// burn every job's retry budget.
//
// Each endpoint id owns an independent state machine:
//
//   - closed: failures are counted inside a sliding window of Window.
//     When ConsecutiveFailures reaches FailureThreshold the circuit opens.
//   - open: every call short-circuits without issuing a request. Once
//     Cooldown has elapsed the next call moves the circuit to halfOpen.
//   - halfOpen: up to HalfOpenMaxCalls probes are admitted in flight.
//     HalfOpenSuccessesToClose successes close the circuit (counters
//     reset); HalfOpenFailuresToReopen failures reopen it.
//
// Aborted calls are reported via RecordAborted and never count toward
// failure totals. A per-endpoint mutex guards each state machine; two
// jobs targeting the same endpoint share its circuit.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	// onTransition, when set, receives every state change.
	onTransition func(CircuitTransition)

	mu       sync.Mutex
	circuits map[string]*circuit
}

type circuit struct {
	mu sync.Mutex

	state               CircuitState
	consecutiveFailures int
	windowStart         time.Time
	openedAt            time.Time
	halfOpenInFlight    int
	halfOpenSuccesses   int
	halfOpenFailures    int
}

// NewCircuitBreaker creates a breaker with the given configuration.
// A nil transition callback is allowed.
func NewCircuitBreaker(cfg CircuitBreakerConfig, onTransition func(CircuitTransition)) *CircuitBreaker {
	return &CircuitBreaker{
		cfg:          cfg,
		now:          time.Now,
		onTransition: onTransition,
		circuits:     make(map[string]*circuit),
	}
}

// SetClock replaces the breaker's time source. Intended for tests.
func (b *CircuitBreaker) SetClock(now func() time.Time) { b.now = now }

func (b *CircuitBreaker) circuitFor(endpointID string) *circuit {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.circuits[endpointID]
	if !ok {
		c = &circuit{state: CircuitClosed, windowStart: b.now()}
		b.circuits[endpointID] = c
	}
	return c
}

// Allow reports whether a call to the endpoint may proceed. A false return
// means the circuit is open and the caller must record a circuit_open
// result without issuing any request.
//
// In halfOpen, Allow admits a bounded number of probes; callers that were
// admitted must balance the admission with exactly one RecordSuccess,
// RecordFailure, or RecordAborted.
func (b *CircuitBreaker) Allow(endpointID string) bool {
	if !b.cfg.Enabled {
		return true
	}
	c := b.circuitFor(endpointID)

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if b.now().Sub(c.openedAt) >= b.cfg.Cooldown {
			b.transition(endpointID, c, CircuitHalfOpen, "cooldown elapsed")
			c.halfOpenInFlight = 1
			return true
		}
		return false
	case CircuitHalfOpen:
		if c.halfOpenInFlight >= b.cfg.HalfOpenMaxCalls {
			return false
		}
		c.halfOpenInFlight++
		return true
	default:
		return true
	}
}

// RecordSuccess notes a successful call to the endpoint.
func (b *CircuitBreaker) RecordSuccess(endpointID string) {
	if !b.cfg.Enabled {
		return
	}
	c := b.circuitFor(endpointID)

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case CircuitClosed:
		c.consecutiveFailures = 0
		c.windowStart = b.now()
	case CircuitHalfOpen:
		c.halfOpenInFlight--
		c.halfOpenSuccesses++
		if c.halfOpenSuccesses >= b.cfg.HalfOpenSuccessesToClose {
			b.transition(endpointID, c, CircuitClosed, "probe successes reached threshold")
			c.reset(b.now())
		}
	}
}

// RecordFailure notes a failed call to the endpoint. Aborted calls must be
// reported via RecordAborted instead.
func (b *CircuitBreaker) RecordFailure(endpointID string) {
	if !b.cfg.Enabled {
		return
	}
	c := b.circuitFor(endpointID)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := b.now()
	switch c.state {
	case CircuitClosed:
		// Failures outside the window start a fresh count.
		if now.Sub(c.windowStart) > b.cfg.Window {
			c.consecutiveFailures = 0
			c.windowStart = now
		}
		c.consecutiveFailures++
		if c.consecutiveFailures >= b.cfg.FailureThreshold {
			b.transition(endpointID, c, CircuitOpen, "failure threshold reached")
			c.openedAt = now
		}
	case CircuitHalfOpen:
		c.halfOpenInFlight--
		c.halfOpenFailures++
		if c.halfOpenFailures >= b.cfg.HalfOpenFailuresToReopen {
			b.transition(endpointID, c, CircuitOpen, "probe failures reached threshold")
			c.openedAt = now
			c.halfOpenInFlight = 0
			c.halfOpenSuccesses = 0
			c.halfOpenFailures = 0
		}
	}
}

// RecordAborted releases a half-open probe admission without counting the
// call toward success or failure totals.
func (b *CircuitBreaker) RecordAborted(endpointID string) {
	if !b.cfg.Enabled {
		return
	}
	c := b.circuitFor(endpointID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == CircuitHalfOpen && c.halfOpenInFlight > 0 {
		c.halfOpenInFlight--
	}
}

// Snapshot returns a copy of the endpoint's circuit accounting.
func (b *CircuitBreaker) Snapshot(endpointID string) CircuitSnapshot {
	c := b.circuitFor(endpointID)

	c.mu.Lock()
	defer c.mu.Unlock()

	return CircuitSnapshot{
		State:               c.state,
		ConsecutiveFailures: c.consecutiveFailures,
		WindowStart:         c.windowStart,
		OpenedAt:            c.openedAt,
		HalfOpenInFlight:    c.halfOpenInFlight,
		HalfOpenSuccesses:   c.halfOpenSuccesses,
		HalfOpenFailures:    c.halfOpenFailures,
	}
}

// transition changes the circuit's state and notifies the callback.
// Callers hold the circuit's mutex.
func (b *CircuitBreaker) transition(endpointID string, c *circuit, to CircuitState, reason string) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	if b.onTransition != nil {
		b.onTransition(CircuitTransition{EndpointID: endpointID, From: from, To: to, Reason: reason})
	}
}

func (c *circuit) reset(now time.Time) {
	c.consecutiveFailures = 0
	c.windowStart = now
	c.openedAt = time.Time{}
	c.halfOpenInFlight = 0
	c.halfOpenSuccesses = 0
	c.halfOpenFailures = 0
}
