package sched

// ExecutionProgressUpdate reports cycle-level progress. JobID is set when
// the update was triggered by a specific job completing, empty for the
// final update fired when the cycle finishes.
type ExecutionProgressUpdate struct {
	JobID     string
	Total     int
	Completed int
}

// EndpointProgressStatus is the lifecycle phase of one endpoint call as
// seen by the progress hook.
type EndpointProgressStatus string

// Endpoint progress statuses.
const (
	EndpointPending EndpointProgressStatus = "pending"
	EndpointRunning EndpointProgressStatus = "running"
	EndpointSuccess EndpointProgressStatus = "success"
	EndpointFailed  EndpointProgressStatus = "failed"
)

// EndpointProgressUpdate reports the state of a single endpoint call.
type EndpointProgressUpdate struct {
	JobID      string
	EndpointID string
	Status     EndpointProgressStatus
	Attempt    int
	Error      string
}

// RetryAttemptUpdate fires before a retry is issued.
type RetryAttemptUpdate struct {
	JobID      string
	EndpointID string
	Attempt    int
}

// RetryExhaustedUpdate fires when the retry policy gives up on an endpoint.
type RetryExhaustedUpdate struct {
	JobID      string
	EndpointID string
	Attempts   int
}

// ReasonerMalformedUpdate fires once per malformed reasoner response,
// including responses later fixed by repair (Repaired reports the outcome).
type ReasonerMalformedUpdate struct {
	Phase    ReasonerPhase
	Category ReasonerFailureCategory
	Repaired bool
}

// Hooks are optional callbacks fired as the engine works. Nil fields are
// skipped. Callbacks run synchronously on engine goroutines and must
// return quickly; they must not call back into the engine.
type Hooks struct {
	OnExecutionProgress  func(ExecutionProgressUpdate)
	OnEndpointProgress   func(EndpointProgressUpdate)
	OnRetryAttempt       func(RetryAttemptUpdate)
	OnRetryExhausted     func(RetryExhaustedUpdate)
	OnCircuitStateChange func(CircuitTransition)
	OnReasonerMalformed  func(ReasonerMalformedUpdate)
}

func (h *Hooks) executionProgress(u ExecutionProgressUpdate) {
	if h != nil && h.OnExecutionProgress != nil {
		h.OnExecutionProgress(u)
	}
}

func (h *Hooks) endpointProgress(u EndpointProgressUpdate) {
	if h != nil && h.OnEndpointProgress != nil {
		h.OnEndpointProgress(u)
	}
}

func (h *Hooks) retryAttempt(u RetryAttemptUpdate) {
	if h != nil && h.OnRetryAttempt != nil {
		h.OnRetryAttempt(u)
	}
}

func (h *Hooks) retryExhausted(u RetryExhaustedUpdate) {
	if h != nil && h.OnRetryExhausted != nil {
		h.OnRetryExhausted(u)
	}
}

func (h *Hooks) circuitStateChange(t CircuitTransition) {
	if h != nil && h.OnCircuitStateChange != nil {
		h.OnCircuitStateChange(t)
	}
}

func (h *Hooks) reasonerMalformed(u ReasonerMalformedUpdate) {
	if h != nil && h.OnReasonerMalformed != nil {
		h.OnReasonerMalformed(u)
	}
}
