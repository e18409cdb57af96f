// Package emit provides observability events for the scheduling engine.
package emit

// Event is an observability record emitted during cycle processing.
//
// Events cover the whole pipeline: cycle start/finish, job lock/skip,
// planning and scheduling outcomes, endpoint attempts and retries, circuit
// transitions, and malformed reasoner responses.
//
// Events are delivered to an Emitter, which may log them, forward them to
// OpenTelemetry, buffer them for inspection, or discard them.
type Event struct {
	// CycleID identifies the processing cycle the event belongs to.
	// Empty for engine-level events (start, stop).
	CycleID string

	// JobID identifies the job being processed. Empty for cycle-level
	// events.
	JobID string

	// EndpointID identifies the endpoint involved, when any.
	EndpointID string

	// Msg is a short machine-friendly event name, e.g. "cycle_start",
	// "job_locked", "endpoint_retry", "circuit_state_change".
	Msg string

	// Meta carries event-specific structured data. Common keys:
	//   - "duration_ms": elapsed time in milliseconds
	//   - "error": failure details
	//   - "attempt": 1-based attempt number
	//   - "status_code": HTTP status
	//   - "from"/"to": circuit states
	//   - "phase"/"category": reasoner failure accounting
	Meta map[string]interface{}
}
