package emit

// Emitter receives observability events from the engine.
//
// Implementations should be non-blocking (never slow down cycle
// processing), thread-safe (events arrive concurrently from job workers),
// and resilient (an emitter failure must not crash the engine). Emit must
// not panic; internal errors should be swallowed or logged.
type Emitter interface {
	Emit(event Event)
}
