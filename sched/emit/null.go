package emit

// NullEmitter discards all events. Use it to disable event emission
// without changing wiring.
type NullEmitter struct{}

// NewNullEmitter returns an emitter that drops everything. Safe for
// concurrent use, zero overhead.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event.
func (n *NullEmitter) Emit(event Event) {}
