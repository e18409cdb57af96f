package emit

import "sync"

// BufferedEmitter retains events in memory, keyed by cycle ID. It is meant
// for tests and for interactive debugging of a live engine; it grows without
// bound until Clear is called.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event
}

// NewBufferedEmitter returns an empty buffered emitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{events: make(map[string][]Event)}
}

// Emit appends the event to its cycle's history. Events without a cycle ID
// are collected under the empty key.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.CycleID] = append(b.events[event.CycleID], event)
}

// History returns a copy of the events recorded for a cycle, in emission
// order.
func (b *BufferedEmitter) History(cycleID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	src := b.events[cycleID]
	out := make([]Event, len(src))
	copy(out, src)
	return out
}

// HistoryFilter selects a subset of a cycle's events. Zero-valued fields
// match everything.
type HistoryFilter struct {
	JobID      string
	EndpointID string
	Msg        string
}

// HistoryWithFilter returns the cycle's events matching the filter.
func (b *BufferedEmitter) HistoryWithFilter(cycleID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Event
	for _, ev := range b.events[cycleID] {
		if filter.JobID != "" && ev.JobID != filter.JobID {
			continue
		}
		if filter.EndpointID != "" && ev.EndpointID != filter.EndpointID {
			continue
		}
		if filter.Msg != "" && ev.Msg != filter.Msg {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// Clear drops the history for one cycle, or all history when cycleID is "*".
func (b *BufferedEmitter) Clear(cycleID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cycleID == "*" {
		b.events = make(map[string][]Event)
		return
	}
	delete(b.events, cycleID)
}
