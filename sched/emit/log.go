package emit

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// LogEmitter writes events to an io.Writer as human-readable lines or as
// JSON Lines. It is safe for concurrent use.
type LogEmitter struct {
	mu       sync.Mutex
	w        io.Writer
	jsonMode bool
}

// NewLogEmitter returns an emitter writing to w. With jsonMode true each
// event becomes one JSON object per line, suitable for log shippers;
// otherwise a compact text format is used.
func NewLogEmitter(w io.Writer, jsonMode bool) *LogEmitter {
	return &LogEmitter{w: w, jsonMode: jsonMode}
}

type logRecord struct {
	Time       string                 `json:"time"`
	Msg        string                 `json:"msg"`
	CycleID    string                 `json:"cycleId,omitempty"`
	JobID      string                 `json:"jobId,omitempty"`
	EndpointID string                 `json:"endpointId,omitempty"`
	Meta       map[string]interface{} `json:"meta,omitempty"`
}

// Emit writes the event. Write errors are swallowed; an emitter must never
// interrupt cycle processing.
func (l *LogEmitter) Emit(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.jsonMode {
		rec := logRecord{
			Time:       time.Now().UTC().Format(time.RFC3339Nano),
			Msg:        event.Msg,
			CycleID:    event.CycleID,
			JobID:      event.JobID,
			EndpointID: event.EndpointID,
			Meta:       event.Meta,
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return
		}
		data = append(data, '\n')
		_, _ = l.w.Write(data)
		return
	}

	line := fmt.Sprintf("[%s]", event.Msg)
	if event.CycleID != "" {
		line += " cycle=" + event.CycleID
	}
	if event.JobID != "" {
		line += " job=" + event.JobID
	}
	if event.EndpointID != "" {
		line += " endpoint=" + event.EndpointID
	}
	for k, v := range event.Meta {
		line += fmt.Sprintf(" %s=%v", k, v)
	}
	line += "\n"
	_, _ = io.WriteString(l.w, line)
}
