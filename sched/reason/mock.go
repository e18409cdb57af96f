package reason

import (
	"context"
	"errors"
	"sync"

	"github.com/dshills/schedflow/sched"
)

// MockProvider is a scripted Provider for tests. It returns its queued
// responses in order, repeating the last one when the queue is exhausted,
// and records every request it receives.
type MockProvider struct {
	mu        sync.Mutex
	responses []Response
	errs      []error
	calls     int
	requests  []Request
}

// NewMockProvider queues one response per content string, each reporting a
// small fixed token usage.
func NewMockProvider(contents ...string) *MockProvider {
	m := &MockProvider{}
	for _, c := range contents {
		m.responses = append(m.responses, Response{
			Content: c,
			Usage:   sched.TokenUsage{Input: 100, Output: 50, Total: 150},
		})
	}
	return m
}

// QueueError makes the next call fail with err before any queued responses
// after it are served.
func (m *MockProvider) QueueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, err)
}

// Complete pops the next scripted error or response.
func (m *MockProvider) Complete(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.requests = append(m.requests, req)

	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return Response{}, err
	}
	if len(m.responses) == 0 {
		return Response{}, errors.New("mock provider has no responses queued")
	}
	resp := m.responses[0]
	if len(m.responses) > 1 {
		m.responses = m.responses[1:]
	}
	return resp, nil
}

// Name identifies the provider as "mock".
func (m *MockProvider) Name() string {
	return "mock"
}

// Calls reports how many times Complete was invoked.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Requests returns a copy of the recorded requests.
func (m *MockProvider) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}
