package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dshills/schedflow/sched"
)

// executionRecord is one persisted cycle execution for a job.
type executionRecord struct {
	plan         *sched.ExecutionPlan
	results      []sched.EndpointResult
	summary      *sched.ExecutionSummary
	status       sched.ExecutionStatus
	errorMessage string
	createdAt    time.Time
}

// MemoryStore is an in-memory implementation of sched.Store.
//
// It is intended for tests and development: zero setup, fully deterministic
// ordering, and an injectable clock for lock-expiry testing. All data is
// lost when the process exits.
//
// Thread-safe: a single RWMutex guards all maps.
type MemoryStore struct {
	mu         sync.RWMutex
	jobs       map[string]*sched.Job
	endpoints  map[string][]sched.Endpoint
	messages   map[string][]sched.Message
	usage      map[string][]sched.EndpointUsage
	executions map[string][]*executionRecord
	jobErrors  map[string][]sched.JobError
	now        func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:       make(map[string]*sched.Job),
		endpoints:  make(map[string][]sched.Endpoint),
		messages:   make(map[string][]sched.Message),
		usage:      make(map[string][]sched.EndpointUsage),
		executions: make(map[string][]*executionRecord),
		jobErrors:  make(map[string][]sched.JobError),
		now:        time.Now,
	}
}

// SetClock replaces the store's time source. Tests use this to control lock
// expiry.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// AddJob seeds a job. The stored value is a copy.
func (m *MemoryStore) AddJob(job sched.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := job
	m.jobs[job.ID] = &j
}

// AddEndpoint attaches an endpoint to its job.
func (m *MemoryStore) AddEndpoint(ep sched.Endpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endpoints[ep.JobID] = append(m.endpoints[ep.JobID], ep)
}

// AddMessage appends a conversational message to a job's history.
func (m *MemoryStore) AddMessage(jobID string, msg sched.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[jobID] = append(m.messages[jobID], msg)
}

// AddEndpointUsage appends a usage record to a job's history.
func (m *MemoryStore) AddEndpointUsage(jobID string, u sched.EndpointUsage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage[jobID] = append(m.usage[jobID], u)
}

// Job returns a copy of a stored job, or false if absent.
func (m *MemoryStore) Job(jobID string) (sched.Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return sched.Job{}, false
	}
	return *j, true
}

// Executions returns copies of a job's execution records' statuses in
// creation order, for test assertions.
func (m *MemoryStore) Executions(jobID string) []sched.ExecutionStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]sched.ExecutionStatus, 0, len(m.executions[jobID]))
	for _, rec := range m.executions[jobID] {
		out = append(out, rec.status)
	}
	return out
}

// LastResults returns the endpoint results of a job's latest execution.
func (m *MemoryStore) LastResults(jobID string) []sched.EndpointResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := m.executions[jobID]
	if len(recs) == 0 {
		return nil
	}
	res := recs[len(recs)-1].results
	out := make([]sched.EndpointResult, len(res))
	copy(out, res)
	return out
}

// LastSummary returns the summary of a job's latest execution, or false.
func (m *MemoryStore) LastSummary(jobID string) (sched.ExecutionSummary, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := m.executions[jobID]
	if len(recs) == 0 || recs[len(recs)-1].summary == nil {
		return sched.ExecutionSummary{}, false
	}
	return *recs[len(recs)-1].summary, true
}

// LastPlan returns the plan of a job's latest execution, or false.
func (m *MemoryStore) LastPlan(jobID string) (sched.ExecutionPlan, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := m.executions[jobID]
	if len(recs) == 0 || recs[len(recs)-1].plan == nil {
		return sched.ExecutionPlan{}, false
	}
	return *recs[len(recs)-1].plan, true
}

// JobErrors returns a copy of a job's error log.
func (m *MemoryStore) JobErrors(jobID string) []sched.JobError {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.jobErrors[jobID]
	out := make([]sched.JobError, len(src))
	copy(out, src)
	return out
}

// FetchDueJobs returns due job ids ordered by NextRunAt (nil first), then
// by id for determinism.
func (m *MemoryStore) FetchDueJobs(ctx context.Context, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	var due []*sched.Job
	for _, j := range m.jobs {
		if j.Status != sched.JobActive {
			continue
		}
		if j.Locked && j.LockExpiresAt.After(now) {
			continue
		}
		if j.NextRunAt != nil && j.NextRunAt.After(now) {
			continue
		}
		due = append(due, j)
	}

	sort.Slice(due, func(a, b int) bool {
		ja, jb := due[a], due[b]
		switch {
		case ja.NextRunAt == nil && jb.NextRunAt != nil:
			return true
		case ja.NextRunAt != nil && jb.NextRunAt == nil:
			return false
		case ja.NextRunAt != nil && jb.NextRunAt != nil && !ja.NextRunAt.Equal(*jb.NextRunAt):
			return ja.NextRunAt.Before(*jb.NextRunAt)
		default:
			return ja.ID < jb.ID
		}
	})

	ids := make([]string, 0, limit)
	for _, j := range due {
		if len(ids) == limit {
			break
		}
		ids = append(ids, j.ID)
	}
	return ids, nil
}

// LockJob acquires the lock iff it is unheld or expired.
func (m *MemoryStore) LockJob(ctx context.Context, jobID string, lockExpiresAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return false, nil
	}
	if j.Locked && j.LockExpiresAt.After(m.now()) {
		return false, nil
	}
	j.Locked = true
	j.LockExpiresAt = lockExpiresAt
	j.UpdatedAt = m.now()
	return true, nil
}

// UnlockJob clears the lock unconditionally.
func (m *MemoryStore) UnlockJob(ctx context.Context, jobID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return false, nil
	}
	was := j.Locked
	j.Locked = false
	j.LockExpiresAt = time.Time{}
	j.UpdatedAt = m.now()
	return was, nil
}

// UnlockStaleJobs releases every lock whose expiry has passed.
func (m *MemoryStore) UnlockStaleJobs(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	released := 0
	for _, j := range m.jobs {
		if j.Locked && !j.LockExpiresAt.After(now) {
			j.Locked = false
			j.LockExpiresAt = time.Time{}
			j.UpdatedAt = m.now()
			released++
		}
	}
	return released, nil
}

// JobContext assembles the per-cycle snapshot for a job.
func (m *MemoryStore) JobContext(ctx context.Context, jobID string) (*sched.JobContext, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}

	jc := &sched.JobContext{Job: *j}
	jc.Endpoints = append(jc.Endpoints, m.endpoints[jobID]...)
	jc.Messages = append(jc.Messages, m.messages[jobID]...)
	jc.Usage = append(jc.Usage, m.usage[jobID]...)
	return jc, nil
}

// RecordExecutionPlan attaches the plan to the job's current execution
// record, creating one if the running transition never landed.
func (m *MemoryStore) RecordExecutionPlan(ctx context.Context, jobID string, plan sched.ExecutionPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[jobID]; !ok {
		return ErrNotFound
	}
	rec := m.currentExecution(jobID)
	p := plan
	rec.plan = &p
	return nil
}

// RecordEndpointResults appends results to the current execution record.
func (m *MemoryStore) RecordEndpointResults(ctx context.Context, jobID string, results []sched.EndpointResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[jobID]; !ok {
		return ErrNotFound
	}
	rec := m.currentExecution(jobID)
	rec.results = append(rec.results, results...)
	return nil
}

// RecordExecutionSummary stores the aggregate summary.
func (m *MemoryStore) RecordExecutionSummary(ctx context.Context, jobID string, summary sched.ExecutionSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[jobID]; !ok {
		return ErrNotFound
	}
	rec := m.currentExecution(jobID)
	s := summary
	rec.summary = &s
	return nil
}

// UpdateJobSchedule sets the job's next run time.
func (m *MemoryStore) UpdateJobSchedule(ctx context.Context, jobID string, decision sched.ScheduleDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	next := decision.NextRunAt
	j.NextRunAt = &next
	j.UpdatedAt = m.now()
	return nil
}

// RecordJobError appends to the job's error log.
func (m *MemoryStore) RecordJobError(ctx context.Context, jobID, message, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.jobErrors[jobID] = append(m.jobErrors[jobID], sched.JobError{
		JobID:     jobID,
		Message:   message,
		Code:      code,
		Timestamp: m.now(),
	})
	return nil
}

// UpdateExecutionStatus transitions the job's current execution record. The
// running transition opens a fresh record (one record per cycle).
func (m *MemoryStore) UpdateExecutionStatus(ctx context.Context, jobID string, status sched.ExecutionStatus, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[jobID]; !ok {
		return ErrNotFound
	}
	var rec *executionRecord
	if status == sched.ExecutionRunning {
		rec = &executionRecord{createdAt: m.now()}
		m.executions[jobID] = append(m.executions[jobID], rec)
	} else {
		rec = m.currentExecution(jobID)
	}
	rec.status = status
	if status == sched.ExecutionFailed {
		rec.errorMessage = errorMessage
	}
	return nil
}

// UpdateJobTokenUsage adds deltas to the job's accumulated counters.
func (m *MemoryStore) UpdateJobTokenUsage(ctx context.Context, jobID string, deltas sched.TokenUsage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	j.Tokens.Add(deltas)
	j.UpdatedAt = m.now()
	return nil
}

// EngineMetrics reports aggregate persisted counters.
func (m *MemoryStore) EngineMetrics(ctx context.Context) (sched.StoreMetrics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sm sched.StoreMetrics
	for _, j := range m.jobs {
		if j.Status == sched.JobActive {
			sm.ActiveJobs++
		}
		if j.Locked {
			sm.LockedJobs++
		}
		sm.Tokens.Add(j.Tokens)
	}
	for _, recs := range m.executions {
		sm.TotalExecutions += len(recs)
	}
	for _, errs := range m.jobErrors {
		sm.TotalErrors += len(errs)
	}
	return sm, nil
}

// currentExecution returns the job's latest execution record, creating one
// if none exists. Caller holds the write lock.
func (m *MemoryStore) currentExecution(jobID string) *executionRecord {
	recs := m.executions[jobID]
	if len(recs) == 0 {
		rec := &executionRecord{status: sched.ExecutionPending, createdAt: m.now()}
		m.executions[jobID] = append(m.executions[jobID], rec)
		return rec
	}
	return recs[len(recs)-1]
}
