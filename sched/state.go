package sched

import (
	"sync"
	"time"
)

// EngineStatus is the lifecycle state of the engine.
type EngineStatus string

// Engine lifecycle states. Paused keeps the ticker alive but skips cycles;
// Error means the engine halted itself after losing its store.
const (
	StatusStopped EngineStatus = "stopped"
	StatusRunning EngineStatus = "running"
	StatusPaused  EngineStatus = "paused"
	StatusError   EngineStatus = "error"
)

// EndpointProgress counts endpoint calls within the active cycle.
type EndpointProgress struct {
	Total     int
	Completed int
}

// Progress is a snapshot of the active cycle's advancement. Total is the
// number of jobs locked into the cycle; Completed is how many have finished
// (successfully or not). Endpoints counts individual endpoint calls across
// all jobs in the cycle.
type Progress struct {
	Total     int
	Completed int
	StartedAt time.Time
	UpdatedAt time.Time
	Endpoints EndpointProgress
}

// Stats accumulates engine-lifetime counters across cycles. Counters only
// grow; averages are recomputed as cycles complete.
type Stats struct {
	CyclesCompleted    int64
	TotalJobsProcessed int64
	SuccessfulJobs     int64
	FailedJobs         int64

	EndpointCalls        int64
	EndpointFailures     int64
	EndpointRetries      int64
	EndpointsAborted     int64
	CircuitShortCircuits int64

	ReasonerCalls      int64
	MalformedPlans     int64
	MalformedSchedules int64
	RepairedResponses  int64
	PlanRepairs        RepairStats
	ScheduleRepairs    RepairStats

	Tokens TokenUsage

	AvgCycleDurationMs  float64
	AvgJobDurationMs    float64
	LastCycleDurationMs float64
}

// RepairStats counts repair rounds for one reasoner phase. Attempts is the
// number of responses that entered repair; a response counts as a Success
// when any repair round produced a valid result.
type RepairStats struct {
	Attempts  int64
	Successes int64
	Failures  int64
}

// EngineState is the externally visible state of a running engine:
// lifecycle status, lifetime stats, the active cycle's progress (nil
// between cycles), and lifecycle timestamps. StopTime and
// LastProcessingTime are zero until the first stop / completed cycle.
type EngineState struct {
	Status             EngineStatus
	Stats              Stats
	Progress           *Progress
	StartTime          time.Time
	StopTime           time.Time
	LastProcessingTime time.Time
}

// engineState holds the mutable engine state behind a lock. The cycle
// orchestrator owns Progress and the cancellation channel; per-job workers
// only touch progress counters via the methods here.
type engineState struct {
	mu             sync.Mutex
	status         EngineStatus
	stats          Stats
	progress       *Progress
	cancel         chan struct{}
	startTime      time.Time
	stopTime       time.Time
	lastProcessing time.Time
}

func newEngineState() *engineState {
	return &engineState{status: StatusStopped}
}

// beginCycle publishes a fresh progress snapshot and cancellation channel
// for the cycle about to run.
func (s *engineState) beginCycle(total int, now time.Time) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = &Progress{Total: total, StartedAt: now, UpdatedAt: now}
	s.cancel = make(chan struct{})
	return s.cancel
}

// endCycle clears progress and cancellation and folds the cycle's counters
// into the lifetime stats.
func (s *engineState) endCycle(res ProcessingResult, jobDurations []time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cycleMs := float64(res.EndTime.Sub(res.StartTime).Milliseconds())
	n := float64(s.stats.CyclesCompleted)
	s.stats.AvgCycleDurationMs = (s.stats.AvgCycleDurationMs*n + cycleMs) / (n + 1)
	s.stats.LastCycleDurationMs = cycleMs
	s.stats.CyclesCompleted++
	s.lastProcessing = res.EndTime

	prevJobs := float64(s.stats.TotalJobsProcessed)
	var sumMs float64
	for _, d := range jobDurations {
		sumMs += float64(d.Milliseconds())
	}
	if total := prevJobs + float64(len(jobDurations)); total > 0 {
		s.stats.AvgJobDurationMs = (s.stats.AvgJobDurationMs*prevJobs + sumMs) / total
	}

	s.stats.TotalJobsProcessed += int64(res.JobsProcessed)
	s.stats.SuccessfulJobs += int64(res.SuccessfulJobs)
	s.stats.FailedJobs += int64(res.FailedJobs)

	s.progress = nil
	s.cancel = nil
}

// jobCompleted bumps progress.Completed and returns the updated counts for
// the progress hook. Completed never exceeds Total.
func (s *engineState) jobCompleted(now time.Time) (total, completed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.progress == nil {
		return 0, 0
	}
	if s.progress.Completed < s.progress.Total {
		s.progress.Completed++
	}
	s.progress.UpdatedAt = now
	return s.progress.Total, s.progress.Completed
}

// addEndpoints records that a job's plan contributed n endpoint calls to
// the cycle.
func (s *engineState) addEndpoints(n int, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.progress == nil {
		return
	}
	s.progress.Endpoints.Total += n
	s.progress.UpdatedAt = now
}

// endpointCompleted records one finished endpoint call.
func (s *engineState) endpointCompleted(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.progress == nil {
		return
	}
	if s.progress.Endpoints.Completed < s.progress.Endpoints.Total {
		s.progress.Endpoints.Completed++
	}
	s.progress.UpdatedAt = now
}

// addExecutionStats merges per-job execution counters.
func (s *engineState) addExecutionStats(calls, failures, retries, aborted, shortCircuits int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.EndpointCalls += calls
	s.stats.EndpointFailures += failures
	s.stats.EndpointRetries += retries
	s.stats.EndpointsAborted += aborted
	s.stats.CircuitShortCircuits += shortCircuits
}

// addReasonerStats merges reasoner accounting for one gateway call.
// terminal means the call ended malformed after all repair rounds; a
// repaired response is counted under its phase's RepairStats, not under
// the malformed counters.
func (s *engineState) addReasonerStats(phase ReasonerPhase, terminal bool, repair RepairOutcome, usage TokenUsage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.ReasonerCalls++
	if terminal {
		switch phase {
		case PhasePlan:
			s.stats.MalformedPlans++
		case PhaseSchedule:
			s.stats.MalformedSchedules++
		}
	}
	if repair.Attempted {
		rs := &s.stats.PlanRepairs
		if phase == PhaseSchedule {
			rs = &s.stats.ScheduleRepairs
		}
		rs.Attempts++
		if repair.Succeeded {
			rs.Successes++
			s.stats.RepairedResponses++
		} else {
			rs.Failures++
		}
	}
	s.stats.Tokens.Add(usage)
}

func (s *engineState) setStatus(st EngineStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = st
}

// compareAndSetStatus transitions from -> to atomically, reporting whether
// the transition happened.
func (s *engineState) compareAndSetStatus(from, to EngineStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != from {
		return false
	}
	s.status = to
	return true
}

// markStarted records the transition to running and clears any previous
// stop time.
func (s *engineState) markStarted(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusRunning
	s.startTime = now
	s.stopTime = time.Time{}
}

func (s *engineState) markStopped(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusStopped
	s.stopTime = now
}

func (s *engineState) getStatus() EngineStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// cancelChan returns the active cycle's cancellation channel, nil between
// cycles.
func (s *engineState) cancelChan() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel
}

// snapshot returns a defensive copy; mutating it does not affect the
// engine.
func (s *engineState) snapshot() EngineState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := EngineState{
		Status:             s.status,
		Stats:              s.stats,
		StartTime:          s.startTime,
		StopTime:           s.stopTime,
		LastProcessingTime: s.lastProcessing,
	}
	if s.progress != nil {
		p := *s.progress
		out.Progress = &p
	}
	return out
}
