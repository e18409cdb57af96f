package sched

import (
	"context"
	"errors"
	"time"

	"github.com/dshills/schedflow/sched/emit"
)

// jobOutcome is what one job contributes to the cycle aggregate.
type jobOutcome struct {
	jobID    string
	skipped  bool
	success  bool
	jobErr   *JobError
	duration time.Duration
}

// processJob runs the per-job pipeline:
//
//	lock → running → context → plan → execute → schedule → unlock
//
// Any step error diverts to the failure path: record a JobError, mark the
// execution failed, unlock. Every failure side effect is best-effort; the
// processor never propagates an error to the worker loop.
func (en *Engine) processJob(ctx context.Context, cycleID, jobID string, cancel <-chan struct{}) jobOutcome {
	start := en.now()
	outcome := jobOutcome{jobID: jobID}

	defer func() {
		outcome.duration = en.now().Sub(start)
	}()

	lockExpiresAt := start.Add(en.cfg.Scheduler.StaleLockThreshold)
	locked, err := en.store.LockJob(ctx, jobID, lockExpiresAt)
	if err != nil {
		outcome.jobErr = en.failJob(ctx, cycleID, jobID, "lock job: "+err.Error(), "LOCK_FAILED", false)
		return outcome
	}
	if !locked {
		// Another processor owns this job; not ours this cycle.
		outcome.skipped = true
		en.emitter.Emit(emit.Event{CycleID: cycleID, JobID: jobID, Msg: "job_skipped"})
		return outcome
	}
	en.emitter.Emit(emit.Event{CycleID: cycleID, JobID: jobID, Msg: "job_locked"})

	_ = en.store.UpdateExecutionStatus(ctx, jobID, ExecutionRunning, "")

	jc, err := en.store.JobContext(ctx, jobID)
	if err != nil {
		outcome.jobErr = en.failJob(ctx, cycleID, jobID, "fetch job context: "+err.Error(), "CONTEXT_FAILED", true)
		return outcome
	}

	jc.Exec.CurrentTime = start
	jc.Exec.SystemEnvironment = NormalizeEnvironment(jc.Exec.SystemEnvironment)
	if en.cfg.Execution.AllowCancellation {
		jc.Exec.Cancel = cancel
	}

	plan, err := en.planJob(ctx, cycleID, jobID, jc)
	if err != nil {
		outcome.jobErr = en.failJob(ctx, cycleID, jobID, "plan: "+err.Error(), "PLAN_FAILED", true)
		return outcome
	}

	results, execErr := en.executeJob(ctx, cycleID, jobID, jc, plan)
	if execErr != nil {
		outcome.jobErr = en.failJob(ctx, cycleID, jobID, "execute: "+execErr.Error(), "EXECUTE_FAILED", true)
		return outcome
	}

	if err := en.scheduleJob(ctx, cycleID, jobID, jc, plan, results); err != nil {
		outcome.jobErr = en.failJob(ctx, cycleID, jobID, "schedule: "+err.Error(), "SCHEDULE_FAILED", true)
		return outcome
	}

	_ = en.store.UpdateExecutionStatus(ctx, jobID, ExecutionCompleted, "")
	_, _ = en.store.UnlockJob(ctx, jobID)

	outcome.success = true
	en.emitter.Emit(emit.Event{CycleID: cycleID, JobID: jobID, Msg: "job_completed",
		Meta: map[string]interface{}{"duration_ms": en.now().Sub(start).Milliseconds()}})
	return outcome
}

// planJob invokes the reasoner's planning phase, records its accounting,
// and persists the plan.
func (en *Engine) planJob(ctx context.Context, cycleID, jobID string, jc *JobContext) (*ExecutionPlan, error) {
	res, err := en.reasoner.Plan(ctx, jc)
	en.recordReasonerOutcome(cycleID, jobID, PhasePlan, res.Repair, res.Usage, err)
	if res.Usage.Total > 0 {
		_ = en.store.UpdateJobTokenUsage(ctx, jobID, res.Usage)
	}
	if err != nil {
		return nil, err
	}

	if err := en.store.RecordExecutionPlan(ctx, jobID, res.Plan); err != nil {
		return nil, err
	}
	en.emitter.Emit(emit.Event{CycleID: cycleID, JobID: jobID, Msg: "plan_recorded",
		Meta: map[string]interface{}{
			"strategy":   string(res.Plan.ExecutionStrategy),
			"endpoints":  len(res.Plan.EndpointsToCall),
			"confidence": res.Plan.Confidence,
		}})
	plan := res.Plan
	return &plan, nil
}

// executeJob runs the plan and persists results and the execution summary.
// Endpoints disabled by a previous critical escalation are dropped from the
// plan before execution.
func (en *Engine) executeJob(ctx context.Context, cycleID, jobID string, jc *JobContext, plan *ExecutionPlan) ([]EndpointResult, error) {
	prevLevel, disabled := en.escalationFor(jobID)
	if len(disabled) > 0 {
		plan = filterDisabled(plan, disabled)
	}

	en.state.addEndpoints(len(plan.EndpointsToCall), en.now())

	// The phase timeout bounds endpoint execution only; result persistence
	// below keeps the parent context.
	execCtx := ctx
	if t := en.cfg.Execution.ExecutionPhaseTimeout; t > 0 {
		var cancelPhase context.CancelFunc
		execCtx, cancelPhase = context.WithTimeout(ctx, t)
		defer cancelPhase()
	}

	execStart := en.now()
	results, execErr := en.executor.ExecuteEndpoints(execCtx, jc, plan)
	execEnd := en.now()

	for range results {
		en.state.endpointCompleted(en.now())
	}
	en.state.addExecutionStats(executionCounters(results))

	if len(results) > 0 {
		if err := en.store.RecordEndpointResults(ctx, jobID, results); err != nil {
			return results, err
		}
	}

	var cde *CircularDependencyError
	if errors.As(execErr, &cde) {
		return results, execErr
	}

	summary := summarize(execStart, execEnd, results)
	if err := en.store.RecordExecutionSummary(ctx, jobID, summary); err != nil {
		return results, err
	}

	esc := ComputeEscalation(EscalationInput{
		Failures:          summary.FailureCount,
		Attempted:         len(results),
		Config:            en.cfg.Execution.Escalation,
		PreviousLevel:     prevLevel,
		FailedEndpointIDs: failedEndpointIDs(results),
		ExistingDisabled:  disabled,
	})
	en.updateEscalation(jobID, esc)
	if esc.LevelChanged {
		en.emitter.Emit(emit.Event{CycleID: cycleID, JobID: jobID, Msg: "escalation_level_change",
			Meta: map[string]interface{}{
				"level":    string(esc.Level),
				"recovery": string(esc.RecoveryAction),
				"disabled": len(esc.DisabledEndpoints),
			}})
	}
	en.emitter.Emit(emit.Event{CycleID: cycleID, JobID: jobID, Msg: "execution_summary",
		Meta: map[string]interface{}{
			"success_count": summary.SuccessCount,
			"failure_count": summary.FailureCount,
			"duration_ms":   summary.TotalDurationMs,
		}})
	return results, nil
}

// scheduleJob invokes the reasoner's scheduling phase and persists the
// decision. If scheduling fails and the plan carried a preliminary next run
// time, that time is applied best-effort so the job does not stall.
func (en *Engine) scheduleJob(ctx context.Context, cycleID, jobID string, jc *JobContext, plan *ExecutionPlan, results []EndpointResult) error {
	res, err := en.reasoner.Schedule(ctx, jc, results)
	en.recordReasonerOutcome(cycleID, jobID, PhaseSchedule, res.Repair, res.Usage, err)
	if res.Usage.Total > 0 {
		_ = en.store.UpdateJobTokenUsage(ctx, jobID, res.Usage)
	}
	if err != nil {
		if plan.PreliminaryNextRun != nil {
			fallback := ScheduleDecision{
				NextRunAt: *plan.PreliminaryNextRun,
				Reasoning: "preliminary schedule applied after scheduling failure",
			}
			_ = en.store.UpdateJobSchedule(ctx, jobID, fallback)
		}
		return err
	}

	if err := en.store.UpdateJobSchedule(ctx, jobID, res.Decision); err != nil {
		return err
	}
	en.emitter.Emit(emit.Event{CycleID: cycleID, JobID: jobID, Msg: "job_scheduled",
		Meta: map[string]interface{}{
			"next_run_at": res.Decision.NextRunAt.Format(time.RFC3339),
			"confidence":  res.Decision.Confidence,
		}})
	return nil
}

// recordReasonerOutcome folds one reasoner call's accounting into state,
// metrics, hooks, and the emitter. Only a terminally malformed call bumps
// the malformed counters; a response that needed repair but ended valid
// counts under the phase's repair stats instead.
func (en *Engine) recordReasonerOutcome(cycleID, jobID string, phase ReasonerPhase, repair RepairOutcome, usage TokenUsage, callErr error) {
	repaired := repair.Attempted && repair.Succeeded

	var mre *MalformedResponseError
	terminal := errors.As(callErr, &mre)
	if terminal && repair.Category == "" {
		repair.Category = mre.Category
	}
	malformed := terminal || repair.Category != ""

	en.state.addReasonerStats(phase, terminal, repair, usage)
	if en.metrics != nil {
		en.metrics.RecordReasonerCall(string(phase))
		if malformed {
			en.metrics.RecordReasonerMalformed(string(phase), string(repair.Category), repaired)
		}
		en.metrics.RecordTokens(usage)
	}
	if malformed {
		en.hooks.reasonerMalformed(ReasonerMalformedUpdate{
			Phase:    phase,
			Category: repair.Category,
			Repaired: repaired,
		})
		en.emitter.Emit(emit.Event{CycleID: cycleID, JobID: jobID, Msg: "reasoner_malformed",
			Meta: map[string]interface{}{
				"phase":    string(phase),
				"category": string(repair.Category),
				"repaired": repaired,
			}})
	}
}

// failJob runs the failure path. Every side effect is best-effort; its own
// failure is swallowed. unlock is false when the lock was never acquired.
func (en *Engine) failJob(ctx context.Context, cycleID, jobID, message, code string, unlock bool) *JobError {
	jobErr := &JobError{JobID: jobID, Message: message, Code: code, Timestamp: en.now()}

	_ = en.store.RecordJobError(ctx, jobID, message, code)
	_ = en.store.UpdateExecutionStatus(ctx, jobID, ExecutionFailed, message)
	if unlock {
		_, _ = en.store.UnlockJob(ctx, jobID)
	}

	en.emitter.Emit(emit.Event{CycleID: cycleID, JobID: jobID, Msg: "job_failed",
		Meta: map[string]interface{}{"error": message, "code": code}})
	return jobErr
}

// summarize builds the persisted execution summary. Aborted results do not
// count as failures.
func summarize(start, end time.Time, results []EndpointResult) ExecutionSummary {
	s := ExecutionSummary{StartTime: start, EndTime: end}
	for _, r := range results {
		s.TotalDurationMs += r.ExecutionTimeMs
		switch {
		case r.Success:
			s.SuccessCount++
		case r.Aborted:
			// Excluded from failure counts.
		default:
			s.FailureCount++
		}
	}
	return s
}

// filterDisabled returns a copy of the plan without calls targeting
// disabled endpoints.
func filterDisabled(plan *ExecutionPlan, disabled []string) *ExecutionPlan {
	blocked := make(map[string]bool, len(disabled))
	for _, id := range disabled {
		blocked[id] = true
	}
	kept := make([]PlannedCall, 0, len(plan.EndpointsToCall))
	for _, c := range plan.EndpointsToCall {
		if !blocked[c.EndpointID] {
			kept = append(kept, c)
		}
	}
	filtered := *plan
	filtered.EndpointsToCall = kept
	return &filtered
}

// failedEndpointIDs collects the endpoints that failed (aborted calls are
// not failures).
func failedEndpointIDs(results []EndpointResult) []string {
	var ids []string
	for _, r := range results {
		if !r.Success && !r.Aborted {
			ids = append(ids, r.EndpointID)
		}
	}
	return ids
}

// executionCounters derives cycle stats deltas from a result set.
func executionCounters(results []EndpointResult) (calls, failures, retries, aborted, shortCircuits int64) {
	for _, r := range results {
		calls++
		if r.Attempts > 1 {
			retries += int64(r.Attempts - 1)
		}
		switch {
		case r.Success:
		case r.Aborted:
			aborted++
		case r.Error == "circuit_open":
			shortCircuits++
			failures++
		default:
			failures++
		}
	}
	return
}
