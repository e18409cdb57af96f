package sched

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/schedflow/sched/emit"
)

// ProcessCycle runs one processing cycle: fetch due jobs, process them on a
// bounded worker pool, and return the aggregate result. Exactly one cycle
// runs at a time; a call arriving while another cycle is in progress
// returns ErrCycleInProgress without touching any state.
func (en *Engine) ProcessCycle(ctx context.Context) (ProcessingResult, error) {
	if !en.cycleMu.TryLock() {
		return ProcessingResult{}, ErrCycleInProgress
	}
	defer en.cycleMu.Unlock()

	cycleID := uuid.NewString()
	start := en.now()
	result := ProcessingResult{CycleID: cycleID, StartTime: start}

	if en.cfg.Scheduler.AutoUnlockStaleJobs {
		released, err := en.store.UnlockStaleJobs(ctx, start)
		switch {
		case err != nil:
			en.emitter.Emit(emit.Event{CycleID: cycleID, Msg: "stale_unlock_error",
				Meta: map[string]interface{}{"error": err.Error()}})
		case released > 0:
			en.emitter.Emit(emit.Event{CycleID: cycleID, Msg: "stale_locks_released",
				Meta: map[string]interface{}{"count": released}})
		}
	}

	jobIDs, err := en.store.FetchDueJobs(ctx, en.cfg.Scheduler.MaxBatchSize)
	if err != nil {
		result.EndTime = en.now()
		return result, &StoreError{Op: "fetchDueJobs", Err: err}
	}

	cancel := en.state.beginCycle(len(jobIDs), start)
	en.emitter.Emit(emit.Event{CycleID: cycleID, Msg: "cycle_start",
		Meta: map[string]interface{}{"jobs": len(jobIDs)}})

	outcomes := en.runWorkers(ctx, cycleID, jobIDs, cancel)

	var durations []time.Duration
	for _, o := range outcomes {
		if o.skipped {
			continue
		}
		result.JobsProcessed++
		durations = append(durations, o.duration)
		if o.success {
			result.SuccessfulJobs++
			if en.metrics != nil {
				en.metrics.RecordJob("success")
			}
		} else {
			result.FailedJobs++
			if en.metrics != nil {
				en.metrics.RecordJob("failed")
			}
			if o.jobErr != nil {
				result.Errors = append(result.Errors, *o.jobErr)
			}
		}
	}
	result.EndTime = en.now()

	en.state.endCycle(result, durations)
	en.hooks.executionProgress(ExecutionProgressUpdate{Total: len(jobIDs), Completed: len(jobIDs)})
	if en.metrics != nil {
		en.metrics.RecordCycle(result.EndTime.Sub(result.StartTime))
		en.metrics.UpdateCycleProgress(0, 0)
		en.metrics.UpdateInflightJobs(0)
	}
	en.emitter.Emit(emit.Event{CycleID: cycleID, Msg: "cycle_end",
		Meta: map[string]interface{}{
			"processed":   result.JobsProcessed,
			"successful":  result.SuccessfulJobs,
			"failed":      result.FailedJobs,
			"duration_ms": result.EndTime.Sub(result.StartTime).Milliseconds(),
		}})
	return result, nil
}

// runWorkers processes jobIDs on min(jobProcessingConcurrency, len(jobIDs))
// workers sharing a monotonically increasing index. Each finished job bumps
// the cycle progress and fires the progress hook.
func (en *Engine) runWorkers(ctx context.Context, cycleID string, jobIDs []string, cancel <-chan struct{}) []jobOutcome {
	if len(jobIDs) == 0 {
		return nil
	}

	workers := en.cfg.Scheduler.JobProcessingConcurrency
	if workers > len(jobIDs) {
		workers = len(jobIDs)
	}
	if en.metrics != nil {
		en.metrics.UpdateInflightJobs(workers)
	}

	outcomes := make([]jobOutcome, len(jobIDs))
	var next int64 = -1
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&next, 1))
				if i >= len(jobIDs) {
					return
				}
				outcomes[i] = en.processJob(ctx, cycleID, jobIDs[i], cancel)

				total, completed := en.state.jobCompleted(en.now())
				en.hooks.executionProgress(ExecutionProgressUpdate{
					JobID:     jobIDs[i],
					Total:     total,
					Completed: completed,
				})
				if en.metrics != nil {
					en.metrics.UpdateCycleProgress(total, completed)
				}
			}
		}()
	}
	wg.Wait()
	return outcomes
}
