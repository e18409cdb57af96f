package sched

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEngineNotStopped is returned by Start when the engine is already
// running or in an error state.
var ErrEngineNotStopped = errors.New("engine is not stopped")

// ErrCycleInProgress is returned by ProcessCycle when another cycle is
// already executing. The periodic tick drops overlapping invocations
// instead of queueing them.
var ErrCycleInProgress = errors.New("a processing cycle is already in progress")

// ErrInvalidPlan indicates an execution plan that failed pre-execution
// validation (unknown dependency ids, invalid strategy, and similar).
var ErrInvalidPlan = errors.New("invalid execution plan")

// EngineError represents an error from engine lifecycle or orchestration
// operations.
type EngineError struct {
	Message string
	Code    string
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// StoreError wraps a persistence failure. It is terminal for the step that
// raised it: the job processor records the error, unlocks, and moves on.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return "store " + e.Op + ": " + e.Err.Error()
}

func (e *StoreError) Unwrap() error { return e.Err }

// ReasonerPhase identifies which reasoner call a failure belongs to.
type ReasonerPhase string

// Reasoner call phases.
const (
	PhasePlan     ReasonerPhase = "plan"
	PhaseSchedule ReasonerPhase = "schedule"
)

// MalformedResponseError is the terminal failure of a reasoner call whose
// output did not satisfy the schema or the semantic rules and, when repair
// is enabled, whose single repair attempt also failed.
type MalformedResponseError struct {
	Phase    ReasonerPhase
	Category ReasonerFailureCategory
	Attempts int
	Repaired bool
	Err      error
}

func (e *MalformedResponseError) Error() string {
	msg := fmt.Sprintf("malformed reasoner response (phase=%s, category=%s, attempts=%d)",
		e.Phase, e.Category, e.Attempts)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// CircularDependencyError is the terminal failure of a mixed-strategy
// execution whose dependency graph left endpoints that can never become
// runnable.
type CircularDependencyError struct {
	PendingIDs []string
}

func (e *CircularDependencyError) Error() string {
	return "circular dependency among endpoints: " + strings.Join(e.PendingIDs, ", ")
}
