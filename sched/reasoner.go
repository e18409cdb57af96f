package sched

import "context"

// RepairOutcome reports the malformed-response accounting for one
// successful reasoner call. When the first response was malformed and a
// repair was attempted, Attempted is true; Succeeded is true iff the
// repaired response passed schema and semantic validation. Category names
// the original failure.
type RepairOutcome struct {
	Attempted bool
	Succeeded bool
	Category  ReasonerFailureCategory
}

// PlanResult is the outcome of a successful planning call.
type PlanResult struct {
	Plan   ExecutionPlan
	Usage  TokenUsage
	Repair RepairOutcome
}

// ScheduleResult is the outcome of a successful scheduling call.
type ScheduleResult struct {
	Decision ScheduleDecision
	Usage    TokenUsage
	Repair   RepairOutcome
}

// Reasoner produces execution plans and schedule decisions for jobs.
//
// Implementations validate the reasoning model's structured output against
// the plan/schedule schemas and semantic rules, and may attempt a single
// repair of a malformed response. Terminal failures are reported as
// *MalformedResponseError. The reference implementation is
// sched/reason.Gateway.
type Reasoner interface {
	// Plan asks the reasoner which endpoints to call and how.
	Plan(ctx context.Context, jc *JobContext) (PlanResult, error)

	// Schedule asks the reasoner when the job should run next, given the
	// endpoint results of the current cycle.
	Schedule(ctx context.Context, jc *JobContext, results []EndpointResult) (ScheduleResult, error)
}
