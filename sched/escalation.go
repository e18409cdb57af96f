package sched

import "sort"

// EscalationLevel grades a job's aggregate endpoint failure ratio.
type EscalationLevel string

// Escalation levels, ordered none < warn < critical.
const (
	EscalationNone     EscalationLevel = "none"
	EscalationWarn     EscalationLevel = "warn"
	EscalationCritical EscalationLevel = "critical"
)

// RecoveryAction names the remediation an escalation level prescribes.
type RecoveryAction string

// Recovery actions.
const (
	RecoveryNone              RecoveryAction = "NONE"
	RecoveryBackoffOnly       RecoveryAction = "BACKOFF_ONLY"
	RecoveryDisableEndpoint   RecoveryAction = "DISABLE_ENDPOINT"
	RecoveryReduceConcurrency RecoveryAction = "REDUCE_CONCURRENCY"
)

// EscalationInput is the evidence an escalation decision is computed from.
type EscalationInput struct {
	Failures          int
	Attempted         int
	Config            EscalationConfig
	PreviousLevel     EscalationLevel
	FailedEndpointIDs []string
	ExistingDisabled  []string
}

// EscalationResult is the verdict: the level, the recovery action, and the
// (possibly extended) disabled-endpoint set.
type EscalationResult struct {
	Level             EscalationLevel
	RecoveryAction    RecoveryAction
	DisabledEndpoints []string
	LevelChanged      bool
}

// ComputeEscalation turns a per-job failure ratio into an escalation level
// and recovery action. It is a pure function: equal inputs produce equal
// outputs and nothing is mutated.
//
// The ratio is failures/max(attempted,1). Critical when the ratio reaches
// CriticalFailureRatio, warn when it reaches WarnFailureRatio, none
// otherwise. Critical escalations disable the union of the already
// disabled endpoints and the endpoints that failed this cycle.
func ComputeEscalation(in EscalationInput) EscalationResult {
	attempted := in.Attempted
	if attempted < 1 {
		attempted = 1
	}
	ratio := float64(in.Failures) / float64(attempted)

	level := EscalationNone
	switch {
	case ratio >= in.Config.CriticalFailureRatio:
		level = EscalationCritical
	case ratio >= in.Config.WarnFailureRatio:
		level = EscalationWarn
	}

	res := EscalationResult{Level: level}
	switch level {
	case EscalationNone:
		res.RecoveryAction = RecoveryNone
	case EscalationWarn:
		res.RecoveryAction = RecoveryBackoffOnly
	case EscalationCritical:
		res.RecoveryAction = RecoveryDisableEndpoint
		res.DisabledEndpoints = unionSorted(in.ExistingDisabled, in.FailedEndpointIDs)
	}

	// A change is reported when leaving none or moving between non-none
	// levels; settling back to none is not a change event.
	prev := in.PreviousLevel
	if prev == "" {
		prev = EscalationNone
	}
	res.LevelChanged = level != prev && level != EscalationNone
	return res
}

// unionSorted merges two id sets into a sorted, deduplicated slice.
func unionSorted(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	for _, s := range b {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
