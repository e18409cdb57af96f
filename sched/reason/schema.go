package reason

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/schedflow/sched"
)

// stripFences removes markdown code fences some models wrap around JSON.
func stripFences(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}

// parsePlan decodes a provider response into an ExecutionPlan. Error
// messages are worded so sched.ClassifyReasonerFailure maps them to the
// right category.
func parsePlan(content string) (sched.ExecutionPlan, error) {
	content = stripFences(content)
	if content == "" {
		return sched.ExecutionPlan{}, errors.New("empty response from provider")
	}
	var plan sched.ExecutionPlan
	if err := json.Unmarshal([]byte(content), &plan); err != nil {
		return sched.ExecutionPlan{}, fmt.Errorf("failed to parse plan JSON: %w", err)
	}
	return plan, nil
}

// validatePlan checks schema-level enums and structure, then semantic rules
// when enabled.
func validatePlan(plan sched.ExecutionPlan, validateSemantics bool) error {
	switch plan.ExecutionStrategy {
	case sched.Sequential, sched.Parallel, sched.Mixed:
	case "":
		return errors.New("structural inconsistency: executionStrategy is missing")
	default:
		return fmt.Errorf("invalid enum value for executionStrategy: %q", plan.ExecutionStrategy)
	}

	inPlan := make(map[string]bool, len(plan.EndpointsToCall))
	for _, c := range plan.EndpointsToCall {
		if c.EndpointID == "" {
			return errors.New("structural inconsistency: endpointsToCall entry has empty endpointId")
		}
		inPlan[c.EndpointID] = true
	}
	for _, c := range plan.EndpointsToCall {
		for _, dep := range c.DependsOn {
			if !inPlan[dep] {
				return fmt.Errorf("structural inconsistency: dependsOn references %q which is not in the plan", dep)
			}
		}
	}
	if plan.ExecutionStrategy == sched.Mixed {
		if cyclic := dependencyCycle(plan.EndpointsToCall); len(cyclic) > 0 {
			return fmt.Errorf("structural inconsistency: dependency cycle among %s", strings.Join(cyclic, ", "))
		}
	}

	if !validateSemantics {
		return nil
	}
	if plan.Confidence < 0 || plan.Confidence > 1 {
		return fmt.Errorf("semantic violation: confidence %v outside [0,1]", plan.Confidence)
	}
	if plan.ConcurrencyLimit < 0 {
		return fmt.Errorf("semantic violation: concurrencyLimit %d is negative", plan.ConcurrencyLimit)
	}
	return nil
}

// dependencyCycle runs Kahn's algorithm over the plan's dependency graph
// and returns the ids left unresolved, empty when the graph is a DAG.
func dependencyCycle(calls []sched.PlannedCall) []string {
	indegree := make(map[string]int, len(calls))
	dependents := make(map[string][]string)
	for _, c := range calls {
		if _, ok := indegree[c.EndpointID]; !ok {
			indegree[c.EndpointID] = 0
		}
		for _, dep := range c.DependsOn {
			indegree[c.EndpointID]++
			dependents[dep] = append(dependents[dep], c.EndpointID)
		}
	}

	var queue []string
	for id, d := range indegree {
		if d == 0 {
			queue = append(queue, id)
		}
	}
	resolved := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		resolved++
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if resolved == len(indegree) {
		return nil
	}
	var cyclic []string
	for id, d := range indegree {
		if d > 0 {
			cyclic = append(cyclic, id)
		}
	}
	return cyclic
}

// parseSchedule decodes a provider response into a ScheduleDecision.
func parseSchedule(content string) (sched.ScheduleDecision, error) {
	content = stripFences(content)
	if content == "" {
		return sched.ScheduleDecision{}, errors.New("empty response from provider")
	}
	var decision sched.ScheduleDecision
	if err := json.Unmarshal([]byte(content), &decision); err != nil {
		return sched.ScheduleDecision{}, fmt.Errorf("failed to parse schedule JSON: %w", err)
	}
	return decision, nil
}

// validateSchedule checks enums and, when enabled, semantic rules against
// the current time.
func validateSchedule(decision sched.ScheduleDecision, now time.Time, validateSemantics bool) error {
	for _, a := range decision.RecommendedActions {
		switch a.Priority {
		case sched.PriorityLow, sched.PriorityMedium, sched.PriorityHigh:
		default:
			return fmt.Errorf("invalid enum value for recommendedActions.priority: %q", a.Priority)
		}
	}

	if !validateSemantics {
		if decision.NextRunAt.IsZero() {
			return errors.New("structural inconsistency: nextRunAt is missing")
		}
		return nil
	}
	if decision.NextRunAt.IsZero() {
		return errors.New("semantic violation: nextRunAt is missing")
	}
	if !decision.NextRunAt.After(now) {
		return fmt.Errorf("semantic violation: nextRunAt %s is not in the future", decision.NextRunAt.Format(time.RFC3339))
	}
	if decision.Confidence < 0 || decision.Confidence > 1 {
		return fmt.Errorf("semantic violation: confidence %v outside [0,1]", decision.Confidence)
	}
	return nil
}

// salvageSchedule repairs a semantically invalid schedule decision in place
// when strict mode is off: confidence is clamped into [0,1] and a missing
// or past nextRunAt is pushed out by a conservative default. Warnings are
// appended to the decision's reasoning.
func salvageSchedule(decision sched.ScheduleDecision, now time.Time) (sched.ScheduleDecision, bool) {
	const fallbackDelay = 5 * time.Minute

	var warnings []string
	if decision.NextRunAt.IsZero() || !decision.NextRunAt.After(now) {
		decision.NextRunAt = now.Add(fallbackDelay)
		warnings = append(warnings, "nextRunAt was missing or in the past; deferred by 5m")
	}
	if decision.Confidence < 0 {
		decision.Confidence = 0
		warnings = append(warnings, "confidence clamped to 0")
	}
	if decision.Confidence > 1 {
		decision.Confidence = 1
		warnings = append(warnings, "confidence clamped to 1")
	}
	if len(warnings) == 0 {
		return decision, false
	}
	if decision.Reasoning != "" {
		decision.Reasoning += " "
	}
	decision.Reasoning += "[salvaged: " + strings.Join(warnings, "; ") + "]"
	return decision, true
}
