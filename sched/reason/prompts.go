package reason

import (
	"fmt"
	"strings"
	"time"

	"github.com/dshills/schedflow/sched"
)

const planSystemPrompt = `You are the planning component of an adaptive job scheduler.
Given a job definition, its available HTTP endpoints, recent conversation
history, and recent endpoint outcomes, decide which endpoints to call now
and how.

Respond ONLY with a JSON object matching this schema exactly:
{
  "endpointsToCall": [
    {
      "endpointId": "<id of an endpoint listed below>",
      "parameters": { },
      "headers": { },
      "priority": 1,
      "dependsOn": ["<endpointId>"],
      "critical": false
    }
  ],
  "executionStrategy": "sequential" | "parallel" | "mixed",
  "concurrencyLimit": 4,
  "preliminaryNextRunAt": "2025-01-01T00:00:00Z",
  "reasoning": "why these calls, in one or two sentences",
  "confidence": 0.9
}

Rules:
- endpointId values must come from the endpoint list.
- dependsOn ids must reference entries of endpointsToCall.
- Use "mixed" only when calls genuinely depend on each other.
- confidence is a float in [0,1].
No markdown, no explanation, just the JSON object.`

const scheduleSystemPrompt = `You are the scheduling component of an adaptive job scheduler.
Given a job definition and the outcomes of the endpoint calls just
executed, decide when the job should run next.

Respond ONLY with a JSON object matching this schema exactly:
{
  "nextRunAt": "2025-01-01T00:05:00Z",
  "reasoning": "why this time, in one or two sentences",
  "confidence": 0.8,
  "recommendedActions": [
    { "type": "string", "details": "string", "priority": "low" | "medium" | "high" }
  ]
}

Rules:
- nextRunAt must be an RFC 3339 timestamp strictly after the current time.
- Back off when calls are failing; run sooner when the job's definition
  demands freshness and calls are succeeding.
- confidence is a float in [0,1].
No markdown, no explanation, just the JSON object.`

// buildPlanPrompt renders the job context for the planning phase.
func buildPlanPrompt(jc *sched.JobContext) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Current time: %s\n", jc.Exec.CurrentTime.UTC().Format(time.RFC3339))
	fmt.Fprintf(&sb, "Environment: %s\n\n", jc.Exec.SystemEnvironment)
	fmt.Fprintf(&sb, "Job definition:\n%s\n\n", jc.Job.Definition)

	sb.WriteString("Available endpoints:\n")
	for _, ep := range jc.Endpoints {
		fmt.Fprintf(&sb, "- id=%s method=%s url=%s timeoutMs=%d\n", ep.ID, ep.Method, ep.URL, ep.TimeoutMs)
	}
	sb.WriteString("\n")

	writeHistory(&sb, jc)

	sb.WriteString("Produce the execution plan JSON now.")
	return sb.String()
}

// buildSchedulePrompt renders the job context and execution outcomes for
// the scheduling phase.
func buildSchedulePrompt(jc *sched.JobContext, results []sched.EndpointResult) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Current time: %s\n", jc.Exec.CurrentTime.UTC().Format(time.RFC3339))
	fmt.Fprintf(&sb, "Environment: %s\n\n", jc.Exec.SystemEnvironment)
	fmt.Fprintf(&sb, "Job definition:\n%s\n\n", jc.Job.Definition)

	sb.WriteString("Endpoint results from this run:\n")
	if len(results) == 0 {
		sb.WriteString("- none (the plan contained no endpoint calls)\n")
	}
	for _, r := range results {
		fmt.Fprintf(&sb, "- endpoint=%s success=%t status=%d attempts=%d", r.EndpointID, r.Success, r.StatusCode, r.Attempts)
		if r.Aborted {
			sb.WriteString(" aborted=true")
		}
		if r.Error != "" {
			fmt.Fprintf(&sb, " error=%q", r.Error)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	writeHistory(&sb, jc)

	sb.WriteString("Produce the schedule decision JSON now.")
	return sb.String()
}

// writeHistory appends recent messages and endpoint usage to the prompt.
func writeHistory(sb *strings.Builder, jc *sched.JobContext) {
	if len(jc.Messages) > 0 {
		sb.WriteString("Recent messages:\n")
		for _, m := range jc.Messages {
			fmt.Fprintf(sb, "- [%s] %s\n", m.Role, m.Content)
		}
		sb.WriteString("\n")
	}
	if len(jc.Usage) > 0 {
		sb.WriteString("Recent endpoint outcomes:\n")
		for _, u := range jc.Usage {
			fmt.Fprintf(sb, "- endpoint=%s success=%t status=%d durationMs=%d at=%s\n",
				u.EndpointID, u.Success, u.StatusCode, u.DurationMs, u.CalledAt.UTC().Format(time.RFC3339))
		}
		sb.WriteString("\n")
	}
}

// buildRepairSystem augments the phase's system prompt with the previous
// validation failure; the user prompt is resent unchanged so the model sees
// the same task with a corrective system instruction.
func buildRepairSystem(base string, cause error) string {
	var sb strings.Builder
	sb.WriteString(base)
	sb.WriteString("\n\nYour previous response was rejected because: ")
	sb.WriteString(cause.Error())
	sb.WriteString("\nProduce a corrected JSON object strictly matching the schema. JSON only.")
	return sb.String()
}
