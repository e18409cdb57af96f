package reason

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/dshills/schedflow/sched"
)

func gatewayConfig() sched.AgentConfig {
	return sched.AgentConfig{
		Model:                    "gpt-4o-mini",
		Temperature:              0.2,
		MaxRetries:               2,
		ValidateSemantics:        true,
		SemanticStrict:           false,
		RepairMalformedResponses: true,
		MaxRepairAttempts:        1,
		PromptOptimization: sched.PromptOptimizationConfig{
			Enabled:                 true,
			MaxMessages:             20,
			MinRecentMessages:       5,
			MaxEndpointUsageEntries: 10,
		},
	}
}

func gatewayJobContext(now time.Time) *sched.JobContext {
	return &sched.JobContext{
		Job: sched.Job{ID: "job-1", Definition: "poll the inventory feed"},
		Endpoints: []sched.Endpoint{
			{ID: "ep-1", JobID: "job-1", Method: "GET", URL: "https://example.com/feed"},
		},
		Exec: sched.ExecutionContext{CurrentTime: now, SystemEnvironment: sched.Production},
	}
}

const validPlanJSON = `{"endpointsToCall":[{"endpointId":"ep-1","priority":1,"critical":false}],"executionStrategy":"sequential","reasoning":"single feed endpoint","confidence":0.9}`

func validScheduleJSON(nextRunAt time.Time) string {
	return fmt.Sprintf(`{"nextRunAt":%q,"reasoning":"hourly cadence","confidence":0.85}`, nextRunAt.Format(time.RFC3339))
}

func TestGatewayPlanHappyPath(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	provider := NewMockProvider(validPlanJSON)
	g := NewGateway(provider, gatewayConfig())

	res, err := g.Plan(context.Background(), gatewayJobContext(now))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if res.Plan.ExecutionStrategy != sched.Sequential || len(res.Plan.EndpointsToCall) != 1 {
		t.Errorf("plan = %+v", res.Plan)
	}
	if res.Repair.Attempted || res.Repair.Category != "" {
		t.Errorf("repair = %+v, want none for a valid first response", res.Repair)
	}
	if res.Usage.Total != 150 {
		t.Errorf("usage total = %d, want 150", res.Usage.Total)
	}
	if provider.Calls() != 1 {
		t.Errorf("provider calls = %d, want 1", provider.Calls())
	}

	reqs := provider.Requests()
	if !strings.Contains(reqs[0].Prompt, "poll the inventory feed") {
		t.Error("prompt does not carry the job definition")
	}
	if !strings.Contains(reqs[0].Prompt, "ep-1") {
		t.Error("prompt does not carry the endpoint inventory")
	}
	if reqs[0].Temperature != 0.2 {
		t.Errorf("temperature = %v, want configured 0.2", reqs[0].Temperature)
	}
}

func TestGatewayPlanRepairsMalformedResponse(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	provider := NewMockProvider("this is not json", validPlanJSON)
	g := NewGateway(provider, gatewayConfig())

	res, err := g.Plan(context.Background(), gatewayJobContext(now))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if !res.Repair.Attempted || !res.Repair.Succeeded {
		t.Errorf("repair = %+v, want attempted and succeeded", res.Repair)
	}
	if res.Repair.Category != sched.SchemaParseError {
		t.Errorf("category = %v, want schema parse error", res.Repair.Category)
	}
	if res.Plan.ExecutionStrategy != sched.Sequential {
		t.Errorf("plan = %+v, want the repaired plan", res.Plan)
	}
	// Both calls' usage is accounted.
	if res.Usage.Total != 300 {
		t.Errorf("usage total = %d, want 300", res.Usage.Total)
	}

	reqs := provider.Requests()
	if len(reqs) != 2 {
		t.Fatalf("provider calls = %d, want 2", len(reqs))
	}
	if reqs[1].Temperature != 0 {
		t.Errorf("repair temperature = %v, want 0", reqs[1].Temperature)
	}
	// The user prompt is resent unchanged; the corrective instruction rides
	// on the system prompt.
	if reqs[1].Prompt != reqs[0].Prompt {
		t.Error("repair call changed the user prompt")
	}
	if !strings.Contains(reqs[1].System, "parse") && !strings.Contains(reqs[1].System, "json") {
		t.Error("repair system prompt does not describe the validation failure")
	}
	if !strings.Contains(reqs[1].System, reqs[0].System) {
		t.Error("repair system prompt does not retain the base instructions")
	}
}

func TestGatewayPlanRepairFailsTerminally(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	provider := NewMockProvider("still not json", "also not json")
	g := NewGateway(provider, gatewayConfig())

	_, err := g.Plan(context.Background(), gatewayJobContext(now))
	var mre *sched.MalformedResponseError
	if !errors.As(err, &mre) {
		t.Fatalf("error = %v, want *MalformedResponseError", err)
	}
	if mre.Phase != sched.PhasePlan || mre.Category != sched.SchemaParseError {
		t.Errorf("error = %+v", mre)
	}
	if mre.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2 (original plus one repair)", mre.Attempts)
	}
}

func TestGatewayPlanNonRepairableSkipsRepair(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	bad := `{"endpointsToCall":[],"executionStrategy":"turbo","reasoning":"","confidence":0.5}`
	provider := NewMockProvider(bad, validPlanJSON)
	g := NewGateway(provider, gatewayConfig())

	_, err := g.Plan(context.Background(), gatewayJobContext(now))
	var mre *sched.MalformedResponseError
	if !errors.As(err, &mre) {
		t.Fatalf("error = %v, want *MalformedResponseError", err)
	}
	if mre.Category != sched.InvalidEnumValue {
		t.Errorf("category = %v, want invalid enum", mre.Category)
	}
	if provider.Calls() != 1 {
		t.Errorf("provider calls = %d, want 1 (invalid enum is not repairable)", provider.Calls())
	}
}

func TestGatewayPlanRetriesProviderError(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	provider := NewMockProvider(validPlanJSON)
	provider.QueueError(errors.New("rate limited"))
	g := NewGateway(provider, gatewayConfig()) // MaxRetries 2

	res, err := g.Plan(context.Background(), gatewayJobContext(now))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if res.Plan.ExecutionStrategy != sched.Sequential {
		t.Errorf("plan = %+v, want the plan from the retried call", res.Plan)
	}
	if provider.Calls() != 2 {
		t.Errorf("provider calls = %d, want 2 (one failure, one retry)", provider.Calls())
	}
}

func TestGatewayPlanProviderErrorExhaustsRetries(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	provider := NewMockProvider(validPlanJSON)
	provider.QueueError(errors.New("rate limited"))
	provider.QueueError(errors.New("rate limited"))
	provider.QueueError(errors.New("rate limited"))
	g := NewGateway(provider, gatewayConfig()) // MaxRetries 2

	_, err := g.Plan(context.Background(), gatewayJobContext(now))
	var mre *sched.MalformedResponseError
	if !errors.As(err, &mre) {
		t.Fatalf("error = %v, want *MalformedResponseError", err)
	}
	if mre.Category != sched.ReasonerUnknown {
		t.Errorf("category = %v, want unknown for transport errors", mre.Category)
	}
	if mre.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3 (original plus two retries)", mre.Attempts)
	}
	if provider.Calls() != 3 {
		t.Errorf("provider calls = %d, want 3", provider.Calls())
	}
}

func TestGatewayScheduleHappyPath(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	next := now.Add(time.Hour)
	provider := NewMockProvider(validScheduleJSON(next))
	g := NewGateway(provider, gatewayConfig())

	results := []sched.EndpointResult{
		{EndpointID: "ep-1", Success: true, StatusCode: 200, Attempts: 1},
	}
	res, err := g.Schedule(context.Background(), gatewayJobContext(now), results)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if !res.Decision.NextRunAt.Equal(next) {
		t.Errorf("NextRunAt = %v, want %v", res.Decision.NextRunAt, next)
	}

	reqs := provider.Requests()
	if !strings.Contains(reqs[0].Prompt, "ep-1") {
		t.Error("schedule prompt does not include the cycle's endpoint results")
	}
}

func TestGatewayScheduleSalvagesPastTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	provider := NewMockProvider(validScheduleJSON(past))
	g := NewGateway(provider, gatewayConfig()) // SemanticStrict false

	res, err := g.Schedule(context.Background(), gatewayJobContext(now), nil)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if !res.Decision.NextRunAt.Equal(now.Add(5 * time.Minute)) {
		t.Errorf("NextRunAt = %v, want now+5m salvage", res.Decision.NextRunAt)
	}
	if !strings.Contains(res.Decision.Reasoning, "[salvaged:") {
		t.Errorf("Reasoning = %q, want salvage note", res.Decision.Reasoning)
	}
	if provider.Calls() != 1 {
		t.Errorf("provider calls = %d, want 1 (salvage spends no repair call)", provider.Calls())
	}
	// The malformed category is still reported for accounting.
	if res.Repair.Category != sched.SemanticViolation {
		t.Errorf("category = %v, want semantic violation", res.Repair.Category)
	}
}

func TestGatewayScheduleStrictModeRepairsInstead(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg := gatewayConfig()
	cfg.SemanticStrict = true

	provider := NewMockProvider(validScheduleJSON(now.Add(-time.Hour)), validScheduleJSON(now.Add(time.Hour)))
	g := NewGateway(provider, cfg)

	res, err := g.Schedule(context.Background(), gatewayJobContext(now), nil)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if !res.Repair.Attempted || !res.Repair.Succeeded {
		t.Errorf("repair = %+v, want attempted and succeeded under strict mode", res.Repair)
	}
	if provider.Calls() != 2 {
		t.Errorf("provider calls = %d, want 2", provider.Calls())
	}
	if !res.Decision.NextRunAt.After(now) {
		t.Errorf("NextRunAt = %v, want the repaired future time", res.Decision.NextRunAt)
	}
}

func TestGatewayScheduleEmptyResponseNotRepaired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	provider := NewMockProvider("", validScheduleJSON(now.Add(time.Hour)))
	g := NewGateway(provider, gatewayConfig())

	_, err := g.Schedule(context.Background(), gatewayJobContext(now), nil)
	var mre *sched.MalformedResponseError
	if !errors.As(err, &mre) {
		t.Fatalf("error = %v, want *MalformedResponseError", err)
	}
	if mre.Category != sched.EmptyResponse {
		t.Errorf("category = %v, want empty response", mre.Category)
	}
	if provider.Calls() != 1 {
		t.Errorf("provider calls = %d, want 1 (empty response is not repairable)", provider.Calls())
	}
}

func TestGatewayOptimizeContextDropsOldHistory(t *testing.T) {
	cfg := gatewayConfig()
	cfg.PromptOptimization.MaxMessages = 6
	cfg.PromptOptimization.MinRecentMessages = 3
	cfg.PromptOptimization.MaxEndpointUsageEntries = 2
	g := NewGateway(NewMockProvider(validPlanJSON), cfg)

	jc := gatewayJobContext(time.Now())
	jc.Messages = append(jc.Messages, sched.Message{Role: "system", Content: "you schedule jobs"})
	for i := 0; i < 10; i++ {
		jc.Messages = append(jc.Messages, sched.Message{Role: "user", Content: fmt.Sprintf("note %d", i)})
	}
	for i := 0; i < 5; i++ {
		jc.Usage = append(jc.Usage, sched.EndpointUsage{EndpointID: fmt.Sprintf("ep-%d", i)})
	}

	oc := g.optimizeContext(jc)

	if len(oc.Messages) != 6 {
		t.Fatalf("messages = %d, want capped at 6", len(oc.Messages))
	}
	if oc.Messages[0].Role != "system" {
		t.Error("system message was dropped")
	}
	// The most recent non-system messages survive.
	if oc.Messages[len(oc.Messages)-1].Content != "note 9" {
		t.Errorf("last message = %q, want the newest", oc.Messages[len(oc.Messages)-1].Content)
	}
	if len(oc.Usage) != 2 || oc.Usage[0].EndpointID != "ep-3" {
		t.Errorf("usage = %+v, want the two most recent entries", oc.Usage)
	}

	// The original context is untouched.
	if len(jc.Messages) != 11 || len(jc.Usage) != 5 {
		t.Error("optimizeContext mutated its input")
	}

	t.Run("disabled passes through", func(t *testing.T) {
		cfg := gatewayConfig()
		cfg.PromptOptimization.Enabled = false
		g := NewGateway(NewMockProvider(validPlanJSON), cfg)
		if oc := g.optimizeContext(jc); len(oc.Messages) != 11 {
			t.Errorf("messages = %d, want unchanged", len(oc.Messages))
		}
	})
}

func TestGatewayUsesCycleTimeForSemanticChecks(t *testing.T) {
	// The cycle's stamped CurrentTime, not the wall clock, anchors the
	// "nextRunAt must be in the future" rule.
	cycleTime := time.Now().Add(-24 * time.Hour)
	next := cycleTime.Add(time.Hour) // future relative to the cycle, past relative to now

	provider := NewMockProvider(validScheduleJSON(next))
	g := NewGateway(provider, gatewayConfig())

	res, err := g.Schedule(context.Background(), gatewayJobContext(cycleTime), nil)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if !res.Decision.NextRunAt.Equal(next.Truncate(time.Second)) {
		t.Errorf("NextRunAt = %v, want %v accepted", res.Decision.NextRunAt, next)
	}
}
