package reason

import (
	"strings"
	"testing"
	"time"

	"github.com/dshills/schedflow/sched"
)

func TestParsePlan(t *testing.T) {
	t.Run("plain JSON", func(t *testing.T) {
		plan, err := parsePlan(`{"endpointsToCall":[{"endpointId":"ep-1","priority":1}],"executionStrategy":"sequential","reasoning":"poll","confidence":0.9}`)
		if err != nil {
			t.Fatalf("parsePlan: %v", err)
		}
		if plan.ExecutionStrategy != sched.Sequential || len(plan.EndpointsToCall) != 1 {
			t.Errorf("plan = %+v", plan)
		}
	})

	t.Run("fenced JSON", func(t *testing.T) {
		content := "```json\n{\"endpointsToCall\":[],\"executionStrategy\":\"parallel\",\"reasoning\":\"idle\",\"confidence\":1}\n```"
		plan, err := parsePlan(content)
		if err != nil {
			t.Fatalf("parsePlan: %v", err)
		}
		if plan.ExecutionStrategy != sched.Parallel {
			t.Errorf("strategy = %v", plan.ExecutionStrategy)
		}
	})

	t.Run("empty content", func(t *testing.T) {
		_, err := parsePlan("   ")
		if err == nil || sched.ClassifyReasonerFailure(err) != sched.EmptyResponse {
			t.Errorf("error = %v, want empty-response category", err)
		}
	})

	t.Run("invalid JSON", func(t *testing.T) {
		_, err := parsePlan("definitely not json")
		if err == nil || sched.ClassifyReasonerFailure(err) != sched.SchemaParseError {
			t.Errorf("error = %v, want schema-parse category", err)
		}
	})
}

func TestValidatePlan(t *testing.T) {
	valid := sched.ExecutionPlan{
		EndpointsToCall:   []sched.PlannedCall{{EndpointID: "ep-1"}},
		ExecutionStrategy: sched.Sequential,
		Confidence:        0.8,
	}

	tests := []struct {
		name         string
		mutate       func(*sched.ExecutionPlan)
		wantCategory sched.ReasonerFailureCategory
	}{
		{"valid plan", func(p *sched.ExecutionPlan) {}, ""},
		{
			"missing strategy",
			func(p *sched.ExecutionPlan) { p.ExecutionStrategy = "" },
			sched.StructuralInconsistency,
		},
		{
			"unknown strategy",
			func(p *sched.ExecutionPlan) { p.ExecutionStrategy = "turbo" },
			sched.InvalidEnumValue,
		},
		{
			"empty endpoint id",
			func(p *sched.ExecutionPlan) { p.EndpointsToCall = []sched.PlannedCall{{}} },
			sched.StructuralInconsistency,
		},
		{
			"dangling dependency",
			func(p *sched.ExecutionPlan) {
				p.EndpointsToCall = []sched.PlannedCall{{EndpointID: "ep-1", DependsOn: []string{"ep-ghost"}}}
			},
			sched.StructuralInconsistency,
		},
		{
			"dependency cycle under mixed",
			func(p *sched.ExecutionPlan) {
				p.ExecutionStrategy = sched.Mixed
				p.EndpointsToCall = []sched.PlannedCall{
					{EndpointID: "ep-a", DependsOn: []string{"ep-b"}},
					{EndpointID: "ep-b", DependsOn: []string{"ep-a"}},
				}
			},
			sched.StructuralInconsistency,
		},
		{
			"confidence out of range",
			func(p *sched.ExecutionPlan) { p.Confidence = 1.5 },
			sched.SemanticViolation,
		},
		{
			"negative concurrency limit",
			func(p *sched.ExecutionPlan) { p.ConcurrencyLimit = -2 },
			sched.SemanticViolation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := valid
			plan.EndpointsToCall = append([]sched.PlannedCall(nil), valid.EndpointsToCall...)
			tt.mutate(&plan)

			err := validatePlan(plan, true)
			if tt.wantCategory == "" {
				if err != nil {
					t.Errorf("validatePlan: %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected validation error")
			}
			if got := sched.ClassifyReasonerFailure(err); got != tt.wantCategory {
				t.Errorf("category = %v, want %v (err: %v)", got, tt.wantCategory, err)
			}
		})
	}

	t.Run("semantic checks skipped when disabled", func(t *testing.T) {
		plan := valid
		plan.Confidence = 7
		if err := validatePlan(plan, false); err != nil {
			t.Errorf("validatePlan without semantics: %v", err)
		}
	})

	t.Run("cycle in dependencies allowed under non-mixed", func(t *testing.T) {
		// Sequential execution ignores dependsOn ordering, so the graph is
		// only checked for DAG-ness under mixed.
		plan := sched.ExecutionPlan{
			ExecutionStrategy: sched.Sequential,
			EndpointsToCall: []sched.PlannedCall{
				{EndpointID: "ep-a", DependsOn: []string{"ep-b"}},
				{EndpointID: "ep-b", DependsOn: []string{"ep-a"}},
			},
			Confidence: 0.5,
		}
		if err := validatePlan(plan, true); err != nil {
			t.Errorf("validatePlan: %v", err)
		}
	})
}

func TestValidateSchedule(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)

	t.Run("valid decision", func(t *testing.T) {
		d := sched.ScheduleDecision{NextRunAt: future, Confidence: 0.9}
		if err := validateSchedule(d, now, true); err != nil {
			t.Errorf("validateSchedule: %v", err)
		}
	})

	t.Run("past nextRunAt is a semantic violation", func(t *testing.T) {
		d := sched.ScheduleDecision{NextRunAt: now.Add(-time.Minute), Confidence: 0.9}
		err := validateSchedule(d, now, true)
		if err == nil || sched.ClassifyReasonerFailure(err) != sched.SemanticViolation {
			t.Errorf("error = %v, want semantic violation", err)
		}
	})

	t.Run("missing nextRunAt", func(t *testing.T) {
		err := validateSchedule(sched.ScheduleDecision{Confidence: 0.5}, now, true)
		if err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("bad action priority enum", func(t *testing.T) {
		d := sched.ScheduleDecision{
			NextRunAt:  future,
			Confidence: 0.9,
			RecommendedActions: []sched.RecommendedAction{
				{Type: "notify", Priority: "urgent"},
			},
		}
		err := validateSchedule(d, now, true)
		if err == nil || sched.ClassifyReasonerFailure(err) != sched.InvalidEnumValue {
			t.Errorf("error = %v, want invalid enum", err)
		}
	})

	t.Run("semantics off still requires nextRunAt", func(t *testing.T) {
		if err := validateSchedule(sched.ScheduleDecision{}, now, false); err == nil {
			t.Error("expected error for missing nextRunAt")
		}
		d := sched.ScheduleDecision{NextRunAt: now.Add(-time.Hour), Confidence: 9}
		if err := validateSchedule(d, now, false); err != nil {
			t.Errorf("semantic rules applied despite being disabled: %v", err)
		}
	})
}

func TestSalvageSchedule(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("past nextRunAt deferred", func(t *testing.T) {
		d := sched.ScheduleDecision{NextRunAt: now.Add(-time.Hour), Confidence: 0.8, Reasoning: "run again soon"}
		got, changed := salvageSchedule(d, now)
		if !changed {
			t.Fatal("expected salvage")
		}
		if !got.NextRunAt.Equal(now.Add(5 * time.Minute)) {
			t.Errorf("NextRunAt = %v, want now+5m", got.NextRunAt)
		}
		if !strings.Contains(got.Reasoning, "[salvaged:") || !strings.HasPrefix(got.Reasoning, "run again soon") {
			t.Errorf("Reasoning = %q, want original text plus salvage note", got.Reasoning)
		}
	})

	t.Run("confidence clamped", func(t *testing.T) {
		d := sched.ScheduleDecision{NextRunAt: now.Add(time.Hour), Confidence: 1.7}
		got, changed := salvageSchedule(d, now)
		if !changed || got.Confidence != 1 {
			t.Errorf("Confidence = %v changed=%v, want clamped to 1", got.Confidence, changed)
		}

		d.Confidence = -0.3
		got, _ = salvageSchedule(d, now)
		if got.Confidence != 0 {
			t.Errorf("Confidence = %v, want clamped to 0", got.Confidence)
		}
	})

	t.Run("valid decision untouched", func(t *testing.T) {
		d := sched.ScheduleDecision{NextRunAt: now.Add(time.Hour), Confidence: 0.9, Reasoning: "fine"}
		got, changed := salvageSchedule(d, now)
		if changed || got.Reasoning != "fine" {
			t.Errorf("salvage changed a valid decision: %+v", got)
		}
	})
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"{\"a\":1}", "{\"a\":1}"},
		{"```json\n{\"a\":1}\n```", "{\"a\":1}"},
		{"```\n{\"a\":1}\n```", "{\"a\":1}"},
		{"  {\"a\":1}  ", "{\"a\":1}"},
	}
	for _, tt := range tests {
		if got := stripFences(tt.in); got != tt.want {
			t.Errorf("stripFences(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
