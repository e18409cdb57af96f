package sched

import (
	"reflect"
	"testing"
)

func TestComputeEscalation(t *testing.T) {
	cfg := EscalationConfig{WarnFailureRatio: 0.3, CriticalFailureRatio: 0.7}

	tests := []struct {
		name string
		in   EscalationInput
		want EscalationResult
	}{
		{
			name: "all succeeded",
			in:   EscalationInput{Failures: 0, Attempted: 4, Config: cfg},
			want: EscalationResult{Level: EscalationNone, RecoveryAction: RecoveryNone},
		},
		{
			name: "ratio at warn threshold",
			in:   EscalationInput{Failures: 3, Attempted: 10, Config: cfg},
			want: EscalationResult{Level: EscalationWarn, RecoveryAction: RecoveryBackoffOnly, LevelChanged: true},
		},
		{
			name: "ratio at critical threshold disables failed endpoints",
			in: EscalationInput{
				Failures: 7, Attempted: 10, Config: cfg,
				FailedEndpointIDs: []string{"ep-b", "ep-a"},
			},
			want: EscalationResult{
				Level:             EscalationCritical,
				RecoveryAction:    RecoveryDisableEndpoint,
				DisabledEndpoints: []string{"ep-a", "ep-b"},
				LevelChanged:      true,
			},
		},
		{
			name: "critical unions with already disabled endpoints",
			in: EscalationInput{
				Failures: 2, Attempted: 2, Config: cfg,
				PreviousLevel:     EscalationWarn,
				FailedEndpointIDs: []string{"ep-c", "ep-a"},
				ExistingDisabled:  []string{"ep-a", "ep-b"},
			},
			want: EscalationResult{
				Level:             EscalationCritical,
				RecoveryAction:    RecoveryDisableEndpoint,
				DisabledEndpoints: []string{"ep-a", "ep-b", "ep-c"},
				LevelChanged:      true,
			},
		},
		{
			name: "same level is not a change",
			in: EscalationInput{
				Failures: 4, Attempted: 10, Config: cfg,
				PreviousLevel: EscalationWarn,
			},
			want: EscalationResult{Level: EscalationWarn, RecoveryAction: RecoveryBackoffOnly},
		},
		{
			name: "recovering to none is not a change event",
			in: EscalationInput{
				Failures: 0, Attempted: 5, Config: cfg,
				PreviousLevel: EscalationCritical,
			},
			want: EscalationResult{Level: EscalationNone, RecoveryAction: RecoveryNone},
		},
		{
			name: "zero attempted does not divide by zero",
			in:   EscalationInput{Failures: 0, Attempted: 0, Config: cfg},
			want: EscalationResult{Level: EscalationNone, RecoveryAction: RecoveryNone},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeEscalation(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ComputeEscalation() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestComputeEscalationIsPure(t *testing.T) {
	existing := []string{"ep-b", "ep-a"}
	in := EscalationInput{
		Failures: 3, Attempted: 3,
		Config:            EscalationConfig{WarnFailureRatio: 0.3, CriticalFailureRatio: 0.7},
		FailedEndpointIDs: []string{"ep-c"},
		ExistingDisabled:  existing,
	}

	first := ComputeEscalation(in)
	second := ComputeEscalation(in)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("repeated calls differ: %+v vs %+v", first, second)
	}
	if !reflect.DeepEqual(existing, []string{"ep-b", "ep-a"}) {
		t.Errorf("input slice was mutated: %v", existing)
	}
}
