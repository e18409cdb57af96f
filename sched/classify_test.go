package sched

import (
	"context"
	"errors"
	"testing"
)

type fakeNetError struct {
	timeout bool
}

func (e *fakeNetError) Error() string   { return "fake net error" }
func (e *fakeNetError) Timeout() bool   { return e.timeout }
func (e *fakeNetError) Temporary() bool { return true }

func TestClassifyEndpointFailure(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		aborted    bool
		want       Classification
	}{
		{
			name:    "aborted wins over everything",
			err:     errors.New("connection reset"),
			aborted: true,
			want:    Classification{Category: FailureAborted, Transient: false},
		},
		{
			name: "context deadline is a timeout",
			err:  context.DeadlineExceeded,
			want: Classification{Category: FailureTimeout, Transient: true},
		},
		{
			name: "net error timeout",
			err:  &fakeNetError{timeout: true},
			want: Classification{Category: FailureTimeout, Transient: true},
		},
		{
			name: "net error non-timeout",
			err:  &fakeNetError{},
			want: Classification{Category: FailureNetwork, Transient: true},
		},
		{
			name: "connection refused by message",
			err:  errors.New("dial tcp: connection refused"),
			want: Classification{Category: FailureNetwork, Transient: true},
		},
		{
			name: "unrecognized error is not transient",
			err:  errors.New("something odd"),
			want: Classification{Category: FailureUnknown, Transient: false},
		},
		{
			name:       "429 is its own transient category",
			statusCode: 429,
			want:       Classification{Category: FailureHTTP429, Transient: true},
		},
		{
			name:       "408 is a transient 4xx",
			statusCode: 408,
			want:       Classification{Category: FailureHTTP4xx, Transient: true},
		},
		{
			name:       "404 is a permanent 4xx",
			statusCode: 404,
			want:       Classification{Category: FailureHTTP4xx, Transient: false},
		},
		{
			name:       "503 is a transient 5xx",
			statusCode: 503,
			want:       Classification{Category: FailureHTTP5xx, Transient: true},
		},
		{
			name: "no evidence at all",
			want: Classification{Category: FailureUnknown, Transient: false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyEndpointFailure(tt.err, tt.statusCode, tt.aborted)
			if got != tt.want {
				t.Errorf("ClassifyEndpointFailure() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestClassifyReasonerFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ReasonerFailureCategory
	}{
		{"nil error", nil, ReasonerUnknown},
		{"empty response", errors.New("empty response from provider"), EmptyResponse},
		{"invalid enum", errors.New("invalid enum value for executionStrategy"), InvalidEnumValue},
		{"structural", errors.New("structural inconsistency: dependsOn references unknown call"), StructuralInconsistency},
		{"semantic", errors.New("semantic violation: nextRunAt not in the future"), SemanticViolation},
		{"json parse", errors.New("parse response: unexpected end of JSON input"), SchemaParseError},
		{"unmatched defaults to parse error", errors.New("totally novel failure"), SchemaParseError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyReasonerFailure(tt.err); got != tt.want {
				t.Errorf("ClassifyReasonerFailure() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReasonerFailureCategoryRepairable(t *testing.T) {
	repairable := map[ReasonerFailureCategory]bool{
		SemanticViolation:       true,
		SchemaParseError:        true,
		InvalidEnumValue:        false,
		StructuralInconsistency: false,
		EmptyResponse:           false,
		ReasonerUnknown:         false,
	}
	for cat, want := range repairable {
		if got := cat.Repairable(); got != want {
			t.Errorf("%v.Repairable() = %v, want %v", cat, got, want)
		}
	}
}
