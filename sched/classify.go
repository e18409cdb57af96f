package sched

import (
	"context"
	"errors"
	"net"
	"strings"
)

// FailureCategory classifies an endpoint call failure for the retry policy
// and the circuit breaker.
type FailureCategory string

// Endpoint failure categories.
const (
	FailureNetwork FailureCategory = "network"
	FailureTimeout FailureCategory = "timeout"
	FailureAborted FailureCategory = "aborted"
	FailureHTTP4xx FailureCategory = "http_4xx"
	FailureHTTP5xx FailureCategory = "http_5xx"
	FailureHTTP429 FailureCategory = "http_429"
	FailureUnknown FailureCategory = "unknown"
)

// Classification is the classifier's verdict: the category and whether the
// failure is transient (worth retrying).
type Classification struct {
	Category  FailureCategory
	Transient bool
}

// ClassifyEndpointFailure maps an error, an HTTP status, or an abort flag
// to a Classification.
//
// Rules:
//   - aborted ⇒ FailureAborted, non-transient (the cycle is unwinding)
//   - status 408, 425, 429 and all 5xx ⇒ transient
//   - other 4xx ⇒ non-transient
//   - timeouts ⇒ FailureTimeout, transient
//   - I/O and socket errors ⇒ FailureNetwork, transient
func ClassifyEndpointFailure(err error, statusCode int, aborted bool) Classification {
	if aborted {
		return Classification{Category: FailureAborted, Transient: false}
	}

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Classification{Category: FailureTimeout, Transient: true}
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			if netErr.Timeout() {
				return Classification{Category: FailureTimeout, Transient: true}
			}
			return Classification{Category: FailureNetwork, Transient: true}
		}
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline") {
			return Classification{Category: FailureTimeout, Transient: true}
		}
		if strings.Contains(msg, "connection") || strings.Contains(msg, "network") ||
			strings.Contains(msg, "broken pipe") || strings.Contains(msg, "eof") {
			return Classification{Category: FailureNetwork, Transient: true}
		}
		return Classification{Category: FailureUnknown, Transient: false}
	}

	switch {
	case statusCode == 429:
		return Classification{Category: FailureHTTP429, Transient: true}
	case statusCode == 408 || statusCode == 425:
		return Classification{Category: FailureHTTP4xx, Transient: true}
	case statusCode >= 500:
		return Classification{Category: FailureHTTP5xx, Transient: true}
	case statusCode >= 400:
		return Classification{Category: FailureHTTP4xx, Transient: false}
	default:
		return Classification{Category: FailureUnknown, Transient: false}
	}
}

// ReasonerFailureCategory classifies a malformed reasoner response.
type ReasonerFailureCategory string

// Reasoner failure categories. Only semantic violations and schema parse
// errors are considered repairable.
const (
	SemanticViolation       ReasonerFailureCategory = "semantic_violation"
	InvalidEnumValue        ReasonerFailureCategory = "invalid_enum_value"
	StructuralInconsistency ReasonerFailureCategory = "structural_inconsistency"
	SchemaParseError        ReasonerFailureCategory = "schema_parse_error"
	EmptyResponse           ReasonerFailureCategory = "empty_response"
	ReasonerUnknown         ReasonerFailureCategory = "unknown"
)

// ClassifyReasonerFailure maps a validation error message to a reasoner
// failure category. Unmatched messages default to SchemaParseError, which
// keeps them eligible for repair.
func ClassifyReasonerFailure(err error) ReasonerFailureCategory {
	if err == nil {
		return ReasonerUnknown
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "empty response"):
		return EmptyResponse
	case strings.Contains(msg, "invalid enum"):
		return InvalidEnumValue
	case strings.Contains(msg, "structural"):
		return StructuralInconsistency
	case strings.Contains(msg, "semantic"):
		return SemanticViolation
	case strings.Contains(msg, "parse") || strings.Contains(msg, "unmarshal") ||
		strings.Contains(msg, "json"):
		return SchemaParseError
	default:
		return SchemaParseError
	}
}

// Repairable reports whether a malformed response in this category is
// worth a repair attempt.
func (c ReasonerFailureCategory) Repairable() bool {
	return c == SemanticViolation || c == SchemaParseError
}
