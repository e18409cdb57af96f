package sched

import (
	"math/rand"
	"time"
)

// RetryDecision is the retry policy's answer for one failed attempt.
type RetryDecision struct {
	Retry bool
	Delay time.Duration
}

// RetryInput carries everything a retry policy may consider. Attempt is
// 1-based (the attempt that just failed).
type RetryInput struct {
	Attempt     int
	MaxAttempts int
	Category    FailureCategory
	Transient   bool
	StatusCode  int
	ErrMessage  string
}

// RetryPolicy decides whether a failed endpoint attempt should be retried
// and how long to back off first. The executor never inlines this
// decision; policies are replaceable.
type RetryPolicy interface {
	Evaluate(in RetryInput) RetryDecision
}

// BackoffPolicy is the default RetryPolicy: retry iff the failure is
// transient and attempts remain, with exponential backoff plus jitter.
//
// The delay for the attempt that just failed is
//
//	base * 2^(attempt-1) + uniform(0, base)
//
// capped at MaxDelay. Jitter randomizes retry timing across concurrent
// endpoint calls to avoid synchronized retry storms.
type BackoffPolicy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// rng, when set, makes jitter deterministic for tests.
	rng *rand.Rand
}

// NewBackoffPolicy returns a BackoffPolicy with the given base delay and
// cap. Zero values fall back to 250ms base and 30s cap.
func NewBackoffPolicy(base, max time.Duration) *BackoffPolicy {
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	return &BackoffPolicy{BaseDelay: base, MaxDelay: max}
}

// Evaluate implements RetryPolicy.
func (p *BackoffPolicy) Evaluate(in RetryInput) RetryDecision {
	if !in.Transient || in.Attempt >= in.MaxAttempts {
		return RetryDecision{Retry: false}
	}
	return RetryDecision{Retry: true, Delay: p.nextDelay(in.Attempt)}
}

// nextDelay computes the jittered exponential backoff for a 1-based
// attempt number.
func (p *BackoffPolicy) nextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	// Cap the shift so the multiplication cannot overflow.
	shift := attempt - 1
	if shift > 20 {
		shift = 20
	}
	delay := p.BaseDelay * (1 << shift)
	if delay > p.MaxDelay || delay <= 0 {
		delay = p.MaxDelay
	}

	var jitter time.Duration
	if p.rng != nil {
		jitter = time.Duration(p.rng.Int63n(int64(p.BaseDelay)))
	} else {
		jitter = time.Duration(rand.Int63n(int64(p.BaseDelay))) // #nosec G404 -- jitter for retry timing, not security
	}
	return delay + jitter
}
