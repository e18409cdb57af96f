package sched

import (
	"net/http"
	"time"

	"github.com/dshills/schedflow/sched/emit"
)

// Option is a functional option for configuring an Engine.
//
// Example:
//
//	engine, err := sched.NewEngine(st, rsn, cfg,
//	    sched.WithEmitter(emit.NewLogEmitter(os.Stdout, true)),
//	    sched.WithMetrics(sched.NewPrometheusMetrics(registry)),
//	    sched.WithHooks(&sched.Hooks{OnRetryAttempt: logRetry}),
//	)
type Option func(*engineConfig) error

// engineConfig collects options before they are applied to an Engine.
type engineConfig struct {
	hooks       *Hooks
	metrics     *PrometheusMetrics
	emitter     emit.Emitter
	httpClient  *http.Client
	retryPolicy RetryPolicy
	now         func() time.Time
}

// WithHooks attaches engine callbacks. Callbacks run synchronously on
// engine goroutines and must return quickly.
func WithHooks(h *Hooks) Option {
	return func(cfg *engineConfig) error {
		cfg.hooks = h
		return nil
	}
}

// WithMetrics attaches a Prometheus metrics collector.
func WithMetrics(m *PrometheusMetrics) Option {
	return func(cfg *engineConfig) error {
		cfg.metrics = m
		return nil
	}
}

// WithEmitter sets the observability event sink. Default: events are
// discarded.
func WithEmitter(e emit.Emitter) Option {
	return func(cfg *engineConfig) error {
		if e == nil {
			return &EngineError{Code: "INVALID_CONFIG", Message: "emitter must not be nil"}
		}
		cfg.emitter = e
		return nil
	}
}

// WithHTTPClient replaces the HTTP client used for endpoint calls. Useful
// for custom transports, proxies, or test stubs.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *engineConfig) error {
		if c == nil {
			return &EngineError{Code: "INVALID_CONFIG", Message: "http client must not be nil"}
		}
		cfg.httpClient = c
		return nil
	}
}

// WithRetryPolicy replaces the default exponential-backoff retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(cfg *engineConfig) error {
		if p == nil {
			return &EngineError{Code: "INVALID_CONFIG", Message: "retry policy must not be nil"}
		}
		cfg.retryPolicy = p
		return nil
	}
}

// WithClock replaces the engine's time source. Tests use this to control
// lock expiry and duration accounting.
func WithClock(now func() time.Time) Option {
	return func(cfg *engineConfig) error {
		if now == nil {
			return &EngineError{Code: "INVALID_CONFIG", Message: "clock must not be nil"}
		}
		cfg.now = now
		return nil
	}
}
