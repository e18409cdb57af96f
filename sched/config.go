package sched

import (
	"fmt"
	"time"
)

// Config is the full engine configuration tree. Zero values are filled in
// by ApplyDefaults; Validate rejects configurations the engine cannot run
// with. The launcher unmarshals this from YAML.
type Config struct {
	Agent     AgentConfig
	Execution ExecutionConfig
	Metrics   MetricsConfig
	Scheduler SchedulerConfig
}

// AgentConfig configures the reasoner gateway. MaxRetries bounds extra
// provider attempts per call when the transport itself errors;
// MaxRepairAttempts bounds re-prompts after a malformed response.
type AgentConfig struct {
	Model                    string
	Temperature              float64
	MaxRetries               int
	ValidateSemantics        bool
	SemanticStrict           bool
	RepairMalformedResponses bool
	MaxRepairAttempts        int
	PromptOptimization       PromptOptimizationConfig
}

// PromptOptimizationConfig bounds the context forwarded to the reasoner.
// Optimization only drops entries; it never rewrites them.
type PromptOptimizationConfig struct {
	Enabled                 bool
	MaxMessages             int
	MinRecentMessages       int
	MaxEndpointUsageEntries int
}

// ExecutionConfig configures the endpoint executor. MaxEndpointRetries of
// zero means a single attempt per call; ResponseContentLengthLimit of zero
// stores no response content. ExecutionPhaseTimeout caps one job's whole
// endpoint-execution phase.
type ExecutionConfig struct {
	MaxConcurrency             int
	DefaultConcurrencyLimit    int
	DefaultTimeout             time.Duration
	MaxEndpointRetries         int
	AllowCancellation          bool
	ResponseContentLengthLimit int
	ExecutionPhaseTimeout      time.Duration
	Escalation                 EscalationConfig
	CircuitBreaker             CircuitBreakerConfig
}

// EscalationConfig sets the failure-ratio thresholds for escalation.
type EscalationConfig struct {
	WarnFailureRatio     float64
	CriticalFailureRatio float64
}

// CircuitBreakerConfig configures the per-endpoint circuit breaker.
type CircuitBreakerConfig struct {
	Enabled                  bool
	FailureThreshold         int
	Window                   time.Duration
	Cooldown                 time.Duration
	HalfOpenMaxCalls         int
	HalfOpenSuccessesToClose int
	HalfOpenFailuresToReopen int
}

// MetricsConfig configures the Prometheus metrics surface. SamplingRate
// downsamples endpoint latency observations (1.0 records every call, 0
// records none); counters are never sampled. TrackTokenUsage gates the
// reasoner token counters.
type MetricsConfig struct {
	Enabled         bool
	SamplingRate    float64
	TrackTokenUsage bool
}

// SchedulerConfig configures the cycle orchestrator and engine tick.
type SchedulerConfig struct {
	MaxBatchSize             int
	ProcessingInterval       time.Duration
	AutoUnlockStaleJobs      bool
	StaleLockThreshold       time.Duration
	JobProcessingConcurrency int
}

// DefaultConfig returns a configuration suitable for development: a small
// batch, modest concurrency, cancellation and repair enabled.
//
// DefaultConfig is the only place the meaningful-zero knobs (retries,
// content limit, sampling rate) and the feature booleans get their enabled
// defaults; ApplyDefaults deliberately leaves them alone so an explicit
// zero or false survives.
func DefaultConfig() Config {
	cfg := Config{}
	cfg.ApplyDefaults()

	cfg.Agent.ValidateSemantics = true
	cfg.Agent.RepairMalformedResponses = true
	cfg.Agent.PromptOptimization.Enabled = true

	cfg.Execution.MaxEndpointRetries = 3
	cfg.Execution.AllowCancellation = true
	cfg.Execution.ResponseContentLengthLimit = 4096
	cfg.Execution.CircuitBreaker.Enabled = true

	cfg.Metrics.SamplingRate = 1.0
	cfg.Metrics.TrackTokenUsage = true

	cfg.Scheduler.AutoUnlockStaleJobs = true

	return cfg
}

// ApplyDefaults fills invalid zero values with production-reasonable
// defaults. Fields where zero is a meaningful setting (MaxEndpointRetries,
// ResponseContentLengthLimit, SamplingRate, the feature booleans) are left
// untouched; start from DefaultConfig to get those enabled.
func (c *Config) ApplyDefaults() {
	if c.Agent.Model == "" {
		c.Agent.Model = "gpt-4o-mini"
	}
	if c.Agent.MaxRetries == 0 {
		c.Agent.MaxRetries = 2
	}
	if c.Agent.MaxRepairAttempts == 0 {
		c.Agent.MaxRepairAttempts = 1
	}
	if c.Agent.PromptOptimization.MaxMessages == 0 {
		c.Agent.PromptOptimization.MaxMessages = 20
	}
	if c.Agent.PromptOptimization.MinRecentMessages == 0 {
		c.Agent.PromptOptimization.MinRecentMessages = 5
	}
	if c.Agent.PromptOptimization.MaxEndpointUsageEntries == 0 {
		c.Agent.PromptOptimization.MaxEndpointUsageEntries = 10
	}

	if c.Execution.MaxConcurrency == 0 {
		c.Execution.MaxConcurrency = 16
	}
	if c.Execution.DefaultConcurrencyLimit == 0 {
		c.Execution.DefaultConcurrencyLimit = 4
	}
	if c.Execution.DefaultTimeout == 0 {
		c.Execution.DefaultTimeout = 30 * time.Second
	}
	if c.Execution.ExecutionPhaseTimeout == 0 {
		c.Execution.ExecutionPhaseTimeout = 5 * time.Minute
	}
	if c.Execution.Escalation.WarnFailureRatio == 0 {
		c.Execution.Escalation.WarnFailureRatio = 0.3
	}
	if c.Execution.Escalation.CriticalFailureRatio == 0 {
		c.Execution.Escalation.CriticalFailureRatio = 0.7
	}

	cb := &c.Execution.CircuitBreaker
	if cb.FailureThreshold == 0 {
		cb.FailureThreshold = 5
	}
	if cb.Window == 0 {
		cb.Window = time.Minute
	}
	if cb.Cooldown == 0 {
		cb.Cooldown = 30 * time.Second
	}
	if cb.HalfOpenMaxCalls == 0 {
		cb.HalfOpenMaxCalls = 2
	}
	if cb.HalfOpenSuccessesToClose == 0 {
		cb.HalfOpenSuccessesToClose = 2
	}
	if cb.HalfOpenFailuresToReopen == 0 {
		cb.HalfOpenFailuresToReopen = 1
	}

	if c.Scheduler.MaxBatchSize == 0 {
		c.Scheduler.MaxBatchSize = 25
	}
	if c.Scheduler.ProcessingInterval == 0 {
		c.Scheduler.ProcessingInterval = time.Minute
	}
	if c.Scheduler.StaleLockThreshold == 0 {
		c.Scheduler.StaleLockThreshold = 10 * time.Minute
	}
	if c.Scheduler.JobProcessingConcurrency == 0 {
		c.Scheduler.JobProcessingConcurrency = 4
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Agent.Temperature < 0 || c.Agent.Temperature > 1 {
		return &EngineError{Code: "INVALID_CONFIG", Message: "aiAgent.temperature must be in [0,1]"}
	}
	if c.Execution.MaxConcurrency < 1 {
		return &EngineError{Code: "INVALID_CONFIG", Message: "execution.maxConcurrency must be >= 1"}
	}
	if c.Execution.MaxEndpointRetries < 0 {
		return &EngineError{Code: "INVALID_CONFIG", Message: "execution.maxEndpointRetries must be >= 0"}
	}
	if c.Execution.ResponseContentLengthLimit < 0 {
		return &EngineError{Code: "INVALID_CONFIG", Message: "execution.responseContentLengthLimit must be >= 0"}
	}
	if r := c.Metrics.SamplingRate; r < 0 || r > 1 {
		return &EngineError{Code: "INVALID_CONFIG", Message: "metrics.samplingRate must be in [0,1]"}
	}
	if w, cr := c.Execution.Escalation.WarnFailureRatio, c.Execution.Escalation.CriticalFailureRatio; w < 0 || cr > 1 || w > cr {
		return &EngineError{Code: "INVALID_CONFIG", Message: fmt.Sprintf("escalation ratios invalid: warn=%v critical=%v", w, cr)}
	}
	if c.Scheduler.MaxBatchSize < 1 {
		return &EngineError{Code: "INVALID_CONFIG", Message: "scheduler.maxBatchSize must be >= 1"}
	}
	if c.Scheduler.ProcessingInterval < time.Second {
		return &EngineError{Code: "INVALID_CONFIG", Message: "scheduler.processingIntervalMs must be >= 1000ms"}
	}
	if c.Scheduler.JobProcessingConcurrency < 1 {
		return &EngineError{Code: "INVALID_CONFIG", Message: "scheduler.jobProcessingConcurrency must be >= 1"}
	}
	return nil
}
