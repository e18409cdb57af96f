// Package sched implements an adaptive job scheduling engine whose run
// cadence and endpoint selection are decided by a reasoning model rather
// than by fixed cron expressions.
//
// Each processing cycle the engine fetches due jobs from a Store, locks
// them for exclusive processing, asks a Reasoner for an execution plan,
// executes the planned HTTP endpoints with retry and circuit-breaker
// protection, persists the results, asks the Reasoner when the job should
// run next, and unlocks.
package sched

import "time"

// JobStatus enumerates the lifecycle states of a Job.
type JobStatus string

// Job lifecycle states.
const (
	JobActive   JobStatus = "active"
	JobPaused   JobStatus = "paused"
	JobArchived JobStatus = "archived"
)

// ExecutionStatus enumerates the states of a persisted job execution record.
type ExecutionStatus string

// Execution record states.
const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// Job is the durable definition of a scheduled unit of work.
//
// A Job carries a natural-language definition that the reasoner interprets,
// a lock used for exclusive per-cycle processing, and accumulated token
// counters that are monotonically non-decreasing. NextRunAt is nullable:
// nil means "run as soon as possible". Monotonicity of NextRunAt is not
// required; the reasoner may move it earlier.
//
// DefaultHeaders apply to every endpoint call of the job as the
// lowest-precedence header layer; endpoint and plan headers override them.
type Job struct {
	ID             string
	OwnerID        string
	Definition     string
	Status         JobStatus
	Locked         bool
	LockExpiresAt  time.Time
	NextRunAt      *time.Time
	DefaultHeaders map[string]string
	Tokens         TokenUsage
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Endpoint is an HTTP target a job may call. Endpoints belong to exactly
// one Job and are deleted when the Job is deleted.
type Endpoint struct {
	ID            string
	JobID         string
	Method        string
	URL           string
	Headers       map[string]string
	TimeoutMs     int
	FireAndForget bool
	CreatedAt     time.Time
}

// Message is a conversational record attached to a job, forwarded to the
// reasoner as recent history.
type Message struct {
	Role      string
	Content   string
	CreatedAt time.Time
}

// EndpointUsage summarizes a past call to an endpoint, forwarded to the
// reasoner so it can factor recent outcomes into planning.
type EndpointUsage struct {
	EndpointID string
	Success    bool
	StatusCode int
	DurationMs int64
	CalledAt   time.Time
}

// Environment identifies the system environment a job executes in.
type Environment string

// Recognized execution environments. Unknown values normalize to Production.
const (
	Production  Environment = "production"
	Development Environment = "development"
	Test        Environment = "test"
)

// NormalizeEnvironment maps arbitrary input to a recognized Environment,
// defaulting to Production.
func NormalizeEnvironment(e Environment) Environment {
	switch e {
	case Development, Test:
		return e
	default:
		return Production
	}
}

// ExecutionContext carries per-cycle runtime facts into planning and
// execution: the wall-clock "now", the environment, optional resource
// constraints, and the cycle's cancellation signal.
type ExecutionContext struct {
	CurrentTime         time.Time
	SystemEnvironment   Environment
	ResourceConstraints map[string]string

	// Cancel, when non-nil, is closed (via context) when the cycle is
	// aborted. Endpoint calls observe it through their request context.
	Cancel <-chan struct{}
}

// JobContext is the ephemeral snapshot assembled per cycle and handed to
// the reasoner and the executor. Components exchange this value object and
// ids; they never share live object graphs.
type JobContext struct {
	Job       Job
	Endpoints []Endpoint
	Messages  []Message
	Usage     []EndpointUsage
	Exec      ExecutionContext
}

// EndpointByID returns the endpoint configuration for id, or false when
// the plan names an endpoint the job does not have.
func (c *JobContext) EndpointByID(id string) (Endpoint, bool) {
	for _, ep := range c.Endpoints {
		if ep.ID == id {
			return ep, true
		}
	}
	return Endpoint{}, false
}

// Strategy selects how the executor dispatches a plan's endpoint calls.
type Strategy string

// Execution strategies. Mixed runs dependency-ordered waves.
const (
	Sequential Strategy = "sequential"
	Parallel   Strategy = "parallel"
	Mixed      Strategy = "mixed"
)

// PlannedCall is one entry of an ExecutionPlan: which endpoint to call,
// with what parameters and headers, at what priority (lower runs first),
// after which dependencies, and whether its failure is critical.
type PlannedCall struct {
	EndpointID string                 `json:"endpointId"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Headers    map[string]string      `json:"headers,omitempty"`
	Priority   int                    `json:"priority"`
	DependsOn  []string               `json:"dependsOn,omitempty"`
	Critical   bool                   `json:"critical"`
}

// ExecutionPlan is the reasoner's first-phase output: the ordered set of
// endpoint calls, the dispatch strategy, and the reasoner's confidence.
//
// Invariants validated before execution:
//   - every DependsOn id appears in the same plan
//   - under Mixed the dependency graph is a DAG
//   - under Sequential priorities induce a stable total order
type ExecutionPlan struct {
	EndpointsToCall    []PlannedCall `json:"endpointsToCall"`
	ExecutionStrategy  Strategy      `json:"executionStrategy"`
	ConcurrencyLimit   int           `json:"concurrencyLimit,omitempty"`
	PreliminaryNextRun *time.Time    `json:"preliminaryNextRunAt,omitempty"`
	Reasoning          string        `json:"reasoning"`
	Confidence         float64       `json:"confidence"`
}

// EndpointResult records the outcome of executing one planned call.
//
// ResponseContent holds at most the configured content length limit;
// Truncated is true iff the body exceeded it. Aborted is true iff the
// cycle's cancellation fired before the call completed; aborted results
// are excluded from failure counts and circuit-breaker totals.
type EndpointResult struct {
	EndpointID      string    `json:"endpointId"`
	Success         bool      `json:"success"`
	StatusCode      int       `json:"statusCode"`
	ExecutionTimeMs int64     `json:"executionTimeMs"`
	Timestamp       time.Time `json:"timestamp"`
	ResponseContent string    `json:"responseContent,omitempty"`
	Truncated       bool      `json:"truncated,omitempty"`
	Error           string    `json:"error,omitempty"`
	Attempts        int       `json:"attempts"`
	Aborted         bool      `json:"aborted,omitempty"`
}

// ExecutionSummary aggregates one job's endpoint results for persistence.
// FailureCount excludes aborted results.
type ExecutionSummary struct {
	StartTime       time.Time `json:"startTime"`
	EndTime         time.Time `json:"endTime"`
	TotalDurationMs int64     `json:"totalDurationMs"`
	SuccessCount    int       `json:"successCount"`
	FailureCount    int       `json:"failureCount"`
}

// ActionPriority ranks a recommended follow-up action.
type ActionPriority string

// Recommended action priorities.
const (
	PriorityLow    ActionPriority = "low"
	PriorityMedium ActionPriority = "medium"
	PriorityHigh   ActionPriority = "high"
)

// RecommendedAction is an optional reasoner suggestion attached to a
// schedule decision.
type RecommendedAction struct {
	Type     string         `json:"type"`
	Details  string         `json:"details"`
	Priority ActionPriority `json:"priority"`
}

// ScheduleDecision is the reasoner's second-phase output: when the job
// should run next. NextRunAt must be in the future at time of application.
type ScheduleDecision struct {
	NextRunAt          time.Time           `json:"nextRunAt"`
	Reasoning          string              `json:"reasoning"`
	Confidence         float64             `json:"confidence"`
	RecommendedActions []RecommendedAction `json:"recommendedActions,omitempty"`
}

// TokenUsage accounts reasoner token consumption. All fields are deltas
// when passed to Store.UpdateJobTokenUsage and running totals on Job.
type TokenUsage struct {
	Input       int64 `json:"inputTokens"`
	Output      int64 `json:"outputTokens"`
	Reasoning   int64 `json:"reasoningTokens,omitempty"`
	CachedInput int64 `json:"cachedInputTokens,omitempty"`
	Total       int64 `json:"totalTokens"`
}

// Add accumulates other into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.Input += other.Input
	u.Output += other.Output
	u.Reasoning += other.Reasoning
	u.CachedInput += other.CachedInput
	u.Total += other.Total
}

// JobError is an append-only failure record for a job.
type JobError struct {
	JobID     string
	Message   string
	Code      string
	Timestamp time.Time
}

// ProcessingResult summarizes one completed cycle.
type ProcessingResult struct {
	CycleID        string
	StartTime      time.Time
	EndTime        time.Time
	JobsProcessed  int
	SuccessfulJobs int
	FailedJobs     int
	Errors         []JobError
}
