package sched

import (
	"context"
	"time"
)

// Store is the narrow gateway to the persistence layer. It is the sole
// arbiter of job ownership: LockJob is the only concurrency primitive that
// spans engine instances, and its atomicity is what upholds the
// single-processor-per-job invariant.
//
// All write operations are single-row; the gateway provides no transaction
// spanning multiple operations. The job processor tolerates partial writes.
//
// Implementations live in the sched/store package:
//   - MemoryStore: in-memory, for tests and development
//   - SQLiteStore: single-file database via modernc.org/sqlite
//   - MySQLStore: production database via go-sql-driver/mysql
type Store interface {
	// FetchDueJobs returns up to limit job ids whose status is active,
	// whose lock is unheld or expired, and whose NextRunAt is past or nil
	// (nil meaning "run as soon as possible"). Ordering must be
	// deterministic within a cycle.
	FetchDueJobs(ctx context.Context, limit int) ([]string, error)

	// LockJob attempts an atomic lock acquisition, setting the lock to
	// expire at lockExpiresAt. It returns true iff the row transitioned
	// from unlocked-or-expired to locked. A false return means another
	// processor owns the job; callers skip it silently.
	LockJob(ctx context.Context, jobID string, lockExpiresAt time.Time) (bool, error)

	// UnlockJob clears the lock unconditionally. Safe to call in error
	// paths; unlocking an unlocked job is not an error.
	UnlockJob(ctx context.Context, jobID string) (bool, error)

	// UnlockStaleJobs clears locks whose expiry has passed, returning how
	// many were released. It is an advisory sweep run at cycle start;
	// LockJob's conditional steal remains the per-job safety net.
	UnlockStaleJobs(ctx context.Context, now time.Time) (int, error)

	// JobContext assembles the per-cycle snapshot for a job: the job, its
	// endpoints, recent messages, and recent endpoint usage. Returns
	// store.ErrNotFound when the job does not exist.
	JobContext(ctx context.Context, jobID string) (*JobContext, error)

	// RecordExecutionPlan persists the accepted plan for the job's
	// current execution record.
	RecordExecutionPlan(ctx context.Context, jobID string, plan ExecutionPlan) error

	// RecordEndpointResults appends the per-endpoint outcomes of the
	// current execution.
	RecordEndpointResults(ctx context.Context, jobID string, results []EndpointResult) error

	// RecordExecutionSummary persists the aggregate summary of the
	// current execution.
	RecordExecutionSummary(ctx context.Context, jobID string, summary ExecutionSummary) error

	// UpdateJobSchedule applies a schedule decision, setting the job's
	// NextRunAt.
	UpdateJobSchedule(ctx context.Context, jobID string, decision ScheduleDecision) error

	// RecordJobError appends a failure record. Append-only.
	RecordJobError(ctx context.Context, jobID, message, code string) error

	// UpdateExecutionStatus transitions the job's current execution
	// record. errorMessage is stored only for ExecutionFailed.
	UpdateExecutionStatus(ctx context.Context, jobID string, status ExecutionStatus, errorMessage string) error

	// UpdateJobTokenUsage adds deltas to the job's accumulated token
	// counters. Counters are monotonically non-decreasing.
	UpdateJobTokenUsage(ctx context.Context, jobID string, deltas TokenUsage) error

	// EngineMetrics reads aggregate persisted counters for reporting.
	EngineMetrics(ctx context.Context) (StoreMetrics, error)
}

// StoreMetrics is the aggregate view a Store reports for observability.
type StoreMetrics struct {
	ActiveJobs      int
	LockedJobs      int
	TotalExecutions int
	TotalErrors     int
	Tokens          TokenUsage
}
