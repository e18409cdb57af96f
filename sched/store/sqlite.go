package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/schedflow/sched"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of sched.Store.
//
// It keeps all scheduling state in a single-file database. Designed for:
//   - Development and testing with zero setup
//   - Single-process deployments
//   - Prototyping before migrating to MySQL
//
// SQLiteStore uses WAL mode for concurrent reads and a single writer
// connection, which is also what makes LockJob's conditional UPDATE atomic.
//
// Timestamps are stored as Unix milliseconds so lock-expiry and due-time
// comparisons are plain integer comparisons.
//
// Schema:
//   - jobs: definition, status, lock, next run time, token counters
//   - endpoints: HTTP targets per job
//   - job_messages: conversational history forwarded to the reasoner
//   - endpoint_usage: recent call outcomes forwarded to the reasoner
//   - job_executions: one row per processing cycle (plan, results, summary)
//   - job_errors: append-only failure log
type SQLiteStore struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// NewSQLiteStore creates a SQLite-backed store.
//
// The path parameter specifies the database file location ("./jobs.db",
// an absolute path, or ":memory:" for an in-memory database). The store
// creates the schema on first use and enables WAL mode, foreign keys, and a
// five second busy timeout.
//
// Example:
//
//	st, err := store.NewSQLiteStore("./jobs.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	st := &SQLiteStore{db: db, path: path, now: time.Now}
	if err := st.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return st, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SetClock replaces the store's time source for tests.
func (s *SQLiteStore) SetClock(now func() time.Time) {
	s.now = now
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT NOT NULL PRIMARY KEY,
			owner_id TEXT NOT NULL DEFAULT '',
			definition TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			locked INTEGER NOT NULL DEFAULT 0,
			lock_expires_at INTEGER,
			next_run_at INTEGER,
			default_headers TEXT NOT NULL DEFAULT '{}',
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			reasoning_tokens INTEGER NOT NULL DEFAULT 0,
			cached_input_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_due ON jobs(status, locked, next_run_at)`,
		`CREATE TABLE IF NOT EXISTS endpoints (
			id TEXT NOT NULL PRIMARY KEY,
			job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
			method TEXT NOT NULL,
			url TEXT NOT NULL,
			headers TEXT NOT NULL DEFAULT '{}',
			timeout_ms INTEGER NOT NULL DEFAULT 0,
			fire_and_forget INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_endpoints_job ON endpoints(job_id)`,
		`CREATE TABLE IF NOT EXISTS job_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_job ON job_messages(job_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS endpoint_usage (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
			endpoint_id TEXT NOT NULL,
			success INTEGER NOT NULL,
			status_code INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			called_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_job ON endpoint_usage(job_id, called_at)`,
		`CREATE TABLE IF NOT EXISTS job_executions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
			status TEXT NOT NULL DEFAULT 'pending',
			plan TEXT,
			results TEXT,
			summary TEXT,
			error_message TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_job ON job_executions(job_id, id)`,
		`CREATE TABLE IF NOT EXISTS job_errors (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id TEXT NOT NULL,
			message TEXT NOT NULL,
			code TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_errors_job ON job_errors(job_id, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// CreateJob inserts a new job row.
func (s *SQLiteStore) CreateJob(ctx context.Context, job sched.Job) error {
	headers, err := json.Marshal(job.DefaultHeaders)
	if err != nil {
		return fmt.Errorf("failed to marshal default headers: %w", err)
	}
	nowMs := s.now().UnixMilli()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, owner_id, definition, status, locked, lock_expires_at, next_run_at,
			default_headers,
			input_tokens, output_tokens, reasoning_tokens, cached_input_tokens, total_tokens,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.OwnerID, job.Definition, string(job.Status),
		boolInt(job.Locked), msOrNil(job.LockExpiresAt), msPtrOrNil(job.NextRunAt),
		string(headers),
		job.Tokens.Input, job.Tokens.Output, job.Tokens.Reasoning, job.Tokens.CachedInput, job.Tokens.Total,
		nowMs, nowMs)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// CreateEndpoint inserts a new endpoint row.
func (s *SQLiteStore) CreateEndpoint(ctx context.Context, ep sched.Endpoint) error {
	headers, err := json.Marshal(ep.Headers)
	if err != nil {
		return fmt.Errorf("failed to marshal headers: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO endpoints (id, job_id, method, url, headers, timeout_ms, fire_and_forget, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ep.ID, ep.JobID, ep.Method, ep.URL, string(headers), ep.TimeoutMs,
		boolInt(ep.FireAndForget), s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert endpoint: %w", err)
	}
	return nil
}

// FetchDueJobs returns due job ids ordered by next_run_at (null first),
// then id.
func (s *SQLiteStore) FetchDueJobs(ctx context.Context, limit int) ([]string, error) {
	nowMs := s.now().UnixMilli()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM jobs
		WHERE status = 'active'
		  AND (locked = 0 OR lock_expires_at < ?)
		  AND (next_run_at IS NULL OR next_run_at <= ?)
		ORDER BY next_run_at IS NOT NULL, next_run_at, id
		LIMIT ?`, nowMs, nowMs, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch due jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LockJob acquires the lock with a single conditional UPDATE; the write is
// atomic because SQLite serializes writers.
func (s *SQLiteStore) LockJob(ctx context.Context, jobID string, lockExpiresAt time.Time) (bool, error) {
	nowMs := s.now().UnixMilli()
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET locked = 1, lock_expires_at = ?, updated_at = ?
		WHERE id = ? AND (locked = 0 OR lock_expires_at < ?)`,
		lockExpiresAt.UnixMilli(), nowMs, jobID, nowMs)
	if err != nil {
		return false, fmt.Errorf("failed to lock job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read lock result: %w", err)
	}
	return n == 1, nil
}

// UnlockStaleJobs releases every lock whose expiry has passed.
func (s *SQLiteStore) UnlockStaleJobs(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET locked = 0, lock_expires_at = NULL, updated_at = ?
		WHERE locked = 1 AND lock_expires_at < ?`,
		s.now().UnixMilli(), now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to unlock stale jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read stale unlock result: %w", err)
	}
	return int(n), nil
}

// UnlockJob clears the lock unconditionally.
func (s *SQLiteStore) UnlockJob(ctx context.Context, jobID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET locked = 0, lock_expires_at = NULL, updated_at = ?
		WHERE id = ?`, s.now().UnixMilli(), jobID)
	if err != nil {
		return false, fmt.Errorf("failed to unlock job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read unlock result: %w", err)
	}
	return n == 1, nil
}

// JobContext assembles the per-cycle snapshot for a job.
func (s *SQLiteStore) JobContext(ctx context.Context, jobID string) (*sched.JobContext, error) {
	var (
		job            sched.Job
		status         string
		locked         int
		lockExpiresAt  sql.NullInt64
		nextRunAt      sql.NullInt64
		defaultHeaders string
		createdMs      int64
		updatedMs      int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, definition, status, locked, lock_expires_at, next_run_at,
			default_headers,
			input_tokens, output_tokens, reasoning_tokens, cached_input_tokens, total_tokens,
			created_at, updated_at
		FROM jobs WHERE id = ?`, jobID).Scan(
		&job.ID, &job.OwnerID, &job.Definition, &status, &locked, &lockExpiresAt, &nextRunAt,
		&defaultHeaders,
		&job.Tokens.Input, &job.Tokens.Output, &job.Tokens.Reasoning, &job.Tokens.CachedInput, &job.Tokens.Total,
		&createdMs, &updatedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	if err := json.Unmarshal([]byte(defaultHeaders), &job.DefaultHeaders); err != nil {
		return nil, fmt.Errorf("failed to unmarshal default headers: %w", err)
	}
	job.Status = sched.JobStatus(status)
	job.Locked = locked != 0
	if lockExpiresAt.Valid {
		job.LockExpiresAt = time.UnixMilli(lockExpiresAt.Int64)
	}
	if nextRunAt.Valid {
		t := time.UnixMilli(nextRunAt.Int64)
		job.NextRunAt = &t
	}
	job.CreatedAt = time.UnixMilli(createdMs)
	job.UpdatedAt = time.UnixMilli(updatedMs)

	jc := &sched.JobContext{Job: job}

	if jc.Endpoints, err = s.loadEndpoints(ctx, jobID); err != nil {
		return nil, err
	}
	if jc.Messages, err = s.loadMessages(ctx, jobID); err != nil {
		return nil, err
	}
	if jc.Usage, err = s.loadUsage(ctx, jobID); err != nil {
		return nil, err
	}
	return jc, nil
}

func (s *SQLiteStore) loadEndpoints(ctx context.Context, jobID string) ([]sched.Endpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, method, url, headers, timeout_ms, fire_and_forget, created_at
		FROM endpoints WHERE job_id = ? ORDER BY created_at, id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load endpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var endpoints []sched.Endpoint
	for rows.Next() {
		var (
			ep        sched.Endpoint
			headers   string
			faf       int
			createdMs int64
		)
		if err := rows.Scan(&ep.ID, &ep.JobID, &ep.Method, &ep.URL, &headers, &ep.TimeoutMs, &faf, &createdMs); err != nil {
			return nil, fmt.Errorf("failed to scan endpoint: %w", err)
		}
		if err := json.Unmarshal([]byte(headers), &ep.Headers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal endpoint headers: %w", err)
		}
		ep.FireAndForget = faf != 0
		ep.CreatedAt = time.UnixMilli(createdMs)
		endpoints = append(endpoints, ep)
	}
	return endpoints, rows.Err()
}

func (s *SQLiteStore) loadMessages(ctx context.Context, jobID string) ([]sched.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, created_at FROM job_messages
		WHERE job_id = ? ORDER BY created_at, id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []sched.Message
	for rows.Next() {
		var (
			msg       sched.Message
			createdMs int64
		)
		if err := rows.Scan(&msg.Role, &msg.Content, &createdMs); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.CreatedAt = time.UnixMilli(createdMs)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *SQLiteStore) loadUsage(ctx context.Context, jobID string) ([]sched.EndpointUsage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT endpoint_id, success, status_code, duration_ms, called_at FROM endpoint_usage
		WHERE job_id = ? ORDER BY called_at DESC, id DESC LIMIT 100`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load endpoint usage: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var usage []sched.EndpointUsage
	for rows.Next() {
		var (
			u        sched.EndpointUsage
			success  int
			calledMs int64
		)
		if err := rows.Scan(&u.EndpointID, &success, &u.StatusCode, &u.DurationMs, &calledMs); err != nil {
			return nil, fmt.Errorf("failed to scan endpoint usage: %w", err)
		}
		u.Success = success != 0
		u.CalledAt = time.UnixMilli(calledMs)
		usage = append(usage, u)
	}
	return usage, rows.Err()
}

// RecordExecutionPlan attaches the plan to the job's current execution row.
func (s *SQLiteStore) RecordExecutionPlan(ctx context.Context, jobID string, plan sched.ExecutionPlan) error {
	data, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}
	return s.updateCurrentExecution(ctx, jobID, "plan", string(data))
}

// RecordEndpointResults stores the results JSON on the current execution
// row.
func (s *SQLiteStore) RecordEndpointResults(ctx context.Context, jobID string, results []sched.EndpointResult) error {
	data, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	return s.updateCurrentExecution(ctx, jobID, "results", string(data))
}

// RecordExecutionSummary stores the summary JSON on the current execution
// row.
func (s *SQLiteStore) RecordExecutionSummary(ctx context.Context, jobID string, summary sched.ExecutionSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	return s.updateCurrentExecution(ctx, jobID, "summary", string(data))
}

// updateCurrentExecution sets one JSON column on the job's latest execution
// row, creating the row if the running transition never landed. column is
// one of the fixed names "plan", "results", "summary"; never user input.
func (s *SQLiteStore) updateCurrentExecution(ctx context.Context, jobID, column, value string) error {
	if err := s.ensureExecutionRow(ctx, jobID); err != nil {
		return err
	}
	// #nosec G201 -- column is a fixed identifier chosen by the caller above
	query := fmt.Sprintf(`
		UPDATE job_executions SET %s = ?, updated_at = ?
		WHERE id = (SELECT MAX(id) FROM job_executions WHERE job_id = ?)`, column)
	if _, err := s.db.ExecContext(ctx, query, value, s.now().UnixMilli(), jobID); err != nil {
		return fmt.Errorf("failed to update execution %s: %w", column, err)
	}
	return nil
}

func (s *SQLiteStore) ensureExecutionRow(ctx context.Context, jobID string) error {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM job_executions WHERE job_id = ?`, jobID).Scan(&n)
	if err != nil {
		return fmt.Errorf("failed to count executions: %w", err)
	}
	if n > 0 {
		return nil
	}
	nowMs := s.now().UnixMilli()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO job_executions (job_id, status, created_at, updated_at)
		VALUES (?, 'pending', ?, ?)`, jobID, nowMs, nowMs)
	if err != nil {
		return fmt.Errorf("failed to insert execution row: %w", err)
	}
	return nil
}

// UpdateJobSchedule sets the job's next run time.
func (s *SQLiteStore) UpdateJobSchedule(ctx context.Context, jobID string, decision sched.ScheduleDecision) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET next_run_at = ?, updated_at = ? WHERE id = ?`,
		decision.NextRunAt.UnixMilli(), s.now().UnixMilli(), jobID)
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read schedule result: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordJobError appends to the job's error log.
func (s *SQLiteStore) RecordJobError(ctx context.Context, jobID, message, code string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_errors (job_id, message, code, created_at)
		VALUES (?, ?, ?, ?)`, jobID, message, code, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record job error: %w", err)
	}
	return nil
}

// UpdateExecutionStatus transitions the job's current execution row. The
// running transition opens a fresh row (one row per cycle).
func (s *SQLiteStore) UpdateExecutionStatus(ctx context.Context, jobID string, status sched.ExecutionStatus, errorMessage string) error {
	nowMs := s.now().UnixMilli()
	if status == sched.ExecutionRunning {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO job_executions (job_id, status, created_at, updated_at)
			VALUES (?, ?, ?, ?)`, jobID, string(status), nowMs, nowMs)
		if err != nil {
			return fmt.Errorf("failed to open execution row: %w", err)
		}
		return nil
	}
	if err := s.ensureExecutionRow(ctx, jobID); err != nil {
		return err
	}
	msg := ""
	if status == sched.ExecutionFailed {
		msg = errorMessage
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE job_executions SET status = ?, error_message = ?, updated_at = ?
		WHERE id = (SELECT MAX(id) FROM job_executions WHERE job_id = ?)`,
		string(status), msg, nowMs, jobID)
	if err != nil {
		return fmt.Errorf("failed to update execution status: %w", err)
	}
	return nil
}

// UpdateJobTokenUsage adds deltas to the job's accumulated counters.
func (s *SQLiteStore) UpdateJobTokenUsage(ctx context.Context, jobID string, deltas sched.TokenUsage) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET
			input_tokens = input_tokens + ?,
			output_tokens = output_tokens + ?,
			reasoning_tokens = reasoning_tokens + ?,
			cached_input_tokens = cached_input_tokens + ?,
			total_tokens = total_tokens + ?,
			updated_at = ?
		WHERE id = ?`,
		deltas.Input, deltas.Output, deltas.Reasoning, deltas.CachedInput, deltas.Total,
		s.now().UnixMilli(), jobID)
	if err != nil {
		return fmt.Errorf("failed to update token usage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read token usage result: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// EngineMetrics reports aggregate persisted counters.
func (s *SQLiteStore) EngineMetrics(ctx context.Context) (sched.StoreMetrics, error) {
	var sm sched.StoreMetrics
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(CASE WHEN status = 'active' THEN 1 END),
			COUNT(CASE WHEN locked = 1 THEN 1 END),
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(reasoning_tokens), 0),
			COALESCE(SUM(cached_input_tokens), 0),
			COALESCE(SUM(total_tokens), 0)
		FROM jobs`).Scan(
		&sm.ActiveJobs, &sm.LockedJobs,
		&sm.Tokens.Input, &sm.Tokens.Output, &sm.Tokens.Reasoning, &sm.Tokens.CachedInput, &sm.Tokens.Total)
	if err != nil {
		return sm, fmt.Errorf("failed to aggregate job metrics: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM job_executions`).Scan(&sm.TotalExecutions); err != nil {
		return sm, fmt.Errorf("failed to count executions: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM job_errors`).Scan(&sm.TotalErrors); err != nil {
		return sm, fmt.Errorf("failed to count job errors: %w", err)
	}
	return sm, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func msOrNil(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func msPtrOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}
