package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/dshills/schedflow/sched"
)

// MySQLStore is a MySQL implementation of sched.Store for production
// deployments where several engine instances share one database.
//
// LockJob's conditional UPDATE is the cross-instance concurrency primitive:
// MySQL's row locking guarantees at most one engine wins the transition
// from unlocked-or-expired to locked.
//
// Timestamps are stored as Unix milliseconds (BIGINT) so lock-expiry and
// due-time comparisons are plain integer comparisons and independent of
// session time zones.
type MySQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewMySQLStore creates a MySQL-backed store.
//
// The dsn parameter is a go-sql-driver DSN, e.g.
// "user:pass@tcp(localhost:3306)/schedflow?parseTime=true".
// The store verifies connectivity, configures the connection pool, and
// creates the schema on first use.
//
// Example:
//
//	st, err := store.NewMySQLStore("user:pass@tcp(db:3306)/schedflow?parseTime=true")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	st := &MySQLStore{db: db, now: time.Now}
	if err := st.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return st, nil
}

// Close closes the underlying database.
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

// SetClock replaces the store's time source for tests.
func (s *MySQLStore) SetClock(now func() time.Time) {
	s.now = now
}

func (s *MySQLStore) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id VARCHAR(64) NOT NULL PRIMARY KEY,
			owner_id VARCHAR(64) NOT NULL DEFAULT '',
			definition TEXT NOT NULL,
			status VARCHAR(16) NOT NULL DEFAULT 'active',
			locked TINYINT(1) NOT NULL DEFAULT 0,
			lock_expires_at BIGINT NULL,
			next_run_at BIGINT NULL,
			default_headers JSON NULL,
			input_tokens BIGINT NOT NULL DEFAULT 0,
			output_tokens BIGINT NOT NULL DEFAULT 0,
			reasoning_tokens BIGINT NOT NULL DEFAULT 0,
			cached_input_tokens BIGINT NOT NULL DEFAULT 0,
			total_tokens BIGINT NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			INDEX idx_jobs_due (status, locked, next_run_at)
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS endpoints (
			id VARCHAR(64) NOT NULL PRIMARY KEY,
			job_id VARCHAR(64) NOT NULL,
			method VARCHAR(8) NOT NULL,
			url TEXT NOT NULL,
			headers JSON,
			timeout_ms INT NOT NULL DEFAULT 0,
			fire_and_forget TINYINT(1) NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL,
			INDEX idx_endpoints_job (job_id),
			CONSTRAINT fk_endpoints_job FOREIGN KEY (job_id) REFERENCES jobs(id) ON DELETE CASCADE
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS job_messages (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			job_id VARCHAR(64) NOT NULL,
			role VARCHAR(16) NOT NULL,
			content TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			INDEX idx_messages_job (job_id, created_at),
			CONSTRAINT fk_messages_job FOREIGN KEY (job_id) REFERENCES jobs(id) ON DELETE CASCADE
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS endpoint_usage (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			job_id VARCHAR(64) NOT NULL,
			endpoint_id VARCHAR(64) NOT NULL,
			success TINYINT(1) NOT NULL,
			status_code INT NOT NULL DEFAULT 0,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			called_at BIGINT NOT NULL,
			INDEX idx_usage_job (job_id, called_at),
			CONSTRAINT fk_usage_job FOREIGN KEY (job_id) REFERENCES jobs(id) ON DELETE CASCADE
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS job_executions (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			job_id VARCHAR(64) NOT NULL,
			status VARCHAR(16) NOT NULL DEFAULT 'pending',
			plan JSON NULL,
			results JSON NULL,
			summary JSON NULL,
			error_message TEXT,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			INDEX idx_executions_job (job_id, id),
			CONSTRAINT fk_executions_job FOREIGN KEY (job_id) REFERENCES jobs(id) ON DELETE CASCADE
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS job_errors (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			job_id VARCHAR(64) NOT NULL,
			message TEXT NOT NULL,
			code VARCHAR(64) NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			INDEX idx_errors_job (job_id, created_at)
		) ENGINE=InnoDB`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// CreateJob inserts a new job row.
func (s *MySQLStore) CreateJob(ctx context.Context, job sched.Job) error {
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
func (s *MySQLStore) CreateEndpoint(ctx context.Context, ep sched.Endpoint) error {
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
func (s *MySQLStore) FetchDueJobs(ctx context.Context, limit int) ([]string, error) {
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

// LockJob acquires the lock with a single conditional UPDATE; InnoDB row
// locking guarantees at most one winner across engine instances.
func (s *MySQLStore) LockJob(ctx context.Context, jobID string, lockExpiresAt time.Time) (bool, error) {
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
func (s *MySQLStore) UnlockStaleJobs(ctx context.Context, now time.Time) (int, error) {
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
func (s *MySQLStore) UnlockJob(ctx context.Context, jobID string) (bool, error) {
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
	return n >= 1, nil
}

// JobContext assembles the per-cycle snapshot for a job.
func (s *MySQLStore) JobContext(ctx context.Context, jobID string) (*sched.JobContext, error) {
	var (
		job            sched.Job
		status         string
		locked         int
		lockExpiresAt  sql.NullInt64
		nextRunAt      sql.NullInt64
		defaultHeaders sql.NullString
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
	if defaultHeaders.Valid && defaultHeaders.String != "" {
		if err := json.Unmarshal([]byte(defaultHeaders.String), &job.DefaultHeaders); err != nil {
			return nil, fmt.Errorf("failed to unmarshal default headers: %w", err)
		}
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

func (s *MySQLStore) loadEndpoints(ctx context.Context, jobID string) ([]sched.Endpoint, error) {
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
			headers   sql.NullString
			faf       int
			createdMs int64
		)
		if err := rows.Scan(&ep.ID, &ep.JobID, &ep.Method, &ep.URL, &headers, &ep.TimeoutMs, &faf, &createdMs); err != nil {
			return nil, fmt.Errorf("failed to scan endpoint: %w", err)
		}
		if headers.Valid && headers.String != "" {
			if err := json.Unmarshal([]byte(headers.String), &ep.Headers); err != nil {
				return nil, fmt.Errorf("failed to unmarshal endpoint headers: %w", err)
			}
		}
		ep.FireAndForget = faf != 0
		ep.CreatedAt = time.UnixMilli(createdMs)
		endpoints = append(endpoints, ep)
	}
	return endpoints, rows.Err()
}

func (s *MySQLStore) loadMessages(ctx context.Context, jobID string) ([]sched.Message, error) {
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

func (s *MySQLStore) loadUsage(ctx context.Context, jobID string) ([]sched.EndpointUsage, error) {
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
func (s *MySQLStore) RecordExecutionPlan(ctx context.Context, jobID string, plan sched.ExecutionPlan) error {
	data, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}
	return s.updateCurrentExecution(ctx, jobID, "plan", string(data))
}

// RecordEndpointResults stores the results JSON on the current execution
// row.
func (s *MySQLStore) RecordEndpointResults(ctx context.Context, jobID string, results []sched.EndpointResult) error {
	data, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	return s.updateCurrentExecution(ctx, jobID, "results", string(data))
}

// RecordExecutionSummary stores the summary JSON on the current execution
// row.
func (s *MySQLStore) RecordExecutionSummary(ctx context.Context, jobID string, summary sched.ExecutionSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	return s.updateCurrentExecution(ctx, jobID, "summary", string(data))
}

// updateCurrentExecution sets one JSON column on the job's latest execution
// row. column is one of the fixed names "plan", "results", "summary"; never
// user input. MySQL cannot update a table named in its own subquery, hence
// the derived-table wrapper.
func (s *MySQLStore) updateCurrentExecution(ctx context.Context, jobID, column, value string) error {
	if err := s.ensureExecutionRow(ctx, jobID); err != nil {
		return err
	}
	// #nosec G201 -- column is a fixed identifier chosen by the caller above
	query := fmt.Sprintf(`
		UPDATE job_executions SET %s = ?, updated_at = ?
		WHERE id = (SELECT id FROM (
			SELECT MAX(id) AS id FROM job_executions WHERE job_id = ?
		) latest)`, column)
	if _, err := s.db.ExecContext(ctx, query, value, s.now().UnixMilli(), jobID); err != nil {
		return fmt.Errorf("failed to update execution %s: %w", column, err)
	}
	return nil
}

func (s *MySQLStore) ensureExecutionRow(ctx context.Context, jobID string) error {
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
func (s *MySQLStore) UpdateJobSchedule(ctx context.Context, jobID string, decision sched.ScheduleDecision) error {
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
		// RowsAffected is 0 both for a missing row and for an identical
		// value; distinguish with an existence probe.
		var one int
		probeErr := s.db.QueryRowContext(ctx, `SELECT 1 FROM jobs WHERE id = ?`, jobID).Scan(&one)
		if errors.Is(probeErr, sql.ErrNoRows) {
			return ErrNotFound
		}
	}
	return nil
}

// RecordJobError appends to the job's error log.
func (s *MySQLStore) RecordJobError(ctx context.Context, jobID, message, code string) error {
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
func (s *MySQLStore) UpdateExecutionStatus(ctx context.Context, jobID string, status sched.ExecutionStatus, errorMessage string) error {
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
		WHERE id = (SELECT id FROM (
			SELECT MAX(id) AS id FROM job_executions WHERE job_id = ?
		) latest)`, string(status), msg, nowMs, jobID)
	if err != nil {
		return fmt.Errorf("failed to update execution status: %w", err)
	}
	return nil
}

// UpdateJobTokenUsage adds deltas to the job's accumulated counters.
func (s *MySQLStore) UpdateJobTokenUsage(ctx context.Context, jobID string, deltas sched.TokenUsage) error {
	_, err := s.db.ExecContext(ctx, `
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
	return nil
}

// EngineMetrics reports aggregate persisted counters.
func (s *MySQLStore) EngineMetrics(ctx context.Context) (sched.StoreMetrics, error) {
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
