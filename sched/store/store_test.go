package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dshills/schedflow/sched"
)

// storeFixture builds one store implementation for the shared contract
// tests, returning the store plus seeding and clock hooks.
type storeFixture struct {
	name string
	make func(t *testing.T) (st sched.Store, seedJob func(sched.Job), seedEndpoint func(sched.Endpoint), setClock func(func() time.Time))
}

func fixtures() []storeFixture {
	return []storeFixture{
		{
			name: "memory",
			make: func(t *testing.T) (sched.Store, func(sched.Job), func(sched.Endpoint), func(func() time.Time)) {
				m := NewMemoryStore()
				return m, m.AddJob, m.AddEndpoint, m.SetClock
			},
		},
		{
			name: "sqlite",
			make: func(t *testing.T) (sched.Store, func(sched.Job), func(sched.Endpoint), func(func() time.Time)) {
				s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "jobs.db"))
				if err != nil {
					t.Fatalf("NewSQLiteStore: %v", err)
				}
				t.Cleanup(func() { _ = s.Close() })
				ctx := context.Background()
				return s,
					func(j sched.Job) {
						if err := s.CreateJob(ctx, j); err != nil {
							t.Fatalf("CreateJob: %v", err)
						}
					},
					func(ep sched.Endpoint) {
						if err := s.CreateEndpoint(ctx, ep); err != nil {
							t.Fatalf("CreateEndpoint: %v", err)
						}
					},
					s.SetClock
			},
		},
	}
}

func TestStoreFetchDueJobs(t *testing.T) {
	for _, fx := range fixtures() {
		t.Run(fx.name, func(t *testing.T) {
			st, seedJob, _, _ := fx.make(t)
			ctx := context.Background()

			past := time.Now().Add(-time.Hour)
			future := time.Now().Add(time.Hour)
			seedJob(sched.Job{ID: "job-due", Status: sched.JobActive, NextRunAt: &past, Definition: "d"})
			seedJob(sched.Job{ID: "job-asap", Status: sched.JobActive, Definition: "d"}) // nil NextRunAt
			seedJob(sched.Job{ID: "job-later", Status: sched.JobActive, NextRunAt: &future, Definition: "d"})
			seedJob(sched.Job{ID: "job-paused", Status: sched.JobPaused, NextRunAt: &past, Definition: "d"})

			ids, err := st.FetchDueJobs(ctx, 10)
			if err != nil {
				t.Fatalf("FetchDueJobs: %v", err)
			}
			if len(ids) != 2 {
				t.Fatalf("due ids = %v, want 2", ids)
			}
			// Nil NextRunAt ("run as soon as possible") sorts first.
			if ids[0] != "job-asap" || ids[1] != "job-due" {
				t.Errorf("due ids = %v, want [job-asap job-due]", ids)
			}

			t.Run("limit respected", func(t *testing.T) {
				ids, err := st.FetchDueJobs(ctx, 1)
				if err != nil {
					t.Fatalf("FetchDueJobs: %v", err)
				}
				if len(ids) != 1 {
					t.Errorf("due ids = %v, want 1", ids)
				}
			})
		})
	}
}

func TestStoreLockSemantics(t *testing.T) {
	for _, fx := range fixtures() {
		t.Run(fx.name, func(t *testing.T) {
			st, seedJob, _, setClock := fx.make(t)
			ctx := context.Background()

			base := time.Now()
			clock := base
			setClock(func() time.Time { return clock })

			seedJob(sched.Job{ID: "job-1", Status: sched.JobActive, Definition: "d"})

			locked, err := st.LockJob(ctx, "job-1", base.Add(10*time.Minute))
			if err != nil || !locked {
				t.Fatalf("first lock = (%v, %v), want acquired", locked, err)
			}

			t.Run("held lock cannot be reacquired", func(t *testing.T) {
				locked, err := st.LockJob(ctx, "job-1", base.Add(10*time.Minute))
				if err != nil {
					t.Fatalf("LockJob: %v", err)
				}
				if locked {
					t.Error("lock acquired while held and unexpired")
				}
			})

			t.Run("expired lock is stealable", func(t *testing.T) {
				clock = base.Add(11 * time.Minute)
				locked, err := st.LockJob(ctx, "job-1", clock.Add(10*time.Minute))
				if err != nil {
					t.Fatalf("LockJob: %v", err)
				}
				if !locked {
					t.Error("expired lock should be acquirable")
				}
			})

			t.Run("unlock releases", func(t *testing.T) {
				if was, err := st.UnlockJob(ctx, "job-1"); err != nil || !was {
					t.Fatalf("UnlockJob = (%v, %v)", was, err)
				}
				if locked, _ := st.LockJob(ctx, "job-1", clock.Add(time.Minute)); !locked {
					t.Error("lock should be free after unlock")
				}
			})

			t.Run("missing job is not lockable", func(t *testing.T) {
				locked, err := st.LockJob(ctx, "job-ghost", clock.Add(time.Minute))
				if err != nil {
					t.Fatalf("LockJob: %v", err)
				}
				if locked {
					t.Error("lock acquired on a missing job")
				}
			})
		})
	}
}

func TestStoreUnlockStaleJobs(t *testing.T) {
	for _, fx := range fixtures() {
		t.Run(fx.name, func(t *testing.T) {
			st, seedJob, _, setClock := fx.make(t)
			ctx := context.Background()

			base := time.Now()
			clock := base
			setClock(func() time.Time { return clock })

			seedJob(sched.Job{ID: "job-stale", Status: sched.JobActive, Definition: "d"})
			seedJob(sched.Job{ID: "job-held", Status: sched.JobActive, Definition: "d"})

			if locked, err := st.LockJob(ctx, "job-stale", base.Add(5*time.Minute)); err != nil || !locked {
				t.Fatalf("lock job-stale = (%v, %v)", locked, err)
			}
			if locked, err := st.LockJob(ctx, "job-held", base.Add(30*time.Minute)); err != nil || !locked {
				t.Fatalf("lock job-held = (%v, %v)", locked, err)
			}

			t.Run("nothing stale yet", func(t *testing.T) {
				released, err := st.UnlockStaleJobs(ctx, base)
				if err != nil {
					t.Fatalf("UnlockStaleJobs: %v", err)
				}
				if released != 0 {
					t.Errorf("released = %d, want 0 while both locks are live", released)
				}
			})

			clock = base.Add(10 * time.Minute)
			released, err := st.UnlockStaleJobs(ctx, clock)
			if err != nil {
				t.Fatalf("UnlockStaleJobs: %v", err)
			}
			if released != 1 {
				t.Errorf("released = %d, want 1 (only the expired lock)", released)
			}

			if locked, err := st.LockJob(ctx, "job-stale", clock.Add(time.Minute)); err != nil || !locked {
				t.Errorf("job-stale not lockable after sweep: (%v, %v)", locked, err)
			}
			if locked, err := st.LockJob(ctx, "job-held", clock.Add(time.Minute)); err != nil || locked {
				t.Errorf("job-held lock = (%v, %v), want still held", locked, err)
			}
		})
	}
}

func TestStoreJobContext(t *testing.T) {
	for _, fx := range fixtures() {
		t.Run(fx.name, func(t *testing.T) {
			st, seedJob, seedEndpoint, _ := fx.make(t)
			ctx := context.Background()

			seedJob(sched.Job{
				ID: "job-1", OwnerID: "owner-1", Status: sched.JobActive, Definition: "watch the feeds",
				DefaultHeaders: map[string]string{"X-Tenant": "acme"},
			})
			seedEndpoint(sched.Endpoint{
				ID: "ep-1", JobID: "job-1", Method: "GET", URL: "https://example.com/feed",
				Headers: map[string]string{"Authorization": "Bearer t"}, TimeoutMs: 2000,
			})
			seedEndpoint(sched.Endpoint{
				ID: "ep-2", JobID: "job-1", Method: "POST", URL: "https://example.com/sync",
				Headers: map[string]string{}, FireAndForget: true,
			})

			jc, err := st.JobContext(ctx, "job-1")
			if err != nil {
				t.Fatalf("JobContext: %v", err)
			}
			if jc.Job.ID != "job-1" || jc.Job.Definition != "watch the feeds" {
				t.Errorf("job = %+v", jc.Job)
			}
			if jc.Job.DefaultHeaders["X-Tenant"] != "acme" {
				t.Errorf("DefaultHeaders = %+v, want X-Tenant preserved", jc.Job.DefaultHeaders)
			}
			if len(jc.Endpoints) != 2 {
				t.Fatalf("endpoints = %d, want 2", len(jc.Endpoints))
			}
			ep, ok := jc.EndpointByID("ep-1")
			if !ok || ep.Headers["Authorization"] != "Bearer t" || ep.TimeoutMs != 2000 {
				t.Errorf("ep-1 = %+v", ep)
			}
			if ep2, _ := jc.EndpointByID("ep-2"); !ep2.FireAndForget {
				t.Error("ep-2 lost FireAndForget")
			}

			t.Run("missing job", func(t *testing.T) {
				_, err := st.JobContext(ctx, "job-ghost")
				if !errors.Is(err, ErrNotFound) {
					t.Errorf("error = %v, want ErrNotFound", err)
				}
			})
		})
	}
}

func TestStoreExecutionLifecycle(t *testing.T) {
	for _, fx := range fixtures() {
		t.Run(fx.name, func(t *testing.T) {
			st, seedJob, _, _ := fx.make(t)
			ctx := context.Background()

			seedJob(sched.Job{ID: "job-1", Status: sched.JobActive, Definition: "d"})

			if err := st.UpdateExecutionStatus(ctx, "job-1", sched.ExecutionRunning, ""); err != nil {
				t.Fatalf("running transition: %v", err)
			}

			plan := sched.ExecutionPlan{
				EndpointsToCall:   []sched.PlannedCall{{EndpointID: "ep-1", Priority: 1}},
				ExecutionStrategy: sched.Sequential,
				Reasoning:         "poll once",
				Confidence:        0.8,
			}
			if err := st.RecordExecutionPlan(ctx, "job-1", plan); err != nil {
				t.Fatalf("RecordExecutionPlan: %v", err)
			}

			results := []sched.EndpointResult{{
				EndpointID: "ep-1", Success: true, StatusCode: 200,
				ExecutionTimeMs: 42, Attempts: 1, Timestamp: time.Now(),
			}}
			if err := st.RecordEndpointResults(ctx, "job-1", results); err != nil {
				t.Fatalf("RecordEndpointResults: %v", err)
			}

			summary := sched.ExecutionSummary{SuccessCount: 1, TotalDurationMs: 42}
			if err := st.RecordExecutionSummary(ctx, "job-1", summary); err != nil {
				t.Fatalf("RecordExecutionSummary: %v", err)
			}

			if err := st.UpdateExecutionStatus(ctx, "job-1", sched.ExecutionCompleted, ""); err != nil {
				t.Fatalf("completed transition: %v", err)
			}

			metrics, err := st.EngineMetrics(ctx)
			if err != nil {
				t.Fatalf("EngineMetrics: %v", err)
			}
			if metrics.TotalExecutions != 1 {
				t.Errorf("TotalExecutions = %d, want 1 (one row per cycle)", metrics.TotalExecutions)
			}

			t.Run("second cycle opens a new row", func(t *testing.T) {
				if err := st.UpdateExecutionStatus(ctx, "job-1", sched.ExecutionRunning, ""); err != nil {
					t.Fatalf("running transition: %v", err)
				}
				if err := st.UpdateExecutionStatus(ctx, "job-1", sched.ExecutionFailed, "plan: boom"); err != nil {
					t.Fatalf("failed transition: %v", err)
				}
				metrics, err := st.EngineMetrics(ctx)
				if err != nil {
					t.Fatalf("EngineMetrics: %v", err)
				}
				if metrics.TotalExecutions != 2 {
					t.Errorf("TotalExecutions = %d, want 2", metrics.TotalExecutions)
				}
			})
		})
	}
}

func TestStoreScheduleAndTokens(t *testing.T) {
	for _, fx := range fixtures() {
		t.Run(fx.name, func(t *testing.T) {
			st, seedJob, _, _ := fx.make(t)
			ctx := context.Background()

			seedJob(sched.Job{ID: "job-1", Status: sched.JobActive, Definition: "d"})

			next := time.Now().Add(45 * time.Minute).Truncate(time.Millisecond)
			if err := st.UpdateJobSchedule(ctx, "job-1", sched.ScheduleDecision{NextRunAt: next}); err != nil {
				t.Fatalf("UpdateJobSchedule: %v", err)
			}

			// The job must no longer be due.
			ids, err := st.FetchDueJobs(ctx, 10)
			if err != nil {
				t.Fatalf("FetchDueJobs: %v", err)
			}
			if len(ids) != 0 {
				t.Errorf("due ids = %v, want none after scheduling into the future", ids)
			}

			if err := st.UpdateJobTokenUsage(ctx, "job-1", sched.TokenUsage{Input: 100, Output: 50, Total: 150}); err != nil {
				t.Fatalf("UpdateJobTokenUsage: %v", err)
			}
			if err := st.UpdateJobTokenUsage(ctx, "job-1", sched.TokenUsage{Input: 10, Output: 5, Total: 15}); err != nil {
				t.Fatalf("UpdateJobTokenUsage: %v", err)
			}

			metrics, err := st.EngineMetrics(ctx)
			if err != nil {
				t.Fatalf("EngineMetrics: %v", err)
			}
			if metrics.Tokens.Total != 165 || metrics.Tokens.Input != 110 {
				t.Errorf("tokens = %+v, want accumulated deltas", metrics.Tokens)
			}

			t.Run("missing job", func(t *testing.T) {
				err := st.UpdateJobSchedule(ctx, "job-ghost", sched.ScheduleDecision{NextRunAt: next})
				if !errors.Is(err, ErrNotFound) {
					t.Errorf("UpdateJobSchedule error = %v, want ErrNotFound", err)
				}
				err = st.UpdateJobTokenUsage(ctx, "job-ghost", sched.TokenUsage{Total: 1})
				if !errors.Is(err, ErrNotFound) {
					t.Errorf("UpdateJobTokenUsage error = %v, want ErrNotFound", err)
				}
			})
		})
	}
}

func TestStoreJobErrors(t *testing.T) {
	for _, fx := range fixtures() {
		t.Run(fx.name, func(t *testing.T) {
			st, seedJob, _, _ := fx.make(t)
			ctx := context.Background()

			seedJob(sched.Job{ID: "job-1", Status: sched.JobActive, Definition: "d"})

			if err := st.RecordJobError(ctx, "job-1", "plan: invalid enum", "PLAN_FAILED"); err != nil {
				t.Fatalf("RecordJobError: %v", err)
			}
			if err := st.RecordJobError(ctx, "job-1", "execute: timeout", "EXECUTE_FAILED"); err != nil {
				t.Fatalf("RecordJobError: %v", err)
			}

			metrics, err := st.EngineMetrics(ctx)
			if err != nil {
				t.Fatalf("EngineMetrics: %v", err)
			}
			if metrics.TotalErrors != 2 {
				t.Errorf("TotalErrors = %d, want 2 (append-only log)", metrics.TotalErrors)
			}
		})
	}
}

func TestMemoryStoreInspectionHelpers(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	m.AddJob(sched.Job{ID: "job-1", Status: sched.JobActive, Definition: "d"})
	m.AddMessage("job-1", sched.Message{Role: "user", Content: "prefer mornings"})
	m.AddEndpointUsage("job-1", sched.EndpointUsage{EndpointID: "ep-1", Success: true, StatusCode: 200})

	jc, err := m.JobContext(ctx, "job-1")
	if err != nil {
		t.Fatalf("JobContext: %v", err)
	}
	if len(jc.Messages) != 1 || jc.Messages[0].Content != "prefer mornings" {
		t.Errorf("messages = %+v", jc.Messages)
	}
	if len(jc.Usage) != 1 || !jc.Usage[0].Success {
		t.Errorf("usage = %+v", jc.Usage)
	}

	_ = m.UpdateExecutionStatus(ctx, "job-1", sched.ExecutionRunning, "")
	plan := sched.ExecutionPlan{ExecutionStrategy: sched.Parallel}
	_ = m.RecordExecutionPlan(ctx, "job-1", plan)

	got, ok := m.LastPlan("job-1")
	if !ok || got.ExecutionStrategy != sched.Parallel {
		t.Errorf("LastPlan = (%+v, %v)", got, ok)
	}
}
