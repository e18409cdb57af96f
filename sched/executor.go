package sched

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/dshills/schedflow/sched/emit"
)

// Executor issues the HTTP calls an execution plan prescribes. It owns
// strategy dispatch (sequential, parallel, mixed), per-attempt timeouts,
// retries via the configured RetryPolicy, circuit breaking, and
// cancellation propagation.
//
// An Executor is safe for concurrent use; the cycle orchestrator shares one
// instance across all job workers.
type Executor struct {
	cfg     ExecutionConfig
	client  *http.Client
	breaker *CircuitBreaker
	policy  RetryPolicy
	hooks   *Hooks
	metrics *PrometheusMetrics
	emitter emit.Emitter
	now     func() time.Time
	sleep   func(ctx context.Context, cancel <-chan struct{}, d time.Duration)
}

// ExecutorDeps are the collaborators an Executor needs. Nil fields get
// working defaults: a plain http.Client, the default backoff policy, a
// breaker built from cfg.CircuitBreaker, and a null emitter.
type ExecutorDeps struct {
	Client  *http.Client
	Breaker *CircuitBreaker
	Policy  RetryPolicy
	Hooks   *Hooks
	Metrics *PrometheusMetrics
	Emitter emit.Emitter
}

// NewExecutor builds an executor from the execution config and its
// collaborators.
func NewExecutor(cfg ExecutionConfig, deps ExecutorDeps) *Executor {
	e := &Executor{
		cfg:     cfg,
		client:  deps.Client,
		breaker: deps.Breaker,
		policy:  deps.Policy,
		hooks:   deps.Hooks,
		metrics: deps.Metrics,
		emitter: deps.Emitter,
		now:     time.Now,
		sleep:   sleepInterruptible,
	}
	if e.client == nil {
		e.client = &http.Client{}
	}
	if e.policy == nil {
		e.policy = NewBackoffPolicy(0, 0)
	}
	if e.emitter == nil {
		e.emitter = emit.NewNullEmitter()
	}
	if e.breaker == nil {
		e.breaker = NewCircuitBreaker(cfg.CircuitBreaker, func(t CircuitTransition) {
			e.hooks.circuitStateChange(t)
			if e.metrics != nil {
				e.metrics.RecordCircuitTransition(string(t.From), string(t.To))
			}
			e.emitter.Emit(emit.Event{
				EndpointID: t.EndpointID,
				Msg:        "circuit_state_change",
				Meta:       map[string]interface{}{"from": string(t.From), "to": string(t.To), "reason": t.Reason},
			})
		})
	}
	return e
}

// Breaker exposes the executor's circuit breaker for state inspection.
func (e *Executor) Breaker() *CircuitBreaker {
	return e.breaker
}

// ExecuteEndpoints runs the plan's endpoint calls according to its
// execution strategy and returns one result per attempted call. Results
// preserve plan order for sequential strategy and completion-independent
// plan order for parallel and mixed.
//
// The only error returned is a *CircularDependencyError under the mixed
// strategy; every other failure is reported inside its EndpointResult.
func (e *Executor) ExecuteEndpoints(ctx context.Context, jc *JobContext, plan *ExecutionPlan) ([]EndpointResult, error) {
	if len(plan.EndpointsToCall) == 0 {
		return []EndpointResult{}, nil
	}

	switch plan.ExecutionStrategy {
	case Parallel:
		return e.executeParallel(ctx, jc, plan.EndpointsToCall, plan.ConcurrencyLimit), nil
	case Mixed:
		return e.executeMixed(ctx, jc, plan.EndpointsToCall, plan.ConcurrencyLimit)
	default:
		return e.executeSequential(ctx, jc, plan.EndpointsToCall), nil
	}
}

// executeSequential runs calls one at a time in ascending priority order
// (stable for equal priorities). A failed critical call stops the
// iteration; later calls are not attempted.
func (e *Executor) executeSequential(ctx context.Context, jc *JobContext, calls []PlannedCall) []EndpointResult {
	ordered := make([]PlannedCall, len(calls))
	copy(ordered, calls)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	results := make([]EndpointResult, 0, len(ordered))
	for _, call := range ordered {
		res := e.executeSingle(ctx, jc, call)
		results = append(results, res)
		if call.Critical && !res.Success {
			break
		}
	}
	return results
}

// executeParallel runs all calls through a bounded worker pool. The bound
// is min(planLimit or DefaultConcurrencyLimit, MaxConcurrency).
func (e *Executor) executeParallel(ctx context.Context, jc *JobContext, calls []PlannedCall, planLimit int) []EndpointResult {
	limit := e.concurrencyBound(planLimit)

	results := make([]EndpointResult, len(calls))
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call PlannedCall) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = e.executeSingle(ctx, jc, call)
		}(i, call)
	}
	wg.Wait()
	return results
}

// executeMixed runs calls in dependency waves: a call is runnable once
// every endpoint it depends on has completed (a dependency absent from the
// plan counts as satisfied). Calls depending on a critical call that failed
// are dropped without being attempted. An empty wave with runnable work
// still pending means the dependency graph has a cycle.
func (e *Executor) executeMixed(ctx context.Context, jc *JobContext, calls []PlannedCall, planLimit int) ([]EndpointResult, error) {
	inPlan := make(map[string]bool, len(calls))
	for _, c := range calls {
		inPlan[c.EndpointID] = true
	}

	completed := make(map[string]bool, len(calls))
	criticalFailed := make(map[string]bool)

	pending := make([]PlannedCall, len(calls))
	copy(pending, calls)

	var results []EndpointResult
	for len(pending) > 0 {
		var wave, rest []PlannedCall
		for _, c := range pending {
			blocked, ready := false, true
			for _, dep := range c.DependsOn {
				if criticalFailed[dep] {
					blocked = true
					break
				}
				if inPlan[dep] && !completed[dep] {
					ready = false
				}
			}
			switch {
			case blocked:
				// Dropped: a critical dependency failed.
			case ready:
				wave = append(wave, c)
			default:
				rest = append(rest, c)
			}
		}

		if len(wave) == 0 {
			if len(rest) == 0 {
				break
			}
			ids := make([]string, 0, len(rest))
			for _, c := range rest {
				ids = append(ids, c.EndpointID)
			}
			sort.Strings(ids)
			return results, &CircularDependencyError{PendingIDs: ids}
		}

		waveResults := e.executeParallel(ctx, jc, wave, planLimit)
		for i, res := range waveResults {
			completed[wave[i].EndpointID] = true
			if wave[i].Critical && !res.Success {
				criticalFailed[wave[i].EndpointID] = true
			}
		}
		results = append(results, waveResults...)
		pending = rest
	}
	return results, nil
}

func (e *Executor) concurrencyBound(planLimit int) int {
	limit := planLimit
	if limit <= 0 {
		limit = e.cfg.DefaultConcurrencyLimit
	}
	if limit > e.cfg.MaxConcurrency {
		limit = e.cfg.MaxConcurrency
	}
	if limit < 1 {
		limit = 1
	}
	return limit
}

// executeSingle performs one planned call: endpoint lookup, circuit check,
// request construction, then the attempt loop with retries.
func (e *Executor) executeSingle(ctx context.Context, jc *JobContext, call PlannedCall) EndpointResult {
	start := e.now()
	jobID := jc.Job.ID

	ep, ok := jc.EndpointByID(call.EndpointID)
	if !ok {
		return EndpointResult{
			EndpointID: call.EndpointID,
			Success:    false,
			StatusCode: 0,
			Error:      "endpoint not found",
			Attempts:   1,
			Timestamp:  e.now(),
		}
	}

	if !e.breaker.Allow(ep.ID) {
		res := EndpointResult{
			EndpointID: ep.ID,
			Success:    false,
			Error:      "circuit_open",
			Attempts:   0,
			Timestamp:  e.now(),
		}
		e.recordOutcome(jobID, res, 0)
		return res
	}

	reqURL, headers, body, err := e.buildRequest(jc, ep, call)
	if err != nil {
		e.breaker.RecordFailure(ep.ID)
		res := EndpointResult{
			EndpointID: ep.ID,
			Success:    false,
			Error:      err.Error(),
			Attempts:   1,
			Timestamp:  e.now(),
		}
		e.recordOutcome(jobID, res, e.now().Sub(start))
		return res
	}

	maxAttempts := e.cfg.MaxEndpointRetries + 1
	if ep.FireAndForget {
		maxAttempts = 1
	}
	timeout := e.cfg.DefaultTimeout
	if ep.TimeoutMs > 0 {
		timeout = time.Duration(ep.TimeoutMs) * time.Millisecond
	}

	var res EndpointResult
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		e.hooks.endpointProgress(EndpointProgressUpdate{
			JobID: jobID, EndpointID: ep.ID, Status: EndpointRunning, Attempt: attempt,
		})

		status, content, truncated, aborted, callErr := e.attempt(ctx, jc.Exec.Cancel, ep, reqURL, headers, body, timeout)

		res = EndpointResult{
			EndpointID:      ep.ID,
			StatusCode:      status,
			ResponseContent: content,
			Truncated:       truncated,
			Attempts:        attempt,
			Aborted:         aborted,
			Timestamp:       e.now(),
			ExecutionTimeMs: e.now().Sub(start).Milliseconds(),
		}

		if callErr == nil && status >= 200 && status < 300 {
			res.Success = true
			e.breaker.RecordSuccess(ep.ID)
			e.hooks.endpointProgress(EndpointProgressUpdate{
				JobID: jobID, EndpointID: ep.ID, Status: EndpointSuccess, Attempt: attempt,
			})
			e.recordOutcome(jobID, res, e.now().Sub(start))
			return res
		}

		if callErr != nil {
			res.Error = callErr.Error()
		} else {
			res.Error = fmt.Sprintf("unexpected status %d", status)
		}

		cls := ClassifyEndpointFailure(callErr, status, aborted)
		if aborted {
			// Aborted calls do not count toward the breaker's failures.
			e.breaker.RecordAborted(ep.ID)
			e.hooks.endpointProgress(EndpointProgressUpdate{
				JobID: jobID, EndpointID: ep.ID, Status: EndpointFailed, Attempt: attempt, Error: res.Error,
			})
			e.recordOutcome(jobID, res, e.now().Sub(start))
			return res
		}

		decision := e.policy.Evaluate(RetryInput{
			Attempt:     attempt,
			MaxAttempts: maxAttempts,
			Category:    cls.Category,
			Transient:   cls.Transient,
			StatusCode:  status,
			ErrMessage:  res.Error,
		})
		if decision.Retry {
			e.hooks.retryAttempt(RetryAttemptUpdate{JobID: jobID, EndpointID: ep.ID, Attempt: attempt})
			if e.metrics != nil {
				e.metrics.IncrementRetries(string(cls.Category))
			}
			e.emitter.Emit(emit.Event{
				JobID: jobID, EndpointID: ep.ID, Msg: "endpoint_retry",
				Meta: map[string]interface{}{"attempt": attempt, "category": string(cls.Category)},
			})
			e.sleep(ctx, jc.Exec.Cancel, decision.Delay)
			continue
		}

		if attempt == maxAttempts {
			e.hooks.retryExhausted(RetryExhaustedUpdate{JobID: jobID, EndpointID: ep.ID, Attempts: attempt})
		}
		break
	}

	e.breaker.RecordFailure(ep.ID)
	e.hooks.endpointProgress(EndpointProgressUpdate{
		JobID: jobID, EndpointID: ep.ID, Status: EndpointFailed, Attempt: res.Attempts, Error: res.Error,
	})
	e.recordOutcome(jobID, res, e.now().Sub(start))
	return res
}

// buildRequest resolves URL, headers, and body for a planned call. GET
// parameters become query-string entries; other methods carry a JSON body
// with Content-Type set unless the plan or endpoint already set one.
// Header precedence, lowest to highest: job defaults, endpoint defaults,
// plan-supplied.
func (e *Executor) buildRequest(jc *JobContext, ep Endpoint, call PlannedCall) (string, map[string]string, []byte, error) {
	headers := make(map[string]string, len(jc.Job.DefaultHeaders)+len(ep.Headers)+len(call.Headers))
	for k, v := range jc.Job.DefaultHeaders {
		headers[k] = v
	}
	for k, v := range ep.Headers {
		headers[k] = v
	}
	for k, v := range call.Headers {
		headers[k] = v
	}

	reqURL := ep.URL
	var body []byte

	if ep.Method == http.MethodGet {
		if len(call.Parameters) > 0 {
			u, err := url.Parse(ep.URL)
			if err != nil {
				return "", nil, nil, fmt.Errorf("invalid endpoint url: %w", err)
			}
			q := u.Query()
			for k, v := range call.Parameters {
				q.Set(k, fmt.Sprintf("%v", v))
			}
			u.RawQuery = q.Encode()
			reqURL = u.String()
		}
	} else if len(call.Parameters) > 0 {
		data, err := json.Marshal(call.Parameters)
		if err != nil {
			return "", nil, nil, fmt.Errorf("marshal parameters: %w", err)
		}
		body = data
		if _, ok := headers["Content-Type"]; !ok {
			headers["Content-Type"] = "application/json"
		}
	}

	return reqURL, headers, body, nil
}

// attempt issues one HTTP request with a per-attempt timeout linked to the
// cycle's cancellation signal. The returned aborted flag is true when the
// cancellation fired before the attempt completed.
func (e *Executor) attempt(ctx context.Context, cancel <-chan struct{}, ep Endpoint, reqURL string, headers map[string]string, body []byte, timeout time.Duration) (status int, content string, truncated, aborted bool, err error) {
	attemptCtx, cancelFn := context.WithTimeout(ctx, timeout)
	defer cancelFn()

	if cancel != nil {
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-cancel:
				cancelFn()
			case <-stop:
			}
		}()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(attemptCtx, ep.Method, reqURL, reader)
	if err != nil {
		return 0, "", false, false, fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, "", false, cancelFired(cancel), err
	}
	defer func() { _ = resp.Body.Close() }()

	if ep.FireAndForget {
		return resp.StatusCode, "", false, false, nil
	}

	raw, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return resp.StatusCode, "", false, cancelFired(cancel), fmt.Errorf("read body: %w", readErr)
	}

	content, truncated = truncateBody(string(raw), e.cfg.ResponseContentLengthLimit)
	return resp.StatusCode, content, truncated, false, nil
}

// recordOutcome forwards one finished call to metrics and the emitter.
func (e *Executor) recordOutcome(jobID string, res EndpointResult, latency time.Duration) {
	outcome := "failed"
	switch {
	case res.Success:
		outcome = "success"
	case res.Aborted:
		outcome = "aborted"
	case res.Error == "circuit_open":
		outcome = "circuit_open"
	}
	if e.metrics != nil {
		e.metrics.RecordEndpointCall(outcome, latency)
	}
	e.emitter.Emit(emit.Event{
		JobID:      jobID,
		EndpointID: res.EndpointID,
		Msg:        "endpoint_result",
		Meta: map[string]interface{}{
			"outcome":     outcome,
			"status_code": res.StatusCode,
			"attempts":    res.Attempts,
			"duration_ms": res.ExecutionTimeMs,
		},
	})
}

// truncateBody caps a response body at limit characters. A zero limit
// stores the empty string, with truncated reporting whether anything was
// dropped.
func truncateBody(body string, limit int) (string, bool) {
	if limit < 0 {
		return body, false
	}
	runes := []rune(body)
	if len(runes) <= limit {
		return body, false
	}
	return string(runes[:limit]), true
}

func cancelFired(cancel <-chan struct{}) bool {
	if cancel == nil {
		return false
	}
	select {
	case <-cancel:
		return true
	default:
		return false
	}
}

// sleepInterruptible waits for d unless the context or the cancellation
// signal fires first.
func sleepInterruptible(ctx context.Context, cancel <-chan struct{}, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	case <-cancel:
	}
}
