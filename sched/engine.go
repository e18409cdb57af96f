package sched

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dshills/schedflow/sched/emit"
)

// Engine is the adaptive scheduling engine. It periodically runs processing
// cycles: fetch due jobs, and for each one lock it, ask the reasoner for an
// execution plan, run the plan's endpoint calls, ask the reasoner for the
// next run time, persist everything, and unlock.
//
// Construct with NewEngine, then Start to run on the configured interval,
// or ProcessCycle to drive cycles manually.
//
// Example:
//
//	st, _ := store.NewSQLiteStore("jobs.db")
//	rsn := reason.NewGateway(provider, cfg.Agent)
//	engine, err := sched.NewEngine(st, rsn, cfg,
//	    sched.WithEmitter(emit.NewLogEmitter(os.Stdout, true)),
//	    sched.WithMetrics(sched.NewPrometheusMetrics(nil)),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := engine.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Stop()
type Engine struct {
	cfg      Config
	store    Store
	reasoner Reasoner
	executor *Executor
	hooks    *Hooks
	metrics  *PrometheusMetrics
	emitter  emit.Emitter
	state    *engineState
	now      func() time.Time

	escMu       sync.Mutex
	escalations map[string]escalationRecord

	lifecycleMu sync.Mutex
	ticker      *time.Ticker
	tickDone    chan struct{}
	cycleMu     sync.Mutex // held while a cycle runs; Stop waits on it
}

type escalationRecord struct {
	level    EscalationLevel
	disabled []string
}

// NewEngine builds an engine from a store, a reasoner, and a validated
// configuration. Options attach hooks, metrics, an emitter, or replace
// collaborators; defaults are a null emitter, no hooks, no metrics, a plain
// HTTP client, and the default backoff retry policy.
func NewEngine(st Store, rsn Reasoner, cfg Config, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, &EngineError{Code: "INVALID_CONFIG", Message: "store is required"}
	}
	if rsn == nil {
		return nil, &EngineError{Code: "INVALID_CONFIG", Message: "reasoner is required"}
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ec := &engineConfig{}
	for _, opt := range opts {
		if err := opt(ec); err != nil {
			return nil, err
		}
	}

	en := &Engine{
		cfg:         cfg,
		store:       st,
		reasoner:    rsn,
		hooks:       ec.hooks,
		metrics:     ec.metrics,
		emitter:     ec.emitter,
		state:       newEngineState(),
		now:         ec.now,
		escalations: make(map[string]escalationRecord),
	}
	if en.emitter == nil {
		en.emitter = emit.NewNullEmitter()
	}
	if en.hooks == nil {
		en.hooks = &Hooks{}
	}
	if en.now == nil {
		en.now = time.Now
	}

	if en.metrics != nil {
		en.metrics.SetSamplingRate(cfg.Metrics.SamplingRate)
		en.metrics.SetTrackTokens(cfg.Metrics.TrackTokenUsage)
	}

	client := ec.httpClient
	if client == nil {
		client = &http.Client{}
	}
	en.executor = NewExecutor(cfg.Execution, ExecutorDeps{
		Client:  client,
		Policy:  ec.retryPolicy,
		Hooks:   en.hooks,
		Metrics: en.metrics,
		Emitter: en.emitter,
	})
	return en, nil
}

// Start begins periodic cycle processing at the configured interval.
// Returns ErrEngineNotStopped if the engine is already running. Cycle-level
// errors are emitted, never propagated, and the tick keeps running — except
// a store failure, which halts ticking and parks the engine in StatusError.
// A tick arriving while a cycle is still in progress is dropped; ticks
// arriving while paused are skipped.
func (en *Engine) Start(ctx context.Context) error {
	en.lifecycleMu.Lock()
	defer en.lifecycleMu.Unlock()

	if en.state.getStatus() != StatusStopped {
		return ErrEngineNotStopped
	}
	en.state.markStarted(en.now())

	en.ticker = time.NewTicker(en.cfg.Scheduler.ProcessingInterval)
	en.tickDone = make(chan struct{})
	en.emitter.Emit(emit.Event{Msg: "engine_started"})

	go func(ticker *time.Ticker, done chan struct{}) {
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if en.state.getStatus() != StatusRunning {
					continue
				}
				if _, err := en.ProcessCycle(ctx); err != nil {
					en.emitter.Emit(emit.Event{Msg: "cycle_error",
						Meta: map[string]interface{}{"error": err.Error()}})
					var se *StoreError
					if errors.As(err, &se) {
						en.state.setStatus(StatusError)
						en.emitter.Emit(emit.Event{Msg: "engine_error",
							Meta: map[string]interface{}{"error": err.Error()}})
						return
					}
				}
			}
		}
	}(en.ticker, en.tickDone)
	return nil
}

// Pause suspends cycle processing without tearing down the ticker. Returns
// false when the engine is not running.
func (en *Engine) Pause() bool {
	if !en.state.compareAndSetStatus(StatusRunning, StatusPaused) {
		return false
	}
	en.emitter.Emit(emit.Event{Msg: "engine_paused"})
	return true
}

// Resume restarts cycle processing after Pause. Returns false when the
// engine is not paused.
func (en *Engine) Resume() bool {
	if !en.state.compareAndSetStatus(StatusPaused, StatusRunning) {
		return false
	}
	en.emitter.Emit(emit.Event{Msg: "engine_resumed"})
	return true
}

// Stop cancels the tick, aborts any in-flight cycle via the cancellation
// signal, and waits for it to unwind before reporting stopped. Stopping a
// paused or errored engine tears it down the same way.
func (en *Engine) Stop() {
	en.lifecycleMu.Lock()
	defer en.lifecycleMu.Unlock()

	if en.state.getStatus() == StatusStopped {
		return
	}

	en.ticker.Stop()
	close(en.tickDone)

	if cancel := en.state.cancelChan(); cancel != nil {
		select {
		case <-cancel:
		default:
			close(cancel)
		}
	}

	// Block until the in-flight cycle, if any, releases the cycle lock.
	en.cycleMu.Lock()
	en.cycleMu.Unlock() //nolint:staticcheck // empty critical section is the wait

	en.state.markStopped(en.now())
	en.emitter.Emit(emit.Event{Msg: "engine_stopped"})
}

// State returns a defensive snapshot of the engine's status, stats, and
// cycle progress.
func (en *Engine) State() EngineState {
	return en.state.snapshot()
}

// escalationFor returns a job's previous escalation level and disabled
// endpoint set.
func (en *Engine) escalationFor(jobID string) (EscalationLevel, []string) {
	en.escMu.Lock()
	defer en.escMu.Unlock()
	rec, ok := en.escalations[jobID]
	if !ok {
		return EscalationNone, nil
	}
	disabled := make([]string, len(rec.disabled))
	copy(disabled, rec.disabled)
	return rec.level, disabled
}

// updateEscalation stores a job's latest escalation verdict.
func (en *Engine) updateEscalation(jobID string, res EscalationResult) {
	en.escMu.Lock()
	defer en.escMu.Unlock()
	if res.Level == EscalationNone && len(res.DisabledEndpoints) == 0 {
		delete(en.escalations, jobID)
		return
	}
	rec := escalationRecord{level: res.Level}
	if len(res.DisabledEndpoints) > 0 {
		rec.disabled = res.DisabledEndpoints
	} else {
		rec.disabled = en.escalations[jobID].disabled
	}
	en.escalations[jobID] = rec
}
