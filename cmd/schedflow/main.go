// Command schedflow runs the adaptive scheduling engine: it loads a YAML
// configuration, wires a store and a reasoning provider, exposes Prometheus
// metrics, and processes cycles until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"github.com/dshills/schedflow/sched"
	"github.com/dshills/schedflow/sched/emit"
	"github.com/dshills/schedflow/sched/reason"
	"github.com/dshills/schedflow/sched/reason/anthropic"
	"github.com/dshills/schedflow/sched/reason/google"
	"github.com/dshills/schedflow/sched/reason/openai"
	"github.com/dshills/schedflow/sched/store"
)

// fileConfig is the YAML shape of the configuration file. Durations are
// integer milliseconds (yaml.v3 has no native duration decoding); they are
// mapped onto sched.Config before validation.
type fileConfig struct {
	AIAgent struct {
		Provider                 string  `yaml:"provider"`
		Model                    string  `yaml:"model"`
		Temperature              float64 `yaml:"temperature"`
		MaxRetries               int     `yaml:"maxRetries"`
		ValidateSemantics        *bool   `yaml:"validateSemantics"`
		SemanticStrict           bool    `yaml:"semanticStrict"`
		RepairMalformedResponses *bool   `yaml:"repairMalformedResponses"`
		MaxRepairAttempts        int     `yaml:"maxRepairAttempts"`
		PromptOptimization       struct {
			Enabled                 *bool `yaml:"enabled"`
			MaxMessages             int   `yaml:"maxMessages"`
			MinRecentMessages       int   `yaml:"minRecentMessages"`
			MaxEndpointUsageEntries int   `yaml:"maxEndpointUsageEntries"`
		} `yaml:"promptOptimization"`
	} `yaml:"aiAgent"`

	Execution struct {
		MaxConcurrency             int   `yaml:"maxConcurrency"`
		DefaultConcurrencyLimit    int   `yaml:"defaultConcurrencyLimit"`
		DefaultTimeoutMs           int   `yaml:"defaultTimeoutMs"`
		MaxEndpointRetries         *int  `yaml:"maxEndpointRetries"`
		AllowCancellation          *bool `yaml:"allowCancellation"`
		ResponseContentLengthLimit *int  `yaml:"responseContentLengthLimit"`
		ExecutionPhaseTimeoutMs    int   `yaml:"executionPhaseTimeoutMs"`
		Escalation                 struct {
			WarnFailureRatio     float64 `yaml:"warnFailureRatio"`
			CriticalFailureRatio float64 `yaml:"criticalFailureRatio"`
		} `yaml:"escalation"`
		CircuitBreaker struct {
			Enabled                  *bool `yaml:"enabled"`
			FailureThreshold         int   `yaml:"failureThreshold"`
			WindowMs                 int   `yaml:"windowMs"`
			CooldownMs               int   `yaml:"cooldownMs"`
			HalfOpenMaxCalls         int   `yaml:"halfOpenMaxCalls"`
			HalfOpenSuccessesToClose int   `yaml:"halfOpenSuccessesToClose"`
			HalfOpenFailuresToReopen int   `yaml:"halfOpenFailuresToReopen"`
		} `yaml:"circuitBreaker"`
	} `yaml:"execution"`

	Metrics struct {
		Enabled         bool     `yaml:"enabled"`
		SamplingRate    *float64 `yaml:"samplingRate"`
		TrackTokenUsage *bool    `yaml:"trackTokenUsage"`
		Listen          string   `yaml:"listen"`
	} `yaml:"metrics"`

	Scheduler struct {
		MaxBatchSize             int   `yaml:"maxBatchSize"`
		ProcessingIntervalMs     int   `yaml:"processingIntervalMs"`
		AutoUnlockStaleJobs      *bool `yaml:"autoUnlockStaleJobs"`
		StaleLockThresholdMs     int   `yaml:"staleLockThresholdMs"`
		JobProcessingConcurrency int   `yaml:"jobProcessingConcurrency"`
	} `yaml:"scheduler"`

	Store struct {
		Driver string `yaml:"driver"` // memory, sqlite, mysql
		Path   string `yaml:"path"`   // sqlite file path
		DSN    string `yaml:"dsn"`    // mysql DSN
	} `yaml:"store"`

	Logging struct {
		JSON bool `yaml:"json"`
	} `yaml:"logging"`
}

func boolOr(p *bool, def bool) bool {
	if p != nil {
		return *p
	}
	return def
}

func intOr(p *int, def int) int {
	if p != nil {
		return *p
	}
	return def
}

func floatOr(p *float64, def float64) float64 {
	if p != nil {
		return *p
	}
	return def
}

// engineConfig maps the file shape onto sched.Config. Keys where zero or
// false is a meaningful setting are pointers in fileConfig so that an
// absent key falls back to DefaultConfig while an explicit value, zero
// included, is honored.
func (fc *fileConfig) engineConfig() sched.Config {
	var cfg sched.Config
	def := sched.DefaultConfig()

	cfg.Agent.Model = fc.AIAgent.Model
	cfg.Agent.Temperature = fc.AIAgent.Temperature
	cfg.Agent.MaxRetries = fc.AIAgent.MaxRetries
	cfg.Agent.ValidateSemantics = boolOr(fc.AIAgent.ValidateSemantics, def.Agent.ValidateSemantics)
	cfg.Agent.SemanticStrict = fc.AIAgent.SemanticStrict
	cfg.Agent.RepairMalformedResponses = boolOr(fc.AIAgent.RepairMalformedResponses, def.Agent.RepairMalformedResponses)
	cfg.Agent.MaxRepairAttempts = fc.AIAgent.MaxRepairAttempts
	cfg.Agent.PromptOptimization.Enabled = boolOr(fc.AIAgent.PromptOptimization.Enabled, def.Agent.PromptOptimization.Enabled)
	cfg.Agent.PromptOptimization.MaxMessages = fc.AIAgent.PromptOptimization.MaxMessages
	cfg.Agent.PromptOptimization.MinRecentMessages = fc.AIAgent.PromptOptimization.MinRecentMessages
	cfg.Agent.PromptOptimization.MaxEndpointUsageEntries = fc.AIAgent.PromptOptimization.MaxEndpointUsageEntries

	cfg.Execution.MaxConcurrency = fc.Execution.MaxConcurrency
	cfg.Execution.DefaultConcurrencyLimit = fc.Execution.DefaultConcurrencyLimit
	cfg.Execution.DefaultTimeout = time.Duration(fc.Execution.DefaultTimeoutMs) * time.Millisecond
	cfg.Execution.MaxEndpointRetries = intOr(fc.Execution.MaxEndpointRetries, def.Execution.MaxEndpointRetries)
	cfg.Execution.AllowCancellation = boolOr(fc.Execution.AllowCancellation, def.Execution.AllowCancellation)
	cfg.Execution.ResponseContentLengthLimit = intOr(fc.Execution.ResponseContentLengthLimit, def.Execution.ResponseContentLengthLimit)
	cfg.Execution.ExecutionPhaseTimeout = time.Duration(fc.Execution.ExecutionPhaseTimeoutMs) * time.Millisecond
	cfg.Execution.Escalation.WarnFailureRatio = fc.Execution.Escalation.WarnFailureRatio
	cfg.Execution.Escalation.CriticalFailureRatio = fc.Execution.Escalation.CriticalFailureRatio
	cfg.Execution.CircuitBreaker.Enabled = boolOr(fc.Execution.CircuitBreaker.Enabled, def.Execution.CircuitBreaker.Enabled)
	cfg.Execution.CircuitBreaker.FailureThreshold = fc.Execution.CircuitBreaker.FailureThreshold
	cfg.Execution.CircuitBreaker.Window = time.Duration(fc.Execution.CircuitBreaker.WindowMs) * time.Millisecond
	cfg.Execution.CircuitBreaker.Cooldown = time.Duration(fc.Execution.CircuitBreaker.CooldownMs) * time.Millisecond
	cfg.Execution.CircuitBreaker.HalfOpenMaxCalls = fc.Execution.CircuitBreaker.HalfOpenMaxCalls
	cfg.Execution.CircuitBreaker.HalfOpenSuccessesToClose = fc.Execution.CircuitBreaker.HalfOpenSuccessesToClose
	cfg.Execution.CircuitBreaker.HalfOpenFailuresToReopen = fc.Execution.CircuitBreaker.HalfOpenFailuresToReopen

	cfg.Metrics.Enabled = fc.Metrics.Enabled
	cfg.Metrics.SamplingRate = floatOr(fc.Metrics.SamplingRate, def.Metrics.SamplingRate)
	cfg.Metrics.TrackTokenUsage = boolOr(fc.Metrics.TrackTokenUsage, def.Metrics.TrackTokenUsage)

	cfg.Scheduler.MaxBatchSize = fc.Scheduler.MaxBatchSize
	cfg.Scheduler.ProcessingInterval = time.Duration(fc.Scheduler.ProcessingIntervalMs) * time.Millisecond
	cfg.Scheduler.AutoUnlockStaleJobs = boolOr(fc.Scheduler.AutoUnlockStaleJobs, def.Scheduler.AutoUnlockStaleJobs)
	cfg.Scheduler.StaleLockThreshold = time.Duration(fc.Scheduler.StaleLockThresholdMs) * time.Millisecond
	cfg.Scheduler.JobProcessingConcurrency = fc.Scheduler.JobProcessingConcurrency

	return cfg
}

func loadConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the -config flag
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &fc, nil
}

func buildStore(fc *fileConfig) (sched.Store, func(), error) {
	switch fc.Store.Driver {
	case "", "memory":
		return store.NewMemoryStore(), func() {}, nil
	case "sqlite":
		path := fc.Store.Path
		if path == "" {
			path = "./schedflow.db"
		}
		st, err := store.NewSQLiteStore(path)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { _ = st.Close() }, nil
	case "mysql":
		st, err := store.NewMySQLStore(fc.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { _ = st.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", fc.Store.Driver)
	}
}

func buildProvider(ctx context.Context, fc *fileConfig, model string) (reason.Provider, func(), error) {
	noop := func() {}
	switch fc.AIAgent.Provider {
	case "", "openai":
		p, err := openai.New(os.Getenv("OPENAI_API_KEY"), model)
		if err != nil {
			return nil, nil, err
		}
		return p, noop, nil
	case "anthropic":
		p, err := anthropic.New(os.Getenv("ANTHROPIC_API_KEY"), model)
		if err != nil {
			return nil, nil, err
		}
		return p, noop, nil
	case "google":
		p, err := google.New(ctx, os.Getenv("GOOGLE_API_KEY"), model)
		if err != nil {
			return nil, nil, err
		}
		return p, func() { _ = p.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown provider %q", fc.AIAgent.Provider)
	}
}

func main() {
	configPath := flag.String("config", "schedflow.yaml", "path to the YAML configuration file")
	flag.Parse()

	fc, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	cfg := fc.engineConfig()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, closeStore, err := buildStore(fc)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer closeStore()

	provider, closeProvider, err := buildProvider(ctx, fc, cfg.Agent.Model)
	if err != nil {
		log.Fatalf("provider: %v", err)
	}
	defer closeProvider()

	opts := []sched.Option{
		sched.WithEmitter(emit.NewLogEmitter(os.Stdout, fc.Logging.JSON)),
	}

	if cfg.Metrics.Enabled {
		registry := prometheus.NewRegistry()
		opts = append(opts, sched.WithMetrics(sched.NewPrometheusMetrics(registry)))

		listen := fc.Metrics.Listen
		if listen == "" {
			listen = ":9090"
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("metrics server: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	engine, err := sched.NewEngine(st, reason.NewGateway(provider, cfg.Agent), cfg, opts...)
	if err != nil {
		log.Fatalf("engine: %v", err)
	}

	if err := engine.Start(ctx); err != nil {
		log.Fatalf("start: %v", err)
	}
	log.Printf("schedflow running: provider=%s interval=%s batch=%d",
		provider.Name(), cfg.Scheduler.ProcessingInterval, cfg.Scheduler.MaxBatchSize)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Print("shutting down")
	engine.Stop()
}
