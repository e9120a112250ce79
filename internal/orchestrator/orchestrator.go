// Package orchestrator sequences startup and shutdown for the probe
// engine: load configuration, wire the Probe Executor through the
// Retry Envelope into the Worker Pool, seed and start the Result
// Store, schedule every configured service, and run until a stop
// signal arrives. Grounded on the startup/shutdown sequencing in the
// teacher's cmd/probe/main.go, generalized into a reusable type so
// cmd/pulsecheck/main.go stays a thin flag-parsing shim.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pulsecheck/pulsecheck/internal/config"
	"github.com/pulsecheck/pulsecheck/internal/executor"
	"github.com/pulsecheck/pulsecheck/internal/logging"
	"github.com/pulsecheck/pulsecheck/internal/metrics"
	"github.com/pulsecheck/pulsecheck/internal/model"
	"github.com/pulsecheck/pulsecheck/internal/pool"
	"github.com/pulsecheck/pulsecheck/internal/retry"
	"github.com/pulsecheck/pulsecheck/internal/scheduler"
	"github.com/pulsecheck/pulsecheck/internal/store"
)

// shutdownDeadline bounds the entire graceful-shutdown sequence: the
// Scheduler's own drain timeout is set 5 s below it, and the Pool's
// drain gets whatever remains of it once the Scheduler has stopped.
const shutdownDeadline = 30 * time.Second

// Orchestrator owns every long-lived component and the sequencing
// between them.
type Orchestrator struct {
	logger   *zap.Logger
	settings *model.Settings
	services []model.ServiceConfig

	registry    *prometheus.Registry
	metrics     *metrics.Metrics
	resultStore *store.Store
	workerPool  *pool.Pool
	sched       *scheduler.Scheduler

	writerCancel context.CancelFunc
}

// New loads configuration from configPath and assembles every
// component, but does not start the Scheduler or the periodic
// snapshot writer — call Run or RunOnce for that.
func New(configPath string, debug bool) (*Orchestrator, error) {
	logger, err := logging.New(debug)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: build logger: %w", err)
	}

	settings, services, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load config: %w", err)
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	resultStore, err := store.New(settings.SnapshotPath, settings.AppendLogPath, m, logging.Component(logger, "store"))
	if err != nil {
		return nil, fmt.Errorf("orchestrator: init result store: %w", err)
	}
	for _, svc := range services {
		resultStore.Seed(svc.Name, svc.Tags)
	}

	exec := executor.New()
	prober := instrumentedProber(exec, m)

	workerPool := pool.New(settings.WorkerPoolSize, prober, m)
	sched := scheduler.New(workerPool, resultStore, shutdownDeadline-5*time.Second, logging.Component(logger, "scheduler"))

	for i := range services {
		if err := sched.Schedule(&services[i], services[i].Interval); err != nil {
			return nil, fmt.Errorf("orchestrator: schedule %q: %w", services[i].Name, err)
		}
	}

	return &Orchestrator{
		logger:      logger,
		settings:    settings,
		services:    services,
		registry:    registry,
		metrics:     m,
		resultStore: resultStore,
		workerPool:  workerPool,
		sched:       sched,
	}, nil
}

// Logger returns the shared logger, for cmd/pulsecheck to reuse for
// its own HTTP-surface logging.
func (o *Orchestrator) Logger() *zap.Logger { return o.logger }

// Registry exposes the Prometheus registry backing every metric so
// cmd/pulsecheck can mount it behind /metrics.
func (o *Orchestrator) Registry() *prometheus.Registry { return o.registry }

// Settings returns the resolved Settings, for callers (like the
// once-mode deadline in cmd/pulsecheck) that need values out of it.
func (o *Orchestrator) Settings() *model.Settings { return o.settings }

// Store exposes the Result Store, mainly for tests to inspect the
// latest-result map directly instead of round-tripping through files.
func (o *Orchestrator) Store() *store.Store { return o.resultStore }

// Pool exposes the Worker Pool, for a status HTTP endpoint to read
// Metrics() from.
func (o *Orchestrator) Pool() *pool.Pool { return o.workerPool }

// Scheduler exposes the Scheduler, for a status HTTP endpoint to read
// State() and ScheduledNames() from.
func (o *Orchestrator) Scheduler() *scheduler.Scheduler { return o.sched }

// instrumentedProber wraps the Probe Executor in the Retry Envelope and
// records the per-attempt and per-outcome metrics, so neither the
// Executor nor the Retry Envelope needs to import the metrics package.
func instrumentedProber(exec *executor.Executor, m *metrics.Metrics) pool.Prober {
	return func(ctx context.Context, cfg *model.ServiceConfig, correlationID string) *model.ProbeResult {
		onRetry := func(serviceName string) {
			m.ProbeRetriesTotal.WithLabelValues(serviceName).Inc()
		}
		result := retry.Execute(ctx, cfg, correlationID, exec.Execute, onRetry)

		m.ProbesTotal.WithLabelValues(result.ServiceName, string(result.Status)).Inc()
		m.ProbeLatencyMs.WithLabelValues(result.ServiceName).Observe(float64(result.LatencyMs))
		return result
	}
}

// Run starts the Scheduler and the periodic snapshot writer and blocks
// until ctx is cancelled, then performs an orderly shutdown: the
// periodic writer stops, a final snapshot is written, the Scheduler
// drains in-flight probes, the Worker Pool drains its queue, and the
// append log is flushed and closed.
func (o *Orchestrator) Run(ctx context.Context) error {
	writerCtx, cancel := context.WithCancel(context.Background())
	o.writerCancel = cancel
	go o.resultStore.RunPeriodicWriter(writerCtx, o.settings.DataWriteInterval)

	if err := o.sched.Start(); err != nil {
		cancel()
		return fmt.Errorf("orchestrator: start scheduler: %w", err)
	}
	o.logger.Info("pulsecheck started", zap.Int("services", len(o.services)))

	<-ctx.Done()
	o.logger.Info("shutdown signal received, draining")
	return o.shutdown()
}

// RunOnce dispatches every configured probe exactly once, writes a
// single snapshot, and returns without starting the long-running
// Scheduler loop. Used by the --once CLI flag for CI smoke checks.
func (o *Orchestrator) RunOnce(ctx context.Context) error {
	if err := o.sched.RunOnce(ctx); err != nil {
		return fmt.Errorf("orchestrator: run once: %w", err)
	}
	if err := o.resultStore.WriteSnapshot(); err != nil {
		o.logger.Warn("final snapshot write failed", zap.Error(err))
	}
	o.workerPool.Shutdown(shutdownDeadline)
	return o.resultStore.Close()
}

func (o *Orchestrator) shutdown() error {
	start := time.Now()
	if o.writerCancel != nil {
		o.writerCancel()
	}
	if err := o.resultStore.WriteSnapshot(); err != nil {
		o.logger.Warn("final snapshot write failed", zap.Error(err))
	}

	o.sched.Stop()
	remaining := shutdownDeadline - time.Since(start)
	if remaining < 0 {
		remaining = 0
	}
	o.workerPool.Shutdown(remaining)

	if err := o.resultStore.Close(); err != nil {
		o.logger.Warn("append log close failed", zap.Error(err))
	}
	o.logger.Info("pulsecheck stopped")
	return o.logger.Sync()
}
