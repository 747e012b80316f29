// Package scheduler is the public control surface of the daemon: a thin
// facade that owns the dispatcher's thread of control.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/selfhostly/scheduler/internal/config"
	"github.com/selfhostly/scheduler/internal/dispatch"
	"github.com/selfhostly/scheduler/internal/load"
	"github.com/selfhostly/scheduler/internal/logging"
	"github.com/selfhostly/scheduler/internal/queue"
	"github.com/selfhostly/scheduler/internal/resolver"
	"github.com/selfhostly/scheduler/internal/storex"
	"github.com/selfhostly/scheduler/internal/worker"
)

// Scheduler constructs the store, queue, and manager, and starts the
// manager's dispatch loop on its own goroutine.
type Scheduler struct {
	store    *storex.Store
	queueRef *queue.JobQueue
	manager  *dispatch.Manager
	log      *slog.Logger

	cancel   context.CancelFunc
	stopped  chan struct{}
}

// Option configures the Scheduler's dependencies; New applies every Option
// before it launches the dispatcher.
type Option func(*settings)

type settings struct {
	logger         *slog.Logger
	plugins        *resolver.PluginLoader
	pollInterval   time.Duration
	shutdownGrace  time.Duration
	releaseOnStart bool
	loadThreshold  float64
}

// WithLogger injects a custom log sink, suppressing the default rotating
// sink.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithPlugins enables plugin-file worker resolution alongside the static
// registry.
func WithPlugins(p *resolver.PluginLoader) Option {
	return func(s *settings) { s.plugins = p }
}

// New builds and starts a Scheduler: opens the store at cfg.DBPath,
// bootstraps the schema, constructs the queue, and launches the dispatcher
// on its own goroutine. registry must already have every worker type the
// caller intends to run registered.
func New(ctx context.Context, cfg *config.Config, registry *resolver.Registry, opts ...Option) (*Scheduler, error) {
	s := &settings{
		pollInterval:   cfg.PollInterval,
		shutdownGrace:  cfg.ShutdownGrace,
		releaseOnStart: cfg.ReleaseOnStart,
		loadThreshold:  cfg.LoadThreshold,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.New(logging.Options{
			File:    cfg.LogFile,
			SizeMB:  cfg.LogSizeMB,
			Backups: cfg.LogCount,
			Format:  cfg.LogFormat,
			Level:   cfg.LogLevel,
		})
	}

	store, err := storex.Open(cfg.DBPath, storex.WithLogger(s.logger))
	if err != nil {
		return nil, err
	}

	q := queue.New(store)
	if err := q.Bootstrap(ctx); err != nil {
		store.Close()
		return nil, err
	}

	managerOpts := []dispatch.Option{
		dispatch.WithPollInterval(s.pollInterval),
		dispatch.WithShutdownGrace(s.shutdownGrace),
		dispatch.WithLogger(s.logger),
		dispatch.WithReleaseOnStart(s.releaseOnStart),
	}
	if s.loadThreshold > 0 {
		managerOpts = append(managerOpts, dispatch.WithLoadAdmissionControl(load.NewSampler(), s.loadThreshold))
	}
	manager := dispatch.New(q, registry, s.plugins, managerOpts...)

	runCtx, cancel := context.WithCancel(ctx)
	sched := &Scheduler{
		store:    store,
		queueRef: q,
		manager:  manager,
		log:      s.logger,
		cancel:   cancel,
		stopped:  make(chan struct{}),
	}

	go func() {
		defer close(sched.stopped)
		if err := manager.Start(runCtx); err != nil {
			sched.log.Error("scheduler: dispatch loop exited with error", "error", err)
		}
	}()

	return sched, nil
}

// HasJobs reports whether any job of any type currently exists in the queue.
func (s *Scheduler) HasJobs(ctx context.Context) (bool, error) {
	n, err := s.queueRef.GetJobCount(ctx, "*")
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// End begins graceful shutdown and blocks until the dispatcher has joined
// every running worker and returned.
func (s *Scheduler) End() {
	s.manager.Abort()
	<-s.stopped
	s.cancel()
	if err := s.store.Close(); err != nil {
		s.log.Warn("scheduler: store close failed", "error", err)
	}
}

// Queue returns the queue handle for enqueue/inspect operations.
func (s *Scheduler) Queue() *queue.JobQueue {
	return s.queueRef
}

// Log returns the injected or default logger.
func (s *Scheduler) Log() *slog.Logger {
	return s.log
}

// RequestInterrupt forwards to the underlying manager.
func (s *Scheduler) RequestInterrupt(jobID string, level worker.Level) {
	s.manager.RequestInterrupt(jobID, level)
}
