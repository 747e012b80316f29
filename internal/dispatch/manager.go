// Package dispatch implements the control loop that fetches eligible jobs,
// resolves each to a worker, enforces per-type concurrency caps, claims
// and launches workers, reaps terminated ones, and sequences shutdown.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/selfhostly/scheduler/internal/constants"
	"github.com/selfhostly/scheduler/internal/load"
	"github.com/selfhostly/scheduler/internal/queue"
	"github.com/selfhostly/scheduler/internal/resolver"
	"github.com/selfhostly/scheduler/internal/worker"
)

type runningWorker struct {
	jobID  string
	runner *worker.Runner
	done   chan struct{}
}

// Manager is the dispatcher. Construct with New, then run Start in its own
// goroutine; the dispatcher runs in one dedicated thread of control.
type Manager struct {
	queue    *queue.JobQueue
	registry *resolver.Registry
	plugins  *resolver.PluginLoader
	log      *slog.Logger

	pollInterval   time.Duration
	shutdownGrace  time.Duration
	releaseOnStart bool
	loadSampler    *load.Sampler
	loadThreshold  float64

	mu      sync.Mutex
	looping bool
	pool    map[string][]*runningWorker
}

// Option configures a Manager at construction time.
type Option func(*Manager)

func WithPollInterval(d time.Duration) Option  { return func(m *Manager) { m.pollInterval = d } }
func WithShutdownGrace(d time.Duration) Option { return func(m *Manager) { m.shutdownGrace = d } }
func WithLogger(l *slog.Logger) Option         { return func(m *Manager) { m.log = l } }

// WithReleaseOnStart controls whether ReleaseAll is called at Start; see
// DESIGN.md for why the default is true.
func WithReleaseOnStart(release bool) Option {
	return func(m *Manager) { m.releaseOnStart = release }
}

// WithLoadAdmissionControl enables system-load admission control: new
// workers are not launched on a tick where sampler reports load above
// thresholdPercent. A zero threshold (the default) disables it.
func WithLoadAdmissionControl(sampler *load.Sampler, thresholdPercent float64) Option {
	return func(m *Manager) {
		m.loadSampler = sampler
		m.loadThreshold = thresholdPercent
	}
}

// New builds a Manager over queue using registry (and, if plugins is
// non-nil, the plugin resolution path) to resolve job types to workers.
func New(q *queue.JobQueue, registry *resolver.Registry, plugins *resolver.PluginLoader, opts ...Option) *Manager {
	m := &Manager{
		queue:          q,
		registry:       registry,
		plugins:        plugins,
		log:            slog.Default(),
		pollInterval:   constants.DefaultPollInterval,
		shutdownGrace:  constants.DefaultShutdownGrace,
		releaseOnStart: true,
		looping:        true,
		pool:           make(map[string][]*runningWorker),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start runs the dispatch loop until ctx is cancelled or Abort is called.
// It blocks; callers run it in its own goroutine.
func (m *Manager) Start(ctx context.Context) error {
	if m.releaseOnStart {
		if err := m.queue.ReleaseAll(ctx); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		if !m.isLooping() {
			break
		}

		m.tick(ctx)

		select {
		case <-ctx.Done():
			m.mu.Lock()
			m.looping = false
			m.mu.Unlock()
		case <-ticker.C:
		}
	}

	m.shutdown(ctx)
	return nil
}

// Abort begins graceful shutdown: looping stops, every live worker is sent
// InterruptCancel, and Start waits for them all to join before returning.
// New jobs enqueued after Abort are not dispatched.
func (m *Manager) Abort() {
	m.mu.Lock()
	m.looping = false
	m.mu.Unlock()
}

func (m *Manager) isLooping() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.looping
}

func (m *Manager) shutdown(ctx context.Context) {
	m.mu.Lock()
	workers := make([]*runningWorker, 0)
	for _, ws := range m.pool {
		workers = append(workers, ws...)
	}
	m.mu.Unlock()

	for _, rw := range workers {
		rw.runner.RequestAbort(worker.InterruptCancel)
	}
	for _, rw := range workers {
		<-rw.done
	}

	time.Sleep(m.shutdownGrace)
}

// RequestInterrupt looks up the live worker owning jobID and requests level;
// a silent no-op if no such worker is currently known.
func (m *Manager) RequestInterrupt(jobID string, level worker.Level) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ws := range m.pool {
		for _, rw := range ws {
			if rw.jobID == jobID {
				rw.runner.RequestAbort(level)
				return
			}
		}
	}
}
