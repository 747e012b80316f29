package dispatch

import (
	"context"

	"github.com/selfhostly/scheduler/internal/queue"
	"github.com/selfhostly/scheduler/internal/worker"
)

// tick is one dispatcher iteration: fetch eligible, reap dead, launch new.
// It must never let a transient store error kill the loop.
func (m *Manager) tick(ctx context.Context) {
	m.reap()

	jobs, err := m.queue.GetAllJobs(ctx, "*", nil, true)
	if err != nil {
		m.log.Error("dispatch: fetch eligible jobs failed, continuing next tick", "error", err)
		return
	}

	if m.overloaded() {
		return
	}

	for _, job := range jobs {
		m.dispatchOne(ctx, job)
	}
}

func (m *Manager) overloaded() bool {
	if m.loadSampler == nil || m.loadThreshold <= 0 {
		return false
	}
	pct, err := m.loadSampler.Percent()
	if err != nil {
		m.log.Warn("dispatch: load sample failed, treating as not overloaded", "error", err)
		return false
	}
	return pct > m.loadThreshold
}

func (m *Manager) dispatchOne(ctx context.Context, job *queue.Job) {
	w, ok := m.resolve(job.Type)
	if !ok {
		if err := job.AddStatus(ctx, "Job script does not exist. Cancelling."); err != nil {
			m.log.Error("dispatch: add status on unresolved worker failed", "job_id", job.ID, "error", err)
		}
		if err := job.Finish(ctx); err != nil {
			m.log.Error("dispatch: finish on unresolved worker failed", "job_id", job.ID, "error", err)
		}
		return
	}

	workerType := w.Type()

	m.mu.Lock()
	active := len(m.pool[workerType])
	m.mu.Unlock()
	if active >= w.MaxWorkers() {
		return
	}

	if err := job.Claim(ctx); err != nil {
		if queue.IsJobClaimed(err) {
			return
		}
		m.log.Error("dispatch: claim failed", "job_id", job.ID, "error", err)
		return
	}

	m.launch(ctx, workerType, w, job)
}

func (m *Manager) resolve(typeTag string) (worker.Worker, bool) {
	if w, ok := m.registry.Resolve(typeTag); ok {
		return w, true
	}
	if m.plugins != nil && isPluginPath(typeTag) {
		w, err := m.plugins.Resolve(typeTag)
		if err != nil {
			m.log.Warn("dispatch: plugin resolution failed", "path", typeTag, "error", err)
			return nil, false
		}
		return w, true
	}
	return nil, false
}

func isPluginPath(tag string) bool {
	return len(tag) > 3 && tag[len(tag)-3:] == ".so"
}

func (m *Manager) launch(ctx context.Context, workerType string, w worker.Worker, job *queue.Job) {
	runner := worker.NewRunner(w, job, m.log)
	done := make(chan struct{})
	rw := &runningWorker{jobID: job.ID, runner: runner, done: done}

	m.mu.Lock()
	m.pool[workerType] = append(m.pool[workerType], rw)
	m.mu.Unlock()

	go func() {
		defer close(done)
		runner.Run(ctx)
	}()
}

// reap drops terminated workers from the pool.
func (m *Manager) reap() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for t, ws := range m.pool {
		alive := ws[:0]
		for _, rw := range ws {
			select {
			case <-rw.done:
				// terminated; drop it
			default:
				alive = append(alive, rw)
			}
		}
		m.pool[t] = alive
	}
}
