//go:build !windows

package resolver

import (
	"fmt"
	"plugin"
	"sync"

	"github.com/selfhostly/scheduler/internal/worker"
)

// PluginLoader resolves a worker-type tag that looks like a filesystem path
// (ending in ".so") by loading it as a Go plugin and looking up a
// "NewWorker" function with the signature func() worker.Worker. It is a
// supplementary
// resolution path, not the primary one: most deployments register workers
// statically via Registry.Register at startup instead.
//
// Resolved factories are memoized by path for the lifetime of the process.
type PluginLoader struct {
	mu    sync.Mutex
	cache map[string]worker.Factory
}

// NewPluginLoader returns an empty PluginLoader.
func NewPluginLoader() *PluginLoader {
	return &PluginLoader{cache: make(map[string]worker.Factory)}
}

// Resolve loads (or reuses a cached load of) the plugin at path and returns
// a fresh Worker from its NewWorker factory.
func (p *PluginLoader) Resolve(path string) (worker.Worker, error) {
	p.mu.Lock()
	factory, cached := p.cache[path]
	p.mu.Unlock()
	if cached {
		return factory(), nil
	}

	plug, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("resolver: open plugin %s: %w", path, err)
	}
	sym, err := plug.Lookup("NewWorker")
	if err != nil {
		return nil, fmt.Errorf("resolver: plugin %s has no NewWorker symbol: %w", path, err)
	}
	factory, ok := sym.(func() worker.Worker)
	if !ok {
		return nil, fmt.Errorf("resolver: plugin %s NewWorker has the wrong signature", path)
	}

	p.mu.Lock()
	p.cache[path] = factory
	p.mu.Unlock()

	return factory(), nil
}
