package resolver

import "testing"

func TestNewPluginLoaderStartsEmpty(t *testing.T) {
	p := NewPluginLoader()
	if len(p.cache) != 0 {
		t.Errorf("len(cache) = %d, want 0 for a fresh loader", len(p.cache))
	}
}

func TestPluginLoaderResolveMissingFileErrors(t *testing.T) {
	p := NewPluginLoader()
	if _, err := p.Resolve("/nonexistent/path/worker.so"); err == nil {
		t.Error("Resolve should error for a path that does not exist")
	}
}
