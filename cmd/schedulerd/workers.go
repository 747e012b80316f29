package main

import "github.com/selfhostly/scheduler/internal/resolver"

// registerBuiltinWorkers registers every worker type this daemon binary
// knows how to run. The concrete business logic inside any particular
// worker lives outside the scheduler core; a real deployment links its
// own worker package here and calls registry.Register(type, factory) for
// each one. This binary ships with none registered: jobs of an
// unregistered type are cancelled by the dispatcher on first sight.
func registerBuiltinWorkers(registry *resolver.Registry) {
	_ = registry
}
