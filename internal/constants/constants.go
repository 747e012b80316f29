// Package constants centralizes the magic numbers and default tunables used
// across the scheduler so they are named and documented once.
package constants

import "time"

// Interrupt levels, mirrored as a type in internal/worker; kept here as the
// raw integer values of worker.Level.
const (
	InterruptNone   = 0
	InterruptRetry  = 1
	InterruptCancel = 2
)

// Dispatcher tuning defaults.
const (
	// DefaultPollInterval is the dispatcher's per-tick pacing sleep.
	DefaultPollInterval = 100 * time.Millisecond

	// DefaultShutdownGrace is the settle delay after every worker has been
	// joined during Abort.
	DefaultShutdownGrace = 3 * time.Second

	// DefaultRetryDelay is the release delay applied on INTERRUPT_RETRY.
	DefaultRetryDelay = 10 * time.Second
)

// Store reconnect defaults.
const (
	// DefaultReconnectAttempts is how many times the store retries a
	// transient connection failure before surfacing it.
	DefaultReconnectAttempts = 3

	// DefaultReconnectSpacing is the linear backoff spacing between
	// reconnect attempts.
	DefaultReconnectSpacing = 10 * time.Second
)

// Status log defaults.
const (
	// DefaultStatusLineLimit bounds AddStatus growth on long-lived
	// interval jobs; see DESIGN.md for the rationale.
	DefaultStatusLineLimit = 200
)

// Logging defaults.
const (
	DefaultLogSizeMB  = 50
	DefaultLogBackups = 5
	DefaultLogLevel   = "info"
	DefaultLogFormat  = "text"
)
