// Package worker runs a user-supplied Worker against one claimed Job,
// translating the worker's return value into the terminal job transitions
// (finish/release) and implementing the cooperative interrupt contract.
package worker

import (
	"context"
	"fmt"

	"github.com/selfhostly/scheduler/internal/queue"
)

// Level is a cooperative abort policy requested on a running job.
type Level int

const (
	InterruptNone Level = iota
	InterruptRetry
	InterruptCancel
)

func (l Level) String() string {
	switch l {
	case InterruptNone:
		return "none"
	case InterruptRetry:
		return "retry"
	case InterruptCancel:
		return "cancel"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// Interrupted is the cooperative unwind signal a Worker raises from Work to
// react to a requested abort. It must never surface past the runner.
type Interrupted struct {
	Level Level
}

func (e *Interrupted) Error() string {
	return "worker interrupted: " + e.Level.String()
}

// Worker is the capability every job type implementation provides.
type Worker interface {
	// Type is the display/registry tag for this worker kind.
	Type() string
	// MaxWorkers is the concurrency cap enforced by the dispatcher for
	// this type.
	MaxWorkers() int
	// Work performs the job. It must poll FlagFromContext(ctx) at safe
	// points and return &Interrupted{Level} to unwind cooperatively;
	// there is no preemption.
	Work(ctx context.Context, job *queue.Job) error
}

// Aborter is an optional extension point a Worker may implement; its Abort
// method is called after an interrupt is handled. It is not called after a
// crash.
type Aborter interface {
	Abort(ctx context.Context)
}

// Factory constructs a fresh Worker instance; the resolver registry maps a
// type tag to a Factory.
type Factory func() Worker
