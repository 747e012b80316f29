package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"

	"github.com/selfhostly/scheduler/internal/constants"
	"github.com/selfhostly/scheduler/internal/queue"
)

// Runner is one worker instance tied to one claimed job; it owns no
// persisted state of its own.
type Runner struct {
	Worker Worker
	Job    *queue.Job
	flag   *Flag
	log    *slog.Logger
}

// NewRunner builds a Runner for worker against job.
func NewRunner(w Worker, job *queue.Job, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{Worker: w, Job: job, flag: &Flag{}, log: log}
}

// RequestAbort sets the runner's interrupt flag; it is the sole interaction
// the dispatcher has with a running worker.
func (r *Runner) RequestAbort(level Level) {
	r.flag.Request(level)
}

// Run drives Work to completion and applies the resulting terminal
// transition, recovering a panicking Work as a crash.
func (r *Runner) Run(ctx context.Context) {
	workCtx := WithFlag(ctx, r.flag)

	trail, err := r.invoke(workCtx)

	switch {
	case err == nil:
		r.afterWork(ctx)
	default:
		var interrupted *Interrupted
		if errors.As(err, &interrupted) {
			r.handleInterrupt(ctx, interrupted)
		} else {
			r.handleCrash(ctx, err, trail)
		}
	}
}

func (r *Runner) invoke(ctx context.Context) (trail string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in worker %s: %v", r.Worker.Type(), rec)
			trail = frameTrail(3)
		}
	}()
	return "", r.Worker.Work(ctx, r.Job)
}

// frameTrail renders a short file:line trail of the calling goroutine,
// skipping the innermost skip frames.
func frameTrail(skip int) string {
	pcs := make([]uintptr, 6)
	n := runtime.Callers(skip, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	var parts []string
	for {
		f, more := frames.Next()
		parts = append(parts, fmt.Sprintf("%s:%d", f.File, f.Line))
		if !more || len(parts) == 4 {
			break
		}
	}
	return strings.Join(parts, " < ")
}

// afterWork is the default post-Work extension point: finish the job.
func (r *Runner) afterWork(ctx context.Context) {
	if err := r.Job.Finish(ctx); err != nil {
		r.log.Error("worker: finish after successful work failed", "type", r.Worker.Type(), "job_id", r.Job.ID, "error", err)
	}
}

func (r *Runner) handleInterrupt(ctx context.Context, i *Interrupted) {
	switch i.Level {
	case InterruptRetry:
		if err := r.Job.Release(ctx, constants.DefaultRetryDelay); err != nil {
			r.log.Error("worker: release on retry interrupt failed", "type", r.Worker.Type(), "job_id", r.Job.ID, "error", err)
		}
	case InterruptCancel:
		if err := r.Job.Finish(ctx); err != nil {
			r.log.Error("worker: finish on cancel interrupt failed", "type", r.Worker.Type(), "job_id", r.Job.ID, "error", err)
		}
	default:
		// Neither retry nor cancel: the row is left claimed. See
		// DESIGN.md for why an out-of-range interrupt level is kept
		// rather than silently auto-released.
		r.log.Warn("worker: interrupted with undefined level, job left claimed", "type", r.Worker.Type(), "job_id", r.Job.ID, "level", i.Level)
	}
	r.runAbortHook(ctx)
}

func (r *Runner) handleCrash(ctx context.Context, err error, trail string) {
	if trail == "" {
		r.log.Error("worker: crash during execution", "type", r.Worker.Type(), "job_id", r.Job.ID, "error", err)
	} else {
		r.log.Error("worker: crash during execution", "type", r.Worker.Type(), "job_id", r.Job.ID, "error", err, "trail", trail)
	}
	if err := r.Job.AddStatus(ctx, "Crash during execution"); err != nil {
		r.log.Error("worker: add_status after crash failed", "job_id", r.Job.ID, "error", err)
	}
	r.afterWork(ctx)
}

func (r *Runner) runAbortHook(ctx context.Context) {
	if a, ok := r.Worker.(Aborter); ok {
		a.Abort(ctx)
	}
}
