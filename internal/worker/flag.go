package worker

import (
	"context"
	"sync/atomic"
)

// Flag is the cooperative interrupt flag passed to a running worker. The
// runner never force-kills a worker; RequestAbort merely sets this flag
// and it is the Work implementation's responsibility to poll it at safe
// points.
type Flag struct {
	level atomic.Int32
}

// Request sets the interrupt level. Concurrent requests at different
// levels race; the last writer wins.
func (f *Flag) Request(level Level) {
	f.level.Store(int32(level))
}

// Level returns the current interrupt level.
func (f *Flag) Level() Level {
	return Level(f.level.Load())
}

type flagKey struct{}

// WithFlag embeds flag in ctx so a Worker's Work method can retrieve it via
// FlagFromContext.
func WithFlag(ctx context.Context, flag *Flag) context.Context {
	return context.WithValue(ctx, flagKey{}, flag)
}

// FlagFromContext retrieves the Flag embedded by the runner, or nil if
// ctx carries none (e.g. in a unit test driving Work directly).
func FlagFromContext(ctx context.Context) *Flag {
	f, _ := ctx.Value(flagKey{}).(*Flag)
	return f
}
