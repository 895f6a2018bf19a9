// Package serial provides an executor that runs functions one at a time.
//
// Functions run by the executor receive a context marked with it. Passing that
// context back to [Executor.Do] runs the nested function inline instead of
// waiting for the executor, so code running under the executor may call
// public APIs that are themselves serialized.
package serial

import (
	"cmp"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ghettovoice/sipcore/internal/errorutil"
	"github.com/ghettovoice/sipcore/log"
)

// ErrClosed is returned by [Executor.Do] after the executor was closed.
const ErrClosed errorutil.Error = "executor closed"

// DefaultStallWarn is the wait after which a blocked [Executor.Do] logs a warning.
const DefaultStallWarn = 5 * time.Second

type ctxKey struct{ x *Executor }

// Executor serializes function calls. The zero value is ready to use.
type Executor struct {
	// Logger receives stall warnings. Defaults to [log.Default].
	Logger *slog.Logger
	// StallWarn overrides [DefaultStallWarn].
	StallWarn time.Duration

	once   sync.Once
	sem    chan struct{}
	closed bool
}

func (x *Executor) init() {
	x.once.Do(func() { x.sem = make(chan struct{}, 1) })
}

func (x *Executor) logger() *slog.Logger {
	if x.Logger != nil {
		return x.Logger
	}
	return log.Default()
}

// Within reports whether ctx was produced by this executor.
func (x *Executor) Within(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	v, _ := ctx.Value(ctxKey{x}).(bool)
	return v
}

// Do runs fn under the executor and waits for it to return.
// The marked context must not be handed over to other goroutines.
//
// A call made from a running function with an unmarked context never
// acquires the executor. Such a call is reported with a warning once it
// waited longer than the stall threshold.
func (x *Executor) Do(ctx context.Context, fn func(ctx context.Context)) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if x.Within(ctx) {
		fn(ctx)
		return nil
	}

	x.acquire(ctx)
	defer func() { <-x.sem }()
	if x.closed {
		return ErrClosed //errtrace:skip
	}
	fn(context.WithValue(ctx, ctxKey{x}, true))
	return nil
}

func (x *Executor) acquire(ctx context.Context) {
	x.init()
	select {
	case x.sem <- struct{}{}:
		return
	default:
	}

	warn := time.NewTimer(cmp.Or(x.StallWarn, DefaultStallWarn))
	defer warn.Stop()
	start := time.Now()
	select {
	case x.sem <- struct{}{}:
		return
	case <-warn.C:
		x.logger().LogAttrs(ctx, slog.LevelWarn,
			"executor is still busy, a nested call made without the executor context deadlocks",
			slog.Duration("waited", time.Since(start)),
		)
	}
	x.sem <- struct{}{}
}

// Close runs fn under the executor and then rejects all further calls that
// are not nested into an already running call.
func (x *Executor) Close(ctx context.Context, fn func(ctx context.Context)) error {
	return x.Do(ctx, func(ctx context.Context) { //errtrace:skip
		if fn != nil {
			fn(ctx)
		}
		x.closed = true
	})
}
