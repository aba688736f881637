package cart

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// goTracked runs fn on its own goroutine as a task owned by the engine. The
// task keeps the caller's context values (log fields, relay marks) but is
// cancelled by Close rather than by the caller.
func (e *Engine) goTracked(ctx context.Context, op string, fn func(ctx context.Context)) bool {
	e.lifeMu.RLock()
	defer e.lifeMu.RUnlock()
	if e.closed {
		e.logg.Warn(e.logg.WithField(ctx, "op", op), "engine closed; background task skipped")
		return false
	}
	e.tasks.Add(1)

	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(e.baseCtx, cancel)
	taskCtx = e.logg.WithTaskID(taskCtx, uuid.NewString())
	taskCtx = e.logg.WithField(taskCtx, "op", op)

	go func() {
		defer e.tasks.Done()
		defer cancel()
		defer stop()
		fn(taskCtx)
	}()
	return true
}

// spawnRemote runs call in the background, bounded by the in-flight limit and
// the per-call timeout. onFail runs when the call fails for any reason other
// than the engine being closed.
func (e *Engine) spawnRemote(ctx context.Context, op string, call func(ctx context.Context) error, onFail func(ctx context.Context, err error)) {
	e.goTracked(ctx, op, func(taskCtx context.Context) {
		if err := e.sem.Acquire(taskCtx, 1); err != nil {
			e.logg.Warn(taskCtx, "remote call cancelled before start")
			return
		}
		defer e.sem.Release(1)
		done := e.metrics.TrackInflight()
		defer done()

		callCtx, cancel := context.WithTimeout(taskCtx, e.timeout)
		start := time.Now()
		err := call(callCtx)
		cancel()
		e.metrics.ObserveRemote(op, time.Since(start), err)
		if err == nil {
			e.logg.Debug(taskCtx, "remote call succeeded")
			return
		}
		if e.baseCtx.Err() != nil {
			e.logg.WarnErr(taskCtx, "remote call interrupted by shutdown; left for next sync", err)
			return
		}
		e.logg.WarnErr(taskCtx, "remote call failed", err)
		if onFail != nil {
			onFail(context.WithoutCancel(taskCtx), err)
		}
	})
}
