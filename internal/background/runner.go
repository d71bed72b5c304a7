// Package background runs fire-and-forget work without losing its
// outcome: every task logs how it ended, and Wait gives shutdown a join
// point so in-flight tasks are never silently dropped on process exit.
package background

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Runner struct {
	wg     sync.WaitGroup
	logger *zap.Logger
}

func NewRunner(logger *zap.Logger) *Runner {
	return &Runner{logger: logger}
}

// Go runs fn on its own goroutine. Panics are recovered and logged;
// the returned error is recorded, never discarded.
func (r *Runner) Go(ctx context.Context, name string, fn func(context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("background task panicked",
					zap.String("task", name), zap.Any("panic", rec))
			}
		}()

		start := time.Now()
		if err := fn(ctx); err != nil {
			r.logger.Warn("background task failed",
				zap.String("task", name),
				zap.Duration("elapsed", time.Since(start)),
				zap.Error(err))
			return
		}
		r.logger.Debug("background task finished",
			zap.String("task", name),
			zap.Duration("elapsed", time.Since(start)))
	}()
}

// Wait blocks until every launched task returns, or ctx expires.
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
