package leaderboard

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BackgroundRunner starts each task on its own goroutine with a fresh timeout context.
type BackgroundRunner struct {
	logger  *zap.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewBackgroundRunner builds a runner whose tasks log and swallow their errors.
func NewBackgroundRunner(logger *zap.Logger, timeout time.Duration) *BackgroundRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BackgroundRunner{logger: logger, timeout: timeout}
}

// Go runs task detached from the caller.
func (r *BackgroundRunner) Go(name string, task func(ctx context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if recovered := recover(); recovered != nil {
				r.logger.Error("background task panicked", zap.String("task", name), zap.Any("panic", recovered))
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := task(ctx); err != nil {
			r.logger.Warn("background task failed", zap.String("task", name), zap.Error(err))
		}
	}()
}

// Wait blocks until every started task returned.
func (r *BackgroundRunner) Wait() {
	r.wg.Wait()
}
