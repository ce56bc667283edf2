package async

import (
	"context"
	"errors"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/sirupsen/logrus"
)

// Go runs fn in its own goroutine. A panic is recovered and logged, and so
// is a returned error unless it is ctx's cancellation. The returned channel
// is closed once fn has finished.
//
// Example:
//
//	async.Go(ctx, logger, "properties watcher", fileCache.Watch)
func Go(ctx context.Context, logger *logrus.Logger, taskName string, fn func(context.Context) error) <-chan struct{} {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer observability.RecoverPanic(logger, taskName)

		err := fn(ctx)
		if err == nil || (ctx.Err() != nil && errors.Is(err, ctx.Err())) {
			return
		}
		logger.WithError(err).WithField("task", taskName).Warn("Background task stopped")
	}()

	return done
}

// Every calls fn each interval until ctx is cancelled. fn runs on a single
// goroutine, so calls never overlap.
func Every(ctx context.Context, logger *logrus.Logger, taskName string, interval time.Duration, fn func(context.Context)) <-chan struct{} {
	return Go(ctx, logger, taskName, func(ctx context.Context) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fn(ctx)
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
}
