// Package async runs gatekeeper's long-lived background goroutines, such as
// the properties watcher and the rate limiter sweep.
//
//	done := async.Go(ctx, logger, "properties watcher", fileCache.Watch)
//	async.Every(ctx, logger, "rate limiter cleanup", time.Minute, func(context.Context) {
//		limiter.Cleanup()
//	})
//
// A panic inside a task is logged with its stack and does not take the
// process down. Cancelling ctx is the only way to stop a task.
package async
