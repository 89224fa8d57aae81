// Package async runs background work off the request path.
//
// # Overview
//
// Pool is a fixed set of workers behind a bounded queue. Submit never blocks:
// when the queue is full the task is rejected and the caller decides what to
// do. Every task gets its own timeout and panics are recovered and logged.
//
//	pool := async.NewPool("audit", 2, 256, logger,
//		async.WithTaskCounter(metrics.AsyncTasksTotal))
//	defer pool.Shutdown(ctx)
//
//	err := pool.Submit(func(ctx context.Context) error {
//		return store.Log(ctx, event)
//	})
//
// # Related Packages
//
//   - pkg/audit: AsyncLogger writes audit events through a Pool
package async
