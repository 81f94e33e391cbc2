// Package async runs background tasks with panic recovery, timeouts and
// structured error logging.
//
//	async.SafeGo(ctx, 2*time.Second, "cache write-behind", func(ctx context.Context) error {
//		return redis.SetSummaries(ctx, rows)
//	})
//
// Pass context.WithoutCancel(r.Context()) for work that must outlive the
// request while keeping its request id and logger.
package async
