package async

import (
	"context"
	"time"

	"github.com/flakestry/flakestry/pkg/observability"
)

// SafeGo executes a function in a goroutine with:
// - Context cancellation support
// - Panic recovery
// - Timeout enforcement
// - Error logging
//
// Errors and panics are logged through the context logger.
//
// Example:
//
//	SafeGo(context.WithoutCancel(r.Context()), 2*time.Second, "cache write-behind", func(ctx context.Context) error {
//	    return cache.SetDetail(ctx, detail)
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()

		logger := observability.FromContext(parentCtx).WithField("task", taskName)
		defer observability.RecoverPanic(logger, taskName)

		if err := fn(ctx); err != nil {
			logger.WithError(err).Warn("background task failed")
		}
	}()
}
