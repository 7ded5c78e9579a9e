// internal/browser/context_utils.go
package browser

import (
	"context"
)

// CombineContext returns a context that carries primary's values (the CDP
// target) and ends when either primary or operational ends. operational's
// deadline is applied as well, so a timed out operation reports
// context.DeadlineExceeded.
func CombineContext(primary, operational context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(primary)

	cancelDeadline := context.CancelFunc(func() {})
	if d, ok := operational.Deadline(); ok {
		ctx, cancelDeadline = context.WithDeadline(ctx, d)
	}

	stop := context.AfterFunc(operational, func() {
		cancel(context.Cause(operational))
	})

	return ctx, func() {
		stop()
		cancelDeadline()
		cancel(context.Canceled)
	}
}
