package shared

import (
	"context"
	"time"
)

// Detach returns a context that keeps ctx's values but not its deadline or
// cancellation, bounded by its own timeout. Used for work that must outlive
// the request that triggered it.
func Detach(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}
