package common

import (
	"context"
	"time"
)

// WithOptionalTimeout applies d to ctx unless d is zero or negative.
func WithOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
