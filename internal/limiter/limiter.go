// Package limiter throttles sync cycles per owner with a fixed window.
package limiter

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Limiter admits sync cycles.
type Limiter interface {
	// Allow records one cycle for owner and reports whether it may proceed;
	// when it may not, the duration tells how long until the window resets.
	Allow(ctx context.Context, ownerID uuid.UUID) (bool, time.Duration, error)
}

// retryAfter is the time left in a window that started at start.
func retryAfter(start, now time.Time, window time.Duration) time.Duration {
	d := start.Add(window).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
