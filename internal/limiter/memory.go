package limiter

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Memory keeps counters in process memory.
type Memory struct {
	window time.Duration
	max    int
	now    func() time.Time

	mu     sync.Mutex
	owners map[uuid.UUID]*bucket
}

type bucket struct {
	start time.Time
	hits  int
}

// NewMemory constructs an in-process limiter admitting max cycles per owner per window.
func NewMemory(window time.Duration, max int) *Memory {
	return &Memory{window: window, max: max, now: time.Now, owners: map[uuid.UUID]*bucket{}}
}

func (l *Memory) Allow(ctx context.Context, ownerID uuid.UUID) (bool, time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return false, 0, err
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.owners[ownerID]
	if !ok || now.Sub(b.start) >= l.window {
		b = &bucket{start: now}
		l.owners[ownerID] = b
	}
	b.hits++
	if b.hits > l.max {
		return false, retryAfter(b.start, now, l.window), nil
	}
	return true, 0, nil
}
