package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// PG is a PostgreSQL-backed limiter; counters survive restarts and are shared
// by every server instance on the database.
type PG struct {
	pool   pgxQuerier
	window time.Duration
	max    int
	now    func() time.Time
}

type pgxQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPG constructs a PostgreSQL-backed limiter admitting max cycles per owner per window.
func NewPG(q pgxQuerier, window time.Duration, max int) *PG {
	return &PG{pool: q, window: window, max: max, now: time.Now}
}

const qHit = `
INSERT INTO sync_limiter (owner_id, window_start, hits)
VALUES ($1, $3, 1)
ON CONFLICT (owner_id) DO UPDATE
SET
  window_start = CASE WHEN $3 - sync_limiter.window_start >= $2::interval THEN $3 ELSE sync_limiter.window_start END,
  hits = CASE WHEN $3 - sync_limiter.window_start >= $2::interval THEN 1 ELSE sync_limiter.hits + 1 END
RETURNING hits, window_start`

// Allow counts one cycle and admits it while the window's count stays within max.
func (l *PG) Allow(ctx context.Context, ownerID uuid.UUID) (bool, time.Duration, error) {
	now := l.now().UTC()
	var (
		hits  int
		start time.Time
	)
	if err := l.pool.QueryRow(ctx, qHit, ownerID, l.window, now).Scan(&hits, &start); err != nil {
		return false, 0, fmt.Errorf("sync limiter: %w", err)
	}
	if hits > l.max {
		return false, retryAfter(start, now, l.window), nil
	}
	return true, 0, nil
}
