package syncer

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// Schedule configures Run.
type Schedule struct {
	Interval   time.Duration // pause between successful cycles
	MinBackoff time.Duration // first retry delay after a transient failure
	MaxBackoff time.Duration // retry delay cap
}

// DefaultSchedule syncs every five minutes and backs off from 2s up to 5m.
var DefaultSchedule = Schedule{Interval: 5 * time.Minute, MinBackoff: 2 * time.Second, MaxBackoff: 5 * time.Minute}

func (s Schedule) backoff() retry.Backoff {
	b := retry.NewExponential(s.MinBackoff)
	b = retry.WithJitterPercent(10, b)
	return retry.WithCappedDuration(s.MaxBackoff, b)
}

// Run triggers cycles until ctx is done or the credential needs a new sign-in.
// Network failures are retried with capped exponential backoff; other failed
// outcomes wait for the next interval. report, if set, sees every Result.
func (c *Client) Run(ctx context.Context, sched Schedule, report func(Result)) error {
	if sched.Interval <= 0 {
		sched.Interval = DefaultSchedule.Interval
	}
	if sched.MinBackoff <= 0 {
		sched.MinBackoff = DefaultSchedule.MinBackoff
	}
	if sched.MaxBackoff < sched.MinBackoff {
		sched.MaxBackoff = sched.MinBackoff
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		err := retry.Do(ctx, sched.backoff(), func(ctx context.Context) error {
			res := c.RunCycle(ctx)
			if report != nil {
				report(res)
			}
			switch res.Outcome {
			case OutcomeNetworkError:
				return retry.RetryableError(res.Err)
			case OutcomeReauthRequired, OutcomeCancelled:
				return res.Err
			}
			return nil
		})
		if err != nil {
			c.log.Warn("periodic sync stopped", zap.Error(err))
			return err
		}
		timer.Reset(sched.Interval)
	}
}
