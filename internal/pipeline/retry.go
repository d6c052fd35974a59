package pipeline

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// RetryPolicy bounds the attempts of one stage. The delay before attempt n+1
// is InitialDelay * Multiplier^(n-1), capped at MaxDelay when MaxDelay > 0.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryPolicy allows one retry five minutes after the first failure.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:  2,
	InitialDelay: 5 * time.Minute,
	MaxDelay:     30 * time.Minute,
	Multiplier:   2,
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// delayAfter returns the wait following the given failed attempt (1-based).
func (p RetryPolicy) delayAfter(attempt int) time.Duration {
	d := p.InitialDelay
	for i := 1; i < attempt; i++ {
		d = nextBackoff(d, p.Multiplier, p.MaxDelay)
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

func nextBackoff(current time.Duration, multiplier float64, maxBackoff time.Duration) time.Duration {
	if multiplier < 1 {
		multiplier = 1
	}
	next := time.Duration(float64(current) * multiplier)
	if maxBackoff > 0 && next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
