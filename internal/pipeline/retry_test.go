package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_DelayAfter(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, InitialDelay: 5 * time.Minute, MaxDelay: 30 * time.Minute, Multiplier: 2}

	assert.Equal(t, 5*time.Minute, p.delayAfter(1))
	assert.Equal(t, 10*time.Minute, p.delayAfter(2))
	assert.Equal(t, 20*time.Minute, p.delayAfter(3))
	assert.Equal(t, 30*time.Minute, p.delayAfter(4), "capped at MaxDelay")
}

func TestRetryPolicy_DelayAfter_NoCap(t *testing.T) {
	p := RetryPolicy{InitialDelay: time.Second, Multiplier: 3}
	assert.Equal(t, 9*time.Second, p.delayAfter(3))
}

func TestRetryPolicy_Attempts(t *testing.T) {
	assert.Equal(t, 1, RetryPolicy{}.attempts())
	assert.Equal(t, 2, DefaultRetryPolicy.attempts())
}

func TestNextBackoff(t *testing.T) {
	tests := []struct {
		name       string
		current    time.Duration
		multiplier float64
		max        time.Duration
		want       time.Duration
	}{
		{"doubles", 200 * time.Millisecond, 2, time.Second, 400 * time.Millisecond},
		{"caps at max", 800 * time.Millisecond, 2, time.Second, time.Second},
		{"multiplier below one holds steady", time.Second, 0.5, 0, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, nextBackoff(tt.current, tt.multiplier, tt.max))
		})
	}
}

func TestSleepWithContext(t *testing.T) {
	clock := clockwork.NewFakeClock()

	assert.True(t, sleepWithContext(context.Background(), clock, 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, sleepWithContext(ctx, clock, 0))
	assert.False(t, sleepWithContext(ctx, clock, time.Minute))

	done := make(chan bool, 1)
	go func() { done <- sleepWithContext(context.Background(), clock, time.Minute) }()
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	assert.NoError(t, clock.BlockUntilContext(waitCtx, 1))
	clock.Advance(time.Minute)
	assert.True(t, <-done)
}
