package writeback

import (
	"context"
	"math/rand"
	"time"
)

// Backoff is an exponential delay with jitter, capped at MaxDuration.
type Backoff struct {
	Duration    time.Duration // current delay
	MaxDuration time.Duration
}

func (b *Backoff) increment() {
	if b.Duration < b.MaxDuration {
		b.Duration *= 2
	}
	if b.Duration > b.MaxDuration {
		b.Duration = b.MaxDuration
	}
}

// Sleep waits for the current delay plus up to 25% jitter, then doubles the
// delay. It returns false if ctx was cancelled first.
func (b *Backoff) Sleep(ctx context.Context) bool {
	defer b.increment()

	d := b.Duration
	if d <= 0 {
		return ctx.Err() == nil
	}
	if j := int64(d) / 4; j > 0 {
		d += time.Duration(rand.Int63n(j))
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
