// Package backoff holds the shared backoff primitives: an atomic
// monotonic deadline register and the polling retry schedule.
package backoff

import (
	"sync/atomic"
	"time"

	expbackoff "github.com/cenkalti/backoff/v4"
)

// base anchors the register's monotonic clock. time.Since carries the
// runtime's monotonic reading, so wall-clock adjustments cannot move
// deadlines.
var base = time.Now()

func nowNanos() int64 {
	return int64(time.Since(base))
}

// Register is a shared "do not proceed before" timestamp. It is safe
// for any number of concurrent readers and writers and never blocks:
// extensions race through compare-and-swap and the furthest deadline
// wins.
type Register struct {
	until atomic.Int64
}

// Remaining returns how long the register stays active, or zero when
// it is clear.
func (r *Register) Remaining() time.Duration {
	d := r.until.Load() - nowNanos()
	if d <= 0 {
		return 0
	}

	return time.Duration(d)
}

// Active reports whether the deadline lies in the future.
func (r *Register) Active() bool {
	return r.Remaining() > 0
}

// Extend pushes the deadline out to now+d unless it already lies
// further out. Concurrent extensions never shorten the deadline.
func (r *Register) Extend(d time.Duration) {
	if d <= 0 {
		return
	}
	target := nowNanos() + int64(d)
	for {
		cur := r.until.Load()
		if cur >= target {
			return
		}
		if r.until.CompareAndSwap(cur, target) {
			return
		}
	}
}

const (
	initialInterval = time.Second
	maxInterval     = 30 * time.Second
)

// NewSchedule returns the retry schedule used between poll attempts:
// one second initially, doubling up to a thirty second ceiling, with
// no elapsed-time cap since the caller bounds the loop with a context.
func NewSchedule() expbackoff.BackOff {
	b := expbackoff.NewExponentialBackOff()
	b.InitialInterval = initialInterval
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = maxInterval
	b.MaxElapsedTime = 0
	b.Reset()

	return b
}
