// Package ratelimit coordinates backoff across every dispatcher and
// poller sharing a credential/endpoint pair.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/mlfoundry/foundry-go/pkg/backoff"
)

// DefaultBackoff applies when the server reports a rate limit without
// a retry-after hint.
const DefaultBackoff = time.Second

// Limiter tracks the shared "do not send before" deadline for one
// sharing domain. The zero value is ready to use.
type Limiter struct {
	reg backoff.Register
}

// ShouldWait reports whether an outstanding backoff blocks new sends.
func (l *Limiter) ShouldWait() bool {
	return l.reg.Active()
}

// RecordBackoff extends the shared deadline by d, or by DefaultBackoff
// when no hint was supplied. Callers record here on every rate-limit
// signal, whether it arrived on a submit or mid-poll, so the pause is
// visible to every sharer before its next send.
func (l *Limiter) RecordBackoff(d time.Duration) {
	if d <= 0 {
		d = DefaultBackoff
	}
	l.reg.Extend(d)
}

// WaitUntilClear blocks until the deadline has passed, rechecking
// after every sleep since concurrent callers may have extended it.
func (l *Limiter) WaitUntilClear(ctx context.Context) error {
	for {
		d := l.reg.Remaining()
		if d == 0 {
			return nil
		}

		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()

			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Registry hands out exactly one Limiter per sharing key. Creation is
// insert-if-absent: concurrent first users of a key always converge on
// the same instance.
type Registry struct {
	limiters sync.Map
}

func NewRegistry() *Registry {
	return &Registry{}
}

// For returns the Limiter for key, creating it when absent.
func (r *Registry) For(key string) *Limiter {
	if l, ok := r.limiters.Load(key); ok {
		return l.(*Limiter)
	}

	l, _ := r.limiters.LoadOrStore(key, &Limiter{})

	return l.(*Limiter)
}
