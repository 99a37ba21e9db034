package future

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mlfoundry/foundry-go/pkg/backoff"
	"github.com/mlfoundry/foundry-go/pkg/errors"
	"github.com/mlfoundry/foundry-go/pkg/ratelimit"
	"github.com/mlfoundry/foundry-go/pkg/transport"
)

// Poller drives Futures to resolution by repeatedly retrieving their
// state from the server. One Poller serves any number of Futures; each
// tracked Future gets its own goroutine.
type Poller struct {
	transport transport.Transport
	limiter   *ratelimit.Limiter
	logger    *slog.Logger
	timeout   time.Duration
}

// NewPoller builds a Poller. timeout bounds the total polling duration
// of each tracked Future; zero means unbounded.
func NewPoller(t transport.Transport, l *ratelimit.Limiter, logger *slog.Logger, timeout time.Duration) *Poller {
	return &Poller{
		transport: t,
		limiter:   l,
		logger:    logger,
		timeout:   timeout,
	}
}

// Track creates a Future for requestID and starts driving it in the
// background. The returned Future is always eventually resolved: the
// loop converts its own failures, including panics, into a failed
// resolution rather than leaving the caller waiting.
func (p *Poller) Track(ctx context.Context, requestID string) *Future {
	f := New(requestID)
	go p.drive(ctx, f)

	return f
}

func (p *Poller) drive(ctx context.Context, f *Future) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("polling loop panicked",
				slog.String("request_id", f.RequestID()),
				slog.Any("panic", r),
			)
			f.Fail(fmt.Errorf("%w: %v", errors.ErrInternal, r))
		}
	}()

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	schedule := backoff.NewSchedule()

	for {
		resp, err := p.transport.Retrieve(ctx, f.RequestID(), f.nextIteration())
		if err != nil {
			if !p.handleRetrieveError(ctx, f, err, schedule) {
				return
			}

			continue
		}

		switch resp.Status {
		case transport.StatusCompleted:
			f.Complete(resp.Result)

			return
		case transport.StatusFailed:
			if resp.Error != nil {
				f.Fail(resp.Error)
			} else {
				f.Fail(&errors.API{Message: "operation failed", Category: errors.CategoryUnknown})
			}

			return
		case transport.StatusTryAgain:
			f.setQueueState(resp.QueueState)
			if resp.QueueState.Paused() {
				// The pause must reach dispatchers that have not
				// sent yet, not just this loop.
				p.limiter.RecordBackoff(0)
				p.logger.Debug("queue paused",
					slog.String("request_id", f.RequestID()),
					slog.String("queue_state", string(resp.QueueState)),
				)
			}
			if !p.sleep(ctx, f, schedule.NextBackOff()) {
				return
			}
		default:
			if !p.sleep(ctx, f, schedule.NextBackOff()) {
				return
			}
		}
	}
}

// handleRetrieveError decides whether the loop continues after a
// failed retrieval. It returns false once the Future got resolved.
func (p *Poller) handleRetrieveError(ctx context.Context, f *Future, err error, schedule expBackoff) bool {
	var rl *transport.RateLimitedError
	if stderrors.As(err, &rl) {
		p.limiter.RecordBackoff(rl.RetryAfter)

		return p.sleep(ctx, f, schedule.NextBackOff())
	}

	if !errors.Retryable(err) {
		f.Fail(err)

		return false
	}

	if ctx.Err() != nil {
		p.resolveCtxErr(ctx, f)

		return false
	}

	p.logger.Debug("retrieval failed, will retry",
		slog.String("request_id", f.RequestID()),
		slog.Uint64("iteration", f.Iteration()),
		slog.Any("error", err),
	)

	return p.sleep(ctx, f, schedule.NextBackOff())
}

// sleep waits out one backoff interval. It returns false, with the
// Future resolved, when the context expires first.
func (p *Poller) sleep(ctx context.Context, f *Future, d time.Duration) bool {
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		p.resolveCtxErr(ctx, f)

		return false
	case <-timer.C:
		return true
	}
}

func (p *Poller) resolveCtxErr(ctx context.Context, f *Future) {
	if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		f.Fail(fmt.Errorf("%w: polling %s", errors.ErrDeadline, f.RequestID()))

		return
	}
	f.Fail(ctx.Err())
}

// expBackoff is the slice of the schedule the poller needs.
type expBackoff interface {
	NextBackOff() time.Duration
}
