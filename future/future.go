// Package future tracks outstanding remote operations and drives them
// to resolution.
package future

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/mlfoundry/foundry-go/pkg/transport"
)

// Status is the local lifecycle of a Future. The wire-level try_again
// state never surfaces here: it loops back into Pending inside the
// poller.
type Status uint8

const (
	Pending Status = iota
	Completed
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Completed:
		return "Completed"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Future is the handle to one outstanding server-side operation. It is
// resolved exactly once, after which result and error are immutable.
type Future struct {
	requestID string

	done chan struct{}
	once sync.Once

	mu     sync.Mutex
	status Status
	result map[string]any
	err    error

	iteration  atomic.Uint64
	queueState atomic.Value // transport.QueueState
}

func New(requestID string) *Future {
	return &Future{
		requestID: requestID,
		done:      make(chan struct{}),
	}
}

func (f *Future) RequestID() string {
	return f.requestID
}

func (f *Future) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.status
}

// Iteration returns how many poll attempts have been issued so far.
func (f *Future) Iteration() uint64 {
	return f.iteration.Load()
}

// QueueState returns the most recent server-reported queue state, or
// QueueUnknown if none was ever reported.
func (f *Future) QueueState() transport.QueueState {
	if v := f.queueState.Load(); v != nil {
		return v.(transport.QueueState)
	}

	return transport.QueueUnknown
}

// Done returns a channel closed once the Future is resolved.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until resolution or until ctx is cancelled. Cancelling
// the wait abandons only this caller; the operation itself continues.
func (f *Future) Wait(ctx context.Context) (map[string]any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-f.done:
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return f.result, f.err
}

// Complete resolves the Future with a result. Later resolutions are
// no-ops.
func (f *Future) Complete(result map[string]any) {
	f.once.Do(func() {
		f.mu.Lock()
		f.status = Completed
		f.result = result
		f.mu.Unlock()
		close(f.done)
	})
}

// Fail resolves the Future with an error. Later resolutions are
// no-ops.
func (f *Future) Fail(err error) {
	f.once.Do(func() {
		f.mu.Lock()
		f.status = Failed
		f.err = err
		f.mu.Unlock()
		close(f.done)
	})
}

// nextIteration returns the iteration to tag the next retrieval with
// and advances the counter.
func (f *Future) nextIteration() uint64 {
	return f.iteration.Add(1) - 1
}

func (f *Future) setQueueState(q transport.QueueState) {
	f.queueState.Store(q)
}
