// Package transport owns the wire operations of the coordination
// core: submitting an operation and retrieving its future.
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/mlfoundry/foundry-go/pkg/errors"
)

// Class tags an outgoing call with its traffic class. The transport
// keeps an isolated connection pool per class so a burst in one class
// cannot starve another, in particular low-volume control traffic.
type Class string

const (
	ClassControl        Class = "control"
	ClassBulkOrdered    Class = "bulk-ordered"
	ClassBulkConcurrent Class = "bulk-concurrent"
	ClassPolling        Class = "polling"
)

// Status is the server-reported state of an outstanding operation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTryAgain  Status = "try_again"
)

// QueueState is the backpressure signal attached to try_again
// responses.
type QueueState string

const (
	QueueActive          QueueState = "active"
	QueuePausedRateLimit QueueState = "paused_rate_limit"
	QueuePausedCapacity  QueueState = "paused_capacity"
	QueueUnknown         QueueState = "unknown"
)

// Paused reports whether the state signals that the server stopped
// draining its queue.
func (q QueueState) Paused() bool {
	return q == QueuePausedRateLimit || q == QueuePausedCapacity
}

type SubmitRequest struct {
	// Path is the operation path relative to the API root, e.g.
	// "sessions/abc/forward-backward".
	Path    string
	Class   Class
	SeqID   *uint64
	Payload map[string]any
}

type SubmitResponse struct {
	RequestID string `json:"request_id"`
}

type RetrieveResponse struct {
	Status     Status         `json:"status"`
	Result     map[string]any `json:"result,omitempty"`
	Error      *errors.API    `json:"error,omitempty"`
	QueueState QueueState     `json:"queue_state,omitempty"`
}

// RateLimitedError is returned for 429-equivalent responses. RetryAfter
// carries the server hint, or zero when none was supplied.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}

	return "rate limited"
}

// Transport is the wire layer the coordination core drives. Submit and
// Retrieve map onto the two logical HTTP operations; Control covers
// the session lifecycle calls (create, keepalive, close).
type Transport interface {
	Submit(ctx context.Context, req SubmitRequest) (SubmitResponse, error)
	Retrieve(ctx context.Context, requestID string, iteration uint64) (RetrieveResponse, error)
	Control(ctx context.Context, method, path string, body, out any) error
}
