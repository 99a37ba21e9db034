// Package session owns the ordered submission path of one stateful
// server-side session.
package session

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mlfoundry/foundry-go/combine"
	"github.com/mlfoundry/foundry-go/future"
	"github.com/mlfoundry/foundry-go/pkg/errors"
	"github.com/mlfoundry/foundry-go/pkg/ratelimit"
	"github.com/mlfoundry/foundry-go/pkg/transport"
)

// Kind identifies a mutating session operation. All kinds share one
// seq_id counter.
type Kind string

const (
	KindForwardBackward Kind = "forward_backward"
	KindOptimStep       Kind = "optim_step"
	KindSaveState       Kind = "save_state"
	KindLoadState       Kind = "load_state"
)

func (k Kind) path() string {
	switch k {
	case KindForwardBackward:
		return "forward-backward"
	case KindOptimStep:
		return "optim-step"
	case KindSaveState:
		return "save-state"
	case KindLoadState:
		return "load-state"
	default:
		return string(k)
	}
}

// Item is one chunkable element of an operation, e.g. a single
// training example. Size is the caller's estimate in payload units.
type Item struct {
	Payload map[string]any
	Size    int
}

// Operation is a logical mutating call against a session.
type Operation struct {
	Kind    Kind
	Payload map[string]any
	Items   []Item
	Rules   combine.Rules
}

// Limits bounds physical chunks. Zero values disable the respective
// limit.
type Limits struct {
	MaxItemsPerChunk int
	MaxChunkSize     int
}

// Session serializes the send phase of one logical session.
// Transmission order of mutating operations equals the order in which
// callers acquire the send phase; polling and resolution run fully
// concurrently with later send phases.
type Session struct {
	id        string
	transport transport.Transport
	poller    *future.Poller
	limiter   *ratelimit.Limiter
	limits    Limits
	logger    *slog.Logger

	mu        sync.Mutex // guards the send phase and the seq counter
	nextSeqID uint64

	closed atomic.Bool
}

func New(id string, t transport.Transport, p *future.Poller, l *ratelimit.Limiter, limits Limits, logger *slog.Logger) *Session {
	return &Session{
		id:        id,
		transport: t,
		poller:    p,
		limiter:   l,
		limits:    limits,
		logger:    logger,
	}
}

func (s *Session) ID() string {
	return s.id
}

// SeqID returns the next sequence number to be assigned.
func (s *Session) SeqID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.nextSeqID
}

// SubmitOrdered transmits op, split into chunks when it exceeds the
// session limits, and returns a Future for the logical result. All
// chunks of one call are sent under a single exclusive send phase, so
// seq_ids of concurrent callers never interleave. A failed send leaves
// the session usable for subsequent calls.
func (s *Session) SubmitOrdered(ctx context.Context, op Operation) (*future.Future, error) {
	if s.closed.Load() {
		return nil, errors.ErrSessionClosed
	}

	chunks, err := splitChunks(op, s.limits)
	if err != nil {
		return nil, err
	}

	path := "sessions/" + s.id + "/" + op.Kind.path()

	s.mu.Lock()
	futures := make([]*future.Future, 0, len(chunks))
	weights := make([]float64, 0, len(chunks))
	for _, c := range chunks {
		if err := s.limiter.WaitUntilClear(ctx); err != nil {
			s.mu.Unlock()

			return nil, err
		}

		seq := s.nextSeqID
		resp, err := s.transport.Submit(ctx, transport.SubmitRequest{
			Path:    path,
			Class:   transport.ClassBulkOrdered,
			SeqID:   &seq,
			Payload: c.payload,
		})
		if err != nil {
			s.mu.Unlock()

			return nil, err
		}
		s.nextSeqID++

		futures = append(futures, s.poller.Track(ctx, resp.RequestID))
		weights = append(weights, float64(c.weight))
	}
	s.mu.Unlock()

	if len(futures) == 1 {
		return futures[0], nil
	}

	return combine.Combine(ctx, futures, weights, op.Rules), nil
}

// StartKeepalive posts a low-volume control-class heartbeat until ctx
// is cancelled or the session is closed.
func (s *Session) StartKeepalive(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("stopping session keepalive", slog.String("session_id", s.id))

				return
			case <-ticker.C:
				if s.closed.Load() {
					return
				}
				if err := s.transport.Control(ctx, http.MethodPost, "sessions/"+s.id+"/keepalive", nil, nil); err != nil {
					s.logger.Error("failed to send session keepalive",
						slog.String("session_id", s.id),
						slog.Any("error", err),
					)

					continue
				}
				s.logger.Debug("session keepalive sent", slog.String("session_id", s.id))
			}
		}
	}()
}

// Close marks the session closed and releases it server-side. Further
// ordered submissions return ErrSessionClosed.
func (s *Session) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	return s.transport.Control(ctx, http.MethodDelete, "sessions/"+s.id, nil, nil)
}
