// Package client is the caller-facing dispatch surface of the
// coordination core.
package client

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mlfoundry/foundry-go/future"
	"github.com/mlfoundry/foundry-go/pkg/backoff"
	"github.com/mlfoundry/foundry-go/pkg/errors"
	"github.com/mlfoundry/foundry-go/pkg/ratelimit"
	"github.com/mlfoundry/foundry-go/pkg/transport"
	"github.com/mlfoundry/foundry-go/session"
)

// maxSubmitAttempts bounds retries of a concurrent-class submission.
const maxSubmitAttempts = 5

// SampleRequest is one concurrent-class dispatch, e.g. a sampling
// call. The payload's domain fields are opaque to the core.
type SampleRequest struct {
	Payload map[string]any
}

// Service is the public operation surface.
type Service interface {
	// CreateSession registers a stateful session with the server and
	// returns its ID. Ordered operations require a session.
	CreateSession(ctx context.Context, params map[string]any) (string, error)

	// CloseSession releases a session. Ordered submissions against a
	// closed session fail with ErrSessionClosed.
	CloseSession(ctx context.Context, sessionID string) error

	// SubmitOrdered dispatches a mutating operation on a session. The
	// session transmits concurrent callers' operations in admission
	// order with strictly increasing seq_ids.
	SubmitOrdered(ctx context.Context, sessionID string, op session.Operation) (*future.Future, error)

	// Sample dispatches a concurrent-class operation gated only by the
	// shared rate limiter.
	Sample(ctx context.Context, req SampleRequest) (*future.Future, error)
}

type service struct {
	cfg       Config
	transport transport.Transport
	limiter   *ratelimit.Limiter
	poller    *future.Poller
	logger    *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*session.Session
}

// New builds a Service over an explicit transport and limiter
// registry. Passing the same registry to every client sharing a
// credential keeps their backoff state converged.
func New(t transport.Transport, registry *ratelimit.Registry, cfg Config, logger *slog.Logger) Service {
	limiter := registry.For(cfg.sharingKey())

	return &service{
		cfg:       cfg,
		transport: t,
		limiter:   limiter,
		poller:    future.NewPoller(t, limiter, logger, cfg.PollTimeout.Std()),
		logger:    logger,
		sessions:  make(map[string]*session.Session),
	}
}

// NewDefault builds a Service with the production HTTP transport and a
// fresh limiter registry.
func NewDefault(cfg Config, logger *slog.Logger) Service {
	t := transport.NewHTTP(transport.Config{
		BaseURL:         cfg.BaseURL,
		APIKey:          cfg.APIKey,
		AttemptTimeout:  cfg.AttemptTimeout.Std(),
		TLSVerification: cfg.TLSVerification,
	})

	return New(t, ratelimit.NewRegistry(), cfg, logger)
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

func (svc *service) CreateSession(ctx context.Context, params map[string]any) (string, error) {
	var resp createSessionResponse
	if err := svc.transport.Control(ctx, http.MethodPost, "sessions", params, &resp); err != nil {
		return "", err
	}

	s := session.New(resp.SessionID, svc.transport, svc.poller, svc.limiter, svc.cfg.limits(), svc.logger)

	svc.mu.Lock()
	svc.sessions[resp.SessionID] = s
	svc.mu.Unlock()

	if svc.cfg.Keepalive > 0 {
		// The heartbeat outlives the creation call; it stops when the
		// session closes.
		s.StartKeepalive(context.WithoutCancel(ctx), svc.cfg.Keepalive.Std())
	}

	return resp.SessionID, nil
}

func (svc *service) CloseSession(ctx context.Context, sessionID string) error {
	s, ok := svc.session(sessionID)
	if !ok {
		return errors.ErrSessionNotFound
	}

	svc.mu.Lock()
	delete(svc.sessions, sessionID)
	svc.mu.Unlock()

	return s.Close(ctx)
}

func (svc *service) SubmitOrdered(ctx context.Context, sessionID string, op session.Operation) (*future.Future, error) {
	s, ok := svc.session(sessionID)
	if !ok {
		return nil, errors.ErrSessionNotFound
	}

	return s.SubmitOrdered(ctx, op)
}

func (svc *service) Sample(ctx context.Context, req SampleRequest) (*future.Future, error) {
	schedule := backoff.NewSchedule()

	var lastErr error
	for attempt := 0; attempt < maxSubmitAttempts; attempt++ {
		if err := svc.limiter.WaitUntilClear(ctx); err != nil {
			return nil, err
		}

		resp, err := svc.transport.Submit(ctx, transport.SubmitRequest{
			Path:    "sample",
			Class:   transport.ClassBulkConcurrent,
			Payload: req.Payload,
		})
		if err == nil {
			return svc.poller.Track(ctx, resp.RequestID), nil
		}
		lastErr = err

		var rl *transport.RateLimitedError
		if stderrors.As(err, &rl) {
			svc.limiter.RecordBackoff(rl.RetryAfter)

			continue
		}
		if !errors.Retryable(err) {
			return nil, err
		}
		if err := sleep(ctx, schedule.NextBackOff()); err != nil {
			return nil, err
		}
	}

	return nil, lastErr
}

func (svc *service) session(id string) (*session.Session, bool) {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	s, ok := svc.sessions[id]

	return s, ok
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()

		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
