package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/mlfoundry/foundry-go/client"
	"github.com/mlfoundry/foundry-go/future"
	"github.com/mlfoundry/foundry-go/session"
)

var _ client.Service = (*loggingMiddleware)(nil)

type loggingMiddleware struct {
	logger *slog.Logger
	svc    client.Service
}

func Logging(logger *slog.Logger, svc client.Service) client.Service {
	return &loggingMiddleware{
		logger: logger,
		svc:    svc,
	}
}

func (lm *loggingMiddleware) CreateSession(ctx context.Context, params map[string]any) (sessionID string, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("session",
				slog.String("id", sessionID),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Create session failed", args...)

			return
		}
		lm.logger.Info("Create session completed successfully", args...)
	}(time.Now())

	return lm.svc.CreateSession(ctx, params)
}

func (lm *loggingMiddleware) CloseSession(ctx context.Context, sessionID string) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("session",
				slog.String("id", sessionID),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Close session failed", args...)

			return
		}
		lm.logger.Info("Close session completed successfully", args...)
	}(time.Now())

	return lm.svc.CloseSession(ctx, sessionID)
}

func (lm *loggingMiddleware) SubmitOrdered(ctx context.Context, sessionID string, op session.Operation) (f *future.Future, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("operation",
				slog.String("kind", string(op.Kind)),
				slog.Int("items", len(op.Items)),
			),
			slog.Group("session",
				slog.String("id", sessionID),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Submit ordered operation failed", args...)

			return
		}
		args = append(args, slog.String("request_id", f.RequestID()))
		lm.logger.Info("Submit ordered operation completed successfully", args...)
	}(time.Now())

	return lm.svc.SubmitOrdered(ctx, sessionID, op)
}

func (lm *loggingMiddleware) Sample(ctx context.Context, req client.SampleRequest) (f *future.Future, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Sample failed", args...)

			return
		}
		args = append(args, slog.String("request_id", f.RequestID()))
		lm.logger.Info("Sample completed successfully", args...)
	}(time.Now())

	return lm.svc.Sample(ctx, req)
}
