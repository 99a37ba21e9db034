package middleware

import (
	"context"
	"time"

	"github.com/go-kit/kit/metrics"
	kitprometheus "github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	"github.com/mlfoundry/foundry-go/client"
	"github.com/mlfoundry/foundry-go/future"
	"github.com/mlfoundry/foundry-go/session"
)

var _ client.Service = (*metricsMiddleware)(nil)

type metricsMiddleware struct {
	counter metrics.Counter
	latency metrics.Histogram
	svc     client.Service
}

func Metrics(counter metrics.Counter, latency metrics.Histogram, svc client.Service) client.Service {
	return &metricsMiddleware{
		counter: counter,
		latency: latency,
		svc:     svc,
	}
}

// MakeMetrics registers and returns the request counter and latency
// histogram used by the Metrics middleware.
func MakeMetrics(namespace, subsystem string) (metrics.Counter, metrics.Histogram) {
	counter := kitprometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "request_count",
		Help:      "Number of requests received.",
	}, []string{"method"})
	latency := kitprometheus.NewSummaryFrom(stdprometheus.SummaryOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "request_latency_microseconds",
		Help:      "Total duration of requests in microseconds.",
	}, []string{"method"})

	return counter, latency
}

func (mm *metricsMiddleware) CreateSession(ctx context.Context, params map[string]any) (string, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "create-session").Add(1)
		mm.latency.With("method", "create-session").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.CreateSession(ctx, params)
}

func (mm *metricsMiddleware) CloseSession(ctx context.Context, sessionID string) error {
	defer func(begin time.Time) {
		mm.counter.With("method", "close-session").Add(1)
		mm.latency.With("method", "close-session").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.CloseSession(ctx, sessionID)
}

func (mm *metricsMiddleware) SubmitOrdered(ctx context.Context, sessionID string, op session.Operation) (*future.Future, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "submit-ordered").Add(1)
		mm.latency.With("method", "submit-ordered").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.SubmitOrdered(ctx, sessionID, op)
}

func (mm *metricsMiddleware) Sample(ctx context.Context, req client.SampleRequest) (*future.Future, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "sample").Add(1)
		mm.latency.With("method", "sample").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.Sample(ctx, req)
}
