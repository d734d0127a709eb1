package middleware

import (
	"context"
	"time"

	"github.com/absmach/fedmob/client"
	"github.com/absmach/fedmob/pkg/session"
	"github.com/absmach/fedmob/round"
	"github.com/go-kit/kit/metrics"
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

func (mm *metricsMiddleware) Session(ctx context.Context) (session.Session, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "get-session").Add(1)
		mm.latency.With("method", "get-session").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.Session(ctx)
}

func (mm *metricsMiddleware) Health(ctx context.Context) (client.Health, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "get-health").Add(1)
		mm.latency.With("method", "get-health").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.Health(ctx)
}

func (mm *metricsMiddleware) ListRounds(ctx context.Context, offset, limit uint64) (round.Page, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "list-rounds").Add(1)
		mm.latency.With("method", "list-rounds").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.ListRounds(ctx, offset, limit)
}

func (mm *metricsMiddleware) GetRound(ctx context.Context, rnd int) (round.Record, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "get-round").Add(1)
		mm.latency.With("method", "get-round").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.GetRound(ctx, rnd)
}
