package middleware

import (
	"context"

	"github.com/absmach/fedmob/client"
	"github.com/absmach/fedmob/pkg/session"
	"github.com/absmach/fedmob/round"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var _ client.Service = (*tracing)(nil)

type tracing struct {
	tracer trace.Tracer
	svc    client.Service
}

func Tracing(tracer trace.Tracer, svc client.Service) client.Service {
	return &tracing{tracer, svc}
}

func (tm *tracing) Session(ctx context.Context) (session.Session, error) {
	ctx, span := tm.tracer.Start(ctx, "get-session")
	defer span.End()

	return tm.svc.Session(ctx)
}

func (tm *tracing) Health(ctx context.Context) (client.Health, error) {
	ctx, span := tm.tracer.Start(ctx, "get-health")
	defer span.End()

	return tm.svc.Health(ctx)
}

func (tm *tracing) ListRounds(ctx context.Context, offset, limit uint64) (round.Page, error) {
	ctx, span := tm.tracer.Start(ctx, "list-rounds", trace.WithAttributes(
		attribute.Int64("offset", int64(offset)),
		attribute.Int64("limit", int64(limit)),
	))
	defer span.End()

	return tm.svc.ListRounds(ctx, offset, limit)
}

func (tm *tracing) GetRound(ctx context.Context, rnd int) (round.Record, error) {
	ctx, span := tm.tracer.Start(ctx, "get-round", trace.WithAttributes(
		attribute.Int("round", rnd),
	))
	defer span.End()

	return tm.svc.GetRound(ctx, rnd)
}
