package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/absmach/fedmob/client"
	"github.com/absmach/fedmob/pkg/session"
	"github.com/absmach/fedmob/round"
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

func (lm *loggingMiddleware) Session(ctx context.Context) (resp session.Session, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get session failed", args...)

			return
		}
		args = append(args, slog.String("state", resp.State.String()))
		lm.logger.Debug("Get session completed successfully", args...)
	}(time.Now())

	return lm.svc.Session(ctx)
}

func (lm *loggingMiddleware) Health(ctx context.Context) (resp client.Health, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get health failed", args...)

			return
		}
		args = append(args, slog.Bool("healthy", resp.Healthy))
		lm.logger.Debug("Get health completed successfully", args...)
	}(time.Now())

	return lm.svc.Health(ctx)
}

func (lm *loggingMiddleware) ListRounds(ctx context.Context, offset, limit uint64) (resp round.Page, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Uint64("offset", offset),
			slog.Uint64("limit", limit),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("List rounds failed", args...)

			return
		}
		lm.logger.Info("List rounds completed successfully", args...)
	}(time.Now())

	return lm.svc.ListRounds(ctx, offset, limit)
}

func (lm *loggingMiddleware) GetRound(ctx context.Context, rnd int) (resp round.Record, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("round",
				slog.Int("number", rnd),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get round failed", args...)

			return
		}
		lm.logger.Info("Get round completed successfully", args...)
	}(time.Now())

	return lm.svc.GetRound(ctx, rnd)
}
