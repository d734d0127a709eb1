// Package fedmobd contains the daemon commands that run a client or a
// bridge in the foreground.
package fedmobd

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"

	"github.com/absmach/fedmob"
	"github.com/absmach/supermq/pkg/jaeger"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("failed to parse log level: %s", err.Error())
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	}))
	slog.SetDefault(logger)

	return logger, nil
}

// newTracerProvider exports to cfg.OTELURL when it is set. The returned
// function shuts the exporter down.
func newTracerProvider(ctx context.Context, svcName, instanceID string, cfg fedmob.TraceConfig, logger *slog.Logger) (trace.TracerProvider, func(), error) {
	if cfg.OTELURL == (url.URL{}) {
		return noop.NewTracerProvider(), func() {}, nil
	}

	sdktp, err := jaeger.NewProvider(ctx, svcName, cfg.OTELURL, instanceID, cfg.TraceRatio)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize opentelemetry: %s", err.Error())
	}
	shutdown := func() {
		if err := sdktp.Shutdown(context.Background()); err != nil {
			logger.Error("error shutting down tracer provider", slog.Any("error", err))
		}
	}

	return sdktp, shutdown, nil
}
