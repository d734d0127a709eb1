package fedmobd

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"testing"

	"github.com/absmach/fedmob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestNewTracerProvider(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cases := []struct {
		desc string
		cfg  fedmob.TraceConfig
		noop bool
		err  bool
	}{
		{desc: "no exporter url", cfg: fedmob.TraceConfig{TraceRatio: 1}, noop: true},
		{desc: "unsupported scheme", cfg: fedmob.TraceConfig{OTELURL: url.URL{Scheme: "udp", Host: "jaeger:6831"}, TraceRatio: 1}, err: true},
		{desc: "http exporter", cfg: fedmob.TraceConfig{OTELURL: url.URL{Scheme: "http", Host: "localhost:4318", Path: "/v1/traces"}, TraceRatio: 0.5}},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			tp, shutdown, err := newTracerProvider(context.Background(), "client", "test", tc.cfg, logger)
			if tc.err {
				assert.Error(t, err)

				return
			}
			require.NoError(t, err)
			defer shutdown()

			_, isNoop := tp.(noop.TracerProvider)
			assert.Equal(t, tc.noop, isNoop)
			assert.NotNil(t, tp.Tracer("client"))
		})
	}
}

func TestNewLogger(t *testing.T) {
	_, err := newLogger("debug")
	assert.NoError(t, err)

	_, err = newLogger("loud")
	assert.Error(t, err)
}
