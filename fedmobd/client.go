package fedmobd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/absmach/fedmob"
	"github.com/absmach/fedmob/client"
	"github.com/absmach/fedmob/client/api"
	"github.com/absmach/fedmob/client/middleware"
	"github.com/absmach/fedmob/pkg/mlp"
	"github.com/absmach/fedmob/pkg/storage"
	"github.com/absmach/fedmob/pkg/training"
	"github.com/absmach/fedmob/pkg/transport"
	"github.com/absmach/supermq/pkg/prometheus"
	"github.com/absmach/supermq/pkg/server"
	httpserver "github.com/absmach/supermq/pkg/server/http"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	clientSvcName     = "client"
	defClientHTTPPort = "9090"
)

// StartClient runs a client against the bridge together with its HTTP API
// until ctx is cancelled, a stop signal arrives or the transport gives up.
func StartClient(ctx context.Context, cancel context.CancelFunc, cfg fedmob.ClientConfig) error {
	g, ctx := errgroup.WithContext(ctx)

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	if cfg.HTTP.Port == "" {
		cfg.HTTP.Port = defClientHTTPPort
	}

	tp, shutdownTracer, err := newTracerProvider(ctx, clientSvcName, cfg.InstanceID, cfg.Trace, logger)
	if err != nil {
		return err
	}
	defer shutdownTracer()
	tracer := tp.Tracer(clientSvcName)

	ch, err := newChannel(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create %s transport: %w", cfg.Transport, err)
	}

	repos, err := storage.NewRepositories(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Type, err)
	}
	defer func() {
		if repos.Closer == nil {
			return
		}
		if err := repos.Closer.Close(); err != nil {
			logger.Error("failed to close storage", slog.Any("error", err))
		}
	}()

	model, err := mlp.New(cfg.Model)
	if err != nil {
		return fmt.Errorf("failed to build model: %w", err)
	}
	spec, samples := cfg.Model, cfg.Samples
	load := func(context.Context) (training.Dataset, error) {
		return mlp.Synthetic(samples, spec.Inputs, spec.Classes, spec.Seed)
	}

	c, err := client.New(cfg.Client, ch, model, load, repos, logger)
	if err != nil {
		return err
	}

	var svc client.Service = c
	svc = middleware.Logging(logger, svc)
	svc = middleware.Tracing(tracer, svc)
	counter, latency := prometheus.MakeMetrics(clientSvcName, "api")
	svc = middleware.Metrics(counter, latency, svc)

	hs := httpserver.NewServer(ctx, cancel, clientSvcName, cfg.HTTP, api.MakeHandler(svc, logger, cfg.InstanceID), logger)

	g.Go(func() error {
		defer cancel()

		return c.Run(ctx)
	})

	g.Go(func() error {
		return hs.Start()
	})

	g.Go(func() error {
		return server.StopSignalHandler(ctx, cancel, logger, clientSvcName, hs)
	})

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("%s service exited with error: %s", clientSvcName, err))

		return err
	}

	return nil
}

func newChannel(cfg fedmob.ClientConfig, logger *slog.Logger) (transport.Channel, error) {
	switch cfg.Transport {
	case fedmob.TransportMQTT:
		if cfg.MQTT.ClientID == "" {
			cfg.MQTT.ClientID = cfg.Client.ID
		}

		return transport.NewMQTT(cfg.MQTT, logger)
	case fedmob.TransportWebSocket, "":
		return transport.NewWebSocket(cfg.WebSocket, logger)
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

func NewClientCmd() *cobra.Command {
	cmd := cobra.Command{
		Use:   "client [start]",
		Short: "Client management",
		Long:  `Start a federated-learning edge client.`,
	}

	var configPath string
	start := cobra.Command{
		Use:   "start",
		Short: "Start client",
		Long:  `Start a client that registers with the bridge and trains the demo model on every round it is offered.`,
		Run: func(cmd *cobra.Command, _ []string) {
			cfg, err := fedmob.LoadConfig(configPath)
			if err != nil {
				slog.Error("failed to load config", slog.Any("error", err))

				return
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			if err := StartClient(ctx, cancel, cfg.Client); err != nil {
				slog.Error("failed to start client", slog.String("error", err.Error()))
			}
		},
	}
	start.Flags().StringVarP(&configPath, "config", "c", "", "Path to a TOML config file")

	cmd.AddCommand(&start)

	return &cmd
}
