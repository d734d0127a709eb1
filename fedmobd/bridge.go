package fedmobd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/absmach/fedmob"
	"github.com/absmach/fedmob/bridge"
	"github.com/absmach/fedmob/bridge/api"
	"github.com/absmach/fedmob/pkg/mlp"
	"github.com/absmach/fedmob/pkg/mqtt"
	"github.com/absmach/supermq/pkg/server"
	httpserver "github.com/absmach/supermq/pkg/server/http"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	bridgeSvcName     = "bridge"
	defBridgeHTTPPort = "8765"
)

// StartBridge serves the reference bridge with the demo model's initial
// weights as the global model.
func StartBridge(ctx context.Context, cancel context.CancelFunc, cfg fedmob.BridgeConfig) error {
	g, ctx := errgroup.WithContext(ctx)

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	if cfg.HTTP.Port == "" {
		cfg.HTTP.Port = defBridgeHTTPPort
	}

	// The provider is registered globally; the HTTP handlers trace through it.
	_, shutdownTracer, err := newTracerProvider(ctx, bridgeSvcName, cfg.InstanceID, cfg.Trace, logger)
	if err != nil {
		return err
	}
	defer shutdownTracer()

	model, err := mlp.New(cfg.Model)
	if err != nil {
		return fmt.Errorf("failed to build model: %w", err)
	}

	if cfg.Bridge.ModelVariant == "" {
		cfg.Bridge.ModelVariant = mlp.Variant
	}

	b := bridge.New(cfg.Bridge, model.Weights(), logger)
	hs := httpserver.NewServer(ctx, cancel, bridgeSvcName, cfg.HTTP, api.MakeHandler(b, b, logger, cfg.InstanceID), logger)

	g.Go(func() error {
		return b.Run(ctx)
	})

	g.Go(func() error {
		return hs.Start()
	})

	if cfg.MQTT.URL != "" {
		ps, err := mqtt.NewPubSub(cfg.MQTT, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to MQTT broker: %w", err)
		}
		g.Go(func() error {
			return b.ServeMQTT(ctx, ps, cfg.MQTT.TopicPrefix)
		})
	}

	g.Go(func() error {
		return server.StopSignalHandler(ctx, cancel, logger, bridgeSvcName, hs)
	})

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("%s service exited with error: %s", bridgeSvcName, err))

		return err
	}

	return nil
}

func NewBridgeCmd() *cobra.Command {
	cmd := cobra.Command{
		Use:   "bridge [start]",
		Short: "Bridge management",
		Long:  `Start the reference aggregator bridge.`,
	}

	var configPath string
	start := cobra.Command{
		Use:   "start",
		Short: "Start bridge",
		Long:  `Start a bridge that accepts client WebSocket connections at /ws and, when a broker URL is set, MQTT clients.`,
		Run: func(cmd *cobra.Command, _ []string) {
			cfg, err := fedmob.LoadConfig(configPath)
			if err != nil {
				slog.Error("failed to load config", slog.Any("error", err))

				return
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			if err := StartBridge(ctx, cancel, cfg.Bridge); err != nil {
				slog.Error("failed to start bridge", slog.String("error", err.Error()))
			}
		},
	}
	start.Flags().StringVarP(&configPath, "config", "c", "", "Path to a TOML config file")

	cmd.AddCommand(&start)

	return &cmd
}
