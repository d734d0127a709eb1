package fedmob

import (
	"fmt"
	"net/url"
	"os"

	"github.com/absmach/fedmob/bridge"
	"github.com/absmach/fedmob/client"
	"github.com/absmach/fedmob/pkg/mlp"
	"github.com/absmach/fedmob/pkg/mqtt"
	"github.com/absmach/fedmob/pkg/storage"
	"github.com/absmach/fedmob/pkg/transport"
	"github.com/absmach/supermq/pkg/server"
	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml"
)

const (
	TransportWebSocket = "websocket"
	TransportMQTT      = "mqtt"
)

type Config struct {
	Client ClientConfig `envPrefix:"FEDMOB_CLIENT_" toml:"client"`
	Bridge BridgeConfig `envPrefix:"FEDMOB_BRIDGE_" toml:"bridge"`
}

// TraceConfig selects the tracer. An empty OTELURL disables export. The
// URL is read from the environment only.
type TraceConfig struct {
	OTELURL    url.URL `env:"OTEL_URL"                      toml:"-"`
	TraceRatio float64 `env:"TRACE_RATIO" envDefault:"1.0" toml:"trace_ratio"`
}

type ClientConfig struct {
	LogLevel   string `env:"LOG_LEVEL"   envDefault:"info"      toml:"log_level"`
	InstanceID string `env:"INSTANCE_ID"                        toml:"instance_id"`
	Transport  string `env:"TRANSPORT"   envDefault:"websocket" toml:"transport"`
	// Samples is the size of the synthetic dataset the demo model trains on.
	Samples int `env:"SAMPLES" envDefault:"256" toml:"samples"`

	Client    client.Config             `toml:"client"`
	WebSocket transport.WebSocketConfig `envPrefix:"WS_"      toml:"websocket"`
	MQTT      transport.MQTTConfig      `envPrefix:"MQTT_"    toml:"mqtt"`
	Model     mlp.Spec                  `envPrefix:"MODEL_"   toml:"model"`
	Storage   storage.Config            `envPrefix:"STORAGE_" toml:"storage"`
	HTTP      server.Config             `envPrefix:"HTTP_"    toml:"http"`
	Trace     TraceConfig               `toml:"trace"`
}

type BridgeConfig struct {
	LogLevel   string `env:"LOG_LEVEL"   envDefault:"info" toml:"log_level"`
	InstanceID string `env:"INSTANCE_ID"                   toml:"instance_id"`

	Bridge bridge.Config `toml:"bridge"`
	Model  mlp.Spec      `envPrefix:"MODEL_" toml:"model"`
	MQTT   mqtt.Config   `envPrefix:"MQTT_"  toml:"mqtt"`
	HTTP   server.Config `envPrefix:"HTTP_"  toml:"http"`
	Trace  TraceConfig   `toml:"trace"`
}

// LoadConfig reads defaults and FEDMOB_* variables from the environment and
// then applies the TOML file at path on top. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("error parsing environment: %w", err)
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("error reading config file: %w", err)
	}

	tree, err := toml.Load(string(data))
	if err != nil {
		return Config{}, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := tree.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return cfg, nil
}
