package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	connTimeout    = 10 * time.Second
	disconnTimeout = 250

	upTopicTemplate     = "%s/clients/%s/up"
	downTopicTemplate   = "%s/clients/%s/down"
	statusTopicTemplate = "%s/clients/%s/status"
	lwtPayloadTemplate  = `{"status":"offline","client_id":"%s"}`
)

var (
	errPublishTimeout   = errors.New("failed to publish due to timeout reached")
	errSubscribeTimeout = errors.New("failed to subscribe due to timeout reached")
	errEmptyID          = errors.New("empty ID")
	errEmptyBroker      = errors.New("empty broker URL")
)

type MQTTConfig struct {
	URL         string        `env:"URL"          envDefault:"tcp://localhost:1883" toml:"url"`
	ClientID    string        `env:"CLIENT_ID"    envDefault:""                     toml:"client_id"`
	Username    string        `env:"USERNAME"     envDefault:""                     toml:"username"`
	Password    string        `env:"PASSWORD"     envDefault:""                     toml:"password"`
	QoS         byte          `env:"QOS"          envDefault:"1"                    toml:"qos"`
	Timeout     time.Duration `env:"TIMEOUT"      envDefault:"10s"                  toml:"timeout"`
	TopicPrefix string        `env:"TOPIC_PREFIX" envDefault:"fedmob"               toml:"topic_prefix"`
	HighWater   int           `env:"HIGH_WATER"   envDefault:"256"                  toml:"high_water"`
	Backoff     BackoffConfig `envPrefix:"BACKOFF_" toml:"backoff"`
}

// UpTopic carries client-to-bridge messages.
func UpTopic(prefix, clientID string) string {
	return fmt.Sprintf(upTopicTemplate, prefix, clientID)
}

// DownTopic carries bridge-to-client messages.
func DownTopic(prefix, clientID string) string {
	return fmt.Sprintf(downTopicTemplate, prefix, clientID)
}

// StatusTopic carries the client's last will when it drops off the broker.
func StatusTopic(prefix, clientID string) string {
	return fmt.Sprintf(statusTopicTemplate, prefix, clientID)
}

// NewMQTT returns a Channel over an MQTT broker using one uplink and one
// downlink topic per client. Reconnection is driven by the channel's
// backoff, not by the paho client.
func NewMQTT(cfg MQTTConfig, logger *slog.Logger) (Channel, error) {
	if cfg.ClientID == "" {
		return nil, errEmptyID
	}
	if cfg.URL == "" {
		return nil, errEmptyBroker
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = connTimeout
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "fedmob"
	}

	return newChannel("mqtt", dialMQTT(cfg, logger), cfg.Backoff, cfg.HighWater, 0, logger), nil
}

func dialMQTT(cfg MQTTConfig, logger *slog.Logger) dialFunc {
	up := UpTopic(cfg.TopicPrefix, cfg.ClientID)
	down := DownTopic(cfg.TopicPrefix, cfg.ClientID)

	return func(ctx context.Context, deliver func([]byte)) (link, error) {
		l := &mqttLink{
			topic:   up,
			qos:     cfg.QoS,
			timeout: cfg.Timeout,
			done:    make(chan struct{}),
		}

		opts := mqtt.NewClientOptions().
			AddBroker(cfg.URL).
			SetClientID(cfg.ClientID).
			SetUsername(cfg.Username).
			SetPassword(cfg.Password).
			SetCleanSession(true).
			SetAutoReconnect(false).
			SetOrderMatters(true).
			SetConnectTimeout(cfg.Timeout)

		opts.SetWill(StatusTopic(cfg.TopicPrefix, cfg.ClientID), fmt.Sprintf(lwtPayloadTemplate, cfg.ClientID), 0, false)

		opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			args := []any{}
			if err != nil {
				args = append(args, slog.Any("error", err))
			}
			logger.Info("MQTT connection lost", args...)
			l.fail(err)
		})

		client := mqtt.NewClient(opts)
		l.client = client

		token := client.Connect()
		if !waitToken(ctx, token, cfg.Timeout) {
			client.Disconnect(disconnTimeout)

			return nil, errors.New("timeout reached while connecting to MQTT broker")
		}
		if token.Error() != nil {
			return nil, errors.Join(errors.New("failed to connect to MQTT broker"), token.Error())
		}

		token = client.Subscribe(down, cfg.QoS, func(_ mqtt.Client, m mqtt.Message) {
			deliver(m.Payload())
			m.Ack()
		})
		if !waitToken(ctx, token, cfg.Timeout) {
			client.Disconnect(disconnTimeout)

			return nil, errSubscribeTimeout
		}
		if token.Error() != nil {
			client.Disconnect(disconnTimeout)

			return nil, token.Error()
		}

		return l, nil
	}
}

func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

type mqttLink struct {
	client  mqtt.Client
	topic   string
	qos     byte
	timeout time.Duration

	done     chan struct{}
	failOnce sync.Once
	err      error
}

func (l *mqttLink) Write(ctx context.Context, data []byte) error {
	token := l.client.Publish(l.topic, l.qos, false, data)
	if !waitToken(ctx, token, l.timeout) {
		return errPublishTimeout
	}

	return token.Error()
}

func (l *mqttLink) Done() <-chan struct{} {
	return l.done
}

func (l *mqttLink) Err() error {
	select {
	case <-l.done:
		return l.err
	default:
		return nil
	}
}

func (l *mqttLink) Close() error {
	if l.client.IsConnected() {
		l.client.Disconnect(disconnTimeout)
	}
	l.fail(nil)

	return nil
}

func (l *mqttLink) fail(err error) {
	l.failOnce.Do(func() {
		l.err = err
		close(l.done)
	})
}
