package transport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/absmach/fedmob/pkg/protocol"
	"github.com/gorilla/websocket"
)

const (
	defaultWriteTimeout     = 10 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
)

var errEmptyURL = errors.New("empty websocket URL")

type WebSocketConfig struct {
	URL              string        `env:"URL"               envDefault:"ws://localhost:8765/ws" toml:"url"`
	WriteTimeout     time.Duration `env:"WRITE_TIMEOUT"     envDefault:"10s"                 toml:"write_timeout"`
	HandshakeTimeout time.Duration `env:"HANDSHAKE_TIMEOUT" envDefault:"10s"                 toml:"handshake_timeout"`
	// PingInterval enables keepalive pings. The read deadline is twice the
	// interval.
	PingInterval  time.Duration `env:"PING_INTERVAL"  envDefault:"30s" toml:"ping_interval"`
	HighWater     int           `env:"HIGH_WATER"     envDefault:"256" toml:"high_water"`
	InboundBuffer int           `env:"INBOUND_BUFFER" envDefault:"64"  toml:"inbound_buffer"`
	Backoff       BackoffConfig `envPrefix:"BACKOFF_" toml:"backoff"`
}

// NewWebSocket returns a Channel that speaks JSON text frames over a
// WebSocket connection.
func NewWebSocket(cfg WebSocketConfig, logger *slog.Logger) (Channel, error) {
	if cfg.URL == "" {
		return nil, errEmptyURL
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}

	return newChannel("websocket", dialWebSocket(cfg), cfg.Backoff, cfg.HighWater, cfg.InboundBuffer, logger), nil
}

func dialWebSocket(cfg WebSocketConfig) dialFunc {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}

	return func(ctx context.Context, deliver func([]byte)) (link, error) {
		conn, resp, err := dialer.DialContext(ctx, cfg.URL, nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			return nil, errors.Join(errors.New("failed to dial websocket"), err)
		}
		conn.SetReadLimit(protocol.MaxMessageSize)

		l := &wsLink{
			conn:         conn,
			writeTimeout: cfg.WriteTimeout,
			done:         make(chan struct{}),
		}
		go l.readLoop(deliver, cfg.PingInterval)
		if cfg.PingInterval > 0 {
			go l.keepalive(cfg.PingInterval)
		}

		return l, nil
	}
}

type wsLink struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	done     chan struct{}
	failOnce sync.Once
	err      error
}

func (l *wsLink) Write(_ context.Context, data []byte) error {
	if err := l.conn.SetWriteDeadline(time.Now().Add(l.writeTimeout)); err != nil {
		l.fail(err)

		return err
	}
	if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		l.fail(err)

		return err
	}

	return nil
}

func (l *wsLink) Done() <-chan struct{} {
	return l.done
}

func (l *wsLink) Err() error {
	select {
	case <-l.done:
		return l.err
	default:
		return nil
	}
}

func (l *wsLink) Close() error {
	select {
	case <-l.done:
	default:
		_ = l.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(l.writeTimeout),
		)
	}
	l.fail(nil)

	return nil
}

func (l *wsLink) fail(err error) {
	l.failOnce.Do(func() {
		l.err = err
		close(l.done)
		l.conn.Close()
	})
}

func (l *wsLink) readLoop(deliver func([]byte), ping time.Duration) {
	if ping > 0 {
		wait := 2 * ping
		_ = l.conn.SetReadDeadline(time.Now().Add(wait))
		l.conn.SetPongHandler(func(string) error {
			return l.conn.SetReadDeadline(time.Now().Add(wait))
		})
	}

	for {
		typ, data, err := l.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = errors.Join(ErrNotConnected, err)
			}
			l.fail(err)

			return
		}
		if typ != websocket.TextMessage && typ != websocket.BinaryMessage {
			continue
		}
		deliver(data)
	}
}

func (l *wsLink) keepalive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			if err := l.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(l.writeTimeout)); err != nil {
				l.fail(err)

				return
			}
		}
	}
}
