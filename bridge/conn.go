package bridge

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/absmach/fedmob/pkg/codec"
	"github.com/absmach/fedmob/pkg/protocol"
	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
)

var errSlowClient = errors.New("client send buffer is full")

// peer is one registered client. conn is nil for clients served over MQTT.
type peer struct {
	conn      *websocket.Conn
	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger

	// info is guarded by Bridge.mu.
	info ClientInfo
}

func (p *peer) send(body protocol.Body) error {
	msg, err := protocol.EncodeBody(body)
	if err != nil {
		return err
	}

	select {
	case <-p.done:
		return errNotConnected
	case p.out <- msg.Bytes():
		return nil
	default:
		p.close()

		return errSlowClient
	}
}

func (p *peer) close() {
	p.closeOnce.Do(func() {
		close(p.done)
		if p.conn != nil {
			_ = p.conn.Close()
		}
	})
}

func (p *peer) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			_ = p.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))

			return
		case b := <-p.out:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				p.logger.Warn("Failed to write to client", slog.Any("error", err))
				p.close()

				return
			}
		case <-ticker.C:
			if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				p.close()

				return
			}
		}
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("Failed to upgrade connection", slog.String("remote", r.RemoteAddr), slog.Any("error", err))

		return
	}
	conn.SetReadLimit(protocol.MaxMessageSize)

	p := &peer{
		conn:   conn,
		out:    make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		logger: b.logger.With(slog.String("remote", r.RemoteAddr)),
	}
	conn.SetPingHandler(func(data string) error {
		b.touch(p)

		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})
	conn.SetPongHandler(func(string) error {
		b.touch(p)

		return nil
	})

	go p.writePump()
	b.readLoop(p)
}

func (b *Bridge) readLoop(p *peer) {
	defer b.drop(p)

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.logger.Warn("Client connection closed", slog.Any("error", err))
			}

			return
		}
		b.touch(p)

		msg, err := protocol.Parse(data)
		if err != nil {
			p.logger.Warn("Dropped malformed message", slog.Any("error", err))

			continue
		}
		if err := b.handle(p, msg); err != nil {
			p.logger.Warn("Failed to handle message", slog.String("type", msg.Type()), slog.Any("error", err))
		}
	}
}

func (b *Bridge) touch(p *peer) {
	b.mu.Lock()
	p.info.LastSeen = b.now()
	b.mu.Unlock()
}

// drop removes p from the registry unless a newer connection has already
// taken its client ID.
func (b *Bridge) drop(p *peer) {
	p.close()

	b.mu.Lock()
	id := p.info.ID
	if cur, ok := b.clients[id]; ok && cur == p {
		delete(b.clients, id)
	}
	b.mu.Unlock()

	if id != "" {
		b.logger.Info("Client disconnected", slog.String("client_id", id))
	}
}

func (b *Bridge) handle(p *peer, msg protocol.Message) error {
	report, err := protocol.DecodeReport(msg)
	if err != nil {
		return err
	}

	if reg, ok := report.(protocol.Register); ok {
		return b.register(p, reg)
	}

	b.mu.Lock()
	registered := p.info.ID != ""
	b.mu.Unlock()
	if !registered {
		return errUnknownPeer
	}

	switch r := report.(type) {
	case protocol.RoundRequest:
		return b.offerRound(p, r.Round)
	case protocol.TrainingUpdate:
		b.mu.Lock()
		p.info.Round = r.Round
		p.info.Progress = r.Progress
		if r.Metrics != nil {
			m := *r.Metrics
			p.info.Metrics = &m
		}
		b.mu.Unlock()

		return nil
	case protocol.UpdateWeights:
		if _, err := b.validate(r.Weights); err != nil {
			return p.send(protocol.WeightsReceived{Status: protocol.StatusError, Error: err.Error()})
		}

		return p.send(protocol.WeightsReceived{Status: protocol.StatusSuccess})
	case protocol.TrainingComplete:
		return b.complete(p, r)
	case protocol.EvaluateComplete:
		b.mu.Lock()
		if r.Failed() {
			p.info.LastError = r.Error
		} else {
			p.info.Evaluation = &protocol.Metrics{Loss: r.Loss, Accuracy: r.Accuracy}
		}
		b.mu.Unlock()

		return b.next(p, r.Round)
	default:
		return fmt.Errorf("%w: %q", protocol.ErrUnknownMessage, msg.Type())
	}
}

func (b *Bridge) register(p *peer, reg protocol.Register) error {
	if reg.ClientID == "" {
		return p.send(protocol.RegisterAck{Status: protocol.StatusError, Error: errNoClientID.Error()})
	}

	now := b.now()
	b.mu.Lock()
	old := b.clients[reg.ClientID]
	p.info = ClientInfo{
		ID:           reg.ClientID,
		Name:         b.namegen.Generate(),
		State:        StateReady,
		RegisteredAt: now,
		LastSeen:     now,
	}
	b.clients[reg.ClientID] = p
	b.mu.Unlock()

	if old != nil && old != p {
		b.logger.Info("Replaced existing client connection", slog.String("client_id", reg.ClientID))
		old.close()
	}
	b.logger.Info("Client registered", slog.String("client_id", reg.ClientID), slog.String("name", p.info.Name))

	return p.send(protocol.RegisterAck{Status: protocol.StatusSuccess})
}

func (b *Bridge) complete(p *peer, r protocol.TrainingComplete) error {
	if r.Failed() {
		return b.failed(p, r)
	}
	ws, err := b.validate(r.Weights)
	if err != nil {
		return p.send(protocol.WeightsReceived{Status: protocol.StatusError, Error: err.Error()})
	}
	if err := p.send(protocol.WeightsReceived{Status: protocol.StatusSuccess}); err != nil {
		return err
	}
	if err := p.send(protocol.TrainingAcknowledged{Round: r.Round}); err != nil {
		return err
	}

	b.mu.Lock()
	p.info.State = StateFLActive
	p.info.Round = r.Round
	p.info.Progress = 100
	p.info.Completed++
	m := r.Metrics
	p.info.Metrics = &m
	b.results = append(b.results, Result{
		ClientID:   p.info.ID,
		Round:      r.Round,
		NumSamples: r.NumSamples,
		Metrics:    r.Metrics,
		Weights:    ws,
		At:         b.now(),
	})
	clientID := p.info.ID
	b.mu.Unlock()

	b.logger.Info("Accepted client weights",
		slog.String("client_id", clientID),
		slog.Int("round", r.Round),
		slog.Int("num_samples", r.NumSamples),
		slog.Float64("loss", r.Metrics.Loss),
	)

	if b.cfg.Evaluate {
		return b.Evaluate(clientID, r.Round)
	}

	return b.next(p, r.Round)
}

// failed records a round the client could not finish and moves on. Failed
// rounds count against the round budget so a client that always fails is
// not retried forever.
func (b *Bridge) failed(p *peer, r protocol.TrainingComplete) error {
	b.mu.Lock()
	p.info.State = StateFLActive
	p.info.Round = r.Round
	p.info.Progress = 0
	p.info.Failed++
	p.info.LastError = r.Error
	clientID := p.info.ID
	b.mu.Unlock()

	b.logger.Warn("Client failed round",
		slog.String("client_id", clientID),
		slog.Int("round", r.Round),
		slog.String("error", r.Error),
	)

	return b.next(p, r.Round)
}

// next offers the round after rnd while the client is below the configured
// round count.
func (b *Bridge) next(p *peer, rnd int) error {
	b.mu.Lock()
	more := p.info.Completed+p.info.Failed < b.cfg.Rounds
	b.mu.Unlock()
	if !more {
		return nil
	}

	return b.offerRound(p, rnd+1)
}

func (b *Bridge) validate(tws codec.TransportWeightSet) (codec.WeightSet, error) {
	ws, err := b.codec.Deserialize(tws)
	if err != nil {
		return nil, err
	}
	if err := codec.Validate(ws, b.shapes); err != nil {
		return nil, err
	}

	return ws, nil
}
