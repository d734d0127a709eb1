// Package bridge is a reference aggregator bridge. It accepts clients over
// WebSocket or an MQTT broker, hands out rounds with the current global
// weights, validates the weights clients send back and keeps a per-client
// view of their progress. It does not aggregate.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/0x6flab/namegenerator"
	"github.com/absmach/fedmob/pkg/codec"
	pkgerrors "github.com/absmach/fedmob/pkg/errors"
	"github.com/absmach/fedmob/pkg/protocol"
	"github.com/gorilla/websocket"
)

const (
	DefaultInactiveTimeout = 300 * time.Second
	DefaultSweepInterval   = 60 * time.Second
	sendBuffer             = 64
)

var (
	errNoClientID   = errors.New("client_id is required")
	errUnknownPeer  = errors.New("client not registered")
	errNotConnected = errors.Join(pkgerrors.ErrNotFound, errors.New("client not connected"))
)

type ClientState string

const (
	StateReady    ClientState = "ready"
	StateFLActive ClientState = "fl_active"
	StateTraining ClientState = "training"
)

type Config struct {
	InactiveTimeout time.Duration  `env:"INACTIVE_TIMEOUT" envDefault:"300s"     toml:"inactive_timeout"`
	SweepInterval   time.Duration  `env:"SWEEP_INTERVAL"   envDefault:"60s"      toml:"sweep_interval"`
	Rounds          int            `env:"ROUNDS"           envDefault:"1"        toml:"rounds"`
	Epochs          int            `env:"EPOCHS"           envDefault:"1"        toml:"epochs"`
	BatchSize       int            `env:"BATCH_SIZE"       envDefault:"32"       toml:"batch_size"`
	LearningRate    float64        `env:"LEARNING_RATE"    envDefault:"0.01"     toml:"learning_rate"`
	ModelVariant    string         `env:"MODEL_VARIANT"    envDefault:""         toml:"model_variant"`
	Encoding        codec.Encoding `env:"ENCODING"         envDefault:"base64"   toml:"encoding"`
	// Evaluate sends an evaluate_request after each accepted round.
	Evaluate bool `env:"EVALUATE" envDefault:"false" toml:"evaluate"`
}

func (c Config) roundConfig() protocol.RoundConfig {
	rc := protocol.RoundConfig{
		Epochs:       c.Epochs,
		BatchSize:    c.BatchSize,
		LearningRate: c.LearningRate,
		ModelVariant: c.ModelVariant,
	}
	if rc.Epochs <= 0 {
		rc.Epochs = protocol.DefaultEpochs
	}
	if rc.BatchSize <= 0 {
		rc.BatchSize = protocol.DefaultBatchSize
	}
	if rc.LearningRate <= 0 {
		rc.LearningRate = protocol.DefaultLearningRate
	}
	return rc
}

// ClientInfo is the bridge's view of one registered client.
type ClientInfo struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	State        ClientState       `json:"state"`
	Round        int               `json:"round"`
	Progress     float64           `json:"progress"`
	Completed    int               `json:"completed_rounds"`
	Failed       int               `json:"failed_rounds"`
	LastError    string            `json:"last_error,omitempty"`
	Metrics      *protocol.Metrics `json:"metrics,omitempty"`
	Evaluation   *protocol.Metrics `json:"evaluation,omitempty"`
	RegisteredAt time.Time         `json:"registered_at"`
	LastSeen     time.Time         `json:"last_seen"`
}

// Result is an accepted training_complete.
type Result struct {
	ClientID   string           `json:"client_id"`
	Round      int              `json:"round"`
	NumSamples int              `json:"num_samples"`
	Metrics    protocol.Metrics `json:"metrics"`
	Weights    codec.WeightSet  `json:"-"`
	At         time.Time        `json:"at"`
}

type Summary struct {
	Total   int                 `json:"total"`
	ByState map[ClientState]int `json:"by_state"`
	Clients []ClientInfo        `json:"clients"`
}

type Bridge struct {
	cfg      Config
	codec    *codec.Codec
	global   codec.WeightSet
	shapes   [][]int
	upgrader websocket.Upgrader
	namegen  namegenerator.NameGenerator
	logger   *slog.Logger

	mu        sync.Mutex
	clients   map[string]*peer
	mqttPeers map[string]*peer
	results   []Result
	now       func() time.Time
}

// New returns a bridge serving global as the starting weights of every
// round. Inbound weights must match its shapes.
func New(cfg Config, global codec.WeightSet, logger *slog.Logger) *Bridge {
	if cfg.InactiveTimeout <= 0 {
		cfg.InactiveTimeout = DefaultInactiveTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}

	return &Bridge{
		cfg:    cfg,
		codec:  codec.New(cfg.Encoding),
		global: global.Clone(),
		shapes: global.Shapes(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		namegen:   namegenerator.NewGenerator(),
		logger:    logger,
		clients:   make(map[string]*peer),
		mqttPeers: make(map[string]*peer),
		now:       time.Now,
	}
}

// Run sweeps inactive clients until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.closeAll()

			return nil
		case <-ticker.C:
			if dropped := b.Sweep(); len(dropped) > 0 {
				b.logger.Info("Dropped inactive clients", slog.Any("clients", dropped))
			}
		}
	}
}

// Sweep disconnects clients that have been silent for longer than the
// inactivity timeout and returns their IDs.
func (b *Bridge) Sweep() []string {
	cutoff := b.now().Add(-b.cfg.InactiveTimeout)

	b.mu.Lock()
	var stale []*peer
	for id, p := range b.clients {
		if p.info.LastSeen.Before(cutoff) {
			stale = append(stale, p)
			delete(b.clients, id)
		}
	}
	b.mu.Unlock()

	ids := make([]string, 0, len(stale))
	for _, p := range stale {
		p.close()
		ids = append(ids, p.info.ID)
	}
	slices.Sort(ids)

	return ids
}

func (b *Bridge) Summary() Summary {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Summary{
		Total:   len(b.clients),
		ByState: make(map[ClientState]int),
		Clients: make([]ClientInfo, 0, len(b.clients)),
	}
	for _, id := range slices.Sorted(maps.Keys(b.clients)) {
		info := b.clients[id].info
		s.ByState[info.State]++
		s.Clients = append(s.Clients, info)
	}

	return s
}

func (b *Bridge) Client(id string) (ClientInfo, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.clients[id]
	if !ok {
		return ClientInfo{}, false
	}

	return p.info, true
}

// Results returns the accepted training results in arrival order.
func (b *Bridge) Results() []Result {
	b.mu.Lock()
	defer b.mu.Unlock()

	return slices.Clone(b.results)
}

// StartRound offers a round to a connected client.
func (b *Bridge) StartRound(clientID string, rnd int) error {
	p, err := b.peer(clientID)
	if err != nil {
		return err
	}

	return b.offerRound(p, rnd)
}

// Evaluate asks a connected client to evaluate the global weights.
func (b *Bridge) Evaluate(clientID string, rnd int) error {
	p, err := b.peer(clientID)
	if err != nil {
		return err
	}
	tws, err := b.codec.Serialize(b.global)
	if err != nil {
		return err
	}

	return p.send(protocol.EvaluateRequest{
		Parameters: tws,
		Config: protocol.EvaluateConfig{
			Round:        rnd,
			BatchSize:    b.cfg.roundConfig().BatchSize,
			ModelVariant: b.cfg.roundConfig().ModelVariant,
		},
	})
}

func (b *Bridge) peer(clientID string) (*peer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.clients[clientID]
	if !ok {
		return nil, errNotConnected
	}

	return p, nil
}

func (b *Bridge) offerRound(p *peer, rnd int) error {
	b.mu.Lock()
	if rnd <= 0 {
		rnd = p.info.Round + 1
	}
	p.info.State = StateTraining
	p.info.Round = rnd
	p.info.Progress = 0
	b.mu.Unlock()

	tws, err := b.codec.Serialize(b.global)
	if err != nil {
		return err
	}

	return p.send(protocol.StartTraining{
		Round:   rnd,
		Config:  b.cfg.roundConfig(),
		Weights: tws,
	})
}

func (b *Bridge) closeAll() {
	b.mu.Lock()
	peers := slices.Collect(maps.Values(b.clients))
	clear(b.clients)
	b.mu.Unlock()

	for _, p := range peers {
		p.close()
	}
}
