package client

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/0x6flab/namegenerator"
	"github.com/absmach/fedmob/pkg/codec"
	"github.com/absmach/fedmob/pkg/monitor"
	"github.com/absmach/fedmob/pkg/protocol"
	"github.com/absmach/fedmob/pkg/session"
	"github.com/absmach/fedmob/pkg/storage"
	"github.com/absmach/fedmob/pkg/training"
	"github.com/absmach/fedmob/pkg/transport"
	"github.com/absmach/fedmob/round"
)

var _ Service = (*Client)(nil)

// Client owns one session. Run drives it; the Service methods may be
// called concurrently with Run.
type Client struct {
	cfg      Config
	channel  transport.Channel
	machine  *session.Machine
	adapter  *protocol.Adapter
	codec    *codec.Codec
	monitor  *monitor.Monitor
	orch     *training.Orchestrator
	model    training.Model
	load     training.LoadFunc
	rounds   round.Repository
	sessions storage.SessionStore
	logger   *slog.Logger

	// Owned by the run loop.
	job       *job
	outcomes  chan outcome
	acked     bool
	sessionID string
	draining  <-chan struct{}
	held      *protocol.Message
}

// New wires a client around ch. model is trained in place and load
// supplies the local dataset for every round.
func New(cfg Config, ch transport.Channel, model training.Model, load training.LoadFunc, repos *storage.Repositories, logger *slog.Logger) (*Client, error) {
	if ch == nil || model == nil || load == nil {
		return nil, errors.New("channel, model and dataset loader are required")
	}
	if cfg.ID == "" {
		cfg.ID = namegenerator.NewGenerator().Generate()
	}
	if cfg.WeightPush == "" {
		cfg.WeightPush = PushFinal
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.RegisterTimeout <= 0 {
		cfg.RegisterTimeout = DefaultRegisterTimeout
	}
	if repos == nil {
		repos = &storage.Repositories{Rounds: storage.NewMemoryRounds(), Sessions: storage.NewMemorySessions()}
	}

	var sampler *monitor.ProcessSampler
	if cfg.SampleInterval > 0 {
		s, err := monitor.NewProcessSampler(int32(os.Getpid()))
		if err != nil {
			logger.Warn("Process metrics unavailable", slog.Any("error", err))
		}
		sampler = s
	}
	mon := monitor.New(monitor.NewTracker(), sampler, logger)

	return &Client{
		cfg:      cfg,
		channel:  ch,
		machine:  session.NewMachine(cfg.ID, logger),
		adapter:  protocol.NewAdapter(cfg.ID),
		codec:    codec.New(cfg.Encoding),
		monitor:  mon,
		orch:     training.New(mon, cfg.Training, logger),
		model:    model,
		load:     load,
		rounds:   repos.Rounds,
		sessions: repos.Sessions,
		logger:   logger.With(slog.String("client_id", cfg.ID)),
		outcomes: make(chan outcome, 1),
	}, nil
}

func (c *Client) ID() string {
	return c.cfg.ID
}

// Subscribe exposes session events to observers such as tests and the CLI.
func (c *Client) Subscribe(buffer int) (<-chan session.Event, func()) {
	return c.machine.Subscribe(buffer)
}

func (c *Client) Session(_ context.Context) (session.Session, error) {
	return c.machine.Session(), nil
}

func (c *Client) Health(_ context.Context) (Health, error) {
	snap := c.monitor.Snapshot()

	return Health{
		Health:   monitor.IsHealthy(snap, c.cfg.Training.Thresholds),
		State:    c.machine.State(),
		Pending:  c.channel.Pending(),
		Snapshot: snap,
	}, nil
}

func (c *Client) ListRounds(ctx context.Context, offset, limit uint64) (round.Page, error) {
	if limit == 0 {
		limit = defLimit
	}
	recs, total, err := c.rounds.List(ctx, c.cfg.ID, offset, limit)
	if err != nil {
		return round.Page{}, err
	}

	return round.Page{
		Offset: offset,
		Limit:  limit,
		Total:  total,
		Rounds: recs,
	}, nil
}

func (c *Client) GetRound(ctx context.Context, rnd int) (round.Record, error) {
	return c.rounds.Get(ctx, c.cfg.ID, rnd)
}
