// Package client runs one federated-learning edge client: it keeps a
// session with the bridge over a transport channel, trains the local model
// when a round is offered and reports the result.
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/absmach/fedmob/pkg/codec"
	"github.com/absmach/fedmob/pkg/monitor"
	"github.com/absmach/fedmob/pkg/session"
	"github.com/absmach/fedmob/pkg/training"
	"github.com/absmach/fedmob/round"
)

const (
	defOffset = 0
	defLimit  = 100

	DefaultSendTimeout     = 10 * time.Second
	DefaultRegisterTimeout = 15 * time.Second
	DefaultSampleInterval  = 10 * time.Second
)

// WeightPushPolicy decides when weights are pushed to the bridge during a
// round.
type WeightPushPolicy string

const (
	// PushFinal sends weights once, with training_complete.
	PushFinal WeightPushPolicy = "final"
	// PushEveryEpoch also sends update_weights after every epoch.
	PushEveryEpoch WeightPushPolicy = "every_epoch"
)

func (p *WeightPushPolicy) UnmarshalText(b []byte) error {
	switch v := WeightPushPolicy(b); v {
	case PushFinal, PushEveryEpoch:
		*p = v

		return nil
	case "":
		*p = PushFinal

		return nil
	default:
		return fmt.Errorf("unknown weight push policy %q", string(b))
	}
}

type Config struct {
	ID              string           `env:"ID"               toml:"id"`
	ModelVariant    string           `env:"MODEL_VARIANT"    envDefault:"dense_mlp" toml:"model_variant"`
	WeightPush      WeightPushPolicy `env:"WEIGHT_PUSH"      envDefault:"final"     toml:"weight_push"`
	Encoding        codec.Encoding   `env:"ENCODING"         envDefault:"base64"    toml:"encoding"`
	SendTimeout     time.Duration    `env:"SEND_TIMEOUT"     envDefault:"10s"       toml:"send_timeout"`
	RegisterTimeout time.Duration    `env:"REGISTER_TIMEOUT" envDefault:"15s"       toml:"register_timeout"`
	LoadTimeout     time.Duration    `env:"LOAD_TIMEOUT"     envDefault:"30s"       toml:"load_timeout"`
	SampleInterval  time.Duration    `env:"SAMPLE_INTERVAL"  envDefault:"10s"       toml:"sample_interval"`
	SkipWeights     bool             `env:"SKIP_WEIGHTS"     toml:"skip_weights"`
	Training        training.Config  `envPrefix:"TRAINING_"  toml:"training"`
}

// Health is the resource and connection view of a running client.
type Health struct {
	monitor.Health

	State    session.State    `json:"state"`
	Pending  int              `json:"pending_messages"`
	Snapshot monitor.Snapshot `json:"resources"`
}

// Service is the read-only view of a client exposed over HTTP.
type Service interface {
	Session(ctx context.Context) (session.Session, error)
	Health(ctx context.Context) (Health, error)
	ListRounds(ctx context.Context, offset, limit uint64) (round.Page, error)
	GetRound(ctx context.Context, rnd int) (round.Record, error)
}
