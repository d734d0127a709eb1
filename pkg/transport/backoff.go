package transport

import (
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultMaxDelay    = 30 * time.Second
	DefaultJitter      = 0.2
	DefaultMaxAttempts = 10
)

type BackoffConfig struct {
	Base   time.Duration `env:"BASE"   envDefault:"500ms" toml:"base"`
	Cap    time.Duration `env:"CAP"    envDefault:"30s"   toml:"cap"`
	Jitter float64       `env:"JITTER" envDefault:"0.2"   toml:"jitter"`
	// MaxAttempts bounds consecutive failed dials. Zero retries forever.
	MaxAttempts int `env:"MAX_ATTEMPTS" envDefault:"10" toml:"max_attempts"`
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Base:        DefaultBaseDelay,
		Cap:         DefaultMaxDelay,
		Jitter:      DefaultJitter,
		MaxAttempts: DefaultMaxAttempts,
	}
}

// Backoff yields reconnect delays of min(base*2^k, cap) reduced by up to
// the jitter fraction. Jitter never pushes a delay above the cap.
type Backoff struct {
	cfg     BackoffConfig
	exp     *backoff.ExponentialBackOff
	attempt int
	rand    func() float64
}

func NewBackoff(cfg BackoffConfig) *Backoff {
	if cfg.Base <= 0 {
		cfg.Base = DefaultBaseDelay
	}
	if cfg.Cap <= 0 {
		cfg.Cap = DefaultMaxDelay
	}
	if cfg.Cap < cfg.Base {
		cfg.Cap = cfg.Base
	}
	cfg.Jitter = min(max(cfg.Jitter, 0), 1)

	return &Backoff{
		cfg: cfg,
		exp: &backoff.ExponentialBackOff{
			InitialInterval:     cfg.Base,
			RandomizationFactor: 0,
			Multiplier:          2,
			MaxInterval:         cfg.Cap,
		},
		rand: rand.Float64,
	}
}

// Next returns the delay before the next attempt. ok is false once
// MaxAttempts consecutive attempts have failed.
func (b *Backoff) Next() (delay time.Duration, ok bool) {
	if b.cfg.MaxAttempts > 0 && b.attempt >= b.cfg.MaxAttempts {
		return 0, false
	}
	b.attempt++

	d := min(b.exp.NextBackOff(), b.cfg.Cap)
	if b.cfg.Jitter > 0 {
		d -= time.Duration(float64(d) * b.cfg.Jitter * b.rand())
	}

	return d, true
}

func (b *Backoff) Reset() {
	b.attempt = 0
	b.exp.Reset()
}

func (b *Backoff) Attempt() int {
	return b.attempt
}
