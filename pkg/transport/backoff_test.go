package transport_test

import (
	"testing"
	"time"

	"github.com/absmach/fedmob/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffBounds(t *testing.T) {
	t.Parallel()

	cases := []struct {
		desc string
		cfg  transport.BackoffConfig
	}{
		{
			desc: "default jitter",
			cfg:  transport.BackoffConfig{Base: 100 * time.Millisecond, Cap: time.Second, Jitter: 0.2},
		},
		{
			desc: "no jitter",
			cfg:  transport.BackoffConfig{Base: 10 * time.Millisecond, Cap: 300 * time.Millisecond},
		},
		{
			desc: "full jitter",
			cfg:  transport.BackoffConfig{Base: time.Millisecond, Cap: 50 * time.Millisecond, Jitter: 1},
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()
			for range 50 {
				b := transport.NewBackoff(tc.cfg)
				for k := range 12 {
					d, ok := b.Next()
					require.True(t, ok)

					exp := min(tc.cfg.Base<<k, tc.cfg.Cap)
					lower := time.Duration(float64(exp) * (1 - tc.cfg.Jitter))
					assert.LessOrEqual(t, d, tc.cfg.Cap, "attempt %d", k)
					assert.LessOrEqual(t, d, exp, "attempt %d", k)
					assert.GreaterOrEqual(t, d, lower, "attempt %d", k)
				}
			}
		})
	}
}

func TestBackoffExactWithoutJitter(t *testing.T) {
	t.Parallel()
	b := transport.NewBackoff(transport.BackoffConfig{Base: 100 * time.Millisecond, Cap: time.Second})

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for i, w := range want {
		d, ok := b.Next()
		require.True(t, ok)
		assert.Equal(t, w, d, "attempt %d", i)
	}

	b.Reset()
	assert.Equal(t, 0, b.Attempt())
	d, _ := b.Next()
	assert.Equal(t, 100*time.Millisecond, d)
}

func TestBackoffMaxAttempts(t *testing.T) {
	t.Parallel()
	b := transport.NewBackoff(transport.BackoffConfig{Base: time.Millisecond, Cap: time.Second, MaxAttempts: 3})

	for range 3 {
		_, ok := b.Next()
		require.True(t, ok)
	}
	_, ok := b.Next()
	assert.False(t, ok)
	assert.Equal(t, 3, b.Attempt())

	b.Reset()
	_, ok = b.Next()
	assert.True(t, ok)
}

func TestBackoffCapBelowBase(t *testing.T) {
	t.Parallel()
	b := transport.NewBackoff(transport.BackoffConfig{Base: time.Second, Cap: time.Millisecond})

	d, ok := b.Next()
	require.True(t, ok)
	assert.Equal(t, time.Second, d)
}
