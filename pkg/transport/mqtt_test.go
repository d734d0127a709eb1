package transport_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/absmach/fedmob/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMQTTTopics(t *testing.T) {
	assert.Equal(t, "fedmob/clients/edge-1/up", transport.UpTopic("fedmob", "edge-1"))
	assert.Equal(t, "fedmob/clients/edge-1/down", transport.DownTopic("fedmob", "edge-1"))
	assert.Equal(t, "fedmob/clients/edge-1/status", transport.StatusTopic("fedmob", "edge-1"))
	assert.Equal(t, "fedmob/clients/+/up", transport.UpTopic("fedmob", "+"))
}

func TestNewMQTT(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cases := []struct {
		desc string
		cfg  transport.MQTTConfig
		err  bool
	}{
		{desc: "valid", cfg: transport.MQTTConfig{URL: "tcp://localhost:1883", ClientID: "edge-1"}},
		{desc: "default prefix and timeout", cfg: transport.MQTTConfig{URL: "tcp://localhost:1883", ClientID: "edge-1", Timeout: -1}},
		{desc: "missing client id", cfg: transport.MQTTConfig{URL: "tcp://localhost:1883"}, err: true},
		{desc: "missing broker", cfg: transport.MQTTConfig{ClientID: "edge-1"}, err: true},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			ch, err := transport.NewMQTT(tc.cfg, logger)
			if tc.err {
				assert.Error(t, err)

				return
			}
			require.NoError(t, err)
			assert.Equal(t, 0, ch.Pending())
		})
	}
}
