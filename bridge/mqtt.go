package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/absmach/fedmob/pkg/mqtt"
	"github.com/absmach/fedmob/pkg/protocol"
	"github.com/absmach/fedmob/pkg/transport"
)

const statusOffline = "offline"

type lastWill struct {
	Status   string `json:"status"`
	ClientID string `json:"client_id"`
}

// ServeMQTT serves clients that publish on <prefix>/clients/<id>/up and
// listen on <prefix>/clients/<id>/down. It blocks until ctx is done and then
// disconnects ps.
func (b *Bridge) ServeMQTT(ctx context.Context, ps mqtt.PubSub, prefix string) error {
	uplink := func(topic string, payload []byte) error {
		id, ok := topicClient(prefix, topic)
		if !ok {
			return fmt.Errorf("unexpected uplink topic %q", topic)
		}
		p := b.mqttPeer(ctx, ps, prefix, id)
		b.touch(p)

		msg, err := protocol.Parse(payload)
		if err != nil {
			return err
		}

		return b.handle(p, msg)
	}
	status := func(topic string, payload []byte) error {
		id, ok := topicClient(prefix, topic)
		if !ok {
			return fmt.Errorf("unexpected status topic %q", topic)
		}
		var will lastWill
		if err := json.Unmarshal(payload, &will); err != nil {
			return err
		}
		if will.Status != statusOffline {
			return nil
		}

		b.mu.Lock()
		p, ok := b.mqttPeers[id]
		b.mu.Unlock()
		if ok {
			p.close()
		}

		return nil
	}

	if err := ps.Subscribe(ctx, transport.UpTopic(prefix, "+"), uplink); err != nil {
		return fmt.Errorf("failed to subscribe to uplink: %w", err)
	}
	if err := ps.Subscribe(ctx, transport.StatusTopic(prefix, "+"), status); err != nil {
		return fmt.Errorf("failed to subscribe to status: %w", err)
	}
	b.logger.Info("Serving MQTT clients", slog.String("uplink", transport.UpTopic(prefix, "+")))

	<-ctx.Done()

	b.mu.Lock()
	peers := make([]*peer, 0, len(b.mqttPeers))
	for _, p := range b.mqttPeers {
		peers = append(peers, p)
	}
	b.mu.Unlock()
	for _, p := range peers {
		p.close()
	}

	dctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()

	return ps.Disconnect(dctx)
}

// mqttPeer returns the peer bound to the topic client id, starting its
// downlink publisher on first use.
func (b *Bridge) mqttPeer(ctx context.Context, ps mqtt.PubSub, prefix, id string) *peer {
	b.mu.Lock()
	defer b.mu.Unlock()

	if p, ok := b.mqttPeers[id]; ok {
		return p
	}
	p := &peer{
		out:    make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		logger: b.logger.With(slog.String("transport", "mqtt"), slog.String("topic_client", id)),
	}
	b.mqttPeers[id] = p
	go b.publishPump(ctx, ps, transport.DownTopic(prefix, id), id, p)

	return p
}

func (b *Bridge) publishPump(ctx context.Context, ps mqtt.PubSub, topic, id string, p *peer) {
	defer func() {
		b.mu.Lock()
		if cur, ok := b.mqttPeers[id]; ok && cur == p {
			delete(b.mqttPeers, id)
		}
		b.mu.Unlock()
		b.drop(p)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case data := <-p.out:
			if err := ps.Publish(ctx, topic, data); err != nil {
				p.logger.Warn("Failed to publish to client", slog.Any("error", err))

				return
			}
		}
	}
}

// topicClient extracts the client id from <prefix>/clients/<id>/<leaf>.
func topicClient(prefix, topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, prefix+"/clients/")
	if !ok {
		return "", false
	}
	id, _, ok := strings.Cut(rest, "/")
	if !ok || id == "" {
		return "", false
	}

	return id, true
}
