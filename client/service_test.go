package client_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/absmach/fedmob/client"
	"github.com/absmach/fedmob/pkg/codec"
	"github.com/absmach/fedmob/pkg/mlp"
	"github.com/absmach/fedmob/pkg/protocol"
	"github.com/absmach/fedmob/pkg/session"
	"github.com/absmach/fedmob/pkg/training"
	"github.com/absmach/fedmob/pkg/transport"
	"github.com/absmach/fedmob/pkg/transport/mocks"
	"github.com/absmach/fedmob/round"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	spec   = mlp.Spec{Inputs: 4, Hidden: 8, Classes: 2, Seed: 42}
)

// fakeChannel is an always-connected channel driven by the test.
type fakeChannel struct {
	in     chan protocol.Message
	events chan transport.Event
	sent   chan protocol.Message

	mu        sync.Mutex
	handshake int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		in:     make(chan protocol.Message, 16),
		events: make(chan transport.Event, 16),
		sent:   make(chan protocol.Message, 256),
	}
}

func (f *fakeChannel) Connect(context.Context) error {
	f.events <- transport.Event{Kind: transport.Connected, At: time.Now()}

	return nil
}

func (f *fakeChannel) Send(_ context.Context, msg protocol.Message) error {
	f.sent <- msg

	return nil
}

func (f *fakeChannel) SendDirect(ctx context.Context, msg protocol.Message) error {
	return f.Send(ctx, msg)
}

func (f *fakeChannel) HandshakeComplete() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handshake++
}

func (f *fakeChannel) Messages() <-chan protocol.Message { return f.in }

func (f *fakeChannel) Events() <-chan transport.Event { return f.events }

func (f *fakeChannel) Pending() int { return 0 }

func (f *fakeChannel) Disconnect(context.Context) error { return nil }

func (f *fakeChannel) deliver(t *testing.T, body protocol.Body) {
	t.Helper()
	msg, err := protocol.EncodeBody(body)
	require.NoError(t, err)
	f.in <- msg
}

// expect returns the next sent message of the given type, skipping others.
func (f *fakeChannel) expect(t *testing.T, msgType string) protocol.Message {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case msg := <-f.sent:
			if msg.Type() == msgType {
				return msg
			}
		case <-timeout:
			t.Fatalf("no %s message sent", msgType)

			return protocol.Message{}
		}
	}
}

type harness struct {
	client  *client.Client
	channel *fakeChannel
	release chan struct{}
}

func start(t *testing.T, cfg client.Config, blocking bool) *harness {
	t.Helper()
	model, err := mlp.New(spec)
	require.NoError(t, err)

	return startModel(t, cfg, blocking, model)
}

func startModel(t *testing.T, cfg client.Config, blocking bool, model training.Model) *harness {
	t.Helper()
	h := &harness{channel: newFakeChannel(), release: make(chan struct{})}
	if !blocking {
		close(h.release)
	}

	load := func(ctx context.Context) (training.Dataset, error) {
		select {
		case <-h.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		return mlp.Synthetic(4, spec.Inputs, spec.Classes, 3)
	}

	if cfg.ID == "" {
		cfg.ID = "edge-1"
	}
	cfg.ModelVariant = mlp.Variant
	var err error
	h.client, err = client.New(cfg, h.channel, model, load, nil, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.client.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("client did not stop")
		}
	})

	return h
}

// handshake completes registration and returns the round the client asked
// for.
func (h *harness) handshake(t *testing.T) int {
	t.Helper()
	msg := h.channel.expect(t, protocol.TypeRegister)
	var reg protocol.Register
	require.NoError(t, msg.Decode(&reg))
	assert.Equal(t, h.client.ID(), reg.ClientID)

	h.channel.deliver(t, protocol.RegisterAck{Status: protocol.StatusSuccess})
	msg = h.channel.expect(t, protocol.TypeStartTraining)
	var req protocol.RoundRequest
	require.NoError(t, msg.Decode(&req))

	return req.Round
}

func (h *harness) waitState(t *testing.T, want session.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		s, err := h.client.Session(context.Background())

		return err == nil && s.State == want
	}, 5*time.Second, 10*time.Millisecond, "state never reached %s", want)
}

func roundMsg(rnd, epochs int) protocol.StartTraining {
	return protocol.StartTraining{
		Round: rnd,
		Config: protocol.RoundConfig{
			Epochs:       epochs,
			BatchSize:    2,
			LearningRate: 0.05,
			ModelVariant: mlp.Variant,
		},
	}
}

func TestNew(t *testing.T) {
	model, err := mlp.New(spec)
	require.NoError(t, err)
	load := func(context.Context) (training.Dataset, error) { return nil, nil }

	cases := []struct {
		desc  string
		ch    transport.Channel
		model training.Model
		load  training.LoadFunc
		err   bool
	}{
		{desc: "complete", ch: newFakeChannel(), model: model, load: load},
		{desc: "missing channel", model: model, load: load, err: true},
		{desc: "missing model", ch: newFakeChannel(), load: load, err: true},
		{desc: "missing loader", ch: newFakeChannel(), model: model, err: true},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			c, err := client.New(client.Config{}, tc.ch, tc.model, tc.load, nil, logger)
			if tc.err {
				assert.Error(t, err)

				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, c.ID(), "a name is generated when no ID is configured")
		})
	}
}

func TestRegistration(t *testing.T) {
	h := start(t, client.Config{}, false)

	assert.Equal(t, 1, h.handshake(t))
	h.waitState(t, session.FLActive)

	h.channel.mu.Lock()
	assert.Equal(t, 1, h.channel.handshake)
	h.channel.mu.Unlock()
}

func TestRegistrationRejected(t *testing.T) {
	h := start(t, client.Config{}, false)
	h.channel.expect(t, protocol.TypeRegister)

	h.channel.deliver(t, protocol.RegisterAck{Status: protocol.StatusError, Error: "duplicate"})
	time.Sleep(50 * time.Millisecond)

	s, err := h.client.Session(context.Background())
	require.NoError(t, err)
	assert.Equal(t, session.Registered, s.State)
}

func TestRegistrationResent(t *testing.T) {
	h := start(t, client.Config{RegisterTimeout: 50 * time.Millisecond}, false)

	h.channel.expect(t, protocol.TypeRegister)
	h.channel.expect(t, protocol.TypeRegister)
}

func TestTrainingRound(t *testing.T) {
	h := start(t, client.Config{}, false)
	rnd := h.handshake(t)

	h.channel.deliver(t, roundMsg(rnd, 2))

	msg := h.channel.expect(t, protocol.TypeTrainingUpdate)
	var upd protocol.TrainingUpdate
	require.NoError(t, msg.Decode(&upd))
	assert.Equal(t, rnd, upd.Round)
	assert.Equal(t, 1, upd.Epoch)
	assert.InDelta(t, 50, upd.Progress, 0.001)

	msg = h.channel.expect(t, protocol.TypeTrainingComplete)
	var done protocol.TrainingComplete
	require.NoError(t, msg.Decode(&done))
	assert.Equal(t, rnd, done.Round)
	assert.Equal(t, 4, done.NumSamples)
	require.Len(t, done.Weights, 4)

	ws, err := codec.New(codec.EncodingBase64).Deserialize(done.Weights)
	require.NoError(t, err)
	model, err := mlp.New(spec)
	require.NoError(t, err)
	assert.NoError(t, codec.Validate(ws, model.Shapes()))

	h.waitState(t, session.FLActive)
	require.Eventually(t, func() bool {
		rec, err := h.client.GetRound(context.Background(), rnd)

		return err == nil && rec.Status == round.Completed
	}, 5*time.Second, 10*time.Millisecond)

	page, err := h.client.ListRounds(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), page.Total)
	assert.Equal(t, uint64(100), page.Limit)

	h.channel.deliver(t, protocol.WeightsReceived{Status: protocol.StatusError, Error: "shape mismatch"})
	require.Eventually(t, func() bool {
		rec, err := h.client.GetRound(context.Background(), rnd)

		return err == nil && rec.Error == "shape mismatch"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRoundWeightsStored(t *testing.T) {
	cases := []struct {
		desc   string
		skip   bool
		stored bool
	}{
		{desc: "stored by default", stored: true},
		{desc: "skipped on request", skip: true},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			h := start(t, client.Config{SkipWeights: tc.skip}, false)
			rnd := h.handshake(t)
			h.channel.deliver(t, roundMsg(rnd, 1))
			h.channel.expect(t, protocol.TypeTrainingComplete)

			var rec round.Record
			require.Eventually(t, func() bool {
				var err error
				rec, err = h.client.GetRound(context.Background(), rnd)

				return err == nil && rec.Status == round.Completed
			}, 5*time.Second, 10*time.Millisecond)

			ws, err := rec.DecodeWeights()
			require.NoError(t, err)
			if tc.stored {
				assert.Len(t, ws, 4)

				return
			}
			assert.Empty(t, ws)
		})
	}
}

func TestDoubleStartRejected(t *testing.T) {
	h := start(t, client.Config{}, true)
	rnd := h.handshake(t)

	h.channel.deliver(t, roundMsg(rnd, 1))
	h.waitState(t, session.Training)

	h.channel.deliver(t, roundMsg(rnd+1, 1))
	time.Sleep(50 * time.Millisecond)
	s, err := h.client.Session(context.Background())
	require.NoError(t, err)
	assert.Equal(t, session.Training, s.State)
	assert.Equal(t, rnd, s.ActiveRound)

	close(h.release)
	msg := h.channel.expect(t, protocol.TypeTrainingComplete)
	var done protocol.TrainingComplete
	require.NoError(t, msg.Decode(&done))
	assert.Equal(t, rnd, done.Round)
}

func TestEveryEpochPush(t *testing.T) {
	h := start(t, client.Config{WeightPush: client.PushEveryEpoch}, false)
	rnd := h.handshake(t)

	h.channel.deliver(t, roundMsg(rnd, 2))
	for epoch := 1; epoch <= 2; epoch++ {
		msg := h.channel.expect(t, protocol.TypeUpdateWeights)
		var uw protocol.UpdateWeights
		require.NoError(t, msg.Decode(&uw))
		assert.Equal(t, epoch, uw.Epoch)
		assert.Len(t, uw.Weights, 4)
	}
	h.channel.expect(t, protocol.TypeTrainingComplete)
}

func TestDisconnectAbandonsRound(t *testing.T) {
	h := start(t, client.Config{}, true)
	rnd := h.handshake(t)

	h.channel.deliver(t, roundMsg(rnd, 1))
	h.waitState(t, session.Training)

	h.channel.events <- transport.Event{Kind: transport.Disconnected, Err: errors.New("link reset"), At: time.Now()}
	h.waitState(t, session.Disconnected)

	require.Eventually(t, func() bool {
		rec, err := h.client.GetRound(context.Background(), rnd)

		return err == nil && rec.Status == round.Abandoned
	}, 5*time.Second, 10*time.Millisecond)

	h.channel.events <- transport.Event{Kind: transport.Connected, At: time.Now()}
	assert.Equal(t, 1, h.handshake(t))

	close(h.release)
	h.channel.deliver(t, roundMsg(1, 1))
	msg := h.channel.expect(t, protocol.TypeTrainingComplete)
	var done protocol.TrainingComplete
	require.NoError(t, msg.Decode(&done))
	assert.False(t, done.Failed())

	require.Eventually(t, func() bool {
		page, err := h.client.ListRounds(context.Background(), 0, 10)

		return err == nil && page.Total == 2
	}, 5*time.Second, 10*time.Millisecond, "the new session must not overwrite the abandoned round")

	page, err := h.client.ListRounds(context.Background(), 0, 10)
	require.NoError(t, err)
	statuses := []round.Status{page.Rounds[0].Status, page.Rounds[1].Status}
	assert.ElementsMatch(t, []round.Status{round.Abandoned, round.Completed}, statuses)
	assert.NotEqual(t, page.Rounds[0].Session, page.Rounds[1].Session)

	rec, err := h.client.GetRound(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, round.Completed, rec.Status)
}

// stubbornModel ignores cancellation while gate is closed and tracks how many
// batches run at once.
type stubbornModel struct {
	*mlp.Model

	gate   chan struct{}
	active atomic.Int32
	peak   atomic.Int32
}

func (m *stubbornModel) TrainBatch(ctx context.Context, b training.Batch, lr float64, scope *training.Scope) (training.BatchResult, error) {
	n := m.active.Add(1)
	defer m.active.Add(-1)
	for {
		p := m.peak.Load()
		if n <= p || m.peak.CompareAndSwap(p, n) {
			break
		}
	}
	<-m.gate

	return m.Model.TrainBatch(ctx, b, lr, scope)
}

func TestReconnectWaitsForAbandonedJob(t *testing.T) {
	base, err := mlp.New(spec)
	require.NoError(t, err)
	model := &stubbornModel{Model: base, gate: make(chan struct{})}
	h := startModel(t, client.Config{}, false, model)
	rnd := h.handshake(t)

	h.channel.deliver(t, roundMsg(rnd, 1))
	require.Eventually(t, func() bool { return model.active.Load() == 1 }, 5*time.Second, 10*time.Millisecond)

	h.channel.events <- transport.Event{Kind: transport.Disconnected, Err: errors.New("link reset"), At: time.Now()}
	h.waitState(t, session.Disconnected)
	h.channel.events <- transport.Event{Kind: transport.Connected, At: time.Now()}
	assert.Equal(t, 1, h.handshake(t))

	h.channel.deliver(t, roundMsg(1, 1))
	time.Sleep(100 * time.Millisecond)
	s, err := h.client.Session(context.Background())
	require.NoError(t, err)
	assert.Equal(t, session.FLActive, s.State, "start_training is held while the old job runs")

	close(model.gate)
	msg := h.channel.expect(t, protocol.TypeTrainingComplete)
	var done protocol.TrainingComplete
	require.NoError(t, msg.Decode(&done))
	assert.Equal(t, 1, done.Round)
	assert.False(t, done.Failed())
	assert.Equal(t, int32(1), model.peak.Load())
}

func TestFailureReported(t *testing.T) {
	bad, err := codec.New(codec.EncodingBase64).Serialize(codec.WeightSet{codec.Zeros(2, 2)})
	require.NoError(t, err)

	t.Run("training", func(t *testing.T) {
		h := start(t, client.Config{}, false)
		rnd := h.handshake(t)

		st := roundMsg(rnd, 1)
		st.Weights = bad
		h.channel.deliver(t, st)

		msg := h.channel.expect(t, protocol.TypeTrainingComplete)
		var done protocol.TrainingComplete
		require.NoError(t, msg.Decode(&done))
		assert.True(t, done.Failed())
		assert.Equal(t, rnd, done.Round)
		assert.NotEmpty(t, done.Error)
		assert.Empty(t, done.Weights)

		h.waitState(t, session.FLActive)
		rec, err := h.client.GetRound(context.Background(), rnd)
		require.NoError(t, err)
		assert.Equal(t, round.Failed, rec.Status)
		assert.Equal(t, done.Error, rec.Error)

		h.channel.deliver(t, roundMsg(rnd+1, 1))
		msg = h.channel.expect(t, protocol.TypeTrainingComplete)
		require.NoError(t, msg.Decode(&done))
		assert.False(t, done.Failed(), "the next round runs after a failure")
		assert.Equal(t, rnd+1, done.Round)
	})

	t.Run("evaluation", func(t *testing.T) {
		h := start(t, client.Config{}, false)
		h.handshake(t)

		h.channel.deliver(t, protocol.EvaluateRequest{
			Parameters: bad,
			Config:     protocol.EvaluateConfig{Round: 2, BatchSize: 2},
		})

		msg := h.channel.expect(t, protocol.TypeEvaluateComplete)
		var ec protocol.EvaluateComplete
		require.NoError(t, msg.Decode(&ec))
		assert.True(t, ec.Failed())
		assert.Equal(t, 2, ec.Round)
		h.waitState(t, session.FLActive)
	})
}

func TestEvaluation(t *testing.T) {
	h := start(t, client.Config{}, false)
	h.handshake(t)

	model, err := mlp.New(spec)
	require.NoError(t, err)
	params, err := codec.New(codec.EncodingArray).Serialize(model.Weights())
	require.NoError(t, err)

	h.channel.deliver(t, protocol.EvaluateRequest{
		Parameters: params,
		Config:     protocol.EvaluateConfig{Round: 3, BatchSize: 2},
	})

	msg := h.channel.expect(t, protocol.TypeEvaluateComplete)
	var ec protocol.EvaluateComplete
	require.NoError(t, msg.Decode(&ec))
	assert.Equal(t, 3, ec.Round)
	assert.Equal(t, 4, ec.NumExamples)
	assert.Positive(t, ec.Loss)
	h.waitState(t, session.FLActive)
}

func TestHealth(t *testing.T) {
	h := start(t, client.Config{}, false)
	h.handshake(t)

	health, err := h.client.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, health.Pending)
	assert.Equal(t, 0, health.Snapshot.LiveTensorCount)
}

func TestConnectFailure(t *testing.T) {
	ch := new(mocks.MockChannel)
	errDial := errors.New("dial refused")
	ch.On("Connect", mock.Anything).Return(errDial)

	model, err := mlp.New(spec)
	require.NoError(t, err)
	load := func(context.Context) (training.Dataset, error) { return nil, nil }
	c, err := client.New(client.Config{ID: "edge-1"}, ch, model, load, nil, logger)
	require.NoError(t, err)

	err = c.Run(context.Background())
	assert.ErrorIs(t, err, errDial)
	ch.AssertExpectations(t)
}
