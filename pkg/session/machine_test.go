package session_test

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	pkgerrors "github.com/absmach/fedmob/pkg/errors"
	"github.com/absmach/fedmob/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

func readyMachine(t *testing.T) *session.Machine {
	t.Helper()
	m := session.NewMachine("client-1", logger)
	require.NoError(t, m.Register())
	require.NoError(t, m.Acknowledge())
	require.Equal(t, session.Ready, m.State())

	return m
}

func TestTransitionTable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		desc    string
		from    session.State
		trigger session.Trigger
		to      session.State
		ok      bool
	}{
		{desc: "register", from: session.Disconnected, trigger: session.Register, to: session.Registered, ok: true},
		{desc: "ack", from: session.Registered, trigger: session.RegistrationAck, to: session.Ready, ok: true},
		{desc: "request training", from: session.Ready, trigger: session.RequestTraining, to: session.FLActive, ok: true},
		{desc: "start from ready", from: session.Ready, trigger: session.StartTraining, to: session.Training, ok: true},
		{desc: "start from fl active", from: session.FLActive, trigger: session.StartTraining, to: session.Training, ok: true},
		{desc: "complete", from: session.Training, trigger: session.RoundComplete, to: session.FLActive, ok: true},
		{desc: "fail", from: session.Training, trigger: session.RoundFailed, to: session.FLActive, ok: true},
		{desc: "evaluate", from: session.FLActive, trigger: session.EvaluateRequest, to: session.Evaluating, ok: true},
		{desc: "evaluate done", from: session.Evaluating, trigger: session.EvaluateComplete, to: session.FLActive, ok: true},
		{desc: "end session", from: session.FLActive, trigger: session.EndSession, to: session.Ready, ok: true},
		{desc: "disconnect while training", from: session.Training, trigger: session.Disconnect, to: session.Disconnected, ok: true},
		{desc: "disconnect while evaluating", from: session.Evaluating, trigger: session.Disconnect, to: session.Disconnected, ok: true},
		{desc: "start while training", from: session.Training, trigger: session.StartTraining},
		{desc: "start before ack", from: session.Registered, trigger: session.StartTraining},
		{desc: "evaluate while training", from: session.Training, trigger: session.EvaluateRequest},
		{desc: "complete while idle", from: session.FLActive, trigger: session.RoundComplete},
		{desc: "register twice", from: session.Registered, trigger: session.Register},
		{desc: "end session while training", from: session.Training, trigger: session.EndSession},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()
			to, ok := session.Next(tc.from, tc.trigger)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.to, to)
			}
		})
	}
}

func TestDoubleStartTraining(t *testing.T) {
	t.Parallel()
	m := readyMachine(t)

	round, err := m.StartTraining(1)
	require.NoError(t, err)
	assert.Equal(t, 1, round)

	_, err = m.StartTraining(1)
	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrAlreadyTraining)
	assert.ErrorIs(t, err, session.ErrInvalidStateTransition)
	assert.ErrorIs(t, err, pkgerrors.ErrStateTransition)

	var te *session.TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, session.Training, te.From)
	assert.Equal(t, session.StartTraining, te.Trigger)

	s := m.Session()
	assert.Equal(t, session.Training, s.State)
	assert.Equal(t, 1, s.ActiveRound)
	assert.Equal(t, 0, s.CurrentRound)
}

func TestRoundLifecycle(t *testing.T) {
	t.Parallel()
	m := readyMachine(t)
	require.NoError(t, m.RequestTraining())

	round, err := m.StartTraining(0)
	require.NoError(t, err)
	assert.Equal(t, 1, round)

	done, err := m.CompleteRound()
	require.NoError(t, err)
	assert.Equal(t, 1, done)
	assert.Equal(t, 1, m.Session().CurrentRound)

	round, err = m.StartTraining(7)
	require.NoError(t, err)
	assert.Equal(t, 7, round)

	require.NoError(t, m.FailRound(errors.New("dataset unavailable")))
	s := m.Session()
	assert.Equal(t, session.FLActive, s.State)
	assert.Equal(t, 1, s.CurrentRound)
	assert.Equal(t, 0, s.ActiveRound)
	assert.Equal(t, "dataset unavailable", s.LastError)

	require.NoError(t, m.StartEvaluation())
	require.NoError(t, m.CompleteEvaluation())
	require.NoError(t, m.EndSession())
	assert.Equal(t, session.Ready, m.State())
}

func TestRejectedTransitionKeepsState(t *testing.T) {
	t.Parallel()
	m := session.NewMachine("client-1", logger)

	err := m.Acknowledge()
	assert.ErrorIs(t, err, session.ErrInvalidStateTransition)
	assert.NotErrorIs(t, err, session.ErrAlreadyTraining)
	assert.Equal(t, session.Disconnected, m.State())

	_, err = m.CompleteRound()
	assert.Error(t, err)
	assert.Equal(t, session.Disconnected, m.State())
}

func TestDisconnectDestroysSession(t *testing.T) {
	t.Parallel()
	m := readyMachine(t)
	_, err := m.StartTraining(1)
	require.NoError(t, err)
	_, err = m.CompleteRound()
	require.NoError(t, err)
	_, err = m.StartTraining(2)
	require.NoError(t, err)

	m.Disconnect()
	s := m.Session()
	assert.Equal(t, session.Disconnected, s.State)
	assert.Equal(t, 0, s.CurrentRound)
	assert.Equal(t, 0, s.ActiveRound)
	assert.Equal(t, "client-1", s.ClientID)

	m.Disconnect()
	assert.Equal(t, session.Disconnected, m.State())
	require.NoError(t, m.Register())
}

func TestSubscribe(t *testing.T) {
	t.Parallel()
	m := session.NewMachine("client-1", logger)
	events, unsubscribe := m.Subscribe(16)

	require.NoError(t, m.Register())
	require.NoError(t, m.Acknowledge())
	_, err := m.StartTraining(3)
	require.NoError(t, err)
	_, err = m.StartTraining(4)
	require.Error(t, err)
	m.Disconnect()

	want := []session.Event{
		{Trigger: session.Register, From: session.Disconnected, To: session.Registered},
		{Trigger: session.RegistrationAck, From: session.Registered, To: session.Ready},
		{Trigger: session.StartTraining, From: session.Ready, To: session.Training, Round: 3},
		{Trigger: session.Disconnect, From: session.Training, To: session.Disconnected, Round: 3},
	}
	for _, w := range want {
		ev := <-events
		assert.Equal(t, "client-1", ev.ClientID)
		assert.Equal(t, w.Trigger, ev.Trigger)
		assert.Equal(t, w.From, ev.From)
		assert.Equal(t, w.To, ev.To)
		assert.Equal(t, w.Round, ev.Round)
		assert.False(t, ev.At.IsZero())
	}

	unsubscribe()
	unsubscribe()
	_, open := <-events
	assert.False(t, open)
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	t.Parallel()
	m := session.NewMachine("client-1", logger)
	events, _ := m.Subscribe(1)

	require.NoError(t, m.Register())
	require.NoError(t, m.Acknowledge())
	assert.Equal(t, session.Ready, m.State())

	ev := <-events
	assert.Equal(t, session.Register, ev.Trigger)

	m.Close()
	_, open := <-events
	assert.False(t, open)
}

func TestStateText(t *testing.T) {
	t.Parallel()
	for _, s := range []session.State{session.Disconnected, session.Registered, session.Ready, session.FLActive, session.Training, session.Evaluating} {
		b, err := s.MarshalText()
		require.NoError(t, err)
		var got session.State
		require.NoError(t, got.UnmarshalText(b))
		assert.Equal(t, s, got)
	}
	var s session.State
	assert.Error(t, s.UnmarshalText([]byte("sleeping")))
}
