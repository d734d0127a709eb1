// Package session holds the client lifecycle state machine. One Machine
// exists per client connection and is the only writer of its Session.
package session

import (
	"log/slog"
	"sync"
	"time"
)

var transitions = map[State]map[Trigger]State{
	Disconnected: {
		Register: Registered,
	},
	Registered: {
		RegistrationAck: Ready,
	},
	Ready: {
		RequestTraining: FLActive,
		// A round offered while idle opens the coordination session
		// implicitly.
		StartTraining: Training,
	},
	FLActive: {
		StartTraining:   Training,
		EvaluateRequest: Evaluating,
		EndSession:      Ready,
	},
	Training: {
		RoundComplete: FLActive,
		RoundFailed:   FLActive,
	},
	Evaluating: {
		EvaluateComplete: FLActive,
	},
}

// Next returns the state reached from s on t.
func Next(s State, t Trigger) (State, bool) {
	if t == Disconnect {
		return Disconnected, true
	}
	to, ok := transitions[s][t]

	return to, ok
}

type Machine struct {
	logger *slog.Logger

	mu      sync.Mutex
	session Session
	subs    map[int]chan Event
	nextSub int
	closed  bool
}

func NewMachine(clientID string, logger *slog.Logger) *Machine {
	now := time.Now()

	return &Machine{
		logger: logger,
		session: Session{
			ClientID:  clientID,
			State:     Disconnected,
			CreatedAt: now,
			UpdatedAt: now,
		},
		subs: make(map[int]chan Event),
	}
}

// Session returns a copy of the current session.
func (m *Machine) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.session
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.session.State
}

// Subscribe returns a channel receiving every accepted transition in
// order. Events are dropped for a subscriber whose buffer is full. The
// returned function unsubscribes and closes the channel.
func (m *Machine) Subscribe(buffer int) (<-chan Event, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan Event, buffer)
	if m.closed {
		close(ch)

		return ch, func() {}
	}

	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch

	var once sync.Once

	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if sub, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(sub)
			}
		})
	}
}

// Close closes all subscriber channels. Transitions keep working but are
// no longer published.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
}

func (m *Machine) Register() error {
	_, err := m.fire(Register, 0, nil)

	return err
}

func (m *Machine) Acknowledge() error {
	_, err := m.fire(RegistrationAck, 0, nil)

	return err
}

func (m *Machine) RequestTraining() error {
	_, err := m.fire(RequestTraining, 0, nil)

	return err
}

// StartTraining enters Training for round and returns the stamped round
// number. A non-positive round is stamped as CurrentRound+1. It fails with
// ErrAlreadyTraining while a round is active.
func (m *Machine) StartTraining(round int) (int, error) {
	ev, err := m.fire(StartTraining, round, nil)
	if err != nil {
		return 0, err
	}

	return ev.Round, nil
}

// CompleteRound leaves Training and returns the completed round.
func (m *Machine) CompleteRound() (int, error) {
	ev, err := m.fire(RoundComplete, 0, nil)
	if err != nil {
		return 0, err
	}

	return ev.Round, nil
}

func (m *Machine) FailRound(cause error) error {
	_, err := m.fire(RoundFailed, 0, cause)

	return err
}

func (m *Machine) StartEvaluation() error {
	_, err := m.fire(EvaluateRequest, 0, nil)

	return err
}

func (m *Machine) CompleteEvaluation() error {
	_, err := m.fire(EvaluateComplete, 0, nil)

	return err
}

func (m *Machine) EndSession() error {
	_, err := m.fire(EndSession, 0, nil)

	return err
}

// Disconnect destroys the session from any state. An active round is
// abandoned; callers cancel it separately.
func (m *Machine) Disconnect() {
	if _, err := m.fire(Disconnect, 0, nil); err != nil {
		m.logger.Error("Unexpected disconnect failure", slog.Any("error", err))
	}
}

func (m *Machine) fire(t Trigger, round int, cause error) (Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.session.State
	if t == Disconnect && from == Disconnected {
		return Event{}, nil
	}

	to, ok := Next(from, t)
	if !ok {
		err := &TransitionError{From: from, Trigger: t}
		if t == StartTraining && from == Training {
			err.Err = ErrAlreadyTraining
		}
		m.logger.Warn("Rejected session instruction",
			slog.String("client_id", m.session.ClientID),
			slog.String("state", from.String()),
			slog.String("trigger", t.String()),
			slog.Any("error", err),
		)

		return Event{}, err
	}

	now := time.Now()
	s := &m.session
	ev := Event{
		ClientID: s.ClientID,
		Trigger:  t,
		From:     from,
		To:       to,
		At:       now,
	}

	switch t {
	case Register:
		*s = Session{ClientID: s.ClientID, CreatedAt: now}
	case StartTraining:
		if round <= 0 {
			round = s.CurrentRound + 1
		}
		s.ActiveRound = round
		s.LastError = ""
		ev.Round = round
	case RoundComplete:
		ev.Round = s.ActiveRound
		s.CurrentRound++
		s.ActiveRound = 0
	case RoundFailed:
		ev.Round = s.ActiveRound
		s.ActiveRound = 0
		if cause != nil {
			s.LastError = cause.Error()
			ev.Err = s.LastError
		}
	case Disconnect:
		ev.Round = s.ActiveRound
		*s = Session{ClientID: s.ClientID, CreatedAt: now}
	}
	s.State = to
	s.UpdatedAt = now

	m.logger.Debug("Session transition",
		slog.String("client_id", s.ClientID),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
		slog.String("trigger", t.String()),
	)
	m.publish(ev)

	return ev, nil
}

func (m *Machine) publish(ev Event) {
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
			m.logger.Warn("Dropped session event for slow subscriber",
				slog.String("client_id", ev.ClientID),
				slog.String("trigger", ev.Trigger.String()),
			)
		}
	}
}
