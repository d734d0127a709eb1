package session

import (
	"fmt"
	"time"
)

type State uint8

const (
	Disconnected State = iota
	Registered
	Ready
	FLActive
	Training
	Evaluating
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Registered:
		return "registered"
	case Ready:
		return "ready"
	case FLActive:
		return "fl_active"
	case Training:
		return "training"
	case Evaluating:
		return "evaluating"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for _, candidate := range []State{Disconnected, Registered, Ready, FLActive, Training, Evaluating} {
		if candidate.String() == string(b) {
			*s = candidate

			return nil
		}
	}

	return fmt.Errorf("unknown session state %q", string(b))
}

// Trigger is an input that may move the machine between states.
type Trigger uint8

const (
	Register Trigger = iota
	RegistrationAck
	RequestTraining
	StartTraining
	RoundComplete
	RoundFailed
	EvaluateRequest
	EvaluateComplete
	EndSession
	Disconnect
)

func (t Trigger) String() string {
	switch t {
	case Register:
		return "register"
	case RegistrationAck:
		return "registration_ack"
	case RequestTraining:
		return "request_training"
	case StartTraining:
		return "start_training"
	case RoundComplete:
		return "round_complete"
	case RoundFailed:
		return "round_failed"
	case EvaluateRequest:
		return "evaluate_request"
	case EvaluateComplete:
		return "evaluate_complete"
	case EndSession:
		return "end_session"
	case Disconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

func (t Trigger) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Session is the per-connection client context. CurrentRound counts
// completed rounds and only grows until the session is destroyed on
// disconnect. ActiveRound is the round being trained, or zero.
type Session struct {
	ClientID     string    `json:"client_id"`
	State        State     `json:"state"`
	CurrentRound int       `json:"current_round"`
	ActiveRound  int       `json:"active_round,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Event is emitted to subscribers after every accepted transition.
type Event struct {
	ClientID string    `json:"client_id"`
	Trigger  Trigger   `json:"trigger"`
	From     State     `json:"from"`
	To       State     `json:"to"`
	Round    int       `json:"round,omitempty"`
	Err      string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}
