// Package protocol defines the JSON message vocabulary exchanged between
// the client and the aggregator bridge.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	pkgerrors "github.com/absmach/fedmob/pkg/errors"
)

// MaxMessageSize bounds a single envelope on the wire.
const MaxMessageSize = 10 << 20

const (
	TypeRegister             = "register"
	TypeRegisterAck          = "register_ack"
	TypeStartTraining        = "start_training"
	TypeTrainingUpdate       = "training_update"
	TypeUpdateWeights        = "update_weights"
	TypeTrainingComplete     = "training_complete"
	TypeWeightsReceived      = "weights_received"
	TypeTrainingAcknowledged = "training_acknowledged"
	TypeEvaluateRequest      = "evaluate_request"
	TypeEvaluateComplete     = "evaluate_complete"
)

var (
	ErrUnknownMessage   = errors.Join(pkgerrors.ErrProtocol, errors.New("unknown message type"))
	ErrMalformedMessage = errors.Join(pkgerrors.ErrProtocol, errors.New("malformed message"))
	ErrMessageTooLarge  = errors.Join(pkgerrors.ErrProtocol, errors.New("message exceeds maximum size"))
)

// Message is a JSON envelope {"type": ..., ...fields}. It is immutable:
// the encoded bytes are copied in and out.
type Message struct {
	msgType string
	raw     []byte
}

type envelope struct {
	Type string `json:"type"`
}

// NewMessage builds an envelope from a type and a field map.
func NewMessage(msgType string, fields map[string]any) (Message, error) {
	body := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}
	body["type"] = msgType

	raw, err := json.Marshal(body)
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode %s message: %w", msgType, err)
	}

	return Message{msgType: msgType, raw: raw}, nil
}

// Encode builds an envelope whose fields are the JSON object encoding of
// body. body must not carry its own "type" key.
func Encode(msgType string, body any) (Message, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode %s message: %w", msgType, err)
	}
	b = bytes.TrimSpace(b)
	if len(b) < 2 || b[0] != '{' {
		return Message{}, fmt.Errorf("%w: %s body is not an object", ErrMalformedMessage, msgType)
	}

	head, err := json.Marshal(envelope{Type: msgType})
	if err != nil {
		return Message{}, err
	}

	var buf bytes.Buffer
	buf.Grow(len(head) + len(b))
	buf.Write(head[:len(head)-1])
	if !bytes.Equal(b, []byte("{}")) {
		buf.WriteByte(',')
		buf.Write(b[1:])
	} else {
		buf.WriteByte('}')
	}

	return Message{msgType: msgType, raw: buf.Bytes()}, nil
}

// Parse reads an envelope from the wire.
func Parse(b []byte) (Message, error) {
	if len(b) > MaxMessageSize {
		return Message{}, ErrMessageTooLarge
	}

	var env struct {
		Type *string `json:"type"`
	}
	if err := json.Unmarshal(b, &env); err != nil {
		return Message{}, errors.Join(ErrMalformedMessage, err)
	}
	if env.Type == nil || *env.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}

	return Message{msgType: *env.Type, raw: bytes.Clone(b)}, nil
}

func (m Message) Type() string {
	return m.msgType
}

func (m Message) Bytes() []byte {
	return bytes.Clone(m.raw)
}

func (m Message) Size() int {
	return len(m.raw)
}

func (m Message) Fields() (map[string]any, error) {
	var fields map[string]any
	if err := json.Unmarshal(m.raw, &fields); err != nil {
		return nil, errors.Join(ErrMalformedMessage, err)
	}
	delete(fields, "type")

	return fields, nil
}

// Decode unmarshals the envelope into v.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.raw, v); err != nil {
		return errors.Join(ErrMalformedMessage, fmt.Errorf("%s: %w", m.msgType, err))
	}

	return nil
}

func (m Message) MarshalJSON() ([]byte, error) {
	if len(m.raw) == 0 {
		return []byte("null"), nil
	}

	return m.Bytes(), nil
}

func (m *Message) UnmarshalJSON(b []byte) error {
	msg, err := Parse(b)
	if err != nil {
		return err
	}
	*m = msg

	return nil
}
