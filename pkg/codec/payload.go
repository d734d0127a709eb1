package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

type payloadKind uint8

const (
	payloadNone payloadKind = iota
	payloadRaw
	payloadEncoded
)

// Payload is the data field of a transported tensor: either a raw numeric
// array (flat or nested) or base64 text of little-endian float32 bytes. The
// variant is fixed when the payload is built or decoded from JSON.
type Payload struct {
	kind    payloadKind
	raw     any
	encoded string
}

func RawArray(nested any) Payload {
	return Payload{kind: payloadRaw, raw: nested}
}

func EncodedTensor(b64 string) Payload {
	return Payload{kind: payloadEncoded, encoded: b64}
}

func (p Payload) IsRaw() bool {
	return p.kind == payloadRaw
}

func (p Payload) IsEncoded() bool {
	return p.kind == payloadEncoded
}

func (p Payload) IsEmpty() bool {
	return p.kind == payloadNone
}

func (p Payload) Raw() any {
	return p.raw
}

func (p Payload) Encoded() string {
	return p.encoded
}

func (p Payload) MarshalJSON() ([]byte, error) {
	switch p.kind {
	case payloadRaw:
		return json.Marshal(p.raw)
	case payloadEncoded:
		return json.Marshal(p.encoded)
	default:
		return []byte("null"), nil
	}
}

func (p *Payload) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*p = Payload{}

		return nil
	}

	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidEncoding, err)
		}
		*p = EncodedTensor(s)
	default:
		var v any
		if err := json.Unmarshal(b, &v); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidEncoding, err)
		}
		*p = RawArray(v)
	}

	return nil
}

// EncodeFloat32s returns base64 text of data as little-endian float32 bytes.
func EncodeFloat32s(data []float32) string {
	return base64.StdEncoding.EncodeToString(float32sToBytes(data))
}

func DecodeFloat32s(s string) ([]float32, error) {
	buf, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEncoding, err)
	}

	return float32sFromBytes(buf)
}

func float32sFromBytes(buf []byte) ([]float32, error) {
	if len(buf)%float32Size != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of float32 values", ErrInvalidEncoding, len(buf))
	}
	out := make([]float32, len(buf)/float32Size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*float32Size:]))
	}

	return out, nil
}

func float32sToBytes(data []float32) []byte {
	buf := make([]byte, len(data)*float32Size)
	for i, v := range data {
		binary.LittleEndian.PutUint32(buf[i*float32Size:], math.Float32bits(v))
	}

	return buf
}
