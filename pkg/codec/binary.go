package codec

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

type binaryTensor struct {
	Shape []int  `cbor:"1,keyasint"`
	DType DType  `cbor:"2,keyasint"`
	Data  []byte `cbor:"3,keyasint"`
}

// MarshalBinary encodes the weight set as CBOR with raw little-endian
// float32 payloads. Used for persisted round snapshots.
func (ws WeightSet) MarshalBinary() ([]byte, error) {
	out := make([]binaryTensor, len(ws))
	for i, t := range ws {
		if err := checkTensor(t); err != nil {
			return nil, layerErr(i, err)
		}
		out[i] = binaryTensor{
			Shape: t.Shape,
			DType: Float32,
			Data:  float32sToBytes(t.Data),
		}
	}

	return cbor.Marshal(out)
}

func (ws *WeightSet) UnmarshalBinary(b []byte) error {
	var in []binaryTensor
	if err := cbor.Unmarshal(b, &in); err != nil {
		return layerErr(-1, fmt.Errorf("%w: %w", ErrInvalidEncoding, err))
	}

	out := make(WeightSet, len(in))
	for i, bt := range in {
		data, err := float32sFromBytes(bt.Data)
		if err != nil {
			return layerErr(i, err)
		}
		t := NewTensor(bt.Shape, data)
		if bt.DType != "" {
			t.DType = bt.DType
		}
		if err := checkTensor(t); err != nil {
			return layerErr(i, err)
		}
		out[i] = t
	}
	*ws = out

	return nil
}
