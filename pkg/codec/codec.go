package codec

import (
	"encoding/json"
	"fmt"
	"slices"
)

type Encoding string

const (
	EncodingBase64 Encoding = "base64"
	EncodingArray  Encoding = "array"
)

// TransportTensor is the wire form of a WeightTensor.
type TransportTensor struct {
	Shape []int   `json:"shape"`
	DType DType   `json:"dtype"`
	Data  Payload `json:"data"`
}

type TransportWeightSet []TransportTensor

type Codec struct {
	encoding Encoding
}

// New returns a codec that emits payloads with the given encoding. Any
// unknown encoding falls back to base64. Decoding accepts both forms.
func New(encoding Encoding) *Codec {
	if encoding != EncodingArray {
		encoding = EncodingBase64
	}

	return &Codec{encoding: encoding}
}

func (c *Codec) Encoding() Encoding {
	return c.encoding
}

// Serialize converts weights to their transport form. Each tensor must
// already satisfy the data length invariant.
func (c *Codec) Serialize(ws WeightSet) (TransportWeightSet, error) {
	out := make(TransportWeightSet, len(ws))
	for i, t := range ws {
		if err := checkTensor(t); err != nil {
			return nil, layerErr(i, err)
		}

		tt := TransportTensor{
			Shape: slices.Clone(t.Shape),
			DType: Float32,
		}
		switch c.encoding {
		case EncodingArray:
			nested, err := Unflatten(t.Data, t.Shape)
			if err != nil {
				return nil, layerErr(i, err)
			}
			tt.Data = RawArray(nested)
		default:
			tt.Data = EncodedTensor(EncodeFloat32s(t.Data))
		}
		out[i] = tt
	}

	return out, nil
}

// Deserialize turns transport tensors back into weights. Raw arrays may be
// flat or nested; nested arrays must reproduce the declared shape exactly.
func (c *Codec) Deserialize(tws TransportWeightSet) (WeightSet, error) {
	out := make(WeightSet, len(tws))
	for i, tt := range tws {
		t, err := c.deserializeTensor(tt)
		if err != nil {
			return nil, layerErr(i, err)
		}
		out[i] = t
	}

	return out, nil
}

func (c *Codec) deserializeTensor(tt TransportTensor) (WeightTensor, error) {
	if tt.DType != "" && tt.DType != Float32 {
		return WeightTensor{}, fmt.Errorf("%w: %q", ErrUnsupportedDType, tt.DType)
	}
	size := Product(tt.Shape)
	if size < 0 {
		return WeightTensor{}, fmt.Errorf("%w: negative dimension in %v", ErrShapeMismatch, tt.Shape)
	}

	var data []float32
	switch {
	case tt.Data.IsEncoded():
		decoded, err := DecodeFloat32s(tt.Data.Encoded())
		if err != nil {
			return WeightTensor{}, err
		}
		data = decoded
	case tt.Data.IsRaw():
		flat, shape, err := Flatten(tt.Data.Raw())
		if err != nil {
			return WeightTensor{}, err
		}
		if len(shape) > 1 && !slices.Equal(shape, tt.Shape) {
			return WeightTensor{}, fmt.Errorf("%w: nested data has shape %v, declared %v", ErrShapeMismatch, shape, tt.Shape)
		}
		data = flat
	default:
		return WeightTensor{}, ErrEmptyPayload
	}

	if len(data) != size {
		return WeightTensor{}, fmt.Errorf("%w: %d values for shape %v", ErrShapeMismatch, len(data), tt.Shape)
	}

	return NewTensor(tt.Shape, data), nil
}

// Encode serializes weights and marshals them to JSON text.
func (c *Codec) Encode(ws WeightSet) ([]byte, error) {
	tws, err := c.Serialize(ws)
	if err != nil {
		return nil, err
	}

	return json.Marshal(tws)
}

func (c *Codec) Decode(b []byte) (WeightSet, error) {
	var tws TransportWeightSet
	if err := json.Unmarshal(b, &tws); err != nil {
		return nil, layerErr(-1, fmt.Errorf("%w: %w", ErrInvalidEncoding, err))
	}

	return c.Deserialize(tws)
}

// FromNested builds a tensor from a nested numeric array.
func FromNested(nested any) (WeightTensor, error) {
	data, shape, err := Flatten(nested)
	if err != nil {
		return WeightTensor{}, err
	}

	return NewTensor(shape, data), nil
}
