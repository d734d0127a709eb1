package codec_test

import (
	"encoding/json"
	"fmt"
	"math"
	"testing"

	"github.com/absmach/fedmob/pkg/codec"
	pkgerrors "github.com/absmach/fedmob/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequence(n int) []float32 {
	data := make([]float32, n)
	for i := range data {
		data[i] = float32(i)*0.25 - 3
	}

	return data
}

func tensorOf(shape ...int) codec.WeightTensor {
	return codec.NewTensor(shape, sequence(codec.Product(shape)))
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	weights := codec.WeightSet{
		tensorOf(7),
		tensorOf(3, 4),
		tensorOf(2, 3, 4),
		tensorOf(3, 3, 1, 8),
		tensorOf(1, 1),
	}

	for _, enc := range []codec.Encoding{codec.EncodingBase64, codec.EncodingArray} {
		t.Run(string(enc), func(t *testing.T) {
			t.Parallel()
			c := codec.New(enc)

			tws, err := c.Serialize(weights)
			require.NoError(t, err)
			require.Len(t, tws, len(weights))
			for _, tt := range tws {
				assert.Equal(t, codec.Float32, tt.DType)
				assert.Equal(t, enc == codec.EncodingBase64, tt.Data.IsEncoded())
			}

			got, err := c.Deserialize(tws)
			require.NoError(t, err)
			assert.Equal(t, weights, got)

			b, err := c.Encode(weights)
			require.NoError(t, err)
			decoded, err := c.Decode(b)
			require.NoError(t, err)
			assert.Equal(t, weights, decoded)
		})
	}
}

func TestDecodeWireFormat(t *testing.T) {
	t.Parallel()
	c := codec.New(codec.EncodingBase64)

	cases := []struct {
		desc  string
		wire  string
		want  codec.WeightSet
		err   error
		layer int
	}{
		{
			desc: "base64 little-endian float32",
			wire: `[{"shape":[2],"dtype":"float32","data":"AACAPwAAAEA="}]`,
			want: codec.WeightSet{codec.NewTensor([]int{2}, []float32{1, 2})},
		},
		{
			desc: "flat array",
			wire: `[{"shape":[2,2],"dtype":"float32","data":[1,2,3,4]}]`,
			want: codec.WeightSet{codec.NewTensor([]int{2, 2}, []float32{1, 2, 3, 4})},
		},
		{
			desc: "nested array",
			wire: `[{"shape":[2,2],"dtype":"float32","data":[[1,2],[3,4]]}]`,
			want: codec.WeightSet{codec.NewTensor([]int{2, 2}, []float32{1, 2, 3, 4})},
		},
		{
			desc: "missing dtype defaults to float32",
			wire: `[{"shape":[1],"data":[5]}]`,
			want: codec.WeightSet{codec.NewTensor([]int{1}, []float32{5})},
		},
		{
			desc:  "flat array shorter than shape",
			wire:  `[{"shape":[2,2],"dtype":"float32","data":[1,2]},{"shape":[2,1],"dtype":"float32","data":[[1,2]]}]`,
			err:   codec.ErrShapeMismatch,
			layer: 0,
		},
		{
			desc:  "base64 too short for shape",
			wire:  `[{"shape":[3],"dtype":"float32","data":"AACAPwAAAEA="}]`,
			err:   codec.ErrShapeMismatch,
			layer: 0,
		},
		{
			desc:  "truncated float bytes",
			wire:  `[{"shape":[1],"dtype":"float32","data":"AACA"}]`,
			err:   codec.ErrInvalidEncoding,
			layer: 0,
		},
		{
			desc:  "unsupported dtype",
			wire:  `[{"shape":[1],"dtype":"int8","data":[1]}]`,
			err:   codec.ErrUnsupportedDType,
			layer: 0,
		},
		{
			desc:  "missing data",
			wire:  `[{"shape":[1],"dtype":"float32"},{"shape":[1],"dtype":"float32","data":[1]}]`,
			err:   codec.ErrEmptyPayload,
			layer: 0,
		},
		{
			desc:  "not json",
			wire:  `{`,
			err:   codec.ErrInvalidEncoding,
			layer: -1,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()
			got, err := c.Decode([]byte(tc.wire))
			if tc.err != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tc.err)
				assert.ErrorIs(t, err, pkgerrors.ErrWeightValidation)
				var verr *codec.ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Equal(t, tc.layer, verr.Layer)

				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestPayloadVariant(t *testing.T) {
	t.Parallel()

	var tt codec.TransportTensor
	require.NoError(t, json.Unmarshal([]byte(`{"shape":[1],"dtype":"float32","data":"AACAPw=="}`), &tt))
	assert.True(t, tt.Data.IsEncoded())
	assert.False(t, tt.Data.IsRaw())
	assert.Equal(t, "AACAPw==", tt.Data.Encoded())

	require.NoError(t, json.Unmarshal([]byte(`{"shape":[1],"dtype":"float32","data":[1]}`), &tt))
	assert.True(t, tt.Data.IsRaw())
	assert.False(t, tt.Data.IsEncoded())

	b, err := json.Marshal(codec.TransportTensor{Shape: []int{1}, DType: codec.Float32, Data: codec.EncodedTensor("AACAPw==")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"shape":[1],"dtype":"float32","data":"AACAPw=="}`, string(b))
}

func TestSerializeRejectsBrokenTensor(t *testing.T) {
	t.Parallel()
	c := codec.New(codec.EncodingBase64)

	_, err := c.Serialize(codec.WeightSet{tensorOf(2), codec.NewTensor([]int{2, 2}, []float32{1, 2, 3})})
	require.Error(t, err)
	assert.ErrorIs(t, err, codec.ErrShapeMismatch)

	var verr *codec.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 1, verr.Layer)
}

func TestBinaryRoundTrip(t *testing.T) {
	t.Parallel()

	weights := codec.WeightSet{tensorOf(4, 3), tensorOf(3), tensorOf(3, 2), tensorOf(2)}
	b, err := weights.MarshalBinary()
	require.NoError(t, err)

	var got codec.WeightSet
	require.NoError(t, got.UnmarshalBinary(b))
	assert.Equal(t, weights, got)

	err = got.UnmarshalBinary([]byte{0xff, 0x00})
	assert.ErrorIs(t, err, codec.ErrInvalidEncoding)
}

func TestEncodeFloat32sSpecialValues(t *testing.T) {
	t.Parallel()

	in := []float32{0, -0.5, math.MaxFloat32, math.SmallestNonzeroFloat32, float32(math.Inf(1))}
	out, err := codec.DecodeFloat32s(codec.EncodeFloat32s(in))
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprint(in), fmt.Sprint(out))
}
