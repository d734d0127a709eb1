package codec_test

import (
	"math"
	"testing"

	"github.com/absmach/fedmob/pkg/codec"
	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := codec.WeightSet{tensorOf(3, 2), tensorOf(2), tensorOf(2, 2), tensorOf(2)}
	expected := valid.Shapes()

	withNaN := valid.Clone()
	withNaN[2].Data[1] = float32(math.NaN())

	withInf := valid.Clone()
	withInf[3].Data[0] = float32(math.Inf(-1))

	short := valid.Clone()
	short[1].Data = short[1].Data[:1]

	reshaped := valid.Clone()
	reshaped[0].Shape = []int{2, 3}

	negative := valid.Clone()
	negative[0].Shape = []int{-3, -2}

	cases := []struct {
		desc     string
		weights  codec.WeightSet
		expected [][]int
		err      error
		layer    int
	}{
		{
			desc:     "matching weights",
			weights:  valid,
			expected: expected,
		},
		{
			desc:    "matching weights without expected shapes",
			weights: valid,
		},
		{
			desc:    "empty set",
			weights: codec.WeightSet{},
			err:     codec.ErrEmptyPayload,
			layer:   -1,
		},
		{
			desc:     "too few layers",
			weights:  valid[:3],
			expected: expected,
			err:      codec.ErrLayerCountMismatch,
			layer:    -1,
		},
		{
			desc:     "data shorter than shape",
			weights:  short,
			expected: expected,
			err:      codec.ErrShapeMismatch,
			layer:    1,
		},
		{
			desc:     "NaN value",
			weights:  withNaN,
			expected: expected,
			err:      codec.ErrNonFiniteValue,
			layer:    2,
		},
		{
			desc:    "negative infinity",
			weights: withInf,
			err:     codec.ErrNonFiniteValue,
			layer:   3,
		},
		{
			desc:     "same size, different shape",
			weights:  reshaped,
			expected: expected,
			err:      codec.ErrShapeMismatch,
			layer:    0,
		},
		{
			desc:    "negative dimensions",
			weights: negative,
			err:     codec.ErrShapeMismatch,
			layer:   0,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()
			err := codec.Validate(tc.weights, tc.expected)
			assert.Equal(t, tc.err == nil, codec.IsValid(tc.weights, tc.expected))
			if tc.err == nil {
				assert.NoError(t, err)

				return
			}
			assert.ErrorIs(t, err, tc.err)
			var verr *codec.ValidationError
			if assert.ErrorAs(t, err, &verr) {
				assert.Equal(t, tc.layer, verr.Layer)
			}
		})
	}
}

func TestValidateEveryLayerLengthInvariant(t *testing.T) {
	t.Parallel()

	for layer := range 4 {
		ws := codec.WeightSet{tensorOf(2, 2), tensorOf(3), tensorOf(1, 1), tensorOf(2, 1, 2)}
		ws[layer].Data = append(ws[layer].Data, 1)
		assert.ErrorIs(t, codec.Validate(ws, nil), codec.ErrShapeMismatch, "layer %d", layer)
	}
}
