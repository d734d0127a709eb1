package codec

import (
	"fmt"
	"math"
	"slices"
)

// Validate checks a received weight set against the receiving model. expected
// holds the model's layer shapes in order and may be nil when unknown. The
// first failure is returned as a *ValidationError; shapes are never coerced.
func Validate(candidate WeightSet, expected [][]int) error {
	if len(candidate) == 0 {
		return layerErr(-1, ErrEmptyPayload)
	}
	if expected != nil && len(candidate) != len(expected) {
		return layerErr(-1, fmt.Errorf("%w: got %d layers, model has %d", ErrLayerCountMismatch, len(candidate), len(expected)))
	}

	for i, t := range candidate {
		if err := checkTensor(t); err != nil {
			return layerErr(i, err)
		}
		if j := firstNonFinite(t.Data); j >= 0 {
			return layerErr(i, fmt.Errorf("%w at index %d", ErrNonFiniteValue, j))
		}
		if expected != nil && !slices.Equal(t.Shape, expected[i]) {
			return layerErr(i, fmt.Errorf("%w: got %v, model expects %v", ErrShapeMismatch, t.Shape, expected[i]))
		}
	}

	return nil
}

// IsValid reports whether Validate accepts the candidate.
func IsValid(candidate WeightSet, expected [][]int) bool {
	return Validate(candidate, expected) == nil
}

func checkTensor(t WeightTensor) error {
	if t.DType != "" && t.DType != Float32 {
		return fmt.Errorf("%w: %q", ErrUnsupportedDType, t.DType)
	}
	size := Product(t.Shape)
	if size < 0 {
		return fmt.Errorf("%w: negative dimension in %v", ErrShapeMismatch, t.Shape)
	}
	if len(t.Data) != size {
		return fmt.Errorf("%w: %d values for shape %v", ErrShapeMismatch, len(t.Data), t.Shape)
	}

	return nil
}

func firstNonFinite(data []float32) int {
	for i, v := range data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return i
		}
	}

	return -1
}
