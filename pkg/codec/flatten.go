package codec

import (
	"fmt"
)

// MaxDepth bounds the nesting accepted by Flatten and Unflatten.
const MaxDepth = 32

type frame struct {
	node  any
	depth int
}

// Flatten walks an arbitrarily nested numeric array, as produced by
// encoding/json or by hand, and returns its row-major values together with
// the nesting lengths. The traversal uses an explicit stack so deep or wide
// inputs never grow the goroutine stack. Ragged arrays are rejected.
func Flatten(nested any) ([]float32, []int, error) {
	shape, err := inferShape(nested)
	if err != nil {
		return nil, nil, err
	}

	size := Product(shape)
	data := make([]float32, 0, size)
	leafDepth := len(shape)

	stack := []frame{{node: nested, depth: 0}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if f.depth == leafDepth {
			v, ok := toFloat32(f.node)
			if !ok {
				return nil, nil, fmt.Errorf("%w: expected number at depth %d, got %T", ErrShapeMismatch, f.depth, f.node)
			}
			data = append(data, v)

			continue
		}

		want := shape[f.depth]
		switch x := f.node.(type) {
		case []any:
			if len(x) != want {
				return nil, nil, fmt.Errorf("%w: ragged array at depth %d: got %d elements, want %d", ErrShapeMismatch, f.depth, len(x), want)
			}
			if f.depth == leafDepth-1 {
				for _, el := range x {
					v, ok := toFloat32(el)
					if !ok {
						return nil, nil, fmt.Errorf("%w: expected number at depth %d, got %T", ErrShapeMismatch, leafDepth, el)
					}
					data = append(data, v)
				}

				continue
			}
			for i := len(x) - 1; i >= 0; i-- {
				stack = append(stack, frame{node: x[i], depth: f.depth + 1})
			}
		case []float64:
			if f.depth != leafDepth-1 || len(x) != want {
				return nil, nil, fmt.Errorf("%w: unexpected numeric row at depth %d", ErrShapeMismatch, f.depth)
			}
			for _, v := range x {
				data = append(data, float32(v))
			}
		case []float32:
			if f.depth != leafDepth-1 || len(x) != want {
				return nil, nil, fmt.Errorf("%w: unexpected numeric row at depth %d", ErrShapeMismatch, f.depth)
			}
			data = append(data, x...)
		default:
			return nil, nil, fmt.Errorf("%w: expected array at depth %d, got %T", ErrShapeMismatch, f.depth, f.node)
		}
	}

	if len(data) != size {
		return nil, nil, fmt.Errorf("%w: flattened %d values for shape %v", ErrShapeMismatch, len(data), shape)
	}

	return data, shape, nil
}

// inferShape follows the first element of every level to learn the shape.
func inferShape(nested any) ([]int, error) {
	shape := []int{}
	cur := nested
	for {
		if len(shape) >= MaxDepth {
			return nil, fmt.Errorf("%w: more than %d levels", ErrNestingTooDeep, MaxDepth)
		}
		switch x := cur.(type) {
		case []any:
			shape = append(shape, len(x))
			if len(x) == 0 {
				return shape, nil
			}
			cur = x[0]
		case []float64:
			return append(shape, len(x)), nil
		case []float32:
			return append(shape, len(x)), nil
		default:
			if _, ok := toFloat32(cur); !ok {
				return nil, fmt.Errorf("%w: unsupported element %T", ErrShapeMismatch, cur)
			}

			return shape, nil
		}
	}
}

// Unflatten rebuilds the nested []any form of data for shape, with float64
// leaves so the result marshals as plain JSON numbers. The structure is built
// bottom-up one level at a time.
func Unflatten(data []float32, shape []int) (any, error) {
	if len(shape) > MaxDepth {
		return nil, fmt.Errorf("%w: more than %d levels", ErrNestingTooDeep, MaxDepth)
	}
	size := Product(shape)
	if size < 0 {
		return nil, fmt.Errorf("%w: negative dimension in %v", ErrShapeMismatch, shape)
	}
	if len(data) != size {
		return nil, fmt.Errorf("%w: %d values for shape %v", ErrShapeMismatch, len(data), shape)
	}

	if len(shape) == 0 {
		return float64(data[0]), nil
	}

	level := make([]any, len(data))
	for i, v := range data {
		level[i] = float64(v)
	}

	for d := len(shape) - 1; d >= 0; d-- {
		width := shape[d]
		groups := Product(shape[:d])
		next := make([]any, groups)
		for g := range groups {
			row := make([]any, width)
			copy(row, level[g*width:(g+1)*width])
			next[g] = row
		}
		level = next
	}

	return level[0], nil
}

func toFloat32(v any) (float32, bool) {
	switch n := v.(type) {
	case float64:
		return float32(n), true
	case float32:
		return n, true
	case int:
		return float32(n), true
	case int64:
		return float32(n), true
	default:
		return 0, false
	}
}
