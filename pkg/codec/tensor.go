// Package codec converts model weights to and from the transport form
// exchanged with the aggregator bridge and validates them on the way in.
package codec

import "slices"

type DType string

const Float32 DType = "float32"

const float32Size = 4

// WeightTensor is one parameter layer. Data is row-major and
// len(Data) == Product(Shape) for every valid tensor.
type WeightTensor struct {
	Shape []int     `json:"shape"`
	DType DType     `json:"dtype"`
	Data  []float32 `json:"data"`
}

// WeightSet holds the layers of a model in declaration order.
type WeightSet []WeightTensor

func NewTensor(shape []int, data []float32) WeightTensor {
	return WeightTensor{
		Shape: slices.Clone(shape),
		DType: Float32,
		Data:  data,
	}
}

// Zeros returns a float32 tensor of the given shape filled with zeros.
func Zeros(shape ...int) WeightTensor {
	return NewTensor(shape, make([]float32, max(Product(shape), 0)))
}

func (t WeightTensor) Size() int {
	return Product(t.Shape)
}

func (t WeightTensor) Bytes() int {
	return len(t.Data) * float32Size
}

func (t WeightTensor) Clone() WeightTensor {
	return WeightTensor{
		Shape: slices.Clone(t.Shape),
		DType: t.DType,
		Data:  slices.Clone(t.Data),
	}
}

func (ws WeightSet) Clone() WeightSet {
	if ws == nil {
		return nil
	}
	out := make(WeightSet, len(ws))
	for i := range ws {
		out[i] = ws[i].Clone()
	}

	return out
}

func (ws WeightSet) Shapes() [][]int {
	shapes := make([][]int, len(ws))
	for i := range ws {
		shapes[i] = slices.Clone(ws[i].Shape)
	}

	return shapes
}

func (ws WeightSet) Bytes() int {
	total := 0
	for i := range ws {
		total += ws[i].Bytes()
	}

	return total
}

// Product returns the element count implied by shape. A scalar (empty
// shape) holds one element. Any negative dimension yields -1.
func Product(shape []int) int {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return -1
		}
		n *= d
	}

	return n
}
