package mlp

import (
	"fmt"
	"math/rand/v2"

	"github.com/absmach/fedmob/pkg/training"
)

const noise = 0.3

// Synthetic returns n labelled samples drawn around one fixed centre per
// class. Labels cycle through the classes so every class is present once n
// reaches the class count. The same seed yields the same data.
func Synthetic(n, inputs, classes int, seed uint64) (*training.MemoryDataset, error) {
	if n < 0 || inputs <= 0 || classes < 2 {
		return nil, fmt.Errorf("%w: n=%d inputs=%d classes=%d", errInvalidSpec, n, inputs, classes)
	}

	centres := make([][]float32, classes)
	for c := range classes {
		centres[c] = make([]float32, inputs)
		for i := range inputs {
			if (i+c)%classes == 0 {
				centres[c][i] = 1
			} else {
				centres[c][i] = -1
			}
		}
	}

	rng := rand.New(rand.NewPCG(seed, seed+1))
	xs := make([][]float32, n)
	ys := make([]int, n)
	for s := range n {
		c := s % classes
		x := make([]float32, inputs)
		for i := range inputs {
			x[i] = centres[c][i] + float32(rng.NormFloat64()*noise)
		}
		xs[s] = x
		ys[s] = c
	}

	return training.NewMemoryDataset(xs, ys)
}
