// Package mlp is a small dense network with one hidden layer, used as the
// demo model of the client and in end-to-end tests. Its weights are four
// tensors: hidden kernel, hidden bias, output kernel and output bias.
package mlp

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/absmach/fedmob/pkg/codec"
	"github.com/absmach/fedmob/pkg/training"
)

const Variant = "dense_mlp"

var (
	errInvalidSpec  = errors.New("invalid network spec")
	errInputWidth   = errors.New("input width does not match network")
	errLabelOutside = errors.New("label outside class range")
)

type Spec struct {
	Inputs  int    `env:"INPUTS"  envDefault:"4"  toml:"inputs"`
	Hidden  int    `env:"HIDDEN"  envDefault:"8"  toml:"hidden"`
	Classes int    `env:"CLASSES" envDefault:"2"  toml:"classes"`
	Seed    uint64 `env:"SEED"    envDefault:"42" toml:"seed"`
}

var _ training.Model = (*Model)(nil)

type Model struct {
	spec Spec
	w1   []float32
	b1   []float32
	w2   []float32
	b2   []float32
}

// New returns a network with Xavier-uniform kernels and zero biases drawn
// from a generator seeded by spec.Seed.
func New(spec Spec) (*Model, error) {
	if spec.Inputs <= 0 || spec.Hidden <= 0 || spec.Classes < 2 {
		return nil, fmt.Errorf("%w: %+v", errInvalidSpec, spec)
	}

	rng := rand.New(rand.NewPCG(spec.Seed, spec.Seed^0x9e3779b97f4a7c15))
	m := &Model{
		spec: spec,
		w1:   xavier(rng, spec.Inputs, spec.Hidden),
		b1:   make([]float32, spec.Hidden),
		w2:   xavier(rng, spec.Hidden, spec.Classes),
		b2:   make([]float32, spec.Classes),
	}

	return m, nil
}

func xavier(rng *rand.Rand, fanIn, fanOut int) []float32 {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	w := make([]float32, fanIn*fanOut)
	for i := range w {
		w[i] = float32((rng.Float64()*2 - 1) * limit)
	}

	return w
}

func (m *Model) Spec() Spec {
	return m.spec
}

func (m *Model) Shapes() [][]int {
	return [][]int{
		{m.spec.Inputs, m.spec.Hidden},
		{m.spec.Hidden},
		{m.spec.Hidden, m.spec.Classes},
		{m.spec.Classes},
	}
}

func (m *Model) Weights() codec.WeightSet {
	shapes := m.Shapes()
	params := [][]float32{m.w1, m.b1, m.w2, m.b2}
	ws := make(codec.WeightSet, len(params))
	for i, p := range params {
		ws[i] = codec.NewTensor(shapes[i], append([]float32(nil), p...))
	}

	return ws
}

// SetWeights replaces all parameters. The set must match Shapes exactly.
func (m *Model) SetWeights(ws codec.WeightSet) error {
	if err := codec.Validate(ws, m.Shapes()); err != nil {
		return err
	}

	m.w1 = append([]float32(nil), ws[0].Data...)
	m.b1 = append([]float32(nil), ws[1].Data...)
	m.w2 = append([]float32(nil), ws[2].Data...)
	m.b2 = append([]float32(nil), ws[3].Data...)

	return nil
}

func (m *Model) TrainBatch(ctx context.Context, b training.Batch, lr float64, scope *training.Scope) (training.BatchResult, error) {
	return m.step(ctx, b, lr, scope, true)
}

func (m *Model) EvaluateBatch(ctx context.Context, b training.Batch, scope *training.Scope) (training.BatchResult, error) {
	return m.step(ctx, b, 0, scope, false)
}

func (m *Model) step(ctx context.Context, b training.Batch, lr float64, scope *training.Scope, train bool) (training.BatchResult, error) {
	if err := ctx.Err(); err != nil {
		return training.BatchResult{}, err
	}
	n := b.Len()
	if n == 0 || len(b.Inputs) != n {
		return training.BatchResult{}, fmt.Errorf("batch has %d inputs and %d labels", len(b.Inputs), n)
	}

	in, hid, out := m.spec.Inputs, m.spec.Hidden, m.spec.Classes
	hidden := make([]float32, n*hid)
	probs := make([]float64, n*out)
	ids := []string{
		scope.Track(int64(4 * len(hidden))),
		scope.Track(int64(8 * len(probs))),
	}
	defer func() {
		for _, id := range ids {
			scope.Release(id)
		}
	}()

	var loss float64
	correct := 0
	for s := range n {
		x, y := b.Inputs[s], b.Labels[s]
		if len(x) != in {
			return training.BatchResult{}, fmt.Errorf("%w: got %d, want %d", errInputWidth, len(x), in)
		}
		if y < 0 || y >= out {
			return training.BatchResult{}, fmt.Errorf("%w: %d", errLabelOutside, y)
		}

		h := hidden[s*hid : (s+1)*hid]
		for j := range hid {
			acc := m.b1[j]
			for i := range in {
				acc += x[i] * m.w1[i*hid+j]
			}
			h[j] = max(acc, 0)
		}

		p := probs[s*out : (s+1)*out]
		best := 0
		for k := range out {
			acc := float64(m.b2[k])
			for j := range hid {
				acc += float64(h[j] * m.w2[j*out+k])
			}
			p[k] = acc
			if acc > p[best] {
				best = k
			}
		}
		maxLogit := p[best]
		var sum float64
		for k := range out {
			p[k] = math.Exp(p[k] - maxLogit)
			sum += p[k]
		}
		for k := range out {
			p[k] /= sum
		}

		loss -= math.Log(math.Max(p[y], 1e-12))
		if best == y {
			correct++
		}
	}

	res := training.BatchResult{
		Loss:     loss / float64(n),
		Accuracy: float64(correct) / float64(n),
	}
	if train {
		m.backward(b, hidden, probs, lr, scope, &ids)
	}

	return res, nil
}

func (m *Model) backward(b training.Batch, hidden []float32, probs []float64, lr float64, scope *training.Scope, ids *[]string) {
	n := b.Len()
	in, hid, out := m.spec.Inputs, m.spec.Hidden, m.spec.Classes

	gw1 := make([]float64, in*hid)
	gb1 := make([]float64, hid)
	gw2 := make([]float64, hid*out)
	gb2 := make([]float64, out)
	dh := make([]float64, hid)
	*ids = append(*ids, scope.Track(int64(8*(len(gw1)+len(gb1)+len(gw2)+len(gb2)+len(dh)))))

	scale := 1 / float64(n)
	for s := range n {
		x, y := b.Inputs[s], b.Labels[s]
		h := hidden[s*hid : (s+1)*hid]
		p := probs[s*out : (s+1)*out]

		clear(dh)
		for k := range out {
			d := p[k]
			if k == y {
				d--
			}
			d *= scale
			gb2[k] += d
			for j := range hid {
				gw2[j*out+k] += float64(h[j]) * d
				dh[j] += float64(m.w2[j*out+k]) * d
			}
		}
		for j := range hid {
			if h[j] <= 0 {
				continue
			}
			gb1[j] += dh[j]
			for i := range in {
				gw1[i*hid+j] += float64(x[i]) * dh[j]
			}
		}
	}

	apply(m.w1, gw1, lr)
	apply(m.b1, gb1, lr)
	apply(m.w2, gw2, lr)
	apply(m.b2, gb2, lr)
}

func apply(w []float32, g []float64, lr float64) {
	for i := range w {
		w[i] -= float32(lr * g[i])
	}
}
