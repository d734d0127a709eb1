package training

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

var errFeatureLabelMismatch = errors.New("features and labels differ in length")

// MemoryDataset is a Dataset held fully in memory.
type MemoryDataset struct {
	inputs [][]float32
	labels []int
}

func NewMemoryDataset(inputs [][]float32, labels []int) (*MemoryDataset, error) {
	if len(inputs) != len(labels) {
		return nil, fmt.Errorf("%w: %d != %d", errFeatureLabelMismatch, len(inputs), len(labels))
	}

	return &MemoryDataset{inputs: inputs, labels: labels}, nil
}

func (d *MemoryDataset) Len() int {
	return len(d.labels)
}

func (d *MemoryDataset) Batch(ctx context.Context, start, end int) (Batch, error) {
	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}
	if start < 0 || end > len(d.labels) || start > end {
		return Batch{}, fmt.Errorf("batch range [%d, %d) out of bounds for %d samples", start, end, len(d.labels))
	}

	return Batch{
		Inputs: slices.Clone(d.inputs[start:end]),
		Labels: slices.Clone(d.labels[start:end]),
	}, nil
}
