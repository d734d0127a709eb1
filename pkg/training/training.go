// Package training drives the local epoch and batch loop of a federated
// round against a pluggable model and dataset.
package training

import (
	"context"
	"fmt"

	"github.com/absmach/fedmob/pkg/codec"
)

type RoundConfig struct {
	Epochs       int     `json:"epochs"`
	BatchSize    int     `json:"batch_size"`
	LearningRate float64 `json:"learning_rate"`
	ModelVariant string  `json:"model_variant"`
}

func (c RoundConfig) Validate() error {
	switch {
	case c.Epochs <= 0:
		return fmt.Errorf("%w: epochs must be positive, got %d", ErrInvalidConfig, c.Epochs)
	case c.BatchSize <= 0:
		return fmt.Errorf("%w: batch size must be positive, got %d", ErrInvalidConfig, c.BatchSize)
	case c.LearningRate <= 0:
		return fmt.Errorf("%w: learning rate must be positive, got %g", ErrInvalidConfig, c.LearningRate)
	}

	return nil
}

type Metrics struct {
	Loss       float64 `json:"loss"`
	Accuracy   float64 `json:"accuracy"`
	NumSamples int     `json:"num_samples"`
}

type Batch struct {
	Inputs [][]float32
	Labels []int
}

func (b Batch) Len() int {
	return len(b.Labels)
}

// BatchResult holds the mean loss and the accuracy over one batch.
type BatchResult struct {
	Loss     float64
	Accuracy float64
}

// Model is an ordered list of weight tensors that can be trained one batch
// at a time. Implementations register round-time tensors with the scope.
type Model interface {
	Weights() codec.WeightSet
	SetWeights(ws codec.WeightSet) error
	TrainBatch(ctx context.Context, b Batch, learningRate float64, scope *Scope) (BatchResult, error)
	EvaluateBatch(ctx context.Context, b Batch, scope *Scope) (BatchResult, error)
}

// Dataset yields batches by sample range [start, end).
type Dataset interface {
	Len() int
	Batch(ctx context.Context, start, end int) (Batch, error)
}

type EpochReport struct {
	Epoch    int     `json:"epoch"`
	Epochs   int     `json:"epochs"`
	Progress float64 `json:"progress"`
	Metrics  Metrics `json:"metrics"`
}

// EpochFunc is called after every epoch while training is paused. The model
// may be read safely for the duration of the call.
type EpochFunc func(ctx context.Context, r EpochReport) error

type Result struct {
	Weights codec.WeightSet
	Metrics Metrics
}
