package training

import (
	"errors"
	"fmt"

	pkgerrors "github.com/absmach/fedmob/pkg/errors"
)

// Failure stages.
const (
	StageConfig   = "config"
	StageLoad     = "load"
	StageDataset  = "dataset"
	StageTrain    = "train"
	StageEpoch    = "epoch_callback"
	StageWeights  = "weights"
	StageEvaluate = "evaluate"
	StageCanceled = "canceled"
)

var (
	ErrInvalidConfig = errors.New("invalid round config")
	ErrEmptyDataset  = errors.New("empty dataset")
	ErrNonFiniteLoss = errors.New("non-finite loss")
)

// TrainingError reports a failed round. It matches pkg/errors.ErrTraining
// and the underlying cause.
type TrainingError struct {
	Stage string
	Epoch int
	Err   error
}

func (e *TrainingError) Error() string {
	if e.Epoch > 0 {
		return fmt.Sprintf("training failed at %s in epoch %d: %s", e.Stage, e.Epoch, e.Err)
	}

	return fmt.Sprintf("training failed at %s: %s", e.Stage, e.Err)
}

func (e *TrainingError) Unwrap() []error {
	return []error{e.Err, pkgerrors.ErrTraining}
}

func fail(stage string, epoch int, err error) *TrainingError {
	return &TrainingError{Stage: stage, Epoch: epoch, Err: err}
}

// IsDatasetFailure reports whether err came from loading or reading data.
func IsDatasetFailure(err error) bool {
	var te *TrainingError
	if !errors.As(err, &te) {
		return false
	}

	return te.Stage == StageDataset || te.Stage == StageLoad
}
