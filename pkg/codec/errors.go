package codec

import (
	"errors"
	"fmt"

	pkgerrors "github.com/absmach/fedmob/pkg/errors"
)

var (
	ErrShapeMismatch      = errors.New("shape mismatch")
	ErrLayerCountMismatch = errors.New("layer count mismatch")
	ErrNonFiniteValue     = errors.New("non-finite value")
	ErrEmptyPayload       = errors.New("empty payload")
	ErrNestingTooDeep     = errors.New("nesting too deep")
	ErrUnsupportedDType   = errors.New("unsupported dtype")
	ErrInvalidEncoding    = errors.New("invalid tensor encoding")
)

// ValidationError reports which layer failed. Layer is -1 when the failure
// concerns the weight set as a whole.
type ValidationError struct {
	Layer int
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Layer < 0 {
		return e.Err.Error()
	}

	return fmt.Sprintf("layer %d: %s", e.Layer, e.Err)
}

func (e *ValidationError) Unwrap() []error {
	return []error{e.Err, pkgerrors.ErrWeightValidation}
}

func layerErr(layer int, err error) error {
	return &ValidationError{Layer: layer, Err: err}
}
