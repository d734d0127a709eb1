package session

import (
	"errors"
	"fmt"

	pkgerrors "github.com/absmach/fedmob/pkg/errors"
)

var (
	ErrInvalidStateTransition = errors.Join(pkgerrors.ErrStateTransition, errors.New("invalid state transition"))
	ErrAlreadyTraining        = errors.New("round already in progress")
)

// TransitionError reports a trigger that is not valid in the current
// state. It matches ErrInvalidStateTransition and, when set, Err.
type TransitionError struct {
	From    State
	Trigger Trigger
	Err     error
}

func (e *TransitionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cannot %s while %s: %s", e.Trigger, e.From, e.Err)
	}

	return fmt.Sprintf("cannot %s while %s", e.Trigger, e.From)
}

func (e *TransitionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalidStateTransition}
	}

	return []error{e.Err, ErrInvalidStateTransition}
}
