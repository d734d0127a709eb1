package errors

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrEmptyKey     = errors.New("empty key")
	ErrInvalidData  = errors.New("invalid data type")
	ErrEntityExists = errors.New("entity already exists")
)

// Failure categories. Package level errors are joined with one of these so
// callers can branch on the category with errors.Is.
var (
	ErrTransport          = errors.New("transport error")
	ErrProtocol           = errors.New("protocol error")
	ErrStateTransition    = errors.New("state transition error")
	ErrWeightValidation   = errors.New("weight validation error")
	ErrTraining           = errors.New("training error")
	ErrResourceExhaustion = errors.New("resource exhaustion")
)
