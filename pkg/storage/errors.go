package storage

import "errors"

var (
	ErrDBConnection    = errors.New("database connection error")
	ErrUnsupportedType = errors.New("unsupported storage type")
)
