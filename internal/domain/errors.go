package domain

import "errors"

// Sentinel errors shared across layers. Handlers map them to HTTP statuses,
// services wrap them with context via fmt.Errorf and %w.
var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation failed")
	ErrKindMismatch = errors.New("operation not valid for node kind")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
