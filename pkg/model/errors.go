package model

import "errors"

// Error taxonomy shared by the registry and the HTTP boundary. Callers wrap
// these with context and test with errors.Is.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrDetectionDisabled = errors.New("detection disabled")
	ErrInvalidSettings   = errors.New("invalid settings")
	ErrConflict          = errors.New("conflicting update")
)
