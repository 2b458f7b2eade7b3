package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceNotFound is returned when a named input file does not exist.
	ErrSourceNotFound = errors.New("source not found")
	// ErrInvalidInput is returned for malformed messages files or undecodable input.
	ErrInvalidInput = errors.New("invalid input")
	// ErrSourceConflict is returned when more than one input source is selected.
	ErrSourceConflict = errors.New("conflicting input sources")
	// ErrMissingCredential is returned when a remote model has no API key.
	ErrMissingCredential = errors.New("missing credential")
	// ErrUnknownModel is returned for model ids not in the registry.
	ErrUnknownModel = errors.New("unknown model")
)

// CountingError records a failure while counting a specific model.
type CountingError struct {
	Model string
	Err   error
}

func (e *CountingError) Error() string {
	return fmt.Sprintf("%s: %v", e.Model, e.Err)
}

func (e *CountingError) Unwrap() error { return e.Err }
