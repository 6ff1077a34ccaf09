package experiment

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an experiment id is unknown
	ErrNotFound = errors.New("experiment not found")
	// ErrNotActive is returned when an operation requires an active experiment
	ErrNotActive = errors.New("experiment is not active")
	// ErrAlreadyExists is returned when creating an experiment with a taken id
	ErrAlreadyExists = errors.New("experiment already exists")
	// ErrUnknownStrategy is returned for an unregistered assignment strategy
	ErrUnknownStrategy = errors.New("unknown assignment strategy")
)

// ValidationError reports a malformed experiment config. Field names the
// offending config field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid experiment config: %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
