package query

import (
	"errors"
	"fmt"
)

// ErrInsufficientData is returned when an "all time" range is requested for a
// scope with no historical events. Surfaced to the user, not fatal.
var ErrInsufficientData = errors.New("there are no events in this period")

// ErrConcurrencyLimit propagates collaborator-imposed resource exhaustion. It
// is retryable, but retry policy belongs to the caller, not this engine.
var ErrConcurrencyLimit = errors.New("concurrency limit exceeded")

// ValidationError marks malformed user input. It fails the query fast, before
// any per-actor work begins, and is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// MalformedFilterError marks a property filter whose shape or operator is
// invalid. It is surfaced as a validation error.
type MalformedFilterError struct {
	Key    string
	Reason string
}

func (e *MalformedFilterError) Error() string {
	if e.Key == "" {
		return "malformed filter: " + e.Reason
	}
	return fmt.Sprintf("malformed filter on %q: %s", e.Key, e.Reason)
}

// IsUserError reports whether err should surface as a 4xx-style caller
// mistake rather than an internal failure.
func IsUserError(err error) bool {
	var ve *ValidationError
	var mf *MalformedFilterError
	return errors.As(err, &ve) || errors.As(err, &mf)
}
