package engine

import (
	"errors"
	"fmt"
)

// ErrNotTrained is the cause reported when scoring is attempted with no model.
var ErrNotTrained = errors.New("no model has been trained")

// ModelUnavailableError is returned by Detect when no model exists and the
// batch offered for implicit training could not produce one.
type ModelUnavailableError struct {
	Cause error
}

func (e *ModelUnavailableError) Error() string {
	if e.Cause == nil {
		return "model unavailable"
	}
	return fmt.Sprintf("model unavailable: %v", e.Cause)
}

func (e *ModelUnavailableError) Unwrap() error {
	return e.Cause
}
