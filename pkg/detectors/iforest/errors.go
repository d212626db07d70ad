package iforest

import "fmt"

// InsufficientDataError is returned when a training set is too small to
// partition.
type InsufficientDataError struct {
	Records  int
	Distinct int
	Required int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient training data: %d records (%d distinct), need at least %d distinct",
		e.Records, e.Distinct, e.Required)
}
