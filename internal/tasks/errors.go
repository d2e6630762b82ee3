package tasks

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a task does not exist or belongs to a
// different owner. The two cases are deliberately indistinguishable.
var ErrNotFound = errors.New("task not found")

// ErrStoreNotFound is the store-level miss sentinel; the executor maps
// it to ErrNotFound.
var ErrStoreNotFound = errors.New("task not found in store")

// ValidationError reports bad caller input. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
