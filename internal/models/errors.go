package models

import (
	"errors"
	"fmt"
)

// ErrValidation represents a validation error with field and message.
type ErrValidation struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ErrValidation) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// Common validation errors for models.
var (
	// ErrSourceRequired indicates a required source path field is empty.
	ErrSourceRequired = errors.New("source is required")

	// ErrSessionIDRequired indicates a required session ID field is empty.
	ErrSessionIDRequired = errors.New("session_id is required")

	// ErrInvalidMode indicates an invalid conversion mode.
	ErrInvalidMode = errors.New("invalid mode: must be 'streamed' or 'fallback'")

	// ErrInvalidFinalState indicates an unrecognised terminal state.
	ErrInvalidFinalState = errors.New("invalid final state")

	// ErrRecordNotFound indicates a conversion record was not found.
	ErrRecordNotFound = errors.New("conversion record not found")
)
