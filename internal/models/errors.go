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
	// ErrMediaIDRequired indicates a required media ID field is empty.
	ErrMediaIDRequired = errors.New("media_id is required")

	// ErrFingerprintRequired indicates a required fingerprint field is empty.
	ErrFingerprintRequired = errors.New("fingerprint is required")

	// ErrProfileNotFound indicates a cached media profile was not found.
	ErrProfileNotFound = errors.New("media profile not found")

	// ErrHealthNotFound indicates a media health record was not found.
	ErrHealthNotFound = errors.New("media health record not found")

	// ErrInvalidHealthStatus indicates an unknown health status value.
	ErrInvalidHealthStatus = errors.New("invalid health status: must be 'healthy', 'suspect', or 'poison'")
)
