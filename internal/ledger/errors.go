package ledger

import (
	"errors"
	"fmt"
)

// InputError represents a rejected ledger request: the caller sent something
// the ledger cannot credit. These recover locally into typed results or
// HTTP 4xx mappings; only infrastructure failures propagate as plain errors.
type InputError struct {
	// Code identifies the rejection category.
	Code InputErrorCode

	// Message is a human-readable description.
	Message string
}

// InputErrorCode categorizes rejected requests.
type InputErrorCode string

const (
	// ErrCodeEmptyProfile indicates a missing profile ID.
	ErrCodeEmptyProfile InputErrorCode = "EMPTY_PROFILE"

	// ErrCodeUnknownSource indicates an unrecognized event source.
	ErrCodeUnknownSource InputErrorCode = "UNKNOWN_SOURCE"

	// ErrCodeEmptyRef indicates a missing sourceRef dedup key.
	ErrCodeEmptyRef InputErrorCode = "EMPTY_REF"

	// ErrCodeReservedSource indicates an attempt to record admin_adjust
	// through the public event path instead of Adjust.
	ErrCodeReservedSource InputErrorCode = "RESERVED_SOURCE"

	// ErrCodeNegativeTotal indicates an adjustment that would drive the
	// profile's XP total below zero.
	ErrCodeNegativeTotal InputErrorCode = "NEGATIVE_TOTAL"
)

// Error implements the error interface.
func (e *InputError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsInputError returns true if the error is a ledger input rejection.
// Uses errors.As to handle wrapped errors.
func IsInputError(err error) bool {
	var ie *InputError
	return errors.As(err, &ie)
}

func newInputError(code InputErrorCode, format string, args ...any) *InputError {
	return &InputError{Code: code, Message: fmt.Sprintf(format, args...)}
}
