package command

import (
	"errors"
	"fmt"
)

// ErrUsage marks errors caused by a malformed request rather than by the
// backend. Every usage error in the module matches it through errors.Is.
var ErrUsage = errors.New("usage error")

// ParameterErrorKind categorizes parameter validation failures.
type ParameterErrorKind string

const (
	// MissingParameter indicates a required key has no value.
	MissingParameter ParameterErrorKind = "MISSING_PARAMETER"

	// DuplicatedParameter indicates a single-valued key carries several values.
	DuplicatedParameter ParameterErrorKind = "DUPLICATED_PARAMETER"

	// IllegalParameter indicates a value that cannot be used as given.
	IllegalParameter ParameterErrorKind = "ILLEGAL_PARAMETER"
)

// ParameterError reports a command parameter that failed validation.
type ParameterError struct {
	Kind   ParameterErrorKind
	Key    string
	Reason string
}

// Error implements the error interface.
func (e *ParameterError) Error() string {
	switch e.Kind {
	case MissingParameter:
		return fmt.Sprintf("required parameter %s is missing", e.Key)
	case DuplicatedParameter:
		return fmt.Sprintf("duplicated parameter %s found", e.Key)
	default:
		return fmt.Sprintf("illegal parameter %s found : %s", e.Key, e.Reason)
	}
}

// Is reports ParameterError as a usage error.
func (e *ParameterError) Is(target error) bool {
	return target == ErrUsage
}

// Missing creates a ParameterError for an absent key.
func Missing(key string) *ParameterError {
	return &ParameterError{Kind: MissingParameter, Key: key}
}

// Duplicated creates a ParameterError for a key with more than one value.
func Duplicated(key string) *ParameterError {
	return &ParameterError{Kind: DuplicatedParameter, Key: key}
}

// Illegal creates a ParameterError for an unusable value.
func Illegal(key, reason string) *ParameterError {
	return &ParameterError{Kind: IllegalParameter, Key: key, Reason: reason}
}

// IsUsage returns true if err was caused by a malformed request.
func IsUsage(err error) bool {
	return errors.Is(err, ErrUsage)
}

// IsParameterError returns true if err is a ParameterError of the given kind.
// Uses errors.As to handle wrapped errors.
func IsParameterError(err error, kind ParameterErrorKind) bool {
	var pe *ParameterError
	if errors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}
