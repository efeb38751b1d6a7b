package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/datagate/internal/command"
)

var (
	// ErrCancelled reports an invocation aborted before its result was written.
	ErrCancelled = errors.New("invocation cancelled")

	// ErrAlreadyStarted reports a second Run of the same Runner.
	ErrAlreadyStarted = errors.New("invocation already started")

	// ErrResultConsumed reports a second Write of the same result.
	ErrResultConsumed = errors.New("result already consumed")
)

// LanguageNotSupportedError reports a command for a language the selected
// schema has no engine for.
type LanguageNotSupportedError struct {
	Schema   string
	Language command.Language
}

// Error implements the error interface.
func (e *LanguageNotSupportedError) Error() string {
	if e.Schema != "" {
		return fmt.Sprintf("language %s is not supported by schema %s", e.Language, e.Schema)
	}
	return fmt.Sprintf("language %s is not supported", e.Language)
}

// Is reports LanguageNotSupportedError as a usage error.
func (e *LanguageNotSupportedError) Is(target error) bool {
	return target == command.ErrUsage
}

// NotAcceptableError reports that none of the accepted media types can be produced.
type NotAcceptableError struct {
	Accepted  []string
	Supported []string
}

// Error implements the error interface.
func (e *NotAcceptableError) Error() string {
	return fmt.Sprintf("none of [%s] is supported, expected one of [%s]",
		strings.Join(e.Accepted, ", "), strings.Join(e.Supported, ", "))
}

// Is reports NotAcceptableError as a usage error.
func (e *NotAcceptableError) Is(target error) bool {
	return target == command.ErrUsage
}

// ExecutionError wraps a backend failure with the lifecycle phase it happened in.
type ExecutionError struct {
	Phase string // "execute" or "write"
	Err   error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Phase, e.Err)
}

// Unwrap returns the backend error.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// IsCancelled returns true if err reports a cancelled invocation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// IsExecutionError returns true if err is a backend failure.
// Uses errors.As to handle wrapped errors.
func IsExecutionError(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee)
}
