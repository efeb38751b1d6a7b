package catalog

import (
	"errors"
	"fmt"
	"time"

	"github.com/roach88/datagate/internal/command"
)

// ErrDirectorClosed is returned by lifecycle operations after Shutdown.
var ErrDirectorClosed = errors.New("director is shut down")

// SchemaNotFoundError reports a command for a schema that is not deployed.
type SchemaNotFoundError struct {
	Name command.Id
}

// Error implements the error interface.
func (e *SchemaNotFoundError) Error() string {
	return fmt.Sprintf("no schema named %s", e.Name)
}

// Is reports SchemaNotFoundError as a usage error.
func (e *SchemaNotFoundError) Is(target error) bool {
	return target == command.ErrUsage
}

// NoSuchContainerError reports a dispose of a schema that is not deployed.
type NoSuchContainerError struct {
	Name command.Id
}

// Error implements the error interface.
func (e *NoSuchContainerError) Error() string {
	return fmt.Sprintf("no container deployed as %s", e.Name)
}

// LockTimeoutError reports a lifecycle operation that could not acquire the
// schema lock in time.
type LockTimeoutError struct {
	Name    command.Id
	Timeout time.Duration
}

// Error implements the error interface.
func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("could not lock schema %s within %s", e.Name, e.Timeout)
}

// IsSchemaNotFound returns true if err reports an unknown schema.
func IsSchemaNotFound(err error) bool {
	var se *SchemaNotFoundError
	return errors.As(err, &se)
}
