package security

import (
	"errors"
	"fmt"
)

// ForbiddenError reports an operation the caller is not allowed to run.
type ForbiddenError struct {
	Identity string
	Required Permission
	Mode     Mode
}

// Error implements the error interface.
func (e *ForbiddenError) Error() string {
	if e.Mode == ReadOnly && e.Required.Mutating() {
		return fmt.Sprintf("permission %s denied for %s: access is %s", e.Required, e.Identity, e.Mode)
	}
	return fmt.Sprintf("permission %s denied for %s", e.Required, e.Identity)
}

// IsForbidden returns true if err is an authorization failure.
// Uses errors.As to handle wrapped errors.
func IsForbidden(err error) bool {
	var fe *ForbiddenError
	return errors.As(err, &fe)
}
