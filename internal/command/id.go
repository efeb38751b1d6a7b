package command

import (
	"fmt"
	"regexp"
)

// validID matches schema names. The same pattern guards config store labels.
var validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Id is the validated name of a dataset schema.
type Id string

// ParseId validates raw as a schema name.
func ParseId(raw string) (Id, error) {
	if !validID.MatchString(raw) {
		return "", Illegal(ParamSchema, fmt.Sprintf("%q is not a valid schema name", raw))
	}
	return Id(raw), nil
}

// MustParseId is ParseId for constants in tests and fixtures.
// Panics on invalid input.
func MustParseId(raw string) Id {
	id, err := ParseId(raw)
	if err != nil {
		panic(err)
	}
	return id
}

// IsValidLabel reports whether s may be used as a schema name or storage label.
func IsValidLabel(s string) bool {
	return validID.MatchString(s)
}

// String returns the raw name.
func (id Id) String() string {
	return string(id)
}
