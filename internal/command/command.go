package command

import (
	"maps"
	"slices"
	"strings"
)

// Well-known parameter keys.
const (
	ParamSchema   = "schema"
	ParamLanguage = "language"
)

// WildcardMediaType is the implied accepted type of a command without preferences.
const WildcardMediaType = "*/*"

// Command is an immutable request to run an operation on a schema.
//
// Properties are multi-valued; accepted media types are kept in
// preference order. A Command built with Invalid carries its
// construction error and re-raises it from every accessor that needs data,
// so transport layers can defer validation failures into the pipeline.
//
// Thread-safety: Command is a value type and safe to share after construction.
type Command struct {
	props    map[string][]string
	accepted []string
	owner    string
	err      error
}

// New creates a valid command. props and accepted are copied.
// owner may be empty for anonymous requests.
func New(props map[string][]string, accepted []string, owner string) Command {
	copied := make(map[string][]string, len(props))
	for k, vs := range props {
		copied[k] = slices.Clone(vs)
	}
	return Command{
		props:    copied,
		accepted: slices.Clone(accepted),
		owner:    owner,
	}
}

// Invalid creates a command that fails with cause on use.
func Invalid(cause error) Command {
	return Command{err: cause}
}

// FailIfNotValid returns the construction error, if any.
func (c Command) FailIfNotValid() error {
	return c.err
}

// Properties returns a copy of all parameters, or the construction error
// of an invalid command.
func (c Command) Properties() (map[string][]string, error) {
	if c.err != nil {
		return nil, c.err
	}
	out := make(map[string][]string, len(c.props))
	for k, vs := range c.props {
		out[k] = slices.Clone(vs)
	}
	return out, nil
}

// Keys returns the parameter keys in sorted order. Empty for invalid
// commands.
func (c Command) Keys() []string {
	return slices.Sorted(maps.Keys(c.props))
}

// Get returns all values of key, or the construction error of an invalid
// command.
func (c Command) Get(key string) ([]string, error) {
	if c.err != nil {
		return nil, c.err
	}
	return slices.Clone(c.props[key]), nil
}

// Has reports whether key has at least one value. Always false for
// invalid commands.
func (c Command) Has(key string) bool {
	return len(c.props[key]) > 0
}

// Accepted returns the acceptable media types in preference order, or the
// construction error of an invalid command. An empty preference list
// yields the wildcard.
func (c Command) Accepted() ([]string, error) {
	if c.err != nil {
		return nil, c.err
	}
	if len(c.accepted) == 0 {
		return []string{WildcardMediaType}, nil
	}
	return slices.Clone(c.accepted), nil
}

// Owner returns the identity that issued the command, if known.
func (c Command) Owner() (string, bool) {
	return c.owner, c.owner != ""
}

// Require returns the sole, non-blank value of key.
func (c Command) Require(key string) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	values := c.props[key]
	switch {
	case len(values) == 0:
		return "", Missing(key)
	case len(values) > 1:
		return "", Duplicated(key)
	case strings.TrimSpace(values[0]) == "":
		return "", Illegal(key, "empty value")
	}
	return values[0], nil
}

// Optional returns the value of key or fallback when key is absent.
// A present but duplicated or blank key is still an error.
func (c Command) Optional(key, fallback string) (string, error) {
	if c.err == nil && !c.Has(key) {
		return fallback, nil
	}
	return c.Require(key)
}

// Language returns the normalized value of the language parameter.
func (c Command) Language() (Language, error) {
	raw, err := c.Require(ParamLanguage)
	if err != nil {
		return Unknown, err
	}
	return ParseLanguage(raw), nil
}

// Schema returns the validated value of the schema parameter.
func (c Command) Schema() (Id, error) {
	raw, err := c.Require(ParamSchema)
	if err != nil {
		return "", err
	}
	return ParseId(raw)
}
