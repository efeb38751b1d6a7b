// Package security defines who may run which operation.
//
// Every invocation declares the single Permission it needs. The caller's
// identity and access Mode travel in a Context attached to the request
// context.Context; the Authorizer decides with one predicate that covers both
// the role grants and the read-only restriction.
package security

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// Permission is an operation class an invocation may require.
type Permission string

const (
	// InvokeQuery allows read-only operations.
	InvokeQuery Permission = "invoke:query"

	// InvokeUpdate allows operations that modify a dataset.
	InvokeUpdate Permission = "invoke:update"

	// AccessMetadata allows reading schema descriptions.
	AccessMetadata Permission = "access:metadata"

	// Administrate allows dataset lifecycle operations.
	Administrate Permission = "administrate"
)

// Mutating reports whether p changes state and is therefore denied in ReadOnly mode.
func (p Permission) Mutating() bool {
	return p == InvokeUpdate || p == Administrate
}

// Role is a named bundle of permissions.
type Role string

const (
	RoleNone  Role = "none"
	RoleUser  Role = "user"
	RoleOwner Role = "owner"
	RoleAdmin Role = "admin"
)

// KnownRoles lists the built-in roles from least to most privileged.
var KnownRoles = []Role{RoleNone, RoleUser, RoleOwner, RoleAdmin}

// ParseRole normalizes a role name and rejects unknown ones.
func ParseRole(raw string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(raw)))
	if !slices.Contains(KnownRoles, r) {
		return "", fmt.Errorf("unknown role %q", raw)
	}
	return r, nil
}

// Mode restricts what an otherwise authorized identity may do.
type Mode int

const (
	// ReadWrite places no additional restriction.
	ReadWrite Mode = iota
	// ReadOnly denies every mutating permission.
	ReadOnly
)

// String returns the mode name used in logs and events.
func (m Mode) String() string {
	if m == ReadOnly {
		return "read-only"
	}
	return "read-write"
}

// Identity is an authenticated (or anonymous) caller.
type Identity struct {
	Name  string
	Roles []Role
}

// Anonymous is the identity of unauthenticated callers.
var Anonymous = Identity{Name: "anonymous", Roles: []Role{RoleNone}}

// Context is the security information attached to a request.
type Context struct {
	Identity Identity
	Mode     Mode
}

type contextKey struct{}

// NewContext returns ctx carrying sc.
func NewContext(ctx context.Context, sc Context) context.Context {
	return context.WithValue(ctx, contextKey{}, sc)
}

// FromContext returns the security context of ctx.
// Requests without one are treated as anonymous and read-only.
func FromContext(ctx context.Context) Context {
	if sc, ok := ctx.Value(contextKey{}).(Context); ok {
		return sc
	}
	return Context{Identity: Anonymous, Mode: ReadOnly}
}
