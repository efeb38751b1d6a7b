package security

import (
	_ "embed"
	"fmt"
	"sync"

	"github.com/casbin/casbin/v3"
	"github.com/casbin/casbin/v3/model"
)

//go:embed model.conf
var modelConf string

// Grant binds a permission to a role.
type Grant struct {
	Role       Role
	Permission Permission
}

// DefaultGrants are the built-in role permissions. Inheritance adds the
// grants of the lesser roles: admin > owner > user.
var DefaultGrants = []Grant{
	{RoleUser, InvokeQuery},
	{RoleUser, AccessMetadata},
	{RoleOwner, InvokeUpdate},
	{RoleAdmin, Administrate},
}

var defaultInheritance = [][2]Role{
	{RoleOwner, RoleUser},
	{RoleAdmin, RoleOwner},
}

// Authorizer decides whether a security context may use a permission.
//
// Thread-safety: Authorizer is safe for concurrent use. Policy changes
// through Grant take an exclusive lock.
type Authorizer struct {
	mu       sync.RWMutex
	enforcer *casbin.Enforcer
}

// NewAuthorizer creates an authorizer with DefaultGrants and the built-in
// role hierarchy.
func NewAuthorizer() (*Authorizer, error) {
	m, err := model.NewModelFromString(modelConf)
	if err != nil {
		return nil, fmt.Errorf("load authorization model: %w", err)
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create enforcer: %w", err)
	}
	a := &Authorizer{enforcer: e}
	for _, g := range DefaultGrants {
		if err := a.Grant(g.Role, g.Permission); err != nil {
			return nil, err
		}
	}
	for _, link := range defaultInheritance {
		if _, err := e.AddGroupingPolicy(string(link[0]), string(link[1])); err != nil {
			return nil, fmt.Errorf("add role inheritance %s > %s: %w", link[0], link[1], err)
		}
	}
	return a, nil
}

// Grant adds a permission to a role.
func (a *Authorizer) Grant(role Role, p Permission) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.enforcer.AddPolicy(string(role), string(p)); err != nil {
		return fmt.Errorf("grant %s to %s: %w", p, role, err)
	}
	return nil
}

// Check allows required when it is granted to one of the identity's roles
// and the access mode does not exclude it. It returns a *ForbiddenError
// otherwise.
func (a *Authorizer) Check(sc Context, required Permission) error {
	denied := &ForbiddenError{Identity: sc.Identity.Name, Required: required, Mode: sc.Mode}
	if sc.Mode == ReadOnly && required.Mutating() {
		return denied
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, role := range sc.Identity.Roles {
		ok, err := a.enforcer.Enforce(string(role), string(required))
		if err != nil {
			return fmt.Errorf("enforce %s for role %s: %w", required, role, err)
		}
		if ok {
			return nil
		}
	}
	return denied
}

// Permits is Check reduced to a boolean.
func (a *Authorizer) Permits(sc Context, required Permission) bool {
	return a.Check(sc, required) == nil
}
