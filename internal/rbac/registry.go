package rbac

import (
	"errors"
	"sync"
)

// Role is a named capability set.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RolePauser  Role = "pauser"
)

var (
	ErrUnauthorized = errors.New("caller lacks required role")
	ErrUnknownRole  = errors.New("unknown role")
)

func validRole(r Role) bool {
	switch r {
	case RoleAdmin, RoleManager, RolePauser:
		return true
	}
	return false
}

// Registry holds role assignments for principals. There is no hierarchy
// beyond the three named roles; admin is special only in that it alone may
// grant and revoke, including on itself.
type Registry struct {
	mu      sync.RWMutex
	members map[Role]map[string]struct{}
}

// NewRegistry creates a registry with rootAdmin holding the admin role.
func NewRegistry(rootAdmin string) *Registry {
	r := &Registry{
		members: map[Role]map[string]struct{}{
			RoleAdmin:   {rootAdmin: {}},
			RoleManager: {},
			RolePauser:  {},
		},
	}
	return r
}

// Grant assigns role to principal. Only an admin caller may grant.
func (r *Registry) Grant(caller, principal string, role Role) error {
	if !validRole(role) {
		return ErrUnknownRole
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[RoleAdmin][caller]; !ok {
		return ErrUnauthorized
	}
	r.members[role][principal] = struct{}{}
	return nil
}

// Revoke removes role from principal. Only an admin caller may revoke.
// Revoking a role the principal does not hold is a no-op.
func (r *Registry) Revoke(caller, principal string, role Role) error {
	if !validRole(role) {
		return ErrUnknownRole
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[RoleAdmin][caller]; !ok {
		return ErrUnauthorized
	}
	delete(r.members[role], principal)
	return nil
}

// Has reports whether principal holds role.
func (r *Registry) Has(principal string, role Role) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.members[role][principal]
	return ok
}
