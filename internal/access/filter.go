// Package access decides which machines a caller may see and whether they
// may change the catalog.
package access

import (
	"machine-catalog-backend/internal/apperr"
	"machine-catalog-backend/internal/auth"
	"machine-catalog-backend/internal/store"
)

// Filter maps identities onto query scopes.
type Filter struct {
	privileged []string
}

// NewFilter returns a filter granting full visibility and write access to
// privilegedRoles. Every other role is restricted to its assigned machines.
func NewFilter(privilegedRoles []string) *Filter {
	if len(privilegedRoles) == 0 {
		privilegedRoles = []string{auth.RoleAdmin, auth.RoleEngenheiro}
	}
	return &Filter{privileged: privilegedRoles}
}

// Privileged reports whether id sees the whole catalog.
func (f *Filter) Privileged(id *auth.Identity) bool {
	return auth.HasRole(id, f.privileged...)
}

// Scope returns the read scope of id.
func (f *Filter) Scope(id *auth.Identity) (store.Scope, error) {
	if id == nil {
		return store.Scope{}, apperr.Permission("authentication required")
	}
	if f.Privileged(id) {
		return store.AllMachines(), nil
	}
	if id.UserID == "" {
		return store.Scope{}, apperr.Permission("authentication required")
	}
	return store.AssignedTo(id.UserID), nil
}

// CanMutate fails unless id may change machines, parts and placements.
func (f *Filter) CanMutate(id *auth.Identity) error {
	if id == nil {
		return apperr.Permission("authentication required")
	}
	if !f.Privileged(id) {
		return apperr.Permission("role " + id.Role + " cannot modify the catalog")
	}
	return nil
}
