package rbac

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound indicates that the requested record does not exist.
var ErrNotFound = errors.New("rbac: not found")

var (
	// ErrUserNotFound indicates the referenced user does not exist.
	ErrUserNotFound = fmt.Errorf("%w: user", ErrNotFound)
	// ErrRoleNotFound indicates the referenced role does not exist.
	ErrRoleNotFound = fmt.Errorf("%w: role", ErrNotFound)
	// ErrPermissionNotFound indicates the referenced permission does not exist.
	ErrPermissionNotFound = fmt.Errorf("%w: permission", ErrNotFound)
	// ErrMembershipNotFound indicates the user does not hold the role.
	ErrMembershipNotFound = fmt.Errorf("%w: role membership", ErrNotFound)
	// ErrDuplicate indicates a unique name or token is already taken.
	ErrDuplicate = errors.New("rbac: duplicate")
	// ErrConcurrentUpdate indicates another role update for the same user is in flight.
	ErrConcurrentUpdate = errors.New("rbac: concurrent role update")
)

// User is the identity graph node for an account.
type User struct {
	ID            int64
	ExternalToken string
	Name          string
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Role represents a high-level permission grouping.
type Role struct {
	ID          int64
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Permission represents an atomic capability.
type Permission struct {
	ID          int64
	Name        string
	Description string
}

// RoleGrants is a held role together with the permissions it grants.
type RoleGrants struct {
	Role
	Permissions []Permission
}

// UserGraph is a user loaded with its role memberships. Permissions on each
// role are only populated when the loader was asked for them.
type UserGraph struct {
	User  User
	Roles []RoleGrants
}

// RoleIDs returns the set of role ids the user currently holds.
func (g UserGraph) RoleIDs() IDSet {
	ids := make(IDSet, len(g.Roles))
	for _, r := range g.Roles {
		ids.Add(r.ID)
	}
	return ids
}

// HasRole reports whether any held role is named exactly roleName.
func (g UserGraph) HasRole(roleName string) bool {
	for _, r := range g.Roles {
		if r.Name == roleName {
			return true
		}
	}
	return false
}

// HasPermission reports whether any held role grants permissionName.
func (g UserGraph) HasPermission(permissionName string) bool {
	for _, r := range g.Roles {
		for _, p := range r.Permissions {
			if p.Name == permissionName {
				return true
			}
		}
	}
	return false
}
