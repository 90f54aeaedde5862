// Package roles administers the role and permission catalog: the named
// entities and the role to permission grants between them.
package roles

import "errors"

// ErrDuplicateName is returned when a role or permission name is taken.
var ErrDuplicateName = errors.New("roles: duplicate name")

// CreateRoleInput is the payload for a new role.
type CreateRoleInput struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=500"`
}

// CreatePermissionInput is the payload for a new permission.
type CreatePermissionInput struct {
	Name        string `json:"name" validate:"required,max=150"`
	Description string `json:"description" validate:"max=500"`
}
