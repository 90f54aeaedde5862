// Package policy turns policy names into requirements and evaluates them
// against an authenticated principal.
package policy

// Requirement is one condition a policy places on the caller.
type Requirement interface {
	String() string
}

// PermissionRequirement demands that the caller holds a permission. The name
// is carried exactly as written in the policy name.
type PermissionRequirement struct {
	Permission string
}

// NewPermissionRequirement returns a requirement for permission.
func NewPermissionRequirement(permission string) PermissionRequirement {
	return PermissionRequirement{Permission: permission}
}

func (r PermissionRequirement) String() string {
	return "permission:" + r.Permission
}

// AuthenticatedRequirement demands an authenticated caller and nothing more.
type AuthenticatedRequirement struct{}

func (AuthenticatedRequirement) String() string {
	return "authenticated"
}

// Policy is a named set of requirements. Every requirement must succeed.
type Policy struct {
	Name         string
	Requirements []Requirement
}
