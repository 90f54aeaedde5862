package shared

// Core portal permissions. Routes guard on these through the
// Require<Permission>Permission policy convention.
const (
	PermViewUsers   = "ViewUsers"
	PermManageUsers = "ManageUsers"

	PermViewRoles   = "ViewRoles"
	PermManageRoles = "ManageRoles"

	PermViewPermissions = "ViewPermissions"
)

// CoreScopes lists all permissions related to the core platform.
func CoreScopes() []string {
	return []string{
		PermViewUsers,
		PermManageUsers,
		PermViewRoles,
		PermManageRoles,
		PermViewPermissions,
	}
}
