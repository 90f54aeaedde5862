package roles

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-portal/internal/rbac"
)

// RepositoryPort defines data access methods for the role catalog.
type RepositoryPort interface {
	ListRoles(ctx context.Context) ([]rbac.Role, error)
	GetRole(ctx context.Context, id int64) (rbac.Role, error)
	CreateRole(ctx context.Context, name, description string) (rbac.Role, error)
	ListPermissions(ctx context.Context) ([]rbac.Permission, error)
	GetPermission(ctx context.Context, id int64) (rbac.Permission, error)
	PermissionsForRole(ctx context.Context, roleID int64) ([]rbac.Permission, error)
	CreatePermission(ctx context.Context, name, description string) (rbac.Permission, error)
	GrantPermission(ctx context.Context, roleID, permissionID int64) (bool, error)
	RevokePermission(ctx context.Context, roleID, permissionID int64) (bool, error)
}

// Service handles role catalog business logic.
type Service struct {
	repo     RepositoryPort
	validate *validator.Validate
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo, validate: validator.New()}
}

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context) ([]rbac.Role, error) {
	return s.repo.ListRoles(ctx)
}

// CreateRole validates and stores a role. Names are stored as given after
// trimming; matching elsewhere is exact.
func (s *Service) CreateRole(ctx context.Context, in CreateRoleInput) (rbac.Role, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	if err := s.validate.Struct(in); err != nil {
		return rbac.Role{}, fmt.Errorf("roles: invalid role: %w", err)
	}
	return s.repo.CreateRole(ctx, in.Name, in.Description)
}

// ListPermissions returns all permissions.
func (s *Service) ListPermissions(ctx context.Context) ([]rbac.Permission, error) {
	return s.repo.ListPermissions(ctx)
}

// CreatePermission validates and stores a permission.
func (s *Service) CreatePermission(ctx context.Context, in CreatePermissionInput) (rbac.Permission, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	if err := s.validate.Struct(in); err != nil {
		return rbac.Permission{}, fmt.Errorf("roles: invalid permission: %w", err)
	}
	return s.repo.CreatePermission(ctx, in.Name, in.Description)
}

// RolePermissions returns the grants of an existing role.
func (s *Service) RolePermissions(ctx context.Context, roleID int64) (rbac.RoleGrants, error) {
	role, err := s.repo.GetRole(ctx, roleID)
	if err != nil {
		return rbac.RoleGrants{}, err
	}
	perms, err := s.repo.PermissionsForRole(ctx, roleID)
	if err != nil {
		return rbac.RoleGrants{}, err
	}
	return rbac.RoleGrants{Role: role, Permissions: perms}, nil
}

// GrantPermission links a permission to a role and reports whether a new
// grant was written. Granting twice is a no-op.
func (s *Service) GrantPermission(ctx context.Context, roleID, permissionID int64) (bool, error) {
	return s.repo.GrantPermission(ctx, roleID, permissionID)
}

// RevokePermission unlinks a permission from a role and reports whether a
// grant was removed. Revoking an absent grant is a no-op, but the role and
// permission must exist.
func (s *Service) RevokePermission(ctx context.Context, roleID, permissionID int64) (bool, error) {
	removed, err := s.repo.RevokePermission(ctx, roleID, permissionID)
	if err != nil || removed {
		return removed, err
	}
	if _, err := s.repo.GetRole(ctx, roleID); err != nil {
		return false, err
	}
	if _, err := s.repo.GetPermission(ctx, permissionID); err != nil {
		return false, err
	}
	return false, nil
}
