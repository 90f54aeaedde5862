package roles

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-portal/internal/rbac"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListRoles returns all roles ordered by name.
func (r *Repository) ListRoles(ctx context.Context) ([]rbac.Role, error) {
	query, args, err := psql.Select("id", "name", "description", "created_at", "updated_at").
		From("roles").OrderBy("name").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("roles: list roles: %w", err)
	}
	defer rows.Close()
	var out []rbac.Role
	for rows.Next() {
		var role rbac.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

// CreateRole inserts a new role.
func (r *Repository) CreateRole(ctx context.Context, name, description string) (rbac.Role, error) {
	query, args, err := psql.Insert("roles").
		Columns("name", "description").Values(name, description).
		Suffix("RETURNING id, name, description, created_at, updated_at").ToSql()
	if err != nil {
		return rbac.Role{}, err
	}
	var role rbac.Role
	err = r.pool.QueryRow(ctx, query, args...).
		Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return rbac.Role{}, mapWriteError("create role", err)
	}
	return role, nil
}

// GetRole returns the role or rbac.ErrRoleNotFound.
func (r *Repository) GetRole(ctx context.Context, id int64) (rbac.Role, error) {
	query, args, err := psql.Select("id", "name", "description", "created_at", "updated_at").
		From("roles").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return rbac.Role{}, err
	}
	var role rbac.Role
	err = r.pool.QueryRow(ctx, query, args...).
		Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return rbac.Role{}, rbac.ErrRoleNotFound
	}
	return role, err
}

// ListPermissions returns all permissions ordered by name.
func (r *Repository) ListPermissions(ctx context.Context) ([]rbac.Permission, error) {
	return r.selectPermissions(ctx, psql.Select("id", "name", "description").From("permissions").OrderBy("name"))
}

// PermissionsForRole returns the permissions granted to roleID ordered by name.
func (r *Repository) PermissionsForRole(ctx context.Context, roleID int64) ([]rbac.Permission, error) {
	return r.selectPermissions(ctx, psql.Select("p.id", "p.name", "p.description").
		From("role_permissions rp").
		Join("permissions p ON p.id = rp.permission_id").
		Where(sq.Eq{"rp.role_id": roleID}).
		OrderBy("p.name"))
}

// GetPermission returns the permission or rbac.ErrPermissionNotFound.
func (r *Repository) GetPermission(ctx context.Context, id int64) (rbac.Permission, error) {
	query, args, err := psql.Select("id", "name", "description").
		From("permissions").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return rbac.Permission{}, err
	}
	var perm rbac.Permission
	err = r.pool.QueryRow(ctx, query, args...).Scan(&perm.ID, &perm.Name, &perm.Description)
	if errors.Is(err, pgx.ErrNoRows) {
		return rbac.Permission{}, rbac.ErrPermissionNotFound
	}
	return perm, err
}

// CreatePermission inserts a new permission.
func (r *Repository) CreatePermission(ctx context.Context, name, description string) (rbac.Permission, error) {
	query, args, err := psql.Insert("permissions").
		Columns("name", "description").Values(name, description).
		Suffix("RETURNING id, name, description").ToSql()
	if err != nil {
		return rbac.Permission{}, err
	}
	var perm rbac.Permission
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&perm.ID, &perm.Name, &perm.Description); err != nil {
		return rbac.Permission{}, mapWriteError("create permission", err)
	}
	return perm, nil
}

// GrantPermission links a permission to a role. It reports whether a new
// grant was written.
func (r *Repository) GrantPermission(ctx context.Context, roleID, permissionID int64) (bool, error) {
	query, args, err := psql.Insert("role_permissions").
		Columns("role_id", "permission_id").Values(roleID, permissionID).
		Suffix("ON CONFLICT (role_id, permission_id) DO NOTHING").ToSql()
	if err != nil {
		return false, err
	}
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			if pgErr.ConstraintName == "role_permissions_role_id_fkey" {
				return false, rbac.ErrRoleNotFound
			}
			return false, rbac.ErrPermissionNotFound
		}
		return false, fmt.Errorf("roles: grant permission: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RevokePermission unlinks a permission from a role. It reports whether a
// grant was removed.
func (r *Repository) RevokePermission(ctx context.Context, roleID, permissionID int64) (bool, error) {
	query, args, err := psql.Delete("role_permissions").
		Where(sq.Eq{"role_id": roleID, "permission_id": permissionID}).ToSql()
	if err != nil {
		return false, err
	}
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("roles: revoke permission: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) selectPermissions(ctx context.Context, b sq.SelectBuilder) ([]rbac.Permission, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("roles: list permissions: %w", err)
	}
	defer rows.Close()
	var out []rbac.Permission
	for rows.Next() {
		var p rbac.Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Description); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func mapWriteError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateName
	}
	return fmt.Errorf("roles: %s: %w", op, err)
}

var _ RepositoryPort = (*Repository)(nil)
