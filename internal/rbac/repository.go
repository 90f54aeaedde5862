package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-portal/internal/platform/db"
)

const (
	pgForeignKeyViolation = "23503"
	userRolesUserFK       = "user_roles_user_id_fkey"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides the PostgreSQL backed identity graph.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LoadUser implements GraphReader.
func (r *Repository) LoadUser(ctx context.Context, userID int64, withPermissions bool) (UserGraph, error) {
	return loadUser(ctx, r.pool, userID, withPermissions)
}

// GetRole implements GraphReader.
func (r *Repository) GetRole(ctx context.Context, roleID int64) (Role, error) {
	return getRole(ctx, r.pool, roleID)
}

// WithTx wraps fn in a read-committed transaction. Writers serialise on the
// user row locked by the transaction's LoadUser, and every statement after
// the lock reads the latest committed edges.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, GraphTx) error) error {
	return db.WithTxIso(ctx, r.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx})
	})
}

type pgTx struct {
	tx pgx.Tx
}

// LoadUser locks the user row FOR UPDATE before reading the graph.
func (t *pgTx) LoadUser(ctx context.Context, userID int64, withPermissions bool) (UserGraph, error) {
	query, args, err := psql.Select("id").
		From("users").
		Where(sq.Eq{"id": userID}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return UserGraph{}, err
	}
	var id int64
	if err := t.tx.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserGraph{}, ErrUserNotFound
		}
		return UserGraph{}, fmt.Errorf("lock user: %w", err)
	}
	return loadUser(ctx, t.tx, userID, withPermissions)
}

func (t *pgTx) GetRole(ctx context.Context, roleID int64) (Role, error) {
	return getRole(ctx, t.tx, roleID)
}

func (t *pgTx) AddUserRole(ctx context.Context, userID, roleID int64) (bool, error) {
	query, args, err := psql.Insert("user_roles").
		Columns("user_id", "role_id", "created_at").
		Values(userID, roleID, time.Now().UTC()).
		Suffix("ON CONFLICT (user_id, role_id) DO NOTHING").
		ToSql()
	if err != nil {
		return false, err
	}
	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			if pgErr.ConstraintName == userRolesUserFK {
				return false, ErrUserNotFound
			}
			return false, ErrRoleNotFound
		}
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) RemoveUserRole(ctx context.Context, userID, roleID int64) (bool, error) {
	query, args, err := psql.Delete("user_roles").
		Where(sq.Eq{"user_id": userID, "role_id": roleID}).
		ToSql()
	if err != nil {
		return false, err
	}
	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func loadUser(ctx context.Context, q dbtx, userID int64, withPermissions bool) (UserGraph, error) {
	query, args, err := psql.Select("id", "external_token", "name", "is_active", "created_at", "updated_at").
		From("users").
		Where(sq.Eq{"id": userID}).
		ToSql()
	if err != nil {
		return UserGraph{}, err
	}
	var graph UserGraph
	u := &graph.User
	if err := q.QueryRow(ctx, query, args...).Scan(&u.ID, &u.ExternalToken, &u.Name, &u.IsActive, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserGraph{}, ErrUserNotFound
		}
		return UserGraph{}, fmt.Errorf("select user: %w", err)
	}

	query, args, err = psql.Select("r.id", "r.name", "r.description", "r.created_at", "r.updated_at").
		From("roles r").
		Join("user_roles ur ON ur.role_id = r.id").
		Where(sq.Eq{"ur.user_id": userID}).
		OrderBy("r.name").
		ToSql()
	if err != nil {
		return UserGraph{}, err
	}
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return UserGraph{}, fmt.Errorf("select user roles: %w", err)
	}
	defer rows.Close()
	index := make(map[int64]int)
	for rows.Next() {
		var role RoleGrants
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return UserGraph{}, err
		}
		index[role.ID] = len(graph.Roles)
		graph.Roles = append(graph.Roles, role)
	}
	if err := rows.Err(); err != nil {
		return UserGraph{}, err
	}
	rows.Close()

	if !withPermissions || len(graph.Roles) == 0 {
		return graph, nil
	}
	roleIDs := make([]int64, 0, len(graph.Roles))
	for _, role := range graph.Roles {
		roleIDs = append(roleIDs, role.ID)
	}
	query, args, err = psql.Select("rp.role_id", "p.id", "p.name", "p.description").
		From("role_permissions rp").
		Join("permissions p ON p.id = rp.permission_id").
		Where(sq.Eq{"rp.role_id": roleIDs}).
		OrderBy("p.name").
		ToSql()
	if err != nil {
		return UserGraph{}, err
	}
	permRows, err := q.Query(ctx, query, args...)
	if err != nil {
		return UserGraph{}, fmt.Errorf("select role permissions: %w", err)
	}
	defer permRows.Close()
	for permRows.Next() {
		var roleID int64
		var perm Permission
		if err := permRows.Scan(&roleID, &perm.ID, &perm.Name, &perm.Description); err != nil {
			return UserGraph{}, err
		}
		if i, ok := index[roleID]; ok {
			graph.Roles[i].Permissions = append(graph.Roles[i].Permissions, perm)
		}
	}
	if err := permRows.Err(); err != nil {
		return UserGraph{}, err
	}
	return graph, nil
}

func getRole(ctx context.Context, q dbtx, roleID int64) (Role, error) {
	query, args, err := psql.Select("id", "name", "description", "created_at", "updated_at").
		From("roles").
		Where(sq.Eq{"id": roleID}).
		ToSql()
	if err != nil {
		return Role{}, err
	}
	var role Role
	if err := q.QueryRow(ctx, query, args...).Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrRoleNotFound
		}
		return Role{}, fmt.Errorf("select role: %w", err)
	}
	return role, nil
}

var _ Graph = (*Repository)(nil)
