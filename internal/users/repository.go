package users

import (
	"context"
	"errors"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

var (
	psql        = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	userColumns = []string{"id", "external_token", "name", "is_active", "created_at", "updated_at"}
	returnUser  = "RETURNING id, external_token, name, is_active, created_at, updated_at"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListUsers returns one page of users ordered by id and the total count.
func (r *Repository) ListUsers(ctx context.Context, limit, offset int) ([]User, int, error) {
	query, args, err := psql.Select("COUNT(*)").From("users").ToSql()
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query, args, err = listUsersQuery(limit, offset).ToSql()
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	users := make([]User, 0, limit)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// GetByID fetches a user by internal id.
func (r *Repository) GetByID(ctx context.Context, id int64) (User, error) {
	return r.queryOne(ctx, selectUsers().Where(sq.Eq{"id": id}))
}

// GetByExternalToken fetches a user by external identity token.
func (r *Repository) GetByExternalToken(ctx context.Context, token string) (User, error) {
	return r.queryOne(ctx, selectUsers().Where(sq.Eq{"external_token": token}))
}

// Create inserts an active user.
func (r *Repository) Create(ctx context.Context, token, name string) (User, error) {
	user, err := r.queryOne(ctx, createUserQuery(token, name))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return User{}, ErrDuplicateToken
		}
		return User{}, err
	}
	return user, nil
}

// UpdateName changes the display name.
func (r *Repository) UpdateName(ctx context.Context, id int64, name string) (User, error) {
	return r.queryOne(ctx, psql.Update("users").
		Set("name", name).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": id}).
		Suffix(returnUser))
}

// SetActive flips the active flag.
func (r *Repository) SetActive(ctx context.Context, id int64, active bool) error {
	query, args, err := setActiveQuery(id, active).ToSql()
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func selectUsers() sq.SelectBuilder {
	return psql.Select(userColumns...).From("users")
}

func listUsersQuery(limit, offset int) sq.SelectBuilder {
	return selectUsers().OrderBy("id").Limit(uint64(limit)).Offset(uint64(offset))
}

func createUserQuery(token, name string) sq.InsertBuilder {
	return psql.Insert("users").
		Columns("external_token", "name", "is_active", "created_at", "updated_at").
		Values(token, name, true, sq.Expr("NOW()"), sq.Expr("NOW()")).
		Suffix(returnUser)
}

func setActiveQuery(id int64, active bool) sq.UpdateBuilder {
	return psql.Update("users").
		Set("is_active", active).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": id})
}

func (r *Repository) queryOne(ctx context.Context, b sq.Sqlizer) (User, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return User{}, err
	}
	return scanOne(r.pool.QueryRow(ctx, query, args...))
}

func scanOne(row pgx.Row) (User, error) {
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return user, nil
}

func scanUser(row pgx.Row) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.ExternalToken, &user.Name, &user.IsActive, &user.CreatedAt, &user.UpdatedAt)
	return user, err
}

var _ RepositoryPort = (*Repository)(nil)
