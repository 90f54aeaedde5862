package rbac

import "context"

// GraphReader loads identity graph fragments.
type GraphReader interface {
	// LoadUser returns the user with its roles, or ErrUserNotFound. When
	// withPermissions is set every role carries its granted permissions.
	LoadUser(ctx context.Context, userID int64, withPermissions bool) (UserGraph, error)
	// GetRole returns the role or ErrRoleNotFound.
	GetRole(ctx context.Context, roleID int64) (Role, error)
}

// GraphTx exposes the edge mutations available inside a unit of work. Its
// LoadUser also excludes other writers for that user until the unit ends.
type GraphTx interface {
	GraphReader
	// AddUserRole creates the membership edge. It reports false when the edge already existed.
	AddUserRole(ctx context.Context, userID, roleID int64) (bool, error)
	// RemoveUserRole deletes the membership edge. It reports false when there was nothing to delete.
	RemoveUserRole(ctx context.Context, userID, roleID int64) (bool, error)
}

// Graph is the identity graph store consumed by Service.
type Graph interface {
	GraphReader
	// WithTx runs fn in a single unit of work. Edge changes made through tx are
	// persisted only if fn returns nil.
	WithTx(ctx context.Context, fn func(context.Context, GraphTx) error) error
}
