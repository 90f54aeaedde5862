package rbac

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-process identity graph. Users, roles and permissions
// live in id-keyed arenas and both join relations are adjacency sets.
type MemoryStore struct {
	mu sync.RWMutex

	users       map[int64]User
	roles       map[int64]Role
	permissions map[int64]Permission
	userRoles   map[int64]IDSet
	rolePerms   map[int64]IDSet

	nextID int64
	writes int
	now    func() time.Time
}

// NewMemoryStore returns an empty graph.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[int64]User),
		roles:       make(map[int64]Role),
		permissions: make(map[int64]Permission),
		userRoles:   make(map[int64]IDSet),
		rolePerms:   make(map[int64]IDSet),
		now:         time.Now,
	}
}

// AddUser inserts a user. A zero ID is replaced with the next free id.
func (m *MemoryStore) AddUser(u User) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if u.ExternalToken != "" && existing.ExternalToken == u.ExternalToken {
			return User{}, fmt.Errorf("%w: external token %q", ErrDuplicate, u.ExternalToken)
		}
	}
	if u.ID == 0 {
		u.ID = m.allocID()
	} else if _, ok := m.users[u.ID]; ok {
		return User{}, fmt.Errorf("%w: user id %d", ErrDuplicate, u.ID)
	} else if u.ID > m.nextID {
		m.nextID = u.ID
	}
	now := m.now()
	u.CreatedAt, u.UpdatedAt = now, now
	m.users[u.ID] = u
	return u, nil
}

// AddRole inserts a role with a unique name.
func (m *MemoryStore) AddRole(name, description string) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.roles {
		if existing.Name == name {
			return Role{}, fmt.Errorf("%w: role %q", ErrDuplicate, name)
		}
	}
	now := m.now()
	role := Role{ID: m.allocID(), Name: name, Description: description, CreatedAt: now, UpdatedAt: now}
	m.roles[role.ID] = role
	return role, nil
}

// AddPermission inserts a permission with a unique name.
func (m *MemoryStore) AddPermission(name, description string) (Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.permissions {
		if existing.Name == name {
			return Permission{}, fmt.Errorf("%w: permission %q", ErrDuplicate, name)
		}
	}
	perm := Permission{ID: m.allocID(), Name: name, Description: description}
	m.permissions[perm.ID] = perm
	return perm, nil
}

// Grant attaches a permission to a role. Granting twice keeps a single edge.
func (m *MemoryStore) Grant(roleID, permissionID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[roleID]; !ok {
		return ErrRoleNotFound
	}
	if _, ok := m.permissions[permissionID]; !ok {
		return ErrPermissionNotFound
	}
	edges, ok := m.rolePerms[roleID]
	if !ok {
		edges = make(IDSet)
		m.rolePerms[roleID] = edges
	}
	edges.Add(permissionID)
	return nil
}

// Revoke detaches a permission from a role.
func (m *MemoryStore) Revoke(roleID, permissionID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rolePerms[roleID], permissionID)
}

// FindUserByExternalToken returns the user linked to token.
func (m *MemoryStore) FindUserByExternalToken(ctx context.Context, token string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.ExternalToken == token {
			return u, nil
		}
	}
	return User{}, ErrUserNotFound
}

// FindUserByID returns the user with id.
func (m *MemoryStore) FindUserByID(ctx context.Context, id int64) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

// Writes returns the number of membership edges created or deleted so far.
func (m *MemoryStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// LoadUser implements GraphReader.
func (m *MemoryStore) LoadUser(ctx context.Context, userID int64, withPermissions bool) (UserGraph, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadUser(userID, withPermissions)
}

// GetRole implements GraphReader.
func (m *MemoryStore) GetRole(ctx context.Context, roleID int64) (Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getRole(roleID)
}

// WithTx runs fn under the store's write lock. Edge changes are undone when fn
// fails or panics; a panic is re-raised after the rollback.
func (m *MemoryStore) WithTx(ctx context.Context, fn func(context.Context, GraphTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memTx{store: m}
	committed := false
	defer func() {
		if !committed {
			tx.rollback()
		}
	}()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	committed = true
	m.writes += len(tx.undo)
	return nil
}

func (m *MemoryStore) allocID() int64 {
	m.nextID++
	return m.nextID
}

func (m *MemoryStore) loadUser(userID int64, withPermissions bool) (UserGraph, error) {
	u, ok := m.users[userID]
	if !ok {
		return UserGraph{}, ErrUserNotFound
	}
	graph := UserGraph{User: u}
	for _, roleID := range m.userRoles[userID].Sorted() {
		role, ok := m.roles[roleID]
		if !ok {
			continue
		}
		grants := RoleGrants{Role: role}
		if withPermissions {
			for _, permID := range m.rolePerms[roleID].Sorted() {
				if perm, ok := m.permissions[permID]; ok {
					grants.Permissions = append(grants.Permissions, perm)
				}
			}
		}
		graph.Roles = append(graph.Roles, grants)
	}
	return graph, nil
}

func (m *MemoryStore) getRole(roleID int64) (Role, error) {
	role, ok := m.roles[roleID]
	if !ok {
		return Role{}, ErrRoleNotFound
	}
	return role, nil
}

type memEdgeChange struct {
	userID, roleID int64
	added          bool
}

// memTx mutates the store directly while holding its lock and keeps an undo log.
type memTx struct {
	store *MemoryStore
	undo  []memEdgeChange
}

func (t *memTx) LoadUser(ctx context.Context, userID int64, withPermissions bool) (UserGraph, error) {
	return t.store.loadUser(userID, withPermissions)
}

func (t *memTx) GetRole(ctx context.Context, roleID int64) (Role, error) {
	return t.store.getRole(roleID)
}

func (t *memTx) AddUserRole(ctx context.Context, userID, roleID int64) (bool, error) {
	if _, ok := t.store.users[userID]; !ok {
		return false, ErrUserNotFound
	}
	if _, ok := t.store.roles[roleID]; !ok {
		return false, ErrRoleNotFound
	}
	edges, ok := t.store.userRoles[userID]
	if !ok {
		edges = make(IDSet)
		t.store.userRoles[userID] = edges
	}
	if edges.Has(roleID) {
		return false, nil
	}
	edges.Add(roleID)
	t.undo = append(t.undo, memEdgeChange{userID: userID, roleID: roleID, added: true})
	return true, nil
}

func (t *memTx) RemoveUserRole(ctx context.Context, userID, roleID int64) (bool, error) {
	edges := t.store.userRoles[userID]
	if !edges.Has(roleID) {
		return false, nil
	}
	delete(edges, roleID)
	t.undo = append(t.undo, memEdgeChange{userID: userID, roleID: roleID})
	return true, nil
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		change := t.undo[i]
		if change.added {
			delete(t.store.userRoles[change.userID], change.roleID)
			continue
		}
		edges, ok := t.store.userRoles[change.userID]
		if !ok {
			edges = make(IDSet)
			t.store.userRoles[change.userID] = edges
		}
		edges.Add(change.roleID)
	}
	t.undo = nil
}

var _ Graph = (*MemoryStore)(nil)
