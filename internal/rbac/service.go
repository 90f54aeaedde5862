package rbac

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ServiceConfig carries the optional collaborators of Service.
type ServiceConfig struct {
	// Locker serialises role updates per user. Nil disables locking and
	// concurrent updates for one user become last-writer-wins.
	Locker Locker
	// Publisher receives membership events after commit. Nil drops them.
	Publisher EventPublisher
	Logger    *slog.Logger
	// CheckConcurrency bounds CheckPermissions fan-out. Defaults to 4.
	CheckConcurrency int
}

// Service answers membership questions and mutates the user to role edge set.
// It holds no per-user state: every check walks the graph again.
type Service struct {
	graph     Graph
	locker    Locker
	publisher EventPublisher
	logger    *slog.Logger
	fanout    int
	now       func() time.Time
}

// NewService constructs a Service over the provided graph.
func NewService(graph Graph, cfg ServiceConfig) *Service {
	s := &Service{
		graph:     graph,
		locker:    cfg.Locker,
		publisher: cfg.Publisher,
		logger:    cfg.Logger,
		fanout:    cfg.CheckConcurrency,
		now:       time.Now,
	}
	if s.locker == nil {
		s.locker = noopLocker{}
	}
	if s.publisher == nil {
		s.publisher = noopPublisher{}
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.fanout <= 0 {
		s.fanout = 4
	}
	return s
}

// UserHasRole reports whether the user holds a role named exactly roleName.
// An unknown user holds nothing.
func (s *Service) UserHasRole(ctx context.Context, userID int64, roleName string) (bool, error) {
	graph, err := s.graph.LoadUser(ctx, userID, false)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("rbac: load user roles: %w", err)
	}
	return graph.HasRole(roleName), nil
}

// UserHasPermission reports whether any role held by the user grants
// permissionName. An unknown user holds nothing.
func (s *Service) UserHasPermission(ctx context.Context, userID int64, permissionName string) (bool, error) {
	graph, err := s.graph.LoadUser(ctx, userID, true)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("rbac: load user permissions: %w", err)
	}
	return graph.HasPermission(permissionName), nil
}

// AssignRole grants roleID to the user. Assigning a held role is a no-op.
func (s *Service) AssignRole(ctx context.Context, userID, roleID int64) error {
	unlock, err := s.locker.Lock(ctx, userID)
	if err != nil {
		return err
	}
	defer unlock()

	var created bool
	err = s.graph.WithTx(ctx, func(ctx context.Context, tx GraphTx) error {
		graph, err := tx.LoadUser(ctx, userID, false)
		if err != nil {
			return err
		}
		if _, err := tx.GetRole(ctx, roleID); err != nil {
			return err
		}
		if graph.RoleIDs().Has(roleID) {
			return nil
		}
		created, err = tx.AddUserRole(ctx, userID, roleID)
		return err
	})
	if err != nil {
		return fmt.Errorf("rbac: assign role: %w", err)
	}
	if created {
		s.publish(ctx, userID, []int64{roleID}, nil)
	}
	return nil
}

// RemoveRole revokes roleID from the user. Removing a role the user does not
// hold fails with ErrMembershipNotFound.
func (s *Service) RemoveRole(ctx context.Context, userID, roleID int64) error {
	unlock, err := s.locker.Lock(ctx, userID)
	if err != nil {
		return err
	}
	defer unlock()

	err = s.graph.WithTx(ctx, func(ctx context.Context, tx GraphTx) error {
		if _, err := tx.LoadUser(ctx, userID, false); err != nil {
			return err
		}
		removed, err := tx.RemoveUserRole(ctx, userID, roleID)
		if err != nil {
			return err
		}
		if !removed {
			return ErrMembershipNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("rbac: remove role: %w", err)
	}
	s.publish(ctx, userID, nil, []int64{roleID})
	return nil
}

// SynchronizeRoles makes the user's role set equal to desired. Duplicate ids
// are ignored. When nothing differs storage is not touched; otherwise every
// add and remove commits together or not at all.
func (s *Service) SynchronizeRoles(ctx context.Context, userID int64, desired []int64) error {
	unlock, err := s.locker.Lock(ctx, userID)
	if err != nil {
		return err
	}
	defer unlock()

	want := NewIDSet(desired...)
	graph, err := s.graph.LoadUser(ctx, userID, false)
	if err != nil {
		return fmt.Errorf("rbac: synchronize roles: %w", err)
	}
	if want.Equal(graph.RoleIDs()) {
		return nil
	}

	// The diff is recomputed inside the unit of work: the read above may be
	// stale by the time the transaction starts.
	var toAdd, toRemove []int64
	err = s.graph.WithTx(ctx, func(ctx context.Context, tx GraphTx) error {
		graph, err := tx.LoadUser(ctx, userID, false)
		if err != nil {
			return err
		}
		current := graph.RoleIDs()
		toAdd = want.Difference(current).Sorted()
		toRemove = current.Difference(want).Sorted()
		for _, roleID := range toAdd {
			if _, err := tx.GetRole(ctx, roleID); err != nil {
				return err
			}
			if _, err := tx.AddUserRole(ctx, userID, roleID); err != nil {
				return err
			}
		}
		for _, roleID := range toRemove {
			if _, err := tx.RemoveUserRole(ctx, userID, roleID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("rbac: synchronize roles: %w", err)
	}
	if len(toAdd) == 0 && len(toRemove) == 0 {
		return nil
	}
	s.logger.InfoContext(ctx, "roles synchronized",
		slog.Int64("user_id", userID),
		slog.Int("added", len(toAdd)),
		slog.Int("removed", len(toRemove)),
	)
	s.publish(ctx, userID, toAdd, toRemove)
	return nil
}

// RolesForUser returns the held roles ordered by name, each with its granted
// permissions ordered by name.
func (s *Service) RolesForUser(ctx context.Context, userID int64) ([]RoleGrants, error) {
	graph, err := s.graph.LoadUser(ctx, userID, true)
	if err != nil {
		return nil, fmt.Errorf("rbac: roles for user: %w", err)
	}
	roles := make([]RoleGrants, len(graph.Roles))
	copy(roles, graph.Roles)
	slices.SortFunc(roles, func(a, b RoleGrants) int {
		return strings.Compare(a.Name, b.Name)
	})
	for i := range roles {
		perms := slices.Clone(roles[i].Permissions)
		slices.SortFunc(perms, func(a, b Permission) int {
			return strings.Compare(a.Name, b.Name)
		})
		roles[i].Permissions = perms
	}
	return roles, nil
}

// EffectivePermissions returns the sorted, deduplicated permission names the
// user holds through any role. An unknown user has none.
func (s *Service) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	graph, err := s.graph.LoadUser(ctx, userID, true)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("rbac: effective permissions: %w", err)
	}
	seen := make(map[string]struct{})
	perms := make([]string, 0)
	for _, r := range graph.Roles {
		for _, p := range r.Permissions {
			if _, ok := seen[p.Name]; ok {
				continue
			}
			seen[p.Name] = struct{}{}
			perms = append(perms, p.Name)
		}
	}
	slices.Sort(perms)
	return perms, nil
}

// CheckPermissions answers UserHasPermission for each name concurrently.
func (s *Service) CheckPermissions(ctx context.Context, userID int64, names []string) (map[string]bool, error) {
	var mu sync.Mutex
	results := make(map[string]bool, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fanout)
	for _, name := range names {
		g.Go(func() error {
			ok, err := s.UserHasPermission(gctx, userID, name)
			if err != nil {
				return err
			}
			mu.Lock()
			results[name] = ok
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) publish(ctx context.Context, userID int64, added, removed []int64) {
	evt := RoleMembershipChanged{
		EventID: uuid.NewString(),
		UserID:  userID,
		Added:   added,
		Removed: removed,
		At:      s.now().UTC(),
	}
	if err := s.publisher.PublishRoleMembershipChanged(ctx, evt); err != nil {
		s.logger.WarnContext(ctx, "publish role membership change",
			slog.Int64("user_id", userID),
			slog.Any("error", err),
		)
	}
}
