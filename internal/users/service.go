package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"

	"github.com/odyssey-erp/odyssey-portal/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListUsers(ctx context.Context, limit, offset int) ([]User, int, error)
	GetByID(ctx context.Context, id int64) (User, error)
	GetByExternalToken(ctx context.Context, token string) (User, error)
	Create(ctx context.Context, token, name string) (User, error)
	UpdateName(ctx context.Context, id int64, name string) (User, error)
	SetActive(ctx context.Context, id int64, active bool) error
}

// Service handles user business logic.
type Service struct {
	repo     RepositoryPort
	validate *validator.Validate
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo, validate: validator.New()}
}

// ListUsers returns one page of users.
func (s *Service) ListUsers(ctx context.Context, page shared.PageRequest) ([]User, shared.Pagination, error) {
	users, total, err := s.repo.ListUsers(ctx, page.Limit(), page.Offset())
	if err != nil {
		return nil, shared.Pagination{}, fmt.Errorf("users: list: %w", err)
	}
	return users, shared.NewPagination(page, total), nil
}

// FindByID returns the user or ErrNotFound.
func (s *Service) FindByID(ctx context.Context, id int64) (User, error) {
	return s.repo.GetByID(ctx, id)
}

// FindByExternalToken returns the user linked to token or ErrNotFound.
func (s *Service) FindByExternalToken(ctx context.Context, token string) (User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return User{}, ErrNotFound
	}
	return s.repo.GetByExternalToken(ctx, token)
}

// Provision returns the user linked to the external token, creating it on
// first sight. A changed display name is written back. The bool reports
// whether the user was created.
func (s *Service) Provision(ctx context.Context, in ProvisionInput) (User, bool, error) {
	in.ExternalToken = strings.TrimSpace(in.ExternalToken)
	in.Name = normalizeName(in.Name)
	if err := s.validate.Struct(in); err != nil {
		return User{}, false, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	existing, err := s.repo.GetByExternalToken(ctx, in.ExternalToken)
	switch {
	case err == nil:
		if in.Name != "" && in.Name != existing.Name {
			updated, err := s.repo.UpdateName(ctx, existing.ID, in.Name)
			if err != nil {
				return User{}, false, fmt.Errorf("users: update name: %w", err)
			}
			return updated, false, nil
		}
		return existing, false, nil
	case !errors.Is(err, ErrNotFound):
		return User{}, false, fmt.Errorf("users: lookup external token: %w", err)
	}

	created, err := s.repo.Create(ctx, in.ExternalToken, in.Name)
	if errors.Is(err, ErrDuplicateToken) {
		// Lost a race with a concurrent first login for the same token.
		existing, err := s.repo.GetByExternalToken(ctx, in.ExternalToken)
		return existing, false, err
	}
	if err != nil {
		return User{}, false, fmt.Errorf("users: create: %w", err)
	}
	return created, true, nil
}

// Rename changes the display name.
func (s *Service) Rename(ctx context.Context, id int64, name string) (User, error) {
	name = normalizeName(name)
	if name == "" {
		return User{}, fmt.Errorf("%w: name required", ErrInvalidInput)
	}
	return s.repo.UpdateName(ctx, id, name)
}

// Deactivate marks the user inactive. Users are never deleted.
func (s *Service) Deactivate(ctx context.Context, id int64) error {
	return s.repo.SetActive(ctx, id, false)
}

func normalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}
