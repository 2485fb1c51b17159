package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/jwalitptl/projecthub/internal/document"
	"github.com/jwalitptl/projecthub/internal/model"
	"github.com/jwalitptl/projecthub/internal/repository"
	"github.com/jwalitptl/projecthub/internal/service/cache"
	apperrors "github.com/jwalitptl/projecthub/pkg/errors"
)

type UserServicer interface {
	List(ctx context.Context, filters *Filters) ([]model.User, error)
	Get(ctx context.Context, id string) (*model.User, error)
	Create(ctx context.Context, u *model.User) (*model.User, error)
	Update(ctx context.Context, id string, u *model.UserUpdate) (*model.User, error)
	Delete(ctx context.Context, id string) error
	Stats(ctx context.Context) (*Stats, error)
}

// Filters narrows List. Empty fields do not filter.
type Filters struct {
	Role       model.UserRole   `form:"role"`
	Status     model.UserStatus `form:"status"`
	Department string           `form:"department"`
}

func (f *Filters) documentFilters() []document.Filter {
	if f == nil {
		return nil
	}
	var out []document.Filter
	if f.Role != "" {
		out = append(out, document.Where("role", document.OpEqual, string(f.Role)))
	}
	if f.Status != "" {
		out = append(out, document.Where("status", document.OpEqual, string(f.Status)))
	}
	if f.Department != "" {
		out = append(out, document.Where("department", document.OpEqual, f.Department))
	}
	return out
}

func (f *Filters) key() string {
	if f == nil {
		return "list"
	}
	return fmt.Sprintf("list:%s|%s|%s", f.Role, f.Status, f.Department)
}

type Stats struct {
	Total    int            `json:"total"`
	ByRole   map[string]int `json:"byRole"`
	ByStatus map[string]int `json:"byStatus"`
}

type Service struct {
	repo  repository.UserRepository
	cache *cache.Store
}

func NewService(repo repository.UserRepository, c *cache.Store) *Service {
	if c == nil {
		c = cache.New(model.UsersCollection, cache.DefaultConfig(), nil)
	}
	return &Service{repo: repo, cache: c}
}

var byName = &repository.QueryOptions{
	OrderBy: &document.OrderBy{Field: "name", Direction: document.Asc},
}

func (s *Service) List(ctx context.Context, filters *Filters) ([]model.User, error) {
	key := filters.key()
	if users, ok := cache.Get[[]model.User](s.cache, key); ok {
		return users, nil
	}
	gen := s.cache.Generation()
	users, err := s.repo.FindWhere(ctx, filters.documentFilters(), byName)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	s.cache.SetIfCurrent(gen, key, users)
	return users, nil
}

func (s *Service) Get(ctx context.Context, id string) (*model.User, error) {
	key := "id:" + id
	if u, ok := cache.Get[model.User](s.cache, key); ok {
		return &u, nil
	}
	gen := s.cache.Generation()
	u, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if u == nil {
		return nil, apperrors.NotFound("user", nil)
	}
	s.cache.SetIfCurrent(gen, key, *u)
	return u, nil
}

// Create stores u. Email addresses are unique, compared case-insensitively.
func (s *Service) Create(ctx context.Context, u *model.User) (*model.User, error) {
	if u.Status == "" {
		u.Status = model.UserStatusPending
	}
	if u.Role == "" {
		u.Role = model.RoleViewer
	}
	u.Email = model.NormalizeEmail(u.Email)
	if err := u.Validate(); err != nil {
		return nil, err
	}
	if err := s.ensureEmailFree(ctx, u.Email, ""); err != nil {
		return nil, err
	}

	id, err := s.repo.Create(ctx, *u)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	s.cache.Flush()
	return s.Get(ctx, id)
}

func (s *Service) ensureEmailFree(ctx context.Context, email, selfID string) error {
	taken, err := s.repo.FindWhere(ctx, []document.Filter{
		document.Where("email", document.OpEqual, model.NormalizeEmail(email)),
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to check email: %w", err)
	}
	for _, other := range taken {
		if other.ID != selfID {
			return apperrors.Conflict(fmt.Sprintf("email %s is already registered", email), nil)
		}
	}
	return nil
}

func (s *Service) Update(ctx context.Context, id string, u *model.UserUpdate) (*model.User, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}
	if u.Email != nil {
		if err := s.ensureEmailFree(ctx, *u.Email, id); err != nil {
			return nil, err
		}
	}
	fields := u.Fields()
	if len(fields) > 0 {
		err := s.repo.Update(ctx, id, fields)
		s.cache.Flush()
		if errors.Is(err, document.ErrNoDocument) {
			return nil, apperrors.NotFound("user", err)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to update user: %w", err)
		}
	}
	return s.Get(ctx, id)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.repo.Delete(ctx, id)
	s.cache.Flush()
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return nil
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	users, err := s.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	stats := &Stats{
		Total:    len(users),
		ByRole:   make(map[string]int),
		ByStatus: make(map[string]int),
	}
	for _, u := range users {
		stats.ByRole[string(u.Role)]++
		stats.ByStatus[string(u.Status)]++
	}
	return stats, nil
}
