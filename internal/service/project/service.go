package project

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jwalitptl/projecthub/internal/document"
	"github.com/jwalitptl/projecthub/internal/model"
	"github.com/jwalitptl/projecthub/internal/repository"
	"github.com/jwalitptl/projecthub/internal/service/cache"
	apperrors "github.com/jwalitptl/projecthub/pkg/errors"
)

const keyAll = "all"

// ProjectServicer is what the project handler needs.
type ProjectServicer interface {
	List(ctx context.Context) ([]model.Project, error)
	Get(ctx context.Context, id string) (*model.Project, error)
	Create(ctx context.Context, p *model.Project) (*model.Project, error)
	Update(ctx context.Context, id string, u *model.ProjectUpdate) (*model.Project, error)
	Delete(ctx context.Context, id string) error
	ListByStatus(ctx context.Context, status model.ProjectStatus) ([]model.Project, error)
	ListActive(ctx context.Context) ([]model.Project, error)
	ListByManager(ctx context.Context, managerID string) ([]model.Project, error)
	Overdue(ctx context.Context) ([]model.Project, error)
	UpdateProgress(ctx context.Context, id string, progress int) (*model.Project, error)
	UpdateStatus(ctx context.Context, id string, status model.ProjectStatus) (*model.Project, error)
	AddTeamMember(ctx context.Context, id string, member model.TeamMember) (*model.Project, error)
	RemoveTeamMember(ctx context.Context, id, userID string) (*model.Project, error)
	Search(ctx context.Context, term string) ([]model.Project, error)
	Stats(ctx context.Context) (*Stats, error)
	Paginate(ctx context.Context, filters []document.Filter, opts repository.PaginationOptions) (*repository.PaginatedResult[model.Project], error)
	Page(ctx context.Context, filters []document.Filter, req repository.PageRequest) (*repository.Page[model.Project], error)
	Subscribe(ctx context.Context, filters []document.Filter, opts *repository.QueryOptions, onData func([]model.Project), onError func(error)) (repository.Unsubscribe, error)
}

type Stats struct {
	Total           int     `json:"total"`
	Active          int     `json:"active"`
	Completed       int     `json:"completed"`
	OnHold          int     `json:"onHold"`
	Cancelled       int     `json:"cancelled"`
	Overdue         int     `json:"overdue"`
	TotalBudget     float64 `json:"totalBudget"`
	AverageProgress float64 `json:"averageProgress"`
}

type Service struct {
	repo  repository.ProjectRepository
	cache *cache.Store
	now   func() time.Time
}

func NewService(repo repository.ProjectRepository, c *cache.Store) *Service {
	if c == nil {
		c = cache.New(model.ProjectsCollection, cache.DefaultConfig(), nil)
	}
	return &Service{repo: repo, cache: c, now: time.Now}
}

var newestFirst = &repository.QueryOptions{
	OrderBy: &document.OrderBy{Field: document.FieldCreatedAt, Direction: document.Desc},
}

// List returns every project, newest first.
func (s *Service) List(ctx context.Context) ([]model.Project, error) {
	return s.cachedWhere(ctx, keyAll, nil)
}

func (s *Service) cachedWhere(ctx context.Context, key string, filters []document.Filter) ([]model.Project, error) {
	if projects, ok := cache.Get[[]model.Project](s.cache, key); ok {
		return projects, nil
	}
	gen := s.cache.Generation()
	projects, err := s.repo.FindWhere(ctx, filters, newestFirst)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	s.cache.SetIfCurrent(gen, key, projects)
	return projects, nil
}

func (s *Service) Get(ctx context.Context, id string) (*model.Project, error) {
	key := "id:" + id
	if p, ok := cache.Get[model.Project](s.cache, key); ok {
		return &p, nil
	}
	gen := s.cache.Generation()
	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	if p == nil {
		return nil, apperrors.NotFound("project", nil)
	}
	s.cache.SetIfCurrent(gen, key, *p)
	return p, nil
}

// Create fills defaults, validates and stores p.
func (s *Service) Create(ctx context.Context, p *model.Project) (*model.Project, error) {
	now := s.now().UTC()
	if p.Status == "" {
		p.Status = model.ProjectPlanning
	}
	if p.Priority == "" {
		p.Priority = model.PriorityMedium
	}
	if p.StartDate.IsZero() {
		p.StartDate = now
	}
	for i := range p.TeamMembers {
		if p.TeamMembers[i].JoinedAt.IsZero() {
			p.TeamMembers[i].JoinedAt = now
		}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	id, err := s.repo.Create(ctx, *p)
	if err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	s.cache.Flush()
	return s.Get(ctx, id)
}

func (s *Service) Update(ctx context.Context, id string, u *model.ProjectUpdate) (*model.Project, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}
	return s.patch(ctx, id, u.Fields())
}

func (s *Service) patch(ctx context.Context, id string, fields document.Fields) (*model.Project, error) {
	if len(fields) > 0 {
		err := s.repo.Update(ctx, id, fields)
		s.cache.Flush()
		if errors.Is(err, document.ErrNoDocument) {
			return nil, apperrors.NotFound("project", err)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to update project: %w", err)
		}
	}
	return s.Get(ctx, id)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.repo.Delete(ctx, id)
	s.cache.Flush()
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	return nil
}

func (s *Service) ListByStatus(ctx context.Context, status model.ProjectStatus) ([]model.Project, error) {
	return s.cachedWhere(ctx, "status:"+string(status), []document.Filter{
		document.Where("status", document.OpEqual, string(status)),
	})
}

func (s *Service) ListActive(ctx context.Context) ([]model.Project, error) {
	return s.ListByStatus(ctx, model.ProjectActive)
}

func (s *Service) ListByManager(ctx context.Context, managerID string) ([]model.Project, error) {
	return s.cachedWhere(ctx, "manager:"+managerID, []document.Filter{
		document.Where("managerId", document.OpEqual, managerID),
	})
}

// Overdue lists unfinished projects whose deadline has passed.
func (s *Service) Overdue(ctx context.Context) ([]model.Project, error) {
	projects, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]model.Project, 0)
	for _, p := range projects {
		if p.IsOverdue(now) {
			out = append(out, p)
		}
	}
	return out, nil
}

// UpdateProgress sets progress. Reaching 100 completes the project, anything
// lower marks it active.
func (s *Service) UpdateProgress(ctx context.Context, id string, progress int) (*model.Project, error) {
	if progress < 0 || progress > 100 {
		return nil, apperrors.BadRequest("progress must be between 0 and 100", nil)
	}
	status := model.ProjectActive
	if progress == 100 {
		status = model.ProjectCompleted
	}
	return s.patch(ctx, id, document.Fields{
		"progress": document.Int(int64(progress)),
		"status":   document.String(string(status)),
	})
}

// UpdateStatus changes the status. Completing a project stamps its end date
// and sets progress to 100.
func (s *Service) UpdateStatus(ctx context.Context, id string, status model.ProjectStatus) (*model.Project, error) {
	u := &model.ProjectUpdate{Status: &status}
	if err := u.Validate(); err != nil {
		return nil, err
	}
	fields := u.Fields()
	if status == model.ProjectCompleted {
		fields["endDate"] = document.Timestamp(s.now())
		fields["progress"] = document.Int(100)
	}
	return s.patch(ctx, id, fields)
}

func (s *Service) AddTeamMember(ctx context.Context, id string, member model.TeamMember) (*model.Project, error) {
	if member.Role == "" {
		member.Role = model.MemberDeveloper
	}
	if member.Allocation == 0 {
		member.Allocation = 100
	}
	if member.JoinedAt.IsZero() {
		member.JoinedAt = s.now().UTC()
	}

	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.HasMember(member.UserID) {
		return nil, apperrors.Conflict(fmt.Sprintf("user %s is already on the team", member.UserID), nil)
	}
	members := append(append([]model.TeamMember{}, p.TeamMembers...), member)
	candidate := *p
	candidate.TeamMembers = members
	if err := candidate.Validate(); err != nil {
		return nil, err
	}
	return s.patch(ctx, id, model.MembersPatch(members))
}

// RemoveTeamMember drops userID from the team. Removing someone who is not
// on the team is not an error.
func (s *Service) RemoveTeamMember(ctx context.Context, id, userID string) (*model.Project, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.HasMember(userID) {
		return p, nil
	}
	members := make([]model.TeamMember, 0, len(p.TeamMembers))
	for _, m := range p.TeamMembers {
		if m.UserID != userID {
			members = append(members, m)
		}
	}
	return s.patch(ctx, id, model.MembersPatch(members))
}

// Search matches term case-insensitively against name, description and tags.
func (s *Service) Search(ctx context.Context, term string) ([]model.Project, error) {
	projects, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.Project, 0)
	for _, p := range projects {
		if p.Matches(term) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	projects, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	stats := &Stats{Total: len(projects)}
	progress := 0
	for _, p := range projects {
		switch p.Status {
		case model.ProjectActive:
			stats.Active++
		case model.ProjectCompleted:
			stats.Completed++
		case model.ProjectOnHold:
			stats.OnHold++
		case model.ProjectCancelled:
			stats.Cancelled++
		}
		if p.IsOverdue(now) {
			stats.Overdue++
		}
		if p.Budget != nil {
			stats.TotalBudget += p.Budget.Estimated
		}
		progress += p.Progress
	}
	if len(projects) > 0 {
		stats.AverageProgress = float64(progress) / float64(len(projects))
	}
	return stats, nil
}

func (s *Service) Paginate(ctx context.Context, filters []document.Filter, opts repository.PaginationOptions) (*repository.PaginatedResult[model.Project], error) {
	if opts.OrderBy == nil {
		opts.OrderBy = newestFirst.OrderBy
	}
	res, err := s.repo.FindPaginated(ctx, filters, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to paginate projects: %w", err)
	}
	return res, nil
}

func (s *Service) Page(ctx context.Context, filters []document.Filter, req repository.PageRequest) (*repository.Page[model.Project], error) {
	if req.OrderBy == nil {
		req.OrderBy = newestFirst.OrderBy
	}
	page, err := s.repo.FindPage(ctx, filters, req)
	if err != nil {
		return nil, fmt.Errorf("failed to page projects: %w", err)
	}
	return page, nil
}

// Subscribe streams the projects matching filters until the returned
// function is called or ctx ends.
func (s *Service) Subscribe(ctx context.Context, filters []document.Filter, opts *repository.QueryOptions, onData func([]model.Project), onError func(error)) (repository.Unsubscribe, error) {
	if opts == nil {
		opts = newestFirst
	}
	return s.repo.SubscribeToQuery(ctx, filters, opts, onData, onError)
}
