package task

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/projecthub/internal/document"
	"github.com/jwalitptl/projecthub/internal/model"
	"github.com/jwalitptl/projecthub/internal/repository"
	"github.com/jwalitptl/projecthub/internal/service/cache"
	apperrors "github.com/jwalitptl/projecthub/pkg/errors"
)

// positionStep spaces tasks within a board column. Moves place a task
// halfway between its new neighbours.
const positionStep = 1024.0

// minGap is the smallest neighbour distance a midpoint may split before the
// column is renumbered.
const minGap = 1e-6

type TaskServicer interface {
	List(ctx context.Context) ([]model.Task, error)
	Get(ctx context.Context, id string) (*model.Task, error)
	Create(ctx context.Context, t *model.Task) (*model.Task, error)
	Update(ctx context.Context, id string, u *model.TaskUpdate) (*model.Task, error)
	Delete(ctx context.Context, id string) error
	ListByProject(ctx context.Context, projectID string) ([]model.Task, error)
	ListByAssignee(ctx context.Context, assigneeID string) ([]model.Task, error)
	ListByStatus(ctx context.Context, status model.TaskStatus) ([]model.Task, error)
	UpdateStatus(ctx context.Context, id string, status model.TaskStatus) (*model.Task, error)
	Assign(ctx context.Context, id, assigneeID string) (*model.Task, error)
	AddChecklistItem(ctx context.Context, id, text string) (*model.Task, error)
	ToggleChecklistItem(ctx context.Context, id, itemID string) (*model.Task, error)
	Overdue(ctx context.Context) ([]model.Task, error)
	DueToday(ctx context.Context) ([]model.Task, error)
	Stats(ctx context.Context) (*Stats, error)
	Board(ctx context.Context, projectID string) (*Board, error)
	Move(ctx context.Context, id string, to model.TaskStatus, index int) (*model.Task, error)
	Paginate(ctx context.Context, filters []document.Filter, opts repository.PaginationOptions) (*repository.PaginatedResult[model.Task], error)
	Page(ctx context.Context, filters []document.Filter, req repository.PageRequest) (*repository.Page[model.Task], error)
	Subscribe(ctx context.Context, filters []document.Filter, opts *repository.QueryOptions, onData func([]model.Task), onError func(error)) (repository.Unsubscribe, error)
	SubscribeOne(ctx context.Context, id string, onData func(*model.Task), onError func(error)) (repository.Unsubscribe, error)
}

type Stats struct {
	Total      int            `json:"total"`
	Todo       int            `json:"todo"`
	InProgress int            `json:"inProgress"`
	Review     int            `json:"review"`
	Testing    int            `json:"testing"`
	Completed  int            `json:"completed"`
	Overdue    int            `json:"overdue"`
	DueToday   int            `json:"dueToday"`
	ByPriority map[string]int `json:"byPriority"`
}

// Column is one kanban column, tasks in board order.
type Column struct {
	Status model.TaskStatus `json:"status"`
	Tasks  []model.Task     `json:"tasks"`
}

type Board struct {
	ProjectID string   `json:"projectId"`
	Columns   []Column `json:"columns"`
}

type Service struct {
	repo  repository.TaskRepository
	cache *cache.Store
	now   func() time.Time
	newID func() string
}

func NewService(repo repository.TaskRepository, c *cache.Store) *Service {
	if c == nil {
		c = cache.New(model.TasksCollection, cache.DefaultConfig(), nil)
	}
	return &Service{repo: repo, cache: c, now: time.Now, newID: uuid.NewString}
}

var newestFirst = &repository.QueryOptions{
	OrderBy: &document.OrderBy{Field: document.FieldCreatedAt, Direction: document.Desc},
}

func (s *Service) List(ctx context.Context) ([]model.Task, error) {
	return s.cachedWhere(ctx, "all", nil)
}

func (s *Service) cachedWhere(ctx context.Context, key string, filters []document.Filter) ([]model.Task, error) {
	if tasks, ok := cache.Get[[]model.Task](s.cache, key); ok {
		return tasks, nil
	}
	gen := s.cache.Generation()
	tasks, err := s.repo.FindWhere(ctx, filters, newestFirst)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	s.cache.SetIfCurrent(gen, key, tasks)
	return tasks, nil
}

func (s *Service) Get(ctx context.Context, id string) (*model.Task, error) {
	key := "id:" + id
	if t, ok := cache.Get[model.Task](s.cache, key); ok {
		return &t, nil
	}
	gen := s.cache.Generation()
	t, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	if t == nil {
		return nil, apperrors.NotFound("task", nil)
	}
	s.cache.SetIfCurrent(gen, key, *t)
	return t, nil
}

// Create fills defaults, places the task at the bottom of its column and
// stores it.
func (s *Service) Create(ctx context.Context, t *model.Task) (*model.Task, error) {
	if t.Status == "" {
		t.Status = model.TaskTodo
	}
	if t.Priority == "" {
		t.Priority = model.PriorityMedium
	}
	for i := range t.Checklist {
		if t.Checklist[i].ID == "" {
			t.Checklist[i].ID = s.newID()
		}
	}
	if t.Status == model.TaskCompleted && t.CompletedAt == nil {
		now := s.now().UTC()
		t.CompletedAt = &now
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}

	column, err := s.column(ctx, t.ProjectID, t.Status, "")
	if err != nil {
		return nil, err
	}
	t.Position = endOf(column)

	id, err := s.repo.Create(ctx, *t)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	s.cache.Flush()
	return s.Get(ctx, id)
}

// Update applies u. A status change goes through UpdateStatus so the
// completion time and board position follow it.
func (s *Service) Update(ctx context.Context, id string, u *model.TaskUpdate) (*model.Task, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}
	fields := u.Fields()
	if u.Status != nil {
		current, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if current.Status != *u.Status {
			statusFields, err := s.statusChange(ctx, current, *u.Status)
			if err != nil {
				return nil, err
			}
			for k, v := range statusFields {
				fields[k] = v
			}
		}
	}
	return s.patch(ctx, id, fields)
}

func (s *Service) patch(ctx context.Context, id string, fields document.Fields) (*model.Task, error) {
	if len(fields) > 0 {
		err := s.repo.Update(ctx, id, fields)
		s.cache.Flush()
		if errors.Is(err, document.ErrNoDocument) {
			return nil, apperrors.NotFound("task", err)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to update task: %w", err)
		}
	}
	return s.Get(ctx, id)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.repo.Delete(ctx, id)
	s.cache.Flush()
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

func (s *Service) ListByProject(ctx context.Context, projectID string) ([]model.Task, error) {
	return s.cachedWhere(ctx, "project:"+projectID, []document.Filter{
		document.Where("projectId", document.OpEqual, projectID),
	})
}

func (s *Service) ListByAssignee(ctx context.Context, assigneeID string) ([]model.Task, error) {
	return s.cachedWhere(ctx, "assignee:"+assigneeID, []document.Filter{
		document.Where("assigneeId", document.OpEqual, assigneeID),
	})
}

func (s *Service) ListByStatus(ctx context.Context, status model.TaskStatus) ([]model.Task, error) {
	return s.cachedWhere(ctx, "status:"+string(status), []document.Filter{
		document.Where("status", document.OpEqual, string(status)),
	})
}

// UpdateStatus moves the task to the bottom of the status column. Completing
// a task stamps completedAt; any other status clears it.
func (s *Service) UpdateStatus(ctx context.Context, id string, status model.TaskStatus) (*model.Task, error) {
	if !status.IsValid() {
		return nil, apperrors.BadRequest(fmt.Sprintf("unknown task status %q", status), nil)
	}
	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status == status {
		return t, nil
	}
	fields, err := s.statusChange(ctx, t, status)
	if err != nil {
		return nil, err
	}
	return s.patch(ctx, id, fields)
}

func (s *Service) statusChange(ctx context.Context, t *model.Task, status model.TaskStatus) (document.Fields, error) {
	column, err := s.column(ctx, t.ProjectID, status, t.ID)
	if err != nil {
		return nil, err
	}
	fields := model.StatusPatch(status, s.now())
	fields["position"] = document.Float(endOf(column))
	return fields, nil
}

// Assign sets the assignee. An empty assigneeID unassigns the task.
func (s *Service) Assign(ctx context.Context, id, assigneeID string) (*model.Task, error) {
	u := &model.TaskUpdate{AssigneeID: &assigneeID}
	return s.patch(ctx, id, u.Fields())
}

func (s *Service) AddChecklistItem(ctx context.Context, id, text string) (*model.Task, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	item := model.ChecklistItem{ID: s.newID(), Text: text}
	candidate := *t
	candidate.Checklist = append(append([]model.ChecklistItem{}, t.Checklist...), item)
	if err := candidate.Validate(); err != nil {
		return nil, err
	}
	return s.patch(ctx, id, document.Fields{"checklist": model.EncodeChecklist(candidate.Checklist)})
}

// ToggleChecklistItem flips one checklist item. Ticking the last open item
// completes the task.
func (s *Service) ToggleChecklistItem(ctx context.Context, id, itemID string) (*model.Task, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	updated := *t
	updated.Checklist = append([]model.ChecklistItem{}, t.Checklist...)
	found := false
	for i := range updated.Checklist {
		if updated.Checklist[i].ID == itemID {
			updated.Checklist[i].Completed = !updated.Checklist[i].Completed
			found = true
			break
		}
	}
	if !found {
		return nil, apperrors.NotFound("checklist item", nil)
	}

	fields := document.Fields{"checklist": model.EncodeChecklist(updated.Checklist)}
	if updated.ChecklistDone() && t.Status != model.TaskCompleted {
		statusFields, err := s.statusChange(ctx, t, model.TaskCompleted)
		if err != nil {
			return nil, err
		}
		for k, v := range statusFields {
			fields[k] = v
		}
	}
	return s.patch(ctx, id, fields)
}

// Overdue lists open tasks whose due date has passed.
func (s *Service) Overdue(ctx context.Context) ([]model.Task, error) {
	now := s.now()
	return s.filter(ctx, func(t *model.Task) bool { return t.IsOverdue(now) })
}

// DueToday lists open tasks due on the current calendar day.
func (s *Service) DueToday(ctx context.Context) ([]model.Task, error) {
	now := s.now()
	return s.filter(ctx, func(t *model.Task) bool { return t.IsDueOn(now) })
}

func (s *Service) filter(ctx context.Context, keep func(*model.Task) bool) ([]model.Task, error) {
	tasks, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.Task, 0)
	for i := range tasks {
		if keep(&tasks[i]) {
			out = append(out, tasks[i])
		}
	}
	return out, nil
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	tasks, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	stats := &Stats{Total: len(tasks), ByPriority: make(map[string]int)}
	for i := range tasks {
		t := &tasks[i]
		switch t.Status {
		case model.TaskTodo:
			stats.Todo++
		case model.TaskInProgress:
			stats.InProgress++
		case model.TaskReview:
			stats.Review++
		case model.TaskTesting:
			stats.Testing++
		case model.TaskCompleted:
			stats.Completed++
		}
		if t.IsOverdue(now) {
			stats.Overdue++
		}
		if t.IsDueOn(now) {
			stats.DueToday++
		}
		stats.ByPriority[string(t.Priority)]++
	}
	return stats, nil
}

// Board groups the project's tasks into kanban columns.
func (s *Service) Board(ctx context.Context, projectID string) (*Board, error) {
	tasks, err := s.ListByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	byStatus := make(map[model.TaskStatus][]model.Task)
	for _, t := range tasks {
		byStatus[t.Status] = append(byStatus[t.Status], t)
	}

	board := &Board{ProjectID: projectID, Columns: make([]Column, 0, len(model.BoardStatuses))}
	for _, status := range model.BoardStatuses {
		column := byStatus[status]
		sortColumn(column)
		if column == nil {
			column = []model.Task{}
		}
		board.Columns = append(board.Columns, Column{Status: status, Tasks: column})
	}
	return board, nil
}

// Move places the task at index within the status column of its project.
// Moving across columns also changes the status. The position is durable
// so a reorder within one column survives a reload.
func (s *Service) Move(ctx context.Context, id string, to model.TaskStatus, index int) (*model.Task, error) {
	if !to.IsValid() {
		return nil, apperrors.BadRequest(fmt.Sprintf("unknown task status %q", to), nil)
	}
	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	column, err := s.column(ctx, t.ProjectID, to, t.ID)
	if err != nil {
		return nil, err
	}
	index = max(0, min(index, len(column)))

	position, ok := between(column, index)
	if !ok {
		if err := s.renumber(ctx, column, index); err != nil {
			return nil, err
		}
		position = float64(index+1) * positionStep
	}

	fields := document.Fields{"position": document.Float(position)}
	if t.Status != to {
		for k, v := range model.StatusPatch(to, s.now()) {
			fields[k] = v
		}
	}
	return s.patch(ctx, id, fields)
}

// renumber spreads the column out evenly, leaving slot index free.
func (s *Service) renumber(ctx context.Context, column []model.Task, index int) error {
	for i, t := range column {
		slot := i + 1
		if i >= index {
			slot++
		}
		position := float64(slot) * positionStep
		if t.Position == position {
			continue
		}
		err := s.repo.Update(ctx, t.ID, document.Fields{"position": document.Float(position)})
		if err != nil && !errors.Is(err, document.ErrNoDocument) {
			s.cache.Flush()
			return fmt.Errorf("failed to renumber board column: %w", err)
		}
	}
	s.cache.Flush()
	return nil
}

// column returns the tasks of one project column in board order, leaving
// out skipID.
func (s *Service) column(ctx context.Context, projectID string, status model.TaskStatus, skipID string) ([]model.Task, error) {
	filters := []document.Filter{document.Where("status", document.OpEqual, string(status))}
	if projectID != "" {
		filters = append(filters, document.Where("projectId", document.OpEqual, projectID))
	}
	tasks, err := s.repo.FindWhere(ctx, filters, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load board column: %w", err)
	}
	out := make([]model.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.ProjectID == projectID && t.ID != skipID {
			out = append(out, t)
		}
	}
	sortColumn(out)
	return out, nil
}

func sortColumn(tasks []model.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Position != tasks[j].Position {
			return tasks[i].Position < tasks[j].Position
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
}

func endOf(column []model.Task) float64 {
	if len(column) == 0 {
		return positionStep
	}
	return column[len(column)-1].Position + positionStep
}

// between picks a position for slot index of column. It reports false when
// the neighbours are too close to split.
func between(column []model.Task, index int) (float64, bool) {
	switch {
	case len(column) == 0:
		return positionStep, true
	case index == 0:
		return column[0].Position - positionStep, true
	case index == len(column):
		return column[len(column)-1].Position + positionStep, true
	}
	prev, next := column[index-1].Position, column[index].Position
	if next-prev < minGap {
		return 0, false
	}
	return prev + (next-prev)/2, true
}

func (s *Service) Paginate(ctx context.Context, filters []document.Filter, opts repository.PaginationOptions) (*repository.PaginatedResult[model.Task], error) {
	if opts.OrderBy == nil {
		opts.OrderBy = newestFirst.OrderBy
	}
	res, err := s.repo.FindPaginated(ctx, filters, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to paginate tasks: %w", err)
	}
	return res, nil
}

func (s *Service) Page(ctx context.Context, filters []document.Filter, req repository.PageRequest) (*repository.Page[model.Task], error) {
	if req.OrderBy == nil {
		req.OrderBy = newestFirst.OrderBy
	}
	page, err := s.repo.FindPage(ctx, filters, req)
	if err != nil {
		return nil, fmt.Errorf("failed to page tasks: %w", err)
	}
	return page, nil
}

func (s *Service) Subscribe(ctx context.Context, filters []document.Filter, opts *repository.QueryOptions, onData func([]model.Task), onError func(error)) (repository.Unsubscribe, error) {
	if opts == nil {
		opts = newestFirst
	}
	return s.repo.SubscribeToQuery(ctx, filters, opts, onData, onError)
}

func (s *Service) SubscribeOne(ctx context.Context, id string, onData func(*model.Task), onError func(error)) (repository.Unsubscribe, error) {
	return s.repo.SubscribeToDocument(ctx, id, onData, onError)
}
