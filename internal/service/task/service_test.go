package task

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/jwalitptl/projecthub/internal/document"
	"github.com/jwalitptl/projecthub/internal/model"
	"github.com/jwalitptl/projecthub/internal/repository"
	"github.com/jwalitptl/projecthub/internal/repository/memory"
	apperrors "github.com/jwalitptl/projecthub/pkg/errors"
)

type TaskServiceSuite struct {
	suite.Suite
	ctx   context.Context
	clock time.Time
	repo  *repository.Repository[model.Task]
	svc   *Service
}

func TestTaskServiceSuite(t *testing.T) {
	suite.Run(t, new(TaskServiceSuite))
}

func (s *TaskServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = time.Date(2024, 6, 10, 15, 0, 0, 0, time.UTC)
	s.repo = repository.New[model.Task](model.TasksCollection, memory.New(), model.TaskCodec{}, repository.Options{})
	s.svc = NewService(s.repo, nil)
	s.svc.now = func() time.Time { return s.clock }
}

func (s *TaskServiceSuite) create(title string, status model.TaskStatus) *model.Task {
	t, err := s.svc.Create(s.ctx, &model.Task{
		ProjectID:  "p1",
		Title:      title,
		Status:     status,
		ReporterID: "u1",
	})
	s.Require().NoError(err)
	return t
}

func (s *TaskServiceSuite) titles(column []model.Task) []string {
	out := make([]string, len(column))
	for i, t := range column {
		out[i] = t.Title
	}
	return out
}

func (s *TaskServiceSuite) column(status model.TaskStatus) []model.Task {
	board, err := s.svc.Board(s.ctx, "p1")
	s.Require().NoError(err)
	for _, c := range board.Columns {
		if c.Status == status {
			return c.Tasks
		}
	}
	s.FailNow("missing column", string(status))
	return nil
}

func (s *TaskServiceSuite) TestCreateAppendsToColumn() {
	a := s.create("a", "")
	b := s.create("b", model.TaskTodo)

	s.Equal(model.TaskTodo, a.Status)
	s.Equal(model.PriorityMedium, a.Priority)
	s.Less(a.Position, b.Position)
	s.Equal([]string{"a", "b"}, s.titles(s.column(model.TaskTodo)))

	_, err := s.svc.Create(s.ctx, &model.Task{Title: "no reporter"})
	s.True(apperrors.HasCode(err, apperrors.ErrBadRequest))
}

func (s *TaskServiceSuite) TestUpdateStatusStampsCompletion() {
	t := s.create("ship", model.TaskInProgress)

	done, err := s.svc.UpdateStatus(s.ctx, t.ID, model.TaskCompleted)
	s.Require().NoError(err)
	s.Require().NotNil(done.CompletedAt)
	s.True(s.clock.Equal(*done.CompletedAt))

	reopened, err := s.svc.UpdateStatus(s.ctx, t.ID, model.TaskReview)
	s.Require().NoError(err)
	s.Nil(reopened.CompletedAt)

	_, err = s.svc.UpdateStatus(s.ctx, t.ID, "blocked")
	s.True(apperrors.HasCode(err, apperrors.ErrBadRequest))

	_, err = s.svc.UpdateStatus(s.ctx, "missing", model.TaskReview)
	s.True(apperrors.IsNotFound(err))
}

func (s *TaskServiceSuite) TestUpdateRoutesStatusChange() {
	t := s.create("doc", model.TaskTodo)
	title := "document the API"
	status := model.TaskCompleted

	updated, err := s.svc.Update(s.ctx, t.ID, &model.TaskUpdate{Title: &title, Status: &status})
	s.Require().NoError(err)
	s.Equal(title, updated.Title)
	s.Equal(model.TaskCompleted, updated.Status)
	s.NotNil(updated.CompletedAt)
}

func (s *TaskServiceSuite) TestAssign() {
	t := s.create("assign me", model.TaskTodo)

	t, err := s.svc.Assign(s.ctx, t.ID, "u7")
	s.Require().NoError(err)
	s.Equal("u7", t.AssigneeID)

	mine, err := s.svc.ListByAssignee(s.ctx, "u7")
	s.Require().NoError(err)
	s.Len(mine, 1)

	t, err = s.svc.Assign(s.ctx, t.ID, "")
	s.Require().NoError(err)
	s.Empty(t.AssigneeID)
}

func (s *TaskServiceSuite) TestChecklistAutoCompletes() {
	t := s.create("release", model.TaskTesting)

	t, err := s.svc.AddChecklistItem(s.ctx, t.ID, "tag build")
	s.Require().NoError(err)
	t, err = s.svc.AddChecklistItem(s.ctx, t.ID, "announce")
	s.Require().NoError(err)
	s.Require().Len(t.Checklist, 2)
	s.NotEmpty(t.Checklist[0].ID)

	t, err = s.svc.ToggleChecklistItem(s.ctx, t.ID, t.Checklist[0].ID)
	s.Require().NoError(err)
	s.True(t.Checklist[0].Completed)
	s.Equal(model.TaskTesting, t.Status)

	t, err = s.svc.ToggleChecklistItem(s.ctx, t.ID, t.Checklist[1].ID)
	s.Require().NoError(err)
	s.Equal(model.TaskCompleted, t.Status)
	s.NotNil(t.CompletedAt)

	_, err = s.svc.ToggleChecklistItem(s.ctx, t.ID, "nope")
	s.True(apperrors.IsNotFound(err))

	_, err = s.svc.AddChecklistItem(s.ctx, t.ID, "")
	s.True(apperrors.HasCode(err, apperrors.ErrBadRequest))
}

func (s *TaskServiceSuite) TestOverdueDueTodayAndStats() {
	yesterday := s.clock.Add(-24 * time.Hour)
	laterToday := s.clock.Add(3 * time.Hour)

	late := s.create("late", model.TaskTodo)
	_, err := s.svc.Update(s.ctx, late.ID, &model.TaskUpdate{DueDate: &yesterday})
	s.Require().NoError(err)

	today := s.create("today", model.TaskInProgress)
	_, err = s.svc.Update(s.ctx, today.ID, &model.TaskUpdate{DueDate: &laterToday})
	s.Require().NoError(err)

	finished := s.create("finished", model.TaskCompleted)
	_, err = s.svc.Update(s.ctx, finished.ID, &model.TaskUpdate{DueDate: &yesterday})
	s.Require().NoError(err)

	overdue, err := s.svc.Overdue(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{"late"}, s.titles(overdue))

	dueToday, err := s.svc.DueToday(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{"today"}, s.titles(dueToday))

	stats, err := s.svc.Stats(s.ctx)
	s.Require().NoError(err)
	s.Equal(3, stats.Total)
	s.Equal(1, stats.Todo)
	s.Equal(1, stats.InProgress)
	s.Equal(1, stats.Completed)
	s.Equal(1, stats.Overdue)
	s.Equal(1, stats.DueToday)
	s.Equal(3, stats.ByPriority["medium"])
}

func (s *TaskServiceSuite) TestUpdateClearsDueDate() {
	due := s.clock.Add(time.Hour)
	t := s.create("a", model.TaskTodo)
	updated, err := s.svc.Update(s.ctx, t.ID, &model.TaskUpdate{DueDate: &due})
	s.Require().NoError(err)
	s.Require().NotNil(updated.DueDate)

	cleared, err := s.svc.Update(s.ctx, t.ID, &model.TaskUpdate{ClearDueDate: true})
	s.Require().NoError(err)
	s.Nil(cleared.DueDate)

	stored, err := s.repo.FindByID(s.ctx, t.ID)
	s.Require().NoError(err)
	s.Nil(stored.DueDate)
}

func (s *TaskServiceSuite) TestMoveAcrossColumnsPersistsStatus() {
	a := s.create("a", model.TaskTodo)
	s.create("b", model.TaskInProgress)

	moved, err := s.svc.Move(s.ctx, a.ID, model.TaskInProgress, 0)
	s.Require().NoError(err)
	s.Equal(model.TaskInProgress, moved.Status)

	stored, err := s.repo.FindByID(s.ctx, a.ID)
	s.Require().NoError(err)
	s.Equal(model.TaskInProgress, stored.Status)

	s.Empty(s.column(model.TaskTodo))
	s.Equal([]string{"a", "b"}, s.titles(s.column(model.TaskInProgress)))

	done, err := s.svc.Move(s.ctx, a.ID, model.TaskCompleted, 5)
	s.Require().NoError(err)
	s.NotNil(done.CompletedAt)
}

func (s *TaskServiceSuite) TestReorderWithinColumnIsDurable() {
	s.create("a", model.TaskTodo)
	s.create("b", model.TaskTodo)
	c := s.create("c", model.TaskTodo)

	_, err := s.svc.Move(s.ctx, c.ID, model.TaskTodo, 1)
	s.Require().NoError(err)
	s.Equal([]string{"a", "c", "b"}, s.titles(s.column(model.TaskTodo)))

	// a fresh service reads the order back from storage
	fresh := NewService(s.repo, nil)
	board, err := fresh.Board(s.ctx, "p1")
	s.Require().NoError(err)
	s.Equal([]string{"a", "c", "b"}, s.titles(board.Columns[0].Tasks))
}

func (s *TaskServiceSuite) TestMoveRenumbersCollapsedColumn() {
	a := s.create("a", model.TaskTodo)
	b := s.create("b", model.TaskTodo)
	c := s.create("c", model.TaskTodo)

	// squeeze a and b together so no midpoint fits between them
	s.Require().NoError(s.repo.Update(s.ctx, a.ID, document.Fields{"position": document.Float(10)}))
	s.Require().NoError(s.repo.Update(s.ctx, b.ID, document.Fields{"position": document.Float(10 + 1e-9)}))
	s.svc.cache.Flush()

	_, err := s.svc.Move(s.ctx, c.ID, model.TaskTodo, 1)
	s.Require().NoError(err)

	column := s.column(model.TaskTodo)
	s.Equal([]string{"a", "c", "b"}, s.titles(column))
	s.Equal(positionStep, column[0].Position)
	s.Equal(2*positionStep, column[1].Position)
	s.Equal(3*positionStep, column[2].Position)
}

func TestBetween(t *testing.T) {
	column := []model.Task{{Position: 10}, {Position: 20}}

	p, ok := between(nil, 0)
	assert.True(t, ok)
	assert.Equal(t, positionStep, p)

	p, ok = between(column, 0)
	require.True(t, ok)
	assert.Equal(t, 10-positionStep, p)

	p, ok = between(column, 1)
	require.True(t, ok)
	assert.Equal(t, 15.0, p)

	p, ok = between(column, 2)
	require.True(t, ok)
	assert.Equal(t, 20+positionStep, p)

	_, ok = between([]model.Task{{Position: 1}, {Position: 1}}, 1)
	assert.False(t, ok)
}

// hookedRepo calls afterFindWhere once FindWhere has read its result.
type hookedRepo struct {
	repository.TaskRepository
	afterFindWhere func(filters []document.Filter)
}

func (r *hookedRepo) FindWhere(ctx context.Context, filters []document.Filter, opts *repository.QueryOptions) ([]model.Task, error) {
	tasks, err := r.TaskRepository.FindWhere(ctx, filters, opts)
	if r.afterFindWhere != nil {
		r.afterFindWhere(filters)
	}
	return tasks, err
}

func newTaskRepo() repository.TaskRepository {
	return repository.New[model.Task](model.TasksCollection, memory.New(), model.TaskCodec{}, repository.Options{})
}

func TestListDoesNotCacheReadOverlappingWrite(t *testing.T) {
	ctx := context.Background()
	read := make(chan struct{})
	release := make(chan struct{})
	var pause atomic.Bool
	pause.Store(true)

	repo := &hookedRepo{TaskRepository: newTaskRepo()}
	repo.afterFindWhere = func(filters []document.Filter) {
		if len(filters) == 0 && pause.CompareAndSwap(true, false) {
			close(read)
			<-release
		}
	}
	svc := NewService(repo, nil)

	listed := make(chan []model.Task, 1)
	go func() {
		tasks, err := svc.List(ctx)
		assert.NoError(t, err)
		listed <- tasks
	}()

	<-read
	_, err := svc.Create(ctx, &model.Task{ProjectID: "p1", Title: "a", ReporterID: "u1"})
	require.NoError(t, err)
	close(release)
	assert.Empty(t, <-listed)

	tasks, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestColumnQueriesOneProject(t *testing.T) {
	ctx := context.Background()
	var mu sync.Mutex
	var seen [][]document.Filter
	repo := &hookedRepo{TaskRepository: newTaskRepo()}
	repo.afterFindWhere = func(filters []document.Filter) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, filters)
	}
	svc := NewService(repo, nil)

	_, err := svc.Create(ctx, &model.Task{ProjectID: "p2", Title: "other", ReporterID: "u1"})
	require.NoError(t, err)
	created, err := svc.Create(ctx, &model.Task{ProjectID: "p1", Title: "a", ReporterID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, positionStep, created.Position)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.Contains(t, seen[len(seen)-1], document.Where("projectId", document.OpEqual, "p1"))
}
