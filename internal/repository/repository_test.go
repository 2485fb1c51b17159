package repository_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/jwalitptl/projecthub/internal/document"
	"github.com/jwalitptl/projecthub/internal/model"
	"github.com/jwalitptl/projecthub/internal/realtime"
	"github.com/jwalitptl/projecthub/internal/repository"
	"github.com/jwalitptl/projecthub/internal/repository/memory"
	"github.com/jwalitptl/projecthub/pkg/metrics"
)

type RepositorySuite struct {
	suite.Suite
	ctx     context.Context
	metrics *metrics.Metrics
	backend repository.Backend
	feed    *realtime.LocalFeed
	hub     *realtime.Hub
	tasks   *repository.Repository[model.Task]
}

func TestRepositorySuite(t *testing.T) {
	suite.Run(t, new(RepositorySuite))
}

func (s *RepositorySuite) SetupTest() {
	s.ctx = context.Background()
	s.metrics = metrics.New("test")
	s.backend = repository.Instrument(memory.New(), s.metrics)
	s.feed = realtime.NewLocalFeed(64, s.metrics)
	s.hub = realtime.NewHub(s.backend, s.feed, nil, s.metrics)
	s.Require().NoError(s.hub.Start(s.ctx))
	s.tasks = repository.New[model.Task](model.TasksCollection, s.backend, model.TaskCodec{}, repository.Options{
		Feed:        s.feed,
		Hub:         s.hub,
		MaxPageSize: 50,
	})
}

func (s *RepositorySuite) TearDownTest() {
	s.hub.Close()
	s.feed.Close()
}

func task(title, status string) model.Task {
	return model.Task{
		Title:      title,
		Status:     model.TaskStatus(status),
		Priority:   model.PriorityMedium,
		ReporterID: "u1",
	}
}

func (s *RepositorySuite) create(title, status string) string {
	id, err := s.tasks.Create(s.ctx, task(title, status))
	s.Require().NoError(err)
	return id
}

func (s *RepositorySuite) ids(tasks []model.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	sort.Strings(out)
	return out
}

func statusIs(status string) document.Filter {
	return document.Where("status", document.OpEqual, status)
}

func (s *RepositorySuite) TestCreateQueryUpdateDeleteFlow() {
	id := s.create("A", "todo")

	todo, err := s.tasks.FindWhere(s.ctx, []document.Filter{statusIs("todo")}, nil)
	s.Require().NoError(err)
	s.Contains(s.ids(todo), id)

	s.Require().NoError(s.tasks.Update(s.ctx, id, document.Fields{"status": document.String("done")}))

	todo, err = s.tasks.FindWhere(s.ctx, []document.Filter{statusIs("todo")}, nil)
	s.Require().NoError(err)
	s.NotContains(s.ids(todo), id)

	done, err := s.tasks.FindWhere(s.ctx, []document.Filter{statusIs("done")}, nil)
	s.Require().NoError(err)
	s.Equal([]string{id}, s.ids(done))
}

func (s *RepositorySuite) TestDatesRoundTrip() {
	due := time.Date(2024, 5, 17, 9, 30, 15, 123456789, time.FixedZone("CEST", 2*3600))
	t := task("dated", "todo")
	t.DueDate = &due

	id, err := s.tasks.Create(s.ctx, t)
	s.Require().NoError(err)

	got, err := s.tasks.FindByID(s.ctx, id)
	s.Require().NoError(err)
	s.Require().NotNil(got.DueDate)
	s.Equal(due.UnixMilli(), got.DueDate.UnixMilli())
	s.False(got.CreatedAt.IsZero())
	s.Equal(got.CreatedAt, got.UpdatedAt)

	later := due.Add(48 * time.Hour)
	s.Require().NoError(s.tasks.Update(s.ctx, id, document.Fields{"dueDate": document.Timestamp(later)}))

	all, err := s.tasks.FindAll(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(all, 1)
	s.Equal(later.UnixMilli(), all[0].DueDate.UnixMilli())
	s.True(all[0].UpdatedAt.After(all[0].CreatedAt))
}

func (s *RepositorySuite) TestPagesReproduceUnpaginatedResult() {
	for i := 0; i < 23; i++ {
		status := "todo"
		if i%4 == 0 {
			status = "review"
		}
		s.create(fmt.Sprintf("task %02d", i), status)
	}
	filters := []document.Filter{statusIs("todo")}

	want, err := s.tasks.FindWhere(s.ctx, filters, nil)
	s.Require().NoError(err)

	first, err := s.tasks.FindPaginated(s.ctx, filters, repository.PaginationOptions{Page: 1, Limit: 5})
	s.Require().NoError(err)
	s.Equal(int64(len(want)), first.Pagination.Total)
	s.Equal(4, first.Pagination.TotalPages)

	var got []model.Task
	for page := 1; page <= first.Pagination.TotalPages; page++ {
		res, err := s.tasks.FindPaginated(s.ctx, filters, repository.PaginationOptions{Page: page, Limit: 5})
		s.Require().NoError(err)
		got = append(got, res.Data...)
	}
	s.Equal(s.ids(want), s.ids(got))

	var cursored []model.Task
	req := repository.PageRequest{Limit: 5, OrderBy: &document.OrderBy{Field: "title", Direction: document.Desc}}
	for {
		page, err := s.tasks.FindPage(s.ctx, filters, req)
		s.Require().NoError(err)
		cursored = append(cursored, page.Data...)
		if page.NextCursor == "" {
			break
		}
		req.Cursor = page.NextCursor
	}
	s.Equal(s.ids(want), s.ids(cursored))
	s.Equal("task 22", cursored[0].Title)
}

func (s *RepositorySuite) TestPaginationArguments() {
	s.create("only", "todo")

	_, err := s.tasks.FindPaginated(s.ctx, nil, repository.PaginationOptions{Page: 0, Limit: 5})
	s.ErrorIs(err, document.ErrInvalidArgument)
	_, err = s.tasks.FindPaginated(s.ctx, nil, repository.PaginationOptions{Page: 1, Limit: 0})
	s.ErrorIs(err, document.ErrInvalidArgument)

	res, err := s.tasks.FindPaginated(s.ctx, nil, repository.PaginationOptions{Page: 1, Limit: 500})
	s.Require().NoError(err)
	s.Equal(50, res.Pagination.Limit)

	empty, err := s.tasks.FindPaginated(s.ctx, []document.Filter{statusIs("none")}, repository.PaginationOptions{Page: 1, Limit: 5})
	s.Require().NoError(err)
	s.Equal(0, empty.Pagination.TotalPages)
	s.Empty(empty.Data)

	_, err = s.tasks.FindPage(s.ctx, nil, repository.PageRequest{Limit: 5, Cursor: "!!"})
	s.ErrorIs(err, document.ErrInvalidCursor)
}

func (s *RepositorySuite) TestFiltersAreIntersected() {
	for i, status := range []string{"todo", "todo", "review", "todo", "review"} {
		t := task(fmt.Sprintf("t%d", i), status)
		if i%2 == 0 {
			t.Tags = []string{"backend"}
		}
		_, err := s.tasks.Create(s.ctx, t)
		s.Require().NoError(err)
	}
	tagged := document.Where("tags", document.OpArrayContains, "backend")

	byStatus, err := s.tasks.FindWhere(s.ctx, []document.Filter{statusIs("todo")}, nil)
	s.Require().NoError(err)
	byTag, err := s.tasks.FindWhere(s.ctx, []document.Filter{tagged}, nil)
	s.Require().NoError(err)
	both, err := s.tasks.FindWhere(s.ctx, []document.Filter{statusIs("todo"), tagged}, nil)
	s.Require().NoError(err)

	inTag := make(map[string]bool)
	for _, id := range s.ids(byTag) {
		inTag[id] = true
	}
	var want []string
	for _, id := range s.ids(byStatus) {
		if inTag[id] {
			want = append(want, id)
		}
	}
	s.Equal(want, s.ids(both))
	s.Len(both, 2)
}

func (s *RepositorySuite) TestNotFoundAndIdempotentDelete() {
	got, err := s.tasks.FindByID(s.ctx, "missing")
	s.NoError(err)
	s.Nil(got)

	exists, err := s.tasks.Exists(s.ctx, "missing")
	s.NoError(err)
	s.False(exists)

	err = s.tasks.Update(s.ctx, "missing", document.Fields{"title": document.String("x")})
	s.ErrorIs(err, document.ErrNoDocument)

	id := s.create("short lived", "todo")
	s.NoError(s.tasks.Delete(s.ctx, id))
	s.NoError(s.tasks.Delete(s.ctx, id))

	n, err := s.tasks.Count(s.ctx, nil)
	s.NoError(err)
	s.Zero(n)
}

func (s *RepositorySuite) TestUpdateRejectsReservedFields() {
	id := s.create("a", "todo")
	err := s.tasks.Update(s.ctx, id, document.Fields{document.FieldCreatedAt: document.Timestamp(time.Now())})
	s.ErrorIs(err, document.ErrInvalidField)
}

func (s *RepositorySuite) TestSubscribeToDocument() {
	id := s.create("watched", "todo")

	updates := make(chan *model.Task, 8)
	unsubscribe, err := s.tasks.SubscribeToDocument(s.ctx, id, func(t *model.Task) { updates <- t }, nil)
	s.Require().NoError(err)
	defer unsubscribe()

	s.Equal(model.TaskStatus("todo"), s.next(updates).Status)

	s.Require().NoError(s.tasks.Update(s.ctx, id, document.Fields{"status": document.String("review")}))
	s.Equal(model.TaskReview, s.next(updates).Status)

	s.Require().NoError(s.tasks.Delete(s.ctx, id))
	s.Nil(s.next(updates))
}

func (s *RepositorySuite) next(ch chan *model.Task) *model.Task {
	select {
	case t := <-ch:
		return t
	case <-time.After(2 * time.Second):
		s.FailNow("no update delivered")
		return nil
	}
}

func (s *RepositorySuite) TestSubscribeToQueryFollowsWrites() {
	snapshots := make(chan []model.Task, 8)
	unsubscribe, err := s.tasks.SubscribeToQuery(s.ctx, []document.Filter{statusIs("todo")},
		&repository.QueryOptions{OrderBy: &document.OrderBy{Field: "title", Direction: document.Asc}},
		func(ts []model.Task) { snapshots <- ts }, nil)
	s.Require().NoError(err)
	defer unsubscribe()

	s.Empty(s.nextSnapshot(snapshots))

	s.create("b", "todo")
	s.create("a", "todo")
	for {
		latest := s.nextSnapshot(snapshots)
		if len(latest) == 2 {
			s.Equal("a", latest[0].Title)
			s.Equal("b", latest[1].Title)
			return
		}
	}
}

func (s *RepositorySuite) nextSnapshot(ch chan []model.Task) []model.Task {
	select {
	case ts := <-ch:
		return ts
	case <-time.After(2 * time.Second):
		s.FailNow("no snapshot delivered")
		return nil
	}
}

func (s *RepositorySuite) TestCreateBatchStopsAtFirstFailure() {
	entities := []model.Task{task("one", "todo"), task("two", "todo"), task("bad", "todo"), task("four", "todo")}

	failing := repository.New[model.Task](model.TasksCollection, s.backend, failOn{codec: model.TaskCodec{}, title: "bad"}, repository.Options{})
	ids, err := failing.CreateBatch(s.ctx, entities)
	s.Require().Error(err)
	s.Contains(err.Error(), "batch item 2")
	s.Len(ids, 2)

	n, err := s.tasks.Count(s.ctx, nil)
	s.Require().NoError(err)
	s.Equal(int64(2), n)
}

func (s *RepositorySuite) TestInstrumentedBackendRecordsOperations() {
	s.create("metered", "todo")
	_, err := s.tasks.FindAll(s.ctx)
	s.Require().NoError(err)

	s.Equal(float64(1), testutil.ToFloat64(s.metrics.DatabaseOperations.WithLabelValues("insert", "success")))
	s.GreaterOrEqual(testutil.ToFloat64(s.metrics.DatabaseOperations.WithLabelValues("query", "success")), float64(1))
}

func TestSubscriptionsNeedAHub(t *testing.T) {
	repo := repository.New[model.Task](model.TasksCollection, memory.New(), model.TaskCodec{}, repository.Options{})
	_, err := repo.SubscribeToCollection(context.Background(), func([]model.Task) {}, nil)
	assert.ErrorIs(t, err, repository.ErrSubscriptionsDisabled)
}

type brokenBackend struct {
	repository.Backend
	err error
}

func (b brokenBackend) Get(context.Context, string, string) (*document.Document, error) {
	return nil, b.err
}

func TestBackendErrorsAreWrapped(t *testing.T) {
	boom := errors.New("connection reset")
	repo := repository.New[model.Task](model.TasksCollection, brokenBackend{Backend: memory.New(), err: boom}, model.TaskCodec{}, repository.Options{})

	_, err := repo.FindByID(context.Background(), "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

// failOn is a codec that refuses to encode the task with the given title.
type failOn struct {
	codec model.TaskCodec
	title string
}

func (f failOn) Encode(t model.Task) (document.Fields, error) {
	if t.Title == f.title {
		return nil, errors.New("refused")
	}
	return f.codec.Encode(t)
}

func (f failOn) Decode(doc document.Document) (model.Task, error) {
	return f.codec.Decode(doc)
}
