package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/projecthub/internal/document"
	apperrors "github.com/jwalitptl/projecthub/pkg/errors"
)

func stored(t *testing.T, id string, f document.Fields) document.Document {
	t.Helper()
	// push the fields through the wire form the backends use
	data, err := document.EncodeFields(f)
	require.NoError(t, err)
	decoded, err := document.DecodeFields(data)
	require.NoError(t, err)
	now := time.Date(2024, 2, 2, 8, 0, 0, 0, time.UTC)
	return document.Document{ID: id, Fields: decoded, CreateTime: now, UpdateTime: now}
}

func TestProjectCodec(t *testing.T) {
	start := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	deadline := start.AddDate(0, 3, 0)
	p := Project{
		Name:      "Platform",
		Status:    ProjectActive,
		Priority:  PriorityHigh,
		Progress:  35,
		StartDate: start,
		Deadline:  &deadline,
		Budget:    &Budget{Estimated: 12000.5, Actual: 300, Currency: "USD"},
		ManagerID: "m1",
		Tags:      []string{"core"},
		TeamMembers: []TeamMember{
			{UserID: "u1", Role: MemberLead, Allocation: 80, JoinedAt: start},
		},
	}

	fields, err := ProjectCodec{}.Encode(p)
	require.NoError(t, err)
	_, hasClient := fields["clientId"]
	assert.False(t, hasClient)

	got, err := ProjectCodec{}.Decode(stored(t, "p1", fields))
	require.NoError(t, err)

	p.ID = "p1"
	p.CreatedAt = got.CreatedAt
	p.UpdatedAt = got.UpdatedAt
	assert.Equal(t, p, got)
}

func TestTaskCodec(t *testing.T) {
	due := time.Date(2024, 3, 1, 17, 30, 0, 0, time.UTC)
	task := Task{
		ProjectID:      "p1",
		Title:          "Write tests",
		Status:         TaskReview,
		Priority:       PriorityLow,
		ReporterID:     "u1",
		DueDate:        &due,
		EstimatedHours: 4,
		Tags:           []string{},
		Checklist:      []ChecklistItem{{ID: "c1", Text: "unit", Completed: true}},
		Position:       1536,
	}

	fields, err := TaskCodec{}.Encode(task)
	require.NoError(t, err)
	got, err := TaskCodec{}.Decode(stored(t, "t1", fields))
	require.NoError(t, err)

	task.ID = "t1"
	task.CreatedAt = got.CreatedAt
	task.UpdatedAt = got.UpdatedAt
	assert.Equal(t, task, got)
}

func TestDecodeReportsKindMismatch(t *testing.T) {
	_, err := TaskCodec{}.Decode(document.Document{
		ID:     "t1",
		Fields: document.Fields{"title": document.Int(7)},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"title"`)
}

func TestUserValidate(t *testing.T) {
	u := User{Name: "Ada", Email: "ada@example.com", Role: RoleAdmin, Status: UserStatusActive}
	assert.NoError(t, u.Validate())

	u.Email = "nope"
	err := u.Validate()
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrBadRequest))
	assert.Contains(t, err.Error(), "email must be a valid email address")
}

func TestProjectValidateDates(t *testing.T) {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(-time.Hour)
	p := Project{Name: "x", Status: ProjectPlanning, Priority: PriorityLow, ManagerID: "m", StartDate: start, EndDate: &end}
	assert.Error(t, p.Validate())
}

func TestTaskDueHelpers(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	earlier := now.Add(-time.Hour)
	task := Task{Status: TaskTodo, DueDate: &earlier}

	assert.True(t, task.IsOverdue(now))
	assert.True(t, task.IsDueOn(now))

	task.Status = TaskCancelled
	assert.False(t, task.IsOverdue(now))
	assert.False(t, task.IsDueOn(now))
}

func TestStatusPatch(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

	done := StatusPatch(TaskCompleted, now)
	ts, ok := done["completedAt"].AsTime()
	require.True(t, ok)
	assert.True(t, now.Equal(ts))

	open := StatusPatch(TaskTodo, now)
	assert.True(t, open["completedAt"].IsDelete())
}

func TestUpdateFieldsClearOptionalValues(t *testing.T) {
	empty := ""
	u := TaskUpdate{AssigneeID: &empty}
	assert.True(t, u.Fields()["assigneeId"].IsDelete())

	client := ""
	pu := ProjectUpdate{ClientID: &client}
	assert.True(t, pu.Fields()["clientId"].IsDelete())
}

func TestTaskUpdateClearsDueDate(t *testing.T) {
	u := TaskUpdate{ClearDueDate: true}
	require.NoError(t, u.Validate())
	assert.True(t, u.Fields()["dueDate"].IsDelete())

	_, touched := (&TaskUpdate{}).Fields()["dueDate"]
	assert.False(t, touched)

	due := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	both := TaskUpdate{DueDate: &due, ClearDueDate: true}
	assert.Error(t, both.Validate())
}
