package model

import (
	"fmt"
	"time"

	"github.com/jwalitptl/projecthub/internal/document"
	"github.com/jwalitptl/projecthub/pkg/validator"
)

// TasksCollection is the collection tasks are stored in.
const TasksCollection = "tasks"

type TaskStatus string

// Task status constants
const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in-progress"
	TaskReview     TaskStatus = "review"
	TaskTesting    TaskStatus = "testing"
	TaskCompleted  TaskStatus = "completed"
	TaskCancelled  TaskStatus = "cancelled"
)

// BoardStatuses lists the kanban columns in display order.
var BoardStatuses = []TaskStatus{TaskTodo, TaskInProgress, TaskReview, TaskTesting, TaskCompleted}

// IsValid reports whether s is a known status.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskTodo, TaskInProgress, TaskReview, TaskTesting, TaskCompleted, TaskCancelled:
		return true
	}
	return false
}

type ChecklistItem struct {
	ID        string `json:"id"`
	Text      string `json:"text" validate:"required"`
	Completed bool   `json:"completed"`
}

// Task represents a unit of work inside a project
type Task struct {
	ID             string          `json:"id"`
	ProjectID      string          `json:"projectId,omitempty"`
	Title          string          `json:"title" validate:"required,max=300"`
	Description    string          `json:"description"`
	Status         TaskStatus      `json:"status" validate:"required,oneof=todo in-progress review testing completed cancelled"`
	Priority       Priority        `json:"priority" validate:"required,oneof=low medium high urgent"`
	AssigneeID     string          `json:"assigneeId,omitempty"`
	ReporterID     string          `json:"reporterId" validate:"required"`
	DueDate        *time.Time      `json:"dueDate,omitempty"`
	EstimatedHours float64         `json:"estimatedHours" validate:"gte=0"`
	ActualHours    float64         `json:"actualHours" validate:"gte=0"`
	Tags           []string        `json:"tags"`
	Checklist      []ChecklistItem `json:"checklist" validate:"dive"`
	Position       float64         `json:"position"`
	CompletedAt    *time.Time      `json:"completedAt,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

func (t *Task) Validate() error {
	return validator.Validate(t)
}

// IsOpen reports whether work on the task is still expected.
func (t *Task) IsOpen() bool {
	return t.Status != TaskCompleted && t.Status != TaskCancelled
}

// IsOverdue reports whether an open task is past its due date.
func (t *Task) IsOverdue(now time.Time) bool {
	return t.IsOpen() && t.DueDate != nil && t.DueDate.Before(now)
}

// IsDueOn reports whether an open task is due on the calendar day of day,
// in day's location.
func (t *Task) IsDueOn(day time.Time) bool {
	if !t.IsOpen() || t.DueDate == nil {
		return false
	}
	y1, m1, d1 := t.DueDate.In(day.Location()).Date()
	y2, m2, d2 := day.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// ChecklistDone reports whether the checklist is non-empty and fully ticked.
func (t *Task) ChecklistDone() bool {
	if len(t.Checklist) == 0 {
		return false
	}
	for _, item := range t.Checklist {
		if !item.Completed {
			return false
		}
	}
	return true
}

// TaskCodec maps tasks to stored fields.
type TaskCodec struct{}

func (TaskCodec) Encode(t Task) (document.Fields, error) {
	f := document.Fields{
		"title":          document.String(t.Title),
		"description":    document.String(t.Description),
		"status":         document.String(string(t.Status)),
		"priority":       document.String(string(t.Priority)),
		"reporterId":     document.String(t.ReporterID),
		"estimatedHours": document.Float(t.EstimatedHours),
		"actualHours":    document.Float(t.ActualHours),
		"tags":           document.Strings(t.Tags),
		"checklist":      EncodeChecklist(t.Checklist),
		"position":       document.Float(t.Position),
	}
	setOptional(f, "projectId", t.ProjectID)
	setOptional(f, "assigneeId", t.AssigneeID)
	setTime(f, "dueDate", t.DueDate)
	setTime(f, "completedAt", t.CompletedAt)
	return f, nil
}

func (TaskCodec) Decode(doc document.Document) (Task, error) {
	r := newReader(doc.Fields)
	t := Task{
		ID:             doc.ID,
		ProjectID:      r.str("projectId"),
		Title:          r.str("title"),
		Description:    r.str("description"),
		Status:         TaskStatus(r.str("status")),
		Priority:       Priority(r.str("priority")),
		AssigneeID:     r.str("assigneeId"),
		ReporterID:     r.str("reporterId"),
		DueDate:        r.timePtr("dueDate"),
		EstimatedHours: r.float("estimatedHours"),
		ActualHours:    r.float("actualHours"),
		Tags:           r.strings("tags"),
		Checklist:      []ChecklistItem{},
		Position:       r.float("position"),
		CompletedAt:    r.timePtr("completedAt"),
		CreatedAt:      doc.CreateTime,
		UpdatedAt:      doc.UpdateTime,
	}
	r.objects("checklist", func(item *fieldReader) {
		t.Checklist = append(t.Checklist, ChecklistItem{
			ID:        item.str("id"),
			Text:      item.str("text"),
			Completed: item.boolean("completed"),
		})
	})

	if r.err != nil {
		return Task{}, fmt.Errorf("task %s: %w", doc.ID, r.err)
	}
	return t, nil
}

// EncodeChecklist renders checklist items as stored values.
func EncodeChecklist(items []ChecklistItem) document.Value {
	out := make([]document.Value, len(items))
	for i, item := range items {
		out[i] = document.Map(map[string]document.Value{
			"id":        document.String(item.ID),
			"text":      document.String(item.Text),
			"completed": document.Bool(item.Completed),
		})
	}
	return document.Array(out...)
}

// TaskUpdate is a partial task change. Nil fields are left alone; an empty
// AssigneeID or ProjectID clears the field and ClearDueDate removes the due
// date.
type TaskUpdate struct {
	Title          *string     `json:"title" validate:"omitempty,min=1,max=300"`
	Description    *string     `json:"description"`
	Status         *TaskStatus `json:"status" validate:"omitempty,oneof=todo in-progress review testing completed cancelled"`
	Priority       *Priority   `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	ProjectID      *string     `json:"projectId"`
	AssigneeID     *string     `json:"assigneeId"`
	DueDate        *time.Time  `json:"dueDate"`
	ClearDueDate   bool        `json:"clearDueDate" validate:"excluded_with=DueDate"`
	EstimatedHours *float64    `json:"estimatedHours" validate:"omitempty,gte=0"`
	ActualHours    *float64    `json:"actualHours" validate:"omitempty,gte=0"`
	Tags           []string    `json:"tags"`
}

func (u *TaskUpdate) Validate() error {
	return validator.Validate(u)
}

// Fields renders the update as a document patch. Status changes are handled
// by the task service so that completion times stay consistent.
func (u *TaskUpdate) Fields() document.Fields {
	f := document.Fields{}
	if u.Title != nil {
		f["title"] = document.String(*u.Title)
	}
	if u.Description != nil {
		f["description"] = document.String(*u.Description)
	}
	if u.Priority != nil {
		f["priority"] = document.String(string(*u.Priority))
	}
	if u.ProjectID != nil {
		f["projectId"] = optionalString(*u.ProjectID)
	}
	if u.AssigneeID != nil {
		f["assigneeId"] = optionalString(*u.AssigneeID)
	}
	if u.DueDate != nil || u.ClearDueDate {
		f["dueDate"] = optionalTime(u.DueDate)
	}
	if u.EstimatedHours != nil {
		f["estimatedHours"] = document.Float(*u.EstimatedHours)
	}
	if u.ActualHours != nil {
		f["actualHours"] = document.Float(*u.ActualHours)
	}
	if u.Tags != nil {
		f["tags"] = document.Strings(u.Tags)
	}
	return f
}

// StatusPatch moves a task to status, stamping or clearing completedAt.
func StatusPatch(status TaskStatus, now time.Time) document.Fields {
	f := document.Fields{"status": document.String(string(status))}
	if status == TaskCompleted {
		f["completedAt"] = document.Timestamp(now)
	} else {
		f["completedAt"] = document.Delete()
	}
	return f
}
