package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/jwalitptl/projecthub/internal/document"
	"github.com/jwalitptl/projecthub/pkg/errors"
	"github.com/jwalitptl/projecthub/pkg/validator"
)

// ProjectsCollection is the collection projects are stored in.
const ProjectsCollection = "projects"

type ProjectStatus string

// Project status constants
const (
	ProjectPlanning  ProjectStatus = "planning"
	ProjectActive    ProjectStatus = "active"
	ProjectOnHold    ProjectStatus = "on-hold"
	ProjectCompleted ProjectStatus = "completed"
	ProjectCancelled ProjectStatus = "cancelled"
)

type Priority string

// Priority constants, shared by projects and tasks
const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

type MemberRole string

const (
	MemberLead      MemberRole = "lead"
	MemberDeveloper MemberRole = "developer"
	MemberDesigner  MemberRole = "designer"
	MemberTester    MemberRole = "tester"
	MemberAnalyst   MemberRole = "analyst"
)

type Budget struct {
	Estimated float64 `json:"estimated" validate:"gte=0"`
	Actual    float64 `json:"actual" validate:"gte=0"`
	Currency  string  `json:"currency" validate:"omitempty,len=3"`
}

type TeamMember struct {
	UserID     string     `json:"userId" validate:"required"`
	Role       MemberRole `json:"role" validate:"required,oneof=lead developer designer tester analyst"`
	Allocation int        `json:"allocation" validate:"gte=0,lte=100"`
	JoinedAt   time.Time  `json:"joinedAt"`
}

// Project represents a managed project
type Project struct {
	ID          string        `json:"id"`
	Name        string        `json:"name" validate:"required,max=200"`
	Description string        `json:"description"`
	Status      ProjectStatus `json:"status" validate:"required,oneof=planning active on-hold completed cancelled"`
	Priority    Priority      `json:"priority" validate:"required,oneof=low medium high urgent"`
	Progress    int           `json:"progress" validate:"gte=0,lte=100"`
	StartDate   time.Time     `json:"startDate"`
	EndDate     *time.Time    `json:"endDate,omitempty"`
	Deadline    *time.Time    `json:"deadline,omitempty"`
	Budget      *Budget       `json:"budget,omitempty"`
	ManagerID   string        `json:"managerId" validate:"required"`
	ClientID    string        `json:"clientId,omitempty"`
	Category    string        `json:"category"`
	Tags        []string      `json:"tags"`
	TeamMembers []TeamMember  `json:"teamMembers" validate:"dive"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

func (p *Project) Validate() error {
	if err := validator.Validate(p); err != nil {
		return err
	}
	if p.EndDate != nil && !p.StartDate.IsZero() && p.EndDate.Before(p.StartDate) {
		return errors.BadRequest("end date must not be before start date", nil)
	}
	return nil
}

// IsOverdue reports whether the deadline has passed on an unfinished project.
func (p *Project) IsOverdue(now time.Time) bool {
	if p.Deadline == nil {
		return false
	}
	if p.Status == ProjectCompleted || p.Status == ProjectCancelled {
		return false
	}
	return p.Deadline.Before(now)
}

// Matches reports whether the case-insensitive term occurs in the name,
// description or tags.
func (p *Project) Matches(term string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return true
	}
	if strings.Contains(strings.ToLower(p.Name), term) || strings.Contains(strings.ToLower(p.Description), term) {
		return true
	}
	for _, tag := range p.Tags {
		if strings.Contains(strings.ToLower(tag), term) {
			return true
		}
	}
	return false
}

// HasMember reports whether userID is on the team.
func (p *Project) HasMember(userID string) bool {
	for _, m := range p.TeamMembers {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// ProjectCodec maps projects to stored fields.
type ProjectCodec struct{}

func (ProjectCodec) Encode(p Project) (document.Fields, error) {
	f := document.Fields{
		"name":        document.String(p.Name),
		"description": document.String(p.Description),
		"status":      document.String(string(p.Status)),
		"priority":    document.String(string(p.Priority)),
		"progress":    document.Int(int64(p.Progress)),
		"startDate":   document.Timestamp(p.StartDate),
		"managerId":   document.String(p.ManagerID),
		"category":    document.String(p.Category),
		"tags":        document.Strings(p.Tags),
		"teamMembers": encodeMembers(p.TeamMembers),
	}
	setTime(f, "endDate", p.EndDate)
	setTime(f, "deadline", p.Deadline)
	setOptional(f, "clientId", p.ClientID)
	if p.Budget != nil {
		f["budget"] = encodeBudget(*p.Budget)
	}
	return f, nil
}

func (ProjectCodec) Decode(doc document.Document) (Project, error) {
	r := newReader(doc.Fields)
	p := Project{
		ID:          doc.ID,
		Name:        r.str("name"),
		Description: r.str("description"),
		Status:      ProjectStatus(r.str("status")),
		Priority:    Priority(r.str("priority")),
		Progress:    r.integer("progress"),
		StartDate:   r.time("startDate"),
		EndDate:     r.timePtr("endDate"),
		Deadline:    r.timePtr("deadline"),
		ManagerID:   r.str("managerId"),
		ClientID:    r.str("clientId"),
		Category:    r.str("category"),
		Tags:        r.strings("tags"),
		TeamMembers: []TeamMember{},
		CreatedAt:   doc.CreateTime,
		UpdatedAt:   doc.UpdateTime,
	}

	var budget Budget
	if r.object("budget", func(b *fieldReader) {
		budget = Budget{
			Estimated: b.float("estimated"),
			Actual:    b.float("actual"),
			Currency:  b.str("currency"),
		}
	}) {
		p.Budget = &budget
	}

	r.objects("teamMembers", func(m *fieldReader) {
		p.TeamMembers = append(p.TeamMembers, TeamMember{
			UserID:     m.str("userId"),
			Role:       MemberRole(m.str("role")),
			Allocation: m.integer("allocation"),
			JoinedAt:   m.time("joinedAt"),
		})
	})

	if r.err != nil {
		return Project{}, fmt.Errorf("project %s: %w", doc.ID, r.err)
	}
	return p, nil
}

func encodeBudget(b Budget) document.Value {
	return document.Map(map[string]document.Value{
		"estimated": document.Float(b.Estimated),
		"actual":    document.Float(b.Actual),
		"currency":  document.String(b.Currency),
	})
}

func encodeMembers(members []TeamMember) document.Value {
	out := make([]document.Value, len(members))
	for i, m := range members {
		out[i] = document.Map(map[string]document.Value{
			"userId":     document.String(m.UserID),
			"role":       document.String(string(m.Role)),
			"allocation": document.Int(int64(m.Allocation)),
			"joinedAt":   document.Timestamp(m.JoinedAt),
		})
	}
	return document.Array(out...)
}

// ProjectUpdate is a partial project change. Nil fields are left alone.
type ProjectUpdate struct {
	Name        *string        `json:"name" validate:"omitempty,min=1,max=200"`
	Description *string        `json:"description"`
	Status      *ProjectStatus `json:"status" validate:"omitempty,oneof=planning active on-hold completed cancelled"`
	Priority    *Priority      `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	Progress    *int           `json:"progress" validate:"omitempty,gte=0,lte=100"`
	StartDate   *time.Time     `json:"startDate"`
	EndDate     *time.Time     `json:"endDate"`
	Deadline    *time.Time     `json:"deadline"`
	Budget      *Budget        `json:"budget"`
	ManagerID   *string        `json:"managerId" validate:"omitempty,min=1"`
	ClientID    *string        `json:"clientId"`
	Category    *string        `json:"category"`
	Tags        []string       `json:"tags"`
}

func (u *ProjectUpdate) Validate() error {
	return validator.Validate(u)
}

// Fields renders the update as a document patch.
func (u *ProjectUpdate) Fields() document.Fields {
	f := document.Fields{}
	if u.Name != nil {
		f["name"] = document.String(*u.Name)
	}
	if u.Description != nil {
		f["description"] = document.String(*u.Description)
	}
	if u.Status != nil {
		f["status"] = document.String(string(*u.Status))
	}
	if u.Priority != nil {
		f["priority"] = document.String(string(*u.Priority))
	}
	if u.Progress != nil {
		f["progress"] = document.Int(int64(*u.Progress))
	}
	if u.StartDate != nil {
		f["startDate"] = document.Timestamp(*u.StartDate)
	}
	if u.EndDate != nil {
		f["endDate"] = document.Timestamp(*u.EndDate)
	}
	if u.Deadline != nil {
		f["deadline"] = document.Timestamp(*u.Deadline)
	}
	if u.Budget != nil {
		f["budget"] = encodeBudget(*u.Budget)
	}
	if u.ManagerID != nil {
		f["managerId"] = document.String(*u.ManagerID)
	}
	if u.ClientID != nil {
		f["clientId"] = optionalString(*u.ClientID)
	}
	if u.Category != nil {
		f["category"] = document.String(*u.Category)
	}
	if u.Tags != nil {
		f["tags"] = document.Strings(u.Tags)
	}
	return f
}

// MembersPatch replaces the stored team.
func MembersPatch(members []TeamMember) document.Fields {
	return document.Fields{"teamMembers": encodeMembers(members)}
}
