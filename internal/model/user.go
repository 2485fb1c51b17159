package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/jwalitptl/projecthub/internal/document"
	"github.com/jwalitptl/projecthub/pkg/validator"
)

// UsersCollection is the collection users are stored in.
const UsersCollection = "users"

type UserRole string

// User role constants
const (
	RoleAdmin     UserRole = "admin"
	RoleManager   UserRole = "manager"
	RoleDeveloper UserRole = "developer"
	RoleDesigner  UserRole = "designer"
	RoleClient    UserRole = "client"
	RoleViewer    UserRole = "viewer"
)

type UserStatus string

// User status constants
const (
	UserStatusActive   UserStatus = "active"
	UserStatusInactive UserStatus = "inactive"
	UserStatusPending  UserStatus = "pending"
)

// User represents a team member account
type User struct {
	ID         string     `json:"id"`
	Name       string     `json:"name" validate:"required,max=200"`
	Email      string     `json:"email" validate:"required,email"`
	Role       UserRole   `json:"role" validate:"required,oneof=admin manager developer designer client viewer"`
	Department string     `json:"department"`
	Position   string     `json:"position"`
	Status     UserStatus `json:"status" validate:"required,oneof=active inactive pending"`
	Skills     []string   `json:"skills"`
	TeamIDs    []string   `json:"teamIds"`
	LastLogin  *time.Time `json:"lastLogin,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

func (u *User) Validate() error {
	return validator.Validate(u)
}

// NormalizeEmail lowercases and trims an address so uniqueness checks are
// case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// UserCodec maps users to stored fields.
type UserCodec struct{}

func (UserCodec) Encode(u User) (document.Fields, error) {
	f := document.Fields{
		"name":       document.String(u.Name),
		"email":      document.String(NormalizeEmail(u.Email)),
		"role":       document.String(string(u.Role)),
		"department": document.String(u.Department),
		"position":   document.String(u.Position),
		"status":     document.String(string(u.Status)),
		"skills":     document.Strings(u.Skills),
		"teamIds":    document.Strings(u.TeamIDs),
	}
	setTime(f, "lastLogin", u.LastLogin)
	return f, nil
}

func (UserCodec) Decode(doc document.Document) (User, error) {
	r := newReader(doc.Fields)
	u := User{
		ID:         doc.ID,
		Name:       r.str("name"),
		Email:      r.str("email"),
		Role:       UserRole(r.str("role")),
		Department: r.str("department"),
		Position:   r.str("position"),
		Status:     UserStatus(r.str("status")),
		Skills:     r.strings("skills"),
		TeamIDs:    r.strings("teamIds"),
		LastLogin:  r.timePtr("lastLogin"),
		CreatedAt:  doc.CreateTime,
		UpdatedAt:  doc.UpdateTime,
	}
	if r.err != nil {
		return User{}, fmt.Errorf("user %s: %w", doc.ID, r.err)
	}
	return u, nil
}

// UserUpdate is a partial user change. Nil fields are left alone.
type UserUpdate struct {
	Name       *string     `json:"name" validate:"omitempty,min=1,max=200"`
	Email      *string     `json:"email" validate:"omitempty,email"`
	Role       *UserRole   `json:"role" validate:"omitempty,oneof=admin manager developer designer client viewer"`
	Department *string     `json:"department"`
	Position   *string     `json:"position"`
	Status     *UserStatus `json:"status" validate:"omitempty,oneof=active inactive pending"`
	Skills     []string    `json:"skills"`
	TeamIDs    []string    `json:"teamIds"`
	LastLogin  *time.Time  `json:"lastLogin"`
}

func (u *UserUpdate) Validate() error {
	return validator.Validate(u)
}

func (u *UserUpdate) Fields() document.Fields {
	f := document.Fields{}
	if u.Name != nil {
		f["name"] = document.String(*u.Name)
	}
	if u.Email != nil {
		f["email"] = document.String(NormalizeEmail(*u.Email))
	}
	if u.Role != nil {
		f["role"] = document.String(string(*u.Role))
	}
	if u.Department != nil {
		f["department"] = document.String(*u.Department)
	}
	if u.Position != nil {
		f["position"] = document.String(*u.Position)
	}
	if u.Status != nil {
		f["status"] = document.String(string(*u.Status))
	}
	if u.Skills != nil {
		f["skills"] = document.Strings(u.Skills)
	}
	if u.TeamIDs != nil {
		f["teamIds"] = document.Strings(u.TeamIDs)
	}
	if u.LastLogin != nil {
		f["lastLogin"] = document.Timestamp(*u.LastLogin)
	}
	return f
}
