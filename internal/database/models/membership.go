package models

import (
	"time"

	"github.com/google/uuid"
)

// Role is the privilege a principal holds within one organization,
// ordered owner > admin > member > viewer.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleViewer Role = "viewer"
	RoleNone   Role = "" // no membership
)

var roleLevels = map[Role]int{
	RoleOwner:  4,
	RoleAdmin:  3,
	RoleMember: 2,
	RoleViewer: 1,
}

// Level returns the numeric privilege rank; unrecognized roles rank 0.
func (r Role) Level() int {
	return roleLevels[r]
}

// AtLeast reports whether r holds at least the privilege of other.
func (r Role) AtLeast(other Role) bool {
	return r.Level() >= other.Level()
}

// Valid reports whether r is one of the recognized roles.
func (r Role) Valid() bool {
	return r.Level() > 0
}

// ParseRole returns the typed role for s, or RoleNone if unrecognized.
func ParseRole(s string) Role {
	r := Role(s)
	if r.Valid() {
		return r
	}
	return RoleNone
}

// Membership grants one principal one role in one organization. The composite
// primary key makes duplicate grants a constraint violation, not an overwrite.
type Membership struct {
	OrganizationID uuid.UUID `gorm:"type:uuid;primaryKey" json:"organization_id"`
	PrincipalID    uuid.UUID `gorm:"type:uuid;primaryKey" json:"principal_id"`
	Role           Role      `gorm:"not null;default:'member'" json:"role"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	Organization *Organization `gorm:"foreignKey:OrganizationID" json:"organization,omitempty"`
}

func (Membership) TableName() string {
	return "memberships"
}
