package models

import (
	"time"

	"github.com/google/uuid"
)

// Invitation is a pending offer of membership. Accepting it creates the
// Membership row with the invited role; expired invitations are swept by the
// worker.
type Invitation struct {
	Base
	OrganizationID uuid.UUID  `gorm:"type:uuid;index;not null" json:"organization_id"`
	Email          string     `gorm:"index;not null" json:"email"`
	Role           Role       `gorm:"not null;default:'member'" json:"role"`
	Token          string     `gorm:"uniqueIndex;not null" json:"-"`
	ExpiresAt      time.Time  `gorm:"not null" json:"expires_at"`
	AcceptedAt     *time.Time `json:"accepted_at,omitempty"`

	Organization *Organization `gorm:"foreignKey:OrganizationID" json:"organization,omitempty"`
}

func (Invitation) TableName() string {
	return "invitations"
}

// Expired reports whether the invitation can no longer be accepted.
func (i *Invitation) Expired(now time.Time) bool {
	return i.AcceptedAt == nil && now.After(i.ExpiresAt)
}
