package models

// User is the identity record behind a Principal. Organization access is
// carried entirely by Membership rows, never by a column here.
type User struct {
	Base
	Email         string `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash  string `gorm:"not null" json:"-"`
	Name          string `json:"name"`
	IsActive      bool   `gorm:"default:true" json:"is_active"`
	EmailVerified bool   `gorm:"default:false" json:"email_verified"`
}

func (User) TableName() string {
	return "users"
}
