package models

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
	RoleOwner Role = "owner"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleOwner:
		return true
	}
	return false
}

// Provider records how an account was created and authenticates.
type Provider string

const (
	ProviderEmail     Provider = "email"
	ProviderGoogle    Provider = "google"
	ProviderApple     Provider = "apple"
	ProviderFacebook  Provider = "facebook"
	ProviderGitHub    Provider = "github"
	ProviderMicrosoft Provider = "microsoft"
	ProviderSlack     Provider = "slack"
	ProviderDiscord   Provider = "discord"
)

type User struct {
	Base
	Audit
	Email    string  `gorm:"uniqueIndex;not null" json:"email"`
	NewEmail *string `json:"new_email,omitempty"`

	PasswordHash *string `json:"-"`
	HasPassword  bool    `gorm:"default:false" json:"has_password"`

	Role             Role `gorm:"default:'user';index" json:"role"`
	HasEmailVerified bool `gorm:"default:false" json:"has_email_verified"`
	IsDisabled       bool `gorm:"default:false" json:"is_disabled"`

	FirstName   string     `json:"first_name,omitempty"`
	LastName    string     `json:"last_name,omitempty"`
	Username    *string    `gorm:"uniqueIndex" json:"username,omitempty"`
	DisplayName string     `json:"display_name,omitempty"`
	BirthDate   *time.Time `json:"birth_date,omitempty"`
	Gender      string     `json:"gender,omitempty"`
	PhoneNumber string     `json:"phone_number,omitempty"`
	PhotoID     *uuid.UUID `gorm:"type:uuid" json:"photo_id,omitempty"`

	ProviderData  Provider   `gorm:"default:'email'" json:"provider_data"`
	LastLoginDate *time.Time `json:"last_login_date,omitempty"`
}

func (User) TableName() string {
	return "users"
}

// Name returns the best human-readable name for the user.
func (u *User) Name() string {
	switch {
	case u.DisplayName != "":
		return u.DisplayName
	case u.FirstName != "" || u.LastName != "":
		if u.LastName == "" {
			return u.FirstName
		}
		if u.FirstName == "" {
			return u.LastName
		}
		return u.FirstName + " " + u.LastName
	default:
		return u.Email
	}
}
