package dto

import (
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-backoffice/internal/database/models"
	"github.com/hugh/go-backoffice/internal/users"
)

// UserDTO is the client view of a user.
type UserDTO struct {
	ID               uuid.UUID       `json:"id"`
	Email            string          `json:"email"`
	NewEmail         *string         `json:"new_email,omitempty"`
	Name             string          `json:"name"`
	Role             models.Role     `json:"role"`
	HasPassword      bool            `json:"has_password"`
	HasEmailVerified bool            `json:"has_email_verified"`
	IsDisabled       bool            `json:"is_disabled"`
	FirstName        string          `json:"first_name,omitempty"`
	LastName         string          `json:"last_name,omitempty"`
	Username         *string         `json:"username,omitempty"`
	DisplayName      string          `json:"display_name,omitempty"`
	BirthDate        *time.Time      `json:"birth_date,omitempty"`
	Gender           string          `json:"gender,omitempty"`
	PhoneNumber      string          `json:"phone_number,omitempty"`
	PhotoID          *uuid.UUID      `json:"photo_id,omitempty"`
	Photo            *models.File    `json:"photo,omitempty"`
	Provider         models.Provider `json:"provider"`
	LastLoginDate    *time.Time      `json:"last_login_date,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	CreatedBy        *users.Summary  `json:"created_by,omitempty"`
	UpdatedBy        *users.Summary  `json:"updated_by,omitempty"`
}

func NewUserDTO(u *models.User) UserDTO {
	return UserDTO{
		ID:               u.ID,
		Email:            u.Email,
		NewEmail:         u.NewEmail,
		Name:             u.Name(),
		Role:             u.Role,
		HasPassword:      u.HasPassword,
		HasEmailVerified: u.HasEmailVerified,
		IsDisabled:       u.IsDisabled,
		FirstName:        u.FirstName,
		LastName:         u.LastName,
		Username:         u.Username,
		DisplayName:      u.DisplayName,
		BirthDate:        u.BirthDate,
		Gender:           u.Gender,
		PhoneNumber:      u.PhoneNumber,
		PhotoID:          u.PhotoID,
		Provider:         u.ProviderData,
		LastLoginDate:    u.LastLoginDate,
		CreatedAt:        u.CreatedAt,
		UpdatedAt:        u.UpdatedAt,
	}
}

// WithAudit fills CreatedBy and UpdatedBy from resolved summaries.
func (d UserDTO) WithAudit(a models.Audit, summaries map[uuid.UUID]users.Summary) UserDTO {
	d.CreatedBy = lookupSummary(a.CreatedByID, summaries)
	d.UpdatedBy = lookupSummary(a.UpdatedByID, summaries)
	return d
}

func lookupSummary(id *uuid.UUID, summaries map[uuid.UUID]users.Summary) *users.Summary {
	if id == nil {
		return nil
	}
	if s, ok := summaries[*id]; ok {
		return &s
	}
	return nil
}

type ProfileRequest struct {
	FirstName   *string    `json:"first_name"`
	LastName    *string    `json:"last_name"`
	DisplayName *string    `json:"display_name"`
	Username    *string    `json:"username"`
	BirthDate   *time.Time `json:"birth_date"`
	Gender      *string    `json:"gender"`
	PhoneNumber *string    `json:"phone_number"`
}

func (r ProfileRequest) Input() users.ProfileInput {
	return users.ProfileInput{
		FirstName:   r.FirstName,
		LastName:    r.LastName,
		DisplayName: r.DisplayName,
		Username:    r.Username,
		BirthDate:   r.BirthDate,
		Gender:      r.Gender,
		PhoneNumber: r.PhoneNumber,
	}
}

type RoleRequest struct {
	Role models.Role `json:"role"`
}

func (r RoleRequest) Validate() map[string]string {
	if r.Role == "" {
		return map[string]string{"role": "Role is required"}
	}
	return nil
}
