package dto

import (
	"time"

	"github.com/hugh/go-backoffice/internal/auth"
	"github.com/hugh/go-backoffice/internal/database/models"
)

type SignUpRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (r SignUpRequest) Validate() map[string]string {
	errors := make(map[string]string)

	if r.Email == "" {
		errors["email"] = "Email is required"
	}
	if r.Password == "" {
		errors["password"] = "Password is required"
	}

	return errors
}

type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r SignInRequest) Validate() map[string]string {
	errors := make(map[string]string)

	if r.Email == "" {
		errors["email"] = "Email is required"
	}
	if r.Password == "" {
		errors["password"] = "Password is required"
	}

	return errors
}

// EmailRequest starts an emailed flow: magic link or password reset.
type EmailRequest struct {
	Email string `json:"email"`
}

func (r EmailRequest) Validate() map[string]string {
	if r.Email == "" {
		return map[string]string{"email": "Email is required"}
	}
	return nil
}

// TokenRequest carries a raw action token from an emailed link.
type TokenRequest struct {
	Token string `json:"token"`
}

func (r TokenRequest) Validate() map[string]string {
	if r.Token == "" {
		return map[string]string{"token": "Token is required"}
	}
	return nil
}

type ResetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (r ResetPasswordRequest) Validate() map[string]string {
	errors := make(map[string]string)
	if r.Token == "" {
		errors["token"] = "Token is required"
	}
	if r.Password == "" {
		errors["password"] = "Password is required"
	}
	return errors
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (r ChangePasswordRequest) Validate() map[string]string {
	if r.NewPassword == "" {
		return map[string]string{"new_password": "New password is required"}
	}
	return nil
}

type EmailChangeRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r EmailChangeRequest) Validate() map[string]string {
	if r.Email == "" {
		return map[string]string{"email": "Email is required"}
	}
	return nil
}

// PasswordRequest confirms a destructive action.
type PasswordRequest struct {
	Password string `json:"password"`
}

type SessionResponse struct {
	Token            string    `json:"token"`
	ExpiresAt        time.Time `json:"expires_at"`
	User             UserDTO   `json:"user"`
	VerificationSent *bool     `json:"verification_sent,omitempty"`
}

func NewSessionResponse(s *auth.Session) SessionResponse {
	return SessionResponse{
		Token:     s.Token,
		ExpiresAt: s.ExpiresAt,
		User:      NewUserDTO(s.User),
	}
}

// TokenSentResponse acknowledges an emailed token without exposing it.
type TokenSentResponse struct {
	Message string            `json:"message"`
	Token   *models.SafeToken `json:"token,omitempty"`
}

type CSRFResponse struct {
	Token string `json:"csrf_token"`
}
