package auth

import (
	"context"

	"github.com/google/uuid"
	"github.com/hugh/go-backoffice/internal/database/models"
	"github.com/hugh/go-backoffice/internal/settings"
)

// Authenticator defines the password and session operations.
type Authenticator interface {
	SignUp(ctx context.Context, input SignUpInput) (*Session, error)
	SignIn(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context, p *Principal) error
	Refresh(ctx context.Context, p *Principal) (*Session, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// TokenService defines the interface for session token operations.
type TokenService interface {
	GenerateToken(user *models.User, sessionID string) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
}

// Compile-time interface satisfaction checks
var (
	_ Authenticator              = (*Service)(nil)
	_ TokenService               = (*JWTService)(nil)
	_ settings.PasswordConfirmer = (*Service)(nil)
	_ SessionStore               = (*RedisSessionStore)(nil)
	_ SessionStore               = (*MemorySessionStore)(nil)
)
