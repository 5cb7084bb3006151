package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/hugh/go-backoffice/internal/apperr"
	"github.com/hugh/go-backoffice/internal/database/models"
	"gorm.io/gorm"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	Claims *Claims
	User   *models.User
}

// Guard resolves a session token to a Principal. The user is re-read on
// every call, so role changes and suspensions apply immediately.
type Guard struct {
	db       *gorm.DB
	jwt      *JWTService
	sessions SessionStore
}

func NewGuard(db *gorm.DB, jwt *JWTService, sessions SessionStore) *Guard {
	return &Guard{db: db, jwt: jwt, sessions: sessions}
}

// Resolve authenticates token and, when roles is non-empty, requires the
// user's current role to be one of them.
func (g *Guard) Resolve(ctx context.Context, token string, roles ...models.Role) (*Principal, error) {
	if token == "" {
		return nil, apperr.ErrUnauthorized
	}

	claims, err := g.jwt.ValidateToken(token)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnauthorized, apperr.ErrUnauthorized.Message, err)
	}

	live, err := g.sessions.Exists(ctx, claims.UserID, claims.SessionID)
	if err != nil {
		return nil, fmt.Errorf("checking session: %w", err)
	}
	if !live {
		return nil, apperr.ErrUnauthorized
	}

	var user models.User
	if err := g.db.WithContext(ctx).First(&user, "id = ?", claims.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrUnauthorized
		}
		return nil, fmt.Errorf("loading session user: %w", err)
	}
	if user.IsDisabled {
		return nil, apperr.ErrUnauthorized
	}

	if len(roles) > 0 && !hasRole(user.Role, roles) {
		return nil, apperr.ErrForbidden
	}

	return &Principal{Claims: claims, User: &user}, nil
}

func hasRole(role models.Role, allowed []models.Role) bool {
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}

type principalKey struct{}

// WithPrincipal stores p in ctx for downstream handlers.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored by WithPrincipal, or nil.
func PrincipalFrom(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}
