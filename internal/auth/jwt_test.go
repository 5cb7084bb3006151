package auth_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-backoffice/internal/auth"
	"github.com/hugh/go-backoffice/internal/database/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClaimsUser(role models.Role) *models.User {
	return &models.User{
		Base:  models.Base{ID: uuid.New()},
		Email: "test@example.com",
		Role:  role,
	}
}

func TestJWTService_GenerateToken(t *testing.T) {
	jwtService := auth.NewJWTService("test-secret", 24*time.Hour)
	user := newClaimsUser(models.RoleOwner)

	t.Run("generates valid token", func(t *testing.T) {
		token, err := jwtService.GenerateToken(user, "sid-1")
		require.NoError(t, err)
		assert.NotEmpty(t, token)

		claims, err := jwtService.ValidateToken(token)
		require.NoError(t, err)
		assert.Equal(t, user.ID, claims.UserID)
		assert.Equal(t, "sid-1", claims.SessionID)
		assert.Equal(t, user.Email, claims.Email)
		assert.Equal(t, models.RoleOwner, claims.Role)
	})

	t.Run("token contains issuer and subject", func(t *testing.T) {
		token, err := jwtService.GenerateToken(user, "sid-2")
		require.NoError(t, err)

		claims, err := jwtService.ValidateToken(token)
		require.NoError(t, err)
		assert.Equal(t, "go-backoffice", claims.Issuer)
		assert.Equal(t, user.ID.String(), claims.Subject)
	})
}

func TestJWTService_ValidateToken(t *testing.T) {
	user := newClaimsUser(models.RoleAdmin)

	t.Run("rejects expired token", func(t *testing.T) {
		jwtService := auth.NewJWTService("test-secret", -time.Minute)

		token, err := jwtService.GenerateToken(user, "sid")
		require.NoError(t, err)

		_, err = jwtService.ValidateToken(token)
		assert.Equal(t, auth.ErrExpiredToken, err)
	})

	t.Run("rejects tampered token", func(t *testing.T) {
		jwtService := auth.NewJWTService("test-secret", 24*time.Hour)

		token, err := jwtService.GenerateToken(user, "sid")
		require.NoError(t, err)

		_, err = jwtService.ValidateToken(token + "tampered")
		assert.Equal(t, auth.ErrInvalidToken, err)
	})

	t.Run("rejects token signed with different secret", func(t *testing.T) {
		token, err := auth.NewJWTService("secret-1", time.Hour).GenerateToken(user, "sid")
		require.NoError(t, err)

		_, err = auth.NewJWTService("secret-2", time.Hour).ValidateToken(token)
		assert.Equal(t, auth.ErrInvalidToken, err)
	})

	t.Run("rejects malformed and empty tokens", func(t *testing.T) {
		jwtService := auth.NewJWTService("test-secret", time.Hour)

		_, err := jwtService.ValidateToken("not-a-valid-jwt")
		assert.Equal(t, auth.ErrInvalidToken, err)

		_, err = jwtService.ValidateToken("")
		assert.Equal(t, auth.ErrInvalidToken, err)
	})
}

func TestPassword_HashAndCheck(t *testing.T) {
	hash, err := auth.HashPassword("Abcdefgh1!")
	require.NoError(t, err)

	assert.True(t, auth.CheckPassword("Abcdefgh1!", hash))
	assert.False(t, auth.CheckPassword("abcdefgh1!", hash))
	assert.Contains(t, hash, "$12$")
}
