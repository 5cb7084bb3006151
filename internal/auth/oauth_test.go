package auth_test

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/hugh/go-backoffice/internal/apperr"
	"github.com/hugh/go-backoffice/internal/database/models"
	"github.com/hugh/go-backoffice/internal/settings"
	"github.com/hugh/go-backoffice/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOAuth_AuthCodeURL(t *testing.T) {
	s := testutil.NewOAuthStack(t, nil)

	raw, state, err := s.OAuth.AuthCodeURL(context.Background(), "google")
	require.NoError(t, err)
	assert.NotEmpty(t, state)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(u.Path, "/auth"))
	assert.Equal(t, "client-id", u.Query().Get("client_id"))
	assert.Equal(t, state, u.Query().Get("state"))
	assert.Equal(t, testutil.TestBaseURL+"/api/v1/auth/oauth/google/callback", u.Query().Get("redirect_uri"))
}

func TestOAuth_ProviderNotConfigured(t *testing.T) {
	s := testutil.NewStack(t)
	ctx := context.Background()

	_, _, err := s.OAuth.AuthCodeURL(ctx, "github")
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	_, _, err = s.OAuth.AuthCodeURL(ctx, "myspace")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestOAuth_CallbackCreatesUser(t *testing.T) {
	s := testutil.NewOAuthStack(t, map[string]interface{}{
		"email":          "New.User@Example.com",
		"email_verified": true,
		"given_name":     "New",
		"family_name":    "User",
	})
	ctx := context.Background()

	_, state, err := s.OAuth.AuthCodeURL(ctx, "google")
	require.NoError(t, err)

	session, err := s.OAuth.Callback(ctx, "google", testutil.OAuthCode, state)
	require.NoError(t, err)
	assert.NotEmpty(t, session.Token)

	user := session.User
	assert.Equal(t, "new.user@example.com", user.Email)
	assert.Equal(t, models.ProviderGoogle, user.ProviderData)
	assert.False(t, user.HasPassword)
	assert.True(t, user.HasEmailVerified)
	assert.Equal(t, "New", user.FirstName)
	assert.NotNil(t, user.LastLoginDate)

	_, err = s.Guard.Resolve(ctx, session.Token)
	assert.NoError(t, err)

	_, err = s.Auth.SignIn(ctx, user.Email, "anything")
	assert.True(t, errors.Is(err, apperr.ErrWrongAuthMethod))
}

func TestOAuth_CallbackLinksExistingUser(t *testing.T) {
	s := testutil.NewOAuthStack(t, map[string]interface{}{"email": "linked@example.com"})
	ctx := context.Background()
	existing := s.CreateUser(t, testutil.WithEmail("linked@example.com"), testutil.Unverified())

	_, state, err := s.OAuth.AuthCodeURL(ctx, "google")
	require.NoError(t, err)

	session, err := s.OAuth.Callback(ctx, "google", testutil.OAuthCode, state)
	require.NoError(t, err)
	assert.Equal(t, existing.ID, session.User.ID)
	assert.True(t, session.User.HasEmailVerified)
	assert.True(t, session.User.HasPassword)
}

func TestOAuth_CallbackRejections(t *testing.T) {
	s := testutil.NewOAuthStack(t, map[string]interface{}{"email": "blocked@example.com"})
	ctx := context.Background()
	s.CreateUser(t, testutil.WithEmail("blocked@example.com"), testutil.Disabled())

	_, state, err := s.OAuth.AuthCodeURL(ctx, "google")
	require.NoError(t, err)

	_, err = s.OAuth.Callback(ctx, "google", testutil.OAuthCode, "forged-state")
	assert.True(t, errors.Is(err, apperr.ErrInvalidToken))

	_, err = s.OAuth.Callback(ctx, "google", "bad-code", state)
	assert.True(t, errors.Is(err, apperr.ErrUnauthorized))

	_, err = s.OAuth.Callback(ctx, "google", testutil.OAuthCode, state)
	assert.True(t, errors.Is(err, apperr.ErrAccountDisabled))
}

func TestOAuth_CallbackRequiresEmail(t *testing.T) {
	s := testutil.NewOAuthStack(t, map[string]interface{}{"email": "hidden@example.com", "email_verified": false})
	ctx := context.Background()

	_, state, err := s.OAuth.AuthCodeURL(ctx, "google")
	require.NoError(t, err)

	_, err = s.OAuth.Callback(ctx, "google", testutil.OAuthCode, state)
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput))
}

func TestOAuth_CallbackRespectsSignUpToggle(t *testing.T) {
	s := testutil.NewOAuthStack(t, map[string]interface{}{"email": "fresh@example.com"})
	ctx := context.Background()
	setBool(t, s, settings.SignUpEnabled, false)

	_, state, err := s.OAuth.AuthCodeURL(ctx, "google")
	require.NoError(t, err)

	_, err = s.OAuth.Callback(ctx, "google", testutil.OAuthCode, state)
	assert.True(t, errors.Is(err, apperr.ErrForbidden))
}
