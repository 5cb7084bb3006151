package users_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-backoffice/internal/apperr"
	"github.com/hugh/go-backoffice/internal/database/models"
	"github.com/hugh/go-backoffice/internal/files"
	"github.com/hugh/go-backoffice/internal/testutil"
	"github.com/hugh/go-backoffice/internal/tokens"
	"github.com/hugh/go-backoffice/internal/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01")

func photo() files.UploadInput {
	return files.UploadInput{
		Reader:   bytes.NewReader(pngBytes),
		Name:     "me.png",
		MimeType: "image/png",
		Size:     int64(len(pngBytes)),
	}
}

func ptr[T any](v T) *T { return &v }

func TestList(t *testing.T) {
	s := testutil.NewStack(t)
	ctx := context.Background()
	s.CreateUser(t, testutil.WithRole(models.RoleOwner), testutil.WithEmail("owner@example.com"))
	s.CreateUser(t, testutil.WithRole(models.RoleAdmin), testutil.WithEmail("admin@example.com"))
	for i := 0; i < 3; i++ {
		s.CreateUser(t)
	}

	page, err := s.Users.List(ctx, users.ListParams{Page: 1, PerPage: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(5), page.Total)
	assert.Len(t, page.Users, 2)
	assert.Equal(t, 3, page.TotalPages())

	page, err = s.Users.List(ctx, users.ListParams{Page: 3, PerPage: 2})
	require.NoError(t, err)
	assert.Len(t, page.Users, 1)

	page, err = s.Users.List(ctx, users.ListParams{Role: models.RoleAdmin})
	require.NoError(t, err)
	require.Len(t, page.Users, 1)
	assert.Equal(t, "admin@example.com", page.Users[0].Email)
	assert.Equal(t, 20, page.PerPage)

	page, err = s.Users.List(ctx, users.ListParams{Search: "OWNER"})
	require.NoError(t, err)
	require.Len(t, page.Users, 1)
	assert.Equal(t, "owner@example.com", page.Users[0].Email)

	_, err = s.Users.List(ctx, users.ListParams{Role: "superuser"})
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput))
}

func TestUpdateProfile(t *testing.T) {
	s := testutil.NewStack(t)
	ctx := context.Background()
	user := s.CreateUser(t)
	other := s.CreateUser(t)

	_, err := s.Users.UpdateProfile(ctx, other, users.ProfileInput{Username: ptr("taken")})
	require.NoError(t, err)

	_, err = s.Users.UpdateProfile(ctx, user, users.ProfileInput{Username: ptr("taken")})
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput))

	_, err = s.Users.UpdateProfile(ctx, user, users.ProfileInput{BirthDate: ptr(time.Now().Add(48 * time.Hour))})
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput))

	_, err = s.Users.UpdateProfile(ctx, user, users.ProfileInput{Username: ptr("no spaces")})
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput))

	updated, err := s.Users.UpdateProfile(ctx, user, users.ProfileInput{
		FirstName:   ptr(" Ada\x00 "),
		DisplayName: ptr("ada"),
		Username:    ptr("ada"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Ada", updated.FirstName)
	assert.Equal(t, "User", updated.LastName)
	assert.Equal(t, "ada", updated.Name())
	require.NotNil(t, updated.Username)
	assert.Equal(t, "ada", *updated.Username)
	assert.Equal(t, &user.ID, updated.UpdatedByID)
}

func TestSetRole(t *testing.T) {
	s := testutil.NewStack(t)
	ctx := context.Background()
	owner := s.CreateUser(t, testutil.WithRole(models.RoleOwner))
	admin := s.CreateUser(t, testutil.WithRole(models.RoleAdmin))
	user := s.CreateUser(t)

	_, err := s.Users.SetRole(ctx, admin, user.ID, models.RoleAdmin)
	assert.True(t, errors.Is(err, apperr.ErrForbidden), "only the owner grants admin")

	_, err = s.Users.SetRole(ctx, owner, user.ID, models.RoleOwner)
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput))

	_, err = s.Users.SetRole(ctx, owner, owner.ID, models.RoleUser)
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	_, err = s.Users.SetRole(ctx, admin, owner.ID, models.RoleUser)
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	promoted, err := s.Users.SetRole(ctx, owner, user.ID, models.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, promoted.Role)

	_, err = s.Users.SetRole(ctx, admin, user.ID, models.RoleUser)
	assert.True(t, errors.Is(err, apperr.ErrForbidden), "admins cannot demote admins")

	demoted, err := s.Users.SetRole(ctx, owner, user.ID, models.RoleUser)
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, demoted.Role)

	_, err = s.Users.SetRole(ctx, owner, uuid.New(), models.RoleUser)
	assert.True(t, errors.Is(err, apperr.ErrUserNotFound))
}

func TestSuspendAndActivate(t *testing.T) {
	s := testutil.NewStack(t)
	ctx := context.Background()
	admin := s.CreateUser(t, testutil.WithRole(models.RoleAdmin))
	user := s.CreateUser(t)
	token := s.SignIn(t, user)

	suspended, err := s.Users.Suspend(ctx, admin, user.ID)
	require.NoError(t, err)
	assert.True(t, suspended.IsDisabled)
	assert.Zero(t, s.Sessions.Count(user.ID))

	_, err = s.Guard.Resolve(ctx, token)
	assert.True(t, errors.Is(err, apperr.ErrUnauthorized))
	_, err = s.Auth.SignIn(ctx, user.Email, testutil.TestPassword)
	assert.True(t, errors.Is(err, apperr.ErrAccountDisabled))

	_, err = s.Users.Activate(ctx, admin, user.ID)
	require.NoError(t, err)
	_, err = s.Auth.SignIn(ctx, user.Email, testutil.TestPassword)
	assert.NoError(t, err)
}

func TestDelete_Cascades(t *testing.T) {
	s := testutil.NewStack(t)
	ctx := context.Background()
	owner := s.CreateUser(t, testutil.WithRole(models.RoleOwner))
	user := s.CreateUser(t, testutil.Unverified())

	_, file, err := s.Users.SetPhoto(ctx, user, photo())
	require.NoError(t, err)
	_, err = s.Tokens.Issue(ctx, tokens.IssueInput{Action: models.ActionEmailVerification, TargetID: user.ID, Recipient: user.Email})
	require.NoError(t, err)
	s.SignIn(t, user)

	require.NoError(t, s.Users.Delete(ctx, owner, user.ID))

	_, err = s.Users.Get(ctx, user.ID)
	assert.True(t, errors.Is(err, apperr.ErrUserNotFound))
	assert.False(t, s.Storage.Has(file.Key))
	assert.Zero(t, s.Sessions.Count(user.ID))

	var remaining int64
	require.NoError(t, s.DB.Model(&models.Token{}).Where("target_id = ?", user.ID).Count(&remaining).Error)
	assert.Zero(t, remaining)

	// The address is free again.
	s.CreateUser(t, testutil.WithEmail(user.Email))
}

func TestDeleteAccount(t *testing.T) {
	s := testutil.NewStack(t)
	ctx := context.Background()
	owner := s.CreateUser(t, testutil.WithRole(models.RoleOwner))
	user := s.CreateUser(t)

	err := s.Users.DeleteAccount(ctx, owner, testutil.TestPassword)
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	err = s.Users.DeleteAccount(ctx, user, "wrong-password")
	assert.True(t, errors.Is(err, apperr.ErrWrongPassword))

	require.NoError(t, s.Users.DeleteAccount(ctx, user, testutil.TestPassword))
	_, err = s.Users.Get(ctx, user.ID)
	assert.True(t, errors.Is(err, apperr.ErrUserNotFound))
}

func TestSetPhoto_ReplacesPrevious(t *testing.T) {
	s := testutil.NewStack(t)
	ctx := context.Background()
	user := s.CreateUser(t)

	_, first, err := s.Users.SetPhoto(ctx, user, photo())
	require.NoError(t, err)
	assert.Contains(t, first.Key, "users/"+user.ID.String()+"/")

	_, second, err := s.Users.SetPhoto(ctx, user, photo())
	require.NoError(t, err)
	assert.False(t, s.Storage.Has(first.Key))
	assert.True(t, s.Storage.Has(second.Key))
	require.NotNil(t, user.PhotoID)
	assert.Equal(t, second.ID, *user.PhotoID)

	require.NoError(t, s.Users.RemovePhoto(ctx, user))
	assert.Nil(t, user.PhotoID)
	assert.False(t, s.Storage.Has(second.Key))

	stored, err := s.Users.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.PhotoID)
}

func TestAudit(t *testing.T) {
	s := testutil.NewStack(t)
	ctx := context.Background()
	author := s.CreateUser(t, testutil.WithEmail("author@example.com"))
	editor := s.CreateUser(t, testutil.WithEmail("editor@example.com"))
	gone := uuid.New()

	summaries, err := s.Users.Audit(ctx,
		models.Audit{CreatedByID: &author.ID, UpdatedByID: &editor.ID},
		models.Audit{CreatedByID: &author.ID, UpdatedByID: &gone},
		models.Audit{},
	)
	require.NoError(t, err)
	assert.Len(t, summaries, 2)
	assert.Equal(t, "author@example.com", summaries[author.ID].Email)
	assert.Equal(t, "Test User", summaries[editor.ID].Name)
	assert.NotContains(t, summaries, gone)

	empty, err := s.Users.Audit(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
