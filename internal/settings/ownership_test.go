package settings_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/hugh/go-backoffice/internal/apperr"
	"github.com/hugh/go-backoffice/internal/database/models"
	"github.com/hugh/go-backoffice/internal/settings"
	"github.com/hugh/go-backoffice/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reload(t *testing.T, s *testutil.Stack, id uuid.UUID) *models.User {
	t.Helper()
	var u models.User
	require.NoError(t, s.DB.First(&u, "id = ?", id).Error)
	return &u
}

func TestOwnership_Transfer(t *testing.T) {
	s := testutil.NewStack(t)
	ctx := context.Background()
	owner := s.CreateUser(t, testutil.WithRole(models.RoleOwner))
	admin := s.CreateUser(t, testutil.WithRole(models.RoleAdmin))

	err := s.Ownership.TransferOwnership(ctx, owner, "wrong", admin.ID)
	assert.True(t, errors.Is(err, apperr.ErrWrongPassword))

	require.NoError(t, s.Ownership.TransferOwnership(ctx, owner, testutil.TestPassword, admin.ID))
	assert.Equal(t, models.RoleAdmin, owner.Role)

	assert.Equal(t, models.RoleOwner, reload(t, s, admin.ID).Role)
	assert.Equal(t, models.RoleAdmin, reload(t, s, owner.ID).Role)

	ownerID, err := s.Settings.OwnerID(ctx)
	require.NoError(t, err)
	require.NotNil(t, ownerID)
	assert.Equal(t, admin.ID, *ownerID)

	var owners int64
	require.NoError(t, s.DB.Model(&models.User{}).Where("role = ?", models.RoleOwner).Count(&owners).Error)
	assert.Equal(t, int64(1), owners)
}

func TestOwnership_TransferRejections(t *testing.T) {
	s := testutil.NewStack(t)
	ctx := context.Background()
	owner := s.CreateUser(t, testutil.WithRole(models.RoleOwner))
	admin := s.CreateUser(t, testutil.WithRole(models.RoleAdmin))
	disabled := s.CreateUser(t, testutil.Disabled())

	err := s.Ownership.TransferOwnership(ctx, admin, testutil.TestPassword, owner.ID)
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	err = s.Ownership.TransferOwnership(ctx, owner, testutil.TestPassword, owner.ID)
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput))

	err = s.Ownership.TransferOwnership(ctx, owner, testutil.TestPassword, uuid.New())
	assert.True(t, errors.Is(err, apperr.ErrUserNotFound))

	err = s.Ownership.TransferOwnership(ctx, owner, testutil.TestPassword, disabled.ID)
	assert.True(t, errors.Is(err, apperr.ErrAccountDisabled))

	assert.Equal(t, models.RoleOwner, reload(t, s, owner.ID).Role)
}

func TestOwnership_StalePointerIsRejected(t *testing.T) {
	s := testutil.NewStack(t)
	ctx := context.Background()
	owner := s.CreateUser(t, testutil.WithRole(models.RoleOwner))
	other := s.CreateUser(t, testutil.WithRole(models.RoleAdmin))

	require.NoError(t, s.Settings.AssignOwner(s.DB, other.ID, nil))

	err := s.Ownership.TransferOwnership(ctx, owner, testutil.TestPassword, other.ID)
	assert.True(t, errors.Is(err, apperr.ErrForbidden))
}

func TestOwnership_Sharing(t *testing.T) {
	s := testutil.NewStack(t)
	ctx := context.Background()
	owner := s.CreateUser(t, testutil.WithRole(models.RoleOwner))
	listed := s.CreateUser(t, testutil.WithRole(models.RoleAdmin))
	unlisted := s.CreateUser(t, testutil.WithRole(models.RoleAdmin))
	user := s.CreateUser(t)

	can := func(u *models.User) bool {
		ok, err := s.Ownership.CanManage(ctx, u)
		require.NoError(t, err)
		return ok
	}

	assert.True(t, can(owner))
	assert.False(t, can(listed))
	assert.False(t, can(user))

	err := s.Ownership.UpdateSharing(ctx, owner, testutil.TestPassword, settings.Sharing{Mode: settings.ShareList, Admins: []uuid.UUID{user.ID}})
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput))

	err = s.Ownership.UpdateSharing(ctx, owner, testutil.TestPassword, settings.Sharing{Mode: "everyone"})
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput))

	err = s.Ownership.UpdateSharing(ctx, listed, testutil.TestPassword, settings.Sharing{Mode: settings.ShareAll})
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	require.NoError(t, s.Ownership.UpdateSharing(ctx, owner, testutil.TestPassword, settings.Sharing{
		Mode:   settings.ShareList,
		Admins: []uuid.UUID{listed.ID, listed.ID},
	}))
	assert.True(t, can(listed))
	assert.False(t, can(unlisted))

	sh, err := s.Ownership.Sharing(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{listed.ID}, sh.Admins)

	require.NoError(t, s.Ownership.UpdateSharing(ctx, owner, testutil.TestPassword, settings.Sharing{Mode: settings.ShareAll}))
	assert.True(t, can(unlisted))
	assert.False(t, can(user))
}
