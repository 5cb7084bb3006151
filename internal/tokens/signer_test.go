package tokens_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-backoffice/internal/database/models"
	"github.com/hugh/go-backoffice/internal/tokens"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSigner_RoundTrip(t *testing.T) {
	now := time.Now()
	signer := tokens.NewSigner("secret", func() time.Time { return now })
	target := uuid.New()

	raw, err := signer.Sign(models.ActionResetPassword, target, now.Add(time.Hour))
	require.NoError(t, err)

	claims, err := signer.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, models.ActionResetPassword, claims.Action)
	assert.Equal(t, target.String(), claims.Subject)
	assert.NotEmpty(t, claims.ID)

	again, err := signer.Sign(models.ActionResetPassword, target, now.Add(time.Hour))
	require.NoError(t, err)
	assert.NotEqual(t, raw, again)
}

func TestSigner_Expired(t *testing.T) {
	now := time.Now()
	clock := now
	signer := tokens.NewSigner("secret", func() time.Time { return clock })

	raw, err := signer.Sign(models.ActionMagicLink, uuid.New(), now.Add(time.Minute))
	require.NoError(t, err)

	clock = now.Add(2 * time.Minute)
	_, err = signer.Verify(raw)
	assert.Error(t, err)
}
